// Package healthdata defines the category vocabulary and record shapes shared
// by the tagging, fingerprinting, and storage layers. Categories name what a
// record measures; data types name how a stored blob was produced.
package healthdata

import (
	"time"
)

// Category names a kind of health measurement. The well-known categories
// below cover the common device exports, but the type is an open set: any
// non-empty string is a valid custom category.
type Category string

const (
	CategoryHeartRate        Category = "heart-rate"
	CategorySteps            Category = "steps"
	CategorySleep            Category = "sleep"
	CategoryWorkout          Category = "workout"
	CategoryBloodGlucose     Category = "blood-glucose"
	CategoryBloodPressure    Category = "blood-pressure"
	CategoryOxygenSaturation Category = "oxygen-saturation"
	CategoryBodyMass         Category = "body-mass"
	CategoryMindfulness      Category = "mindfulness"
)

// knownCategories is the closed set of categories this package ships names
// for. Custom categories are allowed everywhere a Category is accepted.
var knownCategories = map[Category]struct{}{
	CategoryHeartRate:        {},
	CategorySteps:            {},
	CategorySleep:            {},
	CategoryWorkout:          {},
	CategoryBloodGlucose:     {},
	CategoryBloodPressure:    {},
	CategoryOxygenSaturation: {},
	CategoryBodyMass:         {},
	CategoryMindfulness:      {},
}

// KnownCategories returns the built-in categories in declaration order.
func KnownCategories() []Category {
	return []Category{
		CategoryHeartRate,
		CategorySteps,
		CategorySleep,
		CategoryWorkout,
		CategoryBloodGlucose,
		CategoryBloodPressure,
		CategoryOxygenSaturation,
		CategoryBodyMass,
		CategoryMindfulness,
	}
}

// Known reports whether c is one of the built-in categories.
func (c Category) Known() bool {
	_, ok := knownCategories[c]
	return ok
}

// Valid reports whether c can be used at all. Only the empty string is
// rejected; custom categories are fine.
func (c Category) Valid() bool {
	return c != ""
}

// String returns the category name.
func (c Category) String() string {
	return string(c)
}

// DataType labels how a stored blob was produced. It partitions stored
// objects for listing and pruning; it is not secret.
type DataType string

const (
	// DataTypeAppleHealth marks raw device exports.
	DataTypeAppleHealth DataType = "apple-health"

	// DataTypeInsight marks derived analysis results.
	DataTypeInsight DataType = "insight"

	// DataTypeAggregateSnapshot marks periodic aggregates, which are stored
	// durable and exempt from pruning.
	DataTypeAggregateSnapshot DataType = "aggregate-snapshot"
)

// Valid reports whether t is usable as a data type label.
func (t DataType) Valid() bool {
	return t != ""
}

// String returns the data type label.
func (t DataType) String() string {
	return string(t)
}

// Record is one health measurement.
type Record struct {
	Category  Category
	Timestamp time.Time
	Value     float64
	Unit      string
}

// Dataset is an in-memory collection of records, the unit over which
// fingerprints are computed.
type Dataset struct {
	Records []Record
}

// Len returns the number of records in the dataset.
func (d Dataset) Len() int {
	return len(d.Records)
}

// Categories returns the distinct categories present in the dataset, in
// first-seen order.
func (d Dataset) Categories() []Category {
	seen := make(map[Category]struct{}, len(d.Records))
	var out []Category
	for _, r := range d.Records {
		if _, ok := seen[r.Category]; ok {
			continue
		}
		seen[r.Category] = struct{}{}
		out = append(out, r.Category)
	}
	return out
}

// CountByCategory returns the number of records per category.
func (d Dataset) CountByCategory() map[Category]int {
	counts := make(map[Category]int, len(d.Records))
	for _, r := range d.Records {
		counts[r.Category]++
	}
	return counts
}

// Span returns the earliest and latest record timestamps. The zero time is
// returned for both when the dataset is empty.
func (d Dataset) Span() (earliest, latest time.Time) {
	for _, r := range d.Records {
		if earliest.IsZero() || r.Timestamp.Before(earliest) {
			earliest = r.Timestamp
		}
		if latest.IsZero() || r.Timestamp.After(latest) {
			latest = r.Timestamp
		}
	}
	return earliest, latest
}
