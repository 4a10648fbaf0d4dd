// Package fingerprint summarizes a dataset's shape cheaply enough to decide
// cache validity without hashing record payloads. Two fingerprints agree
// exactly when the summarized shape agrees; byte-level content never enters
// the comparison.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"time"

	"github.com/amach-health/cumdach/pkg/healthdata"
)

// fingerprintVersion is folded into the hash so a future summary change
// invalidates every cached artifact at once.
const fingerprintVersion = "cumdach/fingerprint/v1"

// CategorySummary is the per-category slice of a fingerprint: how many
// records a category has and when the newest one was recorded.
type CategorySummary struct {
	Count  int       `json:"count"`
	Latest time.Time `json:"latest"`
}

// Fingerprint is the structural summary of one dataset.
type Fingerprint struct {
	Hash       string                                  `json:"hash"`
	Categories []healthdata.Category                   `json:"categories"`
	Summary    map[healthdata.Category]CategorySummary `json:"summary"`
	Total      int                                     `json:"total"`
	Earliest   time.Time                               `json:"earliest"`
	Latest     time.Time                               `json:"latest"`
	ComputedAt time.Time                               `json:"computed_at"`
}

// Compute summarizes ds in a single pass over its records: per-category
// count and latest timestamp, overall span, and a hash over the canonical
// serialization of that summary. Cost is O(categories + records).
func Compute(ds healthdata.Dataset) Fingerprint {
	summary := make(map[healthdata.Category]CategorySummary, 8)

	var earliest, latest time.Time
	for _, r := range ds.Records {
		s := summary[r.Category]
		s.Count++
		if r.Timestamp.After(s.Latest) {
			s.Latest = r.Timestamp
		}
		summary[r.Category] = s

		if earliest.IsZero() || r.Timestamp.Before(earliest) {
			earliest = r.Timestamp
		}
		if r.Timestamp.After(latest) {
			latest = r.Timestamp
		}
	}

	categories := make([]healthdata.Category, 0, len(summary))
	for category := range summary {
		categories = append(categories, category)
	}
	slices.Sort(categories)

	h := sha256.New()
	fmt.Fprintf(h, "%s|total=%d\n", fingerprintVersion, len(ds.Records))
	for _, category := range categories {
		s := summary[category]
		fmt.Fprintf(h, "%s|count=%d|latest=%d\n", category, s.Count, s.Latest.UTC().UnixNano())
	}

	return Fingerprint{
		Hash:       hex.EncodeToString(h.Sum(nil)),
		Categories: categories,
		Summary:    summary,
		Total:      len(ds.Records),
		Earliest:   earliest,
		Latest:     latest,
		ComputedAt: time.Now().UTC(),
	}
}

// Equal reports whether two fingerprints describe the same dataset shape.
// The hash alone would do; comparing the category set and counts as well
// keeps a corrupted or hand-built summary from slipping through.
func (f Fingerprint) Equal(other Fingerprint) bool {
	if f.Hash != other.Hash {
		return false
	}

	if !slices.Equal(f.Categories, other.Categories) {
		return false
	}

	for _, category := range f.Categories {
		if f.Summary[category].Count != other.Summary[category].Count {
			return false
		}
	}

	return true
}
