package fingerprint_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/amach-health/cumdach/pkg/fingerprint"
	"github.com/amach-health/cumdach/pkg/healthdata"
)

func sampleDataset(base time.Time) healthdata.Dataset {
	return healthdata.Dataset{Records: []healthdata.Record{
		{Category: healthdata.CategoryHeartRate, Timestamp: base, Value: 62, Unit: "bpm"},
		{Category: healthdata.CategoryHeartRate, Timestamp: base.Add(time.Hour), Value: 71, Unit: "bpm"},
		{Category: healthdata.CategorySteps, Timestamp: base.Add(30 * time.Minute), Value: 950, Unit: "count"},
	}}
}

var _ = Describe("Compute", func() {
	var base time.Time

	BeforeEach(func() {
		base = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	})

	It("is stable for an unchanged dataset", func() {
		first := fingerprint.Compute(sampleDataset(base))
		second := fingerprint.Compute(sampleDataset(base))

		Expect(second.Hash).To(Equal(first.Hash))
		Expect(second.Equal(first)).To(BeTrue())
	})

	It("changes when a record is added to any category", func() {
		before := fingerprint.Compute(sampleDataset(base))

		grown := sampleDataset(base)
		grown.Records = append(grown.Records, healthdata.Record{
			Category:  healthdata.CategorySteps,
			Timestamp: base.Add(2 * time.Hour),
			Value:     1200,
			Unit:      "count",
		})
		after := fingerprint.Compute(grown)

		Expect(after.Hash).NotTo(Equal(before.Hash))
		Expect(after.Equal(before)).To(BeFalse())
	})

	It("changes when a new category appears", func() {
		before := fingerprint.Compute(sampleDataset(base))

		grown := sampleDataset(base)
		grown.Records = append(grown.Records, healthdata.Record{
			Category:  healthdata.CategorySleep,
			Timestamp: base,
			Value:     7.5,
			Unit:      "h",
		})
		after := fingerprint.Compute(grown)

		Expect(after.Hash).NotTo(Equal(before.Hash))
		Expect(after.Categories).To(HaveLen(3))
	})

	It("is insensitive to record order", func() {
		ds := sampleDataset(base)
		reordered := healthdata.Dataset{Records: []healthdata.Record{
			ds.Records[2], ds.Records[0], ds.Records[1],
		}}

		Expect(fingerprint.Compute(reordered).Hash).To(Equal(fingerprint.Compute(ds).Hash))
	})

	It("summarizes counts, span, and sorted categories", func() {
		fp := fingerprint.Compute(sampleDataset(base))

		Expect(fp.Total).To(Equal(3))
		Expect(fp.Categories).To(Equal([]healthdata.Category{
			healthdata.CategoryHeartRate,
			healthdata.CategorySteps,
		}))
		Expect(fp.Summary[healthdata.CategoryHeartRate].Count).To(Equal(2))
		Expect(fp.Summary[healthdata.CategoryHeartRate].Latest).To(Equal(base.Add(time.Hour)))
		Expect(fp.Earliest).To(Equal(base))
		Expect(fp.Latest).To(Equal(base.Add(time.Hour)))
		Expect(fp.ComputedAt.IsZero()).To(BeFalse())
	})

	It("handles the empty dataset", func() {
		fp := fingerprint.Compute(healthdata.Dataset{})

		Expect(fp.Total).To(BeZero())
		Expect(fp.Categories).To(BeEmpty())
		Expect(fp.Hash).NotTo(BeEmpty())
		Expect(fp.Equal(fingerprint.Compute(healthdata.Dataset{}))).To(BeTrue())
	})
})

var _ = Describe("Equal", func() {
	It("rejects a summary whose category set disagrees with its hash", func() {
		base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
		fp := fingerprint.Compute(sampleDataset(base))

		forged := fp
		forged.Categories = []healthdata.Category{healthdata.CategoryHeartRate}

		Expect(fp.Equal(forged)).To(BeFalse())
	})

	It("rejects a summary whose counts disagree", func() {
		base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
		fp := fingerprint.Compute(sampleDataset(base))

		forged := fp
		forged.Summary = map[healthdata.Category]fingerprint.CategorySummary{
			healthdata.CategoryHeartRate: {Count: 99},
			healthdata.CategorySteps:     fp.Summary[healthdata.CategorySteps],
		}

		Expect(fp.Equal(forged)).To(BeFalse())
	})
})
