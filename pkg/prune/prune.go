// Package prune selects and removes stored objects past their retention
// window, plus byte-identical duplicates. Selection is a pure function over
// reference metadata: no key material, no decryption, no backend round
// trips. Execution folds per-item deletions into a best-effort result.
package prune

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/amach-health/cumdach/pkg/healthdata"
	"github.com/amach-health/cumdach/pkg/vault"
)

// Reason explains why an object was selected.
type Reason string

const (
	// ReasonDuplicate marks an older copy of content a newer object in the
	// same partition already carries.
	ReasonDuplicate Reason = "duplicate"

	// ReasonStale marks an object older than the retention window.
	ReasonStale Reason = "stale"
)

// Policy bounds a pruning run. MaxAge at or below zero disables staleness;
// duplicates are pruned regardless.
type Policy struct {
	MaxAge time.Duration
	Now    func() time.Time
}

// Candidate pairs a prunable reference with the reason it was selected.
type Candidate struct {
	Reference vault.Reference
	Reason    Reason
}

// DeleteFunc removes the object a URI names.
type DeleteFunc func(ctx context.Context, uri string) error

// ItemError records one failed deletion.
type ItemError struct {
	URI string
	Err error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("%s: %v", e.URI, e.Err)
}

// Result accounts for one pruning run.
type Result struct {
	RunID             string
	StartedAt         time.Time
	FinishedAt        time.Time
	Scanned           int
	Deleted           int
	DuplicatesRemoved int
	StaleRemoved      int
	BytesFreed        int64
	Errors            []ItemError
}

// Summary renders the run for direct CLI display.
func (r Result) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "scanned %d, deleted %d (%d duplicates, %d stale), freed %s",
		r.Scanned, r.Deleted, r.DuplicatesRemoved, r.StaleRemoved, humanize.Bytes(uint64(r.BytesFreed)))
	if len(r.Errors) > 0 {
		fmt.Fprintf(&b, ", %d failed", len(r.Errors))
	}

	return b.String()
}

type partitionKey struct {
	owner    string
	dataType healthdata.DataType
}

// SelectCandidates partitions refs by (owner, data type) and picks what to
// remove within each partition independently:
//
//   - the newest object is always retained, so a partition never empties
//   - durable objects are always retained
//   - older copies of content a retained or newer object already carries
//     are duplicates
//   - anything else older than the policy window is stale
//
// Pure metadata work; safe to call on references the caller cannot decrypt.
func SelectCandidates(refs []vault.Reference, policy Policy) []Candidate {
	now := time.Now
	if policy.Now != nil {
		now = policy.Now
	}

	var cutoff time.Time
	if policy.MaxAge > 0 {
		cutoff = now().Add(-policy.MaxAge)
	}

	partitions := make(map[partitionKey][]vault.Reference)
	var order []partitionKey
	for _, ref := range refs {
		k := partitionKey{owner: ref.Owner, dataType: ref.DataType}
		if _, ok := partitions[k]; !ok {
			order = append(order, k)
		}
		partitions[k] = append(partitions[k], ref)
	}

	var candidates []Candidate
	for _, k := range order {
		candidates = append(candidates, partitionCandidates(partitions[k], cutoff)...)
	}

	return candidates
}

func partitionCandidates(refs []vault.Reference, cutoff time.Time) []Candidate {
	sorted := slices.Clone(refs)
	slices.SortFunc(sorted, func(a, b vault.Reference) int {
		return b.UploadedAt.Compare(a.UploadedAt)
	})

	var candidates []Candidate
	seen := make(map[string]bool, len(sorted))

	for i, ref := range sorted {
		if ref.Durable || i == 0 {
			if ref.ContentHash != "" {
				seen[ref.ContentHash] = true
			}
			continue
		}

		if ref.ContentHash != "" && seen[ref.ContentHash] {
			candidates = append(candidates, Candidate{Reference: ref, Reason: ReasonDuplicate})
			continue
		}
		if ref.ContentHash != "" {
			seen[ref.ContentHash] = true
		}

		if !cutoff.IsZero() && ref.UploadedAt.Before(cutoff) {
			candidates = append(candidates, Candidate{Reference: ref, Reason: ReasonStale})
		}
	}

	return candidates
}

// Execute deletes each candidate through deleteFn. Failures are collected,
// never escalated: one unreachable object must not abort the rest of the
// run. Context cancellation stops between items and the partial result is
// returned.
func Execute(ctx context.Context, candidates []Candidate, deleteFn DeleteFunc) Result {
	result := Result{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}

	for _, candidate := range candidates {
		if ctx.Err() != nil {
			break
		}

		if err := deleteFn(ctx, candidate.Reference.URI); err != nil {
			result.Errors = append(result.Errors, ItemError{URI: candidate.Reference.URI, Err: err})
			continue
		}

		result.Deleted++
		result.BytesFreed += candidate.Reference.Size
		switch candidate.Reason {
		case ReasonDuplicate:
			result.DuplicatesRemoved++
		case ReasonStale:
			result.StaleRemoved++
		}
	}

	result.FinishedAt = time.Now().UTC()

	return result
}

// Run selects against policy and executes in one pass, stamping the scanned
// count into the result.
func Run(ctx context.Context, refs []vault.Reference, policy Policy, deleteFn DeleteFunc) Result {
	result := Execute(ctx, SelectCandidates(refs, policy), deleteFn)
	result.Scanned = len(refs)

	return result
}
