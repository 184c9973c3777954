// Package rolloutexecutor owns the "rolling" state: building the
// ordered batch plan for a target revision, deleting pods batch by
// batch, waiting for each batch to converge, detecting supersession
// between batches, and finalizing the annotation state once the
// StatefulSet's pods all report the target revision.
//
// Grounded on the teacher's internal/rollout/data_plane.go WorkItem
// queue shape (ordered work items built once, then walked batch by
// batch with progress recorded after each).
package rolloutexecutor

import (
	"sort"

	"rollout-operator/internal/podselector"
)

// Range names the half of the StatefulSet a batch belongs to.
type Range string

const (
	RangeLower Range = "lower"
	RangeUpper Range = "upper"
	RangeAll   Range = "all"
)

// Batch is one group of ordinals to delete together and wait on before
// moving to the next.
type Batch struct {
	Range      Range
	Index      int // 1-based within its range
	Total      int // batches in this range
	Ordinals   []int
}

// WorkItemDryRun is the YAML-serializable preview of one batch, named
// to echo the teacher's WorkItemDryRun shape for a rollout work queue
// entry.
type WorkItemDryRun struct {
	Range    string `yaml:"range"`
	Index    int    `yaml:"index"`
	Total    int    `yaml:"total"`
	Ordinals []int  `yaml:"ordinals"`
}

// Plan is the full ordered batch queue for one target revision.
type Plan struct {
	TargetRevision string
	Replicas       int32
	MaxUnavailable int
	HalfSplit      bool
	Batches        []Batch
}

// BuildPlan computes the ordered batch queue for the given set of
// outdated ordinals, per SPEC_FULL.md §4.2: when half-split is
// enabled, the upper half is rolled first, then the lower half; each
// half is chunked into batches of at most maxUnavailable. When
// half-split is disabled, all outdated ordinals form a single range
// batched the same way.
func BuildPlan(outdated []int, replicas int32, maxUnavailable int, halfSplit bool, targetRevision string) Plan {
	plan := Plan{
		TargetRevision: targetRevision,
		Replicas:       replicas,
		MaxUnavailable: maxUnavailable,
		HalfSplit:      halfSplit,
	}

	if !halfSplit {
		plan.Batches = rangeBatches(RangeAll, outdated, maxUnavailable)
		return plan
	}

	lower, upper := podselector.SplitHalves(outdated, int(replicas))
	plan.Batches = append(plan.Batches, rangeBatches(RangeUpper, upper, maxUnavailable)...)
	plan.Batches = append(plan.Batches, rangeBatches(RangeLower, lower, maxUnavailable)...)
	return plan
}

func rangeBatches(r Range, ordinals []int, size int) []Batch {
	chunks := podselector.Batch(ordinals, size)
	batches := make([]Batch, 0, len(chunks))
	for i, c := range chunks {
		batches = append(batches, Batch{Range: r, Index: i + 1, Total: len(chunks), Ordinals: c})
	}
	return batches
}

// DryRunPreview converts a Plan into the YAML-serializable form the
// dry-run log carries.
func DryRunPreview(p Plan) []WorkItemDryRun {
	out := make([]WorkItemDryRun, 0, len(p.Batches))
	for _, b := range p.Batches {
		out = append(out, WorkItemDryRun{
			Range:    string(b.Range),
			Index:    b.Index,
			Total:    b.Total,
			Ordinals: append([]int(nil), b.Ordinals...),
		})
	}
	return out
}

// OutdatedOrdinals returns the sorted ordinals of pods whose revision
// label differs from targetRevision.
func OutdatedOrdinals(ordinalsByPod map[int]string, targetRevision string) []int {
	var out []int
	for ordinal, revision := range ordinalsByPod {
		if revision != targetRevision {
			out = append(out, ordinal)
		}
	}
	sort.Ints(out)
	return out
}
