package rolloutexecutor

import (
	"reflect"
	"testing"
)

func TestBuildPlanHalfSplitUpperFirst(t *testing.T) {
	outdated := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	plan := BuildPlan(outdated, 10, 3, true, "rev-1")

	if len(plan.Batches) == 0 {
		t.Fatal("expected at least one batch")
	}
	if plan.Batches[0].Range != RangeUpper {
		t.Fatalf("first batch range = %s, want upper", plan.Batches[0].Range)
	}

	lastUpperIdx := -1
	firstLowerIdx := -1
	for i, b := range plan.Batches {
		if b.Range == RangeUpper {
			lastUpperIdx = i
		}
		if b.Range == RangeLower && firstLowerIdx == -1 {
			firstLowerIdx = i
		}
	}
	if firstLowerIdx != -1 && firstLowerIdx < lastUpperIdx {
		t.Fatal("expected all upper batches before any lower batch")
	}
}

func TestBuildPlanWithoutHalfSplitSingleRange(t *testing.T) {
	outdated := []int{3, 1, 2}
	plan := BuildPlan(outdated, 4, 10, false, "rev-1")

	if len(plan.Batches) != 1 {
		t.Fatalf("batches = %d, want 1", len(plan.Batches))
	}
	if plan.Batches[0].Range != RangeAll {
		t.Fatalf("range = %s, want all", plan.Batches[0].Range)
	}
	if !reflect.DeepEqual(plan.Batches[0].Ordinals, []int{1, 2, 3}) {
		t.Fatalf("ordinals = %v, want sorted [1 2 3]", plan.Batches[0].Ordinals)
	}
}

func TestBuildPlanRespectsMaxUnavailable(t *testing.T) {
	outdated := []int{0, 1, 2, 3, 4}
	plan := BuildPlan(outdated, 5, 2, false, "rev-1")

	for _, b := range plan.Batches {
		if len(b.Ordinals) > 2 {
			t.Fatalf("batch %+v exceeds max unavailable", b)
		}
	}
}

func TestOutdatedOrdinalsSortedAndFiltered(t *testing.T) {
	got := OutdatedOrdinals(map[int]string{
		0: "rev-new",
		1: "rev-old",
		2: "rev-old",
		3: "rev-new",
	}, "rev-new")

	if !reflect.DeepEqual(got, []int{1, 2}) {
		t.Fatalf("got %v, want [1 2]", got)
	}
}

func TestDryRunPreviewMirrorsPlan(t *testing.T) {
	plan := BuildPlan([]int{0, 1, 2}, 3, 2, false, "rev-1")
	preview := DryRunPreview(plan)

	if len(preview) != len(plan.Batches) {
		t.Fatalf("preview length = %d, want %d", len(preview), len(plan.Batches))
	}
	for i, b := range plan.Batches {
		if preview[i].Range != string(b.Range) || preview[i].Index != b.Index {
			t.Fatalf("preview[%d] = %+v does not mirror batch %+v", i, preview[i], b)
		}
	}
}
