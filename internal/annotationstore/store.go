// Package annotationstore encodes and decodes the rollout state machine
// to and from StatefulSet annotations.
//
// The encode side takes a reduced form of the teacher's manage_status.go
// "only patch when something meaningfully changed" pattern: an empty
// update encodes to nil so the patch call can be skipped, and nothing
// compares the update against the current annotations. Since there is
// no status subresource here (the StatefulSet is not our CRD), writes
// go through a plain metadata merge-patch instead.
package annotationstore

import (
	"strconv"
	"strings"

	"github.com/google/go-cmp/cmp"

	"rollout-operator/internal/rolloutstate"
)

// Decode reads the rollout Record out of a StatefulSet's annotations.
// Missing keys decode to zero values, except the state, which decodes
// to none when missing or unrecognized; a present-but-unparseable
// planned-at decodes as absent, per SPEC_FULL.md §4.3.
func Decode(annotations map[string]string) rolloutstate.Record {
	rec := rolloutstate.Record{State: rolloutstate.StateNone}

	if v, ok := annotations[rolloutstate.KeyState]; ok {
		s := rolloutstate.State(v)
		if s.Valid() {
			rec.State = s
		}
	}

	rec.LastRevision = annotations[rolloutstate.KeyLastRevision]

	if raw, ok := annotations[rolloutstate.KeyPlannedAt]; ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil {
			rec.PlannedAt = n
			rec.PlannedAtSet = true
		}
	}

	return rec
}

// Update is a partial set of fields to persist; nil/zero-value pointers
// mean "leave this annotation untouched" (SPEC_FULL.md §4.3: the patch
// carries only fields the caller explicitly set).
type Update struct {
	State        *rolloutstate.State
	LastRevision *string
	PlannedAt    *int64 // unix seconds

	// Supplemental observability fields (SPEC_FULL.md §3). All optional.
	StartedAt      *int64
	Replicas       *int32
	MaxUnavailable *int32
	HalfSplit      *bool
	TargetRevision *string
	RangeName      *string
	RangeIndex     *int
	RangeTotal     *int
	BatchIndex     *int
	BatchTotal     *int
	PodsToUpdate   *int
}

// EncodePatch builds the nested `{metadata: {annotations: {...}}}` merge
// patch object for the given Update, containing only the keys the
// caller set. It returns nil when the update is entirely empty so
// callers can skip issuing a no-op patch.
func EncodePatch(u Update) map[string]interface{} {
	ann := map[string]string{}

	setString := func(key string, v *string) {
		if v != nil {
			ann[key] = *v
		}
	}
	setInt64 := func(key string, v *int64) {
		if v != nil {
			ann[key] = strconv.FormatInt(*v, 10)
		}
	}
	setInt := func(key string, v *int) {
		if v != nil {
			ann[key] = strconv.Itoa(*v)
		}
	}
	setInt32 := func(key string, v *int32) {
		if v != nil {
			ann[key] = strconv.FormatInt(int64(*v), 10)
		}
	}
	setBool := func(key string, v *bool) {
		if v != nil {
			ann[key] = strconv.FormatBool(*v)
		}
	}

	if u.State != nil {
		ann[rolloutstate.KeyState] = string(*u.State)
	}
	setString(rolloutstate.KeyLastRevision, u.LastRevision)
	setInt64(rolloutstate.KeyPlannedAt, u.PlannedAt)
	setInt64(rolloutstate.KeyStartedAt, u.StartedAt)
	setInt32(rolloutstate.KeyReplicas, u.Replicas)
	setInt32(rolloutstate.KeyMaxUnavailable, u.MaxUnavailable)
	setBool(rolloutstate.KeyHalfSplit, u.HalfSplit)
	setString(rolloutstate.KeyTargetRevision, u.TargetRevision)
	setString(rolloutstate.KeyRangeName, u.RangeName)
	setInt(rolloutstate.KeyRangeIndex, u.RangeIndex)
	setInt(rolloutstate.KeyRangeTotal, u.RangeTotal)
	setInt(rolloutstate.KeyBatchIndex, u.BatchIndex)
	setInt(rolloutstate.KeyBatchTotal, u.BatchTotal)
	setInt(rolloutstate.KeyPodsToUpdate, u.PodsToUpdate)

	if len(ann) == 0 {
		return nil
	}

	return map[string]interface{}{
		"metadata": map[string]interface{}{
			"annotations": ann,
		},
	}
}

// Equal reports whether two decoded records represent the same rollout
// progress. Every field here is meaningful, unlike the teacher's
// LastUpdated timestamp on CRD status, so no fields are ignored.
func Equal(a, b rolloutstate.Record) bool {
	return cmp.Equal(a, b)
}
