// Package rolloutstate defines the rollout state machine persisted on the
// watched StatefulSet's annotations.
package rolloutstate

// State is the lifecycle phase of a rollout, persisted under the
// "state" annotation. Only the four values below are ever written.
type State string

const (
	// StateNone means no rollout has been recorded; a missing or
	// unrecognized state annotation decodes to this value.
	StateNone State = "none"

	// StatePlanned means a revision change was detected and is waiting
	// out DelaySeconds before execution begins.
	StatePlanned State = "planned"

	// StateRolling means RolloutExecutor owns progress and is deleting
	// pods in batches.
	StateRolling State = "rolling"

	// StateDone means the last known target revision was fully rolled
	// out (or finalized with a warning if some pods could not be
	// verified as updated).
	StateDone State = "done"
)

// Valid reports whether s is one of the four sanctioned state values.
func (s State) Valid() bool {
	switch s {
	case StateNone, StatePlanned, StateRolling, StateDone:
		return true
	default:
		return false
	}
}

// Annotation keys under the operator's reserved prefix. Producers must
// never write other reserved-prefix keys; consumers must tolerate
// unknown ones (SPEC_FULL.md §3/§6).
const (
	Prefix = "rollout-operator.k8s.io/"

	KeyState         = Prefix + "state"
	KeyLastRevision  = Prefix + "last-revision"
	KeyPlannedAt     = Prefix + "planned-at"

	// Supplemental, observational-only annotations (SPEC_FULL.md §3).
	KeyStartedAt       = Prefix + "started-at"
	KeyReplicas        = Prefix + "replicas"
	KeyMaxUnavailable  = Prefix + "max-unavailable"
	KeyHalfSplit       = Prefix + "half-split"
	KeyTargetRevision  = Prefix + "target-revision"
	KeyRangeName       = Prefix + "range-name"
	KeyRangeIndex      = Prefix + "range-index"
	KeyRangeTotal      = Prefix + "range-total"
	KeyBatchIndex      = Prefix + "batch-index"
	KeyBatchTotal      = Prefix + "batch-total"
	KeyPodsToUpdate    = Prefix + "pods-to-update"
)

// Record is the typed, decoded view of the rollout annotations.
type Record struct {
	State        State
	LastRevision string // empty if absent
	PlannedAt    int64  // unix seconds; PlannedAtSet indicates presence
	PlannedAtSet bool
}

// Outstanding reports whether the StatefulSet still has pods pending
// update, per SPEC_FULL.md §4.5 step 4: replicas > updatedReplicas.
func Outstanding(replicas, updatedReplicas int32) bool {
	return replicas > updatedReplicas
}
