// Package events wraps client-go's EventRecorder with the fixed
// vocabulary of Kubernetes Events this operator emits against the
// watched StatefulSet.
//
// Grounded on the teacher's controller.Recorder.Event calls in
// internal/controller/linkerdtrustrotation_controller.go.
package events

import (
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/record"
)

// Recorder emits the operator's Events against a StatefulSet.
type Recorder struct {
	recorder record.EventRecorder
}

// New wraps a client-go EventRecorder.
func New(r record.EventRecorder) *Recorder {
	return &Recorder{recorder: r}
}

// RevisionDetected fires as soon as a new updateRevision is observed,
// before the rollout is scheduled.
func (r *Recorder) RevisionDetected(obj runtime.Object, revision string) {
	r.recorder.Eventf(obj, corev1.EventTypeNormal, "RevisionDetected",
		"new revision %s detected", revision)
}

// RolloutScheduled fires once a detected revision has been recorded as
// planned and is waiting out DelaySeconds.
func (r *Recorder) RolloutScheduled(obj runtime.Object, revision string, delaySeconds int) {
	r.recorder.Eventf(obj, corev1.EventTypeNormal, "RolloutScheduled",
		"revision %s detected, rollout will start in %ds", revision, delaySeconds)
}

// RolloutStarted fires once the delay gate promotes a rollout from
// planned to rolling.
func (r *Recorder) RolloutStarted(obj runtime.Object, revision string, replicas, podsToUpdate int32) {
	r.recorder.Eventf(obj, corev1.EventTypeNormal, "RolloutStarted",
		"rolling out revision %s (%d/%d pod(s) planned for update)", revision, podsToUpdate, replicas)
}

// BatchCompleted fires after a batch of pods has converged.
func (r *Recorder) BatchCompleted(obj runtime.Object, rangeName string, batchIndex, batchTotal int) {
	r.recorder.Eventf(obj, corev1.EventTypeNormal, "BatchCompleted",
		"%s batch %d/%d complete", rangeName, batchIndex, batchTotal)
}

// RolloutCompleted fires once every outstanding pod has converged to
// the target revision.
func (r *Recorder) RolloutCompleted(obj runtime.Object, revision string) {
	r.recorder.Eventf(obj, corev1.EventTypeNormal, "RolloutCompleted",
		"revision %s fully rolled out", revision)
}

// RolloutSuperseded fires when the target revision changes mid-rollout,
// restarting planning from the new revision.
func (r *Recorder) RolloutSuperseded(obj runtime.Object, oldRevision, newRevision string) {
	r.recorder.Eventf(obj, corev1.EventTypeWarning, "RolloutSuperseded",
		"target revision changed from %s to %s mid-rollout, replanning", oldRevision, newRevision)
}

// RolloutFinalizedWithDrift fires when a rollout is marked done despite
// one or more pods not being verifiably on the target revision.
func (r *Recorder) RolloutFinalizedWithDrift(obj runtime.Object, err error) {
	r.recorder.Event(obj, corev1.EventTypeWarning, "RolloutFinalizedWithDrift", fmt.Sprintf("%v", err))
}
