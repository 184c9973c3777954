package rolloutexecutor

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"

	"rollout-operator/internal/annotationstore"
	"rollout-operator/internal/clustergateway"
	"rollout-operator/internal/config"
	"rollout-operator/internal/events"
	"rollout-operator/internal/metrics"
	"rollout-operator/internal/podselector"
	"rollout-operator/internal/readinesswaiter"
	"rollout-operator/internal/rolloutstate"
	"rollout-operator/internal/telemetry"
)

// batchReadinessTimeout is fixed at 30 minutes (SPEC_FULL.md §4.6
// step 4), independent of the operator's other configured intervals.
const batchReadinessTimeout = 30 * time.Minute

// Superseded signals that the target revision changed between
// batches; the caller should treat this as progress, not failure.
type Superseded struct {
	Old, New string
}

func (e *Superseded) Error() string {
	return fmt.Sprintf("target revision superseded: %s -> %s", e.Old, e.New)
}

// Executor drives the batched delete-and-wait loop for one StatefulSet.
type Executor struct {
	Gateway  *clustergateway.Gateway
	Selector *podselector.Selector
	Waiter   *readinesswaiter.Waiter
	Events   *events.Recorder
	Config   *config.Config
	Logger   logr.Logger
}

// New returns an Executor wired to its collaborators.
func New(gw *clustergateway.Gateway, sel *podselector.Selector, w *readinesswaiter.Waiter, ev *events.Recorder, cfg *config.Config, l logr.Logger) *Executor {
	return &Executor{Gateway: gw, Selector: sel, Waiter: w, Events: ev, Config: cfg, Logger: l.WithName("RolloutExecutor")}
}

// Run executes the rolling state for one reconcile pass: it builds a
// plan against the StatefulSet's current updateRevision, walks every
// batch, and either finalizes, returns because the work is already
// done, or returns a *Superseded / retryable error for the caller to
// act on.
func (e *Executor) Run(ctx context.Context, namespace, name string) error {
	ctx, span := telemetry.Tracer().Start(ctx, "RolloutExecutor.Run")
	defer span.End()

	sts, err := e.Gateway.GetStatefulSet(ctx, namespace, name)
	if err != nil {
		return err
	}

	targetRevision := sts.Status.UpdateRevision

	outdated, err := e.outdatedOrdinals(ctx, sts, targetRevision)
	if err != nil {
		return err
	}

	if len(outdated) == 0 {
		return e.finalize(ctx, sts, targetRevision, nil)
	}

	if e.Config.DryRun {
		return e.previewDryRun(sts, outdated, targetRevision)
	}

	plan := BuildPlan(outdated, *sts.Spec.Replicas, e.Config.MaxUnavailable, e.Config.EnableHalfSplit, targetRevision)

	e.Logger.Info("executing rollout plan", "batches", len(plan.Batches), "targetRevision", targetRevision)

	replicas := *sts.Spec.Replicas
	maxUnavailable := int32(e.Config.MaxUnavailable)
	halfSplit := e.Config.EnableHalfSplit
	podsToUpdate := len(outdated)
	if err := e.Gateway.PatchAnnotations(ctx, sts, annotationstore.Update{
		TargetRevision: &targetRevision,
		Replicas:       &replicas,
		MaxUnavailable: &maxUnavailable,
		HalfSplit:      &halfSplit,
		PodsToUpdate:   &podsToUpdate,
	}); err != nil {
		return err
	}

	for _, batch := range plan.Batches {
		if err := e.runBatch(ctx, namespace, name, batch, targetRevision); err != nil {
			return err
		}
	}

	sts, err = e.Gateway.GetStatefulSet(ctx, namespace, name)
	if err != nil {
		return err
	}

	return e.finalize(ctx, sts, targetRevision, nil)
}

func (e *Executor) runBatch(ctx context.Context, namespace, name string, batch Batch, targetRevision string) error {
	ctx, span := telemetry.Tracer().Start(ctx, "RolloutExecutor.runBatch")
	defer span.End()

	current, err := e.Gateway.GetStatefulSet(ctx, namespace, name)
	if err != nil {
		return err
	}
	if current.Status.UpdateRevision != targetRevision {
		newRev := current.Status.UpdateRevision
		if patchErr := e.Gateway.PatchAnnotations(ctx, current, annotationstore.Update{LastRevision: &newRev}); patchErr != nil {
			return patchErr
		}
		e.Events.RolloutSuperseded(current, targetRevision, newRev)
		return &Superseded{Old: targetRevision, New: newRev}
	}

	rangeName := string(batch.Range)
	rangeIndex, rangeTotal := 1, 1
	if e.Config.EnableHalfSplit {
		rangeTotal = 2
		if batch.Range == RangeLower {
			rangeIndex = 2
		}
	}
	batchIndex, batchTotal := batch.Index, batch.Total
	if err := e.Gateway.PatchAnnotations(ctx, current, annotationstore.Update{
		RangeName:  &rangeName,
		RangeIndex: &rangeIndex,
		RangeTotal: &rangeTotal,
		BatchIndex: &batchIndex,
		BatchTotal: &batchTotal,
	}); err != nil {
		return err
	}

	pods, err := e.Selector.ListPods(ctx, current.Namespace, current.Spec.Selector.MatchLabels)
	if err != nil {
		return err
	}

	for _, pod := range targetedPods(pods, current.Name, batch.Ordinals, targetRevision) {
		if err := e.Gateway.DeletePod(ctx, &pod, int64(e.Config.PodTerminationGracePeriod)); err != nil {
			return fmt.Errorf("delete pod %s: %w", pod.Name, err)
		}
		metrics.PodsDeletedTotal.Inc()
	}

	start := time.Now()
	_, err = e.Waiter.Await(ctx, current.Namespace, current.Name, batch.Ordinals, targetRevision, batchReadinessTimeout)
	metrics.ReadinessWaitSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("batch %s %d/%d: %w", batch.Range, batch.Index, batch.Total, err)
	}

	metrics.BatchesTotal.WithLabelValues(string(batch.Range)).Inc()
	e.Events.BatchCompleted(current, string(batch.Range), batch.Index, batch.Total)

	return nil
}

// targetedPods returns the pods among `pods` whose ordinal is in
// `ordinals` and whose revision does not already match targetRevision
// (SPEC_FULL.md §4.6 step 2: already-current pods are skipped).
func targetedPods(pods []corev1.Pod, stsName string, ordinals []int, targetRevision string) []corev1.Pod {
	wanted := make(map[int]bool, len(ordinals))
	for _, o := range ordinals {
		wanted[o] = true
	}

	var out []corev1.Pod
	for _, pod := range pods {
		o, ok := podselector.Ordinal(&pod, stsName)
		if !ok || !wanted[o] {
			continue
		}
		if podselector.NeedsUpdate(&pod, targetRevision) {
			out = append(out, pod)
		}
	}
	return out
}

func (e *Executor) finalize(ctx context.Context, sts *appsv1.StatefulSet, targetRevision string, drift error) error {
	pods, err := e.Selector.ListPods(ctx, sts.Namespace, sts.Spec.Selector.MatchLabels)
	if err != nil {
		return err
	}

	var remaining []int
	for _, pod := range pods {
		if podselector.NeedsUpdate(&pod, targetRevision) {
			if o, ok := podselector.Ordinal(&pod, sts.Name); ok {
				remaining = append(remaining, o)
			}
		}
	}

	if len(remaining) > 0 {
		drift = multierr.Append(drift, fmt.Errorf("%d pod(s) still not on revision %s after finalize: %v", len(remaining), targetRevision, remaining))
	}

	done := rolloutstate.StateDone
	if err := e.Gateway.PatchAnnotations(ctx, sts, annotationstore.Update{
		State:        &done,
		LastRevision: &targetRevision,
	}); err != nil {
		return err
	}

	if drift != nil {
		e.Events.RolloutFinalizedWithDrift(sts, drift)
		e.Logger.Info("rollout finalized with drift", "error", drift.Error())
		return nil
	}

	e.Events.RolloutCompleted(sts, targetRevision)
	return nil
}

func (e *Executor) previewDryRun(sts *appsv1.StatefulSet, outdated []int, targetRevision string) error {
	plan := BuildPlan(outdated, *sts.Spec.Replicas, e.Config.MaxUnavailable, e.Config.EnableHalfSplit, targetRevision)
	preview := DryRunPreview(plan)

	out, err := yaml.Marshal(preview)
	if err != nil {
		return fmt.Errorf("marshal dry-run preview: %w", err)
	}

	e.Logger.Info("dry-run: rollout plan", "plan", string(out))
	return nil
}

func (e *Executor) outdatedOrdinals(ctx context.Context, sts *appsv1.StatefulSet, targetRevision string) ([]int, error) {
	pods, err := e.Selector.ListPods(ctx, sts.Namespace, sts.Spec.Selector.MatchLabels)
	if err != nil {
		return nil, err
	}

	ordinalsByPod := map[int]string{}
	for _, pod := range pods {
		o, ok := podselector.Ordinal(&pod, sts.Name)
		if !ok {
			continue
		}
		ordinalsByPod[o] = pod.Labels[podselector.RevisionLabel]
	}

	return OutdatedOrdinals(ordinalsByPod, targetRevision), nil
}
