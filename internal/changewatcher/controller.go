// Package changewatcher reconciles the single StatefulSet this
// operator is configured to watch, dispatching by the rollout state
// currently recorded on its annotations.
//
// Grounded on the teacher's internal/controller/linkerdtrustrotation_controller.go
// Reconcile/SetupWithManager shape: a client.Client-embedding
// reconciler, an event recorder obtained from the manager, and a
// named-predicate-filtered controller registration.
package changewatcher

import (
	"context"
	"fmt"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/event"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/predicate"

	"rollout-operator/internal/annotationstore"
	"rollout-operator/internal/clustergateway"
	"rollout-operator/internal/config"
	"rollout-operator/internal/events"
	"rollout-operator/internal/metrics"
	"rollout-operator/internal/podselector"
	"rollout-operator/internal/rolloutexecutor"
	"rollout-operator/internal/rolloutstate"
)

// requeueInterval is how long a successful pass through the `rolling`
// branch waits for the next reconcile when no new watch event arrives.
const requeueInterval = 30 * time.Second

// Reconciler watches the single configured StatefulSet and drives the
// rollout state machine described in SPEC_FULL.md §4.5.
type Reconciler struct {
	client.Client

	Gateway  *clustergateway.Gateway
	Selector *podselector.Selector
	Executor *rolloutexecutor.Executor
	Events   *events.Recorder
	Config   *config.Config
}

// knownStates is the full enumeration used to zero unused metric
// gauges alongside the active one.
var knownStates = []string{
	string(rolloutstate.StateNone),
	string(rolloutstate.StatePlanned),
	string(rolloutstate.StateRolling),
	string(rolloutstate.StateDone),
}

// Reconcile implements the state table in SPEC_FULL.md §4.5.
func (r *Reconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	if req.Namespace != r.Config.TargetNamespace || req.Name != r.Config.TargetStatefulSet {
		return ctrl.Result{}, nil
	}

	sts, err := r.Gateway.GetStatefulSet(ctx, req.Namespace, req.Name)
	if apierrors.IsNotFound(err) {
		return ctrl.Result{}, nil
	}
	if err != nil {
		return ctrl.Result{}, err
	}

	rec := annotationstore.Decode(sts.Annotations)
	metrics.SetState(string(rec.State), knownStates)

	log := logf.FromContext(ctx)

	// Step 1: a non-OnDelete strategy blocks new scheduling, but a
	// rollout already `rolling` is allowed to finish (SPEC_FULL.md §9
	// open question decision).
	if sts.Spec.UpdateStrategy.Type != appsv1.OnDeleteStatefulSetStrategyType && rec.State != rolloutstate.StateRolling {
		log.Info("statefulset is not using OnDelete strategy, skipping", "strategy", sts.Spec.UpdateStrategy.Type)
		return ctrl.Result{}, nil
	}

	// Step 2.
	if sts.Status.UpdateRevision == "" {
		log.Info("statefulset has no updateRevision yet, skipping")
		return ctrl.Result{}, nil
	}

	// Step 3.
	pods, err := r.Selector.ListPods(ctx, sts.Namespace, sts.Spec.Selector.MatchLabels)
	if err != nil {
		return ctrl.Result{}, err
	}
	if len(pods) == 0 {
		return ctrl.Result{}, nil
	}
	for _, pod := range pods {
		if _, ok := pod.Labels[podselector.PodIndexLabel]; !ok {
			log.Error(nil, "pod missing pod-index label, refusing to act", "pod", pod.Name)
			return ctrl.Result{}, nil
		}
	}

	updateRevision := sts.Status.UpdateRevision
	outstanding := rolloutstate.Outstanding(*sts.Spec.Replicas, sts.Status.UpdatedReplicas)

	switch rec.State {
	case rolloutstate.StateNone, rolloutstate.StateDone:
		return r.handleIdle(ctx, sts, rec, updateRevision, outstanding)

	case rolloutstate.StatePlanned:
		if !rec.PlannedAtSet {
			now := time.Now().Unix()
			return ctrl.Result{}, r.Gateway.PatchAnnotations(ctx, sts, annotationstore.Update{PlannedAt: &now})
		}
		return ctrl.Result{}, nil

	case rolloutstate.StateRolling:
		if err := r.Executor.Run(ctx, req.Namespace, req.Name); err != nil {
			if _, ok := err.(*rolloutexecutor.Superseded); ok {
				return ctrl.Result{Requeue: true}, nil
			}
			return ctrl.Result{}, fmt.Errorf("rollout executor: %w", err)
		}
		// Run returns nil once the plan is finalized, or after a dry-run
		// preview that leaves the state at `rolling`; requeue so the
		// latter is re-entered without waiting for a new watch event.
		return ctrl.Result{RequeueAfter: requeueInterval}, nil

	default:
		return ctrl.Result{}, fmt.Errorf("unrecognized rollout state %q on %s", rec.State, req.NamespacedName)
	}
}

// handleIdle implements the "none"/"done" rows of SPEC_FULL.md §4.5:
// outstanding pods, or an updateRevision that differs from the recorded
// last-revision, schedule a new rollout under the configured delay;
// otherwise there is nothing to do.
func (r *Reconciler) handleIdle(ctx context.Context, sts *appsv1.StatefulSet, rec rolloutstate.Record, updateRevision string, outstanding bool) (ctrl.Result, error) {
	if updateRevision == rec.LastRevision && !outstanding {
		return ctrl.Result{}, nil
	}

	planned := rolloutstate.StatePlanned
	now := time.Now().Unix()
	replicas := *sts.Spec.Replicas

	if err := r.Gateway.PatchAnnotations(ctx, sts, annotationstore.Update{
		State:          &planned,
		LastRevision:   &updateRevision,
		PlannedAt:      &now,
		TargetRevision: &updateRevision,
		Replicas:       &replicas,
	}); err != nil {
		return ctrl.Result{}, err
	}

	r.Events.RevisionDetected(sts, updateRevision)
	r.Events.RolloutScheduled(sts, updateRevision, r.Config.DelaySeconds)

	return ctrl.Result{}, nil
}

// SetupWithManager registers the Reconciler against the manager,
// filtering to StatefulSet updates so annotation-only or status-only
// churn still triggers a pass (rollout state lives in annotations and
// status.updateRevision, not generation, so GenerationChangedPredicate
// would miss both).
func (r *Reconciler) SetupWithManager(mgr ctrl.Manager) error {
	r.Events = events.New(mgr.GetEventRecorderFor("rollout-operator"))

	return ctrl.NewControllerManagedBy(mgr).
		For(&appsv1.StatefulSet{}).
		WithEventFilter(predicate.Or(
			predicate.AnnotationChangedPredicate{},
			predicate.GenerationChangedPredicate{},
			statusChangedPredicate{},
		)).
		Named("rollout-operator").
		Complete(r)
}

// statusChangedPredicate triggers a reconcile on any StatefulSet
// status update, since updateRevision and updatedReplicas changes
// (driven by the StatefulSet controller recreating pods) never bump
// generation.
type statusChangedPredicate struct {
	predicate.Funcs
}

func (statusChangedPredicate) Update(e event.UpdateEvent) bool {
	oldSts, ok := e.ObjectOld.(*appsv1.StatefulSet)
	if !ok {
		return false
	}
	newSts, ok := e.ObjectNew.(*appsv1.StatefulSet)
	if !ok {
		return false
	}

	return oldSts.Status.UpdateRevision != newSts.Status.UpdateRevision ||
		oldSts.Status.UpdatedReplicas != newSts.Status.UpdatedReplicas ||
		oldSts.Status.CurrentRevision != newSts.Status.CurrentRevision
}
