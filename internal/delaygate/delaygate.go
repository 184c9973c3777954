// Package delaygate runs as a manager.Runnable alongside the
// reconciler, periodically checking every "planned" rollout's
// cooldown and promoting it to "rolling" once DelaySeconds has
// elapsed.
//
// The polling-ticker shape is grounded on the teacher's
// internal/rollout/rollout.go wait loops (rolloutPollInterval ticker,
// select on ctx.Done()), generalized from "wait for a condition" to
// "act once a condition holds".
package delaygate

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	appsv1 "k8s.io/api/apps/v1"

	"rollout-operator/internal/annotationstore"
	"rollout-operator/internal/clustergateway"
	"rollout-operator/internal/config"
	"rollout-operator/internal/events"
	"rollout-operator/internal/podselector"
	"rollout-operator/internal/rolloutstate"
)

// tickInterval is the cadence at which Gate re-checks every planned
// rollout's cooldown, independent of CountdownLogInterval (DESIGN.md,
// open question decisions: the countdown log fires "at least every
// interval" against this finer-grained check).
const tickInterval = 10 * time.Second

// Gate promotes StatefulSets sitting in the "planned" state to
// "rolling" once their cooldown has elapsed. It implements
// manager.Runnable so controller-runtime starts and stops it with the
// rest of the manager.
type Gate struct {
	Gateway  *clustergateway.Gateway
	Selector *podselector.Selector
	Events   *events.Recorder
	Config   *config.Config
	Logger   logr.Logger

	lastLoggedAt time.Time
}

// New returns a Gate ready to be registered with mgr.Add.
func New(gw *clustergateway.Gateway, sel *podselector.Selector, ev *events.Recorder, cfg *config.Config, l logr.Logger) *Gate {
	return &Gate{Gateway: gw, Selector: sel, Events: ev, Config: cfg, Logger: l.WithName("DelayGate")}
}

// Start runs the polling loop until ctx is cancelled, satisfying
// manager.Runnable.
func (g *Gate) Start(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := g.checkOnce(ctx); err != nil {
				g.Logger.Error(err, "delay gate check failed")
			}
		}
	}
}

// NeedLeaderElection reports that only the elected leader should run
// the gate, avoiding duplicate promotions across replicas.
func (g *Gate) NeedLeaderElection() bool {
	return true
}

func (g *Gate) checkOnce(ctx context.Context) error {
	sts, err := g.Gateway.GetStatefulSet(ctx, g.Config.TargetNamespace, g.Config.TargetStatefulSet)
	if err != nil {
		return fmt.Errorf("delay gate: %w", err)
	}

	rec := annotationstore.Decode(sts.Annotations)
	if rec.State != rolloutstate.StatePlanned || !rec.PlannedAtSet {
		return nil
	}

	elapsed := time.Since(time.Unix(rec.PlannedAt, 0))
	remaining := time.Duration(g.Config.DelaySeconds)*time.Second - elapsed

	if remaining > 0 {
		g.logCountdown(remaining)
		return nil
	}

	g.Logger.Info("cooldown elapsed, promoting rollout to rolling",
		"statefulSet", sts.Name, "targetRevision", rec.LastRevision)

	rolling := rolloutstate.StateRolling
	startedAt := time.Now().Unix()
	if err := g.Gateway.PatchAnnotations(ctx, sts, annotationstore.Update{
		State:     &rolling,
		StartedAt: &startedAt,
	}); err != nil {
		return err
	}

	replicas := *sts.Spec.Replicas
	podsToUpdate, err := g.countPodsToUpdate(ctx, sts, rec.LastRevision)
	if err != nil {
		g.Logger.Error(err, "failed to count pods pending update for RolloutStarted event")
		podsToUpdate = replicas
	}

	g.Events.RolloutStarted(sts, rec.LastRevision, replicas, podsToUpdate)
	return nil
}

// countPodsToUpdate lists the StatefulSet's pods and counts how many
// still need the target revision, for the "planned counts" the
// RolloutStarted event carries (SPEC_FULL.md §6).
func (g *Gate) countPodsToUpdate(ctx context.Context, sts *appsv1.StatefulSet, targetRevision string) (int32, error) {
	pods, err := g.Selector.ListPods(ctx, sts.Namespace, sts.Spec.Selector.MatchLabels)
	if err != nil {
		return 0, err
	}

	var count int32
	for _, pod := range pods {
		if podselector.NeedsUpdate(&pod, targetRevision) {
			count++
		}
	}
	return count, nil
}

// logCountdown throttles the "time remaining" log line to roughly
// CountdownLogInterval, while checkOnce itself keeps running every
// tickInterval so the promotion itself is never delayed beyond that
// finer cadence.
func (g *Gate) logCountdown(remaining time.Duration) {
	interval := time.Duration(g.Config.CountdownLogInterval) * time.Second
	if interval <= 0 {
		interval = tickInterval
	}

	if !g.lastLoggedAt.IsZero() && time.Since(g.lastLoggedAt) < interval {
		return
	}
	g.lastLoggedAt = time.Now()

	g.Logger.Info("rollout still in cooldown", "remaining", remaining.Round(time.Second).String())
}
