// Package readinesswaiter polls a set of pod ordinals until each has
// been recreated under the target revision and is Ready, or until a
// deadline expires.
//
// Grounded on the teacher's internal/rollout/rollout.go
// deletePodAndWaitSameNameReady / waitDeploymentRolledOut triad: a
// ticker loop with select on ctx.Done(), tolerating NotFound while the
// StatefulSet controller is still recreating the pod.
package readinesswaiter

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"rollout-operator/internal/clustergateway"
	"rollout-operator/internal/podselector"
)

const (
	pollInterval    = 2 * time.Second
	progressLogEach = 10 * time.Second
)

// Waiter blocks until a batch of ordinals has converged.
type Waiter struct {
	Gateway *clustergateway.Gateway
	Logger  logr.Logger
}

// New returns a Waiter bound to the given gateway.
func New(gw *clustergateway.Gateway, l logr.Logger) *Waiter {
	return &Waiter{Gateway: gw, Logger: l.WithName("ReadinessWaiter")}
}

// Await blocks until every pod named "<stsName>-<ordinal>" in
// namespace is present, carries targetRevision, and is Ready — or
// until timeout elapses, in which case it returns the ordinals still
// outstanding alongside a non-nil error.
func (w *Waiter) Await(ctx context.Context, namespace, stsName string, ordinals []int, targetRevision string, timeout time.Duration) ([]int, error) {
	pending := make(map[int]bool, len(ordinals))
	for _, o := range ordinals {
		pending[o] = true
	}

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	lastLog := time.Now()

	for {
		for o := range pending {
			podName := fmt.Sprintf("%s-%d", stsName, o)
			pod, err := w.Gateway.GetPod(ctx, namespace, podName)
			if err != nil {
				return outstanding(pending), err
			}
			if pod == nil {
				continue
			}
			if !podselector.NeedsUpdate(pod, targetRevision) && podselector.Ready(pod) {
				delete(pending, o)
			}
		}

		if len(pending) == 0 {
			return nil, nil
		}
		if time.Now().After(deadline) {
			return outstanding(pending), fmt.Errorf("timeout waiting for %d pod(s) to become ready", len(pending))
		}

		if time.Since(lastLog) >= progressLogEach {
			lastLog = time.Now()
			w.Logger.Info("waiting for pods to become ready", "remaining", len(pending))
		}

		select {
		case <-ctx.Done():
			return outstanding(pending), ctx.Err()
		case <-ticker.C:
		}
	}
}

func outstanding(pending map[int]bool) []int {
	out := make([]int, 0, len(pending))
	for o := range pending {
		out = append(out, o)
	}
	return out
}
