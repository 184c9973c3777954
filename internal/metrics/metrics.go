// Package metrics registers the operator's custom Prometheus
// collectors against controller-runtime's shared metrics registry, the
// same registry the manager's /metrics endpoint already serves.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	// BatchesTotal counts completed batches, labeled by the plan range
	// the batch belonged to ("upper"/"lower", or "all" when half-split
	// is disabled).
	BatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rollout_operator_batches_total",
		Help: "Total number of rollout batches completed, by range.",
	}, []string{"range"})

	// PodsDeletedTotal counts pods deleted by the executor to force
	// recreation under the target revision.
	PodsDeletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rollout_operator_pods_deleted_total",
		Help: "Total number of pods deleted by the rollout executor.",
	})

	// ReadinessWaitSeconds observes how long each batch spent waiting
	// for pods to converge to Ready.
	ReadinessWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rollout_operator_readiness_wait_seconds",
		Help:    "Time spent waiting for a batch of pods to become ready.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	// State reports the current rollout state as a gauge keyed by
	// state name, 1 for the active state and 0 for the others.
	State = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rollout_operator_state",
		Help: "Current rollout state (1 for the active state, 0 otherwise).",
	}, []string{"state"})
)

func init() {
	crmetrics.Registry.MustRegister(BatchesTotal, PodsDeletedTotal, ReadinessWaitSeconds, State)
}

// SetState zeroes every known state gauge except the active one.
func SetState(active string, known []string) {
	for _, s := range known {
		if s == active {
			State.WithLabelValues(s).Set(1)
		} else {
			State.WithLabelValues(s).Set(0)
		}
	}
}
