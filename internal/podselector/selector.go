// Package podselector resolves pod ordinals, readiness and revision
// membership, and computes the halves/batches an ordinal set is split
// into for a rollout plan.
//
// Grounded on the upstream StatefulSet controller's pod-index/revision
// semantics (gregwebs-kubernetes/pkg/controller/statefulset) and the
// teacher's internal/rollout/helpers.go podOrdinal/podReady helpers.
package podselector

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/labels"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// PodIndexLabel is the well-known label the upstream StatefulSet
// controller stamps on every pod it creates, giving the pod's ordinal
// directly without needing to parse the pod name.
const PodIndexLabel = "apps.kubernetes.io/pod-index"

// RevisionLabel names the pod label carrying the ControllerRevision
// hash the pod was created under.
const RevisionLabel = "controller-revision-hash"

// Selector lists and classifies pods belonging to a target StatefulSet.
type Selector struct {
	Client client.Client
}

// New returns a pod selector bound to the given client.
func New(c client.Client) *Selector {
	return &Selector{Client: c}
}

// ListPods lists the pods matching the StatefulSet's selector
// match-labels, joined into a single equality selector
// (SPEC_FULL.md §4.2).
func (s *Selector) ListPods(ctx context.Context, namespace string, matchLabels map[string]string) ([]corev1.Pod, error) {
	sel := labels.SelectorFromSet(matchLabels)

	var list corev1.PodList
	if err := s.Client.List(ctx, &list, client.InNamespace(namespace), client.MatchingLabelsSelector{Selector: sel}); err != nil {
		return nil, fmt.Errorf("list pods in %q: %w", namespace, err)
	}

	return list.Items, nil
}

// Ordinal resolves a pod's StatefulSet ordinal following §3's rules:
// (a) the pod-index label, parsed as an integer — if present but
// unparseable, there is no ordinal, no fallback to (b); (b) otherwise
// the numeric suffix of the pod name after "<stsName>-".
func Ordinal(pod *corev1.Pod, stsName string) (int, bool) {
	if pod.Labels != nil {
		if raw, ok := pod.Labels[PodIndexLabel]; ok {
			n, err := strconv.Atoi(raw)
			if err != nil {
				return 0, false
			}
			return n, true
		}
	}

	prefix := stsName + "-"
	name := pod.Name
	if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
		return 0, false
	}

	n, err := strconv.Atoi(name[len(prefix):])
	if err != nil {
		return 0, false
	}

	return n, true
}

// NeedsUpdate reports whether the pod's revision label differs from
// targetRevision, including the case where the label is absent
// entirely (SPEC_FULL.md §4.2).
func NeedsUpdate(pod *corev1.Pod, targetRevision string) bool {
	if pod.Labels == nil {
		return true
	}
	return pod.Labels[RevisionLabel] != targetRevision
}

// Ready reports whether the pod has a Ready=True condition and is not
// the old, terminating instance (non-empty deletion timestamp never
// counts as ready, SPEC_FULL.md §3).
func Ready(pod *corev1.Pod) bool {
	if pod.DeletionTimestamp != nil {
		return false
	}

	for _, c := range pod.Status.Conditions {
		if c.Type == corev1.PodReady && c.Status == corev1.ConditionTrue {
			return true
		}
	}

	return false
}

// SplitHalves partitions ordinals into (lower, upper) at replicas/2
// (integer division): lower holds ordinals strictly less than the
// midpoint, upper holds the rest (SPEC_FULL.md §4.2).
func SplitHalves(ordinals []int, replicas int) (lower, upper []int) {
	mid := replicas / 2
	for _, o := range ordinals {
		if o < mid {
			lower = append(lower, o)
		} else {
			upper = append(upper, o)
		}
	}
	return lower, upper
}

// Batch sorts ordinals ascending and partitions them into contiguous
// chunks of at most size each.
func Batch(ordinals []int, size int) [][]int {
	if len(ordinals) == 0 {
		return nil
	}
	if size < 1 {
		size = 1
	}

	sorted := append([]int(nil), ordinals...)
	sort.Ints(sorted)

	var batches [][]int
	for i := 0; i < len(sorted); i += size {
		end := i + size
		if end > len(sorted) {
			end = len(sorted)
		}
		batches = append(batches, sorted[i:end])
	}

	return batches
}
