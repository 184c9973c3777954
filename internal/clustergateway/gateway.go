// Package clustergateway is the sole point of contact with the
// Kubernetes API: typed reads of the target StatefulSet and its pods,
// optimistic merge-patches of annotations, and idempotent pod deletes.
//
// Grounded on the teacher's internal/rollout/rollout.go patch/delete
// idioms (client.MergeFrom before mutating, apierrors.IsNotFound
// treated as success on delete) and internal/status/manage_status.go's
// "build a merge patch against the original object" shape.
package clustergateway

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"rollout-operator/internal/annotationstore"
)

// Gateway wraps the controller-runtime client with the handful of
// typed operations the rollout operator performs.
type Gateway struct {
	Client client.Client
	Logger logr.Logger
}

// New returns a Gateway bound to the given client.
func New(c client.Client, l logr.Logger) *Gateway {
	return &Gateway{Client: c, Logger: l.WithName("ClusterGateway")}
}

// GetStatefulSet fetches the target StatefulSet.
func (g *Gateway) GetStatefulSet(ctx context.Context, namespace, name string) (*appsv1.StatefulSet, error) {
	var sts appsv1.StatefulSet
	key := types.NamespacedName{Namespace: namespace, Name: name}
	if err := g.Client.Get(ctx, key, &sts); err != nil {
		return nil, fmt.Errorf("get statefulset %s: %w", key, err)
	}
	return &sts, nil
}

// GetPod fetches a single pod, returning (nil, nil) if it is gone.
func (g *Gateway) GetPod(ctx context.Context, namespace, name string) (*corev1.Pod, error) {
	var pod corev1.Pod
	key := types.NamespacedName{Namespace: namespace, Name: name}
	err := g.Client.Get(ctx, key, &pod)
	if apierrors.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pod %s: %w", key, err)
	}
	return &pod, nil
}

// PatchAnnotations applies the given annotation Update to the
// StatefulSet as a merge patch. A nil patch (empty update) is a no-op,
// mirroring the teacher's "skip the patch call if nothing changed"
// discipline rather than issuing an empty PATCH request.
func (g *Gateway) PatchAnnotations(ctx context.Context, sts *appsv1.StatefulSet, u annotationstore.Update) error {
	patch := annotationstore.EncodePatch(u)
	if patch == nil {
		return nil
	}

	orig := sts.DeepCopy()
	if sts.Annotations == nil {
		sts.Annotations = map[string]string{}
	}

	merged, err := mergeAnnotations(patch)
	if err != nil {
		return err
	}
	for k, v := range merged {
		sts.Annotations[k] = v
	}

	if err := g.Client.Patch(ctx, sts, client.MergeFromWithOptions(orig, client.MergeFromWithOptimisticLock{})); err != nil {
		return fmt.Errorf("patch statefulset %s/%s annotations: %w", sts.Namespace, sts.Name, err)
	}

	return nil
}

func mergeAnnotations(patch map[string]interface{}) (map[string]string, error) {
	meta, ok := patch["metadata"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("malformed annotation patch: missing metadata")
	}
	ann, ok := meta["annotations"].(map[string]string)
	if !ok {
		return nil, fmt.Errorf("malformed annotation patch: missing annotations")
	}
	return ann, nil
}

// DeletePod deletes a pod by namespace/name under the given termination
// grace period, treating "already gone" as success (SPEC_FULL.md §4.1:
// deleting an already-deleted pod is a no-op, not a failure).
func (g *Gateway) DeletePod(ctx context.Context, pod *corev1.Pod, gracePeriodSeconds int64) error {
	opts := client.GracePeriodSeconds(gracePeriodSeconds)
	if err := g.Client.Delete(ctx, pod, opts); err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("delete pod %s/%s: %w", pod.Namespace, pod.Name, err)
	}
	return nil
}
