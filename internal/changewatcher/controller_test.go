package changewatcher

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"rollout-operator/internal/clustergateway"
	"rollout-operator/internal/config"
	"rollout-operator/internal/events"
	"rollout-operator/internal/podselector"
	"rollout-operator/internal/readinesswaiter"
	"rollout-operator/internal/rolloutexecutor"
	"rollout-operator/internal/rolloutstate"
)

func discardLogger() logr.Logger {
	return logr.Discard()
}

func buildExecutorForTest(t *testing.T, c client.Client, gw *clustergateway.Gateway) *rolloutexecutor.Executor {
	t.Helper()
	sel := podselector.New(c)
	waiter := readinesswaiter.New(gw, discardLogger())
	rec := events.New(record.NewFakeRecorder(10))
	return rolloutexecutor.New(gw, sel, waiter, rec, testConfig(), discardLogger())
}

func newScheme(t *testing.T) *runtime.Scheme {
	t.Helper()
	scheme := runtime.NewScheme()
	if err := appsv1.AddToScheme(scheme); err != nil {
		t.Fatalf("add appsv1 to scheme: %v", err)
	}
	if err := corev1.AddToScheme(scheme); err != nil {
		t.Fatalf("add corev1 to scheme: %v", err)
	}
	return scheme
}

func testConfig() *config.Config {
	return &config.Config{
		TargetNamespace:   "demo",
		TargetStatefulSet: "demo-sts",
		DelaySeconds:      600,
		MaxUnavailable:    2,
		EnableHalfSplit:   true,
	}
}

func TestReconcileIgnoresOtherObjects(t *testing.T) {
	c := fake.NewClientBuilder().WithScheme(newScheme(t)).Build()
	r := &Reconciler{Client: c, Gateway: clustergateway.New(c, discardLogger()), Selector: podselector.New(c), Config: testConfig(), Events: events.New(record.NewFakeRecorder(10))}

	_, err := r.Reconcile(context.Background(), ctrl.Request{NamespacedName: types.NamespacedName{Namespace: "other", Name: "other-sts"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestReconcileSchedulesOnNewRevision(t *testing.T) {
	replicas := int32(2)
	sts := &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{Name: "demo-sts", Namespace: "demo"},
		Spec: appsv1.StatefulSetSpec{
			Replicas:       &replicas,
			Selector:       &metav1.LabelSelector{MatchLabels: map[string]string{"app": "demo"}},
			UpdateStrategy: appsv1.StatefulSetUpdateStrategy{Type: appsv1.OnDeleteStatefulSetStrategyType},
		},
		Status: appsv1.StatefulSetStatus{UpdateRevision: "rev-1", UpdatedReplicas: 0},
	}
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "demo-sts-0",
			Namespace: "demo",
			Labels:    map[string]string{"app": "demo", "apps.kubernetes.io/pod-index": "0"},
		},
	}
	c := fake.NewClientBuilder().WithScheme(newScheme(t)).WithObjects(sts, pod).Build()
	r := &Reconciler{Client: c, Gateway: clustergateway.New(c, discardLogger()), Selector: podselector.New(c), Config: testConfig(), Events: events.New(record.NewFakeRecorder(10))}

	_, err := r.Reconcile(context.Background(), ctrl.Request{NamespacedName: types.NamespacedName{Namespace: "demo", Name: "demo-sts"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := r.Gateway.GetStatefulSet(context.Background(), "demo", "demo-sts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Annotations[rolloutstate.KeyState] != string(rolloutstate.StatePlanned) {
		t.Fatalf("state = %q, want planned", got.Annotations[rolloutstate.KeyState])
	}
}

func TestReconcileNoopWhenRevisionComplete(t *testing.T) {
	replicas := int32(2)
	sts := &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "demo-sts",
			Namespace: "demo",
			Annotations: map[string]string{
				rolloutstate.KeyState:        string(rolloutstate.StateDone),
				rolloutstate.KeyLastRevision: "rev-1",
			},
		},
		Spec: appsv1.StatefulSetSpec{
			Replicas:       &replicas,
			Selector:       &metav1.LabelSelector{MatchLabels: map[string]string{"app": "demo"}},
			UpdateStrategy: appsv1.StatefulSetUpdateStrategy{Type: appsv1.OnDeleteStatefulSetStrategyType},
		},
		Status: appsv1.StatefulSetStatus{UpdateRevision: "rev-1", UpdatedReplicas: 2},
	}
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "demo-sts-0",
			Namespace: "demo",
			Labels:    map[string]string{"app": "demo", "apps.kubernetes.io/pod-index": "0"},
		},
	}
	c := fake.NewClientBuilder().WithScheme(newScheme(t)).WithObjects(sts, pod).Build()
	r := &Reconciler{Client: c, Gateway: clustergateway.New(c, discardLogger()), Selector: podselector.New(c), Config: testConfig(), Events: events.New(record.NewFakeRecorder(10))}

	_, err := r.Reconcile(context.Background(), ctrl.Request{NamespacedName: types.NamespacedName{Namespace: "demo", Name: "demo-sts"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := r.Gateway.GetStatefulSet(context.Background(), "demo", "demo-sts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Annotations[rolloutstate.KeyState] != string(rolloutstate.StateDone) {
		t.Fatalf("state changed unexpectedly to %q", got.Annotations[rolloutstate.KeyState])
	}
}

func TestReconcileRepairsMissingPlannedAt(t *testing.T) {
	replicas := int32(2)
	sts := &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "demo-sts",
			Namespace: "demo",
			Annotations: map[string]string{
				rolloutstate.KeyState:        string(rolloutstate.StatePlanned),
				rolloutstate.KeyLastRevision: "rev-1",
			},
		},
		Spec: appsv1.StatefulSetSpec{
			Replicas:       &replicas,
			Selector:       &metav1.LabelSelector{MatchLabels: map[string]string{"app": "demo"}},
			UpdateStrategy: appsv1.StatefulSetUpdateStrategy{Type: appsv1.OnDeleteStatefulSetStrategyType},
		},
		Status: appsv1.StatefulSetStatus{UpdateRevision: "rev-1"},
	}
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "demo-sts-0",
			Namespace: "demo",
			Labels:    map[string]string{"app": "demo", "apps.kubernetes.io/pod-index": "0"},
		},
	}
	c := fake.NewClientBuilder().WithScheme(newScheme(t)).WithObjects(sts, pod).Build()
	r := &Reconciler{Client: c, Gateway: clustergateway.New(c, discardLogger()), Selector: podselector.New(c), Config: testConfig(), Events: events.New(record.NewFakeRecorder(10))}

	_, err := r.Reconcile(context.Background(), ctrl.Request{NamespacedName: types.NamespacedName{Namespace: "demo", Name: "demo-sts"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := r.Gateway.GetStatefulSet(context.Background(), "demo", "demo-sts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Annotations[rolloutstate.KeyPlannedAt] == "" {
		t.Fatal("expected planned-at to be repaired")
	}
}

func TestReconcileRollingInvokesExecutor(t *testing.T) {
	replicas := int32(1)
	sts := &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "demo-sts",
			Namespace: "demo",
			Annotations: map[string]string{
				rolloutstate.KeyState: string(rolloutstate.StateRolling),
			},
		},
		Spec: appsv1.StatefulSetSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: map[string]string{"app": "demo"}},
		},
		Status: appsv1.StatefulSetStatus{UpdateRevision: "rev-1"},
	}
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "demo-sts-0",
			Namespace: "demo",
			Labels:    map[string]string{"app": "demo", "controller-revision-hash": "rev-1", "apps.kubernetes.io/pod-index": "0"},
		},
		Status: corev1.PodStatus{Conditions: []corev1.PodCondition{{Type: corev1.PodReady, Status: corev1.ConditionTrue}}},
	}
	c := fake.NewClientBuilder().WithScheme(newScheme(t)).WithObjects(sts, pod).Build()
	gw := clustergateway.New(c, discardLogger())

	exec := buildExecutorForTest(t, c, gw)
	r := &Reconciler{Client: c, Gateway: gw, Selector: podselector.New(c), Executor: exec, Config: testConfig(), Events: events.New(record.NewFakeRecorder(10))}

	_, err := r.Reconcile(context.Background(), ctrl.Request{NamespacedName: types.NamespacedName{Namespace: "demo", Name: "demo-sts"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := r.Gateway.GetStatefulSet(context.Background(), "demo", "demo-sts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Annotations[rolloutstate.KeyState] != string(rolloutstate.StateDone) {
		t.Fatalf("state = %q, want done (nothing outdated)", got.Annotations[rolloutstate.KeyState])
	}
}
