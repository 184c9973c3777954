// Command operator runs the rollout operator: a controller-runtime
// manager hosting the StatefulSet reconciler and the delay gate.
//
// Grounded on the teacher's go-logr/zapr logging idiom (the packages
// under internal/ that log take a logr.Logger, constructed here once
// from a zap core) and the wider pack's use of spf13/cobra for operator CLIs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	appsv1 "k8s.io/api/apps/v1"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"rollout-operator/internal/changewatcher"
	"rollout-operator/internal/clustergateway"
	"rollout-operator/internal/config"
	"rollout-operator/internal/delaygate"
	"rollout-operator/internal/events"
	"rollout-operator/internal/podselector"
	"rollout-operator/internal/readinesswaiter"
	"rollout-operator/internal/rolloutexecutor"
	"rollout-operator/internal/telemetry"
)

var scheme = runtime.NewScheme()

func init() {
	_ = clientgoscheme.AddToScheme(scheme)
	_ = appsv1.AddToScheme(scheme)
}

func newZapLogger(jsonLogs bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if !jsonLogs {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("build zap logger: %v", err))
	}
	return logger
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	zlog := newZapLogger(cfg.JSONLogs)
	defer zlog.Sync() //nolint:errcheck
	log := zapr.NewLogger(zlog)
	ctrl.SetLogger(log)

	shutdownTracing, err := telemetry.Setup(ctx, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		_ = shutdownTracing(context.Background())
	}()

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme: scheme,
		Metrics: server.Options{
			BindAddress: cfg.MetricsBindAddress,
		},
		HealthProbeBindAddress: cfg.HealthProbeBindAddress,
		LeaderElection:         cfg.LeaderElect,
		LeaderElectionID:       "rollout-operator.k8s.io",
	})
	if err != nil {
		return fmt.Errorf("build manager: %w", err)
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		return fmt.Errorf("add healthz check: %w", err)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		return fmt.Errorf("add readyz check: %w", err)
	}

	gw := clustergateway.New(mgr.GetClient(), log)
	sel := podselector.New(mgr.GetClient())
	waiter := readinesswaiter.New(gw, log)
	rec := events.New(mgr.GetEventRecorderFor("rollout-operator"))
	exec := rolloutexecutor.New(gw, sel, waiter, rec, cfg, log)

	reconciler := &changewatcher.Reconciler{
		Client:   mgr.GetClient(),
		Gateway:  gw,
		Selector: sel,
		Executor: exec,
		Config:   cfg,
	}
	if err := reconciler.SetupWithManager(mgr); err != nil {
		return fmt.Errorf("setup reconciler: %w", err)
	}

	gate := delaygate.New(gw, sel, rec, cfg, log)
	if err := mgr.Add(gate); err != nil {
		return fmt.Errorf("register delay gate: %w", err)
	}

	log.Info("starting rollout operator",
		"targetNamespace", cfg.TargetNamespace,
		"targetStatefulSet", cfg.TargetStatefulSet,
		"delaySeconds", cfg.DelaySeconds,
		"maxUnavailable", cfg.MaxUnavailable,
		"enableHalfSplit", cfg.EnableHalfSplit,
		"dryRun", cfg.DryRun,
	)

	return mgr.Start(ctx)
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "operator",
		Short: "Runs the batched OnDelete StatefulSet rollout operator",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return run(ctx)
		},
	}
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
