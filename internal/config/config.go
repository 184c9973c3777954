// Package config loads and validates the operator's environment-variable
// surface (SPEC_FULL.md §6). Parsing follows the teacher's ecosystem
// choice for struct-tag driven env loading; the rules that struct tags
// cannot express (whitespace-only required values, MAX_UNAVAILABLE >= 1)
// are checked explicitly by Validate.
package config

import (
	"fmt"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is the fixed environment variable prefix named in
// SPEC_FULL.md §6 (e.g. ROLLOUT_OP_TARGET_NAMESPACE).
const Prefix = "ROLLOUT_OP"

// Config is the operator's full configuration surface.
type Config struct {
	TargetNamespace   string `envconfig:"TARGET_NAMESPACE" required:"true"`
	TargetStatefulSet string `envconfig:"TARGET_STATEFUL_SET" required:"true"`

	DelaySeconds              int  `envconfig:"DELAY_SECONDS" default:"600"`
	EnableHalfSplit           bool `envconfig:"ENABLE_HALF_SPLIT" default:"true"`
	MaxUnavailable            int  `envconfig:"MAX_UNAVAILABLE" default:"2"`
	CountdownLogInterval      int  `envconfig:"COUNTDOWN_LOG_INTERVAL" default:"60"`
	PodTerminationGracePeriod int  `envconfig:"POD_TERMINATION_GRACE_PERIOD" default:"30"`
	JSONLogs                  bool `envconfig:"JSON_LOGS" default:"false"`
	DryRun                    bool `envconfig:"DRY_RUN" default:"false"`

	MetricsBindAddress      string `envconfig:"METRICS_BIND_ADDRESS" default:":8080"`
	HealthProbeBindAddress  string `envconfig:"HEALTH_PROBE_BIND_ADDRESS" default:":8081"`
	LeaderElect             bool   `envconfig:"LEADER_ELECT" default:"false"`
}

// ValidationError marks a configuration problem as fatal-at-startup,
// distinct from a reconcile-time error (SPEC_FULL.md §7).
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func invalid(format string, args ...interface{}) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// Load reads Config from the environment and validates it.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process(Prefix, &c); err != nil {
		return nil, invalid("load config: %v", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

// Validate enforces the cross-field and trimming rules envconfig tags
// cannot express on their own.
func (c *Config) Validate() error {
	c.TargetNamespace = strings.TrimSpace(c.TargetNamespace)
	c.TargetStatefulSet = strings.TrimSpace(c.TargetStatefulSet)

	if c.TargetNamespace == "" {
		return invalid("%s_TARGET_NAMESPACE must not be empty or whitespace", Prefix)
	}
	if c.TargetStatefulSet == "" {
		return invalid("%s_TARGET_STATEFUL_SET must not be empty or whitespace", Prefix)
	}
	if c.DelaySeconds < 0 {
		return invalid("%s_DELAY_SECONDS must be >= 0, got %d", Prefix, c.DelaySeconds)
	}
	if c.MaxUnavailable < 1 {
		return invalid("%s_MAX_UNAVAILABLE must be >= 1, got %d", Prefix, c.MaxUnavailable)
	}
	if c.CountdownLogInterval < 1 {
		return invalid("%s_COUNTDOWN_LOG_INTERVAL must be >= 1, got %d", Prefix, c.CountdownLogInterval)
	}
	if c.PodTerminationGracePeriod < 0 {
		return invalid("%s_POD_TERMINATION_GRACE_PERIOD must be >= 0, got %d", Prefix, c.PodTerminationGracePeriod)
	}

	return nil
}
