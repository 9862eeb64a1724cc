package config

import (
	"time"

	"stagehand/internal/environment"
	"stagehand/internal/health"
)

// Config is the top-level configuration of stagehand.
type Config struct {
	Ports    PortsConfig    `yaml:"ports" envPrefix:"PORTS_"`
	Health   HealthConfig   `yaml:"health" envPrefix:"HEALTH_"`
	Backend  BackendConfig  `yaml:"backend" envPrefix:"BACKEND_"`
	Timeouts TimeoutsConfig `yaml:"timeouts" envPrefix:"TIMEOUT_"`
	Teardown TeardownConfig `yaml:"teardown" envPrefix:"TEARDOWN_"`
	Runner   RunnerConfig   `yaml:"runner" envPrefix:"RUNNER_"`
	Logging  LoggingConfig  `yaml:"logging" envPrefix:"LOG_"`

	// Global declares resources of the process-wide World
	Global environment.Environment `yaml:"global,omitempty"`
	// Vars are template variables available to every declaration
	Vars map[string]string `yaml:"vars,omitempty" env:"VARS"`
}

// PortsConfig configures the port allocator. A zero Base lets the OS pick
// ports.
type PortsConfig struct {
	Host        string `yaml:"host,omitempty" env:"HOST"`
	Base        int    `yaml:"base,omitempty" env:"BASE"`
	Span        int    `yaml:"span,omitempty" env:"SPAN"`
	MaxAttempts int    `yaml:"maxAttempts,omitempty" env:"MAX_ATTEMPTS"`
}

// HealthConfig holds the default health check settings.
type HealthConfig struct {
	Timeout       time.Duration `yaml:"timeout,omitempty" env:"TIMEOUT"`
	Interval      time.Duration `yaml:"interval,omitempty" env:"INTERVAL"`
	BackoffFactor float64       `yaml:"backoffFactor,omitempty" env:"BACKOFF_FACTOR"`
	MaxInterval   time.Duration `yaml:"maxInterval,omitempty" env:"MAX_INTERVAL"`
	ProbeTimeout  time.Duration `yaml:"probeTimeout,omitempty" env:"PROBE_TIMEOUT"`
}

// Options converts the settings for the health checker.
func (h HealthConfig) Options() health.Options {
	return health.Options{
		Timeout:       h.Timeout,
		Interval:      h.Interval,
		BackoffFactor: h.BackoffFactor,
		MaxInterval:   h.MaxInterval,
		ProbeTimeout:  h.ProbeTimeout,
	}
}

// BackendConfig points at the virtualization backend.
type BackendConfig struct {
	// URL of the backend admin API; empty starts the embedded backend
	URL string `yaml:"url,omitempty" env:"URL"`
	// Host the embedded backend and its imposters listen on
	Host            string        `yaml:"host,omitempty" env:"HOST"`
	RegisterTimeout time.Duration `yaml:"registerTimeout,omitempty" env:"REGISTER_TIMEOUT"`
	RetryMax        int           `yaml:"retryMax,omitempty" env:"RETRY_MAX"`
	// Disabled turns imposter support off entirely
	Disabled bool `yaml:"disabled,omitempty" env:"DISABLED"`
}

// Embedded reports whether the in-process backend should be started.
func (b BackendConfig) Embedded() bool {
	return !b.Disabled && b.URL == ""
}

// TimeoutsConfig bounds the orchestration phases.
type TimeoutsConfig struct {
	Provision time.Duration `yaml:"provision,omitempty" env:"PROVISION"`
	Resource  time.Duration `yaml:"resource,omitempty" env:"RESOURCE"`
	Teardown  time.Duration `yaml:"teardown,omitempty" env:"TEARDOWN"`
	Stop      time.Duration `yaml:"stop,omitempty" env:"STOP"`
}

// TeardownConfig decides how teardown failures are treated.
type TeardownConfig struct {
	// Policy is "report" or "fail"
	Policy string `yaml:"policy,omitempty" env:"POLICY"`
}

// RunnerConfig tunes suite execution.
type RunnerConfig struct {
	Parallel        int           `yaml:"parallel,omitempty" env:"PARALLEL"`
	FailFast        bool          `yaml:"failFast,omitempty" env:"FAIL_FAST"`
	ScenarioTimeout time.Duration `yaml:"scenarioTimeout,omitempty" env:"SCENARIO_TIMEOUT"`
	ReportPath      string        `yaml:"reportPath,omitempty" env:"REPORT_PATH"`
}

// LoggingConfig selects the log level and format.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty" env:"LEVEL"`
	// Format is "text" or "json"
	Format string `yaml:"format,omitempty" env:"FORMAT"`
}
