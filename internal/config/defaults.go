package config

import (
	"time"

	"stagehand/internal/health"
)

const (
	DefaultPortHost        = "127.0.0.1"
	DefaultPortSpan        = 1000
	DefaultPortMaxAttempts = 100
	DefaultTeardownPolicy  = "report"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
)

// GetDefaultConfig returns the default configuration.
func GetDefaultConfig() Config {
	h := health.DefaultOptions()
	return Config{
		Ports: PortsConfig{
			Host:        DefaultPortHost,
			Span:        DefaultPortSpan,
			MaxAttempts: DefaultPortMaxAttempts,
		},
		Health: HealthConfig{
			Timeout:       h.Timeout,
			Interval:      h.Interval,
			BackoffFactor: h.BackoffFactor,
			MaxInterval:   h.MaxInterval,
			ProbeTimeout:  h.ProbeTimeout,
		},
		Backend: BackendConfig{
			Host:            DefaultPortHost,
			RegisterTimeout: 10 * time.Second,
			RetryMax:        3,
		},
		Timeouts: TimeoutsConfig{
			Provision: 2 * time.Minute,
			Teardown:  time.Minute,
			Stop:      10 * time.Second,
		},
		Teardown: TeardownConfig{Policy: DefaultTeardownPolicy},
		Runner: RunnerConfig{
			Parallel:        1,
			ScenarioTimeout: 10 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
