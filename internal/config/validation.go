package config

import (
	"errors"
	"fmt"

	"stagehand/internal/api"
	"stagehand/internal/environment"
)

// Validate checks cfg. kinds may be nil to skip the service kind check of
// global declarations. All problems are returned joined.
func (c Config) Validate(kinds environment.KindChecker) error {
	var errs []error
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, &api.ConfigurationError{Source: "config", Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Ports.Base < 0 || c.Ports.Base > 65535 {
		add("ports.base", "must be between 0 and 65535, got %d", c.Ports.Base)
	}
	if c.Ports.Span < 0 {
		add("ports.span", "cannot be negative")
	}
	if c.Ports.MaxAttempts < 0 {
		add("ports.maxAttempts", "cannot be negative")
	}

	if c.Health.Timeout < 0 || c.Health.Interval < 0 || c.Health.MaxInterval < 0 || c.Health.ProbeTimeout < 0 {
		add("health", "durations cannot be negative")
	}
	if c.Health.BackoffFactor != 0 && c.Health.BackoffFactor < 1 {
		add("health.backoffFactor", "must be at least 1, got %g", c.Health.BackoffFactor)
	}

	if c.Backend.URL != "" && c.Backend.Disabled {
		add("backend", "url is set but the backend is disabled")
	}
	if c.Backend.RetryMax < 0 {
		add("backend.retryMax", "cannot be negative")
	}

	if c.Timeouts.Provision < 0 || c.Timeouts.Resource < 0 || c.Timeouts.Teardown < 0 || c.Timeouts.Stop < 0 {
		add("timeouts", "durations cannot be negative")
	}

	switch c.Teardown.Policy {
	case "", "report", "fail":
	default:
		add("teardown.policy", "unknown policy %q (expected report or fail)", c.Teardown.Policy)
	}

	if c.Runner.Parallel < 0 {
		add("runner.parallel", "cannot be negative")
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		add("logging.format", "unknown format %q (expected text or json)", c.Logging.Format)
	}

	if err := c.Global.Validate("config: global", kinds); err != nil {
		errs = append(errs, err)
	}
	if c.Backend.Disabled {
		for _, d := range c.Global {
			if kind, _ := d.Kind(); kind == api.KindImposter {
				add("global", "imposter %s declared but the backend is disabled", d.Name)
			}
		}
	}

	return errors.Join(errs...)
}

// TemplateVars returns Vars as template variables.
func (c Config) TemplateVars() map[string]interface{} {
	vars := make(map[string]interface{}, len(c.Vars))
	for k, v := range c.Vars {
		vars[k] = v
	}
	return vars
}
