package health

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"stagehand/internal/api"
	"stagehand/pkg/logging"
)

const subsystem = "HealthChecker"

// Probe reports whether a resource is ready. A false result with a nil error
// means "not yet"; errors are recorded and the probe is retried.
type Probe func(ctx context.Context) (bool, error)

// Outcome is the terminal result of an Await call.
type Outcome int

const (
	Ready Outcome = iota
	TimedOut
	Canceled
)

func (o Outcome) String() string {
	switch o {
	case Ready:
		return "ready"
	case TimedOut:
		return "timed out"
	case Canceled:
		return "canceled"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Options controls one wait. Zero fields take the checker's defaults.
type Options struct {
	// Timeout bounds the whole wait
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// Interval is the delay after the first failed probe
	Interval time.Duration `yaml:"interval" json:"interval"`
	// BackoffFactor multiplies the delay after each failed probe
	BackoffFactor float64 `yaml:"backoffFactor" json:"backoffFactor"`
	// MaxInterval caps the delay
	MaxInterval time.Duration `yaml:"maxInterval" json:"maxInterval"`
	// ProbeTimeout bounds a single probe call
	ProbeTimeout time.Duration `yaml:"probeTimeout" json:"probeTimeout"`
}

// DefaultOptions returns the options used when a checker is built without any.
func DefaultOptions() Options {
	return Options{
		Timeout:       30 * time.Second,
		Interval:      100 * time.Millisecond,
		BackoffFactor: 1.5,
		MaxInterval:   2 * time.Second,
		ProbeTimeout:  time.Second,
	}
}

// WithDefaults fills the zero fields of o from d without any clamping.
func (o Options) WithDefaults(d Options) Options {
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.Interval <= 0 {
		o.Interval = d.Interval
	}
	if o.BackoffFactor == 0 {
		o.BackoffFactor = d.BackoffFactor
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = d.MaxInterval
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = d.ProbeTimeout
	}
	return o
}

// merge fills zero fields from defaults and clamps the result into a usable
// schedule.
func (o Options) merge(defaults Options) Options {
	o = o.WithDefaults(defaults)
	if o.BackoffFactor < 1 {
		o.BackoffFactor = 1
	}
	if o.MaxInterval < o.Interval {
		o.MaxInterval = o.Interval
	}
	if o.ProbeTimeout > o.Timeout {
		o.ProbeTimeout = o.Timeout
	}
	return o
}

// Result describes how a wait ended.
type Result struct {
	Outcome  Outcome
	Attempts int
	Elapsed  time.Duration
	Timeout  time.Duration
	// LastErr is the error of the last failed probe, if it returned one
	LastErr error
	// Cause is the context error for Canceled results
	Cause error
}

// Err converts a non-ready result into the harness error taxonomy: a
// *api.TimedOutError for TimedOut and the context error for Canceled.
func (r Result) Err(operation, target string) error {
	switch r.Outcome {
	case Ready:
		return nil
	case TimedOut:
		return &api.TimedOutError{Operation: operation, Target: target, Timeout: r.Timeout, Elapsed: r.Elapsed}
	default:
		if r.Cause != nil {
			return r.Cause
		}
		return context.Canceled
	}
}

// Checker awaits probes.
type Checker struct {
	defaults Options
}

// NewChecker returns a checker whose zero-valued options fall back to
// defaults, and then to DefaultOptions.
func NewChecker(defaults Options) *Checker {
	return &Checker{defaults: defaults.merge(DefaultOptions())}
}

// Defaults returns the effective default options.
func (c *Checker) Defaults() Options {
	return c.defaults
}

func newBackOff(opts Options) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.Interval
	b.Multiplier = opts.BackoffFactor
	b.MaxInterval = opts.MaxInterval
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// Await calls probe until it reports ready, the timeout elapses or ctx ends.
func (c *Checker) Await(ctx context.Context, probe Probe, opts Options) Result {
	opts = opts.merge(c.defaults)
	b := newBackOff(opts)

	start := time.Now()
	result := Result{Timeout: opts.Timeout}

	for {
		result.Attempts++
		probeCtx, cancel := context.WithTimeout(ctx, opts.ProbeTimeout)
		ok, err := probe(probeCtx)
		cancel()

		result.Elapsed = time.Since(start)
		if ok {
			result.Outcome = Ready
			logging.Debug(subsystem, "Probe ready after %d attempt(s) in %s", result.Attempts, result.Elapsed)
			return result
		}
		if err != nil {
			result.LastErr = err
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			result.Outcome = Canceled
			result.Cause = ctxErr
			return result
		}

		remaining := opts.Timeout - result.Elapsed
		if remaining <= 0 {
			result.Outcome = TimedOut
			logging.Debug(subsystem, "Probe not ready after %d attempt(s) in %s", result.Attempts, result.Elapsed)
			return result
		}

		wait := b.NextBackOff()
		if wait > remaining {
			wait = remaining
		}
		logging.Debug(subsystem, "Probe attempt %d not ready (err: %v), retrying in %s", result.Attempts, err, wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			result.Outcome = Canceled
			result.Cause = ctx.Err()
			result.Elapsed = time.Since(start)
			return result
		case <-timer.C:
		}
	}
}
