package api

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrWorldDisposed is returned by World operations attempted after Dispose.
var ErrWorldDisposed = errors.New("world already disposed")

// ResourceExhaustedError reports that no free port was found within the
// allocator's probe budget.
type ResourceExhaustedError struct {
	// Resource names what ran out, e.g. "port"
	Resource string
	// Attempts is the number of candidates probed before giving up
	Attempts int
	// Detail describes the searched range
	Detail string
}

func (e *ResourceExhaustedError) Error() string {
	msg := fmt.Sprintf("%s exhausted after %d attempts", e.Resource, e.Attempts)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// TimedOutError reports that a deadline passed. It is distinct from an explicit
// failure: the resource might still have converged later.
type TimedOutError struct {
	// Operation is what was being waited for, e.g. "health check", "provisioning"
	Operation string
	// Target names the resource or scenario
	Target  string
	Timeout time.Duration
	Elapsed time.Duration
}

func (e *TimedOutError) Error() string {
	return fmt.Sprintf("%s of %s timed out after %s (limit %s)", e.Operation, e.Target, e.Elapsed.Round(time.Millisecond), e.Timeout)
}

// StartFailedError reports that a construction function or its Start call
// failed. No health probe was attempted.
type StartFailedError struct {
	Name  string
	Port  int
	Cause error
}

func (e *StartFailedError) Error() string {
	return fmt.Sprintf("service %s failed to start on port %d: %v", e.Name, e.Port, e.Cause)
}

func (e *StartFailedError) Unwrap() error { return e.Cause }

// ServiceUnhealthyError reports that a health check never reported ready.
type ServiceUnhealthyError struct {
	Name     string
	Port     int
	Attempts int
	// LastProbeErr is the error returned by the final probe call, if any
	LastProbeErr error
	// Cause is a *TimedOutError or the context error that cut the wait short
	Cause error
}

func (e *ServiceUnhealthyError) Error() string {
	msg := fmt.Sprintf("service %s on port %d unhealthy after %d probe(s): %v", e.Name, e.Port, e.Attempts, e.Cause)
	if e.LastProbeErr != nil {
		msg += fmt.Sprintf(" (last probe: %v)", e.LastProbeErr)
	}
	return msg
}

func (e *ServiceUnhealthyError) Unwrap() error { return e.Cause }

// RegistrationFailedError reports that the virtualization backend rejected or
// could not be reached for an imposter definition.
type RegistrationFailedError struct {
	Name string
	// StatusCode is the backend's HTTP status, 0 when no response arrived
	StatusCode int
	// Body is the backend's error payload, truncated
	Body  string
	Cause error
}

func (e *RegistrationFailedError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("imposter %s registration rejected with status %d: %s", e.Name, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("imposter %s registration rejected with status %d", e.Name, e.StatusCode)
	default:
		return fmt.Sprintf("imposter %s registration failed: %v", e.Name, e.Cause)
	}
}

func (e *RegistrationFailedError) Unwrap() error { return e.Cause }

// TeardownError is a non-fatal failure to stop one resource. Teardown errors
// are collected, never thrown.
type TeardownError struct {
	Name  string
	Kind  ResourceKind
	Cause error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("teardown of %s %s failed: %v", e.Kind, e.Name, e.Cause)
}

func (e *TeardownError) Unwrap() error { return e.Cause }

// TeardownErrors aggregates every TeardownError raised by one dispose.
type TeardownErrors []*TeardownError

func (e TeardownErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	parts := make([]string, 0, len(e))
	for _, te := range e {
		parts = append(parts, te.Error())
	}
	return fmt.Sprintf("%d teardown errors: %s", len(e), strings.Join(parts, "; "))
}

// Unwrap exposes the individual errors to errors.Is and errors.As.
func (e TeardownErrors) Unwrap() []error {
	errs := make([]error, 0, len(e))
	for _, te := range e {
		errs = append(errs, te)
	}
	return errs
}

// ErrOrNil returns nil for an empty collection so callers can return it directly.
func (e TeardownErrors) ErrOrNil() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// ConfigurationError reports an invalid environment declaration or harness
// configuration. It is raised before anything is provisioned.
type ConfigurationError struct {
	// Source is the file or scenario the problem was found in
	Source  string
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	if e.Source != "" {
		b.WriteString(e.Source)
		b.WriteString(": ")
	}
	if e.Field != "" {
		b.WriteString(e.Field)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// ProvisioningError is the setup-failure envelope surfaced to a scenario. It
// lets reporting tell "environment broke" apart from "behavior broke".
type ProvisioningError struct {
	Scenario string
	// Resource is the declaration that failed first, empty for aggregate failures
	Resource string
	Cause    error
	// Teardown holds failures while cleaning up the partially built World
	Teardown TeardownErrors
}

func (e *ProvisioningError) Error() string {
	msg := fmt.Sprintf("provisioning scenario %s failed", e.Scenario)
	if e.Resource != "" {
		msg += fmt.Sprintf(" at %s", e.Resource)
	}
	msg += fmt.Sprintf(": %v", e.Cause)
	if len(e.Teardown) > 0 {
		msg += fmt.Sprintf(" (cleanup: %v)", e.Teardown)
	}
	return msg
}

func (e *ProvisioningError) Unwrap() error { return e.Cause }

// IsResourceExhausted reports whether err is or wraps a ResourceExhaustedError.
func IsResourceExhausted(err error) bool {
	var target *ResourceExhaustedError
	return errors.As(err, &target)
}

// IsTimedOut reports whether err is or wraps a TimedOutError.
func IsTimedOut(err error) bool {
	var target *TimedOutError
	return errors.As(err, &target)
}

// IsStartFailed reports whether err is or wraps a StartFailedError.
func IsStartFailed(err error) bool {
	var target *StartFailedError
	return errors.As(err, &target)
}

// IsServiceUnhealthy reports whether err is or wraps a ServiceUnhealthyError.
func IsServiceUnhealthy(err error) bool {
	var target *ServiceUnhealthyError
	return errors.As(err, &target)
}

// IsRegistrationFailed reports whether err is or wraps a RegistrationFailedError.
func IsRegistrationFailed(err error) bool {
	var target *RegistrationFailedError
	return errors.As(err, &target)
}

// IsTeardown reports whether err is or wraps a TeardownError.
func IsTeardown(err error) bool {
	var target *TeardownError
	return errors.As(err, &target)
}

// IsConfiguration reports whether err is or wraps a ConfigurationError.
func IsConfiguration(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// IsProvisioning reports whether err is or wraps a ProvisioningError.
func IsProvisioning(err error) bool {
	var target *ProvisioningError
	return errors.As(err, &target)
}
