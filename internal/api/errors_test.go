package api

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorPredicates(t *testing.T) {
	timedOut := &TimedOutError{Operation: "health check", Target: "web", Timeout: time.Second, Elapsed: time.Second}

	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"resource exhausted", &ResourceExhaustedError{Resource: "port", Attempts: 3}, IsResourceExhausted},
		{"timed out", timedOut, IsTimedOut},
		{"start failed", &StartFailedError{Name: "web", Port: 1, Cause: errors.New("exec")}, IsStartFailed},
		{"unhealthy", &ServiceUnhealthyError{Name: "web", Cause: timedOut}, IsServiceUnhealthy},
		{"registration", &RegistrationFailedError{Name: "pay", StatusCode: 400}, IsRegistrationFailed},
		{"teardown", &TeardownError{Name: "web", Kind: KindService, Cause: errors.New("x")}, IsTeardown},
		{"configuration", &ConfigurationError{Field: "name", Message: "duplicate"}, IsConfiguration},
		{"provisioning", &ProvisioningError{Scenario: "s", Cause: timedOut}, IsProvisioning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.True(t, tt.check(fmt.Errorf("wrapped: %w", tt.err)))
			assert.False(t, tt.check(errors.New("plain")))
		})
	}
}

func TestServiceUnhealthyUnwrapsTimeout(t *testing.T) {
	err := &ProvisioningError{
		Scenario: "checkout",
		Resource: "web",
		Cause: &ServiceUnhealthyError{
			Name:     "web",
			Port:     18001,
			Attempts: 4,
			Cause:    &TimedOutError{Operation: "health check", Target: "web", Timeout: time.Second},
		},
	}

	assert.True(t, IsServiceUnhealthy(err))
	assert.True(t, IsTimedOut(err))
	assert.Contains(t, err.Error(), "checkout")
	assert.Contains(t, err.Error(), "at web")
}

func TestServiceUnhealthyUnwrapsCancellation(t *testing.T) {
	err := &ServiceUnhealthyError{Name: "web", Cause: context.Canceled}
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsTimedOut(err))
}

func TestTeardownErrors(t *testing.T) {
	var empty TeardownErrors
	assert.NoError(t, empty.ErrOrNil())

	cause := errors.New("socket busy")
	errs := TeardownErrors{
		{Name: "c", Kind: KindService, Cause: cause},
		{Name: "a", Kind: KindImposter, Cause: errors.New("gone")},
	}

	err := errs.ErrOrNil()
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsTeardown(err))
	assert.Contains(t, err.Error(), "2 teardown errors")

	var te *TeardownError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "c", te.Name)
}

func TestRegistrationFailedMessages(t *testing.T) {
	assert.Equal(t, "imposter pay registration rejected with status 400: bad stub",
		(&RegistrationFailedError{Name: "pay", StatusCode: 400, Body: "bad stub"}).Error())
	assert.Equal(t, "imposter pay registration rejected with status 500",
		(&RegistrationFailedError{Name: "pay", StatusCode: 500}).Error())
	assert.Contains(t, (&RegistrationFailedError{Name: "pay", Cause: errors.New("connection refused")}).Error(), "connection refused")
}

func TestConfigurationErrorFormatting(t *testing.T) {
	err := &ConfigurationError{Source: "checkout.yaml", Field: "environment[1].name", Message: `duplicate name "web"`}
	assert.Equal(t, `checkout.yaml: environment[1].name: duplicate name "web"`, err.Error())
}
