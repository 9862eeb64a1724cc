package services

import (
	"context"
	"time"

	"stagehand/internal/api"
	"stagehand/internal/health"
	"stagehand/pkg/logging"
)

const subsystem = "ServiceFactory"

const DefaultStopTimeout = 10 * time.Second

// PortAllocator is the part of the port allocator the factory needs.
type PortAllocator interface {
	PortReleaser
	Allocate(owner string) (int, error)
}

// HealthAwaiter waits for a probe to report ready.
type HealthAwaiter interface {
	Await(ctx context.Context, probe health.Probe, opts health.Options) health.Result
}

// HealthOptioner is implemented by handles that carry their own health
// check settings. Options passed to Create take precedence.
type HealthOptioner interface {
	HealthOptions() health.Options
}

// CreateOptions tunes one Create call.
type CreateOptions struct {
	// Owner is the port reservation owner, usually the World ID
	Owner string
	// Health overrides the health check settings
	Health health.Options
	// OnStateChange observes lifecycle transitions
	OnStateChange StateChangeCallback
}

// Factory turns construction functions into running, healthy services.
type Factory struct {
	ports       PortAllocator
	checker     HealthAwaiter
	stopTimeout time.Duration
}

// NewFactory creates a factory. A stopTimeout of zero uses DefaultStopTimeout.
func NewFactory(ports PortAllocator, checker HealthAwaiter, stopTimeout time.Duration) *Factory {
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}
	return &Factory{ports: ports, checker: checker, stopTimeout: stopTimeout}
}

// Create allocates a port, constructs and starts a handle on it and waits for
// the handle's probe to report ready.
//
// If construction or Start fails, the handle is stopped on a best-effort basis,
// the port is released and a *api.StartFailedError is returned without any
// probe call. If the health check fails, the handle is stopped, the port is
// released and a *api.ServiceUnhealthyError wrapping the timeout or
// cancellation is returned.
func (f *Factory) Create(ctx context.Context, name string, construct ConstructFunc, opts CreateOptions) (*Service, error) {
	owner := opts.Owner
	if owner == "" {
		owner = name
	}

	port, err := f.ports.Allocate(owner)
	if err != nil {
		return nil, err
	}

	svc := newService(name, port, owner, f.ports)
	svc.SetStateChangeCallback(opts.OnStateChange)
	svc.UpdateState(StateStarting, HealthUnknown, nil)

	handle, err := construct(port)
	if err != nil {
		f.ports.Release(port, owner)
		svc.UpdateState(StateFailed, HealthUnknown, err)
		return nil, &api.StartFailedError{Name: name, Port: port, Cause: err}
	}
	svc.handle = handle
	svc.location = handle.Location(port)

	logging.Debug(subsystem, "Starting service %s on port %d", name, port)
	if err := handle.Start(ctx); err != nil {
		stopCtx, cancel := f.cleanupContext(ctx)
		defer cancel()
		if stopErr := svc.Stop(stopCtx); stopErr != nil {
			logging.Warn(subsystem, "Cleanup of service %s after failed start: %v", name, stopErr)
		}
		svc.UpdateState(StateFailed, HealthUnknown, err)
		return nil, &api.StartFailedError{Name: name, Port: port, Cause: err}
	}

	healthOpts := opts.Health
	if ho, ok := handle.(HealthOptioner); ok {
		healthOpts = healthOpts.WithDefaults(ho.HealthOptions())
	}

	svc.UpdateState(StateWaiting, HealthChecking, nil)
	result := f.checker.Await(ctx, handle.HealthProbe, healthOpts)
	if result.Outcome != health.Ready {
		cause := result.Err("health check", name)

		stopCtx, cancel := f.cleanupContext(ctx)
		defer cancel()
		if stopErr := svc.Stop(stopCtx); stopErr != nil {
			logging.Warn(subsystem, "Cleanup of unhealthy service %s: %v", name, stopErr)
		}
		svc.UpdateState(StateFailed, HealthUnhealthy, cause)

		return nil, &api.ServiceUnhealthyError{
			Name:         name,
			Port:         port,
			Attempts:     result.Attempts,
			LastProbeErr: result.LastErr,
			Cause:        cause,
		}
	}

	svc.UpdateState(StateRunning, HealthHealthy, nil)
	logging.Info(subsystem, "Service %s ready at %s after %d probe(s)", name, svc.location.URL(), result.Attempts)
	return svc, nil
}

// cleanupContext outlives ctx cancellation so a canceled provisioning still
// stops what it started.
func (f *Factory) cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), f.stopTimeout)
}
