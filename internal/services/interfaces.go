package services

import (
	"context"

	"stagehand/internal/api"
)

type ServiceState = api.ServiceState
type HealthStatus = api.HealthStatus

const (
	StateUnknown  = api.StateUnknown
	StateStarting = api.StateStarting
	StateWaiting  = api.StateWaiting
	StateRunning  = api.StateRunning
	StateStopping = api.StateStopping
	StateStopped  = api.StateStopped
	StateFailed   = api.StateFailed
)

const (
	HealthUnknown   = api.HealthUnknown
	HealthHealthy   = api.HealthHealthy
	HealthUnhealthy = api.HealthUnhealthy
	HealthChecking  = api.HealthChecking
)

// Handle is the capability every orchestrable service kind implements. It is
// produced by a ConstructFunc for one allocated port.
type Handle interface {
	// Start launches the service. It must not wait for readiness.
	Start(ctx context.Context) error
	// HealthProbe reports whether the service accepts traffic.
	HealthProbe(ctx context.Context) (bool, error)
	// Stop shuts the service down. It may be called after a failed Start.
	Stop(ctx context.Context) error
	// Location describes where the service listens.
	Location(port int) api.ServiceLocation
}

// ConstructFunc builds a Handle bound to port.
type ConstructFunc func(port int) (Handle, error)

// StateChangeCallback is called whenever a service changes state.
type StateChangeCallback func(name string, oldState, newState ServiceState, health HealthStatus, err error)

// HandleFuncs adapts plain functions to a Handle. Nil functions are no-ops
// and a nil ProbeFunc reports ready immediately.
type HandleFuncs struct {
	Protocol  string
	Host      string
	StartFunc func(ctx context.Context) error
	ProbeFunc func(ctx context.Context) (bool, error)
	StopFunc  func(ctx context.Context) error
}

func (h *HandleFuncs) Start(ctx context.Context) error {
	if h.StartFunc == nil {
		return nil
	}
	return h.StartFunc(ctx)
}

func (h *HandleFuncs) HealthProbe(ctx context.Context) (bool, error) {
	if h.ProbeFunc == nil {
		return true, nil
	}
	return h.ProbeFunc(ctx)
}

func (h *HandleFuncs) Stop(ctx context.Context) error {
	if h.StopFunc == nil {
		return nil
	}
	return h.StopFunc(ctx)
}

func (h *HandleFuncs) Location(port int) api.ServiceLocation {
	protocol, host := h.Protocol, h.Host
	if protocol == "" {
		protocol = "http"
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return api.NewLocation(protocol, host, port)
}
