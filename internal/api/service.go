package api

// ServiceState represents the lifecycle state of a single service or imposter.
type ServiceState string

const (
	StateUnknown  ServiceState = "unknown"
	StateStarting ServiceState = "starting"
	StateWaiting  ServiceState = "waiting" // started, health check pending
	StateRunning  ServiceState = "running"
	StateStopping ServiceState = "stopping"
	StateStopped  ServiceState = "stopped"
	StateFailed   ServiceState = "failed"
)

// HealthStatus represents the last observed health of a service.
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "unknown"
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthChecking  HealthStatus = "checking"
)

// IsTerminal reports whether no further transitions are expected.
func (s ServiceState) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}
