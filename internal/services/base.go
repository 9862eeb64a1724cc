package services

import (
	"sync"
)

// BaseService tracks the lifecycle state of one resource and reports
// transitions to an optional callback. Services and imposters embed it.
type BaseService struct {
	mu            sync.RWMutex
	name          string
	state         ServiceState
	health        HealthStatus
	lastError     error
	stateChangeCb StateChangeCallback
}

// NewBaseService creates a new base service
func NewBaseService(name string) *BaseService {
	return &BaseService{
		name:   name,
		state:  StateUnknown,
		health: HealthUnknown,
	}
}

// Name returns the service name
func (b *BaseService) Name() string {
	return b.name
}

// State returns the current state
func (b *BaseService) State() ServiceState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Health returns the current health status
func (b *BaseService) Health() HealthStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.health
}

// LastError returns the error recorded with the latest transition
func (b *BaseService) LastError() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastError
}

// SetStateChangeCallback sets the state change callback
func (b *BaseService) SetStateChangeCallback(callback StateChangeCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stateChangeCb = callback
}

// UpdateState updates the service state and notifies the callback
func (b *BaseService) UpdateState(newState ServiceState, health HealthStatus, err error) {
	b.mu.Lock()
	oldState := b.state
	b.state = newState
	b.health = health
	b.lastError = err
	callback := b.stateChangeCb
	b.mu.Unlock()

	// Called outside the lock so callbacks may read the service.
	if callback != nil && oldState != newState {
		callback(b.name, oldState, newState, health, err)
	}
}
