package services

import (
	"context"
	"fmt"
	"sync"

	"stagehand/internal/api"
	"stagehand/pkg/logging"
)

// PortReleaser gives a port back once its holder is done with it.
type PortReleaser interface {
	Release(port int, owner string)
}

// Service is a running handle bound to an allocated port. It is owned by
// exactly one World and stopped exactly once.
type Service struct {
	*BaseService

	port     int
	owner    string
	location api.ServiceLocation
	handle   Handle
	ports    PortReleaser

	stopMu  sync.Mutex
	stopped bool
}

var _ api.Resource = (*Service)(nil)

func newService(name string, port int, owner string, ports PortReleaser) *Service {
	return &Service{
		BaseService: NewBaseService(name),
		port:        port,
		owner:       owner,
		ports:       ports,
	}
}

// Kind implements api.Resource.
func (s *Service) Kind() api.ResourceKind {
	return api.KindService
}

// Location returns where the service listens.
func (s *Service) Location() api.ServiceLocation {
	return s.location
}

// Port returns the allocated port.
func (s *Service) Port() int {
	return s.port
}

// Handle returns the underlying handle.
func (s *Service) Handle() Handle {
	return s.handle
}

// Stop stops the handle and then releases the port. Only the first call has
// any effect; later calls return nil.
func (s *Service) Stop(ctx context.Context) error {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	if s.stopped {
		return nil
	}
	s.stopped = true

	s.UpdateState(StateStopping, s.Health(), nil)
	logging.Debug(subsystem, "Stopping service %s on port %d", s.Name(), s.port)

	var err error
	if s.handle != nil {
		err = s.handle.Stop(ctx)
	}
	s.ports.Release(s.port, s.owner)

	if err != nil {
		s.UpdateState(StateFailed, HealthUnknown, err)
		return fmt.Errorf("stop service %s: %w", s.Name(), err)
	}
	s.UpdateState(StateStopped, HealthUnknown, nil)
	return nil
}

// Stopped reports whether Stop has been called.
func (s *Service) Stopped() bool {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()
	return s.stopped
}
