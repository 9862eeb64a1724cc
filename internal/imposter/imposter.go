package imposter

import (
	"context"
	"fmt"
	"sync"

	"stagehand/internal/api"
	"stagehand/internal/services"
)

// Imposter is a registered test double. It implements api.Resource.
type Imposter struct {
	*services.BaseService

	port     int
	owner    string
	location api.ServiceLocation
	manager  *Manager
	claimed  bool

	stopMu  sync.Mutex
	stopped bool
}

var _ api.Resource = (*Imposter)(nil)

func newImposter(name, owner string, m *Manager) *Imposter {
	return &Imposter{
		BaseService: services.NewBaseService(name),
		owner:       owner,
		manager:     m,
	}
}

// Kind implements api.Resource.
func (i *Imposter) Kind() api.ResourceKind {
	return api.KindImposter
}

// Location returns the address the backend bound for this imposter.
func (i *Imposter) Location() api.ServiceLocation {
	return i.location
}

// Port returns the backend-assigned port.
func (i *Imposter) Port() int {
	return i.port
}

// Requests fetches the requests recorded so far.
func (i *Imposter) Requests(ctx context.Context) ([]CapturedRequest, error) {
	return i.manager.Requests(ctx, i)
}

// Stop deregisters the imposter. Only the first successful call talks to the
// backend; a failed call may be retried.
func (i *Imposter) Stop(ctx context.Context) error {
	i.stopMu.Lock()
	defer i.stopMu.Unlock()

	if i.stopped {
		return nil
	}

	i.UpdateState(services.StateStopping, i.Health(), nil)
	if err := i.manager.remove(ctx, i.port); err != nil {
		i.UpdateState(services.StateFailed, services.HealthUnknown, err)
		return fmt.Errorf("deregister imposter %s: %w", i.Name(), err)
	}

	i.stopped = true
	if i.claimed && i.manager.ports != nil {
		i.manager.ports.Release(i.port, i.owner)
	}
	i.UpdateState(services.StateStopped, services.HealthUnknown, nil)
	return nil
}
