package app

import (
	"context"
	"errors"
	"fmt"

	"stagehand/internal/config"
	"stagehand/internal/health"
	"stagehand/internal/imposter"
	"stagehand/internal/imposter/backend"
	"stagehand/internal/orchestrator"
	"stagehand/internal/ports"
	"stagehand/internal/services"
	"stagehand/internal/services/container"
	"stagehand/internal/services/httpstub"
	"stagehand/internal/services/process"
	"stagehand/internal/world"
	"stagehand/pkg/logging"
)

// Services holds the initialized component graph.
type Services struct {
	Ports   *ports.Allocator
	Checker *health.Checker
	Factory *services.Factory
	Catalog *services.Catalog

	// Backend is the in-process virtualization backend; nil when a remote
	// backend is configured or imposters are disabled
	Backend *backend.Embedded
	// Imposters is nil when imposters are disabled
	Imposters *imposter.Manager

	Global       *world.World
	Orchestrator *orchestrator.Orchestrator
}

// NewCatalog returns a catalog with every built-in service kind registered.
func NewCatalog() (*services.Catalog, error) {
	catalog := services.NewCatalog()
	if err := process.Register(catalog); err != nil {
		return nil, err
	}
	if err := httpstub.Register(catalog); err != nil {
		return nil, err
	}
	if err := container.Register(catalog); err != nil {
		return nil, err
	}
	return catalog, nil
}

// InitializeServices builds the component graph from settings. It starts the
// embedded backend when one is needed but provisions nothing.
func InitializeServices(settings config.Config) (*Services, error) {
	catalog, err := NewCatalog()
	if err != nil {
		return nil, fmt.Errorf("failed to register service kinds: %w", err)
	}

	if err := settings.Validate(catalog); err != nil {
		return nil, err
	}

	policy, err := orchestrator.ParseTeardownPolicy(settings.Teardown.Policy)
	if err != nil {
		return nil, err
	}

	s := &Services{Catalog: catalog}

	s.Ports = ports.New(ports.Options{
		Host:        settings.Ports.Host,
		BasePort:    settings.Ports.Base,
		Span:        settings.Ports.Span,
		MaxAttempts: settings.Ports.MaxAttempts,
	})
	s.Checker = health.NewChecker(settings.Health.Options())
	s.Factory = services.NewFactory(s.Ports, s.Checker, settings.Timeouts.Stop)

	var registrar world.ImposterRegistrar
	if !settings.Backend.Disabled {
		backendURL := settings.Backend.URL
		if settings.Backend.Embedded() {
			s.Backend, err = backend.StartEmbedded(settings.Backend.Host)
			if err != nil {
				return nil, err
			}
			backendURL = s.Backend.URL
			logging.Info("Bootstrap", "Started embedded virtualization backend at %s", backendURL)
		}

		s.Imposters, err = imposter.NewManager(imposter.Options{
			BackendURL:      backendURL,
			RegisterTimeout: settings.Backend.RegisterTimeout,
			RetryMax:        settings.Backend.RetryMax,
			Ports:           s.Ports,
		})
		if err != nil {
			s.stopBackend()
			return nil, err
		}
		registrar = s.Imposters
	} else {
		logging.Info("Bootstrap", "Virtualization backend disabled, imposters are unavailable")
	}

	s.Global = world.New(s.Factory, registrar, world.Options{
		Name:        "global",
		Scope:       world.ScopeGlobal,
		StopTimeout: settings.Timeouts.Stop,
	})

	s.Orchestrator = orchestrator.New(orchestrator.Deps{
		Factory:   s.Factory,
		Imposters: registrar,
		Catalog:   catalog,
		Global:    s.Global,
	}, orchestrator.Config{
		ProvisionTimeout: settings.Timeouts.Provision,
		ResourceTimeout:  settings.Timeouts.Resource,
		TeardownTimeout:  settings.Timeouts.Teardown,
		StopTimeout:      settings.Timeouts.Stop,
		TeardownPolicy:   policy,
		Vars:             settings.TemplateVars(),
	})

	return s, nil
}

// CheckBackend verifies a remote backend answers. The embedded backend is
// always reachable.
func (s *Services) CheckBackend(ctx context.Context) error {
	if s.Imposters == nil || s.Backend != nil {
		return nil
	}
	return s.Imposters.Ping(ctx)
}

// Close tears down every World and stops the embedded backend.
func (s *Services) Close(ctx context.Context) error {
	err := s.Orchestrator.Shutdown(ctx)
	s.stopBackend()
	if leaked := s.Ports.Reserved(); leaked > 0 {
		err = errors.Join(err, fmt.Errorf("%d port(s) still reserved after shutdown", leaked))
	}
	return err
}

func (s *Services) stopBackend() {
	if s.Backend == nil {
		return
	}
	if err := s.Backend.Stop(); err != nil {
		logging.Error("Bootstrap", err, "Embedded backend did not stop cleanly")
	}
}
