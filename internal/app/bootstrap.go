package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"stagehand/internal/config"
	"stagehand/pkg/logging"
)

// Application represents the main application structure that bootstraps and
// runs stagehand.
//
// The Application follows a two-phase initialization pattern:
//  1. Bootstrap phase: load configuration, initialize logging, build services
//  2. Execution phase: provision the global World and run one mode
//
// Example usage:
//
//	cfg := app.NewConfig(false, false, "")
//	application, err := app.NewApplication(cfg)
//	if err != nil {
//	    return fmt.Errorf("failed to create application: %w", err)
//	}
//	defer application.Close(context.Background())
//	suite, err := application.RunSuite(ctx, scenarios, reporter)
type Application struct {
	config   *Config
	settings config.Config
	services *Services

	startOnce sync.Once
	startErr  error
}

// NewApplication loads the configuration, configures logging and builds
// every component. Nothing is provisioned yet.
func NewApplication(cfg *Config) (*Application, error) {
	if cfg.Settings == nil {
		settings, err := config.LoadConfig(cfg.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load stagehand configuration: %w", err)
		}
		cfg.Settings = &settings
	}
	settings := *cfg.Settings

	if err := initLogging(cfg, settings.Logging); err != nil {
		return nil, err
	}

	services, err := InitializeServices(settings)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{
		config:   cfg,
		settings: settings,
		services: services,
	}, nil
}

func initLogging(cfg *Config, lc config.LoggingConfig) error {
	level, err := logging.ParseLevel(lc.Level)
	if err != nil {
		return fmt.Errorf("invalid logging.level: %w", err)
	}
	if cfg.Debug {
		level = logging.LevelDebug
	}

	var out io.Writer = os.Stderr
	if cfg.LogOutput != nil {
		out = cfg.LogOutput
	}
	if cfg.Silent {
		out = io.Discard
	}

	if lc.Format == "json" {
		logging.InitForJSON(level, out)
	} else {
		logging.InitForCLI(level, out)
	}
	return nil
}

// Settings returns the effective configuration.
func (a *Application) Settings() config.Config {
	return a.settings
}

// Services returns the component graph.
func (a *Application) Services() *Services {
	return a.services
}

// Start checks the backend and provisions the global World. Later calls
// return the first result.
func (a *Application) Start(ctx context.Context) error {
	a.startOnce.Do(func() {
		if err := a.services.CheckBackend(ctx); err != nil {
			a.startErr = err
			return
		}
		source := a.config.ConfigPath
		if source == "" {
			source = config.DefaultConfigFile
		}
		if err := a.services.Orchestrator.ProvisionGlobal(ctx, a.settings.Global, source); err != nil {
			logging.Error("Bootstrap", err, "Failed to provision the global World")
			a.startErr = err
		}
	})
	return a.startErr
}

// Close releases everything the application started.
func (a *Application) Close(ctx context.Context) error {
	return a.services.Close(ctx)
}
