package app

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"stagehand/internal/environment"
	"stagehand/internal/imposter/backend"
	"stagehand/internal/mcpserver"
	"stagehand/internal/runner"
	"stagehand/pkg/logging"
)

// WithSignals returns a context canceled on SIGINT or SIGTERM.
func WithSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// RunnerConfig returns the suite settings from the configuration.
func (a *Application) RunnerConfig() runner.Config {
	return runner.Config{
		Parallel:        a.settings.Runner.Parallel,
		FailFast:        a.settings.Runner.FailFast,
		ScenarioTimeout: a.settings.Runner.ScenarioTimeout,
	}
}

// RunSuite provisions the global World and runs scenarios with the built-in
// steps.
func (a *Application) RunSuite(ctx context.Context, scenarios []environment.Scenario, cfg runner.Config, reporter runner.Reporter) (*runner.SuiteResult, error) {
	if err := a.Start(ctx); err != nil {
		return nil, err
	}
	r := runner.New(a.services.Orchestrator, runner.NewSteps(), reporter, cfg)
	return r.Run(ctx, scenarios), nil
}

// ServeMCP exposes the orchestrator over MCP on stdio until the client
// disconnects. When watch is not empty, scenarios are reloaded from those
// paths whenever they change.
func (a *Application) ServeMCP(ctx context.Context, scenarios []environment.Scenario, watch []string, version string) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	srv := mcpserver.New(a.services.Orchestrator, scenarios, version)

	if len(watch) > 0 {
		watchCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		w := environment.NewWatcher(watch, a.services.Catalog, 0, srv.SetScenarios)
		go func() {
			if err := w.Run(watchCtx); err != nil {
				logging.Error("CLI", err, "Scenario watcher stopped")
			}
		}()
	}
	return srv.Start(ctx)
}

// ServeBackend runs a standalone virtualization backend on listen until ctx
// is done. It needs no Application.
func ServeBackend(ctx context.Context, listen, host string) error {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", listen, err)
	}
	logging.Info("CLI", "Press Ctrl+C to stop the backend.")
	return backend.New(host).Serve(ctx, ln)
}
