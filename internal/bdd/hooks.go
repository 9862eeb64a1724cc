package bdd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cucumber/godog"

	"stagehand/internal/api"
	"stagehand/internal/environment"
	"stagehand/internal/orchestrator"
	"stagehand/internal/world"
	"stagehand/pkg/logging"
)

// EnvTagPrefix selects an environment by name, e.g. @env:checkout.
const EnvTagPrefix = "@env:"

type worldKey struct{}

// WithWorld returns ctx carrying w.
func WithWorld(ctx context.Context, w *world.World) context.Context {
	return context.WithValue(ctx, worldKey{}, w)
}

// WorldFrom returns the World of the running scenario.
func WorldFrom(ctx context.Context) (*world.World, bool) {
	w, ok := ctx.Value(worldKey{}).(*world.World)
	return w, ok && w != nil
}

// ErrNoWorld is returned by steps that need a World when none was provisioned.
var ErrNoWorld = errors.New("no world in scenario context")

// Resolver decides which environment a godog scenario needs.
type Resolver func(sc *godog.Scenario) (environment.Scenario, error)

// TagResolver resolves `@env:<name>` tags against scenarios, keyed by
// scenario name. Untagged scenarios get an empty environment.
func TagResolver(scenarios []environment.Scenario) Resolver {
	byName := make(map[string]environment.Scenario, len(scenarios))
	for _, s := range scenarios {
		byName[s.Name] = s
	}

	return func(sc *godog.Scenario) (environment.Scenario, error) {
		var merged environment.Scenario
		merged.Name = sc.Name

		for _, tag := range sc.Tags {
			name, ok := strings.CutPrefix(tag.Name, EnvTagPrefix)
			if !ok {
				continue
			}
			env, found := byName[name]
			if !found {
				return merged, &api.ConfigurationError{Source: sc.Uri, Field: tag.Name, Message: fmt.Sprintf("unknown environment %q", name)}
			}
			// Several tags stack; duplicate names are rejected at provisioning.
			merged.Environment = append(merged.Environment, env.Environment...)
			if env.Timeout > merged.Timeout {
				merged.Timeout = env.Timeout
			}
			if merged.Source == "" {
				merged.Source = env.Source
			}
		}
		return merged, nil
	}
}

// Lifecycle is the part of the orchestrator the hooks drive.
type Lifecycle interface {
	Provision(ctx context.Context, sc environment.Scenario) (*orchestrator.Run, error)
	Begin(run *orchestrator.Run) error
	Teardown(ctx context.Context, run *orchestrator.Run) error
}

// Hooks provisions and tears down Worlds around godog scenarios.
type Hooks struct {
	lifecycle Lifecycle
	resolve   Resolver

	mu   sync.Mutex
	runs map[string]*orchestrator.Run
}

// NewHooks creates hooks. A nil resolver gives every scenario an empty
// environment.
func NewHooks(lifecycle Lifecycle, resolve Resolver) *Hooks {
	if resolve == nil {
		resolve = TagResolver(nil)
	}
	return &Hooks{lifecycle: lifecycle, resolve: resolve, runs: make(map[string]*orchestrator.Run)}
}

// Register installs the Before and After hooks on sc.
func (h *Hooks) Register(sc *godog.ScenarioContext) {
	sc.Before(h.before)
	sc.After(h.after)
}

func (h *Hooks) before(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
	env, err := h.resolve(sc)
	if err != nil {
		return ctx, err
	}

	run, err := h.lifecycle.Provision(ctx, env)
	if err != nil {
		return ctx, err
	}
	if err := h.lifecycle.Begin(run); err != nil {
		_ = h.lifecycle.Teardown(ctx, run)
		return ctx, err
	}

	h.mu.Lock()
	h.runs[sc.Id] = run
	h.mu.Unlock()

	logging.Debug("Orchestrator", "Scenario %q has world %s", sc.Name, run.World().ID())
	return WithWorld(ctx, run.World()), nil
}

func (h *Hooks) after(ctx context.Context, sc *godog.Scenario, stepErr error) (context.Context, error) {
	h.mu.Lock()
	run, ok := h.runs[sc.Id]
	delete(h.runs, sc.Id)
	h.mu.Unlock()

	if !ok {
		return ctx, nil
	}
	if err := h.lifecycle.Teardown(ctx, run); err != nil {
		// Only the fail policy returns teardown errors.
		return ctx, err
	}
	return ctx, nil
}

// Active returns the number of scenarios with a live World.
func (h *Hooks) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.runs)
}
