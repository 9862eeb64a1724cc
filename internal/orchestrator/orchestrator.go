package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"stagehand/internal/api"
	"stagehand/internal/environment"
	"stagehand/internal/health"
	"stagehand/internal/imposter"
	"stagehand/internal/services"
	"stagehand/internal/template"
	"stagehand/internal/world"
	"stagehand/pkg/logging"
)

const subsystem = "Orchestrator"

// ErrShutdown is returned by Provision once Shutdown started.
var ErrShutdown = errors.New("orchestrator is shutting down")

const (
	DefaultProvisionTimeout = 2 * time.Minute
	DefaultTeardownTimeout  = time.Minute
)

// TeardownPolicy decides what teardown failures mean for a run.
type TeardownPolicy string

const (
	// TeardownReport logs teardown failures and still ends the run Done
	TeardownReport TeardownPolicy = "report"
	// TeardownFail ends the run Failed and returns the failures
	TeardownFail TeardownPolicy = "fail"
)

// ParseTeardownPolicy parses a policy name; empty means report.
func ParseTeardownPolicy(s string) (TeardownPolicy, error) {
	switch TeardownPolicy(s) {
	case "", TeardownReport:
		return TeardownReport, nil
	case TeardownFail:
		return TeardownFail, nil
	default:
		return "", &api.ConfigurationError{Field: "teardown.policy", Message: fmt.Sprintf("unknown policy %q (expected report or fail)", s)}
	}
}

// Catalog builds construction functions for service kinds.
type Catalog interface {
	environment.KindChecker
	Build(spec services.Spec) (services.ConstructFunc, error)
}

// Config tunes the orchestrator.
type Config struct {
	// ProvisionTimeout bounds a whole Provisioning phase unless the scenario sets its own
	ProvisionTimeout time.Duration
	// ResourceTimeout bounds each resource unless its declaration sets one; zero keeps the health checker default
	ResourceTimeout time.Duration
	// TeardownTimeout bounds a whole Dispose
	TeardownTimeout time.Duration
	// StopTimeout bounds each resource stop
	StopTimeout    time.Duration
	TeardownPolicy TeardownPolicy
	// Vars are extra template variables for every declaration
	Vars map[string]interface{}
}

// Deps are the collaborators of an orchestrator.
type Deps struct {
	Factory world.ServiceCreator
	// Imposters may be nil when no virtualization backend is configured
	Imposters world.ImposterRegistrar
	Catalog   Catalog
	// Global is the shared read-only World; may be nil
	Global      *world.World
	Credentials world.CredentialGenerator
}

// Orchestrator turns environment declarations into Ready Worlds.
type Orchestrator struct {
	deps Deps
	cfg  Config

	mu          sync.RWMutex
	runs        map[string]*Run
	closed      bool
	subscribers []chan<- ResourceEvent
}

// New creates an orchestrator.
func New(deps Deps, cfg Config) *Orchestrator {
	if cfg.ProvisionTimeout <= 0 {
		cfg.ProvisionTimeout = DefaultProvisionTimeout
	}
	if cfg.TeardownTimeout <= 0 {
		cfg.TeardownTimeout = DefaultTeardownTimeout
	}
	if cfg.TeardownPolicy == "" {
		cfg.TeardownPolicy = TeardownReport
	}
	return &Orchestrator{
		deps: deps,
		cfg:  cfg,
		runs: make(map[string]*Run),
	}
}

// Global returns the shared World.
func (o *Orchestrator) Global() *world.World { return o.deps.Global }

// Validate checks a scenario without provisioning anything.
func (o *Orchestrator) Validate(sc environment.Scenario) error {
	var kinds environment.KindChecker
	if o.deps.Catalog != nil {
		kinds = o.deps.Catalog
	}
	if err := sc.Environment.Validate(scenarioSource(sc), kinds); err != nil {
		return err
	}
	for _, d := range sc.Environment {
		kind, _ := d.Kind()
		switch {
		case kind == api.KindImposter && o.deps.Imposters == nil:
			return &api.ConfigurationError{
				Source:  scenarioSource(sc),
				Field:   fmt.Sprintf("environment[%s]", d.Name),
				Message: "imposter declared but no virtualization backend is configured",
			}
		case kind == api.KindService && o.deps.Catalog == nil:
			return &api.ConfigurationError{
				Source:  scenarioSource(sc),
				Field:   fmt.Sprintf("environment[%s]", d.Name),
				Message: "service declared but no service catalog is configured",
			}
		}
	}
	return nil
}

// Provision builds a World for sc and waits until every declared resource is
// healthy. On success the run is Ready. On failure the run is Failed, nothing
// created stays alive, and the error is a *api.ConfigurationError (nothing
// was attempted) or an *api.ProvisioningError.
func (o *Orchestrator) Provision(ctx context.Context, sc environment.Scenario) (*Run, error) {
	run := newRun(sc.Name)
	defer close(run.provisioned)

	if err := o.Validate(sc); err != nil {
		logging.Warn(subsystem, "Scenario %s has an invalid environment: %v", sc.Name, err)
		_ = run.transition(StateFailed, err)
		return run, err
	}

	if err := run.transition(StateProvisioning, nil); err != nil {
		return run, err
	}

	w := world.New(o.deps.Factory, o.deps.Imposters, world.Options{
		Name:          sc.Name,
		Scope:         world.ScopeScenario,
		Parent:        o.deps.Global,
		Credentials:   o.deps.Credentials,
		StopTimeout:   o.cfg.StopTimeout,
		OnStateChange: o.stateChangeCallback(sc.Name),
	})
	run.setWorld(w)

	pctx, cancel := context.WithCancel(ctx)
	defer cancel()
	run.setCancel(cancel)
	if !o.track(w.ID(), run) {
		_ = run.transition(StateFailed, ErrShutdown)
		return run, ErrShutdown
	}

	timeout := sc.Timeout
	if timeout <= 0 {
		timeout = o.cfg.ProvisionTimeout
	}

	logging.Info(subsystem, "Provisioning %d resource(s) for scenario %s (timeout %s)", len(sc.Environment), sc.Name, timeout)
	start := time.Now()

	failed, err := o.fanOut(pctx, w, sc, timeout)
	elapsed := time.Since(start)
	if err == nil {
		terr := run.transition(StateReady, nil)
		if terr == nil {
			logging.Info(subsystem, "Scenario %s ready in %s", sc.Name, elapsed.Round(time.Millisecond))
			return run, nil
		}
		if !errors.Is(terr, ErrRunAborted) {
			return run, terr
		}
	}
	if run.isAborted() {
		logging.Info(subsystem, "Scenario %s torn down while provisioning", sc.Name)
		failed, err = "", ErrRunAborted
	}

	cleanupCtx, cleanupCancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.TeardownTimeout)
	defer cleanupCancel()

	var teardown api.TeardownErrors
	if derr := w.Dispose(cleanupCtx); derr != nil {
		teardown = w.TeardownFailures()
	}
	run.setTeardown(teardown)
	o.untrack(w.ID())

	perr := &api.ProvisioningError{Scenario: sc.Name, Resource: failed, Cause: err, Teardown: teardown}
	logging.Error(subsystem, perr, "Provisioning scenario %s failed after %s", sc.Name, elapsed.Round(time.Millisecond))
	_ = run.transition(StateFailed, perr)
	return run, perr
}

// fanOut provisions every declaration of sc into w concurrently and waits
// for all of them. It returns the first resource that failed, or an empty
// name when the whole phase ran out of time.
func (o *Orchestrator) fanOut(ctx context.Context, w *world.World, sc environment.Scenario, timeout time.Duration) (string, error) {
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	vars := o.vars(sc, w)
	start := time.Now()

	var (
		failedMu sync.Mutex
		failed   string
	)
	g, gctx := errgroup.WithContext(pctx)
	for _, decl := range sc.Environment {
		g.Go(func() error {
			if err := o.provisionOne(gctx, w, sc, decl, vars); err != nil {
				failedMu.Lock()
				if failed == "" {
					failed = decl.Name
				}
				failedMu.Unlock()
				return err
			}
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		return "", nil
	}
	if errors.Is(pctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		logging.Debug(subsystem, "Scenario %s hit its provisioning timeout, first failure: %v", sc.Name, err)
		return "", &api.TimedOutError{Operation: "provisioning", Target: sc.Name, Timeout: timeout, Elapsed: time.Since(start)}
	}
	return failed, err
}

// ProvisionGlobal provisions decls into the shared World. On failure
// everything created so far is stopped and the error is returned; the shared
// World is unusable afterwards.
func (o *Orchestrator) ProvisionGlobal(ctx context.Context, decls environment.Environment, source string) error {
	w := o.deps.Global
	if w == nil {
		return &api.ConfigurationError{Source: source, Message: "no global World configured"}
	}
	if len(decls) == 0 {
		return nil
	}

	sc := environment.Scenario{Name: w.Name(), Environment: decls, Source: source}
	if err := o.Validate(sc); err != nil {
		return err
	}

	logging.Info(subsystem, "Provisioning %d global resource(s)", len(decls))
	failed, err := o.fanOut(ctx, w, sc, o.cfg.ProvisionTimeout)
	if err == nil {
		return nil
	}

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.TeardownTimeout)
	defer cancel()
	var teardown api.TeardownErrors
	if derr := w.Dispose(cleanupCtx); derr != nil {
		teardown = w.TeardownFailures()
	}
	return &api.ProvisioningError{Scenario: sc.Name, Resource: failed, Cause: err, Teardown: teardown}
}

func (o *Orchestrator) provisionOne(ctx context.Context, w *world.World, sc environment.Scenario, decl environment.Declaration, vars map[string]interface{}) error {
	timeout := decl.Timeout
	if timeout <= 0 {
		timeout = o.cfg.ResourceTimeout
	}

	kind, _ := decl.Kind()
	switch kind {
	case api.KindImposter:
		def, err := o.definition(sc, decl)
		if err != nil {
			return err
		}
		_, err = w.RegisterImposter(ctx, decl.Name, def, imposter.RegisterOptions{Timeout: timeout})
		return err

	default:
		construct, err := o.deps.Catalog.Build(services.Spec{
			Name:   decl.Name,
			Kind:   decl.Location,
			Config: decl.Config,
			Vars:   vars,
		})
		if err != nil {
			return err
		}
		_, err = w.CreateService(ctx, decl.Name, construct, services.CreateOptions{
			Health: health.Options{Timeout: timeout},
		})
		return err
	}
}

func (o *Orchestrator) definition(sc environment.Scenario, decl environment.Declaration) (imposter.Definition, error) {
	if decl.Definition != nil {
		def := make(imposter.Definition, len(decl.Definition))
		for k, v := range decl.Definition {
			def[k] = v
		}
		return def, nil
	}
	def, err := imposter.LoadDefinition(decl.DefinitionPath(sc.Dir()))
	if err != nil {
		return nil, &api.ConfigurationError{Source: scenarioSource(sc), Field: fmt.Sprintf("environment[%s].location", decl.Name), Message: err.Error()}
	}
	return def, nil
}

// vars are the template variables every declaration of sc can use.
func (o *Orchestrator) vars(sc environment.Scenario, w *world.World) map[string]interface{} {
	var shared map[string]interface{}
	if o.deps.Global != nil {
		shared = o.deps.Global.Vars()
	}
	return template.MergeContexts(o.cfg.Vars, shared, map[string]interface{}{
		"scenario": sc.Name,
		"world_id": w.ID(),
	})
}

// Begin hands a Ready run's World to the step runner.
func (o *Orchestrator) Begin(run *Run) error {
	return run.transition(StateInUse, nil)
}

// Teardown disposes the run's World. A Ready run is marked InUse first. A
// run still provisioning is aborted: its pending health waits are canceled,
// Provision disposes what it created and ends the run Failed, and Teardown
// waits for that. Teardown of a run that already ended is a no-op.
func (o *Orchestrator) Teardown(ctx context.Context, run *Run) error {
	run.teardownMu.Lock()
	defer run.teardownMu.Unlock()

	if run.abort() {
		logging.Debug(subsystem, "Aborting provisioning of scenario %s", run.Scenario())
		select {
		case <-run.provisioned:
		case <-ctx.Done():
			return ctx.Err()
		}
		if o.cfg.TeardownPolicy == TeardownFail {
			return run.TeardownFailures().ErrOrNil()
		}
		return nil
	}

	state := run.State()
	if state.Terminal() {
		return nil
	}
	if state == StateReady {
		if err := o.Begin(run); err != nil {
			return err
		}
	}
	if err := run.transition(StateTearingDown, nil); err != nil {
		return err
	}

	w := run.World()
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.TeardownTimeout)
	defer cancel()

	start := time.Now()
	err := w.Dispose(tctx)
	o.untrack(w.ID())

	if err == nil {
		logging.Debug(subsystem, "Scenario %s torn down in %s", run.Scenario(), time.Since(start).Round(time.Millisecond))
		return run.transition(StateDone, nil)
	}

	failures := w.TeardownFailures()
	run.setTeardown(failures)

	if o.cfg.TeardownPolicy == TeardownFail {
		logging.Error(subsystem, err, "Teardown of scenario %s failed", run.Scenario())
		if terr := run.transition(StateFailed, err); terr != nil {
			return terr
		}
		return err
	}

	logging.Warn(subsystem, "Teardown of scenario %s left %d failure(s): %v", run.Scenario(), len(failures), err)
	return run.transition(StateDone, nil)
}

// Execute provisions sc, runs fn against the World and tears down. A
// provisioning failure is returned without calling fn. Teardown runs even if
// fn panics. The error of fn takes precedence over a teardown error.
func (o *Orchestrator) Execute(ctx context.Context, sc environment.Scenario, fn func(ctx context.Context, w *world.World) error) (run *Run, err error) {
	run, err = o.Provision(ctx, sc)
	if err != nil {
		return run, err
	}
	if err := o.Begin(run); err != nil {
		return run, err
	}

	defer func() {
		if terr := o.Teardown(ctx, run); terr != nil && err == nil {
			err = terr
		}
	}()

	return run, fn(ctx, run.World())
}

// Runs returns the runs whose Worlds are alive, oldest first.
func (o *Orchestrator) Runs() []*Run {
	o.mu.RLock()
	runs := make([]*Run, 0, len(o.runs))
	for _, r := range o.runs {
		runs = append(runs, r)
	}
	o.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool { return runs[i].Started().Before(runs[j].Started()) })
	return runs
}

// Run returns a live run by World ID.
func (o *Orchestrator) Run(worldID string) (*Run, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	r, ok := o.runs[worldID]
	return r, ok
}

// Shutdown tears down every live run, including runs still provisioning,
// and then disposes the global World. Provision fails with ErrShutdown
// afterwards.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	var errs []error
	for _, run := range o.Runs() {
		if err := o.Teardown(ctx, run); err != nil {
			errs = append(errs, err)
		}
	}
	if o.deps.Global != nil {
		if err := o.deps.Global.Dispose(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// track registers a live run. It refuses once Shutdown started.
func (o *Orchestrator) track(id string, run *Run) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return false
	}
	o.runs[id] = run
	return true
}

func (o *Orchestrator) untrack(id string) {
	o.mu.Lock()
	delete(o.runs, id)
	o.mu.Unlock()
}

func scenarioSource(sc environment.Scenario) string {
	if sc.Source != "" {
		return sc.Source
	}
	return sc.Name
}
