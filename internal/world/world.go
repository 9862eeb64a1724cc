package world

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"stagehand/internal/api"
	"stagehand/internal/imposter"
	"stagehand/internal/services"
	"stagehand/internal/template"
	"stagehand/pkg/logging"
)

const subsystem = "World"

const DefaultStopTimeout = 30 * time.Second

// Scope tells the process-wide World apart from scenario Worlds.
type Scope string

const (
	ScopeGlobal   Scope = "global"
	ScopeScenario Scope = "scenario"
)

// ServiceCreator creates health-checked services.
type ServiceCreator interface {
	Create(ctx context.Context, name string, construct services.ConstructFunc, opts services.CreateOptions) (*services.Service, error)
}

// ImposterRegistrar registers imposters with the virtualization backend.
type ImposterRegistrar interface {
	Register(ctx context.Context, name string, def imposter.Definition, opts imposter.RegisterOptions) (*imposter.Imposter, error)
}

// Options configures a World.
type Options struct {
	// Name labels the World in logs, e.g. the scenario name
	Name  string
	Scope Scope
	// Parent is consulted read-only by Lookup
	Parent *World
	// Credentials generates identity material; UUIDCredentials when nil
	Credentials CredentialGenerator
	// StopTimeout bounds each resource stop during Dispose
	StopTimeout time.Duration
	// OnStateChange observes lifecycle transitions of every owned resource
	OnStateChange services.StateChangeCallback
}

// World owns the resources of one scope.
type World struct {
	id        string
	name      string
	scope     Scope
	parent    *World
	factory   ServiceCreator
	imposters ImposterRegistrar
	creds     CredentialGenerator
	stopAfter time.Duration
	onChange  services.StateChangeCallback

	mu        sync.Mutex
	reserved  map[string]bool
	resources map[string]api.Resource
	owned     []api.Resource
	disposed  bool
	failures  api.TeardownErrors

	credsOnce   sync.Once
	credentials Credentials
	credsErr    error
}

// New creates a World. imposters may be nil when no backend is configured.
func New(factory ServiceCreator, imposters ImposterRegistrar, opts Options) *World {
	if opts.Scope == "" {
		opts.Scope = ScopeScenario
	}
	if opts.Credentials == nil {
		opts.Credentials = UUIDCredentials{}
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	w := &World{
		id:        uuid.NewString(),
		name:      opts.Name,
		scope:     opts.Scope,
		parent:    opts.Parent,
		factory:   factory,
		imposters: imposters,
		creds:     opts.Credentials,
		stopAfter: opts.StopTimeout,
		onChange:  opts.OnStateChange,
		reserved:  make(map[string]bool),
		resources: make(map[string]api.Resource),
	}
	if w.name == "" {
		w.name = string(w.scope)
	}
	return w
}

// ID returns the World's unique identifier. Port reservations are owned by it.
func (w *World) ID() string { return w.id }

// Name returns the World's label.
func (w *World) Name() string { return w.name }

// Scope returns whether the World is global or per scenario.
func (w *World) Scope() Scope { return w.scope }

// reserve claims name for a resource about to be created.
func (w *World) reserve(name string) error {
	if name == "" {
		return &api.ConfigurationError{Source: w.name, Field: "name", Message: "resource name is required"}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.disposed {
		return api.ErrWorldDisposed
	}
	if _, exists := w.resources[name]; exists || w.reserved[name] {
		return &api.ConfigurationError{Source: w.name, Field: "name", Message: fmt.Sprintf("resource %q already exists in this world", name)}
	}
	w.reserved[name] = true
	return nil
}

// record adds a created resource. When the World was disposed while the
// resource was being created, the resource is stopped instead.
func (w *World) record(ctx context.Context, r api.Resource) error {
	w.mu.Lock()
	delete(w.reserved, r.Name())
	if w.disposed {
		w.mu.Unlock()
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.stopAfter)
		defer cancel()
		if err := r.Stop(stopCtx); err != nil {
			logging.Warn(subsystem, "Stopping %s %s created after dispose: %v", r.Kind(), r.Name(), err)
		}
		return api.ErrWorldDisposed
	}
	w.resources[r.Name()] = r
	w.owned = append(w.owned, r)
	w.mu.Unlock()
	return nil
}

func (w *World) unreserve(name string) {
	w.mu.Lock()
	delete(w.reserved, name)
	w.mu.Unlock()
}

// CreateService creates a service through the factory and records it.
func (w *World) CreateService(ctx context.Context, name string, construct services.ConstructFunc, opts services.CreateOptions) (*services.Service, error) {
	if err := w.reserve(name); err != nil {
		return nil, err
	}

	opts.Owner = w.id
	if opts.OnStateChange == nil {
		opts.OnStateChange = w.onChange
	}

	svc, err := w.factory.Create(ctx, name, construct, opts)
	if err != nil {
		w.unreserve(name)
		return nil, err
	}
	if err := w.record(ctx, svc); err != nil {
		return nil, err
	}

	logging.Debug(subsystem, "World %s owns service %s at %s", w.name, name, svc.Location().URL())
	return svc, nil
}

// RegisterImposter registers an imposter and records it.
func (w *World) RegisterImposter(ctx context.Context, name string, def imposter.Definition, opts imposter.RegisterOptions) (*imposter.Imposter, error) {
	if w.imposters == nil {
		return nil, &api.ConfigurationError{Source: w.name, Field: name, Message: "no virtualization backend configured"}
	}
	if err := w.reserve(name); err != nil {
		return nil, err
	}

	opts.Owner = w.id
	if opts.OnStateChange == nil {
		opts.OnStateChange = w.onChange
	}

	imp, err := w.imposters.Register(ctx, name, def, opts)
	if err != nil {
		w.unreserve(name)
		return nil, err
	}
	if err := w.record(ctx, imp); err != nil {
		return nil, err
	}

	logging.Debug(subsystem, "World %s owns imposter %s on port %d", w.name, name, imp.Port())
	return imp, nil
}

// ErrNotFound is returned for names the World does not own.
var ErrNotFound = errors.New("resource not found")

// StopService stops a resource early and forgets it. The resource's location
// must not be used afterwards.
func (w *World) StopService(ctx context.Context, name string) error {
	w.mu.Lock()
	r, ok := w.resources[name]
	if !ok {
		w.mu.Unlock()
		return fmt.Errorf("stop %q in world %s: %w", name, w.name, ErrNotFound)
	}
	delete(w.resources, name)
	for i, owned := range w.owned {
		if owned == r {
			w.owned = append(w.owned[:i:i], w.owned[i+1:]...)
			break
		}
	}
	w.mu.Unlock()

	return r.Stop(ctx)
}

// Context returns a snapshot of the World's own resources by name.
func (w *World) Context() Context {
	w.mu.Lock()
	defer w.mu.Unlock()

	entries := make(map[string]api.Resource, len(w.resources))
	for k, v := range w.resources {
		entries[k] = v
	}
	return Context{entries: entries}
}

// Lookup finds name in this World first and then in the parent.
func (w *World) Lookup(name string) (api.Resource, bool) {
	w.mu.Lock()
	r, ok := w.resources[name]
	w.mu.Unlock()
	if ok {
		return r, true
	}
	if w.parent != nil {
		return w.parent.Lookup(name)
	}
	return nil, false
}

// Service looks up a service by name.
func (w *World) Service(name string) (*services.Service, bool) {
	r, ok := w.Lookup(name)
	if !ok {
		return nil, false
	}
	svc, ok := r.(*services.Service)
	return svc, ok
}

// Imposter looks up an imposter by name.
func (w *World) Imposter(name string) (*imposter.Imposter, bool) {
	r, ok := w.Lookup(name)
	if !ok {
		return nil, false
	}
	imp, ok := r.(*imposter.Imposter)
	return imp, ok
}

// Resources returns the owned resources in creation order.
func (w *World) Resources() []api.Resource {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]api.Resource, len(w.owned))
	copy(out, w.owned)
	return out
}

// Vars exposes every visible resource as template variables:
// <name>_url, <name>_host and <name>_port, names made placeholder-safe.
// Own resources shadow the parent's.
func (w *World) Vars() map[string]interface{} {
	var vars map[string]interface{}
	if w.parent != nil {
		vars = w.parent.Vars()
	} else {
		vars = make(map[string]interface{})
	}

	ctx := w.Context()
	for _, name := range ctx.Names() {
		r, _ := ctx.Get(name)
		loc := r.Location()
		key := template.VarName(name)
		vars[key+"_url"] = loc.URL()
		vars[key+"_host"] = loc.Hostname
		vars[key+"_port"] = strconv.Itoa(loc.Port)
	}
	return vars
}

// IdentityCredentials returns the World's credentials, generating them on
// first use.
func (w *World) IdentityCredentials() (Credentials, error) {
	w.credsOnce.Do(func() {
		w.credentials, w.credsErr = w.creds.Generate(w.id)
	})
	return w.credentials, w.credsErr
}

// Dispose stops every owned resource in reverse creation order. Every stop is
// attempted; failures are collected and returned together. Later calls return
// nil.
func (w *World) Dispose(ctx context.Context) error {
	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return nil
	}
	w.disposed = true
	owned := w.owned
	w.owned = nil
	w.resources = make(map[string]api.Resource)
	w.mu.Unlock()

	logging.Debug(subsystem, "Disposing world %s (%d resource(s))", w.name, len(owned))

	var failures api.TeardownErrors
	for i := len(owned) - 1; i >= 0; i-- {
		r := owned[i]
		stopCtx, cancel := context.WithTimeout(ctx, w.stopAfter)
		err := r.Stop(stopCtx)
		cancel()
		if err != nil {
			logging.Warn(subsystem, "Teardown of %s %s in world %s failed: %v", r.Kind(), r.Name(), w.name, err)
			failures = append(failures, &api.TeardownError{Name: r.Name(), Kind: r.Kind(), Cause: err})
		}
	}

	w.mu.Lock()
	w.failures = failures
	w.mu.Unlock()

	return failures.ErrOrNil()
}

// Disposed reports whether Dispose has been called.
func (w *World) Disposed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.disposed
}

// TeardownFailures returns the failures recorded by Dispose.
func (w *World) TeardownFailures() api.TeardownErrors {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failures
}

// Context is a read-only snapshot of a World's resources.
type Context struct {
	entries map[string]api.Resource
}

// Get returns the resource registered under name.
func (c Context) Get(name string) (api.Resource, bool) {
	r, ok := c.entries[name]
	return r, ok
}

// Names returns the registered names, sorted.
func (c Context) Names() []string {
	names := make([]string, 0, len(c.entries))
	for n := range c.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of entries.
func (c Context) Len() int { return len(c.entries) }

// Locations maps every name to its location.
func (c Context) Locations() map[string]api.ServiceLocation {
	out := make(map[string]api.ServiceLocation, len(c.entries))
	for n, r := range c.entries {
		out[n] = r.Location()
	}
	return out
}
