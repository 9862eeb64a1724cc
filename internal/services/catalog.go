package services

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"stagehand/internal/api"
	"stagehand/internal/template"
)

// Spec is a service declaration as seen by a kind builder.
type Spec struct {
	// Name is the logical service name
	Name string
	// Kind selects the builder, e.g. "process" or "http-stub"
	Kind string
	// Config is the kind-specific configuration, placeholders unresolved
	Config map[string]interface{}
	// Vars are template variables known before the port is allocated
	Vars map[string]interface{}
}

// Render resolves placeholders in Config. The variables `port`, `host` and
// `name` are added to Vars.
func (s Spec) Render(port int, host string) (map[string]interface{}, error) {
	vars := template.MergeContexts(s.Vars, map[string]interface{}{
		"port": port,
		"host": host,
		"name": s.Name,
	})
	rendered, err := template.New().Replace(s.Config, vars)
	if err != nil {
		return nil, &api.ConfigurationError{Source: s.Name, Field: "config", Message: err.Error()}
	}
	if rendered == nil {
		return map[string]interface{}{}, nil
	}
	return rendered.(map[string]interface{}), nil
}

// Builder turns a declaration into a construction function.
type Builder func(spec Spec) (ConstructFunc, error)

// Catalog maps declaration kinds to builders.
type Catalog struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{builders: make(map[string]Builder)}
}

// Register adds a builder for kind.
func (c *Catalog) Register(kind string, builder Builder) error {
	if kind == "" {
		return fmt.Errorf("service kind has empty name")
	}
	if builder == nil {
		return fmt.Errorf("cannot register nil builder for kind %s", kind)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.builders[kind]; exists {
		return fmt.Errorf("service kind %s already registered", kind)
	}
	c.builders[kind] = builder
	return nil
}

// Build resolves spec.Kind and runs its builder. Unknown kinds are a
// *api.ConfigurationError.
func (c *Catalog) Build(spec Spec) (ConstructFunc, error) {
	c.mu.RLock()
	builder, ok := c.builders[spec.Kind]
	c.mu.RUnlock()

	if !ok {
		return nil, &api.ConfigurationError{
			Source:  spec.Name,
			Field:   "location",
			Message: fmt.Sprintf("unknown service kind %q (known: %v)", spec.Kind, c.Kinds()),
		}
	}
	return builder(spec)
}

// Has reports whether kind is registered.
func (c *Catalog) Has(kind string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.builders[kind]
	return ok
}

// Kinds returns the registered kinds in sorted order.
func (c *Catalog) Kinds() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	kinds := make([]string, 0, len(c.builders))
	for k := range c.builders {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// DecodeConfig decodes a rendered config map into out. Unknown fields are
// rejected.
func DecodeConfig(source string, config map[string]interface{}, out interface{}) error {
	raw, err := yaml.Marshal(config)
	if err != nil {
		return &api.ConfigurationError{Source: source, Field: "config", Message: err.Error()}
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return &api.ConfigurationError{Source: source, Field: "config", Message: err.Error()}
	}
	return nil
}
