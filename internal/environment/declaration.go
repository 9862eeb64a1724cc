package environment

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"stagehand/internal/api"
)

// Declaration is one entry of an environment.
type Declaration struct {
	// Name is the logical name the resource is exposed under
	Name string `yaml:"name" json:"name"`
	// Type is "service" or "imposter"
	Type string `yaml:"type" json:"type"`
	// Location is the catalog kind of a service, or the definition file of an imposter
	Location string `yaml:"location,omitempty" json:"location,omitempty"`
	// Definition is an inline imposter definition
	Definition map[string]interface{} `yaml:"definition,omitempty" json:"definition,omitempty"`
	// Config is the kind-specific service configuration
	Config map[string]interface{} `yaml:"config,omitempty" json:"config,omitempty"`
	// Timeout bounds provisioning of this resource
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Kind returns the parsed resource kind.
func (d Declaration) Kind() (api.ResourceKind, bool) {
	return api.ParseResourceKind(d.Type)
}

// DefinitionPath resolves Location against dir when it is relative.
func (d Declaration) DefinitionPath(dir string) string {
	if d.Location == "" || filepath.IsAbs(d.Location) || dir == "" {
		return d.Location
	}
	return filepath.Join(dir, d.Location)
}

// Environment is the ordered list of declarations of one scenario.
type Environment []Declaration

// Names returns the declared names in order.
func (e Environment) Names() []string {
	names := make([]string, 0, len(e))
	for _, d := range e {
		names = append(names, d.Name)
	}
	return names
}

// KindChecker reports whether a service kind can be built.
type KindChecker interface {
	Has(kind string) bool
}

// Validate checks every declaration. kinds may be nil to skip the service
// kind check. All problems are returned joined.
func (e Environment) Validate(source string, kinds KindChecker) error {
	var errs []error
	fail := func(field, format string, args ...interface{}) {
		errs = append(errs, &api.ConfigurationError{Source: source, Field: field, Message: fmt.Sprintf(format, args...)})
	}

	seen := make(map[string]int, len(e))
	for i, d := range e {
		field := fmt.Sprintf("environment[%d]", i)
		if d.Name == "" {
			fail(field+".name", "name is required")
		} else {
			field = fmt.Sprintf("environment[%s]", d.Name)
			if first, dup := seen[d.Name]; dup {
				fail(field+".name", "duplicate name %q (first declared at index %d)", d.Name, first)
			} else {
				seen[d.Name] = i
			}
		}

		if d.Timeout < 0 {
			fail(field+".timeout", "timeout cannot be negative")
		}

		kind, ok := d.Kind()
		if !ok {
			fail(field+".type", "unknown type %q (expected service or imposter)", d.Type)
			continue
		}

		switch kind {
		case api.KindService:
			switch {
			case d.Location == "":
				fail(field+".location", "service kind is required")
			case kinds != nil && !kinds.Has(d.Location):
				fail(field+".location", "unknown service kind %q", d.Location)
			}
			if d.Definition != nil {
				fail(field+".definition", "definition is only valid for imposters")
			}
		case api.KindImposter:
			switch {
			case d.Location == "" && d.Definition == nil:
				fail(field, "imposter needs a location or an inline definition")
			case d.Location != "" && d.Definition != nil:
				fail(field, "imposter has both a location and an inline definition")
			}
			if d.Config != nil {
				fail(field+".config", "config is only valid for services")
			}
		}
	}

	return errors.Join(errs...)
}
