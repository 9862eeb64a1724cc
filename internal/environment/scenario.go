package environment

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"stagehand/internal/api"
)

// Scenario is one scenario file: an environment plus the steps handed to the
// step runner.
type Scenario struct {
	Name        string        `yaml:"name" json:"name"`
	Description string        `yaml:"description,omitempty" json:"description,omitempty"`
	Tags        []string      `yaml:"tags,omitempty" json:"tags,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Skip        bool          `yaml:"skip,omitempty" json:"skip,omitempty"`
	Environment Environment   `yaml:"environment" json:"environment"`
	Steps       []Step        `yaml:"steps,omitempty" json:"steps,omitempty"`

	// Source is the file the scenario was loaded from
	Source string `yaml:"-" json:"source,omitempty"`
}

// Dir is the directory relative definition paths are resolved against.
func (s Scenario) Dir() string {
	if s.Source == "" {
		return ""
	}
	return filepath.Dir(s.Source)
}

// HasTag reports whether the scenario carries tag.
func (s Scenario) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Step is an opaque instruction for the step runner. Action selects what the
// runner does; Target names a resource of the World.
type Step struct {
	ID     string                 `yaml:"id" json:"id"`
	Action string                 `yaml:"action" json:"action"`
	Target string                 `yaml:"target,omitempty" json:"target,omitempty"`
	Args   map[string]interface{} `yaml:"args,omitempty" json:"args,omitempty"`
	Expect map[string]interface{} `yaml:"expect,omitempty" json:"expect,omitempty"`
}

// Validate checks the scenario and its environment.
func (s Scenario) Validate(kinds KindChecker) error {
	source := s.Source
	if source == "" {
		source = s.Name
	}

	var errs []error
	if s.Name == "" {
		errs = append(errs, &api.ConfigurationError{Source: source, Field: "name", Message: "scenario name is required"})
	}
	if s.Timeout < 0 {
		errs = append(errs, &api.ConfigurationError{Source: source, Field: "timeout", Message: "timeout cannot be negative"})
	}
	for i, step := range s.Steps {
		if step.Action == "" {
			errs = append(errs, &api.ConfigurationError{
				Source:  source,
				Field:   fmt.Sprintf("steps[%d].action", i),
				Message: "step action is required",
			})
		}
	}
	if err := s.Environment.Validate(source, kinds); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseScenario decodes one scenario document. Unknown fields are rejected.
func ParseScenario(r io.Reader, source string) (Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return s, &api.ConfigurationError{Source: source, Message: "empty scenario file"}
		}
		return s, &api.ConfigurationError{Source: source, Message: fmt.Sprintf("invalid YAML: %v", err)}
	}
	s.Source = source
	return s, nil
}

// LoadFile loads one scenario file.
func LoadFile(path string) (Scenario, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("failed to read scenario %s: %w", path, err)
	}
	return ParseScenario(bytes.NewReader(content), path)
}

// DefinitionsDir is the conventional home of imposter definition files. It is
// skipped when a scenario directory is walked.
const DefinitionsDir = "imposters"

// Load loads scenarios from a file or, recursively, from a directory. The
// result is sorted by source path.
func Load(path string) ([]Scenario, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("scenario path %s: %w", path, err)
	}

	if !info.IsDir() {
		s, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		return []Scenario{s}, nil
	}

	var scenarios []Scenario
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != path && d.Name() == DefinitionsDir {
				return filepath.SkipDir
			}
			return nil
		}
		if !isYAMLFile(p) {
			return nil
		}
		s, err := LoadFile(p)
		if err != nil {
			return err
		}
		scenarios = append(scenarios, s)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(scenarios, func(i, j int) bool { return scenarios[i].Source < scenarios[j].Source })
	return scenarios, nil
}

// LoadAll loads every path and rejects duplicate scenario names.
func LoadAll(paths ...string) ([]Scenario, error) {
	var all []Scenario
	seen := make(map[string]string)
	for _, p := range paths {
		scenarios, err := Load(p)
		if err != nil {
			return nil, err
		}
		for _, s := range scenarios {
			if prev, dup := seen[s.Name]; dup && s.Name != "" {
				return nil, &api.ConfigurationError{
					Source:  s.Source,
					Field:   "name",
					Message: fmt.Sprintf("scenario %q already defined in %s", s.Name, prev),
				}
			}
			seen[s.Name] = s.Source
			all = append(all, s)
		}
	}
	return all, nil
}

// Filter selects scenarios by name and tags. Empty criteria match everything.
type Filter struct {
	Name string
	// Tags must all be present on a scenario
	Tags []string
}

// Apply returns the scenarios matching the filter, in order.
func (f Filter) Apply(scenarios []Scenario) []Scenario {
	var out []Scenario
	for _, s := range scenarios {
		if f.Name != "" && s.Name != f.Name {
			continue
		}
		matched := true
		for _, tag := range f.Tags {
			if !s.HasTag(tag) {
				matched = false
				break
			}
		}
		if matched {
			out = append(out, s)
		}
	}
	return out
}

func isYAMLFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
