package imposter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Definition is an imposter definition as sent to the backend. It is kept as
// a generic document so backend-specific fields pass through untouched.
type Definition map[string]interface{}

// Protocol returns the declared protocol, "http" when absent.
func (d Definition) Protocol() string {
	if p, ok := d["protocol"].(string); ok && p != "" {
		return p
	}
	return "http"
}

// prepared returns the body registered for name: no port, so the backend
// picks one, and request recording always on.
func (d Definition) prepared(name string) Definition {
	out := make(Definition, len(d)+2)
	for k, v := range d {
		out[k] = v
	}
	delete(out, "port")
	out["recordRequests"] = true
	out["protocol"] = d.Protocol()
	if _, ok := out["name"]; !ok {
		out["name"] = name
	}
	return out
}

// LoadDefinition reads a JSON or YAML definition file. The format is chosen by
// extension; unknown extensions are tried as YAML, which also accepts JSON.
func LoadDefinition(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read imposter definition %s: %w", path, err)
	}
	return ParseDefinition(data, filepath.Ext(path))
}

// ParseDefinition decodes a definition. ext selects JSON for ".json".
func ParseDefinition(data []byte, ext string) (Definition, error) {
	var def Definition
	var err error
	if strings.EqualFold(ext, ".json") {
		err = json.Unmarshal(data, &def)
	} else {
		err = yaml.Unmarshal(data, &def)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse imposter definition: %w", err)
	}
	if def == nil {
		return nil, fmt.Errorf("imposter definition is empty")
	}
	return def, nil
}

// Spec is the typed view of a definition used by the backend.
type Spec struct {
	Protocol        string    `json:"protocol"`
	Port            int       `json:"port,omitempty"`
	Name            string    `json:"name,omitempty"`
	RecordRequests  bool      `json:"recordRequests"`
	Stubs           []Stub    `json:"stubs,omitempty"`
	DefaultResponse *Response `json:"defaultResponse,omitempty"`
}

// Stub pairs predicates with the responses returned when all of them match.
type Stub struct {
	Predicates []Predicate `json:"predicates,omitempty"`
	Responses  []Responder `json:"responses,omitempty"`
}

// Predicate holds one operator. Exactly one field is expected to be set.
type Predicate struct {
	Equals     *RequestFields `json:"equals,omitempty"`
	Contains   *RequestFields `json:"contains,omitempty"`
	StartsWith *RequestFields `json:"startsWith,omitempty"`
	Matches    *RequestFields `json:"matches,omitempty"`
	Exists     *RequestFields `json:"exists,omitempty"`
	Not        *Predicate     `json:"not,omitempty"`
	And        []Predicate    `json:"and,omitempty"`
	Or         []Predicate    `json:"or,omitempty"`
}

// RequestFields are the request attributes a predicate can test.
type RequestFields struct {
	Method  string            `json:"method,omitempty"`
	Path    string            `json:"path,omitempty"`
	Query   map[string]string `json:"query,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// Responder is one entry of a stub's response cycle.
type Responder struct {
	Is        *Response  `json:"is,omitempty"`
	Behaviors *Behaviors `json:"_behaviors,omitempty"`
}

// Response is a canned HTTP response. Body may be a string or any JSON value.
type Response struct {
	StatusCode int               `json:"statusCode,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       json.RawMessage   `json:"body,omitempty"`
}

// Behaviors modify how a response is served.
type Behaviors struct {
	// Wait delays the response, in milliseconds
	Wait int `json:"wait,omitempty"`
	// Repeat serves the response this many times before moving on
	Repeat int `json:"repeat,omitempty"`
	// Template renders the body as a text/template with sprig functions
	Template bool `json:"template,omitempty"`
}

// CapturedRequest is one request recorded by an imposter.
type CapturedRequest struct {
	RequestFrom string            `json:"requestFrom"`
	Method      string            `json:"method"`
	Path        string            `json:"path"`
	Query       map[string]string `json:"query"`
	Headers     map[string]string `json:"headers"`
	Body        string            `json:"body"`
	Timestamp   time.Time         `json:"timestamp"`
}

// State is the backend's view of a live imposter.
type State struct {
	Spec
	NumberOfRequests int               `json:"numberOfRequests"`
	Requests         []CapturedRequest `json:"requests,omitempty"`
}
