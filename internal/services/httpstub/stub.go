// Package httpstub implements the "http-stub" service kind: an in-process
// HTTP server answering from a static route table. It stands in for simple
// dependencies that do not need the virtualization backend.
package httpstub

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"stagehand/internal/api"
	"stagehand/internal/health"
	"stagehand/internal/services"
	"stagehand/pkg/logging"
)

const (
	// Kind is the catalog name of this service kind.
	Kind = "http-stub"

	subsystem   = "ServiceFactory"
	defaultHost = "127.0.0.1"
)

// Route is one canned response.
type Route struct {
	// Method matches the request method; empty matches any
	Method string `yaml:"method"`
	// Path matches exactly; a trailing "*" matches by prefix
	Path    string            `yaml:"path"`
	Status  int               `yaml:"status"`
	Headers map[string]string `yaml:"headers"`
	Body    string            `yaml:"body"`
	Delay   time.Duration     `yaml:"delay"`
}

func (r Route) matches(req *http.Request) bool {
	if r.Method != "" && !strings.EqualFold(r.Method, req.Method) {
		return false
	}
	if prefix, ok := strings.CutSuffix(r.Path, "*"); ok {
		return strings.HasPrefix(req.URL.Path, prefix)
	}
	return r.Path == "" || r.Path == req.URL.Path
}

// Config is the decoded `config` block of an http-stub declaration.
type Config struct {
	Host    string               `yaml:"host"`
	Routes  []Route              `yaml:"routes"`
	Default *Route               `yaml:"default"`
	Health  services.ProbeConfig `yaml:"health"`
	// Warmup answers every request with 503 for this long after Start
	Warmup time.Duration `yaml:"warmup"`
}

// Register adds the http-stub kind to c.
func Register(c *services.Catalog) error {
	return c.Register(Kind, Build)
}

// Build validates spec and returns its construction function.
func Build(spec services.Spec) (services.ConstructFunc, error) {
	if _, err := decode(spec, 0); err != nil {
		return nil, err
	}
	return func(port int) (services.Handle, error) {
		cfg, err := decode(spec, port)
		if err != nil {
			return nil, err
		}
		return New(spec.Name, cfg, port)
	}, nil
}

func decode(spec services.Spec, port int) (Config, error) {
	rendered, err := spec.Render(port, defaultHost)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := services.DecodeConfig(spec.Name, rendered, &cfg); err != nil {
		return Config{}, err
	}
	if !cfg.answersProbe() {
		return Config{}, &api.ConfigurationError{
			Source:  spec.Name,
			Field:   "config.health",
			Message: fmt.Sprintf("no route or default answers the http health probe at %s", cfg.probePath()),
		}
	}
	return cfg, nil
}

func (c Config) probePath() string {
	path := c.Health.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

// answersProbe reports whether an http health probe can ever succeed. Other
// probe types only need the port to be open.
func (c Config) answersProbe() bool {
	if !strings.EqualFold(c.Health.Type, "http") || c.Default != nil {
		return true
	}
	req := &http.Request{Method: http.MethodGet, URL: &url.URL{Path: c.probePath()}}
	for _, r := range c.Routes {
		if r.matches(req) {
			return true
		}
	}
	return false
}

// Stub is a handle for one in-process HTTP server.
type Stub struct {
	name  string
	cfg   Config
	port  int
	probe health.Probe

	mu      sync.Mutex
	server  *http.Server
	running bool
	started atomic.Int64 // unix nanos
	hits    atomic.Int64
}

var (
	_ services.Handle         = (*Stub)(nil)
	_ services.HealthOptioner = (*Stub)(nil)
)

// New creates a stub bound to port. Nothing listens until Start.
func New(name string, cfg Config, port int) (*Stub, error) {
	if cfg.Host == "" {
		cfg.Host = defaultHost
	}
	s := &Stub{name: name, cfg: cfg, port: port}

	probe, err := cfg.Health.Build(s.Location(port), "tcp")
	if err != nil {
		return nil, &api.ConfigurationError{Source: name, Field: "config.health", Message: err.Error()}
	}
	s.probe = probe
	return s, nil
}

// Location implements services.Handle.
func (s *Stub) Location(port int) api.ServiceLocation {
	return api.NewLocation("http", s.cfg.Host, port)
}

// HealthOptions implements services.HealthOptioner.
func (s *Stub) HealthOptions() health.Options {
	return s.cfg.Health.Options
}

// Start binds the port and serves in the background.
func (s *Stub) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.port)))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.port, err)
	}

	s.server = &http.Server{Handler: http.HandlerFunc(s.serveHTTP), ReadHeaderTimeout: 10 * time.Second}
	s.started.Store(time.Now().UnixNano())
	s.running = true

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error(subsystem, err, "HTTP stub %s stopped serving", s.name)
		}
	}()

	logging.Debug(subsystem, "HTTP stub %s listening on %s", s.name, ln.Addr())
	return nil
}

func (s *Stub) serveHTTP(w http.ResponseWriter, r *http.Request) {
	s.hits.Add(1)

	if s.cfg.Warmup > 0 && time.Since(time.Unix(0, s.started.Load())) < s.cfg.Warmup {
		http.Error(w, "warming up", http.StatusServiceUnavailable)
		return
	}

	route := s.cfg.Default
	for i := range s.cfg.Routes {
		if s.cfg.Routes[i].matches(r) {
			route = &s.cfg.Routes[i]
			break
		}
	}
	if route == nil {
		http.NotFound(w, r)
		return
	}

	if route.Delay > 0 {
		select {
		case <-time.After(route.Delay):
		case <-r.Context().Done():
			return
		}
	}

	for k, v := range route.Headers {
		w.Header().Set(k, v)
	}
	status := route.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(route.Body))
}

// HealthProbe implements services.Handle.
func (s *Stub) HealthProbe(ctx context.Context) (bool, error) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	if !running {
		return false, fmt.Errorf("http stub %s not running", s.name)
	}
	if s.probe == nil {
		return true, nil
	}
	return s.probe(ctx)
}

// Stop shuts the server down, forcing it closed if draining fails.
func (s *Stub) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	shutdownCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.server.Close()
		logging.Debug(subsystem, "Force closed HTTP stub %s: %v", s.name, err)
	}

	s.running = false
	s.server = nil
	return nil
}

// Hits returns the number of requests served.
func (s *Stub) Hits() int64 {
	return s.hits.Load()
}
