package container

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"stagehand/internal/api"
	"stagehand/internal/health"
	"stagehand/internal/services"
	"stagehand/pkg/logging"
)

const (
	// Kind is the catalog name of this service kind.
	Kind = "container"

	defaultHost = "127.0.0.1"

	PullMissing = "missing"
	PullAlways  = "always"
	PullNever   = "never"
)

// Config is the decoded `config` block of a container declaration.
type Config struct {
	Image         string               `yaml:"image"`
	ContainerPort int                  `yaml:"containerPort"`
	Env           map[string]string    `yaml:"env"`
	Args          []string             `yaml:"args"`
	Volumes       []string             `yaml:"volumes"`
	User          string               `yaml:"user"`
	Runtime       string               `yaml:"runtime"`
	Pull          string               `yaml:"pull"`
	Protocol      string               `yaml:"protocol"`
	Health        services.ProbeConfig `yaml:"health"`
}

// newRuntime is replaced in tests.
var newRuntime = func(binary string) (Runtime, error) {
	return NewDockerRuntime(binary)
}

// Register adds the container kind to c.
func Register(c *services.Catalog) error {
	return c.Register(Kind, Build)
}

// Build validates spec and returns its construction function. The docker
// binary is only looked up on Start so validation works without it.
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
	if cfg.Image == "" {
		return Config{}, &api.ConfigurationError{Source: spec.Name, Field: "config.image", Message: "image is required"}
	}
	if cfg.ContainerPort <= 0 || cfg.ContainerPort > 65535 {
		return Config{}, &api.ConfigurationError{Source: spec.Name, Field: "config.containerPort", Message: "containerPort must be between 1 and 65535"}
	}
	switch cfg.Pull {
	case "", PullMissing, PullAlways, PullNever:
	default:
		return Config{}, &api.ConfigurationError{Source: spec.Name, Field: "config.pull", Message: fmt.Sprintf("unknown pull policy %q", cfg.Pull)}
	}
	return cfg, nil
}

// Container is a handle for one container.
type Container struct {
	name  string
	cfg   Config
	port  int
	probe health.Probe

	mu      sync.Mutex
	runtime Runtime
	id      string
}

var (
	_ services.Handle         = (*Container)(nil)
	_ services.HealthOptioner = (*Container)(nil)
)

// New creates a handle for cfg bound to port. Nothing is started yet.
func New(name string, cfg Config, port int) (*Container, error) {
	if cfg.Protocol == "" {
		cfg.Protocol = "http"
	}
	if cfg.Pull == "" {
		cfg.Pull = PullMissing
	}

	c := &Container{name: name, cfg: cfg, port: port}
	probe, err := cfg.Health.Build(c.Location(port), "tcp")
	if err != nil {
		return nil, &api.ConfigurationError{Source: name, Field: "config.health", Message: err.Error()}
	}
	c.probe = probe
	return c, nil
}

// Location implements services.Handle.
func (c *Container) Location(port int) api.ServiceLocation {
	return api.NewLocation(c.cfg.Protocol, defaultHost, port)
}

// HealthOptions implements services.HealthOptioner.
func (c *Container) HealthOptions() health.Options {
	return c.cfg.Health.Options
}

// ContainerName is the name passed to the runtime.
func (c *Container) ContainerName() string {
	return "stagehand-" + c.name + "-" + strconv.Itoa(c.port)
}

// ID returns the container ID once started.
func (c *Container) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Start pulls the image as configured and runs the container detached.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.id != "" {
		return fmt.Errorf("container %s already started", c.name)
	}

	rt, err := newRuntime(c.cfg.Runtime)
	if err != nil {
		return err
	}
	c.runtime = rt

	switch c.cfg.Pull {
	case PullAlways:
		err = rt.PullImage(ctx, c.cfg.Image)
	case PullMissing:
		if !rt.ImageExists(ctx, c.cfg.Image) {
			err = rt.PullImage(ctx, c.cfg.Image)
		}
	}
	if err != nil {
		return err
	}

	env := map[string]string{"PORT": strconv.Itoa(c.cfg.ContainerPort)}
	for k, v := range c.cfg.Env {
		env[k] = v
	}

	id, err := rt.Run(ctx, RunSpec{
		Name:    c.ContainerName(),
		Image:   c.cfg.Image,
		Env:     env,
		Publish: fmt.Sprintf("%s:%d:%d", defaultHost, c.port, c.cfg.ContainerPort),
		Volumes: c.cfg.Volumes,
		User:    c.cfg.User,
		Args:    c.cfg.Args,
	})
	if err != nil {
		return err
	}
	c.id = id
	logging.Debug(subsystem, "Started container for %s (%s) on port %d", c.name, shortID(id), c.port)
	return nil
}

// HealthProbe implements services.Handle. A stopped container is never
// ready.
func (c *Container) HealthProbe(ctx context.Context) (bool, error) {
	c.mu.Lock()
	rt, id := c.runtime, c.id
	c.mu.Unlock()

	if id == "" {
		return false, fmt.Errorf("container %s not started", c.name)
	}
	running, err := rt.IsRunning(ctx, id)
	if err != nil {
		return false, err
	}
	if !running {
		return false, fmt.Errorf("container %s is not running", c.name)
	}

	if c.probe == nil {
		return true, nil
	}
	return c.probe(ctx)
}

// Stop force-removes the container. The output is logged at debug level
// first.
func (c *Container) Stop(ctx context.Context) error {
	c.mu.Lock()
	rt, id := c.runtime, c.id
	c.id = ""
	c.mu.Unlock()

	if id == "" {
		return nil
	}

	if logs, err := rt.Logs(ctx, id); err == nil && logs != "" {
		logging.Debug(subsystem, "Output of %s:\n%s", c.name, logs)
	}
	return rt.Remove(ctx, id)
}
