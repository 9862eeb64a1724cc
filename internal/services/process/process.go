package process

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"time"

	"stagehand/internal/api"
	"stagehand/internal/health"
	"stagehand/internal/services"
	"stagehand/pkg/logging"
)

const (
	// Kind is the catalog name of this service kind.
	Kind = "process"

	subsystem              = "ServiceFactory"
	defaultShutdownTimeout = 10 * time.Second
	defaultHost            = "127.0.0.1"
)

// Config is the decoded `config` block of a process declaration.
type Config struct {
	Command         string               `yaml:"command"`
	Args            []string             `yaml:"args"`
	Env             map[string]string    `yaml:"env"`
	Dir             string               `yaml:"dir"`
	Host            string               `yaml:"host"`
	Protocol        string               `yaml:"protocol"`
	Health          services.ProbeConfig `yaml:"health"`
	ShutdownTimeout time.Duration        `yaml:"shutdownTimeout"`
}

// Register adds the process kind to c.
func Register(c *services.Catalog) error {
	return c.Register(Kind, Build)
}

// Build validates spec and returns its construction function. The config is
// decoded once up front with port 0 so that mistakes surface before anything
// is provisioned.
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
	if cfg.Command == "" {
		return Config{}, &api.ConfigurationError{Source: spec.Name, Field: "config.command", Message: "command is required"}
	}
	return cfg, nil
}

// Process is a handle for one subprocess.
type Process struct {
	name  string
	cfg   Config
	port  int
	probe health.Probe

	mu      sync.Mutex
	cmd     *exec.Cmd
	logs    *logCapture
	exited  chan struct{}
	waitErr error
}

var (
	_ services.Handle         = (*Process)(nil)
	_ services.HealthOptioner = (*Process)(nil)
)

// New creates a handle for cfg bound to port. Nothing is started yet.
func New(name string, cfg Config, port int) (*Process, error) {
	if cfg.Host == "" {
		cfg.Host = defaultHost
	}
	if cfg.Protocol == "" {
		cfg.Protocol = "http"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	p := &Process{name: name, cfg: cfg, port: port}
	probe, err := cfg.Health.Build(p.Location(port), "tcp")
	if err != nil {
		return nil, &api.ConfigurationError{Source: name, Field: "config.health", Message: err.Error()}
	}
	p.probe = probe
	return p, nil
}

// Location implements services.Handle.
func (p *Process) Location(port int) api.ServiceLocation {
	return api.NewLocation(p.cfg.Protocol, p.cfg.Host, port)
}

// HealthOptions implements services.HealthOptioner.
func (p *Process) HealthOptions() health.Options {
	return p.cfg.Health.Options
}

// Start launches the subprocess. The process is not tied to ctx: it lives
// until Stop.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		return fmt.Errorf("process %s already started", p.name)
	}

	cmd := exec.Command(p.cfg.Command, p.cfg.Args...)
	cmd.Dir = p.cfg.Dir
	cmd.Env = p.environ()
	cmd.WaitDelay = time.Second
	configureProcAttr(cmd)

	logs := newLogCapture(p.name)
	cmd.Stdout = logs.stdout
	cmd.Stderr = logs.stderr

	logging.Debug(subsystem, "Starting command for %s: %s %v", p.name, p.cfg.Command, p.cfg.Args)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", p.cfg.Command, err)
	}

	p.cmd = cmd
	p.logs = logs
	p.exited = make(chan struct{})
	go p.wait()

	logging.Debug(subsystem, "Started %s (PID: %d) on port %d", p.name, cmd.Process.Pid, p.port)
	return nil
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.waitErr = err
	p.mu.Unlock()
	close(p.exited)
}

func (p *Process) environ() []string {
	env := os.Environ()
	env = append(env, "PORT="+strconv.Itoa(p.port))

	keys := make([]string, 0, len(p.cfg.Env))
	for k := range p.cfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+p.cfg.Env[k])
	}
	return env
}

// HealthProbe implements services.Handle. A process that already exited is
// never ready.
func (p *Process) HealthProbe(ctx context.Context) (bool, error) {
	p.mu.Lock()
	exited := p.exited
	p.mu.Unlock()

	if exited == nil {
		return false, fmt.Errorf("process %s not started", p.name)
	}
	select {
	case <-exited:
		return false, fmt.Errorf("process %s exited: %v", p.name, p.exitErr())
	default:
	}

	if p.probe == nil {
		return true, nil
	}
	return p.probe(ctx)
}

func (p *Process) exitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// Stop terminates the process group: SIGTERM, then SIGKILL after the shutdown
// timeout or once the leader exited so no children are left behind.
func (p *Process) Stop(ctx context.Context) error {
	p.mu.Lock()
	cmd, exited := p.cmd, p.exited
	p.mu.Unlock()

	if cmd == nil {
		return nil
	}

	pid := cmd.Process.Pid
	select {
	case <-exited:
		_ = killProcessGroup(pid, syscall.SIGKILL)
		p.logs.close()
		return nil
	default:
	}

	logging.Debug(subsystem, "Shutting down process group for %s (PID: %d)", p.name, pid)
	if err := killProcessGroup(pid, syscall.SIGTERM); err != nil {
		logging.Debug(subsystem, "Failed to send SIGTERM to %s: %v", p.name, err)
	}

	timer := time.NewTimer(p.cfg.ShutdownTimeout)
	defer timer.Stop()

	var err error
	select {
	case <-exited:
		logging.Debug(subsystem, "Process %s exited with: %v", p.name, p.exitErr())
		_ = killProcessGroup(pid, syscall.SIGKILL)
	case <-timer.C:
		logging.Warn(subsystem, "Graceful shutdown timeout for %s, killing process group", p.name)
		err = killProcessGroup(pid, syscall.SIGKILL)
		<-exited
	case <-ctx.Done():
		err = killProcessGroup(pid, syscall.SIGKILL)
		<-exited
		if err == nil {
			err = ctx.Err()
		}
	}

	p.logs.close()
	return err
}

// Logs returns the output captured so far.
func (p *Process) Logs() Logs {
	p.mu.Lock()
	logs := p.logs
	p.mu.Unlock()
	if logs == nil {
		return Logs{}
	}
	return logs.snapshot()
}
