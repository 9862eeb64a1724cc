package ports

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"stagehand/internal/api"
	"stagehand/pkg/logging"
)

const subsystem = "PortAllocator"

const (
	DefaultHost        = "127.0.0.1"
	DefaultSpan        = 1000
	DefaultMaxAttempts = 100
)

// Options configures an Allocator. Zero values fall back to defaults.
type Options struct {
	// Host is the interface candidates are bind-tested on
	Host string
	// BasePort starts the candidate range; 0 selects ephemeral mode
	BasePort int
	// Span is the size of the candidate range in range mode
	Span int
	// MaxAttempts bounds the number of candidates probed per Allocate call
	MaxAttempts int
}

// Allocator reserves ports for owners. It is safe for concurrent use.
type Allocator struct {
	host        string
	basePort    int
	span        int
	maxAttempts int

	mu       sync.Mutex
	cursor   int
	reserved map[int]string // port -> owner

	listen func(network, address string) (net.Listener, error)
}

// New creates an Allocator.
func New(opts Options) *Allocator {
	if opts.Host == "" {
		opts.Host = DefaultHost
	}
	if opts.Span <= 0 {
		opts.Span = DefaultSpan
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BasePort > 0 && opts.BasePort+opts.Span-1 > 65535 {
		opts.Span = 65536 - opts.BasePort
	}
	return &Allocator{
		host:        opts.Host,
		basePort:    opts.BasePort,
		span:        opts.Span,
		maxAttempts: opts.MaxAttempts,
		reserved:    make(map[int]string),
		listen:      net.Listen,
	}
}

// Host returns the interface ports are tested on.
func (a *Allocator) Host() string {
	return a.host
}

// Allocate reserves a free port for owner. It fails with a
// *api.ResourceExhaustedError when no free port was found within the
// configured number of attempts.
func (a *Allocator) Allocate(owner string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.basePort == 0 {
		return a.allocateEphemeral(owner)
	}

	for i := 0; i < a.maxAttempts; i++ {
		port := a.basePort + a.cursor
		a.cursor = (a.cursor + 1) % a.span

		if existing, ok := a.reserved[port]; ok {
			logging.Debug(subsystem, "Port %d already reserved by %s, skipping", port, existing)
			continue
		}
		if !a.bindable(port) {
			continue
		}

		a.reserved[port] = owner
		logging.Debug(subsystem, "Reserved port %d for %s", port, owner)
		return port, nil
	}

	return 0, &api.ResourceExhaustedError{
		Resource: "port",
		Attempts: a.maxAttempts,
		Detail:   fmt.Sprintf("range %d-%d on %s", a.basePort, a.basePort+a.span-1, a.host),
	}
}

// allocateEphemeral asks the OS for a port. The OS may hand back a port that
// is reserved but not yet bound by its owner, so reserved results are retried.
func (a *Allocator) allocateEphemeral(owner string) (int, error) {
	var lastErr error
	for i := 0; i < a.maxAttempts; i++ {
		ln, err := a.listen("tcp", net.JoinHostPort(a.host, "0"))
		if err != nil {
			lastErr = err
			continue
		}
		port := ln.Addr().(*net.TCPAddr).Port
		ln.Close()

		if existing, ok := a.reserved[port]; ok {
			logging.Debug(subsystem, "OS returned port %d already reserved by %s, retrying", port, existing)
			continue
		}

		a.reserved[port] = owner
		logging.Debug(subsystem, "Reserved ephemeral port %d for %s", port, owner)
		return port, nil
	}

	detail := "ephemeral on " + a.host
	if lastErr != nil {
		detail += ": " + lastErr.Error()
	}
	return 0, &api.ResourceExhaustedError{Resource: "port", Attempts: a.maxAttempts, Detail: detail}
}

func (a *Allocator) bindable(port int) bool {
	ln, err := a.listen("tcp", net.JoinHostPort(a.host, strconv.Itoa(port)))
	if err != nil {
		logging.Debug(subsystem, "Port %d not available: %v", port, err)
		return false
	}
	ln.Close()
	return true
}

// Claim records a port that was bound by someone else on behalf of owner.
// Claiming a port that another owner holds is an error; claiming it again for
// the same owner is a no-op.
func (a *Allocator) Claim(port int, owner string) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port %d", port)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if existing, ok := a.reserved[port]; ok && existing != owner {
		return fmt.Errorf("port %d already reserved by %s", port, existing)
	}
	a.reserved[port] = owner
	logging.Debug(subsystem, "Claimed port %d for %s", port, owner)
	return nil
}

// Release returns port to the pool. A release by an owner that does not hold
// the port is ignored.
func (a *Allocator) Release(port int, owner string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	existing, ok := a.reserved[port]
	switch {
	case !ok:
		logging.Debug(subsystem, "Port %d was not reserved, nothing to release", port)
	case existing != owner:
		logging.Warn(subsystem, "Port %d is reserved by %s, ignoring release from %s", port, existing, owner)
	default:
		delete(a.reserved, port)
		logging.Debug(subsystem, "Released port %d from %s", port, owner)
	}
}

// Owner reports who holds port.
func (a *Allocator) Owner(port int) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	owner, ok := a.reserved[port]
	return owner, ok
}

// Reserved returns the number of live reservations.
func (a *Allocator) Reserved() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.reserved)
}
