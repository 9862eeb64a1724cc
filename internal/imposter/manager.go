package imposter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"stagehand/internal/api"
	"stagehand/internal/services"
	"stagehand/pkg/logging"
)

const subsystem = "ImposterManager"

const (
	DefaultRegisterTimeout = 10 * time.Second

	// lateRegistrationWindow is how long past its deadline a registration
	// is still awaited so a late imposter can be removed
	lateRegistrationWindow = 30 * time.Second

	defaultRetryMax = 3
	maxErrorBody    = 512
)

// PortClaimer records ports bound by the backend in the shared allocator.
type PortClaimer interface {
	Claim(port int, owner string) error
	Release(port int, owner string)
}

// Options configures a Manager.
type Options struct {
	// BackendURL is the backend's admin API, e.g. http://127.0.0.1:2525
	BackendURL string
	// RegisterTimeout bounds one registration
	RegisterTimeout time.Duration
	// RetryMax is the retry budget of idempotent calls
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// Ports receives claims for backend-assigned ports; may be nil
	Ports PortClaimer
}

// RegisterOptions tunes one Register call.
type RegisterOptions struct {
	// Owner is the port claim owner, usually the World ID
	Owner string
	// Timeout overrides the manager's registration timeout
	Timeout       time.Duration
	OnStateChange services.StateChangeCallback
}

// Manager registers, inspects and removes imposters.
type Manager struct {
	base            *url.URL
	client          *retryablehttp.Client
	registerTimeout time.Duration
	ports           PortClaimer
}

// NewManager creates a manager for the backend at opts.BackendURL.
func NewManager(opts Options) (*Manager, error) {
	base, err := url.Parse(strings.TrimRight(opts.BackendURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, &api.ConfigurationError{Field: "backend.url", Message: fmt.Sprintf("invalid backend URL %q", opts.BackendURL)}
	}

	client := retryablehttp.NewClient()
	client.Logger = retryLogger{}
	client.RetryMax = defaultRetryMax
	if opts.RetryMax > 0 {
		client.RetryMax = opts.RetryMax
	}
	if opts.RetryWaitMin > 0 {
		client.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		client.RetryWaitMax = opts.RetryWaitMax
	}
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	timeout := opts.RegisterTimeout
	if timeout <= 0 {
		timeout = DefaultRegisterTimeout
	}

	return &Manager{
		base:            base,
		client:          client,
		registerTimeout: timeout,
		ports:           opts.Ports,
	}, nil
}

// BackendURL returns the admin API base URL.
func (m *Manager) BackendURL() string {
	return m.base.String()
}

func (m *Manager) endpoint(port int) string {
	if port == 0 {
		return m.base.String() + "/imposters"
	}
	return fmt.Sprintf("%s/imposters/%d", m.base.String(), port)
}

// Ping checks that the backend answers.
func (m *Manager) Ping(ctx context.Context) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, m.endpoint(0), nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("virtualization backend at %s unreachable: %w", m.base, err)
	}
	defer drain(resp)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("virtualization backend at %s answered %d", m.base, resp.StatusCode)
	}
	return nil
}

// Register creates an imposter for def. The backend picks the port. Failures
// are a *api.RegistrationFailedError, wrapping a *api.TimedOutError when the
// registration deadline passed. If the backend answers after the deadline,
// the imposter it created is deleted in the background.
func (m *Manager) Register(ctx context.Context, name string, def Definition, opts RegisterOptions) (*Imposter, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = m.registerTimeout
	}
	owner := opts.Owner
	if owner == "" {
		owner = name
	}

	imp := newImposter(name, owner, m)
	imp.SetStateChangeCallback(opts.OnStateChange)
	imp.UpdateState(services.StateStarting, services.HealthUnknown, nil)

	body, err := json.Marshal(def.prepared(name))
	if err != nil {
		return nil, m.failed(imp, &api.RegistrationFailedError{Name: name, Cause: fmt.Errorf("encode definition: %w", err)})
	}

	regCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// The POST outlives regCtx so a backend that answers late can be told
	// to remove the imposter it created.
	sendCtx, sendCancel := context.WithTimeout(context.WithoutCancel(ctx), timeout+lateRegistrationWindow)
	results := make(chan registration, 1)
	start := time.Now()
	go func() {
		defer sendCancel()
		results <- m.create(sendCtx, body)
	}()

	var reg registration
	select {
	case reg = <-results:
	case <-regCtx.Done():
		go m.reapLate(name, results)
		var cause error = &api.TimedOutError{Operation: "registration", Target: name, Timeout: timeout, Elapsed: time.Since(start)}
		if ctx.Err() != nil {
			cause = ctx.Err()
		}
		return nil, m.failed(imp, &api.RegistrationFailedError{Name: name, Cause: cause})
	}
	if reg.err != nil {
		reg.err.Name = name
		return nil, m.failed(imp, reg.err)
	}
	state := reg.state

	imp.port = state.Port
	imp.location = api.NewLocation(def.Protocol(), m.base.Hostname(), state.Port)

	if m.ports != nil {
		if err := m.ports.Claim(state.Port, owner); err != nil {
			logging.Warn(subsystem, "Backend assigned port %d to imposter %s but the allocator disagrees: %v", state.Port, name, err)
		} else {
			imp.claimed = true
		}
	}

	imp.UpdateState(services.StateRunning, services.HealthHealthy, nil)
	logging.Info(subsystem, "Registered imposter %s on port %d", name, state.Port)
	return imp, nil
}

type registration struct {
	state *State
	err   *api.RegistrationFailedError
}

// create posts one imposter body. It goes through the plain client: a
// retried POST could leave a second imposter behind.
func (m *Manager) create(ctx context.Context, body []byte) registration {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint(0), bytes.NewReader(body))
	if err != nil {
		return registration{err: &api.RegistrationFailedError{Cause: err}}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.HTTPClient.Do(req)
	if err != nil {
		return registration{err: &api.RegistrationFailedError{Cause: err}}
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return registration{err: &api.RegistrationFailedError{StatusCode: resp.StatusCode, Body: readErrorBody(resp.Body)}}
	}

	var state State
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return registration{err: &api.RegistrationFailedError{StatusCode: resp.StatusCode, Cause: fmt.Errorf("decode response: %w", err)}}
	}
	if state.Port == 0 {
		return registration{err: &api.RegistrationFailedError{StatusCode: resp.StatusCode, Cause: errors.New("backend returned no port")}}
	}
	return registration{state: &state}
}

// reapLate waits for a registration its caller gave up on and removes the
// imposter if the backend created one after all.
func (m *Manager) reapLate(name string, results <-chan registration) {
	reg := <-results
	if reg.state == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.registerTimeout)
	defer cancel()
	if err := m.remove(ctx, reg.state.Port); err != nil {
		logging.Warn(subsystem, "Imposter %s was created on port %d after its registration deadline and could not be removed: %v", name, reg.state.Port, err)
		return
	}
	logging.Info(subsystem, "Removed imposter %s created on port %d after its registration deadline", name, reg.state.Port)
}

func (m *Manager) failed(imp *Imposter, err *api.RegistrationFailedError) error {
	imp.UpdateState(services.StateFailed, services.HealthUnhealthy, err)
	logging.Debug(subsystem, "Registration of imposter %s failed: %v", imp.Name(), err)
	return err
}

// Requests fetches the requests recorded by imp so far, oldest first.
func (m *Manager) Requests(ctx context.Context, imp *Imposter) ([]CapturedRequest, error) {
	state, err := m.Get(ctx, imp.Port())
	if err != nil {
		return nil, err
	}
	return state.Requests, nil
}

// Get fetches the backend's view of the imposter on port.
func (m *Manager) Get(ctx context.Context, port int) (*State, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, m.endpoint(port), nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get imposter on port %d: %w", port, err)
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get imposter on port %d: status %d: %s", port, resp.StatusCode, readErrorBody(resp.Body))
	}

	var state State
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return nil, fmt.Errorf("decode imposter on port %d: %w", port, err)
	}
	return &state, nil
}

// Deregister removes imp from the backend and releases its port claim. An
// imposter the backend no longer knows counts as removed.
func (m *Manager) Deregister(ctx context.Context, imp *Imposter) error {
	return imp.Stop(ctx)
}

func (m *Manager) remove(ctx context.Context, port int) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodDelete, m.endpoint(port), nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("delete imposter on port %d: %w", port, err)
	}
	defer drain(resp)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		logging.Debug(subsystem, "Imposter on port %d already gone", port)
		return nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("delete imposter on port %d: status %d: %s", port, resp.StatusCode, readErrorBody(resp.Body))
	}
	return nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

func readErrorBody(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(data))
}
