package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"stagehand/internal/api"
	"stagehand/internal/world"
)

// State is the lifecycle state of a Run.
type State string

const (
	StatePending      State = "Pending"
	StateProvisioning State = "Provisioning"
	StateReady        State = "Ready"
	StateInUse        State = "InUse"
	StateTearingDown  State = "TearingDown"
	StateDone         State = "Done"
	StateFailed       State = "Failed"
)

var (
	// ErrInvalidTransition is returned for transitions the state machine forbids.
	ErrInvalidTransition = errors.New("invalid run state transition")
	// ErrRunAborted is the cause of a run torn down while still provisioning.
	ErrRunAborted = errors.New("run torn down while provisioning")
)

var transitions = map[State][]State{
	StatePending:      {StateProvisioning, StateFailed},
	StateProvisioning: {StateReady, StateFailed},
	StateReady:        {StateInUse},
	StateInUse:        {StateTearingDown},
	StateTearingDown:  {StateDone, StateFailed},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

func canTransition(from, to State) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition is one entry of a Run's history.
type Transition struct {
	From  State     `json:"from"`
	To    State     `json:"to"`
	At    time.Time `json:"at"`
	Error string    `json:"error,omitempty"`
}

// Run is the provisioning lifecycle of one scenario.
type Run struct {
	scenario string

	mu       sync.RWMutex
	state    State
	history  []Transition
	world    *world.World
	err      error
	teardown api.TeardownErrors
	started  time.Time

	// cancel stops the provisioning fan-out; aborted keeps the run from
	// becoming Ready once it was called.
	cancel      context.CancelFunc
	aborted     bool
	provisioned chan struct{}

	// teardownMu serializes Teardown calls on this run.
	teardownMu sync.Mutex
}

func newRun(scenario string) *Run {
	return &Run{
		scenario:    scenario,
		state:       StatePending,
		started:     time.Now(),
		provisioned: make(chan struct{}),
	}
}

// Scenario returns the scenario name.
func (r *Run) Scenario() string { return r.scenario }

// State returns the current state.
func (r *Run) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// History returns every transition so far, oldest first.
func (r *Run) History() []Transition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Transition, len(r.history))
	copy(out, r.history)
	return out
}

// World returns the scenario World, nil when validation failed.
func (r *Run) World() *world.World {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.world
}

// Err returns the error that moved the run to Failed.
func (r *Run) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// TeardownFailures returns the failures recorded while tearing down.
func (r *Run) TeardownFailures() api.TeardownErrors {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.teardown
}

// Started returns when the run was created.
func (r *Run) Started() time.Time { return r.started }

func (r *Run) setWorld(w *world.World) {
	r.mu.Lock()
	r.world = w
	r.mu.Unlock()
}

func (r *Run) setCancel(cancel context.CancelFunc) {
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
}

// abort cancels provisioning if the run is still Provisioning and reports
// whether it did.
func (r *Run) abort() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateProvisioning {
		return false
	}
	r.aborted = true
	if r.cancel != nil {
		r.cancel()
	}
	return true
}

func (r *Run) isAborted() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.aborted
}

func (r *Run) setTeardown(failures api.TeardownErrors) {
	r.mu.Lock()
	r.teardown = failures
	r.mu.Unlock()
}

// transition moves the run to `to`. cause is recorded on the history entry
// and, for Failed, as the run error.
func (r *Run) transition(to State, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	from := r.state
	if !canTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if to == StateReady && r.aborted {
		return ErrRunAborted
	}

	t := Transition{From: from, To: to, At: time.Now()}
	if cause != nil {
		t.Error = cause.Error()
	}
	r.history = append(r.history, t)
	r.state = to
	if to == StateFailed && r.err == nil {
		r.err = cause
	}
	return nil
}
