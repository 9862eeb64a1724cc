package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagehand/internal/api"
	"stagehand/internal/environment"
	"stagehand/internal/orchestrator"
	"stagehand/internal/world"
)

type fakeExecutor struct {
	errs map[string]error

	calls   atomic.Int32
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (f *fakeExecutor) Execute(ctx context.Context, sc environment.Scenario, fn func(context.Context, *world.World) error) (*orchestrator.Run, error) {
	f.calls.Add(1)
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	if err := f.errs[sc.Name]; err != nil {
		return nil, err
	}
	return nil, fn(ctx, world.New(nil, nil, world.Options{Name: sc.Name}))
}

type stepFunc func(ctx context.Context, w *world.World, step environment.Step) error

func (f stepFunc) RunStep(ctx context.Context, w *world.World, step environment.Step) error {
	return f(ctx, w, step)
}

func actionSteps() stepFunc {
	return func(ctx context.Context, _ *world.World, step environment.Step) error {
		switch step.Action {
		case "fail":
			return errors.New("expected 200, got 500")
		case "wait":
			select {
			case <-time.After(100 * time.Millisecond):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		case "block":
			<-ctx.Done()
			return ctx.Err()
		default:
			return nil
		}
	}
}

func scenario(name string, actions ...string) environment.Scenario {
	sc := environment.Scenario{Name: name}
	for _, a := range actions {
		sc.Steps = append(sc.Steps, environment.Step{ID: a, Action: a})
	}
	return sc
}

func TestRunClassifiesResults(t *testing.T) {
	exec := &fakeExecutor{errs: map[string]error{
		"broken-env": &api.ProvisioningError{Scenario: "broken-env", Cause: errors.New("port exhausted")},
	}}

	skip := scenario("skipped")
	skip.Skip = true

	r := New(exec, actionSteps(), nil, Config{})
	suite := r.Run(context.Background(), []environment.Scenario{
		scenario("passes", "ok", "ok"),
		scenario("fails", "ok", "fail", "ok"),
		scenario("broken-env", "ok"),
		skip,
	})

	require.Len(t, suite.Scenarios, 4)
	assert.Equal(t, ResultPassed, suite.Scenarios[0].Result)
	assert.Equal(t, ResultFailed, suite.Scenarios[1].Result)
	assert.Equal(t, ResultError, suite.Scenarios[2].Result)
	assert.Equal(t, ResultSkipped, suite.Scenarios[3].Result)

	steps := suite.Scenarios[1].Steps
	require.Len(t, steps, 3)
	assert.Equal(t, ResultPassed, steps[0].Result)
	assert.Equal(t, ResultFailed, steps[1].Result)
	assert.Equal(t, ResultSkipped, steps[2].Result)
	assert.Contains(t, suite.Scenarios[1].Error, "step fail")

	assert.Equal(t, 4, suite.Total)
	assert.Equal(t, 1, suite.Passed)
	assert.Equal(t, 1, suite.Failed)
	assert.Equal(t, 1, suite.Errors)
	assert.Equal(t, 1, suite.Skipped)
	assert.False(t, suite.Succeeded())
	assert.Equal(t, int32(3), exec.calls.Load())
}

func TestRunFailFastSequential(t *testing.T) {
	exec := &fakeExecutor{}
	r := New(exec, actionSteps(), nil, Config{FailFast: true})

	suite := r.Run(context.Background(), []environment.Scenario{
		scenario("first", "fail"),
		scenario("second", "ok"),
		scenario("third", "ok"),
	})

	assert.Equal(t, ResultFailed, suite.Scenarios[0].Result)
	assert.Equal(t, ResultSkipped, suite.Scenarios[1].Result)
	assert.Equal(t, ResultSkipped, suite.Scenarios[2].Result)
	assert.Equal(t, int32(1), exec.calls.Load())
}

func TestRunParallel(t *testing.T) {
	exec := &fakeExecutor{}
	r := New(exec, actionSteps(), nil, Config{Parallel: 4})

	var scenarios []environment.Scenario
	for _, name := range []string{"a", "b", "c", "d"} {
		scenarios = append(scenarios, scenario(name, "wait"))
	}

	start := time.Now()
	suite := r.Run(context.Background(), scenarios)

	assert.Less(t, time.Since(start), 350*time.Millisecond)
	assert.Greater(t, exec.maxSeen.Load(), int32(1))
	assert.True(t, suite.Succeeded())
	for i, res := range suite.Scenarios {
		assert.Equal(t, scenarios[i].Name, res.Scenario, "results keep input order")
	}
}

func TestRunScenarioTimeout(t *testing.T) {
	r := New(&fakeExecutor{}, actionSteps(), nil, Config{ScenarioTimeout: 50 * time.Millisecond})

	start := time.Now()
	suite := r.Run(context.Background(), []environment.Scenario{scenario("hangs", "block")})

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, ResultFailed, suite.Scenarios[0].Result)
	assert.Contains(t, suite.Scenarios[0].Error, context.DeadlineExceeded.Error())
}

type recordingReporter struct {
	mu      sync.Mutex
	started int
	results []string
	suite   *SuiteResult
}

func (r *recordingReporter) ReportStart(s []environment.Scenario, _ Config) { r.started = len(s) }

func (r *recordingReporter) ReportScenarioResult(res ScenarioResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res.Scenario)
}

func (r *recordingReporter) ReportSuiteResult(s SuiteResult) { r.suite = &s }

func TestRunReportsEveryScenario(t *testing.T) {
	rep := &recordingReporter{}
	r := New(&fakeExecutor{}, actionSteps(), rep, Config{Parallel: 2, FailFast: true})

	r.Run(context.Background(), []environment.Scenario{
		scenario("a", "fail"), scenario("b", "ok"), scenario("c", "ok"),
	})

	assert.Equal(t, 3, rep.started)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, rep.results)
	require.NotNil(t, rep.suite)
	assert.Equal(t, 3, rep.suite.Total)
}

func TestConsoleAndJSONReporters(t *testing.T) {
	dir := t.TempDir()
	var console, js bytes.Buffer

	for _, rep := range []Reporter{NewConsoleReporter(&console, true, dir), NewJSONReporter(&js)} {
		r := New(&fakeExecutor{}, actionSteps(), rep, Config{})
		r.Run(context.Background(), []environment.Scenario{scenario("login", "ok"), scenario("logout", "fail")})
	}

	assert.Contains(t, console.String(), "login")
	assert.Contains(t, console.String(), "FAILED")
	assert.Contains(t, console.String(), "Detailed report saved to")
	assert.Contains(t, console.String(), "ERROR")

	var decoded SuiteResult
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Equal(t, 2, decoded.Total)
	assert.Equal(t, 1, decoded.Failed)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestIsEnvironmentError(t *testing.T) {
	assert.True(t, IsEnvironmentError(&api.ProvisioningError{Cause: errors.New("x")}))
	assert.True(t, IsEnvironmentError(&api.ConfigurationError{Message: "x"}))
	assert.True(t, IsEnvironmentError(api.TeardownErrors{{Name: "a", Cause: errors.New("x")}}))
	assert.False(t, IsEnvironmentError(errors.New("assertion failed")))
}
