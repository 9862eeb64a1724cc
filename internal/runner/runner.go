package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"stagehand/internal/api"
	"stagehand/internal/environment"
	"stagehand/internal/orchestrator"
	"stagehand/internal/world"
	"stagehand/pkg/logging"
)

const subsystem = "Runner"

// errSkipped marks scenarios not started because of fail-fast.
var errSkipped = errors.New("skipped after an earlier failure")

// Runner executes scenarios through an Executor.
type Runner struct {
	exec     Executor
	steps    StepRunner
	reporter Reporter
	cfg      Config
}

// New creates a runner. A nil reporter discards results.
func New(exec Executor, steps StepRunner, reporter Reporter, cfg Config) *Runner {
	if reporter == nil {
		reporter = NewQuietReporter()
	}
	if cfg.Parallel < 1 {
		cfg.Parallel = 1
	}
	return &Runner{exec: exec, steps: steps, reporter: reporter, cfg: cfg}
}

// Run executes scenarios and returns the suite result. Scenario results are
// in input order.
func (r *Runner) Run(ctx context.Context, scenarios []environment.Scenario) *SuiteResult {
	suite := &SuiteResult{
		StartTime: time.Now(),
		Total:     len(scenarios),
		Scenarios: make([]ScenarioResult, len(scenarios)),
		Config:    r.cfg,
	}
	r.reporter.ReportStart(scenarios, r.cfg)

	// feedCtx stops handing out scenarios; running ones finish under ctx.
	feedCtx, stopFeeding := context.WithCancelCause(ctx)
	defer stopFeeding(nil)

	workers := r.cfg.Parallel
	if workers > len(scenarios) {
		workers = len(scenarios)
	}

	type job struct {
		index    int
		scenario environment.Scenario
	}
	jobs := make(chan job)
	results := make(chan job)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := range jobs {
				if feedCtx.Err() != nil {
					suite.Scenarios[j.index] = skipped(j.scenario, context.Cause(feedCtx))
				} else {
					logging.Debug(subsystem, "Worker %d executing scenario %s", workerID, j.scenario.Name)
					res := r.runScenario(ctx, j.scenario)
					if r.cfg.FailFast && (res.Result == ResultFailed || res.Result == ResultError) {
						stopFeeding(errSkipped)
					}
					suite.Scenarios[j.index] = res
				}
				results <- j
			}
		}(i)
	}

	go func() {
		defer close(jobs)
		for i, sc := range scenarios {
			select {
			case jobs <- job{index: i, scenario: sc}:
			case <-feedCtx.Done():
				// Remaining scenarios are skipped below.
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	done := make([]bool, len(scenarios))
	for j := range results {
		done[j.index] = true
		res := suite.Scenarios[j.index]
		suite.count(res)
		r.reporter.ReportScenarioResult(res)
	}

	for i, sc := range scenarios {
		if done[i] {
			continue
		}
		res := skipped(sc, context.Cause(feedCtx))
		suite.Scenarios[i] = res
		suite.count(res)
		r.reporter.ReportScenarioResult(res)
	}

	suite.EndTime = time.Now()
	suite.Duration = suite.EndTime.Sub(suite.StartTime)
	r.reporter.ReportSuiteResult(*suite)
	return suite
}

func skipped(sc environment.Scenario, cause error) ScenarioResult {
	now := time.Now()
	res := ScenarioResult{
		Scenario:  sc.Name,
		Source:    sc.Source,
		Tags:      sc.Tags,
		Result:    ResultSkipped,
		StartTime: now,
		EndTime:   now,
	}
	if cause != nil {
		res.Error = cause.Error()
	}
	return res
}

func (r *Runner) runScenario(ctx context.Context, sc environment.Scenario) ScenarioResult {
	if sc.Skip {
		return skipped(sc, nil)
	}
	if ctx.Err() != nil {
		return skipped(sc, context.Cause(ctx))
	}

	res := ScenarioResult{
		Scenario:  sc.Name,
		Source:    sc.Source,
		Tags:      sc.Tags,
		StartTime: time.Now(),
	}

	if r.cfg.ScenarioTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.ScenarioTimeout)
		defer cancel()
	}

	var stepErr error
	run, err := r.exec.Execute(ctx, sc, func(ctx context.Context, w *world.World) error {
		res.Resources = resourceURLs(w)
		res.Steps, stepErr = r.runSteps(ctx, w, sc.Steps)
		return stepErr
	})

	res.EndTime = time.Now()
	res.Duration = res.EndTime.Sub(res.StartTime)
	if run != nil {
		res.History = run.History()
		for _, f := range run.TeardownFailures() {
			res.Teardown = append(res.Teardown, f.Error())
		}
	}

	switch {
	case err == nil:
		res.Result = ResultPassed
	case stepErr != nil:
		res.Result = ResultFailed
		res.Error = stepErr.Error()
	default:
		// Provisioning, configuration or teardown under the fail policy.
		res.Result = ResultError
		res.Error = err.Error()
	}

	if res.Result != ResultPassed {
		logging.Info(subsystem, "Scenario %s %s: %s", sc.Name, res.Result, res.Error)
	}
	return res
}

func (r *Runner) runSteps(ctx context.Context, w *world.World, steps []environment.Step) ([]StepResult, error) {
	results := make([]StepResult, 0, len(steps))
	for i, step := range steps {
		id := step.ID
		if id == "" {
			id = fmt.Sprintf("step-%d", i+1)
		}

		start := time.Now()
		err := r.steps.RunStep(ctx, w, step)
		sr := StepResult{ID: id, Action: step.Action, Result: ResultPassed, Duration: time.Since(start)}
		if err != nil {
			sr.Result = ResultFailed
			sr.Error = err.Error()
			results = append(results, sr)
			for _, rest := range steps[i+1:] {
				results = append(results, StepResult{ID: rest.ID, Action: rest.Action, Result: ResultSkipped})
			}
			return results, fmt.Errorf("step %s: %w", id, err)
		}
		results = append(results, sr)
	}
	return results, nil
}

func resourceURLs(w *world.World) map[string]string {
	ctx := w.Context()
	urls := make(map[string]string, ctx.Len())
	for name, loc := range ctx.Locations() {
		urls[name] = loc.URL()
	}
	return urls
}

// IsEnvironmentError reports whether err means the environment, not the
// behavior under test, broke.
func IsEnvironmentError(err error) bool {
	return api.IsProvisioning(err) || api.IsConfiguration(err) || api.IsTeardown(err)
}

var _ Executor = (*orchestrator.Orchestrator)(nil)
