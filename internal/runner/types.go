package runner

import (
	"context"
	"time"

	"stagehand/internal/environment"
	"stagehand/internal/orchestrator"
	"stagehand/internal/world"
)

// Result is the outcome of a scenario or step.
type Result string

const (
	ResultPassed  Result = "PASSED"
	ResultFailed  Result = "FAILED"
	ResultSkipped Result = "SKIPPED"
	// ResultError means the environment broke, not the behavior under test
	ResultError Result = "ERROR"
)

// Config tunes a suite run.
type Config struct {
	// Parallel is the number of workers; values below 2 run sequentially
	Parallel int  `json:"parallel"`
	FailFast bool `json:"failFast"`
	// ScenarioTimeout bounds one scenario including provisioning and teardown
	ScenarioTimeout time.Duration `json:"scenarioTimeout"`
}

// StepRunner executes the steps of a scenario against its World.
type StepRunner interface {
	RunStep(ctx context.Context, w *world.World, step environment.Step) error
}

// Executor provisions a scenario, runs fn and tears down.
type Executor interface {
	Execute(ctx context.Context, sc environment.Scenario, fn func(ctx context.Context, w *world.World) error) (*orchestrator.Run, error)
}

// StepResult is the outcome of one step.
type StepResult struct {
	ID       string        `json:"id"`
	Action   string        `json:"action"`
	Result   Result        `json:"result"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// ScenarioResult is the outcome of one scenario.
type ScenarioResult struct {
	Scenario  string        `json:"scenario"`
	Source    string        `json:"source,omitempty"`
	Tags      []string      `json:"tags,omitempty"`
	Result    Result        `json:"result"`
	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`
	Steps     []StepResult  `json:"steps,omitempty"`
	Error     string        `json:"error,omitempty"`
	// Resources maps resource names to the URLs they were reachable at
	Resources map[string]string `json:"resources,omitempty"`
	// Teardown lists teardown failures; they do not change Result under the report policy
	Teardown []string                  `json:"teardown,omitempty"`
	History  []orchestrator.Transition `json:"history,omitempty"`
}

// SuiteResult aggregates a suite run.
type SuiteResult struct {
	StartTime time.Time        `json:"startTime"`
	EndTime   time.Time        `json:"endTime"`
	Duration  time.Duration    `json:"duration"`
	Total     int              `json:"total"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Skipped   int              `json:"skipped"`
	Errors    int              `json:"errors"`
	Scenarios []ScenarioResult `json:"scenarios"`
	Config    Config           `json:"config"`
}

// Succeeded reports whether no scenario failed or errored.
func (s *SuiteResult) Succeeded() bool {
	return s.Failed == 0 && s.Errors == 0
}

func (s *SuiteResult) count(r ScenarioResult) {
	switch r.Result {
	case ResultPassed:
		s.Passed++
	case ResultFailed:
		s.Failed++
	case ResultSkipped:
		s.Skipped++
	case ResultError:
		s.Errors++
	}
}

// Reporter receives results as they are produced.
type Reporter interface {
	ReportStart(scenarios []environment.Scenario, cfg Config)
	ReportScenarioResult(result ScenarioResult)
	ReportSuiteResult(result SuiteResult)
}
