package cmd

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/briandowns/spinner"

	"stagehand/internal/environment"
	"stagehand/internal/runner"
)

// spinnerReporter shows a spinner between scenario results and delegates
// the output itself to the wrapped reporter.
type spinnerReporter struct {
	next runner.Reporter

	mu      sync.Mutex
	s       *spinner.Spinner
	total   int
	done    int
	failing int
}

func newSpinnerReporter(next runner.Reporter, out io.Writer) *spinnerReporter {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(out))
	return &spinnerReporter{next: next, s: s}
}

func (r *spinnerReporter) suffix() string {
	if r.failing > 0 {
		return fmt.Sprintf(" Running scenarios... %d/%d done, %d not passing", r.done, r.total, r.failing)
	}
	return fmt.Sprintf(" Running scenarios... %d/%d done", r.done, r.total)
}

func (r *spinnerReporter) ReportStart(scenarios []environment.Scenario, cfg runner.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next.ReportStart(scenarios, cfg)
	r.total = len(scenarios)
	r.s.Suffix = r.suffix()
	r.s.Start()
}

func (r *spinnerReporter) ReportScenarioResult(res runner.ScenarioResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.s.Stop()
	r.next.ReportScenarioResult(res)

	r.done++
	if res.Result == runner.ResultFailed || res.Result == runner.ResultError {
		r.failing++
	}
	if r.done < r.total {
		r.s.Suffix = r.suffix()
		r.s.Start()
	}
}

func (r *spinnerReporter) ReportSuiteResult(suite runner.SuiteResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.s.Stop()
	r.next.ReportSuiteResult(suite)
}
