package runner

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"stagehand/internal/environment"
	strutil "stagehand/pkg/strings"
)

// ConsoleReporter prints results for humans and renders a summary table.
type ConsoleReporter struct {
	out        io.Writer
	verbose    bool
	reportPath string

	mu sync.Mutex
}

// NewConsoleReporter creates a console reporter. A non-empty reportPath is a
// directory a detailed JSON report is saved to.
func NewConsoleReporter(out io.Writer, verbose bool, reportPath string) *ConsoleReporter {
	return &ConsoleReporter{out: out, verbose: verbose, reportPath: reportPath}
}

func (r *ConsoleReporter) ReportStart(scenarios []environment.Scenario, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fmt.Fprintf(r.out, "Running %d scenario(s)", len(scenarios))
	if cfg.Parallel > 1 {
		fmt.Fprintf(r.out, " on %d workers", cfg.Parallel)
	}
	fmt.Fprintln(r.out)
	if r.verbose {
		fmt.Fprintf(r.out, "  fail fast: %t\n  scenario timeout: %s\n", cfg.FailFast, cfg.ScenarioTimeout)
	}
}

func (r *ConsoleReporter) ReportScenarioResult(res ScenarioResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fmt.Fprintf(r.out, "%s %s (%s)\n", resultLabel(res.Result), res.Scenario, res.Duration.Round(time.Millisecond))
	if res.Error != "" && res.Result != ResultSkipped {
		fmt.Fprintf(r.out, "    %s\n", text.FgRed.Sprint(res.Error))
	}
	for _, f := range res.Teardown {
		fmt.Fprintf(r.out, "    %s\n", text.FgYellow.Sprint("teardown: "+f))
	}

	if !r.verbose {
		return
	}
	names := make([]string, 0, len(res.Resources))
	for name := range res.Resources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(r.out, "    %s -> %s\n", name, res.Resources[name])
	}
	for _, step := range res.Steps {
		fmt.Fprintf(r.out, "    %s %s [%s]\n", resultLabel(step.Result), step.ID, step.Action)
	}
}

func (r *ConsoleReporter) ReportSuiteResult(suite SuiteResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := table.NewWriter()
	t.SetOutputMirror(r.out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{
		text.FgHiCyan.Sprint("SCENARIO"),
		text.FgHiCyan.Sprint("RESULT"),
		text.FgHiCyan.Sprint("DURATION"),
		text.FgHiCyan.Sprint("RESOURCES"),
		text.FgHiCyan.Sprint("STEPS"),
		text.FgHiCyan.Sprint("ERROR"),
	})
	for _, res := range suite.Scenarios {
		t.AppendRow(table.Row{
			res.Scenario,
			resultLabel(res.Result),
			res.Duration.Round(time.Millisecond),
			len(res.Resources),
			len(res.Steps),
			strutil.Truncate(res.Error, strutil.DefaultCellMaxLen),
		})
	}
	t.AppendFooter(table.Row{
		fmt.Sprintf("%d total", suite.Total),
		fmt.Sprintf("%d passed", suite.Passed),
		suite.Duration.Round(time.Millisecond),
		fmt.Sprintf("%d failed", suite.Failed),
		fmt.Sprintf("%d errors", suite.Errors),
		fmt.Sprintf("%d skipped", suite.Skipped),
	})
	fmt.Fprintln(r.out)
	t.Render()

	if r.reportPath == "" {
		return
	}
	path, err := SaveReport(r.reportPath, suite)
	if err != nil {
		fmt.Fprintf(r.out, "%s\n", text.FgYellow.Sprintf("Failed to save detailed report: %v", err))
		return
	}
	fmt.Fprintf(r.out, "Detailed report saved to %s\n", path)
}

func resultLabel(r Result) string {
	switch r {
	case ResultPassed:
		return text.FgGreen.Sprint(string(r))
	case ResultFailed:
		return text.FgRed.Sprint(string(r))
	case ResultError:
		return text.FgHiRed.Sprint(string(r))
	default:
		return text.FgYellow.Sprint(string(r))
	}
}

// SaveReport writes suite as JSON into dir and returns the file path.
func SaveReport(dir string, suite SuiteResult) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	data, err := json.MarshalIndent(suite, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("stagehand-report-%s.json", time.Now().Format("20060102-150405")))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

// JSONReporter writes the suite result as one JSON document at the end.
type JSONReporter struct {
	out io.Writer
}

// NewJSONReporter creates a reporter for machine consumption.
func NewJSONReporter(out io.Writer) *JSONReporter {
	return &JSONReporter{out: out}
}

func (r *JSONReporter) ReportStart([]environment.Scenario, Config) {}

func (r *JSONReporter) ReportScenarioResult(ScenarioResult) {}

func (r *JSONReporter) ReportSuiteResult(suite SuiteResult) {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(suite)
}

type quietReporter struct{}

// NewQuietReporter returns a reporter that prints nothing.
func NewQuietReporter() Reporter { return quietReporter{} }

func (quietReporter) ReportStart([]environment.Scenario, Config) {}
func (quietReporter) ReportScenarioResult(ScenarioResult)        {}
func (quietReporter) ReportSuiteResult(SuiteResult)              {}
