package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"stagehand/internal/app"
	"stagehand/internal/environment"
	"stagehand/internal/runner"
	"stagehand/pkg/logging"
)

const defaultScenarioDir = "scenarios"

type runOptions struct {
	parallel        int
	failFast        bool
	timeout         time.Duration
	scenarioTimeout time.Duration
	reportPath      string
	jsonOutput      bool
	verbose         bool
	debug           bool
	scenario        string
	tags            []string
}

// newRunCmd creates the command that runs scenario suites.
func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run [paths...]",
		Short: "Run scenarios, each in its own freshly provisioned environment",
		Long: `Run loads scenario files (YAML) from the given files or directories,
provisions the environment each scenario declares, executes its steps and
tears the environment down again.

Scenarios whose environment could not be provisioned are reported as ERROR,
scenarios whose steps failed as FAILED.

Example usage:
  stagehand run                               # Run ./scenarios
  stagehand run e2e/checkout.yaml             # Run one file
  stagehand run --parallel=4 --fail-fast e2e  # Four workers, stop on first failure
  stagehand run --tags=smoke --report=out     # Only smoke scenarios, save a JSON report
  stagehand run --json > result.json          # Machine readable output`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args, opts)
		},
	}

	cmd.Flags().IntVar(&opts.parallel, "parallel", 1, "Number of scenarios provisioned and run concurrently (1-50)")
	cmd.Flags().BoolVar(&opts.failFast, "fail-fast", false, "Stop starting new scenarios after the first one that does not pass")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Overall suite timeout (0 means none)")
	cmd.Flags().DurationVar(&opts.scenarioTimeout, "scenario-timeout", 0, "Timeout of one scenario including provisioning and teardown")
	cmd.Flags().StringVar(&opts.reportPath, "report", "", "Directory to save a detailed JSON report to")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print the suite result as JSON instead of a table")
	cmd.Flags().BoolVar(&opts.verbose, "verbose", false, "Print resources and steps of every scenario")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&opts.scenario, "scenario", "", "Run only the scenario with this name")
	cmd.Flags().StringSliceVar(&opts.tags, "tags", nil, "Run only scenarios carrying all of these tags")

	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("parallel") && (opts.parallel < 1 || opts.parallel > 50) {
			return fmt.Errorf("parallel workers must be between 1 and 50, got %d", opts.parallel)
		}
		return nil
	}

	return cmd
}

func runRun(cmd *cobra.Command, args []string, opts *runOptions) error {
	scenarios, err := loadScenarios(args, environment.Filter{Name: opts.scenario, Tags: opts.tags})
	if err != nil {
		return err
	}
	if len(scenarios) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios matched.")
		return nil
	}

	application, err := app.NewApplication(&app.Config{
		Debug:      opts.debug,
		ConfigPath: configPath,
		LogOutput:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := application.Close(context.Background()); err != nil {
			logging.Error("CLI", err, "Cleanup after the suite was incomplete")
		}
	}()

	if err := validateScenarios(scenarios, application.Services().Catalog); err != nil {
		return err
	}

	cfg := application.RunnerConfig()
	if cmd.Flags().Changed("parallel") {
		cfg.Parallel = opts.parallel
	}
	if cmd.Flags().Changed("fail-fast") {
		cfg.FailFast = opts.failFast
	}
	if opts.scenarioTimeout > 0 {
		cfg.ScenarioTimeout = opts.scenarioTimeout
	}
	reportPath := application.Settings().Runner.ReportPath
	if opts.reportPath != "" {
		reportPath = opts.reportPath
	}

	ctx, stop := app.WithSignals(cmd.Context())
	defer stop()
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	suite, err := application.RunSuite(ctx, scenarios, cfg, newReporter(cmd, opts, reportPath))
	if err != nil {
		return err
	}

	if opts.jsonOutput && reportPath != "" {
		if _, err := runner.SaveReport(reportPath, *suite); err != nil {
			logging.Error("CLI", err, "Failed to save report")
		}
	}

	if !suite.Succeeded() {
		return &SuiteFailedError{Failed: suite.Failed, Errors: suite.Errors}
	}
	return nil
}

func newReporter(cmd *cobra.Command, opts *runOptions, reportPath string) runner.Reporter {
	if opts.jsonOutput {
		return runner.NewJSONReporter(cmd.OutOrStdout())
	}
	console := runner.NewConsoleReporter(cmd.OutOrStdout(), opts.verbose, reportPath)
	if opts.verbose || opts.debug {
		return console
	}
	return newSpinnerReporter(console, cmd.ErrOrStderr())
}
