package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"stagehand/internal/api"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error or a failed scenario.
	ExitCodeError = 1
	// ExitCodeConfiguration indicates invalid configuration or scenario files.
	ExitCodeConfiguration = 2
	// ExitCodeEnvironment indicates that only environments broke, no behavior failed.
	ExitCodeEnvironment = 3
)

var configPath string

// rootCmd represents the base command for the stagehand application.
// It is the entry point when the application is called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "stagehand",
	Short: "Provision isolated environments for end-to-end tests",
	Long: `stagehand builds a fresh, isolated environment for every end-to-end
test scenario: it starts the services a scenario declares on unique ports,
registers imposters with a virtualization backend, waits until everything
is healthy and tears it all down again afterwards.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "stagehand version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
// This provides semantic exit codes for scripting and automation.
func getExitCode(err error) int {
	var suiteErr *SuiteFailedError
	if errors.As(err, &suiteErr) {
		if suiteErr.Failed == 0 && suiteErr.Errors > 0 {
			return ExitCodeEnvironment
		}
		return ExitCodeError
	}

	if api.IsConfiguration(err) {
		return ExitCodeConfiguration
	}

	return ExitCodeError
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the stagehand config file (default: ./stagehand.yaml if present)")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newBackendCmd())
	rootCmd.AddCommand(newMCPCmd())
}
