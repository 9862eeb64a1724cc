package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"stagehand/internal/app"
	"stagehand/internal/config"
	"stagehand/internal/environment"
)

// newValidateCmd creates the command that checks configuration and scenario
// files without provisioning anything.
func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [paths...]",
		Short: "Check the configuration and scenario files without running them",
		Long: `Validate loads the stagehand configuration and every scenario file and
reports unknown fields, duplicate names, unknown service kinds and
declarations that could never be provisioned. Nothing is started.`,
		RunE: runValidate,
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	catalog, err := app.NewCatalog()
	if err != nil {
		return err
	}

	settings, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := settings.Validate(catalog); err != nil {
		return err
	}

	scenarios, err := loadScenarios(args, environment.Filter{})
	if err != nil {
		return err
	}
	if err := validateScenarios(scenarios, catalog); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Configuration and %d scenario(s) are valid\n", len(scenarios))
	return nil
}
