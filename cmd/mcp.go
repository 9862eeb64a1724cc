package cmd

import (
	"errors"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"stagehand/internal/app"
	"stagehand/internal/environment"
)

// newMCPCmd creates the command that serves the World API over MCP.
func newMCPCmd() *cobra.Command {
	var (
		debug bool
		watch bool
	)

	cmd := &cobra.Command{
		Use:   "mcp [paths...]",
		Short: "Serve environment provisioning over MCP (stdio transport)",
		Long: `MCP runs stagehand as a Model Context Protocol server on stdin/stdout.
Scenarios found in the given paths (default: ./scenarios, if it exists) can be
provisioned by name; inline environments are accepted as well.

With --watch, scenario files are reloaded as they change. Worlds already
provisioned keep running unchanged.

Configure it in your AI assistant's MCP settings, for example:

  {"command": "stagehand", "args": ["mcp", "e2e/"]}`,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := mcpScenarioPaths(args)
			scenarios, err := environment.LoadAll(paths...)
			if err != nil {
				return err
			}

			// stdout carries the protocol, logs go to stderr.
			application, err := app.NewApplication(&app.Config{
				Debug:      debug,
				ConfigPath: configPath,
				LogOutput:  cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			defer application.Close(cmd.Context())

			if err := validateScenarios(scenarios, application.Services().Catalog); err != nil {
				return err
			}

			ctx, stop := app.WithSignals(cmd.Context())
			defer stop()
			var watchPaths []string
			if watch {
				watchPaths = paths
			}
			return application.ServeMCP(ctx, scenarios, watchPaths, GetVersion())
		},
	}

	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging (to stderr)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Reload scenarios when their files change")
	return cmd
}

// mcpScenarioPaths defaults to ./scenarios when it exists.
func mcpScenarioPaths(args []string) []string {
	if len(args) > 0 {
		return args
	}
	if _, err := os.Stat(defaultScenarioDir); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return []string{defaultScenarioDir}
}
