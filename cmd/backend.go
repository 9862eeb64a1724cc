package cmd

import (
	"github.com/spf13/cobra"

	"stagehand/internal/app"
	"stagehand/pkg/logging"
)

// newBackendCmd creates the command that runs a standalone virtualization
// backend.
func newBackendCmd() *cobra.Command {
	var (
		listen string
		host   string
		debug  bool
	)

	cmd := &cobra.Command{
		Use:   "backend",
		Short: "Run a standalone virtualization backend",
		Long: `Backend serves a mountebank-compatible admin API for imposters. Point
backend.url (or STAGEHAND_BACKEND_URL) at it to share one backend between
several stagehand processes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := logging.LevelInfo
			if debug {
				level = logging.LevelDebug
			}
			logging.InitForCLI(level, cmd.ErrOrStderr())

			ctx, stop := app.WithSignals(cmd.Context())
			defer stop()
			return app.ServeBackend(ctx, listen, host)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:2525", "Address of the admin API")
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Interface imposters listen on")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	return cmd
}
