package cmd

import (
	"github.com/spf13/cobra"

	"github.com/thothlabs/thoth/internal/server"
)

func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP control plane",
		Long: `Start the HTTP server exposing ingestion, batch processing, merging,
and job inspection endpoints. The server shuts down gracefully on
SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, cleanup, err := newEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			if port > 0 {
				env.Settings.Port = port
			}
			return server.New(env).Run(cmd.Context())
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "Listen port (overrides PORT)")
	return cmd
}
