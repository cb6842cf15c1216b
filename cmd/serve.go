package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/realtime-news-crawler/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Starts the HTTP API on server.port. Runs are started with POST /v1/runs
and polled with GET /v1/runs/{run_id}. SIGINT or SIGTERM drains the server
and waits for in-flight runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return server.New(appInstance, appInstance.Logger().Named("server")).Run(cmd.Context())
		},
	}
}
