package cmd

import (
	"github.com/spf13/cobra"

	"github.com/stadspuls/eventpipe/internal/api"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline HTTP server",
		Long: `Serve the pipeline endpoints (/coordinator, /worker,
/discovery-worker, /healer) plus /healthz and /metrics. Scheduling is
left to an external caller; use "daemon" for a self-scheduling
instance.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			server := api.New(a.coordinator, a.worker, a.discovery, a.healer,
				a.health, a.registry, a.logger)
			return server.Run(cmd.Context(), a.cfg.Service.Port)
		},
	}
}
