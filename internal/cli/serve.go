package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codebuildervaibhav/podcast-animator/internal/server"
)

func NewServeCmd(deps *Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, workers and playback websocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, err := server.New(ctx, deps.Config, deps.Logs)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}

	cmd.Flags().String("host", "", "Listen host (overrides server.host)")
	cmd.Flags().Int("port", 0, "Listen port (overrides server.port)")
	cmd.Flags().Int("workers", 0, "Worker count (overrides workers.count)")
	bind(deps.Viper, cmd.Flags().Lookup("host"), "server.host")
	bind(deps.Viper, cmd.Flags().Lookup("port"), "server.port")
	bind(deps.Viper, cmd.Flags().Lookup("workers"), "workers.count")

	return cmd
}
