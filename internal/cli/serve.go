package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ongoal/internal/logger"
	"ongoal/internal/metrics"
	"ongoal/internal/server"
)

var addr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the REST and websocket API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if addr != "" {
			cfg.Server.Addr = addr
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sup := newSupervisor(cfg, func(rm metrics.RunMetrics) {
			logger.Log.Debugw("run metrics", "conversation_id", rm.ConversationID, "kind", rm.Kind, "stages", rm.Stages)
		})
		cmd.Printf("OnGoal %s listening on %s (backend %s)\n", server.Version, cfg.Server.Addr, sup.Gateway().Backend())
		return server.New(sup, cfg.Server).ListenAndServe(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
}
