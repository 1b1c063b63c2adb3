package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/servelist/backend/internal/syncclient"
)

// WatchCmd creates the watch command
func WatchCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow live changes until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			poll, _ := cmd.Flags().GetBool("poll")
			interval, _ := cmd.Flags().GetDuration("interval")

			ctx, stop := signal.NotifyContext(app.Ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg := syncclient.DefaultConnectionConfig()
			cfg.DisablePush = poll
			if interval > 0 {
				cfg.PollInterval = interval
			}
			conn := syncclient.NewConnectionManager(app.API.WebsocketURL(), app.Agent, cfg, app.Logger)

			out := cmd.OutOrStdout()
			conn.OnStateChange(func(s syncclient.ConnState) {
				app.Logger.Info("connection", zap.String("state", s.String()))
				fmt.Fprintf(out, "[%s]\n", s)
			})
			app.Agent.OnChange(func(view syncclient.View) {
				fmt.Fprintln(out)
				printView(out, view)
			})

			err := conn.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().Bool("poll", false, "Poll for snapshots instead of using the push channel")
	cmd.Flags().Duration("interval", 0, "Poll interval (default 5s)")

	return cmd
}
