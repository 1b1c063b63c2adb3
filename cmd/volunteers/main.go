// Package main is the volunteers CLI: browse services, sign up and follow live changes.
package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/servelist/backend/cmd/volunteers/commands"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	app := &commands.AppContext{}

	rootCmd := &cobra.Command{
		Use:          "volunteers",
		Short:        "Servelist CLI - Sign up for services",
		Long:         `A CLI for browsing services, signing up, withdrawing and following changes live.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.Init(context.Background())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app.Logger != nil {
				_ = app.Logger.Sync()
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&app.Opts.Server, "server", "s", envOr("VOLUNTEERS_SERVER", "http://localhost:8080"), "Server base URL")
	flags.StringVar(&app.Opts.StatePath, "state", os.Getenv("VOLUNTEERS_STATE"), "Local state file (default in the user config dir)")
	flags.StringVar(&app.Opts.Token, "token", os.Getenv("VOLUNTEERS_ADMIN_TOKEN"), "Admin token from 'admin login'")
	flags.DurationVar(&app.Opts.Timeout, "timeout", 10*time.Second, "Request timeout")
	flags.BoolVarP(&app.Opts.Verbose, "verbose", "v", false, "Debug logging")

	rootCmd.AddCommand(commands.ListCmd(app))
	rootCmd.AddCommand(commands.SignUpCmd(app))
	rootCmd.AddCommand(commands.WithdrawCmd(app))
	rootCmd.AddCommand(commands.MineCmd(app))
	rootCmd.AddCommand(commands.WatchCmd(app))
	rootCmd.AddCommand(commands.AdminCmd(app))

	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
