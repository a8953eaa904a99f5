package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"example.com/notes-favorites/internal/config"
	"example.com/notes-favorites/internal/logger"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "notes-api",
		Short:         "Per-session note store with favorites over HTTP",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var addr, level string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if addr != "" {
				cfg.HTTPAddr = addr
			}
			if level != "" {
				cfg.LogLevel = level
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger.New(cmd.OutOrStdout(), cfg.LogLevel))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides HTTP_ADDR)")
	cmd.Flags().StringVar(&level, "log-level", "", "log level (overrides LOG_LEVEL)")
	return cmd
}
