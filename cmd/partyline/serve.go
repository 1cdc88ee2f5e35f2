package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/HMasataka/partyline/internal/app"
	"github.com/HMasataka/partyline/internal/config"
	"github.com/HMasataka/partyline/internal/logging"
	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	var opts config.LoadOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts)
			if err != nil {
				return err
			}

			logger := logging.New(cfg.Logging)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				logger.Error("failed to start", "error", err)
				return err
			}

			return a.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&opts.Path, "config", "c", "", "path to a YAML or JSON config file")
	cmd.Flags().StringVar(&opts.EnvFile, "env-file", "", "dotenv file to load (default .env when present)")

	return cmd
}
