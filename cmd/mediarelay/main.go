package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"mediarelay/internal/app"
	"mediarelay/internal/config"
	"mediarelay/internal/logging"
)

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mediarelay",
		Short:         "Discover, acquire, normalize, and publish meeting recordings",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(runCmd(), serveCmd(), statusCmd())
	return root
}

func buildApp() (*app.Application, error) {
	cfg := config.Load()
	logger := logging.New(cfg.Logging.Level)
	return app.New(cfg, logger)
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Execute one full discover→publish pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := buildApp()
			if err != nil {
				return err
			}
			return application.RunOnce(cmd.Context())
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the background scheduler until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := buildApp()
			if err != nil {
				return err
			}
			return application.Serve(cmd.Context())
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print ledger and pool status",
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := buildApp()
			if err != nil {
				return err
			}
			return application.Status(cmd.Context())
		},
	}
}
