package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/release-notifier/internal/config"
	"github.com/JakeFAU/release-notifier/internal/scheduler"
	"github.com/JakeFAU/release-notifier/internal/server"
)

// application is the surface the commands drive.
type application interface {
	Run(ctx context.Context) error
	RunOnce(ctx context.Context, loop string) (scheduler.LoopStatus, error)
	Close(ctx context.Context) error
}

// buildApp is a variable so tests can inject a fake application.
var buildApp = func(ctx context.Context, cfg *config.Config) (application, error) {
	return server.Build(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	load := func(cmd *cobra.Command) (application, error) {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		app, err := buildApp(cmd.Context(), &cfg)
		if err != nil {
			return nil, fmt.Errorf("initialize application: %w", err)
		}
		return app, nil
	}

	serve := func(cmd *cobra.Command, _ []string) error {
		app, err := load(cmd)
		if err != nil {
			return err
		}
		return app.Run(cmd.Context())
	}

	root := &cobra.Command{
		Use:   "releasewatch",
		Short: "Mirror a release catalog and notify subscribers about new episodes.",
		Long: `releasewatch periodically crawls the catalog listing into its store,
watches the latest-updates feed for new episodes, and sends a message to every
subscriber of the affected series.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run both loops and the ops HTTP server until interrupted.",
		RunE:  serve,
	})
	root.AddCommand(onceCmd("sync", "Run one full catalog synchronization and exit.", scheduler.LoopFullSync, load))
	root.AddCommand(onceCmd("scan", "Run one update check and exit.", scheduler.LoopUpdates, load))
	return root
}

func onceCmd(use, short, loop string, load func(*cobra.Command) (application, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := load(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close(context.Background()) }()

			status, runErr := app.RunOnce(cmd.Context(), loop)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(status); err != nil {
				return fmt.Errorf("write status: %w", err)
			}
			return runErr
		},
	}
}
