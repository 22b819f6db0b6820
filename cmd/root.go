// Package cmd defines and implements the CLI commands for the pitchfork crawler.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pitchfork-crawler/internal/app"
	"github.com/JakeFAU/pitchfork-crawler/internal/config"
	"github.com/JakeFAU/pitchfork-crawler/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// appFactory builds the App for one invocation from a config file path.
type appFactory func(ctx context.Context, cfgPath string) (*app.App, error)

func defaultFactory(ctx context.Context, cfgPath string) (*app.App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application services: %w", err)
	}
	return a, nil
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd(newApp appFactory) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "pitchfork",
		Short: "Crawls Pitchfork album reviews into a relational store.",
		Long: `pitchfork walks the year-partitioned sitemap, scrapes every album review
page and every author profile it finds, and normalizes them into SQLite or
Postgres. Every attempt is recorded in the scraping_events table, which also
drives the retry of abandoned pages.`,
		SilenceUsage: true,

		// Builds the App once the flags are parsed, before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if appInstance, ok := cmd.Context().Value(appKey).(*app.App); ok && appInstance != nil {
				return appInstance.Close()
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (defaults and CRAWLER_* env vars apply without one)")

	cmd.AddCommand(
		newRunCmd(),
		newSitemapCmd(),
		newReviewsCmd(),
		newAuthorsCmd(),
		newScriptsCmd(),
		newFailuresCmd(),
		newServeCmd(),
	)
	return cmd
}

// resolveApp fetches the App stored by PersistentPreRunE.
func resolveApp(ctx context.Context) (*app.App, error) {
	if ctx == nil {
		return nil, errors.New("command context is nil")
	}
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application is not initialized")
	}
	return a, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var built *app.App
	factory := func(ctx context.Context, cfgPath string) (*app.App, error) {
		a, err := defaultFactory(ctx, cfgPath)
		built = a
		return a, err
	}
	if err := newRootCmd(factory).ExecuteContext(ctx); err != nil {
		// PersistentPostRunE is skipped when RunE fails.
		if built != nil {
			_ = built.Close()
		}
		fmt.Fprintf(os.Stderr, "pitchfork: %v\n", err)
		stop()
		os.Exit(1)
	}
}
