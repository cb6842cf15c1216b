// Package cmd defines and implements the CLI commands for the news crawler.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-crawler/internal/app"
	"github.com/JakeFAU/realtime-news-crawler/internal/config"
	"github.com/JakeFAU/realtime-news-crawler/internal/logging"
)

// appKeyType is the key for storing the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

type rootOptions struct {
	configFile  string
	logLevel    string
	development bool
}

// newApp is the application factory. Tests replace it to inject fixtures.
var newApp = app.Build

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "newscrawler",
		Short: "Crawls configured news sites and archives their articles.",
		Long: `newscrawler discovers article URLs on configured news sites through
sitemaps or category pages, fetches them politely, extracts the article
content and stores each article once.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if opts.logLevel != "" {
				cfg.Logging.Level = opts.logLevel
			}
			if cmd.Flags().Changed("dev") {
				cfg.Logging.Development = opts.development
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return
			}
			if err := appInstance.Close(); err != nil {
				appInstance.Logger().Warn("close failed", zap.Error(err))
			}
			_ = appInstance.Logger().Sync()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "path to the YAML or JSON config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&opts.development, "dev", false, "use the human-readable development logger")

	cmd.AddCommand(newCrawlCmd(), newServeCmd(), newSitesCmd())
	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	if ctx == nil {
		return nil, errors.New("application services not initialized")
	}
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
