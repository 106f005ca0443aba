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

	"github.com/JakeFAU/betline-crawler/internal/app"
	"github.com/JakeFAU/betline-crawler/internal/config"
	"github.com/JakeFAU/betline-crawler/internal/crawler"
	"github.com/JakeFAU/betline-crawler/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands use, so tests can
// inject a fake.
type App interface {
	Run(ctx context.Context) (crawler.RunStats, error)
	Close(ctx context.Context) error
	Logger() *zap.Logger
}

// newApp is the application factory. It is a variable so tests can replace it.
var newApp = func(cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(cfg, logger)
}

type rootOptions struct {
	configPath string
	logDev     bool
	output     string
	logger     *zap.Logger
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "betline-crawler",
		Short: "Crawls the Leon prematch betting line.",
		Long: `betline-crawler walks the Leon betline API from the sport catalog down
to individual runners and prints every hydrated event as an indented text
record. Upstream calls are retried with backoff and guarded by a circuit
breaker; the crawl is paced and bounded in concurrency.`,
		SilenceUsage: true,

		// Builds and injects the application before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := opts.build(cmd)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		// Only runs when RunE succeeds; failing commands close via closeApp.
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			defer logging.Sync(opts.logger)
			return closeApp(cmd.Context())
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	flags.BoolVar(&opts.logDev, "log-dev", true, "use the development logger")
	flags.StringVar(&opts.output, "output", "", "write records to this file instead of stdout")

	cmd.AddCommand(newCrawlCmd())
	return cmd
}

func (o *rootOptions) build(cmd *cobra.Command) (App, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	flags := cmd.Flags()
	if flags.Changed("log-dev") {
		cfg.Logging.Development = o.logDev
	}
	if flags.Changed("output") {
		cfg.Output.Path = o.output
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	o.logger = logger
	zap.ReplaceGlobals(logger)

	appInstance, err := newApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize application services: %w", err)
	}
	return appInstance, nil
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// closeApp shuts down the App stored in ctx, if any. App.Close is idempotent.
func closeApp(ctx context.Context) error {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil
	}
	if err := appInstance.Close(ctx); err != nil {
		return fmt.Errorf("close application: %w", err)
	}
	return nil
}

// Execute runs the CLI until it finishes or receives SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "betline-crawler: %v\n", err)
		os.Exit(1)
	}
}
