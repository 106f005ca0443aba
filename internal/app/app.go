// Package app builds and holds the long-lived services of one crawl process,
// acting as its dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/betline-crawler/internal/api"
	"github.com/JakeFAU/betline-crawler/internal/betline"
	"github.com/JakeFAU/betline-crawler/internal/clock/system"
	"github.com/JakeFAU/betline-crawler/internal/config"
	"github.com/JakeFAU/betline-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/betline-crawler/internal/fetcher/colly"
	idgen "github.com/JakeFAU/betline-crawler/internal/id/uuid"
	"github.com/JakeFAU/betline-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/betline-crawler/internal/progress"
	"github.com/JakeFAU/betline-crawler/internal/progress/sinks"
)

const shutdownTimeout = 5 * time.Second

// App holds the services shared by a crawl run.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	clock    *system.Clock
	runID    uuid.UUID
	hub      *progress.Hub
	client   *betline.Client
	sink     *crawler.TextSink
	engine   *crawler.Engine
	server   *api.Server
	outFile  *os.File
	closed   bool
	registry prometheus.Registerer
	stdout   io.Writer
	fetcher  crawler.Fetcher
}

// Option customises App construction.
type Option func(*App)

// WithRegisterer registers progress collectors against reg instead of the
// default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) { a.registry = reg }
}

// WithStdout replaces os.Stdout as the output used when no output path is set.
func WithStdout(w io.Writer) Option {
	return func(a *App) { a.stdout = w }
}

// WithFetcher replaces the Colly fetcher.
func WithFetcher(f crawler.Fetcher) Option {
	return func(a *App) { a.fetcher = f }
}

// New creates and initializes an App from cfg. It fails fast if any service
// cannot be built; partially built services are released before returning.
func New(cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		stdout: os.Stdout,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.runID = idgen.New().MustRunID()
	logger = logger.With(zap.Stringer("run_id", a.runID))
	a.logger = logger

	if err := a.build(); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	logger.Info("application services initialized",
		zap.String("base_url", cfg.API.BaseURL),
		zap.Int("max_parallel_requests", cfg.Parser.MaxParallelRequests),
		zap.Bool("circuit_breaker", cfg.API.CircuitBreaker.Enabled),
	)
	return a, nil
}

func (a *App) build() error {
	promSink, err := sinks.NewPrometheusSink(a.registry)
	if err != nil {
		return fmt.Errorf("init progress metrics: %w", err)
	}
	a.hub = progress.NewHub(progress.Config{Logger: a.logger}, sinks.NewLogSink(a.logger.Named("progress")), promSink)
	reporter := progress.NewReporter(progress.UUIDToBytes(a.runID), a.hub, a.clock.Func())

	fetcher := a.fetcher
	if fetcher == nil {
		headers := http.Header{}
		headers.Set("Accept", "application/json")
		fetcher = collyfetcher.New(collyfetcher.Config{
			UserAgent:    a.cfg.API.HTTP.UserAgent,
			Timeout:      a.cfg.API.Timeout,
			MaxBodyBytes: a.cfg.MaxBodyBytes(),
			Headers:      headers,
		})
	}

	breakerCfg := a.cfg.API.CircuitBreaker
	client, err := betline.New(betline.Config{
		BaseURL:       a.cfg.API.BaseURL,
		Ctag:          a.cfg.API.Ctag,
		MaxAttempts:   a.cfg.API.Retry.MaxAttempts,
		RetryDelay:    a.cfg.API.Retry.Delay,
		RetryMaxDelay: a.cfg.API.Retry.MaxDelay,
		CircuitBreaker: betline.BreakerConfig{
			Enabled:              breakerCfg.Enabled,
			FailureRateThreshold: breakerCfg.FailureRateThreshold,
			SlidingWindowSize:    breakerCfg.SlidingWindowSize,
			WaitDurationInOpen:   breakerCfg.WaitDurationInOpenState,
			PermittedInHalfOpen:  breakerCfg.PermittedCallsInHalfOpenState,
		},
	}, fetcher, a.logger,
		betline.WithReporter(reporter),
		betline.WithClock(a.clock),
	)
	if err != nil {
		return fmt.Errorf("init betline client: %w", err)
	}
	a.client = client

	out := a.stdout
	if path := a.cfg.Output.Path; path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("open output %s: %w", path, err)
		}
		a.outFile = f
		out = f
	}
	a.sink = crawler.NewTextSink(out)

	pacer := ratelimit.New(ratelimit.Config{Interval: a.cfg.Parser.PacingDelay})
	engine, err := crawler.NewEngine(crawler.EngineConfig{
		TargetSports:        a.cfg.Parser.TargetSports,
		MaxParallelRequests: a.cfg.Parser.MaxParallelRequests,
		MatchesPerLeague:    a.cfg.Parser.MatchesPerLeague,
	}, client, a.sink, pacer, a.logger,
		crawler.WithProgress(reporter),
		crawler.WithEngineClock(a.clock),
	)
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}
	a.engine = engine

	if addr := a.cfg.Metrics.Addr; addr != "" {
		a.server = api.NewServer(api.RunInfo{
			RunID:        a.runID,
			StartedAt:    a.clock.Now(),
			TargetSports: a.cfg.Parser.TargetSports,
		}, client, a.logger)
		a.server.Start(addr)
	}
	return nil
}

// Logger returns the run-scoped logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// RunID identifies this process's crawl run.
func (a *App) RunID() uuid.UUID {
	return a.runID
}

// Server returns the operator server, or nil when metrics.addr is unset.
func (a *App) Server() *api.Server {
	return a.server
}

// Run performs one crawl, framing the records with the banner and footer
// when enabled. The footer is written on interrupted runs too; cancellation
// is still reported as an error after in-flight work has drained.
func (a *App) Run(ctx context.Context) (crawler.RunStats, error) {
	if a.cfg.Output.Banner {
		if err := a.sink.Banner(a.cfg.Parser.TargetSports); err != nil {
			return crawler.RunStats{}, fmt.Errorf("write banner: %w", err)
		}
	}
	stats, runErr := a.engine.Run(ctx)
	if a.cfg.Output.Banner {
		if err := a.sink.Footer(stats.Elapsed); err != nil {
			return stats, errors.Join(runErr, fmt.Errorf("write footer: %w", err))
		}
	}
	return stats, runErr
}

// Close flushes progress, stops the operator server and releases the output
// file. It is safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	if a == nil || a.closed {
		return nil
	}
	a.closed = true
	a.logger.Debug("shutting down application services")

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.hub.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close progress hub: %w", err))
	}
	if a.outFile != nil {
		if err := a.outFile.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close output: %w", err))
		}
	}
	return errors.Join(errs...)
}
