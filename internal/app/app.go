// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/pitchfork-crawler/internal/api"
	"github.com/JakeFAU/pitchfork-crawler/internal/clock/system"
	"github.com/JakeFAU/pitchfork-crawler/internal/config"
	"github.com/JakeFAU/pitchfork-crawler/internal/crawler"
	"github.com/JakeFAU/pitchfork-crawler/internal/dispatcher"
	"github.com/JakeFAU/pitchfork-crawler/internal/extract"
	"github.com/JakeFAU/pitchfork-crawler/internal/fetcher"
	collyfetcher "github.com/JakeFAU/pitchfork-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/pitchfork-crawler/internal/id/uuid"
	"github.com/JakeFAU/pitchfork-crawler/internal/logging"
	"github.com/JakeFAU/pitchfork-crawler/internal/metrics"
	"github.com/JakeFAU/pitchfork-crawler/internal/persist"
	"github.com/JakeFAU/pitchfork-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/pitchfork-crawler/internal/registry"
	"github.com/JakeFAU/pitchfork-crawler/internal/scripts"
	"github.com/JakeFAU/pitchfork-crawler/internal/storage/postgres"
	"github.com/JakeFAU/pitchfork-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/pitchfork-crawler/internal/telemetry"
	"github.com/JakeFAU/pitchfork-crawler/internal/worker"
)

// App holds all the shared, long-lived services for one crawler invocation.
// It is built once at startup and closed when the command finishes.
type App struct {
	cfg      config.Config
	runID    string
	logger   *zap.Logger
	clock    *system.Clock
	store    crawler.Store
	registry *registry.Registry
	pipeline *worker.Pipeline
	scripts  *scripts.Runner
	tracing  *sdktrace.TracerProvider
}

// Summary reports what each phase of a full run did.
type Summary struct {
	Sitemap dispatcher.Report
	Reviews dispatcher.DrainReport[crawler.Target]
	Authors dispatcher.Report
	Scripts scripts.Result
}

// New opens the configured store and wires every service around it.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a, err := NewWithStore(ctx, cfg, store, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

// NewWithStore wires every service around an already opened store. The App
// takes ownership of store and closes it in Close.
func NewWithStore(ctx context.Context, cfg config.Config, store crawler.Store, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	runID, err := uuid.New().NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	logger = logging.WithRun(logger, runID)

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	clock := system.New(loc)

	snap, err := store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("load registry snapshot: %w", err)
	}
	ids := registry.New(snap)

	transport := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   cfg.Fetch.Timeout,
	})
	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerSecond: cfg.Fetch.RequestsPerSecond,
		Burst:             cfg.Fetch.Burst,
	})
	fetch := fetcher.New(
		transport,
		ids,
		store,
		limiter,
		clock,
		crawler.NewFixedRetryPolicy(cfg.Fetch.MaxRetries, cfg.Fetch.RetryDelay),
		logger,
	)

	size := cfg.Workers.Size
	if size <= 0 {
		size = dispatcher.DefaultSize(cfg.Workers.Multiplier)
	}
	pool := dispatcher.New(size, logger)

	pipeline := worker.New(
		fetch,
		extract.New(ids, cfg.Site.BaseURL, clock),
		persist.New(store, clock, logger),
		store,
		ids,
		pool,
		worker.Config{
			BaseURL: cfg.Site.BaseURL,
			Retry: crawler.BatchRetryPolicy{
				MaxPasses: cfg.Workers.RetryCeiling,
				Backoff:   cfg.Workers.RetryBackoff,
			},
		},
		logger,
	)

	serviceName := cfg.Telemetry.ServiceName
	if serviceName == "" {
		serviceName = "pitchfork-crawler"
	}
	tp, err := telemetry.InitTracerProvider(ctx, serviceName, runID)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	logger.Info("Application services initialized",
		zap.String("driver", cfg.Store.Driver),
		zap.String("base_url", cfg.Site.BaseURL),
		zap.Int("workers", pool.Size()),
		zap.Any("registry", ids.Stats()),
	)

	return &App{
		cfg:      cfg,
		runID:    runID,
		logger:   logger,
		clock:    clock,
		store:    store,
		registry: ids,
		pipeline: pipeline,
		scripts:  scripts.New(store, cfg.Scripts.Skip, logger),
		tracing:  tp,
	}, nil
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, sqlite.Config{
			Path:         cfg.Store.Path,
			Reset:        cfg.Store.Reset,
			BusyTimeout:  cfg.Store.BusyTimeout,
			MaxOpenConns: cfg.Store.MaxConns,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case config.DriverPostgres:
		store, err := postgres.New(ctx, postgres.Config{
			DSN:      cfg.Store.DSN,
			Reset:    cfg.Store.Reset,
			MaxConns: int32(cfg.Store.MaxConns),
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.Store.Driver)
	}
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the run-scoped logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// RunID identifies this invocation in logs.
func (a *App) RunID() string {
	return a.runID
}

// Pipeline exposes the crawl pipeline.
func (a *App) Pipeline() *worker.Pipeline {
	return a.pipeline
}

// Registry exposes the identifier registry.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Scripts exposes the post-load script runner.
func (a *App) Scripts() *scripts.Runner {
	return a.scripts
}

// Server builds the status server over the pipeline and registry.
func (a *App) Server() *api.Server {
	return api.NewServer(
		a.pipeline,
		a.registry,
		a.clock,
		api.Config{
			RequestsPerMinute: a.cfg.Server.RequestsPerMinute,
			AllowedOrigins:    a.cfg.Server.AllowedOrigins,
		},
		a.logger,
	)
}

// Run executes every phase in order: sitemap years, album reviews with the
// retry loop, author pages, then the post-load scripts. Per-page failures
// live in the event log; only errors that stop a phase are returned.
func (a *App) Run(ctx context.Context) (Summary, error) {
	var sum Summary

	sum.Sitemap = a.pipeline.ScrapeSitemap(ctx, a.cfg.Site.FirstYear, a.cfg.Site.LastYear)
	a.logReport("Sitemap phase finished", sum.Sitemap)
	if err := ctx.Err(); err != nil {
		return sum, fmt.Errorf("sitemap phase: %w", err)
	}

	reviews, err := a.pipeline.ScrapeAlbumReviews(ctx, nil)
	sum.Reviews = reviews
	if err != nil {
		return sum, fmt.Errorf("album review phase: %w", err)
	}
	a.logger.Info("Album review phase finished",
		zap.Int("passes", reviews.Passes),
		zap.Int("remaining", len(reviews.Remaining)),
	)

	sum.Authors, err = a.pipeline.ScrapeAuthors(ctx)
	if err != nil {
		return sum, fmt.Errorf("author phase: %w", err)
	}
	a.logReport("Author phase finished", sum.Authors)
	if err := ctx.Err(); err != nil {
		return sum, fmt.Errorf("author phase: %w", err)
	}

	sum.Scripts, err = a.scripts.RunDir(ctx, a.cfg.Scripts.Dir)
	if err != nil {
		return sum, fmt.Errorf("script phase: %w", err)
	}
	return sum, nil
}

func (a *App) logReport(msg string, r dispatcher.Report) {
	a.logger.Info(msg,
		zap.String("batch", r.Batch),
		zap.Int("items", r.Items),
		zap.Int("completed", r.Completed),
		zap.Int("failed", r.Failed),
		zap.Int("skipped", r.Skipped),
		zap.Duration("duration", r.Duration),
	)
}

// Close releases the store. It is called by a cobra hook after the command finishes.
func (a *App) Close() error {
	a.logger.Info("Shutting down application services")
	var errs []error
	if err := a.tracing.Shutdown(context.Background()); err != nil {
		errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("Logger sync failed", zap.Error(err))
	}
	return errors.Join(errs...)
}
