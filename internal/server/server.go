// Package server builds the application's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/release-notifier/internal/api"
	"github.com/JakeFAU/release-notifier/internal/catalog"
	"github.com/JakeFAU/release-notifier/internal/config"
	"github.com/JakeFAU/release-notifier/internal/crawler"
	"github.com/JakeFAU/release-notifier/internal/detector"
	"github.com/JakeFAU/release-notifier/internal/fanout"
	"github.com/JakeFAU/release-notifier/internal/feed"
	collyfetcher "github.com/JakeFAU/release-notifier/internal/fetcher/colly"
	"github.com/JakeFAU/release-notifier/internal/hash/sha256"
	"github.com/JakeFAU/release-notifier/internal/id/uuid"
	"github.com/JakeFAU/release-notifier/internal/logging"
	"github.com/JakeFAU/release-notifier/internal/metrics"
	notifiermemory "github.com/JakeFAU/release-notifier/internal/notifier/memory"
	"github.com/JakeFAU/release-notifier/internal/notifier/telegram"
	"github.com/JakeFAU/release-notifier/internal/policy/ratelimit"
	publishermemory "github.com/JakeFAU/release-notifier/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/release-notifier/internal/publisher/pubsub"
	"github.com/JakeFAU/release-notifier/internal/scheduler"
	"github.com/JakeFAU/release-notifier/internal/search/elastic"
	"github.com/JakeFAU/release-notifier/internal/search/noop"
	"github.com/JakeFAU/release-notifier/internal/storage/memory"
	"github.com/JakeFAU/release-notifier/internal/storage/postgres"
	"github.com/JakeFAU/release-notifier/internal/storage/sqlite"
	"github.com/JakeFAU/release-notifier/internal/telemetry"
)

const (
	serviceName     = "releasewatch"
	eventBufferSize = 1024
)

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     catalog.Store
	publisher catalog.Publisher
	scheduler *scheduler.Scheduler
	apiServer *api.Server
	closers   []func() error
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("source", cfg.Source.BaseURL),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("dry_run", cfg.Notifier.DryRun),
	)

	tp, err := telemetry.InitTracerProvider(ctx, serviceName)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.closers = append(app.closers, func() error { return tp.Shutdown(context.Background()) })
	fail := func(err error) (*App, error) {
		_ = app.Close(context.Background())
		return nil, err
	}

	if err := app.setupStore(ctx); err != nil {
		return fail(err)
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.HTTP.UserAgent,
		RespectRobots: !cfg.HTTP.IgnoreRobots,
		Timeout:       cfg.RequestTimeout(),
		MaxRetries:    2,
	}, ratelimit.New(ratelimit.Config{DefaultRPS: cfg.HTTP.RPS, DefaultBurst: cfg.HTTP.Burst}), logger)

	crawl, err := crawler.New(crawler.Config{
		BaseURL:     cfg.Source.BaseURL,
		ListingPath: cfg.Source.ListingPath,
		MaxPages:    cfg.Crawler.MaxPages,
	}, fetcher, app.store, logger)
	if err != nil {
		return fail(fmt.Errorf("crawler init failed: %w", err))
	}
	scanner, err := feed.NewScanner(cfg.Source.BaseURL, cfg.Source.FeedPath, fetcher, sha256.New(), logger)
	if err != nil {
		return fail(fmt.Errorf("feed scanner init failed: %w", err))
	}
	detect, err := detector.New(cfg.Source.BaseURL, cfg.Source.ItemPath, app.store, logger)
	if err != nil {
		return fail(fmt.Errorf("detector init failed: %w", err))
	}

	notifier, err := app.setupNotifier()
	if err != nil {
		return fail(err)
	}
	if err := app.setupPublisher(ctx); err != nil {
		return fail(err)
	}
	indexer, err := app.setupIndexer()
	if err != nil {
		return fail(err)
	}

	deliver := fanout.New(app.store, notifier, fanout.Options{
		Limiter:   ratelimit.New(ratelimit.Config{DefaultRPS: cfg.Telegram.RPS, DefaultBurst: cfg.Telegram.Burst}),
		Publisher: app.publisher,
		Logger:    logger,
	})

	app.scheduler, err = scheduler.New(scheduler.Config{
		FullSyncInterval: cfg.Scheduler.FullSyncInterval,
		UpdateInterval:   cfg.Scheduler.UpdateInterval,
		CycleTimeout:     cfg.Scheduler.CycleTimeout,
	}, scheduler.Deps{
		Crawler:  crawl,
		Items:    app.store,
		Indexer:  indexer,
		Scanner:  scanner,
		Detector: detect,
		Fanout:   deliver,
		IDs:      uuid.NewUUIDGenerator(),
		Logger:   logger,
	})
	if err != nil {
		return fail(fmt.Errorf("scheduler init failed: %w", err))
	}

	app.apiServer = api.NewServer(app.store, app.scheduler, cfg.Auth, logger)
	return app, nil
}

func (a *App) setupStore(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case config.BackendPostgres:
		store, err := postgres.NewStore(ctx, postgres.Config{
			DSN:             a.cfg.Database.DSN,
			MaxConns:        a.cfg.Database.MaxConns,
			MinConns:        a.cfg.Database.MinConns,
			MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
			Migrate:         a.cfg.Database.Migrate,
		})
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		a.logger.Info("using postgres catalog store", zap.Bool("migrate", a.cfg.Database.Migrate))
		a.store = store
	case config.BackendSQLite:
		store, err := sqlite.Open(ctx, a.cfg.Storage.SQLitePath)
		if err != nil {
			return fmt.Errorf("sqlite store init failed: %w", err)
		}
		a.logger.Info("using sqlite catalog store", zap.String("path", store.Path()))
		a.store = store
	default:
		a.logger.Warn("using in-memory catalog store, state is lost on restart")
		a.store = memory.NewStore()
	}
	a.closers = append(a.closers, a.store.Close)
	return nil
}

func (a *App) setupNotifier() (catalog.Notifier, error) {
	if a.cfg.Notifier.DryRun {
		a.logger.Warn("dry run enabled, notifications are logged and not sent")
		return notifiermemory.New(a.logger), nil
	}
	n, err := telegram.New(telegram.Config{
		Token:    a.cfg.Telegram.Token,
		Endpoint: a.cfg.Telegram.APIEndpoint,
		Timeout:  a.cfg.Telegram.Timeout,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("telegram notifier init failed: %w", err)
	}
	return n, nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.ProjectID == "" || a.cfg.PubSub.TopicName == "" {
		a.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		a.publisher = publishermemory.New(eventBufferSize, a.logger)
		return nil
	}
	pub, err := gcppublisher.New(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	a.publisher = pub
	a.closers = append(a.closers, pub.Close)
	return nil
}

func (a *App) setupIndexer() (catalog.Indexer, error) {
	if len(a.cfg.Search.Addresses) == 0 {
		a.logger.Info("no search cluster configured, index refresh disabled")
		return noop.Indexer{}, nil
	}
	ix, err := elastic.New(elastic.Config{
		Addresses: a.cfg.Search.Addresses,
		Username:  a.cfg.Search.Username,
		Password:  a.cfg.Search.Password,
		Index:     a.cfg.Search.Index,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("search indexer init failed: %w", err)
	}
	a.logger.Info("elasticsearch indexer initialized", zap.Strings("addresses", a.cfg.Search.Addresses))
	return ix, nil
}

// Handler exposes the ops HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// RunOnce runs a single cycle of the named loop without starting the ops server.
func (a *App) RunOnce(ctx context.Context, loop string) (scheduler.LoopStatus, error) {
	return a.scheduler.RunOnce(ctx, loop)
}

// Run starts the loops and the ops server and blocks until the context is
// canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	a.logger.Info("application started")

	loopsDone := make(chan struct{})
	go func() {
		defer close(loopsDone)
		a.scheduler.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case <-loopsDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("loops did not stop before shutdown deadline")
	}
	return a.Close(shutdownCtx)
}

// Close releases clients and stores in reverse order of construction.
func (a *App) Close(_ context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	a.closers = nil
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
