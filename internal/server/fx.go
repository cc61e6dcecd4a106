// Package server provides the core application wiring and HTTP lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/page-archiver/internal/api"
	"github.com/JakeFAU/page-archiver/internal/archive"
	"github.com/JakeFAU/page-archiver/internal/batch"
	"github.com/JakeFAU/page-archiver/internal/browser/headless"
	"github.com/JakeFAU/page-archiver/internal/capture"
	"github.com/JakeFAU/page-archiver/internal/clock/system"
	"github.com/JakeFAU/page-archiver/internal/config"
	"github.com/JakeFAU/page-archiver/internal/id/uuid"
	"github.com/JakeFAU/page-archiver/internal/imaging/webp"
	"github.com/JakeFAU/page-archiver/internal/logging"
	"github.com/JakeFAU/page-archiver/internal/metrics"
	"github.com/JakeFAU/page-archiver/internal/pipeline"
	"github.com/JakeFAU/page-archiver/internal/policy/resource"
	memorypublisher "github.com/JakeFAU/page-archiver/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/page-archiver/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/page-archiver/internal/storage/gcs"
	localstorage "github.com/JakeFAU/page-archiver/internal/storage/local"
	memorystorage "github.com/JakeFAU/page-archiver/internal/storage/memory"
	pgstore "github.com/JakeFAU/page-archiver/internal/storage/postgres"
	s3storage "github.com/JakeFAU/page-archiver/internal/storage/s3"
	"github.com/JakeFAU/page-archiver/internal/telemetry"
	"github.com/JakeFAU/page-archiver/internal/writer"
)

// Option customizes Build.
type Option func(*options)

type options struct {
	logger  *zap.Logger
	browser archive.Browser
}

// WithLogger replaces the logger built from configuration.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithBrowser replaces the Chrome launcher.
func WithBrowser(browser archive.Browser) Option {
	return func(o *options) { o.browser = browser }
}

// App contains the application's dependencies.
type App struct {
	cfg            *config.Config
	logger         *zap.Logger
	pipeline       *pipeline.Pipeline
	batch          *batch.Batch
	launcher       *headless.Launcher
	store          archive.BlobStore
	memorySink     *memorypublisher.Publisher
	pubsubClient   *pubsub.Client
	pubsubTopic    *pubsub.Topic
	storage        *storage.Client
	outcomeStore   *pgstore.OutcomeStore
	tracerShutdown func(context.Context) error
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging.Development, cfg.Telemetry.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	logger.Info("creating application",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Int("concurrency", cfg.Pipeline.Concurrency),
	)

	tp, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown

	// Close whatever was opened if a later step fails.
	ok := false
	defer func() {
		if !ok {
			app.closeInfrastructure()
			_ = app.tracerShutdown(context.Background())
		}
	}()

	app.store, err = setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}
	sinks, err := setupSinks(ctx, app)
	if err != nil {
		return nil, err
	}

	browser := o.browser
	if browser == nil {
		app.launcher = headless.New(headless.Config{
			Headless:          cfg.Browser.Headless,
			ExecPath:          cfg.Browser.ExecPath,
			UserAgent:         cfg.Browser.UserAgent,
			ViewportWidth:     cfg.Browser.ViewportWidth,
			ViewportHeight:    cfg.Browser.ViewportHeight,
			NoSandbox:         cfg.Browser.NoSandbox,
			NavigationTimeout: cfg.Browser.NavigationTimeout,
		}, logger)
		browser = app.launcher
	}

	capturer := capture.New(
		browser,
		webp.New(),
		resource.New(cfg.Capture.BlockedResourceTypes),
		capture.Config{
			DOMContentLoadedTimeout: cfg.Capture.DOMContentLoadedTimeout,
			NetworkIdleTimeout:      cfg.Capture.NetworkIdleTimeout,
			ScreenshotQuality:       cfg.Capture.ScreenshotQuality,
			Deadline:                cfg.Pipeline.Deadline,
		},
		logger,
	)
	archiver := writer.New(app.store, writer.Config{Prefix: cfg.Storage.Prefix}, logger)
	app.pipeline = pipeline.New(capturer, archiver, logger, sinks...)
	app.batch = batch.New(app.pipeline, cfg.Pipeline.Concurrency)

	ok = true
	return app, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Pipeline returns the single-URL runner.
func (a *App) Pipeline() *pipeline.Pipeline {
	return a.pipeline
}

// Batch returns the bounded multi-URL runner.
func (a *App) Batch() *batch.Batch {
	return a.batch
}

// Store returns the configured object store.
func (a *App) Store() archive.BlobStore {
	return a.store
}

// RecordedOutcomes returns the outcomes kept in memory when the memory
// backend is selected.
func (a *App) RecordedOutcomes() []archive.FetchOutcome {
	if a.memorySink == nil {
		return nil
	}
	return a.memorySink.Outcomes()
}

// Handler builds the HTTP API for the application.
func (a *App) Handler() http.Handler {
	return api.NewServer(a.pipeline, a.batch, *a.cfg, a.logger, a.ready).Handler()
}

func (a *App) ready(ctx context.Context) error {
	if a.outcomeStore == nil {
		return nil
	}
	if err := a.outcomeStore.Ping(ctx); err != nil {
		return fmt.Errorf("outcome store: %w", err)
	}
	return nil
}

// Serve starts the HTTP server and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Serve(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			errCh <- err
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
	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure()
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure() {
	if a.launcher != nil {
		a.launcher.Close()
	}
	if a.pubsubTopic != nil {
		a.pubsubTopic.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.outcomeStore != nil {
		a.outcomeStore.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func setupStorage(ctx context.Context, app *App) (archive.BlobStore, error) {
	cfg := app.cfg.Storage
	switch cfg.Backend {
	case config.BackendS3:
		app.logger.Info("using S3 storage backend",
			zap.String("bucket", cfg.Bucket),
			zap.String("endpoint", cfg.S3.Endpoint),
		)
		store, err := s3storage.New(ctx, s3storage.Config{
			Bucket:          cfg.Bucket,
			Endpoint:        cfg.S3.Endpoint,
			Region:          cfg.S3.Region,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UsePathStyle:    cfg.S3.PathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 blob store init failed: %w", err)
		}
		return store, nil
	case config.BackendGCS:
		app.logger.Info("using GCS storage backend", zap.String("bucket", cfg.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return store, nil
	case config.BackendLocal:
		app.logger.Info("using local storage backend", zap.String("path", cfg.Local.BaseDir))
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return store, nil
	case config.BackendMemory:
		app.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func setupSinks(ctx context.Context, app *App) ([]archive.OutcomeSink, error) {
	var sinks []archive.OutcomeSink

	if app.cfg.Storage.Backend == config.BackendMemory {
		app.memorySink = memorypublisher.New()
		sinks = append(sinks, app.memorySink)
	}

	if app.cfg.PubSub.TopicName != "" && app.cfg.PubSub.ProjectID != "" {
		client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		app.pubsubClient = client
		app.pubsubTopic = client.Topic(app.cfg.PubSub.TopicName)
		app.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", app.cfg.PubSub.ProjectID),
			zap.String("topic", app.cfg.PubSub.TopicName),
		)
		sinks = append(sinks, gcppublisher.New(app.pubsubTopic))
	} else {
		app.logger.Debug("no Pub/Sub topic configured")
	}

	if app.cfg.Database.DSN != "" {
		store, err := pgstore.NewOutcomeStore(ctx, pgstore.Config{
			DSN:             app.cfg.Database.DSN,
			Table:           app.cfg.Database.Table,
			MaxConns:        app.cfg.Database.MaxConns,
			MinConns:        app.cfg.Database.MinConns,
			MaxConnLifetime: app.cfg.Database.MaxConnLifetime,
		}, uuid.New(), system.New())
		if err != nil {
			return nil, fmt.Errorf("outcome store init failed: %w", err)
		}
		app.outcomeStore = store
		app.logger.Info("outcome store initialized", zap.String("table", app.cfg.Database.Table))
		sinks = append(sinks, store)
	} else {
		app.logger.Debug("no DSN specified, skipping outcome ledger")
	}

	return sinks, nil
}
