// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/fda483-pipeline/internal/analysis"
	"github.com/JakeFAU/fda483-pipeline/internal/api"
	"github.com/JakeFAU/fda483-pipeline/internal/cleanup"
	"github.com/JakeFAU/fda483-pipeline/internal/clock/system"
	"github.com/JakeFAU/fda483-pipeline/internal/config"
	"github.com/JakeFAU/fda483-pipeline/internal/dispatcher"
	"github.com/JakeFAU/fda483-pipeline/internal/extract"
	"github.com/JakeFAU/fda483-pipeline/internal/fetcher/resilient"
	"github.com/JakeFAU/fda483-pipeline/internal/hash/sha256"
	"github.com/JakeFAU/fda483-pipeline/internal/id/uuid"
	"github.com/JakeFAU/fda483-pipeline/internal/inspection"
	"github.com/JakeFAU/fda483-pipeline/internal/llm"
	"github.com/JakeFAU/fda483-pipeline/internal/llm/anthropic"
	"github.com/JakeFAU/fda483-pipeline/internal/llm/gemini"
	"github.com/JakeFAU/fda483-pipeline/internal/normalize"
	"github.com/JakeFAU/fda483-pipeline/internal/policy/pacing"
	"github.com/JakeFAU/fda483-pipeline/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/fda483-pipeline/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/fda483-pipeline/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/fda483-pipeline/internal/queue/memory"
	gcsstorage "github.com/JakeFAU/fda483-pipeline/internal/storage/gcs"
	localstorage "github.com/JakeFAU/fda483-pipeline/internal/storage/local"
	memoryStorage "github.com/JakeFAU/fda483-pipeline/internal/storage/memory"
	pgstore "github.com/JakeFAU/fda483-pipeline/internal/storage/postgres"
	"github.com/JakeFAU/fda483-pipeline/internal/worker"
)

// documentModel is satisfied by both provider clients.
type documentModel interface {
	inspection.Model
	analysis.Answerer
}

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	pool            *pgxpool.Pool
	storage         *storage.Client
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	gemini          *gemini.Client
	queue           *queueMemory.Queue

	records inspection.RecordStore
	runs    inspection.RunStore

	worker    *worker.Worker
	analyzer  *analysis.Analyzer
	cleaner   *cleanup.Cleaner
	dispatch  *dispatcher.Dispatcher
	apiServer *api.Server

	closeOnce sync.Once
}

// NewApp creates an empty App for cfg. Use Build to wire dependencies.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("creating application",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("provider", cfg.Extract.Provider),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("postgres", cfg.DB.DSN != ""),
	)
	return &App{cfg: cfg, logger: logger}, nil
}

// Worker returns the ingestion worker.
func (a *App) Worker() *worker.Worker { return a.worker }

// Analyzer returns the query service.
func (a *App) Analyzer() *analysis.Analyzer { return a.analyzer }

// Cleaner returns the store deduplicator.
func (a *App) Cleaner() *cleanup.Cleaner { return a.cleaner }

// Dispatcher returns the run dispatcher.
func (a *App) Dispatcher() *dispatcher.Dispatcher { return a.dispatch }

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return *a.cfg }

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Run starts the HTTP server and dispatcher and blocks until the context is
// canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.logger.Info("dispatcher started")
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
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
	a.queue.Close()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		a.logger.Warn("dispatcher did not stop before shutdown deadline")
	}
	return a.Close()
}

// Close releases clients and pools. It is safe to call more than once and on
// a partially built App.
func (a *App) Close() error {
	a.closeOnce.Do(a.close)
	return nil
}

func (a *App) close() {
	if a.queue != nil {
		a.queue.Close()
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gemini != nil {
		if err := a.gemini.Close(); err != nil {
			a.logger.Warn("gemini client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	a.logger.Info("shutdown complete")
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	if err := app.build(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	a.logger.Info("building application dependencies")

	if err := setupDatabase(ctx, a); err != nil {
		return err
	}
	blobStore, signer, err := setupStorage(ctx, a)
	if err != nil {
		return err
	}

	publisher, err := setupPublisher(ctx, a)
	if err != nil {
		return err
	}

	model, err := setupModel(ctx, a)
	if err != nil {
		return err
	}

	cfg := a.cfg
	fetcher := resilient.New(resilient.Config{
		MaxRetries: cfg.Fetch.MaxRetries,
		Timeout:    time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second,
		Backoff:    time.Duration(cfg.Fetch.BackoffSeconds) * time.Second,
		UserAgent:  cfg.Fetch.UserAgent,
	}, a.logger)
	pacer := pacing.New(pacing.Config{
		Between:   config.Seconds(cfg.Extract.PacingBetweenSeconds),
		Every:     cfg.Extract.PacingEvery,
		LongPause: config.Seconds(cfg.Extract.PacingLongPauseSeconds),
	})
	caller := extract.NewCaller(model,
		cfg.Extract.CallerConfig(llm.ExtractionInstruction, llm.ExtractionSchemaHint),
		a.logger)
	batch := extract.NewBatch(caller, pacer, a.logger)
	normalizer := normalize.New(a.logger)
	clock := system.New()
	ids := uuid.New()

	a.worker = worker.New(
		fetcher,
		blobStore,
		signer,
		a.records,
		batch,
		normalizer,
		publisher,
		sha256.New(),
		clock,
		ids,
		worker.Config{
			BlobPrefix:        cfg.Storage.Prefix,
			Topic:             cfg.PubSub.TopicName,
			SignedURLTTL:      cfg.Storage.SignedURLTTL(),
			SeedFromStore:     cfg.Dedup.SeedFromStore,
			UploadConcurrency: cfg.Storage.UploadConcurrency,
		},
		a.logger,
	)
	a.logger.Info("worker config",
		zap.String("blob_prefix", cfg.Storage.Prefix),
		zap.String("topic", cfg.PubSub.TopicName),
		zap.Bool("seed_from_store", cfg.Dedup.SeedFromStore),
	)

	a.analyzer = analysis.New(
		a.records,
		blobStore,
		fetcher,
		batch,
		normalizer,
		model,
		analysis.Config{Target: cfg.Extract.EarlyExitTarget},
		a.logger,
	)
	a.cleaner = cleanup.New(a.records, a.logger)

	a.queue = queueMemory.NewQueue(cfg.Server.QueueDepth)
	a.dispatch = dispatcher.New(a.queue, a.runs, a.worker, ids, clock, a.logger)
	a.apiServer = api.NewServer(a.analyzer, a.dispatch, a.ready, *cfg, a.logger)
	return nil
}

func (a *App) ready(ctx context.Context) error {
	if a.pool == nil {
		return nil
	}
	if err := a.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

func setupDatabase(ctx context.Context, app *App) error {
	if app.cfg.DB.DSN == "" {
		app.logger.Warn("no DSN specified for database, using in-memory record and run stores")
		app.records = memoryStorage.NewRecordStore()
		app.runs = memoryStorage.NewRunStore()
		return nil
	}
	pool, err := pgstore.Connect(ctx, pgstore.Config{
		DSN:             app.cfg.DB.DSN,
		MaxConns:        app.cfg.DB.MaxConns,
		MinConns:        app.cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(app.cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("postgres init failed: %w", err)
	}
	app.pool = pool

	records, err := pgstore.NewRecordStore(pool, app.cfg.DB.Table)
	if err != nil {
		return fmt.Errorf("record store init failed: %w", err)
	}
	if err := records.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("record schema: %w", err)
	}
	runs, err := pgstore.NewRunStore(pool, app.cfg.DB.RunTable)
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	if err := runs.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("run schema: %w", err)
	}
	app.records = records
	app.runs = runs
	app.logger.Info("postgres stores initialized",
		zap.String("table", app.cfg.DB.Table),
		zap.String("run_table", app.cfg.DB.RunTable),
	)
	return nil
}

func setupStorage(ctx context.Context, app *App) (inspection.BlobStore, inspection.URLSigner, error) {
	switch app.cfg.Storage.Backend {
	case "gcs":
		app.logger.Info("using GCS storage backend")
		var err error
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		gcsCfg := gcsstorage.Config{
			Bucket:         app.cfg.Storage.Bucket,
			SigningAccount: app.cfg.Storage.SigningAccount,
		}
		if app.cfg.Storage.SigningKeyFile != "" {
			key, err := os.ReadFile(app.cfg.Storage.SigningKeyFile)
			if err != nil {
				return nil, nil, fmt.Errorf("read signing key: %w", err)
			}
			gcsCfg.SigningKey = key
		}
		blobStore, err := gcsstorage.New(app.storage, gcsCfg, app.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Debug("GCS storage backend", zap.String("bucket", app.cfg.Storage.Bucket))
		return blobStore, blobStore, nil
	case "local":
		app.logger.Info("using local storage backend")
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.LocalDir})
		if err != nil {
			return nil, nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Debug("local storage backend", zap.String("path", app.cfg.Storage.LocalDir))
		return blobStore, nil, nil
	default:
		app.logger.Info("using in-memory storage backend")
		blobStore := memoryStorage.NewBlobStore()
		return blobStore, blobStore, nil
	}
}

func setupPublisher(ctx context.Context, app *App) (inspection.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubPublisher = gcppublisher.New(app.pubsubClient)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return app.pubsubPublisher, nil
}

func setupModel(ctx context.Context, app *App) (documentModel, error) {
	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerMinute: app.cfg.Extract.RequestsPerMinute,
		Burst:             app.cfg.Extract.Burst,
	})
	switch app.cfg.Extract.Provider {
	case "anthropic":
		client, err := anthropic.New(anthropic.Config{
			APIKey:  app.cfg.Anthropic.APIKey,
			Model:   app.cfg.Anthropic.Model,
			BaseURL: app.cfg.Anthropic.BaseURL,
		}, limiter, app.logger)
		if err != nil {
			return nil, fmt.Errorf("anthropic init failed: %w", err)
		}
		app.logger.Info("using anthropic model", zap.String("model", app.cfg.Anthropic.Model))
		return client, nil
	default:
		client, err := gemini.New(ctx, gemini.Config{
			APIKey:   app.cfg.Gemini.APIKey,
			Model:    app.cfg.Gemini.Model,
			Endpoint: app.cfg.Gemini.Endpoint,
		}, limiter, app.logger)
		if err != nil {
			return nil, fmt.Errorf("gemini init failed: %w", err)
		}
		app.gemini = client
		app.logger.Info("using gemini model", zap.String("model", app.cfg.Gemini.Model))
		return client, nil
	}
}
