package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/mediafetch/fetchd/internal/core/config"
	"github.com/mediafetch/fetchd/internal/download"
	"github.com/mediafetch/fetchd/internal/download/classify"
	"github.com/mediafetch/fetchd/internal/health"
	"github.com/mediafetch/fetchd/internal/infra/events"
	"github.com/mediafetch/fetchd/internal/infra/incident"
	"github.com/mediafetch/fetchd/internal/infra/notify"
	redisclient "github.com/mediafetch/fetchd/internal/infra/redis"
	"github.com/mediafetch/fetchd/internal/infra/storage"
	"github.com/mediafetch/fetchd/internal/infra/storage/memory"
	"github.com/mediafetch/fetchd/internal/infra/storage/postgres"
	"github.com/mediafetch/fetchd/internal/infra/ytdlp"
)

// App is the main application struct that manages the worker lifecycle.
type App struct {
	cfg          *config.AppConfig
	consumer     *download.Consumer
	queue        *redisclient.Queue
	emitter      events.Emitter
	healthServer *health.Server
	db           *postgres.DB
	redisClient  *redisclient.Client
	log          *slog.Logger
	cancel       context.CancelFunc
	done         chan struct{}
}

// NewApp creates an App instance with all dependencies initialized.
func NewApp(cfg *config.AppConfig) (*App, error) {
	log := slog.Default()

	// 1. Initialize storage
	var states storage.RetryStateRepository
	var files storage.FileRepository
	var users storage.UserFileRepository
	var db *postgres.DB

	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}

		// Run migrations
		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, "migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}

		states = postgres.NewRetryStateRepo(db)
		files = postgres.NewFileRepo(db)
		users = postgres.NewUserFileRepo(db)
		slog.Info("Using PostgreSQL storage")
	} else {
		store := memory.NewMemoryStorage()
		states = memory.NewRetryStateRepo(store)
		files = memory.NewFileRepo(store)
		users = memory.NewUserFileRepo(store)
		slog.Info("Using Memory storage")
	}

	// 2. Initialize Redis transport
	redisClient, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to init redis: %w", err)
	}
	queue := redisclient.NewQueue(redisClient, cfg.Queue, log)
	emitter := events.Emitter(redisclient.NewEventEmitter(redisClient))
	dispatcher := notify.Dispatcher(redisclient.NewNotificationDispatcher(redisClient))

	// 3. Incident escalation
	var incidents incident.Notifier = incident.NoopNotifier{}
	if cfg.Incident.WebhookURL != "" {
		incidents = incident.NewWebhookNotifier(cfg.Incident, log)
	}

	// 4. Media provider
	media := ytdlp.NewClient(cfg.Media, log)
	if err := media.CheckDependencies(); err != nil {
		slog.Warn("yt-dlp dependency check failed", "error", err)
	}

	// 5. Orchestrator and consumer
	backoff := classify.DefaultBackoff
	if cfg.Download.BaseDelaySecs > 0 {
		backoff.BaseDelay = time.Duration(cfg.Download.BaseDelaySecs) * time.Second
	}
	if cfg.Download.MaxDelaySecs > 0 {
		backoff.MaxDelay = time.Duration(cfg.Download.MaxDelaySecs) * time.Second
	}

	orch := download.NewOrchestrator(
		states, files, users, media, emitter, dispatcher, incidents,
		download.Config{MaxRetries: cfg.Download.MaxRetries, Backoff: backoff},
		log,
	)
	consumer := download.NewConsumer(queue, orch, log)

	// 6. Health server
	checkers := []health.Checker{
		health.CheckerFunc{CheckName: "redis", Fn: redisClient.Ping},
	}
	if db != nil {
		checkers = append(checkers, health.CheckerFunc{CheckName: "postgres", Fn: db.PingContext})
	}
	healthServer := health.NewServer(cfg.Server.Port, checkers...)

	return &App{
		cfg:          cfg,
		consumer:     consumer,
		queue:        queue,
		emitter:      emitter,
		healthServer: healthServer,
		db:           db,
		redisClient:  redisClient,
		log:          log,
		done:         make(chan struct{}),
	}, nil
}

// Start launches the consumer loop, retry promoter and health server.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.queue.EnsureGroup(runCtx); err != nil {
		cancel()
		return err
	}

	if a.db != nil {
		a.db.StartMetricsCollector(runCtx)
	}

	go func() {
		if err := a.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("health server stopped", "error", err)
		}
	}()

	go a.queue.RunPromoter(runCtx, 30*time.Second)

	go func() {
		defer close(a.done)
		if err := a.consumer.Run(runCtx); err != nil && runCtx.Err() == nil {
			a.log.Error("consumer stopped", "error", err)
		}
	}()

	a.log.Info("fetchd started", "port", a.cfg.Server.Port)
	return nil
}

// Stop shuts everything down, waiting for the in-flight batch to finish.
func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}

	select {
	case <-a.done:
	case <-ctx.Done():
		a.log.Warn("timed out waiting for consumer to stop")
	}

	if err := a.healthServer.Stop(ctx); err != nil {
		a.log.Error("failed to stop health server", "error", err)
	}
	if err := a.emitter.Close(); err != nil {
		a.log.Error("failed to close emitter", "error", err)
	}
	if err := a.redisClient.Close(); err != nil {
		a.log.Error("failed to close redis client", "error", err)
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Error("failed to close database", "error", err)
		}
	}
	return nil
}
