package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/templui/formpipe/internal/config"
	"github.com/templui/formpipe/internal/db"
	"github.com/templui/formpipe/internal/draft"
	"github.com/templui/formpipe/internal/ratelimit"
	"github.com/templui/formpipe/internal/repository"
	"github.com/templui/formpipe/internal/service"
	"github.com/templui/formpipe/internal/storage"
	"github.com/templui/formpipe/internal/tasks"
)

const (
	taskTimeout    = 30 * time.Second
	taskBuffer     = 256
	redisKeyPrefix = "formpipe"
)

type App struct {
	Cfg        *config.Config
	DB         *sqlx.DB
	Redis      *redis.Client // nil unless a redis backend is configured
	Storage    storage.Storage
	Limiter    ratelimit.Limiter
	Dispatcher tasks.Dispatcher
	Registry   *tasks.Registry
	Locales    *service.Locales

	QuestionnaireService *service.QuestionnaireService
	SessionService       *service.SessionService
	SubmissionService    *service.SubmissionService
	UploadService        *service.UploadService
	DraftService         *service.DraftService
	ConsentService       *service.ConsentService
	NewsletterService    *service.NewsletterService
	EmailService         *service.EmailService

	closers []func() error
}

// Options toggles parts of the app that not every binary needs.
type Options struct {
	// Consume runs the AMQP consumer in-process when TASK_BACKEND=amqp
	Consume bool
}

func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	a := &App{Cfg: cfg}

	// Initialize database
	database, err := db.Init(cfg.DBDriver, cfg.DBConnection)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %v", err)
	}
	a.DB = database
	a.closers = append(a.closers, database.Close)

	// Run database migrations
	err = db.RunMigrations(database.DB, cfg.DBDriver)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to run migrations: %v", err)
	}

	// Repositories
	sessionRepository := repository.NewSessionRepository(database)
	questionnaireRepository := repository.NewQuestionnaireRepository(database)
	fileRepository := repository.NewFileRepository(database)
	newsletterRepository := repository.NewNewsletterRepository(database)
	consentRepository := repository.NewConsentRepository(database)

	// Storage
	fileStorage, err := storage.New(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize storage: %v", err)
	}
	a.Storage = fileStorage

	if cfg.RateLimitBackend == "redis" || cfg.DraftBackend == "redis" {
		rdb, err := db.InitRedis(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize redis: %v", err)
		}
		a.Redis = rdb
		a.closers = append(a.closers, rdb.Close)
	}

	a.Limiter = a.newLimiter()
	drafts := a.newDraftStore()

	// Services
	a.EmailService = service.NewEmailService(
		cfg.ResendAPIKey,
		cfg.EmailFrom,
		cfg.AdminEmail,
		cfg.ResendAudienceID,
		cfg.AppName,
		cfg.IsDevelopment(),
	)

	a.Registry = tasks.NewRegistry(taskTimeout)
	a.Dispatcher = a.newDispatcher()

	a.Locales = service.NewLocales(cfg.SupportedLocales)
	a.QuestionnaireService = service.NewQuestionnaireService(questionnaireRepository)
	a.SessionService = service.NewSessionService(sessionRepository, a.QuestionnaireService, a.Locales, cfg.IPHashSecret, cfg.SessionTTL)
	a.NewsletterService = service.NewNewsletterService(newsletterRepository, a.Dispatcher, a.Locales)
	a.SubmissionService = service.NewSubmissionService(
		a.SessionService,
		a.QuestionnaireService,
		sessionRepository,
		a.Dispatcher,
		cfg.ContactQuestionnaire,
		a.Locales.Default(),
	)
	a.UploadService = service.NewUploadService(
		fileRepository,
		fileStorage,
		a.SessionService,
		a.QuestionnaireService,
		cfg.MaxFileSize,
		cfg.SessionByteCap,
		cfg.UploadTimeout,
	)
	a.DraftService = service.NewDraftService(drafts, a.SessionService)
	a.ConsentService = service.NewConsentService(consentRepository, a.Locales)

	// Handlers are registered before anything can consume tasks
	service.RegisterTaskHandlers(a.Registry, a.EmailService, a.NewsletterService, drafts)
	if cfg.TaskBackend == "amqp" && opts.Consume {
		stop := a.RunConsumer(context.Background())
		a.closers = append(a.closers, func() error {
			stop()
			return nil
		})
	}

	return a, nil
}

func (a *App) newLimiter() ratelimit.Limiter {
	cfg := a.Cfg
	if cfg.RateLimitBackend == "redis" {
		slog.Info("rate limiter: redis", "max", cfg.RateLimitMax, "window", cfg.RateLimitWindow)
		return ratelimit.NewRedis(a.Redis, redisKeyPrefix+":ratelimit", cfg.RateLimitMax, cfg.RateLimitWindow)
	}

	slog.Info("rate limiter: memory", "max", cfg.RateLimitMax, "window", cfg.RateLimitWindow)
	limiter := ratelimit.NewMemory(cfg.RateLimitMax, cfg.RateLimitWindow)
	a.closers = append(a.closers, func() error {
		limiter.Stop()
		return nil
	})
	return limiter
}

func (a *App) newDraftStore() draft.Store {
	if a.Cfg.DraftBackend == "redis" {
		return draft.NewRedis(a.Redis, redisKeyPrefix+":draft", a.Cfg.DraftTTL)
	}

	store := draft.NewMemory(a.Cfg.DraftTTL)
	a.closers = append(a.closers, func() error {
		store.Stop()
		return nil
	})
	return store
}

func (a *App) newDispatcher() tasks.Dispatcher {
	cfg := a.Cfg
	if cfg.TaskBackend != "amqp" {
		slog.Info("tasks: in-process pool", "workers", cfg.TaskWorkers)
		pool := tasks.NewPool(a.Registry, cfg.TaskWorkers, taskBuffer)
		a.closers = append(a.closers, pool.Close)
		return pool
	}

	slog.Info("tasks: amqp", "queue", cfg.TaskQueue)
	publisher := tasks.NewAMQPPublisher(cfg.AMQPURL, cfg.TaskQueue, taskBuffer, cfg.TaskPublishTimeout)
	a.closers = append(a.closers, publisher.Close)
	return publisher
}

// RunConsumer starts an AMQP consumer for the task queue in the background.
// The returned function stops it and waits for the current task to finish.
func (a *App) RunConsumer(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	consumer := tasks.NewConsumer(a.Cfg.AMQPURL, a.Cfg.TaskQueue, a.Registry, a.Cfg.TaskWorkers)
	go func() {
		defer close(done)
		err := consumer.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("task consumer stopped", "error", err)
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// Close releases resources in reverse order of creation, so queued tasks are
// drained before the database closes.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err := a.closers[i]()
		if err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
