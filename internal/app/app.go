package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/ghibliflow/internal/common"
	"github.com/ternarybob/ghibliflow/internal/handlers"
	"github.com/ternarybob/ghibliflow/internal/interfaces"
	"github.com/ternarybob/ghibliflow/internal/queue"
	"github.com/ternarybob/ghibliflow/internal/services/browser"
	"github.com/ternarybob/ghibliflow/internal/services/mailer"
	"github.com/ternarybob/ghibliflow/internal/services/notify"
	"github.com/ternarybob/ghibliflow/internal/services/prompts"
	"github.com/ternarybob/ghibliflow/internal/services/scheduler"
	"github.com/ternarybob/ghibliflow/internal/services/stylize"
	"github.com/ternarybob/ghibliflow/internal/services/telegram"
	"github.com/ternarybob/ghibliflow/internal/storage/badger"
)

const (
	sweepJobName     = "upload_sweeper"
	gcJobName        = "history_gc"
	queueStopTimeout = 30 * time.Second
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Storage
	DB         *badger.BadgerDB
	JobStorage *badger.JobStorage

	// Browser automation
	Sessions *browser.SessionManager
	Pipeline *stylize.Pipeline

	// Notifications
	TelegramClient *telegram.Client
	MailService    *mailer.Service
	Notifier       *notify.FanOut

	// Job execution
	Queue            *queue.JobQueue
	PromptService    *prompts.Service
	SchedulerService *scheduler.Service

	// HTTP handlers
	APIHandler    *handlers.APIHandler
	UploadHandler *handlers.UploadHandler
	JobHandler    *handlers.JobHandler
}

// New initializes the application with all dependencies and starts the
// job queue and scheduler.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Initialize database
	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize services
	if err := app.initServices(); err != nil {
		app.DB.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	// Initialize handlers
	app.initHandlers()

	if err := app.Queue.Start(); err != nil {
		app.DB.Close()
		return nil, fmt.Errorf("failed to start job queue: %w", err)
	}

	if err := app.SchedulerService.Start(); err != nil {
		app.Logger.Warn().Err(err).Msg("Failed to start scheduler")
	}

	logger.Info().
		Bool("telegram_enabled", app.TelegramClient.IsConfigured()).
		Bool("email_enabled", app.MailService.IsConfigured()).
		Bool("headless", cfg.Browser.Headless).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes job history storage (Badger)
func (a *App) initDatabase() error {
	db, err := badger.NewBadgerDB(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return err
	}
	a.DB = db
	a.JobStorage = badger.NewJobStorage(db, a.Logger)

	// Records left queued or running belong to a previous process
	if _, err := a.JobStorage.MarkInterrupted(context.Background()); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to close out interrupted jobs")
	}
	return nil
}

func (a *App) initServices() error {
	var err error

	// 1. Browser session (launched lazily on first job)
	launcher := browser.NewChromeLauncher(a.Config.Browser, a.Logger)
	a.Sessions = browser.NewSessionManager(launcher, a.Config.Browser, a.Logger)

	// 2. Automation pipeline
	a.Pipeline, err = stylize.NewPipeline(a.Sessions, a.Config.Browser, a.Config.Pipeline, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	// 3. Notification channels
	a.TelegramClient, err = telegram.NewClient(a.Config.Telegram, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create telegram client: %w", err)
	}
	if !a.TelegramClient.IsConfigured() {
		a.Logger.Warn().Msg("Telegram bot token or chat ID not set, push notifications disabled")
	}

	a.MailService = mailer.NewService(a.Config.SMTP, a.Logger)
	if !a.MailService.IsConfigured() {
		a.Logger.Warn().Msg("SMTP host or sender not set, email notifications disabled")
	}

	a.Notifier = notify.NewFanOut(a.Logger,
		notify.NewTelegramChannel(a.TelegramClient, a.Logger),
		notify.NewEmailChannel(a.MailService, a.Logger),
	)

	// 4. Job queue (concurrency 1)
	a.Queue = queue.NewJobQueue(a.Pipeline, a.Notifier, a.JobStorage, a.Config.Queue, a.Logger)

	// 5. Prompt presets
	a.PromptService = prompts.NewService(a.Config.Prompts)

	// 6. Scheduler: orphaned upload sweeper and history GC
	a.SchedulerService = scheduler.NewService(a.Logger)
	if schedule := a.Config.Uploads.SweepSchedule; schedule != "" {
		sweeper := scheduler.NewUploadSweeper(a.Config.Uploads.Dir, a.Config.Uploads.MaxAge.D(), a.Queue, a.Logger)
		if err := a.SchedulerService.RegisterJob(sweepJobName, schedule, "Remove orphaned uploads", sweeper.Run); err != nil {
			return fmt.Errorf("failed to register upload sweeper: %w", err)
		}
	}
	if schedule := a.Config.Storage.Badger.GCSchedule; schedule != "" {
		gc := func(ctx context.Context) error {
			_, err := a.DB.RunGC(ctx)
			return err
		}
		if err := a.SchedulerService.RegisterJob(gcJobName, schedule, "Reclaim job history disk space", gc); err != nil {
			return fmt.Errorf("failed to register history GC: %w", err)
		}
	}

	return nil
}

func (a *App) initHandlers() {
	var enqueuer interfaces.JobEnqueuer = a.Queue

	a.APIHandler = handlers.NewAPIHandler(enqueuer, a.Sessions, a.Logger)
	a.UploadHandler = handlers.NewUploadHandler(enqueuer, a.PromptService, a.Config.Uploads, a.Logger)
	a.JobHandler = handlers.NewJobHandler(a.JobStorage, a.Logger)
}

// Close releases resources in dependency order. The HTTP server must already
// be shut down so no new uploads arrive.
func (a *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), queueStopTimeout)
	defer cancel()

	// Stop the queue first: pending jobs still finish with an error outcome
	if a.Queue != nil {
		if err := a.Queue.Stop(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop job queue")
		}
	}

	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	if a.Sessions != nil {
		if err := a.Sessions.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close browser session")
		} else {
			a.Logger.Info().Msg("Browser session closed")
		}
	}

	// Close storage
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
