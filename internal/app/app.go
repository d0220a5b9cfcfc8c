package app

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/filingwatch/internal/common"
	"github.com/ternarybob/filingwatch/internal/handlers"
	"github.com/ternarybob/filingwatch/internal/interfaces"
	"github.com/ternarybob/filingwatch/internal/services/analysis"
	"github.com/ternarybob/filingwatch/internal/services/delivery"
	"github.com/ternarybob/filingwatch/internal/services/discovery"
	"github.com/ternarybob/filingwatch/internal/services/drain"
	"github.com/ternarybob/filingwatch/internal/services/edgar"
	"github.com/ternarybob/filingwatch/internal/services/llm"
	"github.com/ternarybob/filingwatch/internal/services/quota"
	"github.com/ternarybob/filingwatch/internal/services/scheduler"
	"github.com/ternarybob/filingwatch/internal/services/subscriptions"
	"github.com/ternarybob/filingwatch/internal/storage/badger"
)

// Scheduled job names
const (
	JobDiscovery = "discovery"
	JobDrain     = "drain"
	JobTickers   = "tickers"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	ctx            context.Context
	cancelCtx      context.CancelFunc
	jobsCtx        context.Context
	cancelJobs     context.CancelFunc
	StorageManager *badger.Manager

	// EDGAR
	EdgarClient     *edgar.Client
	TickerDirectory *edgar.TickerDirectory
	FilingSource    *edgar.FilingSource
	Extractor       *edgar.Extractor

	// Analysis
	ProviderFactory *llm.ProviderFactory
	Analyzer        *analysis.LLMAnalyzer

	// Pipeline
	QuotaService        *quota.Service
	SubscriptionService *subscriptions.Service
	DeliveryService     *delivery.Service
	DiscoveryService    *discovery.Service
	DrainService        *drain.Service
	SchedulerService    *scheduler.Service

	// Telegram (nil when no bot token is configured)
	Bot           *tgbotapi.BotAPI
	CommandBot    *subscriptions.Bot
	commandsAlive chan struct{}

	// HTTP handlers
	StatusHandler    *handlers.StatusHandler
	QueueHandler     *handlers.QueueHandler
	SchedulerHandler *handlers.SchedulerHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}
	app.ctx, app.cancelCtx = context.WithCancel(context.Background())
	// Scheduled cycles get their own context so shutdown can let them finish before cancelling
	app.jobsCtx, app.cancelJobs = context.WithCancel(context.Background())

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := app.initScheduler(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	app.initHandlers()

	app.Logger.Info().Msg("Application initialization complete")
	return app, nil
}

// initDatabase opens the Badger store
func (a *App) initDatabase() error {
	manager, err := badger.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return err
	}
	a.StorageManager = manager
	return nil
}

// initServices builds the pipeline bottom-up
func (a *App) initServices() error {
	var err error
	cfg := a.Config

	// 1. Quota ledger
	a.QuotaService, err = quota.NewService(a.StorageManager.QuotaStorage(), &cfg.Quota, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create quota service: %w", err)
	}

	// 2. EDGAR client, ticker directory, filing source and extractor
	a.EdgarClient, err = edgar.NewClient(cfg.Edgar.UserAgent,
		edgar.WithLogger(a.Logger),
		edgar.WithRateLimit(cfg.Edgar.RateLimit),
		edgar.WithTimeout(common.ParseDuration(cfg.Edgar.Timeout, edgar.DefaultTimeout)),
	)
	if err != nil {
		return fmt.Errorf("failed to create EDGAR client: %w", err)
	}
	a.TickerDirectory = edgar.NewTickerDirectory(a.EdgarClient, cfg.Edgar.TickersURL, a.Logger)
	a.FilingSource = edgar.NewFilingSource(a.EdgarClient, a.TickerDirectory, cfg.Edgar.SubmissionsURL, cfg.Edgar.ArchivesURL, a.Logger)
	a.Extractor = edgar.NewExtractor(a.EdgarClient, a.TickerDirectory, cfg.Edgar.FactsURL, cfg.Edgar.MaxTextChars, a.Logger)

	// 3. LLM provider and analyzer
	a.ProviderFactory = llm.NewProviderFactory(&cfg.Gemini, &cfg.Claude, &cfg.LLM, a.Logger)
	provider := a.ProviderFactory.DetectProvider("")
	model := a.ProviderFactory.GetDefaultModel(provider)
	builder := analysis.NewBuilder(cfg.Analysis.Language, cfg.Edgar.MaxTextChars)
	a.Analyzer = analysis.NewLLMAnalyzer(a.ProviderFactory, builder, model, a.Logger)

	a.Logger.Info().
		Str("provider", string(provider)).
		Str("model", model).
		Msg("Analysis provider selected")

	// 4. Subscriptions
	a.SubscriptionService = subscriptions.NewService(a.StorageManager.SubscriptionStorage(), a.TickerDirectory, a.Logger)

	// 5. Delivery: Telegram when a token is configured, otherwise log only
	var sender interfaces.Sender
	if cfg.Telegram.BotToken != "" {
		a.Bot, err = tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			return fmt.Errorf("failed to authenticate telegram bot: %w", err)
		}
		a.Logger.Info().Str("bot", a.Bot.Self.UserName).Msg("Telegram bot authenticated")
		sender = delivery.NewTelegramSender(a.Bot, a.Logger)

		if cfg.Telegram.CommandsEnabled {
			a.CommandBot = subscriptions.NewBot(a.Bot, a.SubscriptionService, a.Logger)
		}
	} else {
		a.Logger.Warn().Msg("No telegram bot token configured, analyses will be logged instead of sent")
		sender = delivery.NewLogSender(a.Logger)
	}
	a.DeliveryService = delivery.NewService(
		delivery.NewFormatter(cfg.Telegram.MaxMessageLength),
		a.Analyzer,
		sender,
		a.SubscriptionService,
		a.Logger,
	)

	// 6. Discovery and drain loops
	a.DiscoveryService = discovery.NewService(
		a.FilingSource,
		a.SubscriptionService,
		a.StorageManager.WatermarkStorage(),
		a.StorageManager.QueueStorage(),
		cfg.Discovery.MaxPerCycle,
		a.Logger,
	)
	a.DrainService = drain.NewService(
		a.StorageManager.QueueStorage(),
		a.QuotaService,
		a.Extractor,
		a.Analyzer,
		a.DeliveryService,
		drain.Config{
			MaxRetries:           cfg.Drain.MaxRetries,
			ChargeFailedAttempts: cfg.Quota.ChargeFailedAttempts,
		},
		a.Logger,
	)

	return nil
}

// initScheduler registers the three periodic jobs. They are started by Start.
func (a *App) initScheduler() error {
	a.SchedulerService = scheduler.NewService(a.Logger)

	jobs := []struct {
		name        string
		schedule    string
		description string
		handler     func() error
	}{
		{JobDiscovery, a.Config.Discovery.Schedule, "Poll EDGAR for new filings of subscribed tickers", func() error {
			_, err := a.DiscoveryService.RunCycle(a.jobsCtx)
			return err
		}},
		{JobDrain, a.Config.Drain.Schedule, "Analyse queued filings within the provider quota", func() error {
			_, err := a.DrainService.RunCycle(a.jobsCtx)
			return err
		}},
		{JobTickers, a.Config.Edgar.RefreshSchedule, "Refresh the ticker to CIK directory", func() error {
			return a.TickerDirectory.Refresh(a.jobsCtx)
		}},
	}

	for _, job := range jobs {
		if err := a.SchedulerService.RegisterJob(job.name, job.schedule, job.description, job.handler); err != nil {
			return err
		}
	}
	return nil
}

// initHandlers creates the operator API handlers
func (a *App) initHandlers() {
	a.StatusHandler = handlers.NewStatusHandler(a.QuotaService, a.Logger)
	a.QueueHandler = handlers.NewQueueHandler(a.StorageManager.QueueStorage(), a.StorageManager.ArchiveStorage(), a.Logger)
	a.SchedulerHandler = handlers.NewSchedulerHandler(a.SchedulerService, a.Logger)
}

// Start launches the scheduler and, when enabled, the Telegram command listener
func (a *App) Start() error {
	if err := a.SchedulerService.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	if a.CommandBot != nil {
		a.commandsAlive = make(chan struct{})
		common.SafeGo(a.Logger, "telegramCommands", func() {
			defer close(a.commandsAlive)
			a.CommandBot.Run(a.ctx)
		})
	}

	if a.Config.Discovery.RunOnStart {
		common.SafeGo(a.Logger, "runOnStart", a.runOnStart)
	}
	return nil
}

// runOnStart runs discovery once, then drain once
func (a *App) runOnStart() {
	if _, err := a.SchedulerService.TriggerJob(JobDiscovery); err != nil {
		a.Logger.Warn().Err(err).Msg("Startup discovery failed to start")
		return
	}

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			status, err := a.SchedulerService.GetJobStatus(JobDiscovery)
			if err != nil || status.IsRunning {
				continue
			}
			if _, err := a.SchedulerService.TriggerJob(JobDrain); err != nil {
				a.Logger.Warn().Err(err).Msg("Startup drain failed to start")
			}
			return
		}
	}
}

// Close stops background work and closes storage.
// Cycle contexts are cancelled only after the scheduler has stopped, so running cycles can finish;
// a cycle still running after the stop timeout is cancelled and leaves its job queued unchanged.
func (a *App) Close() error {
	if a.cancelCtx != nil {
		a.Logger.Info().Msg("Cancelling background goroutines")
		a.cancelCtx()
	}

	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	if a.cancelJobs != nil {
		a.cancelJobs()
	}

	if a.commandsAlive != nil {
		select {
		case <-a.commandsAlive:
		case <-time.After(5 * time.Second):
			a.Logger.Warn().Msg("Telegram command listener did not stop in time")
		}
	}

	if a.ProviderFactory != nil {
		if err := a.ProviderFactory.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close LLM providers")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
