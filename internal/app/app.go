package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/messor/internal/common"
	"github.com/ternarybob/messor/internal/handlers"
	"github.com/ternarybob/messor/internal/interfaces"
	"github.com/ternarybob/messor/internal/logs"
	"github.com/ternarybob/messor/internal/queue"
	"github.com/ternarybob/messor/internal/services/billing"
	"github.com/ternarybob/messor/internal/services/cache"
	"github.com/ternarybob/messor/internal/services/crawler"
	"github.com/ternarybob/messor/internal/services/events"
	"github.com/ternarybob/messor/internal/services/llm"
	"github.com/ternarybob/messor/internal/services/research"
	"github.com/ternarybob/messor/internal/services/scheduler"
	"github.com/ternarybob/messor/internal/services/scraper"
	"github.com/ternarybob/messor/internal/services/search"
	"github.com/ternarybob/messor/internal/services/status"
	"github.com/ternarybob/messor/internal/storage"
	badgerstorage "github.com/ternarybob/messor/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager interfaces.StorageManager

	// Event-driven services
	EventService  interfaces.EventService
	StatusService interfaces.StatusService
	LogConsumer   *logs.Consumer

	// Scrape pipeline and its support services. LLMService stays nil when no
	// provider is configured; research and alt text degrade around it.
	CacheService   interfaces.CacheService
	LLMService     interfaces.LLMService
	SearchProvider interfaces.SearchProvider
	BillingService interfaces.BillingService
	ScraperService *scraper.Service

	// Run orchestration
	CrawlerService   *crawler.Service
	ResearchService  *research.Service
	SchedulerService interfaces.SchedulerService

	// Job execution
	QueueManager *queue.BadgerManager
	WorkerPool   *queue.WorkerPool

	// HTTP handlers
	APIHandler       *handlers.APIHandler
	CrawlHandler     *handlers.CrawlHandler
	ResearchHandler  *handlers.ResearchHandler
	SchedulerHandler *handlers.SchedulerHandler
	WSHandler        *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initStorage(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	// The event bus comes up before everything else: the log consumer feeds
	// it, the status service publishes through it, and streaming clients
	// subscribe to it.
	app.EventService = events.NewService(app.Logger)

	app.LogConsumer = logs.NewConsumer(app.EventService, app.Logger, cfg.Logging.MinEventLevel)
	if err := app.LogConsumer.Start(); err != nil {
		return nil, fmt.Errorf("failed to start log consumer: %w", err)
	}
	app.Logger.SetChannel("context", app.LogConsumer.GetChannel())

	// The WebSocket handler subscribes before services start so startup log
	// events reach the recent-log ring.
	app.WSHandler = handlers.NewWebSocketHandler(app.EventService, app.Logger, &cfg.WebSocket)

	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := app.initWorkers(); err != nil {
		return nil, fmt.Errorf("failed to initialize workers: %w", err)
	}

	app.initHandlers()

	app.Logger.Info().
		Str("environment", cfg.Environment).
		Int("worker_concurrency", cfg.Queue.Concurrency).
		Msg("Application initialized")

	return app, nil
}

func (a *App) initStorage() error {
	manager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return err
	}
	a.StorageManager = manager

	// Seed the KV store with operator-provided variables. API keys resolved
	// at wiring time fall back to these.
	ctx := context.Background()
	if err := a.StorageManager.LoadVariablesFromFiles(ctx, a.Config.Variables.Dir); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to load variables from files")
	}
	if err := a.StorageManager.LoadEnvFile(ctx, ".env"); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to load variables from .env file")
	}

	return nil
}

func (a *App) initServices() error {
	a.StatusService = status.NewService(a.EventService, a.Logger)
	a.CacheService = cache.NewService(a.StorageManager.Cache(), a.Logger)

	a.resolveAPIKeys()

	llmService, err := llm.NewService(&a.Config.LLM, a.Logger)
	switch {
	case err == nil:
		a.LLMService = llmService
	case errors.Is(err, llm.ErrNotConfigured):
		a.Logger.Warn().Msg("No LLM provider configured: research analysis uses heuristics, alt text disabled")
	default:
		return fmt.Errorf("failed to initialize LLM service: %w", err)
	}

	searchProvider, err := search.NewSearchProvider(a.Config, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize search provider: %w", err)
	}
	a.SearchProvider = searchProvider

	a.BillingService = billing.NewService(a.StorageManager.Ledger(), &a.Config.Billing, a.Logger)
	a.ScraperService = scraper.NewService(&a.Config.Scraper, a.CacheService, a.LLMService, a.Logger)

	return nil
}

// resolveAPIKeys fills the LLM keys from the environment or the seeded
// variables store before any provider is constructed. Keys that resolve
// nowhere stay empty and the services degrade around them.
func (a *App) resolveAPIKeys() {
	ctx := context.Background()
	kv := a.StorageManager.KeyValue()

	if key, err := common.ResolveAPIKey(ctx, kv, "claude_api_key", a.Config.LLM.Claude.APIKey); err == nil {
		a.Config.LLM.Claude.APIKey = key
	}
	if key, err := common.ResolveAPIKey(ctx, kv, "gemini_api_key", a.Config.LLM.Gemini.APIKey); err == nil {
		a.Config.LLM.Gemini.APIKey = key
	}
}

// initWorkers builds the queue, the crawl/research services that feed it, the
// worker pool that drains it, and the scheduler on top.
func (a *App) initWorkers() error {
	// The queue shares the state database. Only the Badger storage manager
	// can surface the raw handle, so a Redis-frontier deployment still needs
	// Badger underneath.
	manager, ok := a.StorageManager.(*badgerstorage.Manager)
	if !ok {
		return fmt.Errorf("queue requires the badger storage backend, got %T", a.StorageManager)
	}

	a.QueueManager = queue.NewBadgerManager(manager.DB().DB(), queue.ManagerOptions{
		QueueName:              a.Config.Queue.QueueName,
		VisibilityTimeout:      a.Config.Queue.VisibilityTimeoutDuration(),
		MaxReceive:             a.Config.Queue.MaxReceive,
		BackoffBase:            a.Config.Queue.RetryBackoffBaseDuration(),
		BackoffMax:             a.Config.Queue.RetryBackoffMaxDuration(),
		DefaultTeamConcurrency: a.Config.Queue.DefaultTeamConcurrency,
	}, a.Logger)
	if err := a.QueueManager.Start(); err != nil {
		return fmt.Errorf("failed to start queue manager: %w", err)
	}

	a.CrawlerService = crawler.NewService(
		a.QueueManager,
		a.StorageManager.Frontier(),
		a.StorageManager.CrawlState(),
		a.ScraperService,
		a.BillingService,
		a.StatusService,
		a.Logger,
		a.Config,
	)

	a.ResearchService = research.NewService(
		a.QueueManager,
		a.StorageManager.ResearchState(),
		a.ScraperService,
		a.SearchProvider,
		a.LLMService,
		a.BillingService,
		a.StatusService,
		a.Logger,
		a.Config,
	)

	a.WorkerPool = queue.NewWorkerPool(a.QueueManager, a.Config.Queue.Concurrency, a.Config.Queue.PollIntervalDuration(), a.Logger)
	a.WorkerPool.RegisterHandler(queue.JobTypeCrawlKickoff, a.CrawlerService.HandleKickoff)
	a.WorkerPool.RegisterHandler(queue.JobTypeCrawlPage, a.CrawlerService.HandlePage)
	a.WorkerPool.RegisterHandler(queue.JobTypeResearch, a.ResearchService.HandleResearch)
	if err := a.WorkerPool.Start(); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	a.SchedulerService = scheduler.NewService(
		a.CrawlerService,
		a.StorageManager.CrawlState(),
		a.StorageManager.ResearchState(),
		a.StorageManager.Frontier(),
		a.EventService,
		a.Logger,
		a.Config,
	)
	if a.Config.Scheduler.Enabled {
		// A broken schedule file is a startup error: a crawl that silently
		// never fires is worse than a refused boot.
		if err := a.SchedulerService.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	return nil
}

// initHandlers builds the HTTP handlers over the running services.
func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.Logger)
	a.CrawlHandler = handlers.NewCrawlHandler(a.CrawlerService, a.Logger)
	a.ResearchHandler = handlers.NewResearchHandler(a.ResearchService, a.Logger)
	a.SchedulerHandler = handlers.NewSchedulerHandler(a.SchedulerService, a.Logger)
}

// Close gracefully shuts down all application components. Producers stop
// before the queue, the queue before its services, storage last.
func (a *App) Close() error {
	if a.SchedulerService != nil && a.SchedulerService.IsRunning() {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler")
		}
	}

	if a.WorkerPool != nil {
		if err := a.WorkerPool.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop worker pool")
		}
	}

	if a.QueueManager != nil {
		if err := a.QueueManager.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop queue manager")
		}
	}

	if a.ScraperService != nil {
		if err := a.ScraperService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close scraper")
		}
	}

	if a.SearchProvider != nil {
		if err := a.SearchProvider.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close search provider")
		}
	}

	if a.LLMService != nil {
		if err := a.LLMService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close LLM service")
		}
	}

	if a.LogConsumer != nil {
		if err := a.LogConsumer.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop log consumer")
		}
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
	}

	a.Logger.Info().Msg("Application shut down")
	return nil
}
