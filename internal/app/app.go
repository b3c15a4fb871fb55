package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noctua/internal/browser"
	"github.com/ternarybob/noctua/internal/common"
	"github.com/ternarybob/noctua/internal/interfaces"
	"github.com/ternarybob/noctua/internal/services/accounts"
	"github.com/ternarybob/noctua/internal/services/events"
	"github.com/ternarybob/noctua/internal/services/extractor"
	"github.com/ternarybob/noctua/internal/services/scheduler"
	"github.com/ternarybob/noctua/internal/services/session"
	"github.com/ternarybob/noctua/internal/services/worker"
	storagebadger "github.com/ternarybob/noctua/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager interfaces.StorageManager

	// Event-driven services
	EventService interfaces.EventService
	Recorder     *events.Recorder

	// Extraction pipeline
	BrowserDriver    interfaces.BrowserDriver
	SessionService   *session.Service
	ExtractorService *extractor.Service
	Worker           *worker.Worker
	AccountPool      *accounts.Pool
	SchedulerService *scheduler.Service
}

// New wires all services in dependency order: storage, event bus,
// browser driver, session/extractor, worker, account pool, scheduler.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: config,
		Logger: logger,
	}

	storageManager, err := storagebadger.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.StorageManager = storageManager

	a.EventService = events.NewService(logger)
	a.Recorder = events.NewRecorder(a.EventService, storageManager.LogStorage(), logger)

	a.BrowserDriver = browser.NewDriver(logger)
	a.SessionService = session.NewService(a.BrowserDriver, storageManager.AccountStorage(), config, logger)
	a.ExtractorService = extractor.NewService(&config.Extractor, logger)

	a.Worker = worker.NewWorker(
		a.SessionService,
		a.ExtractorService,
		storageManager.TaskStorage(),
		storageManager.GraphStorage(),
		a.Recorder,
		config,
		logger,
	)

	a.AccountPool = accounts.NewPool(storageManager.AccountStorage(), storageManager.KeyValueStorage(), &config.Accounts, logger)

	a.SchedulerService = scheduler.NewService(
		a.Worker,
		a.AccountPool,
		storageManager.TaskStorage(),
		storageManager.KeyValueStorage(),
		a.Recorder,
		a.EventService,
		&config.Scheduler,
		logger,
	)

	if err := a.recoverStaleClaims(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("Failed to recover stale account claims")
	}

	logger.Info().
		Str("storage_path", config.Storage.Badger.Path).
		Str("rotation_strategy", config.Accounts.RotationStrategy).
		Msg("Application initialized")

	return a, nil
}

// recoverStaleClaims clears in-use flags left behind by a previous
// crash. No worker can hold an account before the scheduler starts,
// so any set flag at this point is stale. Cooldowns stay untouched.
func (a *App) recoverStaleClaims(ctx context.Context) error {
	accountStorage := a.StorageManager.AccountStorage()
	all, err := accountStorage.ListAccounts(ctx)
	if err != nil {
		return err
	}

	recovered := 0
	for _, account := range all {
		if !account.InUse {
			continue
		}
		if err := accountStorage.ReleaseAccount(ctx, account.ID); err != nil {
			a.Logger.Warn().Err(err).Str("account_id", account.ID).Msg("Failed to release stale claim")
			continue
		}
		recovered++
	}
	if recovered > 0 {
		a.Logger.Info().Int("accounts", recovered).Msg("Released stale account claims from previous run")
	}
	return nil
}

// Start begins task dispatch.
func (a *App) Start() error {
	return a.SchedulerService.Start()
}

// Close drains the scheduler and shuts down storage.
func (a *App) Close() {
	if a.SchedulerService != nil {
		a.SchedulerService.Stop()
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("Failed to close storage")
		}
	}
	a.Logger.Info().Msg("Application closed")
}
