package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noctua/internal/common"
	"github.com/ternarybob/noctua/internal/interfaces"
	"github.com/ternarybob/noctua/internal/models"
	"github.com/ternarybob/noctua/internal/services/accounts"
	"github.com/ternarybob/noctua/internal/services/events"
	"github.com/ternarybob/noctua/internal/services/worker"
	"golang.org/x/time/rate"
)

// processingKey is the persisted runtime gate. Toggling it pauses and
// resumes dispatch without a restart.
const processingKey = "processing_enabled"

// TaskRunner executes one task against one claimed account. Satisfied by
// worker.Worker; faked in tests.
type TaskRunner interface {
	Run(ctx context.Context, task *models.Task, account *models.Account) worker.Outcome
}

// runningTask tracks one in-flight worker for cancellation.
type runningTask struct {
	cancel    context.CancelFunc
	accountID string
}

// Service is the queue scheduler: a tick loop converting pending tasks
// plus available accounts into running workers. Concurrency is implicitly
// capped by account supply; there is no separate pool-size knob.
type Service struct {
	runner   TaskRunner
	pool     *accounts.Pool
	tasks    interfaces.TaskStorage
	kv       interfaces.KeyValueStorage
	recorder *events.Recorder
	bus      interfaces.EventService
	config   *common.SchedulerConfig
	logger   arbor.ILogger

	limiter  *rate.Limiter
	cron     *cron.Cron
	validate *validator.Validate

	mu       sync.Mutex
	running  map[string]*runningTask
	wg       sync.WaitGroup
	stopCh   chan struct{}
	loopDone chan struct{}
	started  bool
}

// NewService creates a queue scheduler
func NewService(runner TaskRunner, pool *accounts.Pool, tasks interfaces.TaskStorage, kv interfaces.KeyValueStorage, recorder *events.Recorder, bus interfaces.EventService, config *common.SchedulerConfig, logger arbor.ILogger) *Service {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if config.LaunchesPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.LaunchesPerMinute)), 3)
	}

	return &Service{
		runner:   runner,
		pool:     pool,
		tasks:    tasks,
		kv:       kv,
		recorder: recorder,
		bus:      bus,
		config:   config,
		logger:   logger,
		limiter:  limiter,
		validate: validator.New(),
		running:  make(map[string]*runningTask),
	}
}

// Start launches the tick loop and the maintenance schedule.
func (s *Service) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	s.started = true
	s.stopCh = make(chan struct{})
	s.loopDone = make(chan struct{})
	s.mu.Unlock()

	s.cron = cron.New(cron.WithSeconds())
	if schedule := s.config.MaintenanceSchedule; schedule != "" {
		if _, err := s.cron.AddFunc(schedule, s.runMaintenance); err != nil {
			return fmt.Errorf("invalid maintenance schedule %q: %w", schedule, err)
		}
	}
	s.cron.Start()

	go s.loop()

	s.logger.Info().
		Str("poll_interval", s.config.PollInterval).
		Str("maintenance", s.config.MaintenanceSchedule).
		Msg("Scheduler started")
	return nil
}

// Stop halts dispatch and waits for every running worker to finish.
// Graceful drain: active browser sessions are never force-killed here.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	close(s.stopCh)
	s.mu.Unlock()

	if s.cron != nil {
		s.cron.Stop()
	}

	// The loop goroutine must be out of tick before the WaitGroup drains,
	// otherwise a dispatch in flight could Add while Wait is underway
	<-s.loopDone

	s.logger.Info().Int("running_workers", s.runningCount()).Msg("Scheduler draining")
	s.wg.Wait()
	s.logger.Info().Msg("Scheduler stopped")
}

func (s *Service) loop() {
	defer close(s.loopDone)

	interval := s.config.PollIntervalDuration()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(context.Background())
		}
	}
}

// tick runs one dispatch round: compute open slots from account supply,
// fetch that many pending tasks, claim accounts, launch workers.
func (s *Service) tick(ctx context.Context) {
	if !s.kv.GetBool(ctx, processingKey, true) {
		return
	}

	now := time.Now()
	availableAccounts, err := s.pool.AvailableCount(ctx, now)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to count available accounts")
		return
	}

	slots := availableAccounts - s.runningCount()
	if slots <= 0 {
		return
	}

	pending, err := s.tasks.PendingTasks(ctx, slots)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to fetch pending tasks")
		return
	}

	for _, task := range pending {
		if s.isRunning(task.ID) {
			// The worker persists the Processing transition on its own
			// goroutine, so a just-launched task can still read as Queued
			// here. The running set is the authority on in-flight tasks.
			continue
		}
		if !s.limiter.Allow() {
			// Launch pacing: a deep queue on a cold start must not spawn
			// a herd of browser processes at once
			s.logger.Debug().Msg("Launch limiter engaged, deferring remaining dispatch")
			return
		}

		account, claimed, err := s.pool.Acquire(ctx, now)
		if err != nil {
			s.logger.Error().Err(err).Str("task_id", task.ID).Msg("Account claim errored")
			return
		}
		if !claimed {
			// Pool exhausted: stop this round, the next tick retries
			return
		}

		s.launch(task, account)
	}
}

// launch starts a detached worker for the (task, account) pair and
// tracks it for cancellation.
func (s *Service) launch(task *models.Task, account *models.Account) {
	taskCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.running[task.ID] = &runningTask{cancel: cancel, accountID: account.ID}
	s.mu.Unlock()

	s.recorder.Info(context.Background(), fmt.Sprintf("Dispatching %s on account %s", task.EntityName, account.DisplayName),
		events.Correlation{TaskID: task.ID, AccountID: account.ID, EntityID: task.EntityID})
	s.publish(interfaces.EventTaskStarted, task, account.ID)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		defer func() {
			s.mu.Lock()
			delete(s.running, task.ID)
			s.mu.Unlock()
		}()

		outcome := s.runner.Run(taskCtx, task, account)
		// Finalization must survive task-context cancellation
		s.finalize(context.Background(), task, account, outcome)
	}()
}

func (s *Service) runningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

func (s *Service) isRunning(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[taskID]
	return ok
}

// RunningTasks returns the ids of tasks currently held by workers.
func (s *Service) RunningTasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.running))
	for id := range s.running {
		ids = append(ids, id)
	}
	return ids
}

// SetProcessing toggles the persisted dispatch gate.
func (s *Service) SetProcessing(ctx context.Context, enabled bool) error {
	value := "false"
	if enabled {
		value = "true"
	}
	return s.kv.Set(ctx, processingKey, value)
}

// EnqueueTask validates and persists a new task in Queued state.
func (s *Service) EnqueueTask(ctx context.Context, task *models.Task) error {
	if task.ID == "" {
		task.ID = common.NewTaskID()
	}
	if task.MaxRetries == 0 {
		task.MaxRetries = s.config.DefaultMaxRetries
	}
	task.Status = models.TaskStatusQueued
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	if err := s.validate.Struct(task); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}
	if err := s.tasks.SaveTask(ctx, task); err != nil {
		return err
	}

	s.publish(interfaces.EventTaskQueued, task, "")
	return nil
}

// CancelTask cancels a task. Running workers get their context cancelled
// (which force-aborts in-flight browser calls); queued tasks transition
// directly with no side effects.
func (s *Service) CancelTask(ctx context.Context, taskID string) error {
	s.mu.Lock()
	active, isRunning := s.running[taskID]
	s.mu.Unlock()

	if isRunning {
		s.logger.Info().Str("task_id", taskID).Msg("Cancelling running worker")
		active.cancel()
		// The worker observes the cancellation and its finalize marks the
		// task; nothing else to do here
		return nil
	}

	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.IsTerminal() {
		return nil
	}
	if err := s.tasks.UpdateTaskStatus(ctx, taskID, models.TaskStatusCancelled, ""); err != nil {
		return err
	}
	s.publish(interfaces.EventTaskCancelled, task, "")
	return nil
}

// ForceDeleteTask cancels the task if needed and unconditionally removes
// its record.
func (s *Service) ForceDeleteTask(ctx context.Context, taskID string) error {
	s.mu.Lock()
	active, isRunning := s.running[taskID]
	s.mu.Unlock()
	if isRunning {
		active.cancel()
	}
	return s.tasks.DeleteTask(ctx, taskID)
}

// ResetAccounts is the operator escape hatch for stuck account state.
func (s *Service) ResetAccounts(ctx context.Context) (int, error) {
	count, err := s.pool.ResetAll(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.bus.Publish(ctx, interfaces.Event{
		Type:    interfaces.EventAccountsReset,
		Payload: map[string]interface{}{"reset_count": count},
	}); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to publish reset event")
	}
	return count, nil
}

func (s *Service) publish(eventType interfaces.EventType, task *models.Task, accountID string) {
	payload := map[string]interface{}{
		"task_id":     task.ID,
		"entity_id":   task.EntityID,
		"entity_name": task.EntityName,
		"status":      string(task.Status),
		"retry_count": task.RetryCount,
	}
	if accountID != "" {
		payload["account_id"] = accountID
	}
	if err := s.bus.Publish(context.Background(), interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		s.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to publish task event")
	}
}
