package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noctua/internal/common"
	"github.com/ternarybob/noctua/internal/models"
	"github.com/ternarybob/noctua/internal/services/accounts"
	"github.com/ternarybob/noctua/internal/services/events"
	"github.com/ternarybob/noctua/internal/services/worker"
)

// memTasks is an in-memory TaskStorage honoring the pending ordering
// contract (priority descending, then FIFO).
type memTasks struct {
	mu    sync.Mutex
	tasks map[string]*models.Task
}

func newMemTasks() *memTasks {
	return &memTasks{tasks: make(map[string]*models.Task)}
}

func (m *memTasks) SaveTask(_ context.Context, task *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *task
	m.tasks[task.ID] = &copied
	return nil
}

func (m *memTasks) GetTask(_ context.Context, taskID string) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return nil, errors.New("task not found")
	}
	copied := *task
	return &copied, nil
}

func (m *memTasks) PendingTasks(_ context.Context, limit int) ([]*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pending []*models.Task
	for _, task := range m.tasks {
		if task.Status == models.TaskStatusQueued {
			copied := *task
			pending = append(pending, &copied)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].Priority != pending[j].Priority {
			return pending[i].Priority > pending[j].Priority
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (m *memTasks) ListTasks(_ context.Context, status models.TaskStatus, limit int) ([]*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Task
	for _, task := range m.tasks {
		if status == "" || task.Status == status {
			copied := *task
			out = append(out, &copied)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memTasks) UpdateTaskStatus(_ context.Context, taskID string, status models.TaskStatus, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return errors.New("task not found")
	}
	task.Status = status
	task.LastError = lastError
	return nil
}

func (m *memTasks) DeleteTask(_ context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, taskID)
	return nil
}

func (m *memTasks) CountTasksByStatus(_ context.Context, status models.TaskStatus) (int, error) {
	tasks, _ := m.ListTasks(context.Background(), status, 0)
	return len(tasks), nil
}

// memAccounts is an in-memory AccountStorage with the claim step under a
// mutex, mirroring the real store's exclusivity guarantee.
type memAccounts struct {
	mu       sync.Mutex
	order    []string
	accounts map[string]*models.Account
}

func newMemAccounts() *memAccounts {
	return &memAccounts{accounts: make(map[string]*models.Account)}
}

func (m *memAccounts) SaveAccount(_ context.Context, account *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[account.ID]; !ok {
		m.order = append(m.order, account.ID)
	}
	copied := *account
	m.accounts[account.ID] = &copied
	return nil
}

func (m *memAccounts) GetAccount(_ context.Context, accountID string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[accountID]
	if !ok {
		return nil, errors.New("account not found")
	}
	copied := *account
	return &copied, nil
}

func (m *memAccounts) ListAccounts(_ context.Context) ([]*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Account, 0, len(m.order))
	for _, id := range m.order {
		copied := *m.accounts[id]
		out = append(out, &copied)
	}
	return out, nil
}

func (m *memAccounts) AvailableAccounts(_ context.Context, now time.Time) ([]*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Account
	for _, id := range m.order {
		if m.accounts[id].AvailableAt(now) {
			copied := *m.accounts[id]
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *memAccounts) ClaimAccount(_ context.Context, accountID string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[accountID]
	if !ok || !account.AvailableAt(now) {
		return false, nil
	}
	account.InUse = true
	account.LastUsedAt = &now
	return true, nil
}

func (m *memAccounts) ReleaseAccount(_ context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if account, ok := m.accounts[accountID]; ok {
		account.InUse = false
	}
	return nil
}

func (m *memAccounts) ResetAllAccounts(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, account := range m.accounts {
		if account.InUse || account.RateLimitedUntil != nil || !account.IsActive {
			account.InUse = false
			account.RateLimitedUntil = nil
			account.IsActive = true
			count++
		}
	}
	return count, nil
}

type memKV struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemKV() *memKV { return &memKV{values: make(map[string]string)} }

func (m *memKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key], nil
}

func (m *memKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *memKV) GetBool(_ context.Context, key string, fallback bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.values[key]
	if !ok || value == "" {
		return fallback
	}
	return value == "true" || value == "1"
}

type memLogs struct {
	mu     sync.Mutex
	events []*models.LogEvent
}

func (m *memLogs) AppendEvent(_ context.Context, event *models.LogEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memLogs) EventsForTask(_ context.Context, taskID string, limit int) ([]*models.LogEvent, error) {
	return nil, nil
}

func (m *memLogs) RecentEvents(_ context.Context, limit int) ([]*models.LogEvent, error) {
	return nil, nil
}

// stubRunner records launch order and returns a scripted outcome per
// run. gate, when set, blocks each run until released or cancelled.
type stubRunner struct {
	mu       sync.Mutex
	launched []string
	outcome  func(task *models.Task) worker.Outcome
	gate     chan struct{}
}

func (r *stubRunner) Run(ctx context.Context, task *models.Task, account *models.Account) worker.Outcome {
	r.mu.Lock()
	r.launched = append(r.launched, task.ID)
	r.mu.Unlock()

	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return worker.Outcome{Kind: worker.OutcomeCancelled}
		}
	}
	if ctx.Err() != nil {
		return worker.Outcome{Kind: worker.OutcomeCancelled}
	}
	return r.outcome(task)
}

func (r *stubRunner) launchOrder() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.launched...)
}

type testEnv struct {
	scheduler *Service
	runner    *stubRunner
	tasks     *memTasks
	accounts  *memAccounts
	kv        *memKV
}

func newTestEnv(t *testing.T, runner *stubRunner, accountCount int) *testEnv {
	t.Helper()

	logger := arbor.NewLogger()
	tasks := newMemTasks()
	accountStore := newMemAccounts()
	kv := newMemKV()
	logs := &memLogs{}

	for i := 0; i < accountCount; i++ {
		require.NoError(t, accountStore.SaveAccount(context.Background(), &models.Account{
			ID:          fmt.Sprintf("acct-%d", i),
			DisplayName: fmt.Sprintf("Account %d", i),
			Email:       fmt.Sprintf("acct%d@example.com", i),
			IsActive:    true,
			CreatedAt:   time.Now(),
		}))
	}

	accountsConfig := &common.AccountsConfig{
		RateLimitCooldown: "1h",
		RotationStrategy:  accounts.StrategyFirstAvailable,
	}
	pool := accounts.NewPool(accountStore, kv, accountsConfig, logger)

	bus := events.NewService(logger)
	recorder := events.NewRecorder(bus, logs, logger)

	schedulerConfig := &common.SchedulerConfig{
		PollInterval:       "10ms",
		DefaultMaxRetries:  2,
		LaunchesPerMinute:  0, // unbounded, tests drive ticks directly
		StuckTaskThreshold: "30m",
	}

	return &testEnv{
		scheduler: NewService(runner, pool, tasks, kv, recorder, bus, schedulerConfig, logger),
		runner:    runner,
		tasks:     tasks,
		accounts:  accountStore,
		kv:        kv,
	}
}

func queueTask(t *testing.T, env *testEnv, id string, priority int, createdAt time.Time) {
	t.Helper()
	require.NoError(t, env.tasks.SaveTask(context.Background(), &models.Task{
		ID:         id,
		EntityType: models.EntityTypeStock,
		EntityID:   id,
		EntityName: "Entity " + id,
		PromptText: "prompt for " + id,
		Status:     models.TaskStatusQueued,
		MaxRetries: 2,
		Priority:   priority,
		CreatedAt:  createdAt,
	}))
}

func taskStatus(t *testing.T, env *testEnv, id string) models.TaskStatus {
	t.Helper()
	task, err := env.tasks.GetTask(context.Background(), id)
	require.NoError(t, err)
	return task.Status
}

func waitForStatus(t *testing.T, env *testEnv, id string, want models.TaskStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		return taskStatus(t, env, id) == want
	}, 3*time.Second, 10*time.Millisecond, "task %s never reached %s", id, want)
}

func TestTickDispatchesByPriorityThenFIFO(t *testing.T) {
	runner := &stubRunner{
		gate:    make(chan struct{}),
		outcome: func(*models.Task) worker.Outcome { return worker.Outcome{Kind: worker.OutcomeCompleted} },
	}
	env := newTestEnv(t, runner, 2)

	base := time.Now()
	queueTask(t, env, "low", 1, base)
	queueTask(t, env, "high-a", 5, base.Add(time.Millisecond))
	queueTask(t, env, "high-b", 5, base.Add(2*time.Millisecond))

	env.scheduler.tick(context.Background())

	// Two accounts, so only the two high-priority tasks start
	require.Eventually(t, func() bool {
		return len(runner.launchOrder()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"high-a", "high-b"}, runner.launchOrder())
	assert.Equal(t, models.TaskStatusQueued, taskStatus(t, env, "low"))

	close(runner.gate)
	waitForStatus(t, env, "high-a", models.TaskStatusCompleted)
	waitForStatus(t, env, "high-b", models.TaskStatusCompleted)

	env.scheduler.tick(context.Background())
	waitForStatus(t, env, "low", models.TaskStatusCompleted)
	assert.Equal(t, []string{"high-a", "high-b", "low"}, runner.launchOrder())
}

func TestSingleAccountSerializesWorkers(t *testing.T) {
	runner := &stubRunner{
		gate:    make(chan struct{}),
		outcome: func(*models.Task) worker.Outcome { return worker.Outcome{Kind: worker.OutcomeCompleted} },
	}
	env := newTestEnv(t, runner, 1)

	base := time.Now()
	for i := 0; i < 3; i++ {
		queueTask(t, env, fmt.Sprintf("task-%d", i), 0, base.Add(time.Duration(i)*time.Millisecond))
	}

	env.scheduler.tick(context.Background())
	require.Eventually(t, func() bool {
		return len(runner.launchOrder()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The single account is held, so further ticks launch nothing
	env.scheduler.tick(context.Background())
	env.scheduler.tick(context.Background())
	assert.Len(t, runner.launchOrder(), 1)
	assert.Equal(t, 1, len(env.scheduler.RunningTasks()))

	// A closed gate lets every later run pass straight through
	close(runner.gate)
	waitForStatus(t, env, "task-0", models.TaskStatusCompleted)

	env.scheduler.tick(context.Background())
	waitForStatus(t, env, "task-1", models.TaskStatusCompleted)
	env.scheduler.tick(context.Background())
	waitForStatus(t, env, "task-2", models.TaskStatusCompleted)
	assert.Equal(t, []string{"task-0", "task-1", "task-2"}, runner.launchOrder())
}

func TestTickSkipsTasksAlreadyRunning(t *testing.T) {
	runner := &stubRunner{
		gate:    make(chan struct{}),
		outcome: func(*models.Task) worker.Outcome { return worker.Outcome{Kind: worker.OutcomeCompleted} },
	}
	env := newTestEnv(t, runner, 3)
	queueTask(t, env, "only", 0, time.Now())

	// The task stays Queued in storage until the worker goroutine
	// persists Processing. With spare accounts beyond the running worker,
	// later ticks re-fetch it as pending and must skip it.
	env.scheduler.tick(context.Background())
	env.scheduler.tick(context.Background())
	env.scheduler.tick(context.Background())

	require.Eventually(t, func() bool {
		return len(runner.launchOrder()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"only"}, runner.launchOrder())
	assert.Equal(t, []string{"only"}, env.scheduler.RunningTasks())

	close(runner.gate)
	waitForStatus(t, env, "only", models.TaskStatusCompleted)
	assert.Equal(t, []string{"only"}, runner.launchOrder())
}

func TestStopDrainsRunningWorkers(t *testing.T) {
	runner := &stubRunner{
		gate:    make(chan struct{}),
		outcome: func(*models.Task) worker.Outcome { return worker.Outcome{Kind: worker.OutcomeCompleted} },
	}
	env := newTestEnv(t, runner, 2)
	queueTask(t, env, "draining", 0, time.Now())

	require.NoError(t, env.scheduler.Start())
	require.Eventually(t, func() bool {
		return len(runner.launchOrder()) == 1
	}, 3*time.Second, 10*time.Millisecond)

	// Release the worker while Stop is draining; Stop must wait out the
	// dispatch loop and then the worker, never abandon it mid-run
	go func() {
		time.Sleep(30 * time.Millisecond)
		close(runner.gate)
	}()
	env.scheduler.Stop()

	assert.Empty(t, env.scheduler.RunningTasks())
	assert.Equal(t, models.TaskStatusCompleted, taskStatus(t, env, "draining"))
}

func TestCancelQueuedTaskHasNoAccountSideEffects(t *testing.T) {
	runner := &stubRunner{
		outcome: func(*models.Task) worker.Outcome { return worker.Outcome{Kind: worker.OutcomeCompleted} },
	}
	env := newTestEnv(t, runner, 1)
	queueTask(t, env, "queued", 0, time.Now())

	require.NoError(t, env.scheduler.CancelTask(context.Background(), "queued"))

	assert.Equal(t, models.TaskStatusCancelled, taskStatus(t, env, "queued"))
	account, err := env.accounts.GetAccount(context.Background(), "acct-0")
	require.NoError(t, err)
	assert.False(t, account.InUse)
	assert.Equal(t, 0, account.UsageTotal)
	assert.Empty(t, runner.launchOrder())
}

func TestCancelRunningTaskReleasesAccount(t *testing.T) {
	runner := &stubRunner{
		gate:    make(chan struct{}),
		outcome: func(*models.Task) worker.Outcome { return worker.Outcome{Kind: worker.OutcomeCompleted} },
	}
	env := newTestEnv(t, runner, 1)
	queueTask(t, env, "running", 0, time.Now())

	env.scheduler.tick(context.Background())
	require.Eventually(t, func() bool {
		return len(env.scheduler.RunningTasks()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, env.scheduler.CancelTask(context.Background(), "running"))

	waitForStatus(t, env, "running", models.TaskStatusCancelled)
	require.Eventually(t, func() bool {
		account, err := env.accounts.GetAccount(context.Background(), "acct-0")
		return err == nil && !account.InUse
	}, 2*time.Second, 10*time.Millisecond, "account never released after cancellation")
}

func TestRetryBudgetExhaustionFailsTask(t *testing.T) {
	runner := &stubRunner{
		outcome: func(task *models.Task) worker.Outcome {
			return worker.Outcome{
				Kind: worker.OutcomeRetryable,
				Failure: &worker.StepError{
					Step:  "submit",
					Class: worker.FailureRetryable,
					Err:   errors.New("send control never appeared"),
				},
			}
		},
	}
	env := newTestEnv(t, runner, 1)
	queueTask(t, env, "flaky", 0, time.Now())

	// MaxRetries is 2: the second failed attempt exhausts the budget
	for attempt := 0; attempt < 2; attempt++ {
		env.scheduler.tick(context.Background())
		require.Eventually(t, func() bool {
			return len(env.scheduler.RunningTasks()) == 0 &&
				len(runner.launchOrder()) == attempt+1
		}, 2*time.Second, 10*time.Millisecond)
	}

	task, err := env.tasks.GetTask(context.Background(), "flaky")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, task.Status)
	assert.Equal(t, 2, task.RetryCount)
	assert.Contains(t, task.LastError, "Transient:")

	// Once the budget is spent the task is never queued again
	env.scheduler.tick(context.Background())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, len(runner.launchOrder()))
}

func TestRateLimitOutcomeCoolsAccountAndRequeues(t *testing.T) {
	runner := &stubRunner{
		outcome: func(*models.Task) worker.Outcome {
			return worker.Outcome{
				Kind: worker.OutcomeRateLimited,
				Failure: &worker.StepError{
					Step:  "await_completion",
					Class: worker.FailureRateLimit,
					Err:   errors.New("too many requests banner"),
				},
			}
		},
	}
	env := newTestEnv(t, runner, 1)
	queueTask(t, env, "throttled", 0, time.Now())

	env.scheduler.tick(context.Background())
	// Queued is also the initial state, so wait on the finalize effects
	// instead of the status
	require.Eventually(t, func() bool {
		return len(runner.launchOrder()) == 1 &&
			len(env.scheduler.RunningTasks()) == 0
	}, 3*time.Second, 10*time.Millisecond)

	task, err := env.tasks.GetTask(context.Background(), "throttled")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusQueued, task.Status)
	assert.Equal(t, 1, task.RetryCount)
	assert.Contains(t, task.LastError, "RateLimit:")

	account, err := env.accounts.GetAccount(context.Background(), "acct-0")
	require.NoError(t, err)
	assert.False(t, account.InUse)
	require.NotNil(t, account.RateLimitedUntil)
	assert.True(t, account.RateLimitedUntil.After(time.Now().Add(50*time.Minute)))

	// The only account is cooling down, so the requeued task stays put
	env.scheduler.tick(context.Background())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, len(runner.launchOrder()))
}

func TestTerminalOutcomeDoesNotBlameAccount(t *testing.T) {
	runner := &stubRunner{
		outcome: func(*models.Task) worker.Outcome {
			return worker.Outcome{
				Kind: worker.OutcomeTerminal,
				Failure: &worker.StepError{
					Step:  "extract",
					Class: worker.FailureParse,
					Err:   errors.New("payload unparseable after repair"),
				},
			}
		},
	}
	env := newTestEnv(t, runner, 1)
	queueTask(t, env, "broken", 0, time.Now())

	env.scheduler.tick(context.Background())
	waitForStatus(t, env, "broken", models.TaskStatusFailed)

	task, err := env.tasks.GetTask(context.Background(), "broken")
	require.NoError(t, err)
	assert.Contains(t, task.LastError, "Parse:")

	account, err := env.accounts.GetAccount(context.Background(), "acct-0")
	require.NoError(t, err)
	assert.False(t, account.InUse)
	assert.Empty(t, account.LastError)
	assert.Nil(t, account.RateLimitedUntil)
}

func TestProcessingGateBlocksDispatch(t *testing.T) {
	runner := &stubRunner{
		outcome: func(*models.Task) worker.Outcome { return worker.Outcome{Kind: worker.OutcomeCompleted} },
	}
	env := newTestEnv(t, runner, 1)
	queueTask(t, env, "gated", 0, time.Now())

	require.NoError(t, env.scheduler.SetProcessing(context.Background(), false))
	env.scheduler.tick(context.Background())
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, runner.launchOrder())
	assert.Equal(t, models.TaskStatusQueued, taskStatus(t, env, "gated"))

	require.NoError(t, env.scheduler.SetProcessing(context.Background(), true))
	env.scheduler.tick(context.Background())
	waitForStatus(t, env, "gated", models.TaskStatusCompleted)
}

func TestMaintenanceRequeuesStuckTasks(t *testing.T) {
	runner := &stubRunner{
		outcome: func(*models.Task) worker.Outcome { return worker.Outcome{Kind: worker.OutcomeCompleted} },
	}
	env := newTestEnv(t, runner, 1)

	stale := time.Now().Add(-time.Hour)
	require.NoError(t, env.tasks.SaveTask(context.Background(), &models.Task{
		ID:                "stuck",
		EntityType:        models.EntityTypeStock,
		EntityID:          "stuck",
		EntityName:        "Entity stuck",
		PromptText:        "prompt",
		Status:            models.TaskStatusProcessing,
		AssignedAccountID: "acct-0",
		MaxRetries:        2,
		CreatedAt:         stale,
		StartedAt:         &stale,
	}))
	claimed, err := env.accounts.ClaimAccount(context.Background(), "acct-0", stale)
	require.NoError(t, err)
	require.True(t, claimed)

	requeued := env.scheduler.requeueStuckTasks(context.Background(), time.Now())
	assert.Equal(t, 1, requeued)

	task, err := env.tasks.GetTask(context.Background(), "stuck")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusQueued, task.Status)
	assert.Empty(t, task.AssignedAccountID)

	account, err := env.accounts.GetAccount(context.Background(), "acct-0")
	require.NoError(t, err)
	assert.False(t, account.InUse)

	// A fresh processing task is left alone
	now := time.Now()
	require.NoError(t, env.tasks.SaveTask(context.Background(), &models.Task{
		ID:         "fresh",
		EntityType: models.EntityTypeStock,
		EntityID:   "fresh",
		EntityName: "Entity fresh",
		PromptText: "prompt",
		Status:     models.TaskStatusProcessing,
		MaxRetries: 2,
		CreatedAt:  now,
		StartedAt:  &now,
	}))
	assert.Equal(t, 0, env.scheduler.requeueStuckTasks(context.Background(), time.Now()))
}

func TestEnqueueTaskValidatesAndDefaults(t *testing.T) {
	runner := &stubRunner{
		outcome: func(*models.Task) worker.Outcome { return worker.Outcome{Kind: worker.OutcomeCompleted} },
	}
	env := newTestEnv(t, runner, 0)

	task := &models.Task{
		EntityType: models.EntityTypeIndustry,
		EntityID:   "semJP",
		EntityName: "Semiconductors (Japan)",
		PromptText: "build the graph",
	}
	require.NoError(t, env.scheduler.EnqueueTask(context.Background(), task))
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, 2, task.MaxRetries)
	assert.Equal(t, models.TaskStatusQueued, task.Status)

	err := env.scheduler.EnqueueTask(context.Background(), &models.Task{
		EntityType: "country",
		EntityID:   "jp",
		EntityName: "Japan",
		PromptText: "prompt",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid task")
}
