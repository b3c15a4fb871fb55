package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/noctua/internal/models"
)

// TaskStorage persists extraction tasks
type TaskStorage interface {
	SaveTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, taskID string) (*models.Task, error)
	// PendingTasks returns up to limit queued tasks ordered by priority
	// descending, then creation time ascending (fair FIFO within a band).
	PendingTasks(ctx context.Context, limit int) ([]*models.Task, error)
	ListTasks(ctx context.Context, status models.TaskStatus, limit int) ([]*models.Task, error)
	UpdateTaskStatus(ctx context.Context, taskID string, status models.TaskStatus, lastError string) error
	DeleteTask(ctx context.Context, taskID string) error
	CountTasksByStatus(ctx context.Context, status models.TaskStatus) (int, error)
}

// AccountStorage persists accounts and serializes the claim step.
type AccountStorage interface {
	SaveAccount(ctx context.Context, account *models.Account) error
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]*models.Account, error)
	// AvailableAccounts returns accounts that are active, not in use, and
	// not cooling down at the given instant.
	AvailableAccounts(ctx context.Context, now time.Time) ([]*models.Account, error)
	// ClaimAccount atomically marks the account in-use. The availability
	// check and the flag write happen under one lock so two schedulers
	// rounds can never double-book an account. Returns false when the
	// account was not claimable.
	ClaimAccount(ctx context.Context, accountID string, now time.Time) (bool, error)
	// ReleaseAccount clears the in-use flag. Idempotent.
	ReleaseAccount(ctx context.Context, accountID string) error
	// ResetAllAccounts forces every account to active/not-in-use/no
	// cooldown. Operational escape hatch, idempotent, safe anytime.
	ResetAllAccounts(ctx context.Context) (int, error)
}

// GraphStorage persists extracted knowledge-graph records (append-only)
type GraphStorage interface {
	SaveRecord(ctx context.Context, record *models.GraphRecord) error
	GetRecord(ctx context.Context, recordID string) (*models.GraphRecord, error)
	ListRecordsByEntity(ctx context.Context, entityType models.EntityType, entityID string) ([]*models.GraphRecord, error)
	CountRecords(ctx context.Context) (int, error)
}

// LogStorage persists the append-only audit trail
type LogStorage interface {
	AppendEvent(ctx context.Context, event *models.LogEvent) error
	EventsForTask(ctx context.Context, taskID string, limit int) ([]*models.LogEvent, error)
	RecentEvents(ctx context.Context, limit int) ([]*models.LogEvent, error)
}

// KeyValueStorage holds runtime config flags (processing toggle,
// rotation strategy) persisted across restarts.
type KeyValueStorage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	GetBool(ctx context.Context, key string, fallback bool) bool
}

// StorageManager aggregates the storage interfaces over one database
type StorageManager interface {
	TaskStorage() TaskStorage
	AccountStorage() AccountStorage
	GraphStorage() GraphStorage
	LogStorage() LogStorage
	KeyValueStorage() KeyValueStorage
	Close() error
}
