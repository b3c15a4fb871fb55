package interfaces

import (
	"context"

	"github.com/ternarybob/noctua/internal/models"
)

// EventType identifies a published event
type EventType string

const (
	EventTaskQueued     EventType = "task_queued"
	EventTaskStarted    EventType = "task_started"
	EventTaskCompleted  EventType = "task_completed"
	EventTaskRequeued   EventType = "task_requeued"
	EventTaskFailed     EventType = "task_failed"
	EventTaskCancelled  EventType = "task_cancelled"
	EventAccountCooled  EventType = "account_cooled"
	EventAccountsReset  EventType = "accounts_reset"
	EventLogEntry       EventType = "log_entry"
	EventSchedulerState EventType = "scheduler_state"
)

// Event carries a typed payload to subscribers
type Event struct {
	Type EventType
	// LogEvent is set for EventLogEntry; other types use Payload
	LogEvent *models.LogEvent
	Payload  map[string]interface{}
}

// EventHandler processes one event
type EventHandler func(ctx context.Context, event Event) error

// EventService is the in-process pub/sub bus feeding the observability
// stream
type EventService interface {
	Subscribe(eventType EventType, handler EventHandler) error
	Publish(ctx context.Context, event Event) error
	PublishSync(ctx context.Context, event Event) error
}
