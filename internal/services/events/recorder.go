package events

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noctua/internal/common"
	"github.com/ternarybob/noctua/internal/interfaces"
	"github.com/ternarybob/noctua/internal/models"
)

// Recorder is the one place task-lifecycle events become durable: each
// recorded event is appended to the audit trail and published on the bus
// for live subscribers. Persistence failures degrade to process logs,
// they never block the caller.
type Recorder struct {
	bus    interfaces.EventService
	logs   interfaces.LogStorage
	logger arbor.ILogger
}

// NewRecorder creates an event recorder over the bus and the audit store
func NewRecorder(bus interfaces.EventService, logs interfaces.LogStorage, logger arbor.ILogger) *Recorder {
	return &Recorder{
		bus:    bus,
		logs:   logs,
		logger: logger,
	}
}

// Correlation carries the ids an event should be queryable by.
type Correlation struct {
	TaskID    string
	AccountID string
	EntityID  string
}

// Record persists one audit event and publishes it live.
func (r *Recorder) Record(ctx context.Context, level models.LogLevel, message string, corr Correlation, context map[string]string) {
	event := &models.LogEvent{
		ID:        common.NewLogEventID(),
		Level:     level,
		Message:   message,
		TaskID:    corr.TaskID,
		AccountID: corr.AccountID,
		EntityID:  corr.EntityID,
		Context:   context,
		Timestamp: time.Now(),
	}

	if err := r.logs.AppendEvent(ctx, event); err != nil {
		r.logger.Warn().Err(err).Str("message", message).Msg("Failed to persist audit event")
	}

	if err := r.bus.Publish(ctx, interfaces.Event{
		Type:     interfaces.EventLogEntry,
		LogEvent: event,
	}); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to publish audit event")
	}
}

func (r *Recorder) Info(ctx context.Context, message string, corr Correlation) {
	r.Record(ctx, models.LogLevelInfo, message, corr, nil)
}

func (r *Recorder) Success(ctx context.Context, message string, corr Correlation) {
	r.Record(ctx, models.LogLevelSuccess, message, corr, nil)
}

func (r *Recorder) Warning(ctx context.Context, message string, corr Correlation) {
	r.Record(ctx, models.LogLevelWarning, message, corr, nil)
}

func (r *Recorder) Error(ctx context.Context, message string, corr Correlation, context map[string]string) {
	r.Record(ctx, models.LogLevelError, message, corr, context)
}
