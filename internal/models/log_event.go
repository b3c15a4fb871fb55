package models

import (
	"time"
)

// LogLevel for persisted log events
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelSuccess LogLevel = "success"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// LogEvent is one entry in the append-only audit trail. Events are
// observability only, never authoritative state.
//
// Common Context keys:
//   - task_id: task that generated this event
//   - account_id: account in use at the time
//   - entity_id: entity being extracted
//   - step: worker step name ("inject_prompt", "await_generation", ...)
type LogEvent struct {
	ID        string   `json:"id"`
	Level     LogLevel `json:"level" badgerhold:"index"`
	Message   string   `json:"message"`
	TaskID    string   `json:"task_id,omitempty" badgerhold:"index"`
	AccountID string   `json:"account_id,omitempty" badgerhold:"index"`
	EntityID  string   `json:"entity_id,omitempty"`
	// Context stores additional metadata as key-value pairs
	Context   map[string]string `json:"context,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	// Sequence is a global counter for stable ordering when timestamps
	// are identical
	Sequence uint64 `json:"sequence" badgerhold:"index"`
}

// GetContext safely retrieves a context value
func (e *LogEvent) GetContext(key string) string {
	if e.Context == nil {
		return ""
	}
	return e.Context[key]
}

// SetContext safely sets a context value (initializes map if needed)
func (e *LogEvent) SetContext(key, value string) {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	if value != "" {
		e.Context[key] = value
	}
}
