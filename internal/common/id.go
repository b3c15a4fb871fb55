package common

import (
	"github.com/google/uuid"
)

// NewTaskID generates a unique task ID with the "task_" prefix
func NewTaskID() string {
	return "task_" + uuid.New().String()
}

// NewAccountID generates a unique account ID with the "acc_" prefix
func NewAccountID() string {
	return "acc_" + uuid.New().String()
}

// NewGraphRecordID generates a unique graph record ID with the "kg_" prefix
func NewGraphRecordID() string {
	return "kg_" + uuid.New().String()
}

// NewLogEventID generates a unique log event ID with the "log_" prefix
func NewLogEventID() string {
	return "log_" + uuid.New().String()
}
