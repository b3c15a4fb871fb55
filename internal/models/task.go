package models

import (
	"time"
)

// TaskStatus represents the state of an extraction task
type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// EntityType identifies what kind of entity a task extracts a graph for
type EntityType string

const (
	EntityTypeStock    EntityType = "stock"
	EntityTypeIndustry EntityType = "industry"
)

// Task represents one request to extract a knowledge graph for one entity.
// Created by the caller, mutated only by the scheduler and its workers.
// A task is never deleted while processing without explicit cancellation.
type Task struct {
	ID         string     `json:"id"`
	EntityType EntityType `json:"entity_type" validate:"required,oneof=stock industry"`
	EntityID   string     `json:"entity_id" validate:"required"`
	EntityName string     `json:"entity_name" validate:"required"`
	// PromptText is the full prompt injected into the chat surface.
	// Large (tens of KB) - injection must not be throttled char-by-char.
	PromptText   string     `json:"prompt_text" validate:"required"`
	ModelVariant string     `json:"model_variant,omitempty"`
	Status       TaskStatus `json:"status" badgerhold:"index"`
	// AssignedAccountID is set while a worker holds an account for this task
	AssignedAccountID string `json:"assigned_account_id,omitempty"`
	RetryCount        int    `json:"retry_count"`
	MaxRetries        int    `json:"max_retries"`
	// Priority orders scheduling: higher first, ties broken by CreatedAt (FIFO)
	Priority    int        `json:"priority" badgerhold:"index"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// LastError holds a concise "Category: description" string for operators.
	// Only populated on failure paths.
	LastError string `json:"last_error,omitempty"`
}

// IsTerminal reports whether the task has reached a final state
func (t *Task) IsTerminal() bool {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// CanRetry reports whether the task has retry budget left
func (t *Task) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}
