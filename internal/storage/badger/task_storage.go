package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noctua/internal/interfaces"
	"github.com/ternarybob/noctua/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// TaskStorage implements the TaskStorage interface for Badger
type TaskStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewTaskStorage creates a new TaskStorage instance
func NewTaskStorage(db *BadgerDB, logger arbor.ILogger) interfaces.TaskStorage {
	return &TaskStorage{
		db:     db,
		logger: logger,
	}
}

func (s *TaskStorage) SaveTask(ctx context.Context, task *models.Task) error {
	if task.ID == "" {
		return fmt.Errorf("task ID is required")
	}
	if err := s.db.Store().Upsert(task.ID, task); err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return nil
}

func (s *TaskStorage) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	var task models.Task
	if err := s.db.Store().Get(taskID, &task); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("task not found: %s", taskID)
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &task, nil
}

// PendingTasks returns queued tasks ordered by priority descending, then
// creation time ascending. BadgerHold cannot sort two fields in opposite
// directions, so the ordering is applied in memory after the status query.
func (s *TaskStorage) PendingTasks(ctx context.Context, limit int) ([]*models.Task, error) {
	var tasks []models.Task
	if err := s.db.Store().Find(&tasks, badgerhold.Where("Status").Eq(models.TaskStatusQueued)); err != nil {
		return nil, fmt.Errorf("failed to query pending tasks: %w", err)
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority > tasks[j].Priority
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})

	if limit > 0 && len(tasks) > limit {
		tasks = tasks[:limit]
	}

	result := make([]*models.Task, len(tasks))
	for i := range tasks {
		result[i] = &tasks[i]
	}
	return result, nil
}

func (s *TaskStorage) ListTasks(ctx context.Context, status models.TaskStatus, limit int) ([]*models.Task, error) {
	query := badgerhold.Where("ID").Ne("")
	if status != "" {
		query = badgerhold.Where("Status").Eq(status)
	}
	query = query.SortBy("CreatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var tasks []models.Task
	if err := s.db.Store().Find(&tasks, query); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	result := make([]*models.Task, len(tasks))
	for i := range tasks {
		result[i] = &tasks[i]
	}
	return result, nil
}

func (s *TaskStorage) UpdateTaskStatus(ctx context.Context, taskID string, status models.TaskStatus, lastError string) error {
	var task models.Task
	if err := s.db.Store().Get(taskID, &task); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("task not found: %s", taskID)
		}
		return err
	}

	task.Status = status
	if lastError != "" {
		task.LastError = lastError
	}

	now := time.Now()
	switch status {
	case models.TaskStatusProcessing:
		task.StartedAt = &now
	case models.TaskStatusCompleted, models.TaskStatusFailed, models.TaskStatusCancelled:
		task.CompletedAt = &now
	}

	return s.SaveTask(ctx, &task)
}

func (s *TaskStorage) DeleteTask(ctx context.Context, taskID string) error {
	if err := s.db.Store().Delete(taskID, &models.Task{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return err
	}
	return nil
}

func (s *TaskStorage) CountTasksByStatus(ctx context.Context, status models.TaskStatus) (int, error) {
	count, err := s.db.Store().Count(&models.Task{}, badgerhold.Where("Status").Eq(status))
	if err != nil {
		return 0, err
	}
	return int(count), nil
}
