package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/noctua/internal/interfaces"
	"github.com/ternarybob/noctua/internal/models"
	"github.com/ternarybob/noctua/internal/services/events"
	"github.com/ternarybob/noctua/internal/services/worker"
)

// failureCategories maps worker failure classes onto the operator-facing
// category prefix used in Task.LastError.
var failureCategories = map[worker.FailureClass]string{
	worker.FailureRetryable:   "Transient",
	worker.FailureRateLimit:   "RateLimit",
	worker.FailureUnsupported: "Unsupported",
	worker.FailureParse:       "Parse",
}

// finalize applies a worker outcome: task transition, account release,
// cooldowns, events. Runs on a fresh context because the task context may
// already be cancelled.
func (s *Service) finalize(ctx context.Context, task *models.Task, account *models.Account, outcome worker.Outcome) {
	corr := events.Correlation{TaskID: task.ID, AccountID: account.ID, EntityID: task.EntityID}

	switch outcome.Kind {
	case worker.OutcomeCompleted:
		s.transition(ctx, task, models.TaskStatusCompleted, "")
		s.releaseAccount(ctx, account.ID, true, "")
		s.publish(interfaces.EventTaskCompleted, task, account.ID)
		s.recorder.Success(ctx, fmt.Sprintf("Extraction for %s completed, record %s", task.EntityName, outcome.RecordID), corr)

	case worker.OutcomeCancelled:
		s.transition(ctx, task, models.TaskStatusCancelled, "")
		// No blame on the account for an operator cancellation
		s.releaseAccount(ctx, account.ID, true, "")
		s.publish(interfaces.EventTaskCancelled, task, account.ID)
		s.recorder.Info(ctx, fmt.Sprintf("Extraction for %s cancelled", task.EntityName), corr)

	case worker.OutcomeRateLimited:
		lastError := formatLastError(outcome.Failure)
		until, err := s.pool.Cooldown(ctx, account.ID, time.Now())
		if err != nil {
			s.logger.Error().Err(err).Str("account_id", account.ID).Msg("Failed to cool account down")
		} else {
			s.publishAccountCooled(ctx, account.ID, until)
			s.recorder.Warning(ctx, fmt.Sprintf("Account %s rate limited, cooling down until %s", account.DisplayName, until.Format(time.RFC3339)), corr)
		}
		s.releaseAccount(ctx, account.ID, false, lastError)
		s.requeueOrFail(ctx, task, account.ID, lastError, corr)

	case worker.OutcomeRetryable:
		lastError := formatLastError(outcome.Failure)
		s.releaseAccount(ctx, account.ID, false, lastError)
		s.requeueOrFail(ctx, task, account.ID, lastError, corr)

	case worker.OutcomeTerminal:
		lastError := formatLastError(outcome.Failure)
		// Unsupported flows and parse failures are not the account's fault
		s.releaseAccount(ctx, account.ID, true, "")
		s.transition(ctx, task, models.TaskStatusFailed, lastError)
		s.publish(interfaces.EventTaskFailed, task, account.ID)
		s.recorder.Error(ctx, fmt.Sprintf("Extraction for %s failed permanently: %s", task.EntityName, lastError), corr, failureDiagnostics(outcome.Failure))

	default:
		s.logger.Error().Str("task_id", task.ID).Str("kind", string(outcome.Kind)).Msg("Unknown worker outcome")
		s.releaseAccount(ctx, account.ID, false, "unknown outcome")
		s.requeueOrFail(ctx, task, account.ID, "Transient: unknown worker outcome", corr)
	}
}

// requeueOrFail burns one retry and either puts the task back in the
// queue or fails it when the budget is spent. A task whose RetryCount
// has reached MaxRetries is never queued again.
func (s *Service) requeueOrFail(ctx context.Context, task *models.Task, accountID, lastError string, corr events.Correlation) {
	task.RetryCount++
	if task.CanRetry() {
		task.AssignedAccountID = ""
		task.StartedAt = nil
		s.transition(ctx, task, models.TaskStatusQueued, lastError)
		s.publish(interfaces.EventTaskRequeued, task, accountID)
		s.recorder.Warning(ctx, fmt.Sprintf("Extraction for %s requeued (attempt %d/%d): %s", task.EntityName, task.RetryCount, task.MaxRetries, lastError), corr)
		return
	}

	s.transition(ctx, task, models.TaskStatusFailed, lastError)
	s.publish(interfaces.EventTaskFailed, task, accountID)
	s.recorder.Error(ctx, fmt.Sprintf("Extraction for %s failed after %d retries: %s", task.EntityName, task.RetryCount, lastError), corr, nil)
}

// transition persists the task's new state, tolerating a record deleted
// out from under a running worker by ForceDeleteTask.
func (s *Service) transition(ctx context.Context, task *models.Task, status models.TaskStatus, lastError string) {
	if _, err := s.tasks.GetTask(ctx, task.ID); err != nil {
		s.logger.Debug().Str("task_id", task.ID).Msg("Task removed while running, skipping transition")
		return
	}

	task.Status = status
	task.LastError = lastError
	now := time.Now()
	switch status {
	case models.TaskStatusCompleted, models.TaskStatusFailed, models.TaskStatusCancelled:
		task.CompletedAt = &now
	case models.TaskStatusQueued:
		task.CompletedAt = nil
	}

	if err := s.tasks.SaveTask(ctx, task); err != nil {
		s.logger.Error().Err(err).Str("task_id", task.ID).Str("status", string(status)).Msg("Failed to persist task transition")
	}
}

func (s *Service) releaseAccount(ctx context.Context, accountID string, success bool, failureMsg string) {
	if err := s.pool.Release(ctx, accountID, success, failureMsg); err != nil {
		s.logger.Error().Err(err).Str("account_id", accountID).Msg("Failed to release account")
	}
}

func (s *Service) publishAccountCooled(ctx context.Context, accountID string, until time.Time) {
	if err := s.bus.Publish(ctx, interfaces.Event{
		Type: interfaces.EventAccountCooled,
		Payload: map[string]interface{}{
			"account_id":         accountID,
			"rate_limited_until": until.Format(time.RFC3339),
		},
	}); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to publish cooldown event")
	}
}

// formatLastError renders "Category: description" for operators.
func formatLastError(failure *worker.StepError) string {
	if failure == nil {
		return "Transient: unspecified failure"
	}
	category, ok := failureCategories[failure.Class]
	if !ok {
		category = "Transient"
	}
	return fmt.Sprintf("%s: %s failed: %v", category, failure.Step, failure.Err)
}

func failureDiagnostics(failure *worker.StepError) map[string]string {
	if failure == nil {
		return nil
	}
	return failure.Diagnostics
}
