package scheduler

import (
	"context"
	"time"

	"github.com/ternarybob/noctua/internal/interfaces"
	"github.com/ternarybob/noctua/internal/models"
)

// runMaintenance is the periodic administrative sweep: expired cooldowns
// are cleared eagerly and processing tasks abandoned by a crashed or
// killed worker are put back in the queue.
func (s *Service) runMaintenance() {
	ctx := context.Background()
	now := time.Now()

	swept, err := s.pool.SweepExpiredCooldowns(ctx, now)
	if err != nil {
		s.logger.Error().Err(err).Msg("Cooldown sweep failed")
	} else if swept > 0 {
		s.logger.Info().Int("accounts", swept).Msg("Cleared expired cooldowns")
	}

	requeued := s.requeueStuckTasks(ctx, now)
	if swept > 0 || requeued > 0 {
		if err := s.bus.Publish(ctx, interfaces.Event{
			Type: interfaces.EventSchedulerState,
			Payload: map[string]interface{}{
				"cooldowns_swept": swept,
				"tasks_requeued":  requeued,
			},
		}); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to publish maintenance event")
		}
	}
}

// requeueStuckTasks recovers processing tasks with no live worker whose
// StartedAt is past the stuck threshold. Tasks held by a running worker
// are never touched regardless of age.
func (s *Service) requeueStuckTasks(ctx context.Context, now time.Time) int {
	threshold := s.config.StuckTaskThresholdDuration()

	processing, err := s.tasks.ListTasks(ctx, models.TaskStatusProcessing, 0)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list processing tasks")
		return 0
	}

	s.mu.Lock()
	live := make(map[string]bool, len(s.running))
	for id := range s.running {
		live[id] = true
	}
	s.mu.Unlock()

	requeued := 0
	for _, task := range processing {
		if live[task.ID] {
			continue
		}
		if task.StartedAt == nil || now.Sub(*task.StartedAt) < threshold {
			continue
		}

		accountID := task.AssignedAccountID
		task.AssignedAccountID = ""
		task.StartedAt = nil
		s.transition(ctx, task, models.TaskStatusQueued, "Transient: worker lost, requeued by maintenance sweep")
		s.publish(interfaces.EventTaskRequeued, task, accountID)
		if accountID != "" {
			// The dead worker never released its claim
			s.releaseAccount(ctx, accountID, false, "worker lost")
		}
		s.logger.Warn().Str("task_id", task.ID).Str("entity", task.EntityName).Msg("Requeued stuck processing task")
		requeued++
	}
	return requeued
}
