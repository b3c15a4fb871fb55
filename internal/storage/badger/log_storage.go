package badger

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noctua/internal/interfaces"
	"github.com/ternarybob/noctua/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// LogStorage implements the LogStorage interface for Badger. The audit
// trail is append-only; a process-wide sequence counter gives events a
// stable total order even when timestamps collide.
type LogStorage struct {
	db       *BadgerDB
	logger   arbor.ILogger
	sequence atomic.Uint64
}

// NewLogStorage creates a new LogStorage instance
func NewLogStorage(db *BadgerDB, logger arbor.ILogger) interfaces.LogStorage {
	s := &LogStorage{
		db:     db,
		logger: logger,
	}
	s.seedSequence()
	return s
}

// seedSequence resumes the counter past any events persisted by a
// previous run so ordering stays monotonic across restarts.
func (s *LogStorage) seedSequence() {
	var events []models.LogEvent
	query := badgerhold.Where("Sequence").Ge(uint64(0)).SortBy("Sequence").Reverse().Limit(1)
	if err := s.db.Store().Find(&events, query); err != nil || len(events) == 0 {
		return
	}
	s.sequence.Store(events[0].Sequence)
}

func (s *LogStorage) AppendEvent(ctx context.Context, event *models.LogEvent) error {
	if event.ID == "" {
		return fmt.Errorf("log event ID is required")
	}
	event.Sequence = s.sequence.Add(1)
	if err := s.db.Store().Insert(event.ID, event); err != nil {
		return fmt.Errorf("failed to append log event: %w", err)
	}
	return nil
}

func (s *LogStorage) EventsForTask(ctx context.Context, taskID string, limit int) ([]*models.LogEvent, error) {
	var events []models.LogEvent
	query := badgerhold.Where("TaskID").Eq(taskID).SortBy("Sequence")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := s.db.Store().Find(&events, query); err != nil {
		return nil, fmt.Errorf("failed to query task events: %w", err)
	}

	result := make([]*models.LogEvent, len(events))
	for i := range events {
		result[i] = &events[i]
	}
	return result, nil
}

// RecentEvents returns the newest events first.
func (s *LogStorage) RecentEvents(ctx context.Context, limit int) ([]*models.LogEvent, error) {
	var events []models.LogEvent
	query := badgerhold.Where("Sequence").Ge(uint64(0)).SortBy("Sequence").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := s.db.Store().Find(&events, query); err != nil {
		return nil, fmt.Errorf("failed to query recent events: %w", err)
	}

	result := make([]*models.LogEvent, len(events))
	for i := range events {
		result[i] = &events[i]
	}
	return result, nil
}
