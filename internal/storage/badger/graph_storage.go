package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noctua/internal/interfaces"
	"github.com/ternarybob/noctua/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// GraphStorage implements the GraphStorage interface for Badger.
// Records are append-only, so there is no update or delete path.
type GraphStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewGraphStorage creates a new GraphStorage instance
func NewGraphStorage(db *BadgerDB, logger arbor.ILogger) interfaces.GraphStorage {
	return &GraphStorage{
		db:     db,
		logger: logger,
	}
}

func (s *GraphStorage) SaveRecord(ctx context.Context, record *models.GraphRecord) error {
	if record.ID == "" {
		return fmt.Errorf("graph record ID is required")
	}
	if len(record.RawJSON) == 0 {
		return fmt.Errorf("graph record payload is empty")
	}
	if err := s.db.Store().Insert(record.ID, record); err != nil {
		return fmt.Errorf("failed to save graph record: %w", err)
	}
	s.logger.Debug().
		Str("record_id", record.ID).
		Str("entity_id", record.EntityID).
		Int("payload_bytes", len(record.RawJSON)).
		Msg("Graph record stored")
	return nil
}

func (s *GraphStorage) GetRecord(ctx context.Context, recordID string) (*models.GraphRecord, error) {
	var record models.GraphRecord
	if err := s.db.Store().Get(recordID, &record); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("graph record not found: %s", recordID)
		}
		return nil, fmt.Errorf("failed to get graph record: %w", err)
	}
	return &record, nil
}

// ListRecordsByEntity returns every stored extraction for an entity,
// oldest first. Multiple records per entity are expected: each run
// appends rather than replaces.
func (s *GraphStorage) ListRecordsByEntity(ctx context.Context, entityType models.EntityType, entityID string) ([]*models.GraphRecord, error) {
	var records []models.GraphRecord
	query := badgerhold.Where("EntityType").Eq(entityType).And("EntityID").Eq(entityID).SortBy("ExtractedAt")
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list graph records: %w", err)
	}

	result := make([]*models.GraphRecord, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}

func (s *GraphStorage) CountRecords(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.GraphRecord{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count graph records: %w", err)
	}
	return int(count), nil
}
