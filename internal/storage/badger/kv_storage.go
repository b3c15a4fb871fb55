package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noctua/internal/interfaces"
	"github.com/timshannon/badgerhold/v4"
)

// kvEntry is the stored representation of one runtime flag.
type kvEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// KVStorage implements the KeyValueStorage interface for Badger. It
// holds runtime flags that must survive restarts, like the processing
// toggle and the rotation strategy.
type KVStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewKVStorage creates a new KVStorage instance
func NewKVStorage(db *BadgerDB, logger arbor.ILogger) interfaces.KeyValueStorage {
	return &KVStorage{
		db:     db,
		logger: logger,
	}
}

func (s *KVStorage) Get(ctx context.Context, key string) (string, error) {
	var entry kvEntry
	if err := s.db.Store().Get("kv:"+key, &entry); err != nil {
		if err == badgerhold.ErrNotFound {
			return "", nil
		}
		return "", fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return entry.Value, nil
}

func (s *KVStorage) Set(ctx context.Context, key, value string) error {
	entry := kvEntry{Key: key, Value: value}
	if err := s.db.Store().Upsert("kv:"+key, &entry); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	s.logger.Debug().Str("key", key).Str("value", value).Msg("Runtime flag updated")
	return nil
}

// GetBool reads a boolean flag, returning fallback when the key is
// missing or unparseable.
func (s *KVStorage) GetBool(ctx context.Context, key string, fallback bool) bool {
	value, err := s.Get(ctx, key)
	if err != nil || value == "" {
		return fallback
	}
	switch value {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return fallback
	}
}
