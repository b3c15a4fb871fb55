package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noctua/internal/common"
	"github.com/ternarybob/noctua/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db      *BadgerDB
	task    interfaces.TaskStorage
	account interfaces.AccountStorage
	graph   interfaces.GraphStorage
	log     interfaces.LogStorage
	kv      interfaces.KeyValueStorage
	logger  arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:      db,
		task:    NewTaskStorage(db, logger),
		account: NewAccountStorage(db, logger),
		graph:   NewGraphStorage(db, logger),
		log:     NewLogStorage(db, logger),
		kv:      NewKVStorage(db, logger),
		logger:  logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// TaskStorage returns the Task storage interface
func (m *Manager) TaskStorage() interfaces.TaskStorage {
	return m.task
}

// AccountStorage returns the Account storage interface
func (m *Manager) AccountStorage() interfaces.AccountStorage {
	return m.account
}

// GraphStorage returns the GraphRecord storage interface
func (m *Manager) GraphStorage() interfaces.GraphStorage {
	return m.graph
}

// LogStorage returns the LogEvent storage interface
func (m *Manager) LogStorage() interfaces.LogStorage {
	return m.log
}

// KeyValueStorage returns the KeyValue storage interface
func (m *Manager) KeyValueStorage() interfaces.KeyValueStorage {
	return m.kv
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
