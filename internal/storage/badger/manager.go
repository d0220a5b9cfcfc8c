package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/filingwatch/internal/common"
	"github.com/ternarybob/filingwatch/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db           *BadgerDB
	watermark    interfaces.WatermarkStorage
	queue        *QueueStorage
	quota        interfaces.QuotaStorage
	subscription interfaces.SubscriptionStorage
	logger       arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := newManagerWithDB(db, logger)

	logger.Info().Str("path", config.Path).Msg("Badger storage manager initialized")

	return manager, nil
}

func newManagerWithDB(db *BadgerDB, logger arbor.ILogger) *Manager {
	return &Manager{
		db:           db,
		watermark:    NewWatermarkStorage(db, logger),
		queue:        NewQueueStorage(db, logger),
		quota:        NewQuotaStorage(db, logger),
		subscription: NewSubscriptionStorage(db, logger),
		logger:       logger,
	}
}

// WatermarkStorage returns the Watermark storage interface
func (m *Manager) WatermarkStorage() interfaces.WatermarkStorage {
	return m.watermark
}

// QueueStorage returns the work queue storage interface
func (m *Manager) QueueStorage() interfaces.QueueStorage {
	return m.queue
}

// ArchiveStorage returns the archive storage interface.
// Archive rows are written only through QueueStorage.ArchiveAndRemove, so both share one implementation.
func (m *Manager) ArchiveStorage() interfaces.ArchiveStorage {
	return m.queue
}

// QuotaStorage returns the Quota storage interface
func (m *Manager) QuotaStorage() interfaces.QuotaStorage {
	return m.quota
}

// SubscriptionStorage returns the Subscription storage interface
func (m *Manager) SubscriptionStorage() interfaces.SubscriptionStorage {
	return m.subscription
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

var _ interfaces.StorageManager = (*Manager)(nil)
