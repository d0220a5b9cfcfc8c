package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/filingwatch/internal/interfaces"
	"github.com/ternarybob/filingwatch/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// QuotaStorage implements the QuotaStorage interface for Badger.
// The quota is a single row under models.QuotaStateKey.
type QuotaStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	mu     sync.Mutex // serialises read-modify-write of the singleton row within this process
}

// NewQuotaStorage creates a new QuotaStorage instance
func NewQuotaStorage(db *BadgerDB, logger arbor.ILogger) interfaces.QuotaStorage {
	return &QuotaStorage{
		db:     db,
		logger: logger,
	}
}

// GetQuotaState returns the stored quota row, or a zero row when none exists yet
func (s *QuotaStorage) GetQuotaState(ctx context.Context) (*models.QuotaState, error) {
	var state models.QuotaState
	err := s.db.Store().Get(models.QuotaStateKey, &state)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return &models.QuotaState{ID: models.QuotaStateKey}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get quota state: %w", err)
	}
	return &state, nil
}

// AddUsage applies the lazy daily reset and adds n in one transaction
func (s *QuotaStorage) AddUsage(ctx context.Context, today string, n int) (*models.QuotaState, error) {
	if today == "" {
		return nil, fmt.Errorf("quota date is required")
	}
	if n < 0 {
		return nil, fmt.Errorf("quota usage cannot be negative: %d", n)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var result models.QuotaState
	err := s.db.Update(func(tx *badger.Txn) error {
		var state models.QuotaState
		err := s.db.Store().TxGet(tx, models.QuotaStateKey, &state)
		if err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
			return err
		}

		if errors.Is(err, badgerhold.ErrNotFound) || state.CurrentDate != today {
			state = models.QuotaState{ID: models.QuotaStateKey, CurrentDate: today}
		}
		state.RequestCount += n
		state.UpdatedAt = time.Now()

		result = state
		return s.db.Store().TxUpsert(tx, models.QuotaStateKey, state)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record quota usage: %w", err)
	}

	s.logger.Debug().
		Str("date", result.CurrentDate).
		Int("added", n).
		Int("count", result.RequestCount).
		Msg("BadgerDB: quota usage recorded")
	return &result, nil
}
