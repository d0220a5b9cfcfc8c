package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/filingwatch/internal/interfaces"
	"github.com/ternarybob/filingwatch/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// WatermarkStorage implements the WatermarkStorage interface for Badger
type WatermarkStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewWatermarkStorage creates a new WatermarkStorage instance
func NewWatermarkStorage(db *BadgerDB, logger arbor.ILogger) interfaces.WatermarkStorage {
	return &WatermarkStorage{
		db:     db,
		logger: logger,
	}
}

// GetWatermark returns the watermark of an identifier, or nil when it has never been discovered
func (s *WatermarkStorage) GetWatermark(ctx context.Context, identifier string) (*models.Watermark, error) {
	var watermark models.Watermark
	err := s.db.Store().Get(identifier, &watermark)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get watermark: %w", err)
	}
	return &watermark, nil
}

// SaveWatermark stores the watermark, replacing any previous value
func (s *WatermarkStorage) SaveWatermark(ctx context.Context, watermark *models.Watermark) error {
	if watermark == nil || watermark.Identifier == "" {
		return fmt.Errorf("watermark identifier is required")
	}
	if err := s.db.Store().Upsert(watermark.Identifier, *watermark); err != nil {
		return fmt.Errorf("failed to save watermark: %w", err)
	}

	s.logger.Trace().
		Str("identifier", watermark.Identifier).
		Str("filing_ref", watermark.LastFilingRef).
		Msg("BadgerDB: watermark saved")
	return nil
}

// ListWatermarks returns every stored watermark
func (s *WatermarkStorage) ListWatermarks(ctx context.Context) ([]*models.Watermark, error) {
	var watermarks []models.Watermark
	if err := s.db.Store().Find(&watermarks, badgerhold.Where("Identifier").Ne("").SortBy("Identifier")); err != nil {
		return nil, fmt.Errorf("failed to list watermarks: %w", err)
	}

	result := make([]*models.Watermark, len(watermarks))
	for i := range watermarks {
		result[i] = &watermarks[i]
	}
	return result, nil
}
