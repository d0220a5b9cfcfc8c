package interfaces

import (
	"context"

	"github.com/ternarybob/filingwatch/internal/models"
)

// FilingSource lists an identifier's recent filings, newest first
type FilingSource interface {
	RecentFilings(ctx context.Context, identifier string) ([]models.Filing, error)
}

// Extractor pulls structured content out of one filing
type Extractor interface {
	Extract(ctx context.Context, identifier string, filingType models.FilingType, sourceLocation string) (*models.ExtractedContent, error)
}

// CIKResolver maps tickers to SEC central index keys
type CIKResolver interface {
	// Lookup returns the zero-padded CIK and the registrant title
	Lookup(ctx context.Context, ticker string) (cik string, title string, err error)
	Refresh(ctx context.Context) error
}
