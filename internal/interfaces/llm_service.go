package interfaces

import (
	"context"

	"github.com/ternarybob/filingwatch/internal/models"
)

// Message represents a single message in a provider conversation
type Message struct {
	// Role identifies the message sender: "user", "assistant", or "system"
	Role string

	// Content contains the text content of the message
	Content string
}

// Analyzer produces the five-field analysis for a filing.
// Implementations call an external model; they must return models.ErrUnsupportedFilingType
// for unknown types and models.ErrMalformedAnalysis / ErrEmptyAnalysis for unusable output.
type Analyzer interface {
	Analyze(ctx context.Context, identifier string, filingType models.FilingType, content *models.ExtractedContent) (*models.Analysis, error)

	// Condense asks for a shorter version of an existing analysis, same shape
	Condense(ctx context.Context, analysis *models.Analysis) (*models.Analysis, error)
}
