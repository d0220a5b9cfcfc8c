package analysis

import (
	"context"
	"errors"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/filingwatch/internal/interfaces"
	"github.com/ternarybob/filingwatch/internal/models"
	"github.com/ternarybob/filingwatch/internal/services/llm"
)

// ProviderError marks a failure that happened after the provider was called.
// Such attempts may have consumed provider quota.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string {
	return "analysis provider: " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsProviderError reports whether err came from a provider call
func IsProviderError(err error) bool {
	var providerErr *ProviderError
	return errors.As(err, &providerErr)
}

// LLMAnalyzer implements interfaces.Analyzer on top of an LLM provider
type LLMAnalyzer struct {
	generator llm.ContentGenerator
	builder   *Builder
	model     string
	logger    arbor.ILogger
}

// NewLLMAnalyzer creates an analyzer. An empty model uses the provider's default.
func NewLLMAnalyzer(generator llm.ContentGenerator, builder *Builder, model string, logger arbor.ILogger) *LLMAnalyzer {
	return &LLMAnalyzer{
		generator: generator,
		builder:   builder,
		model:     model,
		logger:    logger,
	}
}

// Analyze builds the per-type request, calls the provider and parses the five-field result
func (a *LLMAnalyzer) Analyze(ctx context.Context, identifier string, filingType models.FilingType, content *models.ExtractedContent) (*models.Analysis, error) {
	request, err := a.builder.Build(identifier, filingType, content)
	if err != nil {
		return nil, err
	}

	a.logger.Debug().
		Str("identifier", identifier).
		Str("filing_type", string(filingType)).
		Int("prompt_chars", len(request.Prompt)).
		Msg("Requesting analysis")

	return a.generate(ctx, request)
}

// Condense asks the provider for a shorter version of an existing analysis
func (a *LLMAnalyzer) Condense(ctx context.Context, analysis *models.Analysis) (*models.Analysis, error) {
	request, err := a.builder.BuildCondense(analysis)
	if err != nil {
		return nil, err
	}
	return a.generate(ctx, request)
}

func (a *LLMAnalyzer) generate(ctx context.Context, request *Request) (*models.Analysis, error) {
	resp, err := a.generator.GenerateContent(ctx, &llm.ContentRequest{
		Messages: []interfaces.Message{
			{Role: "user", Content: request.Prompt},
		},
		Model:             a.model,
		SystemInstruction: request.System,
		OutputSchema:      request.Schema,
	})
	if err != nil {
		if errors.Is(err, llm.ErrMissingAPIKey) {
			return nil, err
		}
		return nil, &ProviderError{Err: err}
	}

	result, err := models.ParseAnalysis(resp.Text)
	if err != nil {
		a.logger.Warn().
			Err(err).
			Str("provider", string(resp.Provider)).
			Str("response_head", head(resp.Text, 200)).
			Msg("Unusable analysis response")
		return nil, &ProviderError{Err: err}
	}
	return result, nil
}

func head(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

var _ interfaces.Analyzer = (*LLMAnalyzer)(nil)
