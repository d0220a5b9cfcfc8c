package delivery

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/filingwatch/internal/interfaces"
	"github.com/ternarybob/filingwatch/internal/models"
)

// Condenser shortens an analysis that renders over the message limit
type Condenser interface {
	Condense(ctx context.Context, analysis *models.Analysis) (*models.Analysis, error)
}

// Service renders an analysis once and sends it to every subscriber of the filing's identifier
type Service struct {
	formatter *Formatter
	condenser Condenser
	sender    interfaces.Sender
	directory interfaces.SubscriptionDirectory
	logger    arbor.ILogger
}

// NewService creates a delivery service. condenser may be nil, in which case overlong messages are truncated.
func NewService(formatter *Formatter, condenser Condenser, sender interfaces.Sender, directory interfaces.SubscriptionDirectory, logger arbor.ILogger) *Service {
	return &Service{
		formatter: formatter,
		condenser: condenser,
		sender:    sender,
		directory: directory,
		logger:    logger,
	}
}

// Prepare renders the message, condensing once and then truncating if it is still too long.
// The returned text always fits the formatter's limit.
func (s *Service) Prepare(ctx context.Context, job *models.Job, analysis *models.Analysis) (text string, condensed bool, truncated bool) {
	text = s.formatter.Render(job, analysis)
	if s.formatter.Fits(text) {
		return text, false, false
	}

	originalLength := RuneLength(text)
	if s.condenser != nil {
		shorter, err := s.condenser.Condense(ctx, analysis)
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("filing_ref", job.FilingRef).
				Msg("Condense request failed, truncating the original message")
		} else {
			condensed = true
			text = s.formatter.Render(job, shorter)
			if s.formatter.Fits(text) {
				s.logger.Debug().
					Str("filing_ref", job.FilingRef).
					Int("original_length", originalLength).
					Int("length", RuneLength(text)).
					Msg("Message condensed to fit")
				return text, condensed, false
			}
		}
	}

	text = s.formatter.Truncate(text)
	s.logger.Info().
		Str("filing_ref", job.FilingRef).
		Int("original_length", originalLength).
		Int("length", RuneLength(text)).
		Bool("condensed", condensed).
		Msg("Message truncated to fit")
	return text, condensed, true
}

// Deliver sends the rendered analysis to each recipient independently.
// A failed recipient is logged and counted; it never stops the others.
func (s *Service) Deliver(ctx context.Context, job *models.Job, analysis *models.Analysis) (*interfaces.DeliveryReport, error) {
	recipients, err := s.directory.ListRecipients(ctx, job.Identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipients for %s: %w", job.Identifier, err)
	}

	report := &interfaces.DeliveryReport{Recipients: len(recipients)}
	if len(recipients) == 0 {
		s.logger.Info().
			Str("identifier", job.Identifier).
			Str("filing_ref", job.FilingRef).
			Msg("No subscribers, nothing to deliver")
		return report, nil
	}

	text, condensed, truncated := s.Prepare(ctx, job, analysis)
	report.Condensed = condensed
	report.Truncated = truncated
	report.Length = RuneLength(text)

	for _, recipient := range recipients {
		if err := s.sender.Send(ctx, recipient, text); err != nil {
			report.Failed++
			report.Failures = append(report.Failures, recipient)
			s.logger.Warn().
				Err(err).
				Int64("recipient_id", recipient).
				Str("filing_ref", job.FilingRef).
				Msg("Delivery to recipient failed")
			continue
		}
		report.Delivered++
	}

	s.logger.Info().
		Str("identifier", job.Identifier).
		Str("filing_ref", job.FilingRef).
		Int("recipients", report.Recipients).
		Int("delivered", report.Delivered).
		Int("failed", report.Failed).
		Msg("Filing analysis delivered")
	return report, nil
}

var _ interfaces.DeliveryService = (*Service)(nil)
