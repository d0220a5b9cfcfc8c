package subscriptions

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/filingwatch/internal/common"
	"github.com/ternarybob/filingwatch/internal/interfaces"
	"github.com/ternarybob/filingwatch/internal/models"
)

// ErrInvalidTicker means the input cannot be normalised to a ticker symbol
var ErrInvalidTicker = errors.New("invalid ticker")

// Service manages who follows which identifier. It is also the SubscriptionDirectory the
// discovery loop and delivery fan-out read from.
type Service struct {
	store    interfaces.SubscriptionStorage
	resolver interfaces.CIKResolver
	logger   arbor.ILogger
}

// NewService creates a subscription service. resolver may be nil, in which case tickers are
// only normalised, not checked against the provider's directory.
func NewService(store interfaces.SubscriptionStorage, resolver interfaces.CIKResolver, logger arbor.ILogger) *Service {
	return &Service{
		store:    store,
		resolver: resolver,
		logger:   logger,
	}
}

// Subscribe adds a recipient to an identifier after validating it.
// Returns the normalised ticker, the registrant title (when known) and whether a new row was written.
func (s *Service) Subscribe(ctx context.Context, recipientID int64, input string) (string, string, bool, error) {
	ticker, ok := common.NormalizeTicker(input)
	if !ok {
		return "", "", false, fmt.Errorf("%w: %q", ErrInvalidTicker, input)
	}

	title := ""
	if s.resolver != nil {
		_, name, err := s.resolver.Lookup(ctx, ticker)
		if err != nil {
			return ticker, "", false, err
		}
		title = name
	}

	added, err := s.store.AddSubscription(ctx, ticker, recipientID)
	if err != nil {
		return ticker, title, false, err
	}

	s.logger.Debug().
		Str("identifier", ticker).
		Int64("recipient_id", recipientID).
		Bool("added", added).
		Msg("Subscribe")
	return ticker, title, added, nil
}

// Unsubscribe removes a recipient from an identifier. Returns false when there was nothing to remove.
func (s *Service) Unsubscribe(ctx context.Context, recipientID int64, input string) (string, bool, error) {
	ticker, ok := common.NormalizeTicker(input)
	if !ok {
		return "", false, fmt.Errorf("%w: %q", ErrInvalidTicker, input)
	}
	removed, err := s.store.RemoveSubscription(ctx, ticker, recipientID)
	return ticker, removed, err
}

// ListForRecipient returns the identifiers a recipient follows, sorted
func (s *Service) ListForRecipient(ctx context.Context, recipientID int64) ([]string, error) {
	return s.store.ListByRecipient(ctx, recipientID)
}

// ListIdentifiers returns every subscribed identifier
func (s *Service) ListIdentifiers(ctx context.Context) ([]string, error) {
	return s.store.ListIdentifiers(ctx)
}

// ListRecipients returns the recipients of an identifier
func (s *Service) ListRecipients(ctx context.Context, identifier string) ([]int64, error) {
	return s.store.ListRecipients(ctx, identifier)
}

// IsUnknownTicker reports whether err came from an unknown or malformed ticker
func IsUnknownTicker(err error) bool {
	return errors.Is(err, ErrInvalidTicker) || errors.Is(err, models.ErrUnknownIdentifier)
}

var _ interfaces.SubscriptionDirectory = (*Service)(nil)
