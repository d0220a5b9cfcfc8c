package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/filingwatch/internal/interfaces"
	"github.com/ternarybob/filingwatch/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// SubscriptionStorage implements the SubscriptionStorage interface for Badger
type SubscriptionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewSubscriptionStorage creates a new SubscriptionStorage instance
func NewSubscriptionStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SubscriptionStorage {
	return &SubscriptionStorage{
		db:     db,
		logger: logger,
	}
}

func subscriptionKey(identifier string, recipientID int64) string {
	return fmt.Sprintf("%s|%d", identifier, recipientID)
}

// AddSubscription subscribes a recipient to an identifier. Returns false when already subscribed.
func (s *SubscriptionStorage) AddSubscription(ctx context.Context, identifier string, recipientID int64) (bool, error) {
	key := subscriptionKey(identifier, recipientID)
	sub := models.Subscription{
		Key:         key,
		Identifier:  identifier,
		RecipientID: recipientID,
		CreatedAt:   time.Now(),
	}

	added := false
	err := s.db.Update(func(tx *badger.Txn) error {
		added = false
		err := s.db.Store().TxInsert(tx, key, sub)
		if errors.Is(err, badgerhold.ErrKeyExists) {
			return nil
		}
		if err != nil {
			return err
		}
		added = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to add subscription: %w", err)
	}

	if added {
		s.logger.Info().
			Str("identifier", identifier).
			Int64("recipient_id", recipientID).
			Msg("BadgerDB: subscription added")
	}
	return added, nil
}

// RemoveSubscription unsubscribes a recipient. Returns false when no subscription existed.
func (s *SubscriptionStorage) RemoveSubscription(ctx context.Context, identifier string, recipientID int64) (bool, error) {
	err := s.db.Store().Delete(subscriptionKey(identifier, recipientID), models.Subscription{})
	if errors.Is(err, badgerhold.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to remove subscription: %w", err)
	}

	s.logger.Info().
		Str("identifier", identifier).
		Int64("recipient_id", recipientID).
		Msg("BadgerDB: subscription removed")
	return true, nil
}

// ListIdentifiers returns the distinct subscribed identifiers, sorted
func (s *SubscriptionStorage) ListIdentifiers(ctx context.Context) ([]string, error) {
	var subs []models.Subscription
	if err := s.db.Store().Find(&subs, badgerhold.Where("Key").Ne("")); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}

	seen := make(map[string]struct{})
	identifiers := make([]string, 0)
	for _, sub := range subs {
		if _, ok := seen[sub.Identifier]; ok {
			continue
		}
		seen[sub.Identifier] = struct{}{}
		identifiers = append(identifiers, sub.Identifier)
	}
	sort.Strings(identifiers)
	return identifiers, nil
}

// ListRecipients returns the recipients subscribed to an identifier
func (s *SubscriptionStorage) ListRecipients(ctx context.Context, identifier string) ([]int64, error) {
	var subs []models.Subscription
	if err := s.db.Store().Find(&subs, badgerhold.Where("Identifier").Eq(identifier).SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}

	recipients := make([]int64, len(subs))
	for i, sub := range subs {
		recipients[i] = sub.RecipientID
	}
	return recipients, nil
}

// ListByRecipient returns the identifiers a recipient is subscribed to, sorted
func (s *SubscriptionStorage) ListByRecipient(ctx context.Context, recipientID int64) ([]string, error) {
	var subs []models.Subscription
	if err := s.db.Store().Find(&subs, badgerhold.Where("RecipientID").Eq(recipientID).SortBy("Identifier")); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions for recipient: %w", err)
	}

	identifiers := make([]string, len(subs))
	for i, sub := range subs {
		identifiers[i] = sub.Identifier
	}
	return identifiers, nil
}
