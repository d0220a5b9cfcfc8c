package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/filingwatch/internal/common"
	"github.com/ternarybob/filingwatch/internal/interfaces"
)

// dateLayout is the stored form of the quota day
const dateLayout = "2006-01-02"

// Service is the quota ledger. The stored count is only trusted while its date is today in the
// provider's quota timezone; any other date reads as zero until the next RecordUsage persists the reset.
type Service struct {
	storage        interfaces.QuotaStorage
	logger         arbor.ILogger
	dailyLimit     int
	perMinuteLimit int
	location       *time.Location
	now            func() time.Time
}

// NewService creates a quota ledger from the [quota] configuration
func NewService(storage interfaces.QuotaStorage, config *common.QuotaConfig, logger arbor.ILogger) (*Service, error) {
	if config.DailyLimit <= 0 || config.PerMinuteLimit <= 0 {
		return nil, fmt.Errorf("quota limits must be positive (daily=%d, per_minute=%d)", config.DailyLimit, config.PerMinuteLimit)
	}

	tz := config.Timezone
	if tz == "" {
		tz = "UTC"
	}
	location, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid quota timezone %q: %w", tz, err)
	}

	return &Service{
		storage:        storage,
		logger:         logger,
		dailyLimit:     config.DailyLimit,
		perMinuteLimit: config.PerMinuteLimit,
		location:       location,
		now:            time.Now,
	}, nil
}

// SetClock replaces the time source. Tests only.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Today returns the current quota day
func (s *Service) Today() string {
	return s.now().In(s.location).Format(dateLayout)
}

// CurrentUsage returns today's count and the date it was read as of.
// A stored row from an earlier day reports zero without being written back.
func (s *Service) CurrentUsage(ctx context.Context) (int, string, error) {
	state, err := s.storage.GetQuotaState(ctx)
	if err != nil {
		return 0, "", fmt.Errorf("failed to read quota state: %w", err)
	}

	today := s.Today()
	if state.CurrentDate != today {
		return 0, today, nil
	}
	return state.RequestCount, today, nil
}

// GrantableThisCycle returns how many jobs the next drain cycle may run:
// zero once the daily limit is reached, otherwise min(perMinuteLimit, dailyLimit - count).
func (s *Service) GrantableThisCycle(ctx context.Context) (int, error) {
	count, _, err := s.CurrentUsage(ctx)
	if err != nil {
		return 0, err
	}
	return s.grantable(count), nil
}

func (s *Service) grantable(count int) int {
	if count >= s.dailyLimit {
		return 0
	}
	remaining := s.dailyLimit - count
	if remaining < s.perMinuteLimit {
		return remaining
	}
	return s.perMinuteLimit
}

// RecordUsage adds n to today's count. The date is always advanced to today, which is where the lazy reset lands.
func (s *Service) RecordUsage(ctx context.Context, n int) error {
	if n < 0 {
		return fmt.Errorf("quota usage cannot be negative: %d", n)
	}
	if n == 0 {
		return nil
	}

	state, err := s.storage.AddUsage(ctx, s.Today(), n)
	if err != nil {
		return err
	}

	event := s.logger.Info()
	if state.RequestCount >= s.dailyLimit {
		event = s.logger.Warn()
	}
	event.
		Int("used", n).
		Int("count", state.RequestCount).
		Int("daily_limit", s.dailyLimit).
		Str("date", state.CurrentDate).
		Msg("Quota usage recorded")
	return nil
}

// Snapshot returns usage and limits for the operator API
func (s *Service) Snapshot(ctx context.Context) (*interfaces.QuotaUsage, error) {
	state, err := s.storage.GetQuotaState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read quota state: %w", err)
	}

	today := s.Today()
	count := 0
	if state.CurrentDate == today {
		count = state.RequestCount
	}

	return &interfaces.QuotaUsage{
		Count:          count,
		AsOfDate:       state.CurrentDate,
		Today:          today,
		DailyLimit:     s.dailyLimit,
		PerMinuteLimit: s.perMinuteLimit,
		Grantable:      s.grantable(count),
	}, nil
}

var _ interfaces.QuotaLedger = (*Service)(nil)
