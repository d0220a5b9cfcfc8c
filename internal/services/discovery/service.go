package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/filingwatch/internal/common"
	"github.com/ternarybob/filingwatch/internal/interfaces"
	"github.com/ternarybob/filingwatch/internal/models"
)

// CycleReport summarises one discovery cycle
type CycleReport struct {
	CycleID     string `json:"cycle_id"`
	Identifiers int    `json:"identifiers"`
	Failed      int    `json:"failed"`
	Enqueued    int    `json:"enqueued"`
}

// Service is the discovery loop: it diffs each tracked identifier's recent filings against its
// watermark and enqueues what is new.
type Service struct {
	source      interfaces.FilingSource
	directory   interfaces.SubscriptionDirectory
	watermarks  interfaces.WatermarkStorage
	queue       interfaces.QueueStorage
	maxPerCycle int
	logger      arbor.ILogger

	mu        sync.Mutex
	now       func() time.Time
	lastStamp time.Time
}

// NewService creates a discovery loop
func NewService(
	source interfaces.FilingSource,
	directory interfaces.SubscriptionDirectory,
	watermarks interfaces.WatermarkStorage,
	queue interfaces.QueueStorage,
	maxPerCycle int,
	logger arbor.ILogger,
) *Service {
	if maxPerCycle <= 0 {
		maxPerCycle = 3
	}
	return &Service{
		source:      source,
		directory:   directory,
		watermarks:  watermarks,
		queue:       queue,
		maxPerCycle: maxPerCycle,
		logger:      logger,
		now:         time.Now,
	}
}

// SetClock replaces the time source. Tests only.
func (s *Service) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// CollectNew walks a newest-first filing list until lastRef is met and returns at most max of the
// newest unseen filings, still newest-first. An empty lastRef collects from the whole list.
func CollectNew(filings []models.Filing, lastRef string, max int) []models.Filing {
	collected := make([]models.Filing, 0, max)
	for _, filing := range filings {
		if lastRef != "" && filing.Ref == lastRef {
			break
		}
		collected = append(collected, filing)
	}
	if max > 0 && len(collected) > max {
		collected = collected[:max]
	}
	return collected
}

// RunCycle discovers every tracked identifier. A failing identifier is logged and skipped;
// only a failure to list identifiers aborts the cycle.
func (s *Service) RunCycle(ctx context.Context) (*CycleReport, error) {
	report := &CycleReport{CycleID: common.NewCycleID("discovery")}
	logger := s.logger.WithCorrelationId(report.CycleID)

	identifiers, err := s.directory.ListIdentifiers(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list tracked identifiers: %w", err)
	}
	report.Identifiers = len(identifiers)

	if len(identifiers) == 0 {
		logger.Debug().Msg("No tracked identifiers, discovery skipped")
		return report, nil
	}

	for _, identifier := range identifiers {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		enqueued, err := s.DiscoverIdentifier(ctx, identifier)
		report.Enqueued += enqueued
		if err != nil {
			report.Failed++
			logger.Warn().
				Err(err).
				Str("identifier", identifier).
				Msg("Discovery failed for identifier, continuing")
			continue
		}
	}

	event := logger.Debug()
	if report.Enqueued > 0 || report.Failed > 0 {
		event = logger.Info()
	}
	event.
		Int("identifiers", report.Identifiers).
		Int("enqueued", report.Enqueued).
		Int("failed", report.Failed).
		Msg("Discovery cycle complete")

	return report, nil
}

// DiscoverIdentifier enqueues new filings of one identifier, oldest first, and advances its watermark.
// Returns the number of filings enqueued. If an enqueue fails the watermark stops at the last filing
// that was stored, so the remainder is collected again next cycle.
func (s *Service) DiscoverIdentifier(ctx context.Context, identifier string) (int, error) {
	filings, err := s.source.RecentFilings(ctx, identifier)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch recent filings: %w", err)
	}

	watermark, err := s.watermarks.GetWatermark(ctx, identifier)
	if err != nil {
		return 0, err
	}
	lastRef := ""
	if watermark != nil {
		lastRef = watermark.LastFilingRef
	}

	collected := CollectNew(filings, lastRef, s.maxPerCycle)
	if len(collected) == 0 {
		s.logger.Trace().Str("identifier", identifier).Msg("No new filings")
		return 0, nil
	}

	enqueued := 0
	var newest *models.Filing
	var enqueueErr error
	for i := len(collected) - 1; i >= 0; i-- {
		filing := collected[i]
		if filing.Identifier == "" {
			filing.Identifier = identifier
		}

		job := models.NewJob(filing, s.stamp())
		if err := s.queue.Upsert(ctx, job); err != nil {
			enqueueErr = fmt.Errorf("failed to enqueue filing %s: %w", filing.Ref, err)
			break
		}
		enqueued++
		newest = &collected[i]

		s.logger.Info().
			Str("identifier", identifier).
			Str("filing_ref", filing.Ref).
			Str("filing_type", string(filing.Type)).
			Str("filing_date", filing.Date).
			Msg("New filing enqueued")
	}

	if newest != nil {
		if err := s.watermarks.SaveWatermark(ctx, &models.Watermark{
			Identifier:     identifier,
			LastFilingRef:  newest.Ref,
			LastFilingType: newest.Type,
			UpdatedAt:      s.currentTime(),
		}); err != nil {
			return enqueued, fmt.Errorf("failed to save watermark: %w", err)
		}
	}

	return enqueued, enqueueErr
}

// stamp returns a strictly increasing timestamp so queue order follows enqueue order
func (s *Service) stamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.now()
	if !t.After(s.lastStamp) {
		t = s.lastStamp.Add(time.Microsecond)
	}
	s.lastStamp = t
	return t
}

func (s *Service) currentTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now()
}
