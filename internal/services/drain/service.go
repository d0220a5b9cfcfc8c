package drain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/filingwatch/internal/common"
	"github.com/ternarybob/filingwatch/internal/interfaces"
	"github.com/ternarybob/filingwatch/internal/models"
	"github.com/ternarybob/filingwatch/internal/services/analysis"
)

// Outcome is the result of processing one job
type Outcome string

const (
	OutcomeArchived      Outcome = "archived"
	OutcomeDuplicate     Outcome = "already_archived"
	OutcomeFailed        Outcome = "failed"
	OutcomePermanentFail Outcome = "permanent_fail"
	OutcomeStorageError  Outcome = "storage_error"
	OutcomeInterrupted   Outcome = "interrupted"
)

// CycleReport summarises one drain cycle
type CycleReport struct {
	CycleID       string `json:"cycle_id"`
	Grantable     int    `json:"grantable"`
	Dequeued      int    `json:"dequeued"`
	Succeeded     int    `json:"succeeded"`
	Failed        int    `json:"failed"`
	PermanentFail int    `json:"permanent_fail"`
	Interrupted   int    `json:"interrupted"`
	Charged       int    `json:"charged"`
}

// Config controls retries and quota charging
type Config struct {
	MaxRetries int
	// ChargeFailedAttempts also charges jobs whose analysis call reached the provider and failed
	ChargeFailedAttempts bool
}

// Service is the drain loop: each cycle takes as many queued jobs as the quota grants and runs
// extraction, analysis, archive and delivery for them one at a time.
type Service struct {
	queue     interfaces.QueueStorage
	quota     interfaces.QuotaLedger
	extractor interfaces.Extractor
	analyzer  interfaces.Analyzer
	delivery  interfaces.DeliveryService
	config    Config
	logger    arbor.ILogger
	now       func() time.Time
}

// NewService creates a drain loop
func NewService(
	queue interfaces.QueueStorage,
	quota interfaces.QuotaLedger,
	extractor interfaces.Extractor,
	analyzer interfaces.Analyzer,
	delivery interfaces.DeliveryService,
	config Config,
	logger arbor.ILogger,
) *Service {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	return &Service{
		queue:     queue,
		quota:     quota,
		extractor: extractor,
		analyzer:  analyzer,
		delivery:  delivery,
		config:    config,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock replaces the time source (tests)
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// RunCycle processes one batch. It returns an error only when the quota or the queue cannot be read,
// or when usage cannot be recorded; individual job failures are recorded on the job.
func (s *Service) RunCycle(ctx context.Context) (*CycleReport, error) {
	report := &CycleReport{CycleID: common.NewCycleID("drain")}
	logger := s.logger.WithCorrelationId(report.CycleID)

	grantable, err := s.quota.GrantableThisCycle(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to read quota: %w", err)
	}
	report.Grantable = grantable
	if grantable == 0 {
		logger.Info().Msg("No quota available this cycle, queue untouched")
		return report, nil
	}

	jobs, err := s.queue.DequeuePending(ctx, grantable)
	if err != nil {
		return report, fmt.Errorf("failed to dequeue jobs: %w", err)
	}
	report.Dequeued = len(jobs)
	if len(jobs) == 0 {
		logger.Debug().Int("grantable", grantable).Msg("Queue empty")
		return report, nil
	}

	logger.Info().
		Int("grantable", grantable).
		Int("jobs", len(jobs)).
		Msg("Drain cycle started")

	for _, job := range jobs {
		if ctx.Err() != nil {
			logger.Warn().Msg("Drain cycle interrupted, remaining jobs stay queued")
			break
		}

		outcome, charged := s.processSafely(ctx, logger, job)
		if charged {
			report.Charged++
		}
		switch outcome {
		case OutcomeArchived, OutcomeDuplicate:
			report.Succeeded++
		case OutcomePermanentFail:
			report.PermanentFail++
		case OutcomeInterrupted:
			report.Interrupted++
		default:
			report.Failed++
		}
	}

	if report.Charged > 0 {
		if err := s.recordUsage(ctx, logger, report.Charged); err != nil {
			return report, err
		}
	}

	logger.Info().
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Int("permanent_fail", report.PermanentFail).
		Int("interrupted", report.Interrupted).
		Int("charged", report.Charged).
		Msg("Drain cycle finished")
	return report, nil
}

// recordUsage charges the ledger, retrying the write once. Usage still lost after the retry is an
// undercount: the next cycles may be granted that many extra calls.
// Charges are written even when ctx was cancelled mid-cycle, since the provider calls already happened.
func (s *Service) recordUsage(ctx context.Context, logger arbor.ILogger, n int) error {
	ctx = context.WithoutCancel(ctx)
	err := s.quota.RecordUsage(ctx, n)
	if err == nil {
		return nil
	}
	logger.Warn().Err(err).Int("charged", n).Msg("Failed to record quota usage, retrying once")
	if err = s.quota.RecordUsage(ctx, n); err != nil {
		logger.Error().Err(err).Int("charged", n).Msg("Failed to record quota usage, usage undercounted")
		return fmt.Errorf("failed to record quota usage: %w", err)
	}
	return nil
}

// processSafely turns a panic in one job into a failure of that job
func (s *Service) processSafely(ctx context.Context, logger arbor.ILogger, job *models.Job) (outcome Outcome, charged bool) {
	defer func() {
		if r := recover(); r != nil {
			outcome, charged = s.fail(ctx, logger, job, fmt.Errorf("panic: %v", r), false)
		}
	}()
	return s.ProcessJob(ctx, logger, job)
}

// ProcessJob runs one job through extraction, analysis, archive and delivery.
// charged reports whether the attempt counts against the provider quota.
func (s *Service) ProcessJob(ctx context.Context, logger arbor.ILogger, job *models.Job) (Outcome, bool) {
	start := s.now()

	content, err := s.extractor.Extract(ctx, job.Identifier, job.FilingType, job.SourceLocation)
	if err == nil && content.IsEmpty() {
		err = models.ErrEmptyExtraction
	}
	if err != nil {
		return s.fail(ctx, logger, job, fmt.Errorf("extraction: %w", err), false)
	}

	result, err := s.analyzer.Analyze(ctx, job.Identifier, job.FilingType, content)
	if err == nil && result.IsEmpty() {
		err = &analysis.ProviderError{Err: models.ErrEmptyAnalysis}
	}
	if err != nil {
		providerCalled := analysis.IsProviderError(err)
		return s.fail(ctx, logger, job, fmt.Errorf("analysis: %w", err), providerCalled && s.config.ChargeFailedAttempts)
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return s.fail(ctx, logger, job, fmt.Errorf("encode analysis: %w", err), s.config.ChargeFailedAttempts)
	}

	job.Status = models.JobStatusCompleted
	job.AnalysisResult = result
	record := &models.ArchiveRecord{
		FilingRef:      job.FilingRef,
		Identifier:     job.Identifier,
		FilingType:     job.FilingType,
		FilingDate:     job.FilingDate,
		SourceLocation: job.SourceLocation,
		AnalysisResult: string(encoded),
		AnalyzedAt:     s.now(),
	}

	err = s.queue.ArchiveAndRemove(ctx, job, record)
	if errors.Is(err, interfaces.ErrAlreadyArchived) {
		logger.Warn().
			Str("filing_ref", job.FilingRef).
			Msg("Filing was archived by an earlier run, delivery skipped")
		return OutcomeDuplicate, true
	}
	if err != nil {
		// The queue row is untouched, so the job runs again next cycle
		logger.Error().
			Err(err).
			Str("filing_ref", job.FilingRef).
			Msg("Failed to archive job")
		return OutcomeStorageError, s.config.ChargeFailedAttempts
	}

	report, err := s.deliverSafely(ctx, job, result)
	if err != nil {
		logger.Warn().
			Err(err).
			Str("filing_ref", job.FilingRef).
			Msg("Delivery failed, filing stays archived")
	} else {
		logger.Debug().
			Str("filing_ref", job.FilingRef).
			Int("delivered", report.Delivered).
			Int("failed", report.Failed).
			Msg("Delivery finished")
	}

	logger.Info().
		Str("filing_ref", job.FilingRef).
		Str("identifier", job.Identifier).
		Str("filing_type", string(job.FilingType)).
		Int64("duration_ms", s.now().Sub(start).Milliseconds()).
		Msg("Job completed")
	return OutcomeArchived, true
}

// deliverSafely keeps a delivery panic from turning an archived job into a failure
func (s *Service) deliverSafely(ctx context.Context, job *models.Job, result *models.Analysis) (report *interfaces.DeliveryReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			report, err = nil, fmt.Errorf("delivery panic: %v", r)
		}
	}()
	return s.delivery.Deliver(ctx, job, result)
}

// fail applies the retry state machine and persists the job.
// Precondition errors skip the retry budget and go straight to PERMANENT_FAIL.
// A failure caused by cancellation is not an attempt: the row is left as it was.
func (s *Service) fail(ctx context.Context, logger arbor.ILogger, job *models.Job, cause error, charged bool) (Outcome, bool) {
	job.AnalysisResult = nil
	if ctx.Err() != nil || errors.Is(cause, context.Canceled) {
		logger.Warn().
			Err(cause).
			Str("filing_ref", job.FilingRef).
			Int("retry_count", job.RetryCount).
			Msg("Job interrupted, left queued unchanged")
		return OutcomeInterrupted, charged
	}
	if models.IsPreconditionError(cause) {
		job.MarkPermanent(cause, s.now())
	} else {
		job.RecordFailure(cause, s.config.MaxRetries, s.now())
	}

	if err := s.queue.UpdateStatus(ctx, job); err != nil {
		logger.Error().
			Err(err).
			Str("filing_ref", job.FilingRef).
			Msg("Failed to persist job failure")
		return OutcomeStorageError, charged
	}

	event := logger.Error().
		Err(cause).
		Str("filing_ref", job.FilingRef).
		Str("identifier", job.Identifier).
		Int("retry_count", job.RetryCount).
		Str("status", string(job.Status))
	if job.Status == models.JobStatusPermanentFail {
		event.Msg("Job permanently failed, operator requeue required")
		return OutcomePermanentFail, charged
	}
	event.Msg("Job failed, will retry")
	return OutcomeFailed, charged
}
