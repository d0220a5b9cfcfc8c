package drain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/filingwatch/internal/interfaces"
	"github.com/ternarybob/filingwatch/internal/models"
	"github.com/ternarybob/filingwatch/internal/services/analysis"
)

// memoryQueue mirrors the badger queue semantics: PENDING and FAILED are eligible, oldest first
type memoryQueue struct {
	jobs     map[string]*models.Job
	archive  map[string]*models.ArchiveRecord
	dequeued int
}

func newMemoryQueue(jobs ...*models.Job) *memoryQueue {
	q := &memoryQueue{jobs: make(map[string]*models.Job), archive: make(map[string]*models.ArchiveRecord)}
	for _, job := range jobs {
		q.jobs[job.FilingRef] = job
	}
	return q
}

func (q *memoryQueue) Upsert(ctx context.Context, job *models.Job) error {
	copied := *job
	q.jobs[job.FilingRef] = &copied
	return nil
}

func (q *memoryQueue) DequeuePending(ctx context.Context, limit int) ([]*models.Job, error) {
	q.dequeued++
	var eligible []*models.Job
	for _, job := range q.jobs {
		if job.Status.IsDequeueEligible() {
			copied := *job
			eligible = append(eligible, &copied)
		}
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].LastModifiedAt.Equal(eligible[j].LastModifiedAt) {
			return eligible[i].FilingRef < eligible[j].FilingRef
		}
		return eligible[i].LastModifiedAt.Before(eligible[j].LastModifiedAt)
	})
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}
	return eligible, nil
}

func (q *memoryQueue) UpdateStatus(ctx context.Context, job *models.Job) error {
	stored, ok := q.jobs[job.FilingRef]
	if !ok {
		return errors.New("not found")
	}
	stored.Status = job.Status
	stored.RetryCount = job.RetryCount
	stored.LastError = job.LastError
	stored.LastModifiedAt = job.LastModifiedAt
	return nil
}

func (q *memoryQueue) ArchiveAndRemove(ctx context.Context, job *models.Job, record *models.ArchiveRecord) error {
	delete(q.jobs, job.FilingRef)
	if _, exists := q.archive[record.FilingRef]; exists {
		return interfaces.ErrAlreadyArchived
	}
	q.archive[record.FilingRef] = record
	return nil
}

func (q *memoryQueue) GetJob(ctx context.Context, filingRef string) (*models.Job, error) {
	job, ok := q.jobs[filingRef]
	if !ok {
		return nil, errors.New("not found")
	}
	return job, nil
}

func (q *memoryQueue) ListByStatus(ctx context.Context, status models.JobStatus, limit int) ([]*models.Job, error) {
	return nil, nil
}
func (q *memoryQueue) CountByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	return nil, nil
}
func (q *memoryQueue) Delete(ctx context.Context, filingRef string) error { return nil }
func (q *memoryQueue) Requeue(ctx context.Context, filingRef string, now time.Time) (*models.Job, error) {
	return nil, nil
}

// memoryLedger applies the daily and per-minute caps over an in-memory count
type memoryLedger struct {
	daily, perMinute int
	count            int
	recorded         []int
	recordFailures   int
}

func (l *memoryLedger) CurrentUsage(ctx context.Context) (int, string, error) {
	return l.count, "2025-01-30", nil
}

func (l *memoryLedger) GrantableThisCycle(ctx context.Context) (int, error) {
	if l.count >= l.daily {
		return 0, nil
	}
	if remaining := l.daily - l.count; remaining < l.perMinute {
		return remaining, nil
	}
	return l.perMinute, nil
}

func (l *memoryLedger) RecordUsage(ctx context.Context, n int) error {
	if l.recordFailures > 0 {
		l.recordFailures--
		return errors.New("write conflict")
	}
	l.count += n
	l.recorded = append(l.recorded, n)
	return nil
}

func (l *memoryLedger) Snapshot(ctx context.Context) (*interfaces.QuotaUsage, error) {
	return &interfaces.QuotaUsage{Count: l.count}, nil
}

type fakeExtractor struct {
	errs   map[string]error
	panics map[string]bool
	calls  []string
}

func (e *fakeExtractor) Extract(ctx context.Context, identifier string, filingType models.FilingType, sourceLocation string) (*models.ExtractedContent, error) {
	e.calls = append(e.calls, sourceLocation)
	if e.panics[sourceLocation] {
		panic("parser blew up")
	}
	if filingType == "S-1" {
		return nil, fmt.Errorf("%w: S-1", models.ErrUnsupportedFilingType)
	}
	if err := e.errs[sourceLocation]; err != nil {
		return nil, err
	}
	return &models.ExtractedContent{FullText: "text of " + sourceLocation}, nil
}

type fakeAnalyzer struct {
	err error
}

func (a *fakeAnalyzer) Analyze(ctx context.Context, identifier string, filingType models.FilingType, content *models.ExtractedContent) (*models.Analysis, error) {
	if a.err != nil {
		return nil, a.err
	}
	return &models.Analysis{
		ExecutiveSummary: "summary of " + content.FullText,
		ObjectiveFacts:   models.FactList{"fact"},
		PositiveSignals:  "p",
		PotentialRisks:   "r",
		OverallOpinion:   "o",
	}, nil
}

func (a *fakeAnalyzer) Condense(ctx context.Context, analysis *models.Analysis) (*models.Analysis, error) {
	return analysis, nil
}

type fakeDelivery struct {
	err       error
	panics    bool
	delivered []string
}

func (d *fakeDelivery) Deliver(ctx context.Context, job *models.Job, analysis *models.Analysis) (*interfaces.DeliveryReport, error) {
	if d.panics {
		panic("renderer blew up")
	}
	if d.err != nil {
		return nil, d.err
	}
	d.delivered = append(d.delivered, job.FilingRef)
	return &interfaces.DeliveryReport{Recipients: 1, Delivered: 1}, nil
}

var baseTime = time.Date(2025, 1, 30, 9, 0, 0, 0, time.UTC)

func pendingJob(ref string, offset int) *models.Job {
	return &models.Job{
		FilingRef:      ref,
		Identifier:     "AAPL",
		FilingType:     models.FilingTypeEvent,
		SourceLocation: ref + ".htm",
		Status:         models.JobStatusPending,
		LastModifiedAt: baseTime.Add(time.Duration(offset) * time.Second),
	}
}

type harness struct {
	queue     *memoryQueue
	ledger    *memoryLedger
	extractor *fakeExtractor
	analyzer  *fakeAnalyzer
	delivery  *fakeDelivery
	service   *Service
}

func newHarness(config Config, jobs ...*models.Job) *harness {
	h := &harness{
		queue:     newMemoryQueue(jobs...),
		ledger:    &memoryLedger{daily: 50, perMinute: 2},
		extractor: &fakeExtractor{errs: map[string]error{}, panics: map[string]bool{}},
		analyzer:  &fakeAnalyzer{},
		delivery:  &fakeDelivery{},
	}
	h.service = NewService(h.queue, h.ledger, h.extractor, h.analyzer, h.delivery, config, arbor.NewLogger())

	clock := baseTime.Add(time.Hour)
	h.service.SetClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})
	return h
}

func TestRunCycle_SuccessArchivesDeliversAndCharges(t *testing.T) {
	h := newHarness(Config{MaxRetries: 3}, pendingJob("F1", 0))

	report, err := h.service.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Charged)
	assert.Empty(t, h.queue.jobs)
	require.Contains(t, h.queue.archive, "F1")
	assert.Contains(t, h.queue.archive["F1"].AnalysisResult, `"executive_summary":"summary of text of F1.htm"`)
	assert.Equal(t, []string{"F1"}, h.delivery.delivered)
	assert.Equal(t, []int{1}, h.ledger.recorded)
}

func TestRunCycle_NoQuotaLeavesQueueUntouched(t *testing.T) {
	h := newHarness(Config{MaxRetries: 3}, pendingJob("F1", 0))
	h.ledger.count = 50

	report, err := h.service.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Grantable)
	assert.Equal(t, 0, h.queue.dequeued)
	assert.Contains(t, h.queue.jobs, "F1")
	assert.Empty(t, h.ledger.recorded)
}

func TestRunCycle_DequeuesAtMostGrantableOldestFirst(t *testing.T) {
	h := newHarness(Config{MaxRetries: 3}, pendingJob("F3", 3), pendingJob("F1", 1), pendingJob("F2", 2))

	report, err := h.service.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Dequeued)
	assert.Equal(t, []string{"F1.htm", "F2.htm"}, h.extractor.calls)
	assert.Contains(t, h.queue.jobs, "F3")
}

func TestRunCycle_RetryExhaustion(t *testing.T) {
	h := newHarness(Config{MaxRetries: 3}, pendingJob("F1", 0))
	h.extractor.errs["F1.htm"] = errors.New("connection reset")
	ctx := context.Background()

	_, err := h.service.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, h.queue.jobs["F1"].Status)
	assert.Equal(t, 1, h.queue.jobs["F1"].RetryCount)
	assert.Contains(t, h.queue.jobs["F1"].LastError, "connection reset")

	_, err = h.service.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, h.queue.jobs["F1"].Status)
	assert.Equal(t, 2, h.queue.jobs["F1"].RetryCount)

	report, err := h.service.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.PermanentFail)
	assert.Equal(t, models.JobStatusPermanentFail, h.queue.jobs["F1"].Status)
	assert.Equal(t, 3, h.queue.jobs["F1"].RetryCount)

	// never selected again
	report, err = h.service.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Dequeued)
	assert.Len(t, h.extractor.calls, 3)
	assert.Empty(t, h.ledger.recorded, "failures are not charged by default")
}

func TestRunCycle_PreconditionErrorIsPermanentAtOnce(t *testing.T) {
	job := pendingJob("F1", 0)
	job.FilingType = "S-1"
	h := newHarness(Config{MaxRetries: 3}, job)

	report, err := h.service.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.PermanentFail)
	assert.Equal(t, models.JobStatusPermanentFail, h.queue.jobs["F1"].Status)
	assert.Equal(t, 0, h.queue.jobs["F1"].RetryCount)
}

func TestRunCycle_FailureIsIsolatedPerJob(t *testing.T) {
	h := newHarness(Config{MaxRetries: 3}, pendingJob("F1", 0), pendingJob("F2", 1))
	h.extractor.panics["F1.htm"] = true

	report, err := h.service.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, models.JobStatusFailed, h.queue.jobs["F1"].Status)
	assert.Contains(t, h.queue.archive, "F2")
}

func TestRunCycle_DeliveryFailureKeepsArchive(t *testing.T) {
	h := newHarness(Config{MaxRetries: 3}, pendingJob("F1", 0))
	h.delivery.err = errors.New("directory unavailable")

	report, err := h.service.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Contains(t, h.queue.archive, "F1")
	assert.NotContains(t, h.queue.jobs, "F1")
	assert.Equal(t, []int{1}, h.ledger.recorded)
}

func TestRunCycle_AlreadyArchivedSkipsDelivery(t *testing.T) {
	h := newHarness(Config{MaxRetries: 3}, pendingJob("F1", 0))
	h.queue.archive["F1"] = &models.ArchiveRecord{FilingRef: "F1"}

	report, err := h.service.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Empty(t, h.delivery.delivered)
	assert.NotContains(t, h.queue.jobs, "F1")
}

func TestRunCycle_ChargeFailedAttempts(t *testing.T) {
	ctx := context.Background()

	t.Run("provider failures are charged when enabled", func(t *testing.T) {
		h := newHarness(Config{MaxRetries: 3, ChargeFailedAttempts: true}, pendingJob("F1", 0), pendingJob("F2", 1))
		h.analyzer.err = &analysis.ProviderError{Err: models.ErrMalformedAnalysis}

		report, err := h.service.RunCycle(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Failed)
		assert.Equal(t, 2, report.Charged)
		assert.Equal(t, []int{2}, h.ledger.recorded)
	})

	t.Run("extraction failures are never charged", func(t *testing.T) {
		h := newHarness(Config{MaxRetries: 3, ChargeFailedAttempts: true}, pendingJob("F1", 0))
		h.extractor.errs["F1.htm"] = errors.New("404")

		report, err := h.service.RunCycle(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, report.Charged)
		assert.Empty(t, h.ledger.recorded)
	})

	t.Run("provider failures are free by default", func(t *testing.T) {
		h := newHarness(Config{MaxRetries: 3}, pendingJob("F1", 0))
		h.analyzer.err = &analysis.ProviderError{Err: errors.New("503")}

		report, err := h.service.RunCycle(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, report.Charged)
	})
}

func TestRunCycle_QuotaNeverExceeded(t *testing.T) {
	var jobs []*models.Job
	for i := 0; i < 12; i++ {
		jobs = append(jobs, pendingJob(fmt.Sprintf("F%02d", i), i))
	}
	h := newHarness(Config{MaxRetries: 3}, jobs...)
	h.ledger.daily = 5

	for cycle := 0; cycle < 10; cycle++ {
		report, err := h.service.RunCycle(context.Background())
		require.NoError(t, err)
		assert.LessOrEqual(t, report.Dequeued, 2)
	}
	assert.Equal(t, 5, h.ledger.count)
	assert.Len(t, h.queue.archive, 5)
	assert.Len(t, h.queue.jobs, 7)
}

func TestRunCycle_CancelledCollaboratorDoesNotSpendRetries(t *testing.T) {
	h := newHarness(Config{MaxRetries: 3}, pendingJob("F1", 0))
	h.extractor.errs["F1.htm"] = fmt.Errorf("fetch: %w", context.Canceled)

	for i := 0; i < 3; i++ {
		report, err := h.service.RunCycle(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, report.Interrupted)
		assert.Equal(t, 0, report.Failed)
		assert.Equal(t, 0, report.PermanentFail)
	}

	job := h.queue.jobs["F1"]
	require.NotNil(t, job)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 0, job.RetryCount)
	assert.Empty(t, job.LastError)
	assert.Equal(t, baseTime, job.LastModifiedAt)
}

func TestProcessJob_FailureAfterShutdownLeavesRowUnchanged(t *testing.T) {
	job := pendingJob("F1", 0)
	job.Status = models.JobStatusFailed
	job.RetryCount = 2
	h := newHarness(Config{MaxRetries: 3}, job)
	h.analyzer.err = errors.New("stream closed")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	queued := *job
	outcome, charged := h.service.ProcessJob(ctx, arbor.NewLogger(), &queued)
	assert.Equal(t, OutcomeInterrupted, outcome)
	assert.False(t, charged)

	stored := h.queue.jobs["F1"]
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	assert.Equal(t, 2, stored.RetryCount)
}

func TestRunCycle_RecordUsageRetriedOnce(t *testing.T) {
	t.Run("second write succeeds", func(t *testing.T) {
		h := newHarness(Config{MaxRetries: 3}, pendingJob("F1", 0))
		h.ledger.recordFailures = 1

		report, err := h.service.RunCycle(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, report.Charged)
		assert.Equal(t, []int{1}, h.ledger.recorded)
		assert.Equal(t, 1, h.ledger.count)
	})

	t.Run("both writes fail", func(t *testing.T) {
		h := newHarness(Config{MaxRetries: 3}, pendingJob("F1", 0))
		h.ledger.recordFailures = 2

		report, err := h.service.RunCycle(context.Background())
		assert.Error(t, err)
		assert.Equal(t, 1, report.Charged)
		assert.Empty(t, h.ledger.recorded)
		assert.Contains(t, h.queue.archive, "F1")
	})
}

func TestRunCycle_DeliveryPanicKeepsArchivedSuccess(t *testing.T) {
	h := newHarness(Config{MaxRetries: 3}, pendingJob("F1", 0), pendingJob("F2", 1))
	h.delivery.panics = true

	report, err := h.service.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 2, report.Charged)
	assert.Contains(t, h.queue.archive, "F1")
	assert.Contains(t, h.queue.archive, "F2")
	assert.Empty(t, h.queue.jobs)
	assert.Equal(t, []int{2}, h.ledger.recorded)
}
