package badger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/filingwatch/internal/common"
	"github.com/ternarybob/filingwatch/internal/models"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	manager, err := NewManager(arbor.NewLogger(), &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })
	return manager
}

func testJob(ref string, modified time.Time) *models.Job {
	return models.NewJob(models.Filing{
		Ref:            ref,
		Identifier:     "AAPL",
		Type:           models.FilingTypeEvent,
		Date:           "2025-01-10",
		SourceLocation: "https://www.sec.gov/Archives/edgar/data/320193/" + ref,
	}, modified)
}

func TestQueueStorage_DequeueOrderAndEligibility(t *testing.T) {
	ctx := context.Background()
	queue := newTestManager(t).QueueStorage()
	base := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

	require.NoError(t, queue.Upsert(ctx, testJob("A-3", base.Add(3*time.Second))))
	require.NoError(t, queue.Upsert(ctx, testJob("A-1", base.Add(1*time.Second))))
	require.NoError(t, queue.Upsert(ctx, testJob("A-2", base.Add(2*time.Second))))

	failed := testJob("A-0", base)
	failed.Status = models.JobStatusFailed
	require.NoError(t, queue.Upsert(ctx, failed))

	permanent := testJob("A-P", base.Add(-time.Hour))
	permanent.Status = models.JobStatusPermanentFail
	require.NoError(t, queue.Upsert(ctx, permanent))

	jobs, err := queue.DequeuePending(ctx, 3)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, "A-0", jobs[0].FilingRef)
	assert.Equal(t, "A-1", jobs[1].FilingRef)
	assert.Equal(t, "A-2", jobs[2].FilingRef)

	none, err := queue.DequeuePending(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	counts, err := queue.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[models.JobStatusPending])
	assert.Equal(t, 1, counts[models.JobStatusFailed])
	assert.Equal(t, 1, counts[models.JobStatusPermanentFail])
}

func TestQueueStorage_UpsertConflictUpdatesStatusOnly(t *testing.T) {
	ctx := context.Background()
	queue := newTestManager(t).QueueStorage()
	base := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

	job := testJob("B-1", base)
	job.RetryCount = 2
	job.LastError = "boom"
	require.NoError(t, queue.Upsert(ctx, job))

	again := testJob("B-1", base.Add(time.Minute))
	again.SourceLocation = "changed"
	require.NoError(t, queue.Upsert(ctx, again))

	stored, err := queue.GetJob(ctx, "B-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.RetryCount)
	assert.Equal(t, "boom", stored.LastError)
	assert.NotEqual(t, "changed", stored.SourceLocation)
	assert.True(t, stored.LastModifiedAt.Equal(base.Add(time.Minute)))
}

func TestQueueStorage_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	queue := newTestManager(t).QueueStorage()
	now := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

	job := testJob("C-1", now)
	require.NoError(t, queue.Upsert(ctx, job))

	job.RecordFailure(errors.New("timeout"), 3, now.Add(time.Minute))
	require.NoError(t, queue.UpdateStatus(ctx, job))

	stored, err := queue.GetJob(ctx, "C-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	assert.Equal(t, "timeout", stored.LastError)

	assert.Error(t, queue.UpdateStatus(ctx, testJob("missing", now)))
}

func TestQueueStorage_ArchiveAndRemove(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	queue := manager.QueueStorage()
	archive := manager.ArchiveStorage()
	now := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

	job := testJob("D-1", now)
	require.NoError(t, queue.Upsert(ctx, job))

	record := &models.ArchiveRecord{
		FilingRef:      job.FilingRef,
		Identifier:     job.Identifier,
		FilingType:     job.FilingType,
		FilingDate:     job.FilingDate,
		SourceLocation: job.SourceLocation,
		AnalysisResult: `{"executive_summary":"s"}`,
		AnalyzedAt:     now,
	}
	require.NoError(t, queue.ArchiveAndRemove(ctx, job, record))

	_, err := queue.GetJob(ctx, "D-1")
	assert.Error(t, err)

	stored, err := archive.GetArchive(ctx, "D-1")
	require.NoError(t, err)
	assert.Equal(t, record.AnalysisResult, stored.AnalysisResult)

	// re-discovery of an archived filing does not re-queue it
	require.NoError(t, queue.Upsert(ctx, testJob("D-1", now.Add(time.Hour))))
	_, err = queue.GetJob(ctx, "D-1")
	assert.Error(t, err)

	// a second archive attempt removes the row but keeps the first record
	require.NoError(t, manager.queue.db.Store().Insert("D-1", *testJob("D-1", now)))
	second := *record
	second.AnalysisResult = "other"
	err = queue.ArchiveAndRemove(ctx, job, &second)
	assert.True(t, errors.Is(err, ErrAlreadyArchived))
	_, err = queue.GetJob(ctx, "D-1")
	assert.Error(t, err)

	stored, err = archive.GetArchive(ctx, "D-1")
	require.NoError(t, err)
	assert.Equal(t, record.AnalysisResult, stored.AnalysisResult)

	count, err := archive.CountArchive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	records, err := archive.ListArchiveByIdentifier(ctx, "AAPL", 10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestQueueStorage_Requeue(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t)
	now := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

	job := testJob("E-1", now)
	job.Status = models.JobStatusPermanentFail
	job.RetryCount = 3
	require.NoError(t, manager.QueueStorage().Upsert(ctx, job))

	requeued, err := manager.queue.Requeue(ctx, "E-1", now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, requeued.Status)
	assert.Equal(t, 0, requeued.RetryCount)

	_, err = manager.queue.Requeue(ctx, "E-1", now)
	assert.True(t, errors.Is(err, ErrAlreadyPending))
}

func TestWatermarkStorage(t *testing.T) {
	ctx := context.Background()
	watermarks := newTestManager(t).WatermarkStorage()

	wm, err := watermarks.GetWatermark(ctx, "MSFT")
	require.NoError(t, err)
	assert.Nil(t, wm)

	require.NoError(t, watermarks.SaveWatermark(ctx, &models.Watermark{Identifier: "MSFT", LastFilingRef: "F1"}))
	require.NoError(t, watermarks.SaveWatermark(ctx, &models.Watermark{Identifier: "MSFT", LastFilingRef: "F2"}))

	wm, err = watermarks.GetWatermark(ctx, "MSFT")
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.Equal(t, "F2", wm.LastFilingRef)

	all, err := watermarks.ListWatermarks(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestQuotaStorage_LazyResetAndConcurrentAdds(t *testing.T) {
	ctx := context.Background()
	quota := newTestManager(t).QuotaStorage()

	state, err := quota.GetQuotaState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, state.RequestCount)

	state, err = quota.AddUsage(ctx, "2025-01-10", 40)
	require.NoError(t, err)
	assert.Equal(t, 40, state.RequestCount)

	// a new day starts from zero before adding
	state, err = quota.AddUsage(ctx, "2025-01-11", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, state.RequestCount)
	assert.Equal(t, "2025-01-11", state.CurrentDate)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := quota.AddUsage(ctx, "2025-01-11", 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	state, err = quota.GetQuotaState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 11, state.RequestCount)

	_, err = quota.AddUsage(ctx, "2025-01-11", -1)
	assert.Error(t, err)
}

func TestSubscriptionStorage(t *testing.T) {
	ctx := context.Background()
	subs := newTestManager(t).SubscriptionStorage()

	added, err := subs.AddSubscription(ctx, "AAPL", 100)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = subs.AddSubscription(ctx, "AAPL", 100)
	require.NoError(t, err)
	assert.False(t, added)

	_, err = subs.AddSubscription(ctx, "AAPL", 200)
	require.NoError(t, err)
	_, err = subs.AddSubscription(ctx, "TSLA", 100)
	require.NoError(t, err)

	identifiers, err := subs.ListIdentifiers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "TSLA"}, identifiers)

	recipients, err := subs.ListRecipients(ctx, "AAPL")
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{100, 200}, recipients)

	mine, err := subs.ListByRecipient(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "TSLA"}, mine)

	removed, err := subs.RemoveSubscription(ctx, "TSLA", 100)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = subs.RemoveSubscription(ctx, "TSLA", 100)
	require.NoError(t, err)
	assert.False(t, removed)
}
