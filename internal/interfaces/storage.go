// -----------------------------------------------------------------------
// Storage interfaces - watermark, work queue, archive, quota, subscriptions
// -----------------------------------------------------------------------

package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/filingwatch/internal/models"
)

var (
	// ErrAlreadyArchived is returned by ArchiveAndRemove when the filing already has an archive record.
	// The queue row is still removed in that case.
	ErrAlreadyArchived = errors.New("filing already archived")

	// ErrAlreadyPending is returned when requeueing a job that is already waiting to run
	ErrAlreadyPending = errors.New("job is already pending")
)

// WatermarkStorage - per-identifier last-seen filing
type WatermarkStorage interface {
	// GetWatermark returns nil (and no error) when the identifier has never been discovered
	GetWatermark(ctx context.Context, identifier string) (*models.Watermark, error)
	SaveWatermark(ctx context.Context, watermark *models.Watermark) error
	ListWatermarks(ctx context.Context) ([]*models.Watermark, error)
}

// QueueStorage - durable work queue keyed by filing reference
type QueueStorage interface {
	// Upsert inserts the job, or on key conflict updates only status and timestamp
	Upsert(ctx context.Context, job *models.Job) error
	// DequeuePending returns up to limit dequeue-eligible jobs (PENDING or FAILED), oldest LastModifiedAt first
	DequeuePending(ctx context.Context, limit int) ([]*models.Job, error)
	// UpdateStatus persists status, retry count, last error and timestamp
	UpdateStatus(ctx context.Context, job *models.Job) error
	// ArchiveAndRemove inserts the archive record and deletes the queue row in one transaction
	ArchiveAndRemove(ctx context.Context, job *models.Job, record *models.ArchiveRecord) error

	GetJob(ctx context.Context, filingRef string) (*models.Job, error)
	ListByStatus(ctx context.Context, status models.JobStatus, limit int) ([]*models.Job, error)
	CountByStatus(ctx context.Context) (map[models.JobStatus]int, error)
	Delete(ctx context.Context, filingRef string) error

	// Requeue resets a FAILED or PERMANENT_FAIL job to PENDING with a fresh retry budget
	Requeue(ctx context.Context, filingRef string, now time.Time) (*models.Job, error)
}

// ArchiveStorage - append-only record of analysed filings
type ArchiveStorage interface {
	GetArchive(ctx context.Context, filingRef string) (*models.ArchiveRecord, error)
	ListArchiveByIdentifier(ctx context.Context, identifier string, limit int) ([]*models.ArchiveRecord, error)
	CountArchive(ctx context.Context) (int, error)
}

// QuotaStorage - singleton quota row
type QuotaStorage interface {
	// GetQuotaState returns the stored row, or a zero row when none has been written
	GetQuotaState(ctx context.Context) (*models.QuotaState, error)
	// AddUsage atomically applies the lazy reset and increment: if the stored date differs from
	// today the count restarts at zero, then n is added and today's date stored.
	AddUsage(ctx context.Context, today string, n int) (*models.QuotaState, error)
}

// SubscriptionStorage - recipients per identifier
type SubscriptionStorage interface {
	AddSubscription(ctx context.Context, identifier string, recipientID int64) (bool, error)
	RemoveSubscription(ctx context.Context, identifier string, recipientID int64) (bool, error)
	ListIdentifiers(ctx context.Context) ([]string, error)
	ListRecipients(ctx context.Context, identifier string) ([]int64, error)
	ListByRecipient(ctx context.Context, recipientID int64) ([]string, error)
}

// StorageManager - aggregates all storage interfaces
type StorageManager interface {
	WatermarkStorage() WatermarkStorage
	QueueStorage() QueueStorage
	ArchiveStorage() ArchiveStorage
	QuotaStorage() QuotaStorage
	SubscriptionStorage() SubscriptionStorage
	Close() error
}
