package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/filingwatch/internal/interfaces"
	"github.com/ternarybob/filingwatch/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

var (
	ErrAlreadyArchived = interfaces.ErrAlreadyArchived
	ErrAlreadyPending  = interfaces.ErrAlreadyPending
)

// QueueStorage implements the work queue and archive tables.
// Jobs and archive records are stored by value; badgerhold prefixes keys with the type name,
// so storing a pointer in one place and a value in another would split the table.
type QueueStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewQueueStorage creates a new QueueStorage instance
func NewQueueStorage(db *BadgerDB, logger arbor.ILogger) *QueueStorage {
	return &QueueStorage{
		db:     db,
		logger: logger,
	}
}

// Upsert inserts a job, or for an existing filing reference updates only status and timestamp.
// Filings that already have an archive record are not re-queued.
func (s *QueueStorage) Upsert(ctx context.Context, job *models.Job) error {
	if job == nil || job.FilingRef == "" {
		return fmt.Errorf("filing reference is required")
	}

	inserted := false
	err := s.db.Update(func(tx *badger.Txn) error {
		inserted = false

		var archived models.ArchiveRecord
		err := s.db.Store().TxGet(tx, job.FilingRef, &archived)
		if err == nil {
			return ErrAlreadyArchived
		}
		if !errors.Is(err, badgerhold.ErrNotFound) {
			return err
		}

		var existing models.Job
		err = s.db.Store().TxGet(tx, job.FilingRef, &existing)
		if errors.Is(err, badgerhold.ErrNotFound) {
			record := *job
			record.AnalysisResult = nil
			if record.CreatedAt.IsZero() {
				record.CreatedAt = record.LastModifiedAt
			}
			inserted = true
			return s.db.Store().TxInsert(tx, record.FilingRef, record)
		}
		if err != nil {
			return err
		}

		existing.Status = job.Status
		existing.LastModifiedAt = job.LastModifiedAt
		return s.db.Store().TxUpdate(tx, existing.FilingRef, existing)
	})

	if errors.Is(err, ErrAlreadyArchived) {
		s.logger.Debug().
			Str("filing_ref", job.FilingRef).
			Msg("BadgerDB: filing already archived, not re-queued")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to upsert job %s: %w", job.FilingRef, err)
	}

	s.logger.Trace().
		Str("filing_ref", job.FilingRef).
		Str("status", string(job.Status)).
		Bool("inserted", inserted).
		Msg("BadgerDB: job upserted")
	return nil
}

// DequeuePending returns up to limit PENDING or FAILED jobs, oldest LastModifiedAt first.
// Jobs are not leased: the drain loop is single-flight, so selection alone is enough.
func (s *QueueStorage) DequeuePending(ctx context.Context, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	var jobs []models.Job
	query := badgerhold.Where("Status").In(models.JobStatusPending, models.JobStatusFailed).
		SortBy("LastModifiedAt", "FilingRef").
		Limit(limit)
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to dequeue jobs: %w", err)
	}

	return toJobPointers(jobs), nil
}

// UpdateStatus persists status, retry count, last error and timestamp of an existing job
func (s *QueueStorage) UpdateStatus(ctx context.Context, job *models.Job) error {
	err := s.db.Update(func(tx *badger.Txn) error {
		var existing models.Job
		if err := s.db.Store().TxGet(tx, job.FilingRef, &existing); err != nil {
			return err
		}
		existing.Status = job.Status
		existing.RetryCount = job.RetryCount
		existing.LastError = job.LastError
		existing.LastModifiedAt = job.LastModifiedAt
		return s.db.Store().TxUpdate(tx, existing.FilingRef, existing)
	})
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", job.FilingRef, err)
	}

	s.logger.Trace().
		Str("filing_ref", job.FilingRef).
		Str("status", string(job.Status)).
		Int("retry_count", job.RetryCount).
		Msg("BadgerDB: job status updated")
	return nil
}

// ArchiveAndRemove inserts the archive record and deletes the queue row in one transaction.
// If the archive record already exists the queue row is still deleted and ErrAlreadyArchived returned,
// so a filing can never be archived twice nor stay queued once archived.
func (s *QueueStorage) ArchiveAndRemove(ctx context.Context, job *models.Job, record *models.ArchiveRecord) error {
	if record == nil || record.FilingRef != job.FilingRef {
		return fmt.Errorf("archive record does not match job %s", job.FilingRef)
	}

	alreadyArchived := false
	err := s.db.Update(func(tx *badger.Txn) error {
		alreadyArchived = false

		var existing models.ArchiveRecord
		err := s.db.Store().TxGet(tx, record.FilingRef, &existing)
		switch {
		case err == nil:
			alreadyArchived = true
		case errors.Is(err, badgerhold.ErrNotFound):
			if err := s.db.Store().TxInsert(tx, record.FilingRef, *record); err != nil {
				return err
			}
		default:
			return err
		}

		if err := s.db.Store().TxDelete(tx, job.FilingRef, models.Job{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to archive job %s: %w", job.FilingRef, err)
	}

	if alreadyArchived {
		s.logger.Warn().
			Str("filing_ref", job.FilingRef).
			Msg("BadgerDB: filing was already archived, queue row removed")
		return ErrAlreadyArchived
	}

	s.logger.Trace().
		Str("filing_ref", job.FilingRef).
		Msg("BadgerDB: job archived and removed from queue")
	return nil
}

// GetJob returns a queued job by filing reference
func (s *QueueStorage) GetJob(ctx context.Context, filingRef string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(filingRef, &job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("job not found: %s: %w", filingRef, err)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// ListByStatus returns jobs in a status, oldest first. Empty status lists every job.
func (s *QueueStorage) ListByStatus(ctx context.Context, status models.JobStatus, limit int) ([]*models.Job, error) {
	var query *badgerhold.Query
	if status != "" {
		query = badgerhold.Where("Status").Eq(status).SortBy("LastModifiedAt")
	} else {
		query = badgerhold.Where("FilingRef").Ne("").SortBy("LastModifiedAt")
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return toJobPointers(jobs), nil
}

// CountByStatus returns the number of queued jobs per status
func (s *QueueStorage) CountByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	counts := make(map[models.JobStatus]int)
	for _, status := range []models.JobStatus{models.JobStatusPending, models.JobStatusFailed, models.JobStatusPermanentFail} {
		count, err := s.db.Store().Count(models.Job{}, badgerhold.Where("Status").Eq(status))
		if err != nil {
			return nil, fmt.Errorf("failed to count %s jobs: %w", status, err)
		}
		counts[status] = int(count)
	}
	return counts, nil
}

// Delete removes a queued job without archiving it
func (s *QueueStorage) Delete(ctx context.Context, filingRef string) error {
	if err := s.db.Store().Delete(filingRef, models.Job{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("job not found: %s: %w", filingRef, err)
		}
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

// GetArchive returns the archive record of a filing
func (s *QueueStorage) GetArchive(ctx context.Context, filingRef string) (*models.ArchiveRecord, error) {
	var record models.ArchiveRecord
	if err := s.db.Store().Get(filingRef, &record); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("archive record not found: %s: %w", filingRef, err)
		}
		return nil, fmt.Errorf("failed to get archive record: %w", err)
	}
	return &record, nil
}

// ListArchiveByIdentifier returns the newest archive records of an identifier
func (s *QueueStorage) ListArchiveByIdentifier(ctx context.Context, identifier string, limit int) ([]*models.ArchiveRecord, error) {
	query := badgerhold.Where("Identifier").Eq(identifier).SortBy("AnalyzedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var records []models.ArchiveRecord
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list archive: %w", err)
	}

	result := make([]*models.ArchiveRecord, len(records))
	for i := range records {
		result[i] = &records[i]
	}
	return result, nil
}

// CountArchive returns the number of archive records
func (s *QueueStorage) CountArchive(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(models.ArchiveRecord{}, nil)
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// Requeue resets a job to PENDING with a fresh retry budget. Used by operators after PERMANENT_FAIL.
func (s *QueueStorage) Requeue(ctx context.Context, filingRef string, now time.Time) (*models.Job, error) {
	var result models.Job
	err := s.db.Update(func(tx *badger.Txn) error {
		var existing models.Job
		if err := s.db.Store().TxGet(tx, filingRef, &existing); err != nil {
			return err
		}
		if existing.Status == models.JobStatusPending {
			return ErrAlreadyPending
		}
		existing.Status = models.JobStatusPending
		existing.RetryCount = 0
		existing.LastError = ""
		existing.LastModifiedAt = now
		result = existing
		return s.db.Store().TxUpdate(tx, existing.FilingRef, existing)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to requeue job %s: %w", filingRef, err)
	}

	s.logger.Info().
		Str("filing_ref", filingRef).
		Msg("BadgerDB: job requeued")
	return &result, nil
}

func toJobPointers(jobs []models.Job) []*models.Job {
	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result
}

var (
	_ interfaces.QueueStorage   = (*QueueStorage)(nil)
	_ interfaces.ArchiveStorage = (*QueueStorage)(nil)
)
