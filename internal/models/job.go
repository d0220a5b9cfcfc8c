// -----------------------------------------------------------------------
// Work queue records - jobs, archive, watermark and quota rows
// -----------------------------------------------------------------------

package models

import (
	"time"
)

// JobStatus is the persisted state of a queued job.
// COMPLETED is never stored: a successful job is archived and removed in one transaction.
type JobStatus string

const (
	JobStatusPending       JobStatus = "PENDING"
	JobStatusFailed        JobStatus = "FAILED"
	JobStatusPermanentFail JobStatus = "PERMANENT_FAIL"
	JobStatusCompleted     JobStatus = "COMPLETED"
)

// IsDequeueEligible reports whether the drain loop may select a job in this status.
// FAILED jobs are retried on later cycles; PERMANENT_FAIL jobs wait for an operator.
func (s JobStatus) IsDequeueEligible() bool {
	return s == JobStatusPending || s == JobStatusFailed
}

// ParseJobStatus returns the status for a persisted value and false when unknown.
func ParseJobStatus(s string) (JobStatus, bool) {
	switch JobStatus(s) {
	case JobStatusPending, JobStatusFailed, JobStatusPermanentFail:
		return JobStatus(s), true
	}
	return "", false
}

// Job is a work queue entry, keyed by the filing reference.
type Job struct {
	FilingRef      string     `json:"filing_ref" badgerhold:"key"`
	Identifier     string     `json:"identifier" badgerhold:"index"`
	FilingType     FilingType `json:"filing_type"`
	FilingDate     string     `json:"filing_date"`
	SourceLocation string     `json:"source_location"`
	Status         JobStatus  `json:"status" badgerhold:"index"`
	RetryCount     int        `json:"retry_count"`
	LastError      string     `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	LastModifiedAt time.Time  `json:"last_modified_at"`

	// Set between analysis and archive only; failed jobs never carry one.
	AnalysisResult *Analysis `json:"analysis_result,omitempty"`
}

// NewJob creates a PENDING job for a discovered filing
func NewJob(f Filing, now time.Time) *Job {
	return &Job{
		FilingRef:      f.Ref,
		Identifier:     f.Identifier,
		FilingType:     f.Type,
		FilingDate:     f.Date,
		SourceLocation: f.SourceLocation,
		Status:         JobStatusPending,
		CreatedAt:      now,
		LastModifiedAt: now,
	}
}

// RecordFailure applies one failed attempt: the retry counter advances and the job either
// stays retryable (FAILED) or becomes PERMANENT_FAIL once maxRetries attempts have failed.
func (j *Job) RecordFailure(cause error, maxRetries int, now time.Time) {
	j.RetryCount++
	if j.RetryCount >= maxRetries {
		j.Status = JobStatusPermanentFail
	} else {
		j.Status = JobStatusFailed
	}
	if cause != nil {
		j.LastError = cause.Error()
	}
	j.LastModifiedAt = now
}

// MarkPermanent moves a job straight to PERMANENT_FAIL without consuming retries.
// Used for precondition errors that no amount of retrying can fix.
func (j *Job) MarkPermanent(cause error, now time.Time) {
	j.Status = JobStatusPermanentFail
	if cause != nil {
		j.LastError = cause.Error()
	}
	j.LastModifiedAt = now
}

// ArchiveRecord is the append-only record of a successfully analysed filing
type ArchiveRecord struct {
	FilingRef      string     `json:"filing_ref" badgerhold:"key"`
	Identifier     string     `json:"identifier" badgerhold:"index"`
	FilingType     FilingType `json:"filing_type"`
	FilingDate     string     `json:"filing_date"`
	SourceLocation string     `json:"source_location"`
	AnalysisResult string     `json:"analysis_result"` // serialized Analysis JSON
	AnalyzedAt     time.Time  `json:"analyzed_at"`
}

// Watermark is the last filing seen for an identifier
type Watermark struct {
	Identifier     string     `json:"identifier" badgerhold:"key"`
	LastFilingRef  string     `json:"last_filing_ref"`
	LastFilingType FilingType `json:"last_filing_type"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// QuotaStateKey is the fixed key of the quota singleton row
const QuotaStateKey = "quota"

// QuotaState is the singleton daily usage counter.
// RequestCount is only meaningful while CurrentDate equals today in the quota timezone.
type QuotaState struct {
	ID           string    `json:"id" badgerhold:"key"`
	CurrentDate  string    `json:"current_date"` // YYYY-MM-DD in the quota timezone
	RequestCount int       `json:"request_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Subscription links a recipient to a tracked identifier
type Subscription struct {
	Key         string    `json:"key" badgerhold:"key"` // identifier|recipient
	Identifier  string    `json:"identifier" badgerhold:"index"`
	RecipientID int64     `json:"recipient_id" badgerhold:"index"`
	CreatedAt   time.Time `json:"created_at"`
}
