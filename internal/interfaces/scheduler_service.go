package interfaces

import "time"

// ScheduledJobStatus represents the current status of a scheduled job
type ScheduledJobStatus struct {
	Name        string     `json:"name"`
	Schedule    string     `json:"schedule"`
	Description string     `json:"description"`
	LastRun     *time.Time `json:"last_run,omitempty"`
	NextRun     *time.Time `json:"next_run,omitempty"`
	IsRunning   bool       `json:"is_running"`
	LastError   string     `json:"last_error,omitempty"`
	Skipped     int        `json:"skipped"` // invocations coalesced while a run was in progress
}

// SchedulerService manages the periodic timers
type SchedulerService interface {
	// RegisterJob registers a single-flight job; overlapping invocations are dropped
	RegisterJob(name, schedule, description string, handler func() error) error

	// TriggerJob runs a registered job now, subject to the same single-flight rule
	TriggerJob(name string) (bool, error)

	Start() error
	Stop() error
	IsRunning() bool

	GetJobStatus(name string) (*ScheduledJobStatus, error)
	GetAllJobStatuses() map[string]*ScheduledJobStatus
}
