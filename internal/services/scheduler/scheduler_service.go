package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/filingwatch/internal/common"
	"github.com/ternarybob/filingwatch/internal/interfaces"
)

// DefaultStopTimeout bounds how long Stop waits for in-flight jobs
const DefaultStopTimeout = 30 * time.Second

// jobEntry represents a registered job with metadata
type jobEntry struct {
	name        string
	schedule    string
	description string
	handler     func() error
	cronID      cron.EntryID
	lastRun     *time.Time
	isRunning   bool
	lastError   string
	skipped     int
}

// Service implements SchedulerService over robfig/cron.
// Every job is single-flight: a cron tick or manual trigger that arrives while the job is running is dropped.
// Different jobs run independently of each other.
type Service struct {
	cron        *cron.Cron
	logger      arbor.ILogger
	jobMu       sync.Mutex // Protects jobs map and entries
	jobs        map[string]*jobEntry
	running     bool
	inflight    sync.WaitGroup
	stopTimeout time.Duration
}

// NewService creates a new scheduler service
func NewService(logger arbor.ILogger) *Service {
	cronLog := &cronLogger{logger: logger}
	return &Service{
		cron: cron.New(
			cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		logger:      logger,
		jobs:        make(map[string]*jobEntry),
		stopTimeout: DefaultStopTimeout,
	}
}

// Start begins firing registered jobs
func (s *Service) Start() error {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.cron.Start()
	s.running = true

	s.logger.Info().Int("jobs", len(s.jobs)).Msg("Scheduler started")
	return nil
}

// Stop halts the timers and waits for running jobs to finish
func (s *Service) Stop() error {
	s.jobMu.Lock()
	if !s.running {
		s.jobMu.Unlock()
		return nil
	}
	s.running = false
	s.jobMu.Unlock()

	cronDone := s.cron.Stop()

	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("Scheduler stopped")
		return nil
	case <-time.After(s.stopTimeout):
		s.logger.Warn().Dur("timeout", s.stopTimeout).Msg("Scheduler stopped with jobs still running")
		return fmt.Errorf("jobs still running after %s", s.stopTimeout)
	}
}

// IsRunning returns true if scheduler is active
func (s *Service) IsRunning() bool {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()
	return s.running
}

// RegisterJob registers a new job with the scheduler
func (s *Service) RegisterJob(name string, schedule string, description string, handler func() error) error {
	if err := common.ValidateSchedule(schedule); err != nil {
		return fmt.Errorf("invalid schedule for %s: %w", name, err)
	}
	if handler == nil {
		return fmt.Errorf("job %s has no handler", name)
	}

	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	entry := &jobEntry{
		name:        name,
		schedule:    schedule,
		description: description,
		handler:     handler,
	}

	cronID, err := s.cron.AddFunc(schedule, func() {
		s.executeJob(name)
	})
	if err != nil {
		return fmt.Errorf("failed to add job to cron: %w", err)
	}

	entry.cronID = cronID
	s.jobs[name] = entry

	s.logger.Info().
		Str("job_name", name).
		Str("schedule", schedule).
		Msg("Job registered")

	return nil
}

// TriggerJob starts a registered job in the background.
// It returns false when the job was already running and the trigger was dropped.
func (s *Service) TriggerJob(name string) (bool, error) {
	entry, ok, err := s.claim(name)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	s.logger.Info().Str("job_name", name).Msg("Manual job trigger")
	s.inflight.Add(1)
	common.SafeGo(s.logger, "job:"+name, func() {
		defer s.inflight.Done()
		s.run(entry)
	})
	return true, nil
}

// GetJobStatus returns the status of a specific job
func (s *Service) GetJobStatus(name string) (*interfaces.ScheduledJobStatus, error) {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	entry, exists := s.jobs[name]
	if !exists {
		return nil, fmt.Errorf("job %s not found", name)
	}
	return s.statusLocked(entry), nil
}

// GetAllJobStatuses returns all job statuses
func (s *Service) GetAllJobStatuses() map[string]*interfaces.ScheduledJobStatus {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	statuses := make(map[string]*interfaces.ScheduledJobStatus, len(s.jobs))
	for name, entry := range s.jobs {
		statuses[name] = s.statusLocked(entry)
	}
	return statuses
}

// JobNames returns the registered job names, sorted
func (s *Service) JobNames() []string {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Service) statusLocked(entry *jobEntry) *interfaces.ScheduledJobStatus {
	var nextRun *time.Time
	if s.running {
		if next := s.cron.Entry(entry.cronID).Next; !next.IsZero() {
			nextRun = &next
		}
	}
	return &interfaces.ScheduledJobStatus{
		Name:        entry.name,
		Schedule:    entry.schedule,
		Description: entry.description,
		LastRun:     entry.lastRun,
		NextRun:     nextRun,
		IsRunning:   entry.isRunning,
		LastError:   entry.lastError,
		Skipped:     entry.skipped,
	}
}

// claim marks the job as running, or counts a skip when it already is
func (s *Service) claim(name string) (*jobEntry, bool, error) {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	entry, exists := s.jobs[name]
	if !exists {
		return nil, false, fmt.Errorf("job %s not found", name)
	}
	if entry.isRunning {
		entry.skipped++
		s.logger.Debug().
			Str("job_name", name).
			Int("skipped", entry.skipped).
			Msg("Job still running, invocation dropped")
		return entry, false, nil
	}
	entry.isRunning = true
	return entry, true, nil
}

// executeJob is the cron callback
func (s *Service) executeJob(name string) {
	entry, ok, err := s.claim(name)
	if err != nil {
		s.logger.Warn().Str("job_name", name).Msg("Job not found")
		return
	}
	if !ok {
		return
	}
	s.run(entry)
}

// run executes a claimed job with panic recovery and status tracking
func (s *Service) run(entry *jobEntry) {
	start := time.Now()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		err = entry.handler()
	}()

	completionTime := time.Now()
	s.jobMu.Lock()
	entry.isRunning = false
	entry.lastRun = &completionTime
	if err != nil {
		entry.lastError = err.Error()
	} else {
		entry.lastError = ""
	}
	s.jobMu.Unlock()

	if err != nil {
		s.logger.Error().
			Str("job_name", entry.name).
			Err(err).
			Dur("duration", completionTime.Sub(start)).
			Msg("Job execution failed")
		return
	}
	s.logger.Debug().
		Str("job_name", entry.name).
		Dur("duration", completionTime.Sub(start)).
		Msg("Job execution completed")
}

// cronLogger adapts arbor to the cron.Logger interface
type cronLogger struct {
	logger arbor.ILogger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Trace().Str("cron", fmt.Sprint(keysAndValues...)).Msg(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Str("cron", fmt.Sprint(keysAndValues...)).Msg(msg)
}

var _ interfaces.SchedulerService = (*Service)(nil)
