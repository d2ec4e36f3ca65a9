// Package scheduler runs the periodic maintenance jobs: counter reconciliation, local
// recovery and pending mutation replay.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.trai.ch/docsync/internal/core/ports"
	"go.trai.ch/zerr"
)

// TaskStatus represents the status of a scheduled job's latest run.
type TaskStatus string

const (
	// StatusPending indicates the job has not run yet.
	StatusPending TaskStatus = "Pending"
	// StatusRunning indicates the job is currently executing.
	StatusRunning TaskStatus = "Running"
	// StatusCompleted indicates the latest run finished successfully.
	StatusCompleted TaskStatus = "Completed"
	// StatusFailed indicates the latest run returned an error.
	StatusFailed TaskStatus = "Failed"
)

// TaskFunc is one run of a job.
type TaskFunc func(ctx context.Context) error

// Job is a named task and the cron schedule it runs on.
type Job struct {
	Name     string
	Schedule string
	Run      TaskFunc
	// Timeout bounds one run. Zero means no bound beyond the scheduler's context.
	Timeout time.Duration
}

// Scheduler runs jobs on their schedules. A job never overlaps with its own previous run.
type Scheduler struct {
	cron   *cron.Cron
	logger ports.Logger

	mu         sync.RWMutex
	taskStatus map[string]TaskStatus
	entries    map[string]cron.EntryID
	ctx        context.Context
}

// NewScheduler creates an idle Scheduler.
func NewScheduler(logger ports.Logger) *Scheduler {
	return &Scheduler{
		cron:       cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:     logger,
		taskStatus: make(map[string]TaskStatus),
		entries:    make(map[string]cron.EntryID),
		ctx:        context.Background(),
	}
}

// Add registers a job. Schedules use the standard five-field cron syntax or descriptors
// such as "@every 1h".
func (s *Scheduler) Add(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[job.Name]; ok {
		s.cron.Remove(id)
	}

	id, err := s.cron.AddFunc(job.Schedule, func() { s.runJob(job) })
	if err != nil {
		return zerr.With(zerr.With(zerr.Wrap(err, "invalid job schedule"), "job", job.Name), "schedule", job.Schedule)
	}
	s.entries[job.Name] = id
	s.taskStatus[job.Name] = StatusPending
	return nil
}

// RunNow executes a registered job once, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, job Job) error {
	return s.execute(ctx, job)
}

func (s *Scheduler) runJob(job Job) {
	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()

	if err := s.execute(ctx, job); err != nil {
		s.logger.Error(zerr.With(err, "job", job.Name))
	}
}

func (s *Scheduler) execute(ctx context.Context, job Job) error {
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	s.updateStatus(job.Name, StatusRunning)
	start := time.Now()
	err := job.Run(ctx)
	if err != nil {
		s.updateStatus(job.Name, StatusFailed)
		return err
	}
	s.updateStatus(job.Name, StatusCompleted)
	s.logger.Info("scheduled job completed", "job", job.Name, "duration", time.Since(start).String())
	return nil
}

// Run starts the schedule and blocks until ctx is done, then waits for running jobs.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.entries))

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

// updateStatus updates the status of a job.
func (s *Scheduler) updateStatus(name string, status TaskStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taskStatus[name] = status
}

// Status returns the status of a job's latest run.
func (s *Scheduler) Status(name string) TaskStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.taskStatus[name]
}
