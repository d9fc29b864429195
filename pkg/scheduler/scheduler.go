// Package scheduler runs timer-driven jobs in-process. Cron triggers,
// polling loops, and push-channel renewals are all jobs here; each job
// computes its own next firing instant.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Job is one schedulable unit. Next returns the next firing instant after
// the given time; a zero time retires the job.
type Job struct {
	ID   string
	Next func(after time.Time) time.Time
	Run  func(ctx context.Context)
}

// Every builds a Next function firing at a fixed interval.
func Every(interval time.Duration) func(time.Time) time.Time {
	return func(after time.Time) time.Time {
		return after.Add(interval)
	}
}

// Scheduler owns job goroutines. One goroutine per job; Replace swaps a
// job atomically so duplicate registration never double-fires.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]context.CancelFunc
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
	now     func() time.Time
}

func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		jobs:   make(map[string]context.CancelFunc),
		ctx:    ctx,
		cancel: cancel,
		now:    time.Now,
	}
}

// Add registers a job. Adding an existing ID is an error; use Replace for
// re-registration.
func (s *Scheduler) Add(job Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if job.Next == nil || job.Run == nil {
		return fmt.Errorf("job %q needs Next and Run", job.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("scheduler is stopped")
	}
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %q already scheduled", job.ID)
	}
	s.start(job)
	return nil
}

// Replace registers a job, cancelling any prior job with the same ID.
func (s *Scheduler) Replace(job Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if job.Next == nil || job.Run == nil {
		return fmt.Errorf("job %q needs Next and Run", job.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("scheduler is stopped")
	}
	if cancel, exists := s.jobs[job.ID]; exists {
		cancel()
	}
	s.start(job)
	return nil
}

// Remove cancels a job. Removing an unknown ID is a no-op.
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cancel, exists := s.jobs[id]; exists {
		cancel()
		delete(s.jobs, id)
	}
}

// Jobs returns the IDs of currently scheduled jobs.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	return ids
}

// Stop cancels all jobs and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.cancel()
	s.jobs = make(map[string]context.CancelFunc)
	s.mu.Unlock()

	s.wg.Wait()
}

// start must be called with the lock held.
func (s *Scheduler) start(job Job) {
	jobCtx, cancel := context.WithCancel(s.ctx)
	s.jobs[job.ID] = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(jobCtx, job)
	}()
}

func (s *Scheduler) run(ctx context.Context, job Job) {
	for {
		next := job.Next(s.now())
		if next.IsZero() {
			slog.Debug("Job retired", "job", job.ID)
			return
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			job.Run(ctx)
		}
	}
}
