package primary

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DrainFunc drains dead-letter queues and returns the number of
// Transactions written.
type DrainFunc func(ctx context.Context) (int, error)

// Scheduler requests dead-letter drains on a cron schedule, in addition to
// the drains workers run on their own every DrainEvery flushes.
type Scheduler struct {
	schedule string
	drain    DrainFunc
	cron     *cron.Cron
	mu       sync.Mutex
	logger   *slog.Logger
	running  bool
}

// NewScheduler creates a drain scheduler.
func NewScheduler(schedule string, drain DrainFunc) *Scheduler {
	return &Scheduler{
		schedule: schedule,
		drain:    drain,
		cron:     cron.New(),
		logger:   slog.Default().With("component", "apm.drain_scheduler"),
	}
}

// Start schedules drains using a standard five-field cron expression, for
// example "*/5 * * * *". An empty schedule does nothing. The scheduler
// stops when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("drain schedule not configured, skipping scheduler")
		return nil
	}
	if s.running {
		return nil
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}

	if _, err := s.cron.AddFunc(s.schedule, func() {
		s.runDrain(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule drain: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("drain scheduler started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

func (s *Scheduler) runDrain(ctx context.Context) {
	n, err := s.drain(ctx)
	if err != nil {
		s.logger.Error("scheduled drain failed", "drained", n, "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("scheduled drain completed", "drained", n)
	} else {
		s.logger.Debug("scheduled drain completed, queues empty")
	}
}

// Stop stops the scheduler and waits for a running drain to complete.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("drain scheduler stopped")
	}
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled drain, or nil when none is scheduled.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
