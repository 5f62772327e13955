// Package scheduler runs periodic background jobs such as the product entitlement
// mapping refresh.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lcrostarosa/entitlements/internal/logging"
)

// Schedule is a fixed interval between runs
type Schedule struct {
	// Expression is the text the schedule was parsed from
	Expression string

	interval time.Duration
}

// ParseSchedule parses a schedule expression
// Supports:
// - Simple: "hourly", "daily"
// - Intervals: "every 4h", "every 30m"
func ParseSchedule(expr string) (*Schedule, error) {
	expr = strings.TrimSpace(strings.ToLower(expr))
	s := &Schedule{Expression: expr}

	switch expr {
	case "hourly":
		s.interval = time.Hour
		return s, nil
	case "daily":
		s.interval = 24 * time.Hour
		return s, nil
	}

	if strings.HasPrefix(expr, "every ") {
		intervalStr := strings.TrimPrefix(expr, "every ")
		dur, err := time.ParseDuration(intervalStr)
		if err != nil {
			return nil, fmt.Errorf("invalid interval: %s", intervalStr)
		}
		if dur < time.Minute {
			return nil, fmt.Errorf("interval must be at least 1 minute")
		}
		s.interval = dur
		return s, nil
	}

	return nil, fmt.Errorf("unrecognized schedule format: %s", expr)
}

// Every returns a schedule running at interval d
func Every(d time.Duration) *Schedule {
	return &Schedule{Expression: "every " + d.String(), interval: d}
}

// Interval returns the time between runs
func (s *Schedule) Interval() time.Duration { return s.interval }

// NextRun calculates the next run time after 'after'
func (s *Schedule) NextRun(after time.Time) time.Time {
	return after.Add(s.interval)
}

// Job is the work a Scheduler runs
type Job func(ctx context.Context) error

// Scheduler runs a job on a schedule, retrying failures per its RetryStrategy
type Scheduler struct {
	name      string
	schedule  *Schedule
	job       Job
	retry     *RetryStrategy
	runFirst  bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool
	lastRun   time.Time
	lastError error
}

// Options configures a Scheduler
type Options struct {
	// Retry controls retries after a failed run. Nil never retries.
	Retry *RetryStrategy
	// RunImmediately runs the job once on Start before waiting for the schedule
	RunImmediately bool
}

// NewScheduler creates a new scheduler
func NewScheduler(name string, schedule *Schedule, job Job, opts *Options) *Scheduler {
	s := &Scheduler{
		name:     name,
		schedule: schedule,
		job:      job,
		retry:    NoRetry(),
	}
	if opts != nil {
		if opts.Retry != nil {
			s.retry = opts.Retry
		}
		s.runFirst = opts.RunImmediately
	}
	return s
}

// Start begins the scheduler. The job runs with a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx)
}

// Stop stops the scheduler and waits for a job in progress to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

// Status returns scheduler status
func (s *Scheduler) Status() (lastRun time.Time, lastError error, nextRun time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lastRun = s.lastRun
	lastError = s.lastError
	if s.running {
		if lastRun.IsZero() {
			nextRun = s.schedule.NextRun(time.Now())
		} else {
			nextRun = s.schedule.NextRun(lastRun)
		}
	}
	return
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	if s.runFirst {
		s.runWithRetry(ctx)
	}

	nextRun := s.schedule.NextRun(time.Now())
	logging.Debug("Scheduler started", logging.String("job", s.name), logging.Any("next_run", nextRun))

	for {
		wait := time.Until(nextRun)
		if wait < 0 {
			wait = time.Second
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logging.Debug("Scheduler stopped", logging.String("job", s.name))
			return
		case <-timer.C:
			s.runWithRetry(ctx)
			nextRun = s.schedule.NextRun(time.Now())
		}
	}
}

// runWithRetry runs the job, then retries per the strategy until it succeeds, the
// retries are exhausted or ctx is done.
func (s *Scheduler) runWithRetry(ctx context.Context) *RunResult {
	scheduled := time.Now()
	for attempt := 1; ; attempt++ {
		result := s.runOnce(ctx, scheduled, attempt)
		if result.Success || !result.WillRetry {
			return result
		}

		delay := s.retry.NextDelay(attempt)
		logging.Warn("Scheduled job failed, retrying",
			logging.String("job", s.name),
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Err(result.Error))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result
		case <-timer.C:
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, scheduled time.Time, attempt int) *RunResult {
	result := &RunResult{ScheduledTime: scheduled, StartTime: time.Now(), Attempt: attempt}
	result.Error = s.job(ctx)
	result.EndTime = time.Now()
	result.Success = result.Error == nil
	result.WillRetry = !result.Success && ctx.Err() == nil && s.retry.ShouldRetry(attempt)

	s.mu.Lock()
	s.lastRun = result.EndTime
	s.lastError = result.Error
	s.mu.Unlock()

	if result.Success {
		logging.Debug("Scheduled job completed", logging.String("job", s.name), logging.Duration("took", result.Duration()))
	} else if !result.WillRetry {
		logging.Warn("Scheduled job failed", logging.String("job", s.name), logging.Err(result.Error))
	}
	return result
}
