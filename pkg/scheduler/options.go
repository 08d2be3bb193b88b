package scheduler

import (
	"log/slog"
	"time"
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithCheckInterval sets how often the scheduler looks for due jobs. Default 30s.
func WithCheckInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock injects the time source used to evaluate schedules.
func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// JobOption configures a single job.
type JobOption func(*job)

// WithTimeout bounds a single run of the job.
func WithTimeout(d time.Duration) JobOption {
	return func(j *job) {
		if d > 0 {
			j.timeout = d
		}
	}
}
