package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// Job is a unit of periodic work.
type Job func(ctx context.Context) error

// Scheduler runs registered jobs on their schedules. A job never overlaps
// with itself: a tick that finds the previous run still in flight is skipped.
type Scheduler struct {
	jobs     map[string]*job
	mu       sync.Mutex
	wg       sync.WaitGroup
	interval time.Duration
	clock    func() time.Time
	logger   *slog.Logger
	stopping bool
}

type job struct {
	name     string
	schedule Schedule
	fn       Job
	timeout  time.Duration
	next     time.Time
	running  bool
}

// New creates a Scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs:     make(map[string]*job),
		interval: 30 * time.Second,
		clock:    time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddJob registers a periodic job. The first run happens at schedule.Next(now).
func (s *Scheduler) AddJob(name string, schedule Schedule, fn Job, opts ...JobOption) error {
	if name == "" || fn == nil || schedule == nil {
		return ErrInvalidJob
	}

	j := &job{name: name, schedule: schedule, fn: fn}
	for _, opt := range opts {
		opt(j)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[name]; exists {
		return ErrJobAlreadyRegistered
	}
	j.next = schedule.Next(s.clock())
	s.jobs[name] = j

	s.logger.Info("registered periodic job",
		logger.Job(name),
		slog.String("schedule", schedule.String()),
		slog.Time("next_run", j.next))

	return nil
}

// Start checks for due jobs every check interval until ctx is done, then
// waits for in-flight runs to finish.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	jobCount := len(s.jobs)
	s.stopping = false
	s.mu.Unlock()

	if jobCount == 0 {
		return ErrSchedulerNotConfigured
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.checkJobs(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler shutting down")
			s.mu.Lock()
			s.stopping = true
			s.mu.Unlock()
			s.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			s.checkJobs(ctx)
		}
	}
}

// RunNow starts the named job immediately, outside its schedule, and waits
// for it to finish. It returns ErrSchedulerStopped once Start is shutting down.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return ErrSchedulerStopped
	}
	j, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return ErrJobNotFound
	}
	if j.running {
		s.mu.Unlock()
		return ErrJobRunning
	}
	j.running = true
	s.wg.Add(1)
	s.mu.Unlock()

	return s.run(ctx, j)
}

func (s *Scheduler) checkJobs(ctx context.Context) {
	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		if now.Before(j.next) {
			continue
		}
		planned := j.next
		j.next = j.schedule.Next(now)

		if j.running {
			s.logger.Warn("skipping periodic job, previous run still in progress",
				logger.Job(j.name),
				slog.Time("planned_for", planned))
			continue
		}

		j.running = true
		s.wg.Add(1)
		go func(j *job) {
			_ = s.run(ctx, j)
		}(j)
	}
}

// run executes j and clears its running flag. The caller has already called wg.Add.
func (s *Scheduler) run(ctx context.Context, j *job) error {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		j.running = false
		s.mu.Unlock()
	}()

	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	start := time.Now()
	err := j.fn(ctx)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		s.logger.Info("periodic job completed", logger.Job(j.name), logger.Duration(elapsed))
	case errors.Is(err, context.Canceled):
		s.logger.Warn("periodic job cancelled", logger.Job(j.name), logger.Duration(elapsed))
	default:
		s.logger.Error("periodic job failed", logger.Job(j.name), logger.Duration(elapsed), logger.Error(err))
	}
	return err
}
