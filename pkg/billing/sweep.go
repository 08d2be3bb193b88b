package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// RenewalSweepLockKey is the Locker key held for the duration of a sweep run.
const RenewalSweepLockKey = "billing:renewal-sweep"

// SweepReport summarizes one renewal sweep run.
type SweepReport struct {
	Due      int
	Renewed  int
	Skipped  int
	Failed   int
	Duration time.Duration
}

// RenewalSweep renews every subscription whose payment has come due.
type RenewalSweep struct {
	lifecycle   *Lifecycle
	clock       func() time.Time
	logger      *slog.Logger
	locker      Locker
	lockTTL     time.Duration
	concurrency int
	observer    SweepObserver

	group singleflight.Group
}

// NewRenewalSweep creates a sweep over lifecycle.
// Panics if lifecycle is nil.
func NewRenewalSweep(lifecycle *Lifecycle, opts ...Option) *RenewalSweep {
	if lifecycle == nil {
		panic("billing: lifecycle is required")
	}
	o := newOptions(opts)
	return &RenewalSweep{
		lifecycle:   lifecycle,
		clock:       o.clock,
		logger:      o.logger,
		locker:      o.locker,
		lockTTL:     o.lockTTL,
		concurrency: o.concurrency,
		observer:    o.sweepObserver,
	}
}

// Run renews every subscription due now. Subscriptions with auto-renew off are
// skipped. A failed renewal is logged and counted without stopping the run;
// only a failure to list due subscriptions aborts it.
//
// Concurrent calls in one process share a single run. With a Locker configured,
// a run already holding the lock elsewhere yields ErrSweepInProgress.
func (s *RenewalSweep) Run(ctx context.Context) (SweepReport, error) {
	v, err, _ := s.group.Do(RenewalSweepLockKey, func() (any, error) {
		return s.run(ctx)
	})
	report, _ := v.(SweepReport)
	return report, err
}

func (s *RenewalSweep) run(ctx context.Context) (report SweepReport, err error) {
	started := time.Now()
	defer func() {
		report.Duration = time.Since(started)
		if s.observer != nil && !errors.Is(err, ErrSweepInProgress) {
			s.observer.ObserveRenewalSweep(report, err)
		}
	}()

	if s.locker != nil {
		release, acquired, err := s.locker.TryLock(ctx, RenewalSweepLockKey, s.lockTTL)
		if err != nil {
			return report, fmt.Errorf("acquire sweep lock: %w", err)
		}
		if !acquired {
			s.logger.InfoContext(ctx, "renewal sweep already running elsewhere")
			return report, ErrSweepInProgress
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.WarnContext(ctx, "failed to release sweep lock", logger.Error(err))
			}
		}()
	}

	asOf := s.clock()
	due, err := s.lifecycle.DueForRenewal(ctx, asOf)
	if err != nil {
		return report, fmt.Errorf("list due subscriptions: %w", err)
	}
	report.Due = len(due)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.concurrency)

	for _, sub := range due {
		if !sub.AutoRenew {
			mu.Lock()
			report.Skipped++
			mu.Unlock()
			s.logger.DebugContext(ctx, "auto-renew disabled, skipping", logger.SubscriptionID(sub.ID))
			continue
		}

		g.Go(func() error {
			_, _, err := s.lifecycle.renewDue(ctx, sub.ID, asOf)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				report.Renewed++
			case errors.Is(err, errNoLongerDue), errors.Is(err, ErrInvalidState):
				report.Skipped++
				s.logger.DebugContext(ctx, "subscription skipped",
					logger.SubscriptionID(sub.ID),
					logger.Error(err))
			default:
				report.Failed++
				s.logger.ErrorContext(ctx, "failed to renew subscription",
					logger.SubscriptionID(sub.ID),
					logger.CustomerID(sub.CustomerID),
					logger.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.InfoContext(ctx, "renewal sweep finished",
		slog.Int("due", report.Due),
		slog.Int("renewed", report.Renewed),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed))
	return report, nil
}
