// Package scheduler runs periodic in-process jobs such as the nightly renewal
// and overdue sweeps.
//
// Jobs are registered with a Schedule and checked on a fixed interval:
//
//	s := scheduler.New(scheduler.WithLogger(log))
//	daily, _ := scheduler.DailyAt(2, 0)
//	if err := s.AddJob("renewal_sweep", daily, runSweep, scheduler.WithTimeout(time.Hour)); err != nil {
//	    return err
//	}
//	go s.Start(ctx)
//
// A job never runs concurrently with itself inside one Scheduler. Running
// the same job across several processes needs an external lock; the billing
// sweep uses pkg/redis.Locker for that.
package scheduler
