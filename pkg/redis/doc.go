// Package redis connects to Redis with go-redis and provides the two
// cross-process primitives the billing service shares between replicas:
//
//   - Locker, a SET NX PX mutex with token-checked release. It guards the
//     renewal sweep so only one replica runs it at a time.
//   - Sequence, an INCR counter usable as the global invoice number source. It
//     is floored by the highest number already stored, so losing the key
//     never reissues a number.
//
// Config is read from REDIS_* environment variables with caarlos0/env.
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	sweep := billing.NewRenewalSweep(lifecycle,
//	    billing.WithSweepLocker(redis.NewLocker(client, cfg.KeyPrefix), 10*time.Minute),
//	)
package redis
