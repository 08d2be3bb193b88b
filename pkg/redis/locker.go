package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds the caller's token,
// so an expired holder cannot release a lock taken over by someone else.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a single-instance Redis mutex with expiry (SET NX PX).
// It satisfies billing.Locker.
type Locker struct {
	client redis.UniversalClient
	prefix string
}

// NewLocker creates a Locker. Keys are stored as prefix+key.
func NewLocker(client redis.UniversalClient, prefix string) *Locker {
	return &Locker{client: client, prefix: prefix}
}

// TryLock takes key for ttl without waiting. It returns acquired=false when
// another holder owns the key.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	if ttl <= 0 {
		return nil, false, fmt.Errorf("lock %s: ttl must be positive", key)
	}

	name := l.prefix + key
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, name, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.client, []string{name}, token).Int()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("unlock %s: %w", key, err)
		}
		if n == 0 {
			return ErrLockNotHeld
		}
		return nil
	}
	return release, true, nil
}
