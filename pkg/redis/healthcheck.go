package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Healthcheck returns a readiness probe for client.
func Healthcheck(client redis.UniversalClient) func(context.Context) error {
	return func(ctx context.Context) error {
		pong, err := client.Ping(ctx).Result()
		if err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}
		if pong != "PONG" {
			return errors.Join(ErrHealthcheckFailed, fmt.Errorf("unexpected ping reply %q", pong))
		}
		return nil
	}
}
