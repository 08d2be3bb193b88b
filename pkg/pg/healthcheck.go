package pg

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Healthcheck returns a readiness probe that runs a trivial query, so an
// exhausted pool or a read-only failover shows up as well as a dead server.
func Healthcheck(pool *pgxpool.Pool) func(context.Context) error {
	return func(ctx context.Context) error {
		var one int
		if err := pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}
		return nil
	}
}
