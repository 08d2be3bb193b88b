// Package pg bootstraps PostgreSQL for the billing service: a pgx/v5
// connection pool, goose migrations and error classification helpers.
//
// Config is read from PG_* environment variables with caarlos0/env.
// Connect retries until the database answers a ping, Migrate applies the
// schema from an fs.FS (normally the migrations embedded in pgstore) and
// Healthcheck returns a readiness probe.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, cfg, pgstore.Migrations(), slog.Default()); err != nil {
//	    return err
//	}
//
// # Error Handling
//
// IsDuplicateKeyError, IsConstraintViolation and IsForeignKeyViolationError
// unwrap *pgconn.PgError, so they work on errors from both pgx and the
// database/sql bridge.
package pg
