package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Migrate applies goose migrations from migrations, or from cfg.MigrationsPath
// when it is set. The files must sit at the root of the filesystem.
func Migrate(ctx context.Context, pool *pgxpool.Pool, cfg Config, migrations fs.FS, log logger) error {
	fsys, err := migrationsFS(cfg, migrations)
	if err != nil {
		return err
	}

	// goose only speaks database/sql.
	db := stdlib.OpenDBFromPool(pool)
	defer func(db *sql.DB) {
		if err := db.Close(); err != nil {
			log.ErrorContext(ctx, "failed to close migration connection", "error", err)
		}
	}(db)

	return up(ctx, db, fsys, cfg.MigrationsTable, log)
}

func migrationsFS(cfg Config, migrations fs.FS) (fs.FS, error) {
	if cfg.MigrationsPath == "" {
		if migrations == nil {
			return nil, errors.Join(ErrFailedToApplyMigrations, ErrMigrationPathNotProvided)
		}
		return migrations, nil
	}

	if _, err := os.Stat(cfg.MigrationsPath); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Join(ErrMigrationsDirNotFound, err)
		}
		return nil, errors.Join(ErrFailedToApplyMigrations, err)
	}
	return os.DirFS(cfg.MigrationsPath), nil
}

func up(ctx context.Context, db *sql.DB, fsys fs.FS, table string, log logger) error {
	goose.SetBaseFS(fsys)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(newSlogAdapter(log))
	if table != "" {
		goose.SetTableName(table)
	}

	if err := goose.SetDialect("postgres"); err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}
	return nil
}

// migrateSlogAdapter routes goose output through the application logger.
type migrateSlogAdapter struct {
	log logger
}

func newSlogAdapter(log logger) goose.Logger {
	return &migrateSlogAdapter{log: log}
}

func (a *migrateSlogAdapter) Fatalf(format string, v ...any) {
	a.log.ErrorContext(context.Background(), fmt.Sprintf(format, v...))
}

func (a *migrateSlogAdapter) Printf(format string, v ...any) {
	a.log.InfoContext(context.Background(), fmt.Sprintf(format, v...))
}
