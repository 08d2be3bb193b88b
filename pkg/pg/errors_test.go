package pg_test

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/billingkit/pkg/pg"
)

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	unique := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "plans_tier_key"})
	fk := &pgconn.PgError{Code: "23503"}

	assert.True(t, pg.IsDuplicateKeyError(unique))
	assert.True(t, pg.IsConstraintViolation(unique, "plans_tier_key"))
	assert.False(t, pg.IsConstraintViolation(unique, "other"))
	assert.False(t, pg.IsDuplicateKeyError(fk))
	assert.True(t, pg.IsForeignKeyViolationError(fk))
	assert.False(t, pg.IsDuplicateKeyError(nil))
	assert.False(t, pg.IsDuplicateKeyError(errors.New("23505")))

	assert.True(t, pg.IsNotFoundError(sql.ErrNoRows))
	assert.True(t, pg.IsNotFoundError(fmt.Errorf("get: %w", pgx.ErrNoRows)))
	assert.False(t, pg.IsNotFoundError(nil))
}

func TestConnect_EmptyConnectionString(t *testing.T) {
	t.Parallel()

	_, err := pg.Connect(t.Context(), pg.Config{})
	assert.ErrorIs(t, err, pg.ErrEmptyConnectionString)
}

func TestMigrate_MissingSource(t *testing.T) {
	t.Parallel()

	err := pg.Migrate(t.Context(), nil, pg.Config{}, nil, slog.Default())
	assert.ErrorIs(t, err, pg.ErrMigrationPathNotProvided)

	err = pg.Migrate(t.Context(), nil, pg.Config{MigrationsPath: filepath.Join(t.TempDir(), "missing")}, nil, slog.Default())
	assert.ErrorIs(t, err, pg.ErrMigrationsDirNotFound)
}
