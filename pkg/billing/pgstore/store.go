package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/pg"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrations returns the schema migrations, rooted at the migration files.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

var (
	ErrFailedToBeginTx  = errors.New("failed to begin transaction")
	ErrFailedToCommitTx = errors.New("failed to commit transaction")
)

// Store implements billing.Store, billing.InvoiceNumberer and
// billing.CustomerDirectory on PostgreSQL.
//
// db is usually stdlib.OpenDBFromPool over the service's pgx pool.
type Store struct {
	db *sql.DB
}

// New creates a Store.
// Panics if db is nil.
func New(db *sql.DB) *Store {
	if db == nil {
		panic("pgstore: db is required")
	}
	return &Store{db: db}
}

// InTx implements billing.Store. Locks taken through the Tx are transaction
// scoped advisory locks and are released on commit or rollback. A panic in fn
// rolls back before it propagates.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx billing.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Join(ErrFailedToBeginTx, err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, &tx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return errors.Join(ErrFailedToCommitTx, err)
	}
	return nil
}

// NextInvoiceSeq implements billing.InvoiceNumberer. Sequence values taken by
// a rolled back transaction are not reused, so numbers may have gaps.
func (s *Store) NextInvoiceSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT nextval('invoice_number_seq')`).Scan(&seq); err != nil {
		return 0, err
	}
	return seq, nil
}

// MaxInvoiceSeq returns the highest sequence value either issued by
// invoice_number_seq or present in a stored invoice number. It is the floor
// for an external sequence such as pkg/redis.Sequence.
func (s *Store) MaxInvoiceSeq(ctx context.Context) (int64, error) {
	var highest int64
	err := s.db.QueryRowContext(ctx, `SELECT GREATEST(
		COALESCE((SELECT MAX(split_part(number, '-', 3)::BIGINT) FROM invoices), 0),
		(SELECT CASE WHEN is_called THEN last_value ELSE 0 END FROM invoice_number_seq))`).Scan(&highest)
	if err != nil {
		return 0, fmt.Errorf("max invoice sequence: %w", err)
	}
	return highest, nil
}

// CountryCode implements billing.CustomerDirectory.
func (s *Store) CountryCode(ctx context.Context, customerID uuid.UUID) (string, error) {
	var code string
	err := s.db.QueryRowContext(ctx, `SELECT country_code FROM customers WHERE id = $1`, customerID).Scan(&code)
	if pg.IsNotFoundError(err) {
		return "", billing.ErrCustomerNotFound
	}
	if err != nil {
		return "", err
	}
	return code, nil
}

// UpsertCustomer registers a customer or updates its country.
func (s *Store) UpsertCustomer(ctx context.Context, customerID uuid.UUID, countryCode string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO customers (id, country_code) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET country_code = EXCLUDED.country_code`,
		customerID, countryCode)
	return err
}

// Healthcheck pings the database.
func (s *Store) Healthcheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.Join(pg.ErrHealthcheckFailed, err)
	}
	return nil
}
