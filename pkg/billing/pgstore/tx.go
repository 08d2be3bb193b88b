package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/pg"
)

const oneActivePerCustomer = "subscriptions_one_active_per_customer"

const (
	planColumns = `id, tier, name, description, monthly_price, feature_limit, active, created_at`

	subscriptionColumns = `id, customer_id, plan_id, status, started_at, next_payment_due,
		renewed_at, cancelled_at, auto_renew, updated_at`

	invoiceColumns = `id, number, customer_id, subscription_id, plan_id, plan_tier, plan_name,
		reason, description, currency, base_amount, proration_amount, tax_rate, tax_amount,
		total, status, issued_at, due_at, paid_at`

	paymentColumns = `id, invoice_id, customer_id, amount, method, details, reference, settled, received_at`
)

type rowScanner interface {
	Scan(dest ...any) error
}

// tx implements billing.Tx over a database/sql transaction.
type tx struct {
	tx *sql.Tx
}

func (t *tx) LockSubscription(ctx context.Context, id uuid.UUID) error {
	return t.advisoryLock(ctx, "subscription:"+id.String())
}

func (t *tx) LockCustomer(ctx context.Context, customerID uuid.UUID) error {
	return t.advisoryLock(ctx, "customer:"+customerID.String())
}

// advisoryLock blocks until the key is free or ctx ends. The lock does not
// need the row to exist, so it also serializes inserts.
func (t *tx) advisoryLock(ctx context.Context, key string) error {
	if _, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return fmt.Errorf("lock %s: %w", key, err)
	}
	return nil
}

func (t *tx) ListPlans(ctx context.Context) ([]billing.Plan, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+planColumns+` FROM plans ORDER BY monthly_price, tier`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []billing.Plan
	for rows.Next() {
		var p billing.Plan
		if err := rows.Scan(&p.ID, &p.Tier, &p.Name, &p.Description, &p.MonthlyPrice,
			&p.FeatureLimit, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// InsertPlan uses ON CONFLICT so a concurrent seeder does not abort the transaction.
func (t *tx) InsertPlan(ctx context.Context, p billing.Plan) error {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO plans (`+planColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (tier) DO NOTHING`,
		p.ID, string(p.Tier), p.Name, p.Description, p.MonthlyPrice, p.FeatureLimit, p.Active, p.CreatedAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return billing.ErrPlanAlreadyExists
	}
	return nil
}

func (t *tx) SetPlanActive(ctx context.Context, tier billing.Tier, active bool) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE plans SET active = $1 WHERE tier = $2`, active, string(tier))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return billing.ErrPlanNotFound
	}
	return nil
}

func scanSubscription(row rowScanner) (billing.Subscription, error) {
	var (
		s                  billing.Subscription
		renewed, cancelled sql.NullTime
	)
	err := row.Scan(&s.ID, &s.CustomerID, &s.PlanID, &s.Status, &s.StartedAt, &s.NextPaymentDue,
		&renewed, &cancelled, &s.AutoRenew, &s.UpdatedAt)
	if err != nil {
		return billing.Subscription{}, err
	}
	s.RenewedAt = timePtr(renewed)
	s.CancelledAt = timePtr(cancelled)
	return s, nil
}

func (t *tx) GetSubscription(ctx context.Context, id uuid.UUID) (billing.Subscription, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	sub, err := scanSubscription(row)
	if pg.IsNotFoundError(err) {
		return billing.Subscription{}, billing.ErrSubscriptionNotFound
	}
	return sub, err
}

func (t *tx) ActiveSubscription(ctx context.Context, customerID uuid.UUID) (billing.Subscription, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE customer_id = $1 AND status = $2`,
		customerID, string(billing.StatusActive))
	sub, err := scanSubscription(row)
	if pg.IsNotFoundError(err) {
		return billing.Subscription{}, billing.ErrSubscriptionNotFound
	}
	return sub, err
}

func (t *tx) ListSubscriptions(ctx context.Context, customerID uuid.UUID) ([]billing.Subscription, error) {
	return t.querySubscriptions(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE customer_id = $1 ORDER BY started_at`,
		customerID)
}

func (t *tx) ListDueSubscriptions(ctx context.Context, asOf time.Time) ([]billing.Subscription, error) {
	return t.querySubscriptions(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE status = $1 AND next_payment_due <= $2 ORDER BY next_payment_due`,
		string(billing.StatusActive), asOf)
}

func (t *tx) querySubscriptions(ctx context.Context, query string, args ...any) ([]billing.Subscription, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []billing.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (t *tx) InsertSubscription(ctx context.Context, s billing.Subscription) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO subscriptions (`+subscriptionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ID, s.CustomerID, s.PlanID, string(s.Status), s.StartedAt, s.NextPaymentDue,
		nullTime(s.RenewedAt), nullTime(s.CancelledAt), s.AutoRenew, s.UpdatedAt)
	return subscriptionWriteError(err)
}

func (t *tx) UpdateSubscription(ctx context.Context, s billing.Subscription) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE subscriptions SET plan_id = $2, status = $3, next_payment_due = $4, renewed_at = $5,
		 cancelled_at = $6, auto_renew = $7, updated_at = $8 WHERE id = $1`,
		s.ID, s.PlanID, string(s.Status), s.NextPaymentDue,
		nullTime(s.RenewedAt), nullTime(s.CancelledAt), s.AutoRenew, s.UpdatedAt)
	if err != nil {
		return subscriptionWriteError(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return billing.ErrSubscriptionNotFound
	}
	return nil
}

func subscriptionWriteError(err error) error {
	switch {
	case err == nil:
		return nil
	case pg.IsConstraintViolation(err, oneActivePerCustomer):
		return billing.ErrActiveSubscriptionExists
	case pg.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %w", billing.ErrConflict, err)
	}
	return err
}

func scanInvoice(row rowScanner) (billing.Invoice, error) {
	var (
		inv  billing.Invoice
		paid sql.NullTime
	)
	err := row.Scan(&inv.ID, &inv.Number, &inv.CustomerID, &inv.SubscriptionID,
		&inv.Plan.PlanID, &inv.Plan.Tier, &inv.Plan.Name,
		&inv.Reason, &inv.Description, &inv.Currency,
		&inv.BaseAmount, &inv.ProrationAmount, &inv.TaxRate, &inv.TaxAmount, &inv.Total,
		&inv.Status, &inv.IssuedAt, &inv.DueAt, &paid)
	if err != nil {
		return billing.Invoice{}, err
	}
	inv.PaidAt = timePtr(paid)
	return inv, nil
}

func (t *tx) InsertInvoice(ctx context.Context, inv billing.Invoice) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO invoices (`+invoiceColumns+`) VALUES
		 ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		inv.ID, inv.Number, inv.CustomerID, inv.SubscriptionID,
		inv.Plan.PlanID, string(inv.Plan.Tier), inv.Plan.Name,
		string(inv.Reason), inv.Description, inv.Currency,
		inv.BaseAmount, inv.ProrationAmount, inv.TaxRate, inv.TaxAmount, inv.Total,
		string(inv.Status), inv.IssuedAt, inv.DueAt, nullTime(inv.PaidAt))
	if pg.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: invoice %s already exists", billing.ErrConflict, inv.Number)
	}
	return err
}

func (t *tx) GetInvoice(ctx context.Context, id uuid.UUID) (billing.Invoice, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
	inv, err := scanInvoice(row)
	if pg.IsNotFoundError(err) {
		return billing.Invoice{}, billing.ErrInvoiceNotFound
	}
	return inv, err
}

func (t *tx) GetInvoiceByNumber(ctx context.Context, number string) (billing.Invoice, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE number = $1`,
		strings.ToUpper(strings.TrimSpace(number)))
	inv, err := scanInvoice(row)
	if pg.IsNotFoundError(err) {
		return billing.Invoice{}, billing.ErrInvoiceNotFound
	}
	return inv, err
}

func (t *tx) UpdateInvoiceStatus(ctx context.Context, id uuid.UUID, status billing.InvoiceStatus, paidAt *time.Time) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE invoices SET status = $2, paid_at = $3 WHERE id = $1`,
		id, string(status), nullTime(paidAt))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return billing.ErrInvoiceNotFound
	}
	return nil
}

func (t *tx) ListInvoicesBySubscription(ctx context.Context, subscriptionID uuid.UUID, status billing.InvoiceStatus) ([]billing.Invoice, error) {
	return t.queryInvoices(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE subscription_id = $1 AND status = $2 ORDER BY number`,
		subscriptionID, string(status))
}

func (t *tx) ListInvoicesByCustomer(ctx context.Context, customerID uuid.UUID) ([]billing.Invoice, error) {
	return t.queryInvoices(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE customer_id = $1 ORDER BY number`,
		customerID)
}

func (t *tx) ListPastDueInvoices(ctx context.Context, asOf time.Time) ([]billing.Invoice, error) {
	return t.queryInvoices(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE status = $1 AND due_at < $2 ORDER BY number`,
		string(billing.InvoicePending), asOf)
}

func (t *tx) queryInvoices(ctx context.Context, query string, args ...any) ([]billing.Invoice, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []billing.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

func (t *tx) InsertPayment(ctx context.Context, p billing.Payment) error {
	details, err := json.Marshal(p.Method)
	if err != nil {
		return fmt.Errorf("encode payment method: %w", err)
	}
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO payments (`+paymentColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID, p.InvoiceID, p.CustomerID, p.Amount, string(p.Method.Kind()), details,
		p.Reference, p.Settled, p.ReceivedAt)
	return err
}

func (t *tx) ListPayments(ctx context.Context, invoiceID uuid.UUID) ([]billing.Payment, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE invoice_id = $1 ORDER BY received_at`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []billing.Payment
	for rows.Next() {
		var (
			p       billing.Payment
			kind    string
			details []byte
		)
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.CustomerID, &p.Amount, &kind, &details,
			&p.Reference, &p.Settled, &p.ReceivedAt); err != nil {
			return nil, err
		}
		if p.Method, err = decodeMethod(billing.PaymentKind(kind), details); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func decodeMethod(kind billing.PaymentKind, details []byte) (billing.PaymentMethod, error) {
	var (
		method billing.PaymentMethod
		err    error
	)
	switch kind {
	case billing.PaymentCard:
		var m billing.CardPayment
		err = json.Unmarshal(details, &m)
		method = m
	case billing.PaymentBankTransfer:
		var m billing.BankTransferPayment
		err = json.Unmarshal(details, &m)
		method = m
	case billing.PaymentWallet:
		var m billing.WalletPayment
		err = json.Unmarshal(details, &m)
		method = m
	default:
		return nil, fmt.Errorf("unknown payment method %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payment: %w", kind, err)
	}
	return method, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
