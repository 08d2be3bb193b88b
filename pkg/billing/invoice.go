package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// Invoicer issues invoices and moves them through their payment states.
type Invoicer struct {
	store     Store
	taxes     TaxRateProvider
	customers CustomerDirectory
	catalog   *Catalog
	numberer  InvoiceNumberer
	currency  currency.Unit
	clock     func() time.Time
	logger    *slog.Logger
	observer  InvoiceObserver
	sweeps    SweepObserver
}

// NewInvoicer creates an Invoicer.
// Panics if a dependency is nil, or if no InvoiceNumberer is configured and
// the store does not implement one.
func NewInvoicer(store Store, taxes TaxRateProvider, customers CustomerDirectory, catalog *Catalog, opts ...Option) *Invoicer {
	if store == nil {
		panic("billing: invoicer store is required")
	}
	if taxes == nil {
		panic("billing: tax rate provider is required")
	}
	if customers == nil {
		panic("billing: customer directory is required")
	}
	if catalog == nil {
		panic("billing: catalog is required")
	}

	o := newOptions(opts)
	numberer := o.numberer
	if numberer == nil {
		n, ok := store.(InvoiceNumberer)
		if !ok {
			panic("billing: invoice numberer is required")
		}
		numberer = n
	}

	return &Invoicer{
		store:     store,
		taxes:     taxes,
		customers: customers,
		catalog:   catalog,
		numberer:  numberer,
		currency:  o.currency,
		clock:     o.clock,
		logger:    o.logger,
		observer:  o.invoiceObserver,
		sweeps:    o.sweepObserver,
	}
}

// Generate issues an invoice for sub's current plan in its own transaction.
// When previous is set and cheaper than the current plan, the invoice carries
// the proration for the rest of the cycle.
func (i *Invoicer) Generate(ctx context.Context, sub Subscription, previous *Plan) (*Invoice, error) {
	plan, err := i.catalog.FindByID(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}

	reason := ReasonRenewal
	if previous != nil && previous.MonthlyPrice.LessThan(plan.MonthlyPrice) {
		reason = ReasonPlanUpgrade
	}

	var inv Invoice
	err = i.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.LockSubscription(ctx, sub.ID); err != nil {
			return err
		}
		var err error
		inv, err = i.issue(ctx, tx, sub, plan, previous, reason)
		return err
	})
	if err != nil {
		return nil, err
	}

	i.notifyIssued(ctx, inv)
	return &inv, nil
}

// issue computes and persists one invoice inside tx.
func (i *Invoicer) issue(ctx context.Context, tx Tx, sub Subscription, plan Plan, previous *Plan, reason InvoiceReason) (Invoice, error) {
	country, err := i.customers.CountryCode(ctx, sub.CustomerID)
	if err != nil {
		return Invoice{}, err
	}

	now := i.clock()
	base := plan.MonthlyPrice
	proration := decimal.Zero
	if previous != nil && previous.MonthlyPrice.LessThan(plan.MonthlyPrice) {
		proration = CalculateProration(sub.NextPaymentDue, previous.MonthlyPrice, plan.MonthlyPrice, now)
	}

	preTax := base.Add(proration)
	rate := i.taxes.RateFor(country)
	tax := preTax.Mul(rate).Round(MoneyScale)

	seq, err := i.numberer.NextInvoiceSeq(ctx)
	if err != nil {
		return Invoice{}, errors.Join(ErrFailedToIssue, err)
	}

	inv := Invoice{
		ID:             uuid.New(),
		Number:         FormatInvoiceNumber(now, seq),
		CustomerID:     sub.CustomerID,
		SubscriptionID: sub.ID,
		Plan: PlanSnapshot{
			PlanID: plan.ID,
			Tier:   plan.Tier,
			Name:   plan.Name,
		},
		Reason:          reason,
		Description:     invoiceDescription(plan, reason),
		Currency:        i.currency.String(),
		BaseAmount:      base,
		ProrationAmount: proration,
		TaxRate:         rate,
		TaxAmount:       tax,
		Total:           preTax.Add(tax),
		Status:          InvoicePending,
		IssuedAt:        now,
		DueAt:           now.AddDate(0, 0, InvoiceTermDays),
	}

	if err := tx.InsertInvoice(ctx, inv); err != nil {
		return Invoice{}, errors.Join(ErrFailedToIssue, err)
	}
	return inv, nil
}

// MarkPaid settles a pending invoice. Paying an already paid invoice is a
// no-op that returns it unchanged; overdue and cancelled invoices are rejected
// with ErrInvoiceNotPending.
func (i *Invoicer) MarkPaid(ctx context.Context, invoiceID uuid.UUID) (*Invoice, error) {
	var (
		inv     Invoice
		changed bool
	)
	err := i.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		inv, err = i.lockInvoice(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status == InvoicePaid {
			return nil
		}
		if err := i.settle(ctx, tx, &inv); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		i.notifyStatus(ctx, inv, InvoicePending)
	}
	return &inv, nil
}

func (i *Invoicer) settle(ctx context.Context, tx Tx, inv *Invoice) error {
	if err := fireInvoice(ctx, inv, eventPay); err != nil {
		return err
	}
	paidAt := i.clock()
	inv.PaidAt = &paidAt
	return tx.UpdateInvoiceStatus(ctx, inv.ID, inv.Status, inv.PaidAt)
}

// lockInvoice loads an invoice and locks its subscription, re-reading the
// invoice once the lock is held.
func (i *Invoicer) lockInvoice(ctx context.Context, tx Tx, invoiceID uuid.UUID) (Invoice, error) {
	inv, err := tx.GetInvoice(ctx, invoiceID)
	if err != nil {
		return Invoice{}, err
	}
	if err := tx.LockSubscription(ctx, inv.SubscriptionID); err != nil {
		return Invoice{}, err
	}
	return tx.GetInvoice(ctx, invoiceID)
}

// CancelPendingForSubscription cancels every pending invoice of the
// subscription and returns how many changed.
func (i *Invoicer) CancelPendingForSubscription(ctx context.Context, subscriptionID uuid.UUID) (int, error) {
	var cancelled []Invoice
	err := i.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.LockSubscription(ctx, subscriptionID); err != nil {
			return err
		}
		if _, err := tx.GetSubscription(ctx, subscriptionID); err != nil {
			return err
		}
		var err error
		cancelled, err = i.cancelPending(ctx, tx, subscriptionID)
		return err
	})
	if err != nil {
		return 0, err
	}

	for _, inv := range cancelled {
		i.notifyStatus(ctx, inv, InvoicePending)
	}
	return len(cancelled), nil
}

func (i *Invoicer) cancelPending(ctx context.Context, tx Tx, subscriptionID uuid.UUID) ([]Invoice, error) {
	pending, err := tx.ListInvoicesBySubscription(ctx, subscriptionID, InvoicePending)
	if err != nil {
		return nil, err
	}
	for idx := range pending {
		if err := fireInvoice(ctx, &pending[idx], eventVoid); err != nil {
			return nil, err
		}
		if err := tx.UpdateInvoiceStatus(ctx, pending[idx].ID, pending[idx].Status, nil); err != nil {
			return nil, err
		}
	}
	return pending, nil
}

// RecordPayment stores a payment attempt against an invoice. A succeeded
// attempt that covers the total settles the invoice in the same transaction;
// anything else is recorded unsettled and leaves the invoice as it was.
func (i *Invoicer) RecordPayment(ctx context.Context, invoiceID uuid.UUID, attempt PaymentAttempt) (*Payment, error) {
	if err := attempt.validate(); err != nil {
		return nil, err
	}

	var (
		payment Payment
		inv     Invoice
		settled bool
	)
	err := i.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		inv, err = i.lockInvoice(ctx, tx, invoiceID)
		if err != nil {
			return err
		}

		payment = Payment{
			ID:         uuid.New(),
			InvoiceID:  inv.ID,
			CustomerID: inv.CustomerID,
			Amount:     attempt.Amount,
			Method:     attempt.Method,
			Reference:  attempt.Reference,
			ReceivedAt: i.clock(),
		}

		if attempt.Succeeded {
			if !inv.IsPending() {
				return fmt.Errorf("%w: invoice %s is %s", ErrInvoiceNotPending, inv.Number, inv.Status)
			}
			if attempt.Amount.GreaterThanOrEqual(inv.Total) {
				if err := i.settle(ctx, tx, &inv); err != nil {
					return err
				}
				payment.Settled = true
				settled = true
			}
		}

		return tx.InsertPayment(ctx, payment)
	})
	if err != nil {
		return nil, err
	}

	i.logger.InfoContext(ctx, "payment recorded",
		logger.InvoiceNumber(inv.Number),
		slog.String("method", string(attempt.Method.Kind())),
		slog.String("amount", FormatAmount(attempt.Amount, i.currency, defaultDisplayLanguage)),
		slog.Bool("settled", payment.Settled))

	if settled {
		i.notifyStatus(ctx, inv, InvoicePending)
	}
	return &payment, nil
}

// OverdueReport summarizes one MarkOverdue pass.
type OverdueReport struct {
	Candidates int
	Overdue    int
	Delinquent int
	Failed     int
	Duration   time.Duration
}

// MarkOverdue moves pending invoices whose due date is before asOf to overdue
// and the owning active subscriptions to delinquent. Each invoice is handled in
// its own transaction; failures are logged and do not stop the pass.
func (i *Invoicer) MarkOverdue(ctx context.Context, asOf time.Time) (report OverdueReport, err error) {
	started := time.Now()
	defer func() {
		report.Duration = time.Since(started)
		if i.sweeps != nil {
			i.sweeps.ObserveOverdueSweep(report, err)
		}
	}()

	var candidates []Invoice
	err = i.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		candidates, err = tx.ListPastDueInvoices(ctx, asOf)
		return err
	})
	if err != nil {
		return report, fmt.Errorf("list past due invoices: %w", err)
	}
	report.Candidates = len(candidates)

	for _, c := range candidates {
		marked, delinquent, err := i.markOverdue(ctx, c.ID, asOf)
		switch {
		case err != nil:
			report.Failed++
			i.logger.ErrorContext(ctx, "failed to mark invoice overdue",
				logger.InvoiceNumber(c.Number),
				logger.Error(err))
		case marked:
			report.Overdue++
			if delinquent {
				report.Delinquent++
			}
		}
	}

	i.logger.InfoContext(ctx, "overdue sweep finished",
		slog.Int("candidates", report.Candidates),
		slog.Int("overdue", report.Overdue),
		slog.Int("delinquent", report.Delinquent),
		slog.Int("failed", report.Failed))
	return report, nil
}

func (i *Invoicer) markOverdue(ctx context.Context, invoiceID uuid.UUID, asOf time.Time) (marked, delinquent bool, err error) {
	var inv Invoice
	err = i.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		inv, err = i.lockInvoice(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		// Paid or cancelled since the candidate list was read.
		if !inv.IsPastDue(asOf) {
			return nil
		}
		if err := fireInvoice(ctx, &inv, eventMarkOverdue); err != nil {
			return err
		}
		if err := tx.UpdateInvoiceStatus(ctx, inv.ID, inv.Status, nil); err != nil {
			return err
		}
		marked = true

		sub, err := tx.GetSubscription(ctx, inv.SubscriptionID)
		if err != nil {
			return err
		}
		if !sub.IsActive() {
			return nil
		}
		if err := fireSubscription(ctx, &sub, eventMarkDelinquent, ErrInvalidState); err != nil {
			return err
		}
		sub.UpdatedAt = i.clock()
		if err := tx.UpdateSubscription(ctx, sub); err != nil {
			return err
		}
		delinquent = true
		return nil
	})
	if err != nil {
		return false, false, err
	}
	if marked {
		i.notifyStatus(ctx, inv, InvoicePending)
	}
	return marked, delinquent, nil
}

// Get returns the invoice with the given id.
func (i *Invoicer) Get(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	var inv Invoice
	err := i.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		inv, err = tx.GetInvoice(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// GetByNumber returns the invoice with the given public number.
func (i *Invoicer) GetByNumber(ctx context.Context, number string) (*Invoice, error) {
	var inv Invoice
	err := i.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		inv, err = tx.GetInvoiceByNumber(ctx, number)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// ListForCustomer returns a customer's invoices, oldest first.
func (i *Invoicer) ListForCustomer(ctx context.Context, customerID uuid.UUID) ([]Invoice, error) {
	var invoices []Invoice
	err := i.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		invoices, err = tx.ListInvoicesByCustomer(ctx, customerID)
		return err
	})
	return invoices, err
}

// Payments returns the payments recorded against an invoice.
func (i *Invoicer) Payments(ctx context.Context, invoiceID uuid.UUID) ([]Payment, error) {
	var payments []Payment
	err := i.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.GetInvoice(ctx, invoiceID); err != nil {
			return err
		}
		var err error
		payments, err = tx.ListPayments(ctx, invoiceID)
		return err
	})
	return payments, err
}

func (i *Invoicer) notifyIssued(ctx context.Context, inv Invoice) {
	i.logger.InfoContext(ctx, "invoice issued",
		logger.InvoiceNumber(inv.Number),
		logger.SubscriptionID(inv.SubscriptionID),
		slog.String("reason", string(inv.Reason)),
		slog.String("total", FormatAmount(inv.Total, i.currency, defaultDisplayLanguage)))
	if i.observer != nil {
		i.observer.InvoiceIssued(inv)
	}
}

func (i *Invoicer) notifyStatus(ctx context.Context, inv Invoice, from InvoiceStatus) {
	i.logger.InfoContext(ctx, "invoice status changed",
		logger.InvoiceNumber(inv.Number),
		slog.String("from", string(from)),
		slog.String("to", string(inv.Status)))
	if i.observer != nil {
		i.observer.InvoiceStatusChanged(inv, from)
	}
}
