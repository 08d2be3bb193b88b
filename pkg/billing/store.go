package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store opens transactions over billing data.
// InTx commits when fn returns nil and rolls back otherwise.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the unit of work handed to Store.InTx.
// Lock methods serialize concurrent work on the same subscription or customer
// until the transaction ends; they never block unrelated keys.
type Tx interface {
	LockSubscription(ctx context.Context, id uuid.UUID) error
	LockCustomer(ctx context.Context, customerID uuid.UUID) error

	PlanRepository
	SubscriptionRepository
	InvoiceRepository
	PaymentRepository
}

// PlanRepository persists the plan catalog.
type PlanRepository interface {
	ListPlans(ctx context.Context) ([]Plan, error)
	// InsertPlan returns ErrPlanAlreadyExists when the tier is already seeded.
	InsertPlan(ctx context.Context, plan Plan) error
	SetPlanActive(ctx context.Context, tier Tier, active bool) error
}

// SubscriptionRepository persists subscriptions. Subscriptions are never deleted.
type SubscriptionRepository interface {
	// GetSubscription returns ErrSubscriptionNotFound when id is unknown.
	GetSubscription(ctx context.Context, id uuid.UUID) (Subscription, error)
	// ActiveSubscription returns ErrSubscriptionNotFound when the customer has none.
	ActiveSubscription(ctx context.Context, customerID uuid.UUID) (Subscription, error)
	ListSubscriptions(ctx context.Context, customerID uuid.UUID) ([]Subscription, error)
	// ListDueSubscriptions returns active subscriptions with NextPaymentDue <= asOf.
	ListDueSubscriptions(ctx context.Context, asOf time.Time) ([]Subscription, error)
	// InsertSubscription returns ErrActiveSubscriptionExists when it would give
	// the customer a second active subscription.
	InsertSubscription(ctx context.Context, sub Subscription) error
	UpdateSubscription(ctx context.Context, sub Subscription) error
}

// InvoiceRepository persists invoices.
type InvoiceRepository interface {
	InsertInvoice(ctx context.Context, inv Invoice) error
	// GetInvoice returns ErrInvoiceNotFound when id is unknown.
	GetInvoice(ctx context.Context, id uuid.UUID) (Invoice, error)
	GetInvoiceByNumber(ctx context.Context, number string) (Invoice, error)
	UpdateInvoiceStatus(ctx context.Context, id uuid.UUID, status InvoiceStatus, paidAt *time.Time) error
	ListInvoicesBySubscription(ctx context.Context, subscriptionID uuid.UUID, status InvoiceStatus) ([]Invoice, error)
	ListInvoicesByCustomer(ctx context.Context, customerID uuid.UUID) ([]Invoice, error)
	// ListPastDueInvoices returns pending invoices with DueAt < asOf.
	ListPastDueInvoices(ctx context.Context, asOf time.Time) ([]Invoice, error)
}

// PaymentRepository appends payment records.
type PaymentRepository interface {
	InsertPayment(ctx context.Context, p Payment) error
	ListPayments(ctx context.Context, invoiceID uuid.UUID) ([]Payment, error)
}

// CustomerDirectory is the external source of customer data.
type CustomerDirectory interface {
	// CountryCode returns ErrCustomerNotFound for unknown customers.
	CountryCode(ctx context.Context, customerID uuid.UUID) (string, error)
}

// InvoiceNumberer hands out a global, strictly increasing sequence.
type InvoiceNumberer interface {
	NextInvoiceSeq(ctx context.Context) (int64, error)
}

// Locker guards a batch job across processes.
// TryLock returns acquired=false without error when another holder owns key.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, acquired bool, err error)
}

// SweepObserver receives the outcome of every batch pass.
type SweepObserver interface {
	ObserveRenewalSweep(report SweepReport, err error)
	ObserveOverdueSweep(report OverdueReport, err error)
}

// InvoiceObserver is notified after an invoice is committed.
type InvoiceObserver interface {
	InvoiceIssued(inv Invoice)
	InvoiceStatusChanged(inv Invoice, from InvoiceStatus)
}
