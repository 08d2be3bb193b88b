package billing

import (
	"log/slog"
	"time"

	"golang.org/x/text/currency"
)

// Option configures Catalog, Invoicer, Lifecycle and RenewalSweep.
// Each component reads only the options relevant to it.
type Option func(*options)

type options struct {
	clock            func() time.Time
	logger           *slog.Logger
	currency         currency.Unit
	numberer         InvoiceNumberer
	invoiceObserver  InvoiceObserver
	sweepObserver    SweepObserver
	locker           Locker
	lockTTL          time.Duration
	concurrency      int
	supersedePending bool
	plans            []PlanDefinition
}

func newOptions(opts []Option) *options {
	o := &options{
		clock:       func() time.Time { return time.Now().UTC() },
		logger:      slog.Default(),
		currency:    currency.USD,
		lockTTL:     10 * time.Minute,
		concurrency: 1,
		plans:       DefaultPlanDefinitions(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithClock injects the time source. Every timestamp the engine writes comes from it.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithCurrency sets the single currency every invoice is issued in. Default USD.
func WithCurrency(unit currency.Unit) Option {
	return func(o *options) {
		o.currency = unit
	}
}

// WithInvoiceNumberer overrides the invoice sequence source.
// By default the Store is used when it implements InvoiceNumberer.
func WithInvoiceNumberer(n InvoiceNumberer) Option {
	return func(o *options) {
		if n != nil {
			o.numberer = n
		}
	}
}

// WithInvoiceObserver registers a hook called after invoices are committed.
func WithInvoiceObserver(obs InvoiceObserver) Option {
	return func(o *options) {
		if obs != nil {
			o.invoiceObserver = obs
		}
	}
}

// WithSweepObserver registers a hook called after each sweep run.
func WithSweepObserver(obs SweepObserver) Option {
	return func(o *options) {
		if obs != nil {
			o.sweepObserver = obs
		}
	}
}

// WithSweepLocker enables a cross-process lock around sweep runs.
func WithSweepLocker(l Locker, ttl time.Duration) Option {
	return func(o *options) {
		if l == nil {
			return
		}
		o.locker = l
		if ttl > 0 {
			o.lockTTL = ttl
		}
	}
}

// WithSweepConcurrency bounds how many renewals a sweep runs at once. Default 1.
func WithSweepConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithSupersedePendingInvoices makes an upgrade cancel the subscription's
// pending invoices before issuing the prorated one.
func WithSupersedePendingInvoices(enabled bool) Option {
	return func(o *options) {
		o.supersedePending = enabled
	}
}

// WithPlanDefinitions replaces the plans Catalog.EnsureSeeded creates.
func WithPlanDefinitions(defs ...PlanDefinition) Option {
	return func(o *options) {
		if len(defs) > 0 {
			o.plans = defs
		}
	}
}
