package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingkit/pkg/logger"
)

// Lifecycle owns subscription state changes. Every operation runs in one
// transaction holding the subscription (or customer) lock, and any invoice it
// issues is written in that same transaction.
type Lifecycle struct {
	store            Store
	catalog          *Catalog
	invoicer         *Invoicer
	clock            func() time.Time
	logger           *slog.Logger
	supersedePending bool
}

// NewLifecycle creates a Lifecycle.
// Panics if a dependency is nil.
func NewLifecycle(store Store, catalog *Catalog, invoicer *Invoicer, opts ...Option) *Lifecycle {
	if store == nil {
		panic("billing: lifecycle store is required")
	}
	if catalog == nil {
		panic("billing: catalog is required")
	}
	if invoicer == nil {
		panic("billing: invoicer is required")
	}

	o := newOptions(opts)
	return &Lifecycle{
		store:            store,
		catalog:          catalog,
		invoicer:         invoicer,
		clock:            o.clock,
		logger:           o.logger,
		supersedePending: o.supersedePending,
	}
}

// Create starts an active, auto-renewing subscription on tier and issues its first invoice.
func (l *Lifecycle) Create(ctx context.Context, customerID uuid.UUID, tier Tier) (*Subscription, *Invoice, error) {
	if _, err := l.invoicer.customers.CountryCode(ctx, customerID); err != nil {
		return nil, nil, err
	}
	plan, err := l.offeredPlan(ctx, tier)
	if err != nil {
		return nil, nil, err
	}

	var (
		sub Subscription
		inv Invoice
	)
	err = l.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.LockCustomer(ctx, customerID); err != nil {
			return err
		}
		if err := ensureNoActive(ctx, tx, customerID); err != nil {
			return err
		}

		now := l.clock()
		sub = Subscription{
			ID:             uuid.New(),
			CustomerID:     customerID,
			PlanID:         plan.ID,
			Status:         StatusActive,
			StartedAt:      now,
			NextPaymentDue: now.Add(CycleLength),
			AutoRenew:      true,
			UpdatedAt:      now,
		}
		if err := tx.InsertSubscription(ctx, sub); err != nil {
			return err
		}

		var err error
		inv, err = l.invoicer.issue(ctx, tx, sub, plan, nil, ReasonSubscriptionCreate)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	l.logger.InfoContext(ctx, "subscription created",
		logger.SubscriptionID(sub.ID),
		logger.CustomerID(customerID),
		logger.Tier(string(tier)))
	l.invoicer.notifyIssued(ctx, inv)
	return &sub, &inv, nil
}

// ChangePlan moves an active subscription to newTier. An upgrade issues an
// invoice with proration for the rest of the cycle; a downgrade or lateral
// move only switches the plan and returns a nil invoice. Asking for the
// current tier changes nothing.
func (l *Lifecycle) ChangePlan(ctx context.Context, subscriptionID uuid.UUID, newTier Tier) (*Subscription, *Invoice, error) {
	var (
		sub      Subscription
		inv      *Invoice
		previous Plan
		changed  bool
	)
	err := l.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		sub, err = lockSubscription(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if !sub.IsActive() {
			return ErrSubscriptionNotActive
		}

		previous, err = l.catalog.FindByID(ctx, sub.PlanID)
		if err != nil {
			return err
		}
		if previous.Tier == newTier {
			return nil
		}
		target, err := l.offeredPlan(ctx, newTier)
		if err != nil {
			return err
		}

		if err := fireSubscription(ctx, &sub, eventChangePlan, ErrInvalidState); err != nil {
			return err
		}
		sub.PlanID = target.ID
		sub.UpdatedAt = l.clock()
		if err := tx.UpdateSubscription(ctx, sub); err != nil {
			return err
		}
		changed = true

		if !target.MonthlyPrice.GreaterThan(previous.MonthlyPrice) {
			return nil
		}
		if l.supersedePending {
			if _, err := l.invoicer.cancelPending(ctx, tx, sub.ID); err != nil {
				return err
			}
		}
		issued, err := l.invoicer.issue(ctx, tx, sub, target, &previous, ReasonPlanUpgrade)
		if err != nil {
			return err
		}
		inv = &issued
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if changed {
		l.logger.InfoContext(ctx, "subscription plan changed",
			logger.SubscriptionID(sub.ID),
			slog.String("from_tier", string(previous.Tier)),
			slog.String("to_tier", string(newTier)))
	}
	if inv != nil {
		l.invoicer.notifyIssued(ctx, *inv)
	}
	return &sub, inv, nil
}

// Cancel ends a subscription and disables auto-renew. Cancelling a cancelled
// subscription returns it unchanged.
func (l *Lifecycle) Cancel(ctx context.Context, subscriptionID uuid.UUID) (*Subscription, error) {
	var (
		sub     Subscription
		changed bool
	)
	err := l.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		sub, err = lockSubscription(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if sub.IsCancelled() {
			return nil
		}
		if err := fireSubscription(ctx, &sub, eventCancel, ErrInvalidState); err != nil {
			return err
		}
		now := l.clock()
		sub.CancelledAt = &now
		sub.AutoRenew = false
		sub.UpdatedAt = now
		changed = true
		return tx.UpdateSubscription(ctx, sub)
	})
	if err != nil {
		return nil, err
	}

	if changed {
		l.logger.InfoContext(ctx, "subscription cancelled", logger.SubscriptionID(sub.ID))
	}
	return &sub, nil
}

// SetAutoRenew turns automatic renewal on or off. Setting the current value
// returns the subscription unchanged; a cancelled subscription cannot be
// switched back on.
func (l *Lifecycle) SetAutoRenew(ctx context.Context, subscriptionID uuid.UUID, enabled bool) (*Subscription, error) {
	var (
		sub     Subscription
		changed bool
	)
	err := l.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		sub, err = lockSubscription(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if sub.AutoRenew == enabled {
			return nil
		}
		if sub.IsCancelled() {
			return ErrSubscriptionNotActive
		}
		sub.AutoRenew = enabled
		sub.UpdatedAt = l.clock()
		changed = true
		return tx.UpdateSubscription(ctx, sub)
	})
	if err != nil {
		return nil, err
	}

	if changed {
		l.logger.InfoContext(ctx, "subscription auto-renew updated",
			logger.SubscriptionID(sub.ID),
			slog.Bool("auto_renew", enabled))
	}
	return &sub, nil
}

// Renew starts the next cycle of an active, auto-renewing subscription and
// issues its invoice.
func (l *Lifecycle) Renew(ctx context.Context, subscriptionID uuid.UUID) (*Subscription, *Invoice, error) {
	return l.renew(ctx, subscriptionID, nil)
}

// errNoLongerDue marks a sweep candidate that another path already renewed.
var errNoLongerDue = errors.New("subscription is no longer due")

// renewDue renews only if the subscription is still due at asOf once locked.
func (l *Lifecycle) renewDue(ctx context.Context, subscriptionID uuid.UUID, asOf time.Time) (*Subscription, *Invoice, error) {
	return l.renew(ctx, subscriptionID, &asOf)
}

func (l *Lifecycle) renew(ctx context.Context, subscriptionID uuid.UUID, dueAsOf *time.Time) (*Subscription, *Invoice, error) {
	var (
		sub Subscription
		inv Invoice
	)
	err := l.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		sub, err = lockSubscription(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if !sub.IsActive() {
			return ErrSubscriptionNotActive
		}
		if dueAsOf != nil && !sub.IsDueAt(*dueAsOf) {
			return errNoLongerDue
		}

		plan, err := l.catalog.FindByID(ctx, sub.PlanID)
		if err != nil {
			return err
		}
		if err := fireSubscription(ctx, &sub, eventRenew, ErrAutoRenewDisabled); err != nil {
			return err
		}

		now := l.clock()
		sub.NextPaymentDue = now.Add(CycleLength)
		sub.RenewedAt = &now
		sub.UpdatedAt = now
		if err := tx.UpdateSubscription(ctx, sub); err != nil {
			return err
		}

		inv, err = l.invoicer.issue(ctx, tx, sub, plan, nil, ReasonRenewal)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	l.logger.InfoContext(ctx, "subscription renewed",
		logger.SubscriptionID(sub.ID),
		slog.Time("next_payment_due", sub.NextPaymentDue))
	l.invoicer.notifyIssued(ctx, inv)
	return &sub, &inv, nil
}

// Pause suspends an active subscription. Paused subscriptions are not renewed.
func (l *Lifecycle) Pause(ctx context.Context, subscriptionID uuid.UUID) (*Subscription, error) {
	var sub Subscription
	err := l.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		sub, err = lockSubscription(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if err := fireSubscription(ctx, &sub, eventPause, ErrInvalidState); err != nil {
			return err
		}
		sub.UpdatedAt = l.clock()
		return tx.UpdateSubscription(ctx, sub)
	})
	if err != nil {
		return nil, err
	}

	l.logger.InfoContext(ctx, "subscription paused", logger.SubscriptionID(sub.ID))
	return &sub, nil
}

// Resume reactivates a paused subscription unless the customer has started
// another active one meanwhile.
func (l *Lifecycle) Resume(ctx context.Context, subscriptionID uuid.UUID) (*Subscription, error) {
	var sub Subscription
	err := l.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		sub, err = lockSubscription(ctx, tx, subscriptionID)
		if err != nil {
			return err
		}
		if err := tx.LockCustomer(ctx, sub.CustomerID); err != nil {
			return err
		}
		if err := fireSubscription(ctx, &sub, eventResume, ErrInvalidState); err != nil {
			return err
		}
		if err := ensureNoActive(ctx, tx, sub.CustomerID); err != nil {
			return err
		}
		sub.UpdatedAt = l.clock()
		return tx.UpdateSubscription(ctx, sub)
	})
	if err != nil {
		return nil, err
	}

	l.logger.InfoContext(ctx, "subscription resumed", logger.SubscriptionID(sub.ID))
	return &sub, nil
}

// DueForRenewal lists active subscriptions whose next payment is due at or before asOf.
func (l *Lifecycle) DueForRenewal(ctx context.Context, asOf time.Time) ([]Subscription, error) {
	var due []Subscription
	err := l.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		due, err = tx.ListDueSubscriptions(ctx, asOf)
		return err
	})
	return due, err
}

// Get returns the subscription with the given id.
func (l *Lifecycle) Get(ctx context.Context, subscriptionID uuid.UUID) (*Subscription, error) {
	var sub Subscription
	err := l.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		sub, err = tx.GetSubscription(ctx, subscriptionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// ActiveForCustomer returns the customer's active subscription, or ErrSubscriptionNotFound.
func (l *Lifecycle) ActiveForCustomer(ctx context.Context, customerID uuid.UUID) (*Subscription, error) {
	var sub Subscription
	err := l.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		sub, err = tx.ActiveSubscription(ctx, customerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// ListForCustomer returns every subscription the customer ever had, oldest first.
func (l *Lifecycle) ListForCustomer(ctx context.Context, customerID uuid.UUID) ([]Subscription, error) {
	var subs []Subscription
	err := l.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		subs, err = tx.ListSubscriptions(ctx, customerID)
		return err
	})
	return subs, err
}

func (l *Lifecycle) offeredPlan(ctx context.Context, tier Tier) (Plan, error) {
	plan, err := l.catalog.FindByTier(ctx, tier)
	if err != nil {
		return Plan{}, err
	}
	if !plan.Active {
		return Plan{}, ErrPlanInactive
	}
	return plan, nil
}

func lockSubscription(ctx context.Context, tx Tx, id uuid.UUID) (Subscription, error) {
	if err := tx.LockSubscription(ctx, id); err != nil {
		return Subscription{}, err
	}
	return tx.GetSubscription(ctx, id)
}

func ensureNoActive(ctx context.Context, tx Tx, customerID uuid.UUID) error {
	_, err := tx.ActiveSubscription(ctx, customerID)
	switch {
	case err == nil:
		return ErrActiveSubscriptionExists
	case errors.Is(err, ErrSubscriptionNotFound):
		return nil
	}
	return err
}
