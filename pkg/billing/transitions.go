package billing

import (
	"context"
	"fmt"

	"github.com/dmitrymomot/billingkit/pkg/statemachine"
)

type subscriptionEvent string

const (
	eventChangePlan     subscriptionEvent = "change_plan"
	eventRenew          subscriptionEvent = "renew"
	eventCancel         subscriptionEvent = "cancel"
	eventMarkDelinquent subscriptionEvent = "mark_delinquent"
	eventPause          subscriptionEvent = "pause"
	eventResume         subscriptionEvent = "resume"
)

type invoiceEvent string

const (
	eventPay         invoiceEvent = "pay"
	eventMarkOverdue invoiceEvent = "mark_overdue"
	eventVoid        invoiceEvent = "void"
)

func autoRenewEnabled(_ context.Context, _ SubscriptionStatus, _ subscriptionEvent, data any) bool {
	sub, ok := data.(Subscription)
	return ok && sub.AutoRenew
}

// Cancelled is terminal: nothing leaves it.
var subscriptionMachine = statemachine.MustNew(
	statemachine.WithTransition[SubscriptionStatus, subscriptionEvent](StatusActive, StatusActive, eventChangePlan),
	statemachine.WithTransition(StatusActive, StatusActive, eventRenew,
		statemachine.WithGuard(autoRenewEnabled),
	),
	statemachine.WithTransitionFrom[SubscriptionStatus, subscriptionEvent](
		[]SubscriptionStatus{StatusActive, StatusPaused, StatusDelinquent}, StatusCancelled, eventCancel,
	),
	statemachine.WithTransition[SubscriptionStatus, subscriptionEvent](StatusActive, StatusDelinquent, eventMarkDelinquent),
	statemachine.WithTransition[SubscriptionStatus, subscriptionEvent](StatusActive, StatusPaused, eventPause),
	statemachine.WithTransition[SubscriptionStatus, subscriptionEvent](StatusPaused, StatusActive, eventResume),
)

var invoiceMachine = statemachine.MustNew(
	statemachine.WithTransition[InvoiceStatus, invoiceEvent](InvoicePending, InvoicePaid, eventPay),
	statemachine.WithTransition[InvoiceStatus, invoiceEvent](InvoicePending, InvoiceOverdue, eventMarkOverdue),
	statemachine.WithTransition[InvoiceStatus, invoiceEvent](InvoicePending, InvoiceCancelled, eventVoid),
)

// fireSubscription applies ev to sub in place. A guard rejection maps to
// rejected; an event the current status does not accept maps to ErrInvalidState.
func fireSubscription(ctx context.Context, sub *Subscription, ev subscriptionEvent, rejected error) error {
	next, err := subscriptionMachine.Fire(ctx, sub.Status, ev, *sub)
	if err != nil {
		return translateTransitionError(err, rejected, ErrInvalidState)
	}
	sub.Status = next
	return nil
}

func fireInvoice(ctx context.Context, inv *Invoice, ev invoiceEvent) error {
	next, err := invoiceMachine.Fire(ctx, inv.Status, ev, nil)
	if err != nil {
		return translateTransitionError(err, ErrInvoiceNotPending, ErrInvoiceNotPending)
	}
	inv.Status = next
	return nil
}

func translateTransitionError(err, rejected, unavailable error) error {
	switch {
	case statemachine.IsTransitionRejectedError(err):
		return fmt.Errorf("%w: %w", rejected, err)
	case statemachine.IsNoTransitionAvailableError(err):
		return fmt.Errorf("%w: %w", unavailable, err)
	}
	return err
}
