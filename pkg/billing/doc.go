// Package billing implements subscription billing: a fixed plan catalog,
// prorated plan changes, per-country tax, invoice issuance and the renewal
// sweep that starts new billing cycles.
//
// # Architecture
//
// The engine is split into cooperating components that share a Store:
//
//   - Catalog seeds and serves the three plan tiers (basic, premium,
//     enterprise). Plans are cached in memory after the first load.
//
//   - CalculateProration computes the upgrade charge for the rest of a
//     30-day cycle using exact decimals.
//
//   - TaxRateProvider maps a country code to a rate in [0, 1]. TaxTable is the
//     stock implementation; unknown countries are not taxed.
//
//   - Invoicer issues invoices and moves them between pending, paid, overdue
//     and cancelled. It also records payments.
//
//   - Lifecycle creates, changes, cancels, pauses, resumes and renews
//     subscriptions. Every operation that also issues an invoice writes both
//     in a single transaction.
//
//   - RenewalSweep renews every due, auto-renewing subscription in one batch.
//
// Status changes for subscriptions and invoices are validated by transition
// tables built on pkg/statemachine, so an operation against the wrong state
// always fails with ErrInvalidState.
//
// # Usage
//
//	store := billing.NewMemoryStore()
//	catalog := billing.NewCatalog(store)
//	if err := catalog.EnsureSeeded(ctx); err != nil {
//	    return err
//	}
//
//	invoicer := billing.NewInvoicer(store, billing.MustTaxTable(billing.DefaultTaxRates()), customers, catalog)
//	lifecycle := billing.NewLifecycle(store, catalog, invoicer)
//
//	sub, inv, err := lifecycle.Create(ctx, customerID, billing.TierBasic)
//
// Production deployments use pkg/billing/pgstore for the Store and
// pkg/redis for the sweep lock and invoice sequence.
//
// # Concurrency
//
// Operations on the same subscription are serialized through Tx.LockSubscription;
// creation and resumption are serialized per customer through Tx.LockCustomer.
// A customer therefore never ends up with two active subscriptions, and a
// subscription is never renewed twice for the same cycle even when sweeps
// overlap.
//
// # Error Handling
//
// Every error matches one of four categories with errors.Is:
//
//	errors.Is(err, billing.ErrNotFound)     // unknown customer, plan, subscription or invoice
//	errors.Is(err, billing.ErrInvalidState) // wrong status for the operation
//	errors.Is(err, billing.ErrConflict)     // second active subscription
//	errors.Is(err, billing.ErrValidation)   // malformed money or date input
package billing
