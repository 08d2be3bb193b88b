package metrics_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/metrics"
)

func TestBilling_ObserveRenewalSweep(t *testing.T) {
	t.Parallel()
	m := metrics.NewBilling(prometheus.NewRegistry())

	m.ObserveRenewalSweep(billing.SweepReport{Due: 4, Renewed: 2, Skipped: 1, Failed: 1, Duration: time.Second}, nil)
	m.ObserveRenewalSweep(billing.SweepReport{}, errors.New("db down"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SweepRuns.WithLabelValues("renewal", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SweepRuns.WithLabelValues("renewal", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Renewals.WithLabelValues("renewed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Renewals.WithLabelValues("skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Renewals.WithLabelValues("failed")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.SweepDuration))
}

func TestBilling_ObserveOverdueSweep(t *testing.T) {
	t.Parallel()
	m := metrics.NewBilling(prometheus.NewRegistry())

	m.ObserveOverdueSweep(billing.OverdueReport{Candidates: 3, Overdue: 3, Delinquent: 2}, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SweepRuns.WithLabelValues("overdue", "ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.OverdueResults.WithLabelValues("overdue")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.OverdueResults.WithLabelValues("delinquent")))
}

func TestBilling_InvoiceObserver(t *testing.T) {
	t.Parallel()
	m := metrics.NewBilling(prometheus.NewRegistry())

	inv := billing.Invoice{
		Reason:   billing.ReasonRenewal,
		Currency: "USD",
		Total:    decimal.RequireFromString("34.79"),
		Status:   billing.InvoicePaid,
	}
	m.InvoiceIssued(inv)
	m.InvoiceStatusChanged(inv, billing.InvoicePending)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.InvoicesIssued.WithLabelValues("renewal")))
	assert.InDelta(t, 34.79, testutil.ToFloat64(m.InvoiceAmount.WithLabelValues("USD")), 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InvoiceStatus.WithLabelValues("pending", "paid")))
}

func TestBilling_WiredIntoEngine(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := metrics.NewBilling(reg)

	store := billing.NewMemoryStore()
	customers := billing.NewMemoryCustomers()
	catalog := billing.NewCatalog(store)
	require.NoError(t, catalog.EnsureSeeded(ctx))

	invoicer := billing.NewInvoicer(store, billing.MustTaxTable(billing.DefaultTaxRates()), customers, catalog,
		billing.WithInvoiceObserver(m))
	lifecycle := billing.NewLifecycle(store, catalog, invoicer)

	customer := uuid.New()
	customers.Add(customer, "ES")
	_, _, err := lifecycle.Create(ctx, customer, billing.TierBasic)
	require.NoError(t, err)

	expected := `
# HELP billing_invoices_issued_total Total number of invoices issued, by reason
# TYPE billing_invoices_issued_total counter
billing_invoices_issued_total{reason="subscription_create"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "billing_invoices_issued_total"))
}

func TestNewBilling_DuplicateRegistration(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	metrics.NewBilling(reg)
	assert.Panics(t, func() { metrics.NewBilling(reg) })
}
