package billing_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/billing"
)

var t0 = time.Date(2026, time.January, 10, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(at time.Time) *fakeClock {
	return &fakeClock{now: at}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	store     *billing.MemoryStore
	customers *billing.MemoryCustomers
	clock     *fakeClock
	catalog   *billing.Catalog
	invoicer  *billing.Invoicer
	lifecycle *billing.Lifecycle
	opts      []billing.Option
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newHarness wires the engine over a memory store with a seeded catalog and
// the default tax table.
func newHarness(t *testing.T, opts ...billing.Option) *harness {
	t.Helper()

	h := &harness{
		store:     billing.NewMemoryStore(),
		customers: billing.NewMemoryCustomers(),
		clock:     newFakeClock(t0),
	}
	h.opts = append([]billing.Option{
		billing.WithClock(h.clock.Now),
		billing.WithLogger(discardLogger()),
	}, opts...)

	h.catalog = billing.NewCatalog(h.store, h.opts...)
	require.NoError(t, h.catalog.EnsureSeeded(context.Background()))

	h.invoicer = billing.NewInvoicer(h.store, billing.MustTaxTable(billing.DefaultTaxRates()), h.customers, h.catalog, h.opts...)
	h.lifecycle = billing.NewLifecycle(h.store, h.catalog, h.invoicer, h.opts...)
	return h
}

func (h *harness) customer(country string) uuid.UUID {
	id := uuid.New()
	h.customers.Add(id, country)
	return id
}

func (h *harness) subscribe(t *testing.T, country string, tier billing.Tier) (*billing.Subscription, *billing.Invoice) {
	t.Helper()
	sub, inv, err := h.lifecycle.Create(context.Background(), h.customer(country), tier)
	require.NoError(t, err)
	return sub, inv
}

func (h *harness) plan(t *testing.T, tier billing.Tier) billing.Plan {
	t.Helper()
	p, err := h.catalog.FindByTier(context.Background(), tier)
	require.NoError(t, err)
	return p
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, dec(want).Equal(got), "want %s, got %s", want, got.String())
}
