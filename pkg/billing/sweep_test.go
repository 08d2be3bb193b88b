package billing_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/billing"
)

type mockSweepObserver struct {
	mock.Mock
}

func (m *mockSweepObserver) ObserveRenewalSweep(report billing.SweepReport, err error) {
	m.Called(report, err)
}

func (m *mockSweepObserver) ObserveOverdueSweep(report billing.OverdueReport, err error) {
	m.Called(report, err)
}

// flakyCustomers fails lookups for selected customers.
type flakyCustomers struct {
	billing.CustomerDirectory
	failing map[uuid.UUID]bool
}

func (f *flakyCustomers) CountryCode(ctx context.Context, id uuid.UUID) (string, error) {
	if f.failing[id] {
		return "", errors.New("directory unavailable")
	}
	return f.CustomerDirectory.CountryCode(ctx, id)
}

// brokenDueStore fails every due-subscription query.
type brokenDueStore struct {
	*billing.MemoryStore
}

func (s brokenDueStore) InTx(ctx context.Context, fn func(ctx context.Context, tx billing.Tx) error) error {
	return s.MemoryStore.InTx(ctx, func(ctx context.Context, tx billing.Tx) error {
		return fn(ctx, brokenDueTx{tx})
	})
}

type brokenDueTx struct {
	billing.Tx
}

func (brokenDueTx) ListDueSubscriptions(context.Context, time.Time) ([]billing.Subscription, error) {
	return nil, errors.New("connection reset")
}

type fakeLocker struct {
	mu       sync.Mutex
	held     bool
	acquired int
	released int
}

func (l *fakeLocker) TryLock(_ context.Context, _ string, _ time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil, false, nil
	}
	l.held = true
	l.acquired++
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.held = false
		l.released++
		return nil
	}, true, nil
}

func TestRenewalSweep_SkipsAutoRenewDisabled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	renewing, _ := h.subscribe(t, "US", billing.TierBasic)
	manual, _ := h.subscribe(t, "US", billing.TierPremium)
	_, err := h.lifecycle.SetAutoRenew(ctx, manual.ID, false)
	require.NoError(t, err)
	h.clock.Advance(30 * 24 * time.Hour)

	report, err := billing.NewRenewalSweep(h.lifecycle, h.opts...).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Due)
	assert.Equal(t, 1, report.Renewed)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Failed)

	invoices, err := h.invoicer.ListForCustomer(ctx, renewing.CustomerID)
	require.NoError(t, err)
	require.Len(t, invoices, 2)
	assert.Equal(t, billing.ReasonRenewal, invoices[1].Reason)

	invoices, err = h.invoicer.ListForCustomer(ctx, manual.CustomerID)
	require.NoError(t, err)
	assert.Len(t, invoices, 1)

	got, err := h.lifecycle.Get(ctx, manual.ID)
	require.NoError(t, err)
	assert.Equal(t, manual.NextPaymentDue, got.NextPaymentDue)

	// Renewed subscriptions are no longer due.
	report, err = billing.NewRenewalSweep(h.lifecycle, h.opts...).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Due)
	assert.Zero(t, report.Renewed)
}

func TestRenewalSweep_FailureIsolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	healthy, _ := h.subscribe(t, "US", billing.TierBasic)
	broken, _ := h.subscribe(t, "US", billing.TierBasic)
	h.clock.Advance(31 * 24 * time.Hour)

	customers := &flakyCustomers{CustomerDirectory: h.customers, failing: map[uuid.UUID]bool{broken.CustomerID: true}}
	invoicer := billing.NewInvoicer(h.store, billing.MustTaxTable(billing.DefaultTaxRates()), customers, h.catalog, h.opts...)
	lifecycle := billing.NewLifecycle(h.store, h.catalog, invoicer, h.opts...)

	report, err := billing.NewRenewalSweep(lifecycle, append(h.opts, billing.WithSweepConcurrency(2))...).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Due)
	assert.Equal(t, 1, report.Renewed)
	assert.Equal(t, 1, report.Failed)

	got, err := h.lifecycle.Get(ctx, healthy.ID)
	require.NoError(t, err)
	assert.True(t, got.NextPaymentDue.After(h.clock.Now()))

	// The failed renewal rolled back entirely.
	got, err = h.lifecycle.Get(ctx, broken.ID)
	require.NoError(t, err)
	assert.Equal(t, broken.NextPaymentDue, got.NextPaymentDue)
	assert.Nil(t, got.RenewedAt)
}

func TestRenewalSweep_DueQueryFailureAborts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	store := brokenDueStore{h.store}
	lifecycle := billing.NewLifecycle(store, h.catalog, h.invoicer, h.opts...)

	obs := &mockSweepObserver{}
	obs.On("ObserveRenewalSweep", mock.Anything, mock.Anything).Once()

	report, err := billing.NewRenewalSweep(lifecycle, append(h.opts, billing.WithSweepObserver(obs))...).Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list due subscriptions")
	assert.Zero(t, report.Due)

	obs.AssertExpectations(t)
	reported, _ := obs.Calls[0].Arguments.Get(1).(error)
	assert.Error(t, reported)
}

func TestRenewalSweep_Locker(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	h.subscribe(t, "US", billing.TierBasic)
	h.clock.Advance(30 * 24 * time.Hour)

	locker := &fakeLocker{}
	obs := &mockSweepObserver{}
	obs.On("ObserveRenewalSweep", mock.MatchedBy(func(r billing.SweepReport) bool {
		return r.Renewed == 1
	}), nil).Once()

	sweep := billing.NewRenewalSweep(h.lifecycle, append(h.opts,
		billing.WithSweepLocker(locker, time.Minute),
		billing.WithSweepObserver(obs),
	)...)

	report, err := sweep.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Renewed)
	assert.Equal(t, 1, locker.acquired)
	assert.Equal(t, 1, locker.released)

	// Another process holds the lock.
	locker.held = true
	_, err = sweep.Run(ctx)
	assert.ErrorIs(t, err, billing.ErrSweepInProgress)

	obs.AssertExpectations(t)
}

func TestRenewalSweep_ConcurrentRunsRenewOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	const subscriptions = 8
	subs := make([]*billing.Subscription, 0, subscriptions)
	for range subscriptions {
		sub, _ := h.subscribe(t, "US", billing.TierBasic)
		subs = append(subs, sub)
	}
	h.clock.Advance(30 * 24 * time.Hour)

	// Separate sweeps model separate processes without a shared lock.
	sweeps := []*billing.RenewalSweep{
		billing.NewRenewalSweep(h.lifecycle, append(h.opts, billing.WithSweepConcurrency(4))...),
		billing.NewRenewalSweep(h.lifecycle, append(h.opts, billing.WithSweepConcurrency(4))...),
		billing.NewRenewalSweep(h.lifecycle, h.opts...),
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		renewed int
	)
	for _, s := range sweeps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := s.Run(ctx)
			if !assert.NoError(t, err) {
				return
			}
			assert.Zero(t, report.Failed)
			mu.Lock()
			renewed += report.Renewed
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, subscriptions, renewed)
	for _, sub := range subs {
		invoices, err := h.invoicer.ListForCustomer(ctx, sub.CustomerID)
		require.NoError(t, err)
		assert.Len(t, invoices, 2)
	}
}

func TestRenewalSweep_SharedRunInProcess(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	h.subscribe(t, "US", billing.TierBasic)
	h.subscribe(t, "US", billing.TierPremium)
	h.clock.Advance(30 * 24 * time.Hour)

	sweep := billing.NewRenewalSweep(h.lifecycle, h.opts...)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		renewed int
	)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := sweep.Run(ctx)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			// Callers that joined a run see its report; later runs find nothing due.
			if report.Renewed > renewed {
				renewed = report.Renewed
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, renewed)
	due, err := h.lifecycle.DueForRenewal(ctx, h.clock.Now())
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestInvoicer_MarkOverdueObserver(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	obs := &mockSweepObserver{}
	obs.On("ObserveOverdueSweep", mock.MatchedBy(func(r billing.OverdueReport) bool {
		return r.Candidates == 1 && r.Overdue == 1
	}), nil).Once()

	h := newHarness(t, billing.WithSweepObserver(obs))
	h.subscribe(t, "US", billing.TierBasic)
	h.clock.Advance(20 * 24 * time.Hour)

	_, err := h.invoicer.MarkOverdue(ctx, h.clock.Now())
	require.NoError(t, err)
	obs.AssertExpectations(t)
}
