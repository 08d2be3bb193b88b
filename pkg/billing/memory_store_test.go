package billing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/billing"
)

func newActiveSub(customerID uuid.UUID) billing.Subscription {
	return billing.Subscription{
		ID:             uuid.New(),
		CustomerID:     customerID,
		PlanID:         uuid.New(),
		Status:         billing.StatusActive,
		StartedAt:      t0,
		NextPaymentDue: t0.Add(billing.CycleLength),
		AutoRenew:      true,
	}
}

func TestMemoryStore_RollbackOnError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := billing.NewMemoryStore()

	sub := newActiveSub(uuid.New())
	boom := errors.New("boom")
	err := store.InTx(ctx, func(ctx context.Context, tx billing.Tx) error {
		require.NoError(t, tx.InsertSubscription(ctx, sub))
		// Visible inside the transaction.
		_, err := tx.GetSubscription(ctx, sub.ID)
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = store.InTx(ctx, func(ctx context.Context, tx billing.Tx) error {
		_, err := tx.GetSubscription(ctx, sub.ID)
		return err
	})
	assert.ErrorIs(t, err, billing.ErrSubscriptionNotFound)
}

func TestMemoryStore_OneActivePerCustomer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := billing.NewMemoryStore()
	customer := uuid.New()

	first := newActiveSub(customer)
	require.NoError(t, store.InTx(ctx, func(ctx context.Context, tx billing.Tx) error {
		return tx.InsertSubscription(ctx, first)
	}))

	second := newActiveSub(customer)
	err := store.InTx(ctx, func(ctx context.Context, tx billing.Tx) error {
		return tx.InsertSubscription(ctx, second)
	})
	assert.ErrorIs(t, err, billing.ErrActiveSubscriptionExists)

	// Cancelling the first and inserting the second in one transaction is fine.
	err = store.InTx(ctx, func(ctx context.Context, tx billing.Tx) error {
		cancelled := first
		cancelled.Status = billing.StatusCancelled
		if err := tx.UpdateSubscription(ctx, cancelled); err != nil {
			return err
		}
		return tx.InsertSubscription(ctx, second)
	})
	require.NoError(t, err)

	err = store.InTx(ctx, func(ctx context.Context, tx billing.Tx) error {
		active, err := tx.ActiveSubscription(ctx, customer)
		if err != nil {
			return err
		}
		assert.Equal(t, second.ID, active.ID)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStore_CommitBackstop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := billing.NewMemoryStore()
	customer := uuid.New()

	// Two transactions that skipped the customer lock both see no active
	// subscription; the second commit is rejected.
	started := make(chan struct{})
	proceed := make(chan struct{})
	errs := make(chan error, 1)
	go func() {
		errs <- store.InTx(ctx, func(ctx context.Context, tx billing.Tx) error {
			if err := tx.InsertSubscription(ctx, newActiveSub(customer)); err != nil {
				return err
			}
			close(started)
			<-proceed
			return nil
		})
	}()

	<-started
	err := store.InTx(ctx, func(ctx context.Context, tx billing.Tx) error {
		return tx.InsertSubscription(ctx, newActiveSub(customer))
	})
	require.NoError(t, err)
	close(proceed)
	assert.ErrorIs(t, <-errs, billing.ErrActiveSubscriptionExists)
}

func TestMemoryStore_LockRespectsContext(t *testing.T) {
	t.Parallel()
	store := billing.NewMemoryStore()
	id := uuid.New()

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = store.InTx(context.Background(), func(ctx context.Context, tx billing.Tx) error {
			if err := tx.LockSubscription(ctx, id); err != nil {
				return err
			}
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := store.InTx(ctx, func(ctx context.Context, tx billing.Tx) error {
		return tx.LockSubscription(ctx, id)
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Other keys are not blocked, and re-locking a held key is allowed.
	err = store.InTx(context.Background(), func(ctx context.Context, tx billing.Tx) error {
		other := uuid.New()
		if err := tx.LockSubscription(ctx, other); err != nil {
			return err
		}
		return tx.LockSubscription(ctx, other)
	})
	assert.NoError(t, err)
	close(done)
}

func TestMemoryStore_Plans(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := billing.NewMemoryStore()

	err := store.InTx(ctx, func(ctx context.Context, tx billing.Tx) error {
		if err := tx.InsertPlan(ctx, billing.Plan{ID: uuid.New(), Tier: billing.TierPremium}); err != nil {
			return err
		}
		return tx.InsertPlan(ctx, billing.Plan{ID: uuid.New(), Tier: billing.TierPremium})
	})
	assert.ErrorIs(t, err, billing.ErrPlanAlreadyExists)

	err = store.InTx(ctx, func(ctx context.Context, tx billing.Tx) error {
		return tx.SetPlanActive(ctx, billing.TierBasic, false)
	})
	assert.ErrorIs(t, err, billing.ErrPlanNotFound)

	seq1, err := store.NextInvoiceSeq(ctx)
	require.NoError(t, err)
	seq2, err := store.NextInvoiceSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, seq1+1, seq2)
}

func TestMemoryStore_MaxInvoiceSeq(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := billing.NewMemoryStore()

	highest, err := store.MaxInvoiceSeq(ctx)
	require.NoError(t, err)
	assert.Zero(t, highest)

	_, err = store.NextInvoiceSeq(ctx)
	require.NoError(t, err)
	highest, err = store.MaxInvoiceSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), highest)
}

func TestMemoryCustomers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	customers := billing.NewMemoryCustomers()
	id := uuid.New()

	_, err := customers.CountryCode(ctx, id)
	assert.ErrorIs(t, err, billing.ErrCustomerNotFound)

	customers.Add(id, "ES")
	code, err := customers.CountryCode(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "ES", code)
}
