package redis_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/billing"
	"github.com/dmitrymomot/billingkit/pkg/redis"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLocker_TryLock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mr, client := newClient(t)

	locker := redis.NewLocker(client, "test:")

	release, acquired, err := locker.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)
	assert.True(t, mr.Exists("test:sweep"))

	_, acquired, err = locker.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)

	// Other keys are independent.
	releaseOther, acquired, err := locker.TryLock(ctx, "other", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)
	require.NoError(t, releaseOther(ctx))

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists("test:sweep"))
	assert.ErrorIs(t, release(ctx), redis.ErrLockNotHeld)

	_, acquired, err = locker.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestLocker_ExpiredHolderCannotRelease(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mr, client := newClient(t)

	first := redis.NewLocker(client, "")
	second := redis.NewLocker(client, "")

	release, acquired, err := first.TryLock(ctx, "sweep", time.Second)
	require.NoError(t, err)
	require.True(t, acquired)

	mr.FastForward(2 * time.Second)

	releaseSecond, acquired, err := second.TryLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	assert.ErrorIs(t, release(ctx), redis.ErrLockNotHeld)
	assert.True(t, mr.Exists("sweep"))
	require.NoError(t, releaseSecond(ctx))
}

func TestLocker_InvalidTTL(t *testing.T) {
	t.Parallel()
	_, client := newClient(t)

	_, acquired, err := redis.NewLocker(client, "").TryLock(context.Background(), "sweep", 0)
	assert.Error(t, err)
	assert.False(t, acquired)
}

func TestLocker_Contention(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	_, client := newClient(t)
	locker := redis.NewLocker(client, "")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		acquired int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := locker.TryLock(ctx, "sweep", time.Minute)
			if !assert.NoError(t, err) {
				return
			}
			if ok {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, acquired)
}

func TestSequence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mr, client := newClient(t)

	seq := redis.NewSequence(client, "test:", nil)
	for want := int64(1); want <= 3; want++ {
		got, err := seq.NextInvoiceSeq(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	value, err := mr.Get("test:" + redis.InvoiceSequenceKey)
	require.NoError(t, err)
	assert.Equal(t, "3", value)

	mr.SetError("READONLY")
	_, err = seq.NextInvoiceSeq(ctx)
	assert.Error(t, err)
}

func TestSequence_Floor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("missing key restarts above the floor", func(t *testing.T) {
		t.Parallel()
		mr, client := newClient(t)
		floor := int64(41)
		seq := redis.NewSequence(client, "test:", func(context.Context) (int64, error) { return floor, nil })

		got, err := seq.NextInvoiceSeq(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(42), got)

		mr.FlushAll()
		floor = 42
		got, err = seq.NextInvoiceSeq(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(43), got)
	})

	t.Run("seed raises a stale counter only", func(t *testing.T) {
		t.Parallel()
		mr, client := newClient(t)
		require.NoError(t, mr.Set("test:"+redis.InvoiceSequenceKey, "5"))
		seq := redis.NewSequence(client, "test:", func(context.Context) (int64, error) { return 100, nil })

		require.NoError(t, seq.Seed(ctx))
		value, err := mr.Get("test:" + redis.InvoiceSequenceKey)
		require.NoError(t, err)
		assert.Equal(t, "100", value)

		got, err := seq.NextInvoiceSeq(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(101), got)

		low := redis.NewSequence(client, "test:", func(context.Context) (int64, error) { return 3, nil })
		require.NoError(t, low.Seed(ctx))
		value, err = mr.Get("test:" + redis.InvoiceSequenceKey)
		require.NoError(t, err)
		assert.Equal(t, "101", value)
	})

	t.Run("floor failure", func(t *testing.T) {
		t.Parallel()
		_, client := newClient(t)
		boom := errors.New("db down")
		seq := redis.NewSequence(client, "test:", func(context.Context) (int64, error) { return 0, boom })

		_, err := seq.NextInvoiceSeq(ctx)
		require.ErrorIs(t, err, redis.ErrSequenceFloor)
		assert.ErrorIs(t, err, boom)
		assert.ErrorIs(t, seq.Seed(ctx), boom)
	})
}

func TestSequence_InvoicesSurviveRedisDataLoss(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mr, client := newClient(t)

	store := billing.NewMemoryStore()
	customers := billing.NewMemoryCustomers()
	seq := redis.NewSequence(client, "test:", store.MaxInvoiceSeq)

	catalog := billing.NewCatalog(store)
	require.NoError(t, catalog.EnsureSeeded(ctx))
	invoicer := billing.NewInvoicer(store, billing.MustTaxTable(billing.DefaultTaxRates()), customers, catalog,
		billing.WithInvoiceNumberer(seq))
	lifecycle := billing.NewLifecycle(store, catalog, invoicer)

	first := uuid.New()
	customers.Add(first, "US")
	_, inv, err := lifecycle.Create(ctx, first, billing.TierBasic)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(inv.Number, "-000001"), inv.Number)

	mr.FlushAll()

	second := uuid.New()
	customers.Add(second, "US")
	_, inv, err = lifecycle.Create(ctx, second, billing.TierBasic)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(inv.Number, "-000002"), inv.Number)
}

func TestHealthcheck(t *testing.T) {
	t.Parallel()
	mr, client := newClient(t)

	check := redis.Healthcheck(client)
	require.NoError(t, check(context.Background()))

	mr.SetError("LOADING")
	assert.ErrorIs(t, check(context.Background()), redis.ErrHealthcheckFailed)
}

func TestConnect(t *testing.T) {
	t.Parallel()
	mr := miniredis.RunT(t)

	client, err := redis.Connect(context.Background(), redis.Config{
		ConnectionURL:  "redis://" + mr.Addr() + "/0",
		RetryAttempts:  1,
		ConnectTimeout: time.Second,
	})
	require.NoError(t, err)
	require.NoError(t, client.Close())

	_, err = redis.Connect(context.Background(), redis.Config{ConnectionURL: "://bad"})
	assert.ErrorIs(t, err, redis.ErrFailedToParseRedisConnString)

	_, err = redis.Connect(context.Background(), redis.Config{})
	assert.ErrorIs(t, err, redis.ErrEmptyConnectionURL)
}
