package billing_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/billing"
)

func TestCatalog_Unseeded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	catalog := billing.NewCatalog(billing.NewMemoryStore(), billing.WithLogger(discardLogger()))

	_, err := catalog.FindByTier(ctx, billing.TierBasic)
	require.ErrorIs(t, err, billing.ErrPlanNotFound)
	assert.ErrorIs(t, err, billing.ErrNotFound)

	plans, err := catalog.ActivePlans(ctx)
	require.NoError(t, err)
	assert.Empty(t, plans)
}

func TestCatalog_EnsureSeeded(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := billing.NewMemoryStore()
	catalog := billing.NewCatalog(store, billing.WithLogger(discardLogger()))

	require.NoError(t, catalog.EnsureSeeded(ctx))
	basic, err := catalog.FindByTier(ctx, billing.TierBasic)
	require.NoError(t, err)

	// Second call and a second catalog over the same store keep the same plans.
	require.NoError(t, catalog.EnsureSeeded(ctx))
	other := billing.NewCatalog(store, billing.WithLogger(discardLogger()))
	require.NoError(t, other.EnsureSeeded(ctx))

	again, err := other.FindByTier(ctx, billing.TierBasic)
	require.NoError(t, err)
	assert.Equal(t, basic.ID, again.ID)

	plans, err := other.ActivePlans(ctx)
	require.NoError(t, err)
	assert.Len(t, plans, 3)
}

func TestCatalog_DefaultPlans(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	tests := []struct {
		tier  billing.Tier
		name  string
		price string
		limit int
	}{
		{billing.TierBasic, "Basic", "9.99", 100},
		{billing.TierPremium, "Premium", "29.99", 500},
		{billing.TierEnterprise, "Enterprise", "99.99", 5000},
	}
	for _, tt := range tests {
		p := h.plan(t, tt.tier)
		assert.Equal(t, tt.name, p.Name)
		requireDecimal(t, tt.price, p.MonthlyPrice)
		assert.Equal(t, tt.limit, p.FeatureLimit)
		assert.True(t, p.Active)
		assert.Equal(t, t0, p.CreatedAt)

		byID, err := h.catalog.FindByID(context.Background(), p.ID)
		require.NoError(t, err)
		assert.Equal(t, p.Tier, byID.Tier)
	}

	_, err := h.catalog.FindByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, billing.ErrPlanNotFound)
	_, err = h.catalog.FindByTier(context.Background(), billing.Tier("gold"))
	assert.ErrorIs(t, err, billing.ErrPlanNotFound)
}

func TestCatalog_ActivePlansSortedByPrice(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	catalog := billing.NewCatalog(billing.NewMemoryStore(),
		billing.WithLogger(discardLogger()),
		billing.WithPlanDefinitions(
			billing.PlanDefinition{Tier: billing.TierEnterprise, Name: "Enterprise", MonthlyPrice: dec("50")},
			billing.PlanDefinition{Tier: billing.TierBasic, Name: "Basic", MonthlyPrice: dec("5")},
			billing.PlanDefinition{Tier: billing.TierPremium, Name: "Premium", MonthlyPrice: dec("5")},
		),
	)
	require.NoError(t, catalog.EnsureSeeded(ctx))

	plans, err := catalog.ActivePlans(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 3)
	assert.Equal(t, billing.TierBasic, plans[0].Tier)
	assert.Equal(t, billing.TierPremium, plans[1].Tier)
	assert.Equal(t, billing.TierEnterprise, plans[2].Tier)
}

func TestCatalog_SetActive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.catalog.SetActive(ctx, billing.TierPremium, false))

	plans, err := h.catalog.ActivePlans(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 2)
	for _, p := range plans {
		assert.NotEqual(t, billing.TierPremium, p.Tier)
	}

	// Still resolvable for existing subscriptions.
	p, err := h.catalog.FindByTier(ctx, billing.TierPremium)
	require.NoError(t, err)
	assert.False(t, p.Active)

	// But not offered to new ones.
	_, _, err = h.lifecycle.Create(ctx, h.customer("US"), billing.TierPremium)
	assert.ErrorIs(t, err, billing.ErrPlanInactive)

	require.NoError(t, h.catalog.SetActive(ctx, billing.TierPremium, true))
	plans, err = h.catalog.ActivePlans(ctx)
	require.NoError(t, err)
	assert.Len(t, plans, 3)

	assert.ErrorIs(t, h.catalog.SetActive(ctx, billing.Tier("gold"), false), billing.ErrPlanNotFound)
}

func TestParseTier(t *testing.T) {
	t.Parallel()

	tier, err := billing.ParseTier(" Premium ")
	require.NoError(t, err)
	assert.Equal(t, billing.TierPremium, tier)

	_, err = billing.ParseTier("gold")
	assert.ErrorIs(t, err, billing.ErrUnknownTier)
	assert.ErrorIs(t, err, billing.ErrValidation)
}
