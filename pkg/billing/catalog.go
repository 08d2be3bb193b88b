package billing

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PlanDefinition is the seed data for one tier.
type PlanDefinition struct {
	Tier         Tier
	Name         string
	Description  string
	MonthlyPrice decimal.Decimal
	FeatureLimit int
}

// DefaultPlanDefinitions returns the standard three-tier catalog.
func DefaultPlanDefinitions() []PlanDefinition {
	return []PlanDefinition{
		{
			Tier:         TierBasic,
			Name:         "Basic",
			Description:  "Basic plan with essential features",
			MonthlyPrice: decimal.RequireFromString("9.99"),
			FeatureLimit: 100,
		},
		{
			Tier:         TierPremium,
			Name:         "Premium",
			Description:  "Premium plan with advanced features",
			MonthlyPrice: decimal.RequireFromString("29.99"),
			FeatureLimit: 500,
		},
		{
			Tier:         TierEnterprise,
			Name:         "Enterprise",
			Description:  "Enterprise plan with every feature and priority support",
			MonthlyPrice: decimal.RequireFromString("99.99"),
			FeatureLimit: 5000,
		},
	}
}

// Catalog is the read-mostly set of plans. Plans are loaded from the Store once
// and served from memory afterwards; EnsureSeeded and SetActive refresh it.
type Catalog struct {
	store  Store
	defs   []PlanDefinition
	clock  func() time.Time
	logger *slog.Logger

	mu     sync.RWMutex
	loaded bool
	byTier map[Tier]Plan
	byID   map[uuid.UUID]Plan
}

// NewCatalog creates a catalog backed by store.
// Panics if store is nil.
func NewCatalog(store Store, opts ...Option) *Catalog {
	if store == nil {
		panic("billing: catalog store is required")
	}
	o := newOptions(opts)
	return &Catalog{
		store:  store,
		defs:   o.plans,
		clock:  o.clock,
		logger: o.logger,
	}
}

// EnsureSeeded creates a plan for every configured tier that has none yet.
// Existing plans are left untouched, so the call is idempotent.
func (c *Catalog) EnsureSeeded(ctx context.Context) error {
	created := 0
	err := c.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		existing, err := tx.ListPlans(ctx)
		if err != nil {
			return err
		}
		seeded := make(map[Tier]bool, len(existing))
		for _, p := range existing {
			seeded[p.Tier] = true
		}

		now := c.clock()
		for _, def := range c.defs {
			if seeded[def.Tier] {
				continue
			}
			err := tx.InsertPlan(ctx, Plan{
				ID:           uuid.New(),
				Tier:         def.Tier,
				Name:         def.Name,
				Description:  def.Description,
				MonthlyPrice: def.MonthlyPrice.Round(MoneyScale),
				FeatureLimit: def.FeatureLimit,
				Active:       true,
				CreatedAt:    now,
			})
			// Another process seeded the tier first.
			if errors.Is(err, ErrPlanAlreadyExists) {
				continue
			}
			if err != nil {
				return err
			}
			created++
		}
		return nil
	})
	if err != nil {
		return errors.Join(ErrFailedToLoad, err)
	}

	if created > 0 {
		c.logger.InfoContext(ctx, "plan catalog seeded", slog.Int("created", created))
	}
	return c.reload(ctx)
}

// FindByTier returns the plan for tier, or ErrPlanNotFound when the tier is unseeded.
func (c *Catalog) FindByTier(ctx context.Context, tier Tier) (Plan, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return Plan{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.byTier[tier]
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	return p, nil
}

// FindByID returns the plan with the given id, or ErrPlanNotFound.
func (c *Catalog) FindByID(ctx context.Context, id uuid.UUID) (Plan, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return Plan{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.byID[id]
	if !ok {
		return Plan{}, ErrPlanNotFound
	}
	return p, nil
}

// ActivePlans returns the plans currently offered, cheapest first.
func (c *Catalog) ActivePlans(ctx context.Context) ([]Plan, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	plans := make([]Plan, 0, len(c.byTier))
	for _, p := range c.byTier {
		if p.Active {
			plans = append(plans, p)
		}
	}
	c.mu.RUnlock()

	slices.SortFunc(plans, func(a, b Plan) int {
		if r := a.MonthlyPrice.Cmp(b.MonthlyPrice); r != 0 {
			return r
		}
		return cmp.Compare(a.Tier.rank(), b.Tier.rank())
	})
	return plans, nil
}

// SetActive toggles whether a tier is offered to new subscribers.
// Existing subscriptions keep renewing on an inactive plan.
func (c *Catalog) SetActive(ctx context.Context, tier Tier, active bool) error {
	if _, err := c.FindByTier(ctx, tier); err != nil {
		return err
	}
	err := c.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.SetPlanActive(ctx, tier, active)
	})
	if err != nil {
		return err
	}
	c.logger.InfoContext(ctx, "plan availability changed",
		slog.String("tier", string(tier)),
		slog.Bool("active", active))
	return c.reload(ctx)
}

func (c *Catalog) ensureLoaded(ctx context.Context) error {
	c.mu.RLock()
	loaded := c.loaded
	c.mu.RUnlock()
	if loaded {
		return nil
	}
	return c.reload(ctx)
}

func (c *Catalog) reload(ctx context.Context) error {
	var plans []Plan
	err := c.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		plans, err = tx.ListPlans(ctx)
		return err
	})
	if err != nil {
		return errors.Join(ErrFailedToLoad, err)
	}

	byTier := make(map[Tier]Plan, len(plans))
	byID := make(map[uuid.UUID]Plan, len(plans))
	for _, p := range plans {
		byTier[p.Tier] = p
		byID[p.ID] = p
	}

	c.mu.Lock()
	c.byTier, c.byID, c.loaded = byTier, byID, true
	c.mu.Unlock()
	return nil
}
