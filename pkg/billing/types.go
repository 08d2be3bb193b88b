package billing

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Tier is a subscription level with a fixed monthly price.
type Tier string

const (
	TierBasic      Tier = "basic"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// Tiers returns every known tier, cheapest first.
func Tiers() []Tier {
	return []Tier{TierBasic, TierPremium, TierEnterprise}
}

// Valid reports whether the tier is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierBasic, TierPremium, TierEnterprise:
		return true
	}
	return false
}

func (t Tier) rank() int {
	for i, tier := range Tiers() {
		if tier == t {
			return i
		}
	}
	return len(Tiers())
}

// ParseTier parses a tier name case-insensitively.
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", ErrUnknownTier
	}
	return t, nil
}

// SubscriptionStatus is the lifecycle state of a subscription.
type SubscriptionStatus string

const (
	StatusActive     SubscriptionStatus = "active"
	StatusCancelled  SubscriptionStatus = "cancelled"
	StatusDelinquent SubscriptionStatus = "delinquent"
	StatusPaused     SubscriptionStatus = "paused"
)

// InvoiceStatus is the payment state of an invoice.
type InvoiceStatus string

const (
	InvoicePending   InvoiceStatus = "pending"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceOverdue   InvoiceStatus = "overdue"
	InvoiceCancelled InvoiceStatus = "cancelled"
)

// InvoiceReason tells which billing event produced an invoice.
type InvoiceReason string

const (
	ReasonSubscriptionCreate InvoiceReason = "subscription_create"
	ReasonPlanUpgrade        InvoiceReason = "plan_upgrade"
	ReasonRenewal            InvoiceReason = "renewal"
)

// Plan is a priced tier. Only Active may change after the catalog is seeded.
type Plan struct {
	ID           uuid.UUID
	Tier         Tier
	Name         string
	Description  string
	MonthlyPrice decimal.Decimal
	FeatureLimit int
	Active       bool
	CreatedAt    time.Time
}

// Subscription links a customer to a plan by identifier.
// A customer holds at most one subscription in StatusActive.
type Subscription struct {
	ID             uuid.UUID
	CustomerID     uuid.UUID
	PlanID         uuid.UUID
	Status         SubscriptionStatus
	StartedAt      time.Time
	NextPaymentDue time.Time
	RenewedAt      *time.Time
	CancelledAt    *time.Time
	AutoRenew      bool
	UpdatedAt      time.Time
}

// IsActive returns true if the subscription is in StatusActive.
func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive
}

// IsCancelled returns true if the subscription reached its terminal state.
func (s *Subscription) IsCancelled() bool {
	return s.Status == StatusCancelled
}

// IsDueAt reports whether the subscription's payment is due at t.
func (s *Subscription) IsDueAt(t time.Time) bool {
	return !s.NextPaymentDue.After(t)
}

// PlanSnapshot is a copy of the plan fields at the time an invoice was issued.
type PlanSnapshot struct {
	PlanID uuid.UUID
	Tier   Tier
	Name   string
}

// Invoice is an immutable billing record. Only Status and PaidAt change after issue.
type Invoice struct {
	ID              uuid.UUID
	Number          string
	CustomerID      uuid.UUID
	SubscriptionID  uuid.UUID
	Plan            PlanSnapshot
	Reason          InvoiceReason
	Description     string
	Currency        string
	BaseAmount      decimal.Decimal
	ProrationAmount decimal.Decimal
	TaxRate         decimal.Decimal
	TaxAmount       decimal.Decimal
	Total           decimal.Decimal
	Status          InvoiceStatus
	IssuedAt        time.Time
	DueAt           time.Time
	PaidAt          *time.Time
}

// IsPending returns true while the invoice awaits payment.
func (i *Invoice) IsPending() bool {
	return i.Status == InvoicePending
}

// IsPastDue reports whether a pending invoice's due date has passed at t.
func (i *Invoice) IsPastDue(t time.Time) bool {
	return i.IsPending() && i.DueAt.Before(t)
}
