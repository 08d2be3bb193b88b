package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dmitrymomot/billingkit/pkg/billing"
)

type planResponse struct {
	ID           uuid.UUID       `json:"id"`
	Tier         string          `json:"tier"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	MonthlyPrice decimal.Decimal `json:"monthly_price"`
	FeatureLimit int             `json:"feature_limit"`
}

func newPlanResponse(p billing.Plan) planResponse {
	return planResponse{
		ID:           p.ID,
		Tier:         string(p.Tier),
		Name:         p.Name,
		Description:  p.Description,
		MonthlyPrice: p.MonthlyPrice,
		FeatureLimit: p.FeatureLimit,
	}
}

type subscriptionResponse struct {
	ID             uuid.UUID  `json:"id"`
	CustomerID     uuid.UUID  `json:"customer_id"`
	PlanID         uuid.UUID  `json:"plan_id"`
	Status         string     `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	NextPaymentDue time.Time  `json:"next_payment_due"`
	RenewedAt      *time.Time `json:"renewed_at,omitempty"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
	AutoRenew      bool       `json:"auto_renew"`
}

func newSubscriptionResponse(s billing.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:             s.ID,
		CustomerID:     s.CustomerID,
		PlanID:         s.PlanID,
		Status:         string(s.Status),
		StartedAt:      s.StartedAt,
		NextPaymentDue: s.NextPaymentDue,
		RenewedAt:      s.RenewedAt,
		CancelledAt:    s.CancelledAt,
		AutoRenew:      s.AutoRenew,
	}
}

type invoiceResponse struct {
	ID              uuid.UUID       `json:"id"`
	Number          string          `json:"number"`
	CustomerID      uuid.UUID       `json:"customer_id"`
	SubscriptionID  uuid.UUID       `json:"subscription_id"`
	Tier            string          `json:"tier"`
	Reason          string          `json:"reason"`
	Description     string          `json:"description"`
	Currency        string          `json:"currency"`
	BaseAmount      decimal.Decimal `json:"base_amount"`
	ProrationAmount decimal.Decimal `json:"proration_amount"`
	TaxRate         decimal.Decimal `json:"tax_rate"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	Total           decimal.Decimal `json:"total"`
	Status          string          `json:"status"`
	IssuedAt        time.Time       `json:"issued_at"`
	DueAt           time.Time       `json:"due_at"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
}

func newInvoiceResponse(inv billing.Invoice) invoiceResponse {
	return invoiceResponse{
		ID:              inv.ID,
		Number:          inv.Number,
		CustomerID:      inv.CustomerID,
		SubscriptionID:  inv.SubscriptionID,
		Tier:            string(inv.Plan.Tier),
		Reason:          string(inv.Reason),
		Description:     inv.Description,
		Currency:        inv.Currency,
		BaseAmount:      inv.BaseAmount,
		ProrationAmount: inv.ProrationAmount,
		TaxRate:         inv.TaxRate,
		TaxAmount:       inv.TaxAmount,
		Total:           inv.Total,
		Status:          string(inv.Status),
		IssuedAt:        inv.IssuedAt,
		DueAt:           inv.DueAt,
		PaidAt:          inv.PaidAt,
	}
}

type sweepResponse struct {
	Due        int    `json:"due"`
	Renewed    int    `json:"renewed"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	DurationMS int64  `json:"duration_ms"`
	Sweep      string `json:"sweep"`
}

type overdueResponse struct {
	Candidates int    `json:"candidates"`
	Overdue    int    `json:"overdue"`
	Delinquent int    `json:"delinquent"`
	Failed     int    `json:"failed"`
	DurationMS int64  `json:"duration_ms"`
	Sweep      string `json:"sweep"`
}
