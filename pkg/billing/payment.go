package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentKind names the variant of a PaymentMethod.
type PaymentKind string

const (
	PaymentCard         PaymentKind = "card"
	PaymentBankTransfer PaymentKind = "bank_transfer"
	PaymentWallet       PaymentKind = "wallet"
)

// PaymentMethod is a closed set of method-specific payloads.
// Only the types declared in this package implement it.
type PaymentMethod interface {
	Kind() PaymentKind
	paymentMethod()
}

// CardPayment carries the non-sensitive part of a card.
type CardPayment struct {
	Holder   string `json:"holder"`
	Last4    string `json:"last4"`
	ExpMonth int    `json:"exp_month"`
	ExpYear  int    `json:"exp_year"`
}

func (CardPayment) Kind() PaymentKind { return PaymentCard }
func (CardPayment) paymentMethod()    {}

// BankTransferPayment describes a wire or ACH transfer.
type BankTransferPayment struct {
	Bank          string `json:"bank"`
	AccountNumber string `json:"account_number"`
	AccountType   string `json:"account_type"`
}

func (BankTransferPayment) Kind() PaymentKind { return PaymentBankTransfer }
func (BankTransferPayment) paymentMethod()    {}

// WalletPayment describes a payment through a hosted wallet such as PayPal.
type WalletPayment struct {
	Provider      string `json:"provider"`
	Account       string `json:"account"`
	TransactionID string `json:"transaction_id"`
}

func (WalletPayment) Kind() PaymentKind { return PaymentWallet }
func (WalletPayment) paymentMethod()    {}

// Payment is an append-only record of money received (or attempted) against an invoice.
type Payment struct {
	ID         uuid.UUID
	InvoiceID  uuid.UUID
	CustomerID uuid.UUID
	Amount     decimal.Decimal
	Method     PaymentMethod
	Reference  string
	Settled    bool
	ReceivedAt time.Time
}

// PaymentAttempt is the input to Invoicer.RecordPayment.
// Succeeded is reported by the external payment processor.
type PaymentAttempt struct {
	Amount    decimal.Decimal
	Method    PaymentMethod
	Reference string
	Succeeded bool
}

func (a PaymentAttempt) validate() error {
	if a.Method == nil {
		return ErrInvalidPaymentMethod
	}
	if !a.Amount.IsPositive() {
		return ErrInvalidPaymentAmount
	}
	return nil
}
