package billing

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var defaultDisplayLanguage = language.English

// ParseCurrency resolves an ISO 4217 code such as "usd" or "EUR".
func ParseCurrency(code string) (currency.Unit, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return currency.Unit{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	return unit, nil
}

// FormatAmount renders an amount for humans, e.g. "$ 29.99" or "€ 1,200.00".
// The digits come from the exact decimal; x/text only supplies the symbol
// and the locale's separators.
func FormatAmount(amount decimal.Decimal, unit currency.Unit, tag language.Tag) string {
	p := message.NewPrinter(tag)
	symbol := p.Sprint(currency.Symbol(unit))

	rounded := amount.Round(MoneyScale)
	sign := ""
	if rounded.IsNegative() {
		sign = "-"
	}
	whole, fraction, _ := strings.Cut(rounded.Abs().StringFixed(MoneyScale), ".")
	n, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return symbol + " " + sign + whole + "." + fraction
	}

	// Format the whole part with zero fraction digits, then swap in the real ones.
	digits := p.Sprint(number.Decimal(n, number.Scale(MoneyScale)))
	digits = strings.TrimSuffix(digits, strings.Repeat("0", MoneyScale)) + fraction
	return symbol + " " + sign + digits
}

// FormatInvoiceNumber builds the public invoice number from the issue month
// and the global sequence: INV-200601-000042.
func FormatInvoiceNumber(issuedAt time.Time, seq int64) string {
	return fmt.Sprintf("INV-%s-%06d", issuedAt.UTC().Format("200601"), seq)
}

// ParseInvoiceSeq extracts the sequence value from an invoice number built by
// FormatInvoiceNumber.
func ParseInvoiceSeq(number string) (int64, error) {
	parts := strings.Split(strings.TrimSpace(number), "-")
	if len(parts) != 3 || !strings.EqualFold(parts[0], "INV") || len(parts[1]) != 6 {
		return 0, fmt.Errorf("%w: malformed invoice number %q", ErrValidation, number)
	}
	seq, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || seq < 1 {
		return 0, fmt.Errorf("%w: malformed invoice number %q", ErrValidation, number)
	}
	return seq, nil
}

func invoiceDescription(plan Plan, reason InvoiceReason) string {
	switch reason {
	case ReasonPlanUpgrade:
		return fmt.Sprintf("Subscription plan %s (prorated plan change)", plan.Name)
	case ReasonRenewal:
		return fmt.Sprintf("Subscription plan %s (renewal)", plan.Name)
	default:
		return fmt.Sprintf("Subscription plan %s", plan.Name)
	}
}
