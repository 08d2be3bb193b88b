package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// NominalMonthDays is the fixed billing cycle length. Calendar months are never used.
	NominalMonthDays = 30
	// MoneyScale is the number of decimal places every amount is rounded to.
	MoneyScale = 2
	// InvoiceTermDays is the payment window granted on every invoice.
	InvoiceTermDays = 15

	day = 24 * time.Hour
)

// CycleLength is the duration of one billing cycle.
const CycleLength = NominalMonthDays * day

// RemainingDays counts whole days until due, rounding any partial day up.
// It returns 0 when due is not after now.
func RemainingDays(due, now time.Time) int64 {
	left := due.Sub(now)
	if left <= 0 {
		return 0
	}
	days := int64(left / day)
	if left%day != 0 {
		days++
	}
	return days
}

// CalculateProration returns the upgrade charge for the rest of the current cycle:
// the price difference spread over a 30-day month, rounded to cents, times the
// remaining days. Downgrades, lateral moves and past-due cycles yield zero.
func CalculateProration(nextPaymentDue time.Time, oldPrice, newPrice decimal.Decimal, now time.Time) decimal.Decimal {
	if newPrice.LessThanOrEqual(oldPrice) {
		return decimal.Zero
	}
	if !nextPaymentDue.After(now) {
		return decimal.Zero
	}

	days := RemainingDays(nextPaymentDue, now)
	dailyRate := newPrice.Sub(oldPrice).DivRound(decimal.NewFromInt(NominalMonthDays), MoneyScale)

	return dailyRate.Mul(decimal.NewFromInt(days)).Round(MoneyScale)
}

// IsValidProration reports whether the inputs can be prorated: both prices
// present and non-negative, and a due date strictly after now.
func IsValidProration(oldPrice, newPrice *decimal.Decimal, nextPaymentDue *time.Time, now time.Time) bool {
	return ValidateProration(oldPrice, newPrice, nextPaymentDue, now) == nil
}

// ValidateProration is IsValidProration with the reason attached.
func ValidateProration(oldPrice, newPrice *decimal.Decimal, nextPaymentDue *time.Time, now time.Time) error {
	switch {
	case oldPrice == nil || newPrice == nil:
		return fmt.Errorf("%w: price is missing", ErrInvalidProrationInput)
	case oldPrice.IsNegative() || newPrice.IsNegative():
		return fmt.Errorf("%w: price is negative", ErrInvalidProrationInput)
	case nextPaymentDue == nil:
		return fmt.Errorf("%w: next payment date is missing", ErrInvalidProrationInput)
	case !nextPaymentDue.After(now):
		return fmt.Errorf("%w: next payment date is not in the future", ErrInvalidProrationInput)
	}
	return nil
}
