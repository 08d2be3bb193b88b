package billing

import (
	"errors"
	"fmt"
)

// Error categories. Every error returned by this package matches one of them
// with errors.Is, in addition to its specific sentinel.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrConflict     = errors.New("conflict")
	ErrValidation   = errors.New("validation failed")
)

var (
	ErrCustomerNotFound     = fmt.Errorf("customer %w", ErrNotFound)
	ErrPlanNotFound         = fmt.Errorf("plan %w", ErrNotFound)
	ErrSubscriptionNotFound = fmt.Errorf("subscription %w", ErrNotFound)
	ErrInvoiceNotFound      = fmt.Errorf("invoice %w", ErrNotFound)

	ErrSubscriptionNotActive = fmt.Errorf("%w: subscription is not active", ErrInvalidState)
	ErrAutoRenewDisabled     = fmt.Errorf("%w: auto-renew is disabled", ErrInvalidState)
	ErrInvoiceNotPending     = fmt.Errorf("%w: invoice is not pending", ErrInvalidState)
	ErrPlanInactive          = fmt.Errorf("%w: plan is not offered", ErrInvalidState)

	ErrActiveSubscriptionExists = fmt.Errorf("%w: customer already has an active subscription", ErrConflict)
	ErrPlanAlreadyExists        = fmt.Errorf("%w: plan for tier already exists", ErrConflict)

	ErrInvalidProrationInput = fmt.Errorf("%w: invalid proration input", ErrValidation)
	ErrInvalidTaxRate        = fmt.Errorf("%w: tax rate must be between 0 and 1", ErrValidation)
	ErrInvalidCurrency       = fmt.Errorf("%w: unknown currency code", ErrValidation)
	ErrInvalidPaymentAmount  = fmt.Errorf("%w: payment amount must be positive", ErrValidation)
	ErrUnknownTier           = fmt.Errorf("%w: unknown plan tier", ErrValidation)
	ErrInvalidPaymentMethod  = fmt.Errorf("%w: payment method is required", ErrValidation)
)

var (
	ErrSweepInProgress = errors.New("renewal sweep already in progress")
	ErrFailedToIssue   = errors.New("failed to issue invoice")
	ErrFailedToLoad    = errors.New("failed to load plans")
)
