package domain

import (
	"errors"
	"fmt"

	pricingdomain "github.com/smallbiznis/campaigncredit/internal/pricing/domain"
)

var (
	ErrInvalidTenant       = errors.New("invalid_tenant")
	ErrInvalidQuantity     = errors.New("invalid_quantity")
	ErrQuantityTooLarge    = errors.New("invalid_quantity_too_large")
	ErrInvalidUnitPrice    = errors.New("invalid_unit_price")
	ErrInvalidApprover     = errors.New("invalid_approver")
	ErrInvalidConsumption  = errors.New("invalid_consumption")
	ErrTransactionNotFound = errors.New("transaction_not_found")
	ErrAlreadyRefunded     = errors.New("already_refunded")
	ErrDuplicateOrder      = errors.New("duplicate_order_credit")
	ErrInsufficientCredits = errors.New("insufficient_credits")
)

// InsufficientCreditsError carries the shortfall for a channel.
type InsufficientCreditsError struct {
	Channel   pricingdomain.Channel
	Requested int64
	Available int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient %s credits: requested %d, available %d", e.Channel, e.Requested, e.Available)
}

func (e *InsufficientCreditsError) Unwrap() error { return ErrInsufficientCredits }
