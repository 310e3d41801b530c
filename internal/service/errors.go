package service

import (
	"errors"
	"fmt"
)

var (
	ErrRetryExhausted     = errors.New("too much contention, retry later")
	ErrResourceExhausted  = errors.New("resource exhausted")
	ErrShopLimit          = fmt.Errorf("daily shop limit reached: %w", ErrResourceExhausted)
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrExternalDependency = errors.New("external dependency unavailable")
	ErrInvalidRequest     = errors.New("invalid request")

	ErrVillageMissing   = fmt.Errorf("village not founded: %w", ErrInvalidRequest)
	ErrVillageExists    = fmt.Errorf("village already founded: %w", ErrInvalidRequest)
	ErrStakeNotFound    = fmt.Errorf("stake not found: %w", ErrInvalidRequest)
	ErrStakeNotMatured  = fmt.Errorf("stake has not matured: %w", ErrInvalidRequest)
	ErrTooManyStakes    = fmt.Errorf("too many active stakes: %w", ErrInvalidRequest)
	ErrPaymentUsed      = fmt.Errorf("transaction already used: %w", ErrInvalidRequest)
	ErrPaymentMismatch  = fmt.Errorf("transaction does not match the invoice: %w", ErrInvalidRequest)
	ErrPaymentsDisabled = fmt.Errorf("payments are not configured: %w", ErrExternalDependency)
)

// errNoChange lets a mutation report that the stored state already reflects it.
var errNoChange = errors.New("no change")
