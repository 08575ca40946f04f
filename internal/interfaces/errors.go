package interfaces

import "errors"

// Errors returned by repository implementations.
var (
	ErrNotFound             = errors.New("record not found")
	ErrDuplicatePaymentCode = errors.New("payment code already in use")
	ErrRecentCODSession     = errors.New("a pending cash-on-delivery session exists for this cart")
)
