package service

import (
	"errors"
	"fmt"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrCartNotFound         = errors.New("cart not found")
	ErrEmptyCart            = errors.New("cart is empty or has no payable total")
	ErrSessionNotFound      = errors.New("checkout session not found")
	ErrAlreadyProcessing    = errors.New("already processing")
	ErrAlreadySettled       = errors.New("already settled by another payment")
	ErrSettlementInProgress = errors.New("settlement already in progress")
	ErrSessionNotPayable    = errors.New("session is not payable")
	ErrOrderCreation        = errors.New("order creation failed")
	ErrCommerceUnavailable  = errors.New("commerce platform request failed")
)

// ValidationError carries a human-readable reason and matches ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
