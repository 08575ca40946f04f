package interfaces

import (
	"context"
	"time"

	"github.com/akylbek/payment-system/checkout-service/internal/models"
)

// SessionRepository defines the contract for checkout session data access.
// Every mutating method is a compare-and-swap against the persisted row and reports
// whether it applied.
type SessionRepository interface {
	Create(ctx context.Context, s *models.CheckoutSession) error
	GetByID(ctx context.Context, id string) (*models.CheckoutSession, error)
	GetByPaymentCode(ctx context.Context, code string) (*models.CheckoutSession, error)
	// CreateCOD inserts s unless a pending COD session for the same cart was created
	// at or after since, in which case it returns ErrRecentCODSession. The check and
	// the insert are atomic per cart.
	CreateCOD(ctx context.Context, s *models.CheckoutSession, since time.Time) error

	ExpireIfOverdue(ctx context.Context, id string, now time.Time) (bool, error)
	ExpireOverdue(ctx context.Context, now time.Time) ([]string, error)
	FailPending(ctx context.Context, id, lastError string, now time.Time) (bool, error)

	Claim(ctx context.Context, id, ref string, from []models.SessionStatus, now time.Time) (bool, error)
	FailClaimed(ctx context.Context, id, ref, lastError string, now time.Time) (bool, error)
	CompleteSettlement(ctx context.Context, id, ref string, settlement models.Settlement, to models.SessionStatus) (bool, error)
	ConfirmCashReceived(ctx context.Context, id string, now time.Time) (bool, error)
}
