package interfaces

import (
	"context"
	"time"

	"github.com/akylbek/payment-system/checkout-service/internal/models"
)

// TransactionRepository is the append-only ledger of inbound bank notifications.
type TransactionRepository interface {
	Insert(ctx context.Context, tx *models.PaymentTransaction) (bool, error)
	GetByProviderID(ctx context.Context, providerTxnID int64) (*models.PaymentTransaction, error)
	MarkProcessed(ctx context.Context, providerTxnID int64, orderID string, now time.Time) (bool, error)
	RecordOutcome(ctx context.Context, providerTxnID int64, outcome models.WebhookOutcome, now time.Time) (bool, error)
	ListUnprocessed(ctx context.Context, limit int) ([]*models.PaymentTransaction, error)
}
