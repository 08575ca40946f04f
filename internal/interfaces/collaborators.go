package interfaces

import (
	"context"
	"time"

	"github.com/akylbek/payment-system/checkout-service/internal/models"
)

// CommercePlatform is the external store that owns carts and orders. Calls are
// fallible and not idempotent from our side.
type CommercePlatform interface {
	GetCart(ctx context.Context, cartID string) (*models.Cart, error)
	CreateOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error)
	MarkOrderPaid(ctx context.Context, orderID string) error
}

type FulfillmentNotifier interface {
	NotifyOrderPaid(ctx context.Context, event models.FulfillmentEvent) error
}

type SessionEventPublisher interface {
	PublishSessionEvent(ctx context.Context, event models.SessionEvent) error
}

// SubmissionGuard is a short-lived mutual exclusion keyed by an arbitrary string.
type SubmissionGuard interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}
