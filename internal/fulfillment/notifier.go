// Package fulfillment tells the fulfillment system about orders it should ship.
package fulfillment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/checkout-service/internal/models"
	"github.com/akylbek/payment-system/checkout-service/internal/telemetry"
)

const (
	DefaultSubject = "fulfillment.order.paid"

	defaultMaxRetries      = 4
	defaultInitialInterval = 200 * time.Millisecond
	defaultMaxInterval     = 5 * time.Second
)

// Publisher is the subset of *nats.Conn the notifier needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes fulfillment events as JSON on a NATS subject and retries
// with exponential backoff.
type NATSNotifier struct {
	pub             Publisher
	subject         string
	maxRetries      uint64
	initialInterval time.Duration
}

func NewNATSNotifier(pub Publisher, subject string) *NATSNotifier {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSNotifier{
		pub:             pub,
		subject:         subject,
		maxRetries:      defaultMaxRetries,
		initialInterval: defaultInitialInterval,
	}
}

func (n *NATSNotifier) NotifyOrderPaid(ctx context.Context, event models.FulfillmentEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal fulfillment event: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = n.initialInterval
	b.MaxInterval = defaultMaxInterval

	attempt := 0
	op := func() error {
		attempt++
		if err := n.pub.Publish(n.subject, data); err != nil {
			telemetry.Logger.Warn("Fulfillment publish failed",
				zap.String("order_id", event.OrderID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, n.maxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return fmt.Errorf("publish %s for order %s after %d attempts: %w", event.Event, event.OrderID, attempt, err)
	}

	telemetry.Logger.Info("Fulfillment notified",
		zap.String("event", event.Event),
		zap.String("order_id", event.OrderID),
		zap.String("session_id", event.SessionID),
	)
	return nil
}
