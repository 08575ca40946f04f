package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/checkout-service/internal/interfaces"
	"github.com/akylbek/payment-system/checkout-service/internal/models"
	"github.com/akylbek/payment-system/checkout-service/internal/telemetry"
)

const DefaultCODGuardWindow = 2 * time.Minute

// CODSettler places cash-on-delivery orders synchronously at checkout time.
type CODSettler struct {
	sessions     *SessionManager
	orchestrator *Orchestrator
	repo         interfaces.SessionRepository
	commerce     interfaces.CommercePlatform
	guard        interfaces.SubmissionGuard
	events       interfaces.SessionEventPublisher
	clock        clockwork.Clock
	window       time.Duration
}

// NewCODSettler builds the settler. guard may be nil: the store rejects repeated
// submissions atomically on its own, and the guard only turns them away earlier.
func NewCODSettler(
	sessions *SessionManager,
	orchestrator *Orchestrator,
	repo interfaces.SessionRepository,
	commerce interfaces.CommercePlatform,
	guard interfaces.SubmissionGuard,
	events interfaces.SessionEventPublisher,
	clock clockwork.Clock,
	window time.Duration,
) *CODSettler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if window <= 0 {
		window = DefaultCODGuardWindow
	}
	return &CODSettler{
		sessions:     sessions,
		orchestrator: orchestrator,
		repo:         repo,
		commerce:     commerce,
		guard:        guard,
		events:       events,
		clock:        clock,
		window:       window,
	}
}

func (c *CODSettler) Checkout(ctx context.Context, in models.CreateSessionInput) (*models.CheckoutResult, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "cod.checkout")
	defer span.End()
	span.SetAttributes(attribute.String("cart_id", in.CartID))

	if in.PaymentMethod != models.MethodCOD {
		return nil, invalid("payment_method", "expected %s", models.MethodCOD)
	}
	if err := c.sessions.Validate(in); err != nil {
		return nil, err
	}

	key := "checkout:cod:" + in.CartID
	held := false
	if c.guard != nil {
		ok, err := c.guard.Acquire(ctx, key, c.window)
		switch {
		case err != nil:
			// CreateCOD still rejects a second session for the cart.
			telemetry.Logger.Warn("COD guard unavailable",
				zap.String("cart_id", in.CartID),
				zap.Error(err),
			)
		case !ok:
			return nil, fmt.Errorf("%w: cart %s", ErrAlreadyProcessing, in.CartID)
		default:
			held = true
		}
	}
	release := func() {
		if !held {
			return
		}
		if err := c.guard.Release(context.WithoutCancel(ctx), key); err != nil {
			telemetry.Logger.Warn("Failed to release COD guard",
				zap.String("cart_id", in.CartID),
				zap.Error(err),
			)
		}
	}

	s, err := c.sessions.CreateCOD(ctx, in, c.clock.Now().Add(-c.window))
	if errors.Is(err, ErrAlreadyProcessing) {
		telemetry.Logger.Info("Rejected repeated COD submission", zap.String("cart_id", in.CartID))
		return nil, err
	}
	if err != nil {
		release()
		return nil, err
	}

	result, err := c.orchestrator.Settle(ctx, s, models.SettlementTrigger{
		Ref:    "cod:" + s.ID,
		Method: models.MethodCOD,
	})
	if err != nil {
		release()
		return nil, err
	}

	order := result.Order
	return &models.CheckoutResult{Session: result.Session, Order: &order}, nil
}

// ConfirmCashReceived records that the courier collected the cash. Confirming a
// session that is already paid succeeds without side effects.
func (c *CODSettler) ConfirmCashReceived(ctx context.Context, sessionID string) (*models.CheckoutSession, error) {
	s, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.PaymentMethod != models.MethodCOD {
		return nil, fmt.Errorf("%w: session %s is not cash on delivery", ErrSessionNotPayable, s.ID)
	}
	if s.Status == models.StatusPaid {
		return s, nil
	}
	if s.Status != models.StatusPending || s.Settlement == nil {
		return nil, fmt.Errorf("%w: session %s is %s without a placed order", ErrSessionNotPayable, s.ID, s.Status)
	}

	if err := c.commerce.MarkOrderPaid(ctx, s.Settlement.OrderID); err != nil {
		return nil, fmt.Errorf("%w: mark order %s paid: %v", ErrCommerceUnavailable, s.Settlement.OrderID, err)
	}

	now := c.clock.Now()
	ok, err := c.repo.ConfirmCashReceived(ctx, s.ID, now)
	if err != nil {
		return nil, fmt.Errorf("confirm session %s: %w", s.ID, err)
	}
	if !ok {
		fresh, err := c.sessions.Get(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		if fresh.Status == models.StatusPaid {
			return fresh, nil
		}
		return nil, fmt.Errorf("%w: session %s is %s", ErrSessionNotPayable, s.ID, fresh.Status)
	}

	s.Status = models.StatusPaid
	s.UpdatedAt = now
	emitTransition(ctx, c.events, models.SessionEvent{
		SessionID:     s.ID,
		State:         models.StatusPaid,
		PreviousState: models.StatusPending,
		Transition:    "cod_confirmed",
		OrderID:       s.Settlement.OrderID,
		Timestamp:     now,
	})
	return s, nil
}
