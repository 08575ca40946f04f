package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/checkout-service/internal/interfaces"
	"github.com/akylbek/payment-system/checkout-service/internal/models"
	"github.com/akylbek/payment-system/checkout-service/internal/telemetry"
)

const defaultNotifyTimeout = 30 * time.Second

// Orchestrator is the only caller of CreateOrder. A session is claimed with a
// conditional write before the order is created, so at most one order can ever be
// linked to it.
type Orchestrator struct {
	repo          interfaces.SessionRepository
	commerce      interfaces.CommercePlatform
	notifier      interfaces.FulfillmentNotifier
	events        interfaces.SessionEventPublisher
	validate      *validator.Validate
	clock         clockwork.Clock
	notifyTimeout time.Duration

	inflight sync.WaitGroup
}

func NewOrchestrator(
	repo interfaces.SessionRepository,
	commerce interfaces.CommercePlatform,
	notifier interfaces.FulfillmentNotifier,
	events interfaces.SessionEventPublisher,
	clock clockwork.Clock,
) *Orchestrator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Orchestrator{
		repo:          repo,
		commerce:      commerce,
		notifier:      notifier,
		events:        events,
		validate:      newValidator(),
		clock:         clock,
		notifyTimeout: defaultNotifyTimeout,
	}
}

// Settle creates the downstream order for s and links it. A second call with the
// same trigger reference after success is a no-op that returns the linked order.
func (o *Orchestrator) Settle(ctx context.Context, s *models.CheckoutSession, trig models.SettlementTrigger) (*models.SettlementResult, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "order.settle")
	defer span.End()
	span.SetAttributes(
		attribute.String("session_id", s.ID),
		attribute.String("settlement_ref", trig.Ref),
	)

	if s.Settlement != nil {
		return o.classify(s, trig)
	}

	from := []models.SessionStatus{models.StatusPending}
	if trig.AllowExpired {
		from = append(from, models.StatusExpired)
	}

	start := o.clock.Now()
	claimed, err := o.repo.Claim(ctx, s.ID, trig.Ref, from, start)
	if err != nil {
		return nil, fmt.Errorf("claim session %s: %w", s.ID, err)
	}
	if !claimed {
		fresh, err := o.repo.GetByID(ctx, s.ID)
		if err != nil {
			return nil, fmt.Errorf("reload session %s: %w", s.ID, err)
		}
		return o.classify(fresh, trig)
	}
	s.ClaimRef = trig.Ref
	s.ClaimedAt = &start

	if err := o.validate.Struct(s.Address); err != nil {
		return nil, o.fail(ctx, s, trig, fmt.Sprintf("invalid shipping address: %v", validationError(err)))
	}

	order, err := o.commerce.CreateOrder(ctx, buildOrderRequest(s))
	if err != nil {
		return nil, o.fail(ctx, s, trig, err.Error())
	}
	telemetry.RecordOrderCreated(string(trig.Method))

	if trig.Method == models.MethodBankTransfer {
		if err := o.commerce.MarkOrderPaid(ctx, order.OrderID); err != nil {
			telemetry.Logger.Warn("Failed to mark order paid",
				zap.String("session_id", s.ID),
				zap.String("order_id", order.OrderID),
				zap.Error(err),
			)
		}
	}

	target := models.StatusPaid
	if trig.Method == models.MethodCOD {
		// Only the order is final; cash is collected on delivery.
		target = models.StatusPending
	}

	now := o.clock.Now()
	settlement := models.Settlement{
		OrderID:       order.OrderID,
		OrderNumber:   order.OrderNumber,
		ProviderTxnID: trig.ProviderTxnID,
		SettledAt:     now,
	}
	linked, err := o.repo.CompleteSettlement(ctx, s.ID, trig.Ref, settlement, target)
	if err == nil && !linked {
		err = errors.New("claim no longer held")
	}
	if err != nil {
		// The order exists downstream but is not linked; the claim keeps the session
		// out of expiry and further settlement until support resolves it.
		telemetry.Logger.Error("Order created but session not linked",
			zap.String("session_id", s.ID),
			zap.String("order_id", order.OrderID),
			zap.String("settlement_ref", trig.Ref),
			zap.Error(err),
		)
		return nil, fmt.Errorf("link order %s to session %s: %w", order.OrderID, s.ID, err)
	}

	prev := s.Status
	s.Status = target
	s.Settlement = &settlement
	s.LastError = ""
	s.UpdatedAt = now

	telemetry.ObserveSettle(string(trig.Method), now.Sub(start))
	emitTransition(ctx, o.events, models.SessionEvent{
		SessionID:     s.ID,
		State:         target,
		PreviousState: prev,
		Transition:    "settled",
		OrderID:       order.OrderID,
		Timestamp:     now,
	})
	o.dispatch(fulfillmentEvent(s, trig.Method, now))

	return &models.SettlementResult{Session: s, Order: *order}, nil
}

// classify explains why s could not be claimed for trig.
func (o *Orchestrator) classify(s *models.CheckoutSession, trig models.SettlementTrigger) (*models.SettlementResult, error) {
	switch {
	case s.Settlement != nil && s.ClaimRef == trig.Ref:
		return &models.SettlementResult{
			Session:  s,
			Order:    models.OrderResult{OrderID: s.Settlement.OrderID, OrderNumber: s.Settlement.OrderNumber},
			Replayed: true,
		}, nil
	case s.Settlement != nil:
		return nil, fmt.Errorf("%w: session %s is linked to order %s", ErrAlreadySettled, s.ID, s.Settlement.OrderID)
	case s.ClaimRef == trig.Ref:
		return nil, fmt.Errorf("%w: session %s", ErrSettlementInProgress, s.ID)
	case s.ClaimRef != "" && s.Status != models.StatusFailed:
		// Another settlement holds the claim but has not linked an order; it may
		// still fail, so this is not final.
		return nil, fmt.Errorf("%w: session %s is claimed by %s", ErrSettlementInProgress, s.ID, s.ClaimRef)
	default:
		return nil, fmt.Errorf("%w: session %s is %s", ErrSessionNotPayable, s.ID, s.Status)
	}
}

// fail records reason verbatim on the claimed session and returns ErrOrderCreation.
func (o *Orchestrator) fail(ctx context.Context, s *models.CheckoutSession, trig models.SettlementTrigger, reason string) error {
	telemetry.RecordOrderFailure(string(trig.Method))
	telemetry.Logger.Error("Order creation failed",
		zap.String("session_id", s.ID),
		zap.String("settlement_ref", trig.Ref),
		zap.String("error", reason),
	)

	now := o.clock.Now()
	ok, err := o.repo.FailClaimed(ctx, s.ID, trig.Ref, reason, now)
	if err != nil {
		telemetry.Logger.Error("Failed to mark session failed",
			zap.String("session_id", s.ID),
			zap.Error(err),
		)
	}
	if ok {
		prev := s.Status
		s.Status = models.StatusFailed
		s.LastError = reason
		s.UpdatedAt = now
		emitTransition(ctx, o.events, models.SessionEvent{
			SessionID:     s.ID,
			State:         models.StatusFailed,
			PreviousState: prev,
			Transition:    "failed",
			Timestamp:     now,
		})
	}
	return fmt.Errorf("%w: %s", ErrOrderCreation, reason)
}

// dispatch sends the fulfillment notification in the background; the settlement
// result never depends on it.
func (o *Orchestrator) dispatch(event models.FulfillmentEvent) {
	if o.notifier == nil {
		return
	}
	o.inflight.Add(1)
	go func() {
		defer o.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.notifyTimeout)
		defer cancel()

		if err := o.notifier.NotifyOrderPaid(ctx, event); err != nil {
			telemetry.RecordNotifyFailure()
			telemetry.Logger.Error("Fulfillment notification failed",
				zap.String("session_id", event.SessionID),
				zap.String("order_id", event.OrderID),
				zap.Error(err),
			)
		}
	}()
}

// Wait blocks until background notifications have finished.
func (o *Orchestrator) Wait() {
	o.inflight.Wait()
}

func buildOrderRequest(s *models.CheckoutSession) models.OrderRequest {
	req := models.OrderRequest{
		SessionID:     s.ID,
		LineItems:     s.Lines,
		Customer:      orderCustomer(s),
		Address:       s.Address,
		Currency:      s.Currency,
		Total:         s.Amount,
		PaymentMethod: s.PaymentMethod,
		PaymentCode:   s.PaymentCode,
	}
	if s.DiscountCode != "" {
		req.Discount = &models.OrderDiscount{Code: s.DiscountCode, Amount: s.DiscountAmount}
	}
	return req
}

func orderCustomer(s *models.CheckoutSession) models.OrderCustomer {
	if s.Guest == nil {
		return models.OrderCustomer{CustomerID: s.CustomerID}
	}
	return models.OrderCustomer{
		Email:     s.Guest.Email,
		Phone:     s.Guest.Phone,
		FirstName: s.Guest.FirstName,
		LastName:  s.Guest.LastName,
	}
}

func fulfillmentEvent(s *models.CheckoutSession, method models.PaymentMethod, at time.Time) models.FulfillmentEvent {
	name := models.EventOrderPaid
	if method == models.MethodCOD {
		name = models.EventOrderCODPlaced
	}
	return models.FulfillmentEvent{
		Event:         name,
		OrderID:       s.Settlement.OrderID,
		OrderNumber:   s.Settlement.OrderNumber,
		SessionID:     s.ID,
		LineItems:     s.Lines,
		Customer:      orderCustomer(s),
		Address:       s.Address,
		Amount:        s.Amount,
		Currency:      s.Currency,
		PaymentMethod: method,
		OccurredAt:    at,
	}
}

// emitTransition logs and publishes a session state change. Publishing is best
// effort.
func emitTransition(ctx context.Context, pub interfaces.SessionEventPublisher, event models.SessionEvent) {
	telemetry.RecordTransition(string(event.PreviousState), string(event.State))
	telemetry.Logger.Info("Session state transition",
		zap.String("session_id", event.SessionID),
		zap.String("transition", event.Transition),
		zap.String("from_state", string(event.PreviousState)),
		zap.String("to_state", string(event.State)),
	)

	if pub == nil {
		return
	}
	if err := pub.PublishSessionEvent(ctx, event); err != nil {
		telemetry.Logger.Warn("Failed to publish session event",
			zap.String("session_id", event.SessionID),
			zap.Error(err),
		)
	}
}
