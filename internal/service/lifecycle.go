package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/checkout-service/internal/interfaces"
	"github.com/akylbek/payment-system/checkout-service/internal/models"
	"github.com/akylbek/payment-system/checkout-service/internal/paymentcode"
	"github.com/akylbek/payment-system/checkout-service/internal/telemetry"
)

const (
	DefaultSessionTTL = 15 * time.Minute

	// maxCodeAttempts bounds payment-code regeneration on a unique-index collision.
	maxCodeAttempts = 5
)

// SessionManager owns session creation and the pending -> expired/failed transitions.
// Every read it serves has the expiry check applied.
type SessionManager struct {
	repo     interfaces.SessionRepository
	commerce interfaces.CommercePlatform
	events   interfaces.SessionEventPublisher
	codec    *paymentcode.Codec
	validate *validator.Validate
	clock    clockwork.Clock
	ttl      time.Duration
}

func NewSessionManager(
	repo interfaces.SessionRepository,
	commerce interfaces.CommercePlatform,
	events interfaces.SessionEventPublisher,
	codec *paymentcode.Codec,
	clock clockwork.Clock,
	ttl time.Duration,
) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SessionManager{
		repo:     repo,
		commerce: commerce,
		events:   events,
		codec:    codec,
		validate: newValidator(),
		clock:    clock,
		ttl:      ttl,
	}
}

// Validate checks the request shape without touching the cart or the store.
func (m *SessionManager) Validate(in models.CreateSessionInput) error {
	if err := m.validate.Struct(in); err != nil {
		return validationError(err)
	}
	hasCustomer := strings.TrimSpace(in.CustomerID) != ""
	hasGuest := in.Guest != nil
	if hasCustomer == hasGuest {
		return invalid("customer", "exactly one of customer_id or guest is required")
	}
	if in.DiscountAmount > 0 && strings.TrimSpace(in.DiscountCode) == "" {
		return invalid("discount_code", "a discount amount requires a discount code")
	}
	return nil
}

// Create snapshots the cart and persists a new pending session.
func (m *SessionManager) Create(ctx context.Context, in models.CreateSessionInput) (*models.CheckoutSession, error) {
	return m.create(ctx, in, m.repo.Create)
}

// CreateCOD is Create for cash on delivery. It fails with ErrAlreadyProcessing
// when the cart already has a pending COD session created at or after since.
func (m *SessionManager) CreateCOD(ctx context.Context, in models.CreateSessionInput, since time.Time) (*models.CheckoutSession, error) {
	return m.create(ctx, in, func(ctx context.Context, s *models.CheckoutSession) error {
		return m.repo.CreateCOD(ctx, s, since)
	})
}

func (m *SessionManager) create(
	ctx context.Context,
	in models.CreateSessionInput,
	insert func(context.Context, *models.CheckoutSession) error,
) (*models.CheckoutSession, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "checkout.create")
	defer span.End()
	span.SetAttributes(
		attribute.String("cart_id", in.CartID),
		attribute.String("payment_method", string(in.PaymentMethod)),
	)

	if err := m.Validate(in); err != nil {
		return nil, err
	}

	cart, err := m.commerce.GetCart(ctx, in.CartID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrCartNotFound, in.CartID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get cart %s: %v", ErrCommerceUnavailable, in.CartID, err)
	}

	lines := make([]models.LineItem, 0, len(cart.Items))
	var total int64
	for _, item := range cart.Items {
		if item.Quantity <= 0 {
			continue
		}
		if item.Currency == "" {
			item.Currency = cart.Currency
		}
		lines = append(lines, item)
		total += item.Subtotal()
	}
	if len(lines) == 0 || total <= 0 {
		return nil, fmt.Errorf("%w: cart %s", ErrEmptyCart, in.CartID)
	}
	if in.DiscountAmount >= total {
		return nil, invalid("discount_amount", "discount %d must be less than the cart total %d", in.DiscountAmount, total)
	}

	now := m.clock.Now()
	s := &models.CheckoutSession{
		ID:             uuid.NewString(),
		CartID:         in.CartID,
		Lines:          lines,
		Amount:         total - in.DiscountAmount,
		Currency:       cart.Currency,
		DiscountCode:   strings.TrimSpace(in.DiscountCode),
		DiscountAmount: in.DiscountAmount,
		PaymentMethod:  in.PaymentMethod,
		CustomerID:     strings.TrimSpace(in.CustomerID),
		Guest:          in.Guest,
		Address:        in.Address,
		Status:         models.StatusPending,
		ExpiresAt:      now.Add(m.ttl),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	for attempt := 1; ; attempt++ {
		s.PaymentCode = m.codec.Generate(in.CartID)
		err = insert(ctx, s)
		if err == nil {
			break
		}
		if errors.Is(err, interfaces.ErrRecentCODSession) {
			return nil, fmt.Errorf("%w: cart %s", ErrAlreadyProcessing, in.CartID)
		}
		if !errors.Is(err, interfaces.ErrDuplicatePaymentCode) || attempt == maxCodeAttempts {
			return nil, fmt.Errorf("create session for cart %s: %w", in.CartID, err)
		}
		telemetry.Logger.Warn("Payment code collision, regenerating",
			zap.String("cart_id", in.CartID),
			zap.Int("attempt", attempt),
		)
	}

	span.SetAttributes(attribute.String("session_id", s.ID))
	telemetry.RecordSessionCreated(string(s.PaymentMethod))
	telemetry.Logger.Info("Checkout session created",
		zap.String("session_id", s.ID),
		zap.String("cart_id", s.CartID),
		zap.String("payment_code", s.PaymentCode),
		zap.Int64("amount", s.Amount),
		zap.String("payment_method", string(s.PaymentMethod)),
	)
	emitTransition(ctx, m.events, models.SessionEvent{
		SessionID:  s.ID,
		State:      s.Status,
		Transition: "created",
		Timestamp:  now,
	})
	return s, nil
}

func (m *SessionManager) Get(ctx context.Context, id string) (*models.CheckoutSession, error) {
	s, err := m.repo.GetByID(ctx, id)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return m.load(ctx, s)
}

func (m *SessionManager) GetByPaymentCode(ctx context.Context, code string) (*models.CheckoutSession, error) {
	code = m.codec.Normalize(code)
	s, err := m.repo.GetByPaymentCode(ctx, code)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, fmt.Errorf("%w: code %s", ErrSessionNotFound, code)
	}
	if err != nil {
		return nil, err
	}
	return m.load(ctx, s)
}

// load applies the expiry check to a freshly read session and returns what the
// store holds afterwards.
func (m *SessionManager) load(ctx context.Context, s *models.CheckoutSession) (*models.CheckoutSession, error) {
	now := m.clock.Now()
	if !s.IsOverdue(now) {
		return s, nil
	}

	expired, err := m.repo.ExpireIfOverdue(ctx, s.ID, now)
	if err != nil {
		return nil, fmt.Errorf("expire session %s: %w", s.ID, err)
	}
	if !expired {
		// Someone else moved it first (claim, failure, concurrent expiry).
		fresh, err := m.repo.GetByID(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		return fresh, nil
	}

	s.Status = models.StatusExpired
	s.UpdatedAt = now
	emitTransition(ctx, m.events, models.SessionEvent{
		SessionID:     s.ID,
		State:         models.StatusExpired,
		PreviousState: models.StatusPending,
		Transition:    "expired",
		Timestamp:     now,
	})
	return s, nil
}

// Fail moves a pending, unclaimed session to failed. It reports false when the
// session had already left that state.
func (m *SessionManager) Fail(ctx context.Context, s *models.CheckoutSession, reason string) (bool, error) {
	now := m.clock.Now()
	ok, err := m.repo.FailPending(ctx, s.ID, reason, now)
	if err != nil || !ok {
		return ok, err
	}

	prev := s.Status
	s.Status = models.StatusFailed
	s.LastError = reason
	s.UpdatedAt = now
	emitTransition(ctx, m.events, models.SessionEvent{
		SessionID:     s.ID,
		State:         models.StatusFailed,
		PreviousState: prev,
		Transition:    "failed",
		Timestamp:     now,
	})
	return true, nil
}

// SweepExpired expires every overdue session in one statement. Reads stay correct
// without it; it only makes expiry visible sooner to event consumers.
func (m *SessionManager) SweepExpired(ctx context.Context) (int, error) {
	now := m.clock.Now()
	ids, err := m.repo.ExpireOverdue(ctx, now)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		emitTransition(ctx, m.events, models.SessionEvent{
			SessionID:     id,
			State:         models.StatusExpired,
			PreviousState: models.StatusPending,
			Transition:    "expired",
			Timestamp:     now,
		})
	}
	return len(ids), nil
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return invalid("", "%v", err)
	}
	fe := verrs[0]
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	if fe.Param() != "" {
		return invalid(field, "failed %s=%s", fe.Tag(), fe.Param())
	}
	return invalid(field, "failed %s", fe.Tag())
}
