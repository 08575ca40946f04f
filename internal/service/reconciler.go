package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/checkout-service/internal/interfaces"
	"github.com/akylbek/payment-system/checkout-service/internal/models"
	"github.com/akylbek/payment-system/checkout-service/internal/paymentcode"
	"github.com/akylbek/payment-system/checkout-service/internal/telemetry"
)

// LatePaymentPolicy decides what happens to a transfer that matches an expired session.
type LatePaymentPolicy string

const (
	// LatePaymentReview keeps expired terminal and leaves the transfer for an operator.
	LatePaymentReview LatePaymentPolicy = "review"
	// LatePaymentSettle creates the order anyway since the money has arrived.
	LatePaymentSettle LatePaymentPolicy = "settle"
)

func ParseLatePaymentPolicy(s string) (LatePaymentPolicy, error) {
	switch LatePaymentPolicy(s) {
	case "", LatePaymentReview:
		return LatePaymentReview, nil
	case LatePaymentSettle:
		return LatePaymentSettle, nil
	default:
		return "", fmt.Errorf("unknown late payment policy %q", s)
	}
}

// Reconciler matches inbound bank transfers to checkout sessions and settles them.
type Reconciler struct {
	transactions interfaces.TransactionRepository
	sessions     *SessionManager
	orchestrator *Orchestrator
	codec        *paymentcode.Codec
	clock        clockwork.Clock
	policy       LatePaymentPolicy
}

func NewReconciler(
	transactions interfaces.TransactionRepository,
	sessions *SessionManager,
	orchestrator *Orchestrator,
	codec *paymentcode.Codec,
	clock clockwork.Clock,
	policy LatePaymentPolicy,
) *Reconciler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if policy == "" {
		policy = LatePaymentReview
	}
	return &Reconciler{
		transactions: transactions,
		sessions:     sessions,
		orchestrator: orchestrator,
		codec:        codec,
		clock:        clock,
		policy:       policy,
	}
}

// Process runs one notification through the matching pipeline. Business failures
// come back as an unsuccessful outcome; the error is reserved for infrastructure
// problems the sender should retry on.
func (r *Reconciler) Process(ctx context.Context, n models.TransferNotification) (models.WebhookOutcome, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "webhook.process")
	defer span.End()
	span.SetAttributes(attribute.Int64("provider_txn_id", n.ProviderTxnID))

	if n.TransferType != models.TransferIn {
		out := models.WebhookOutcome{
			Code:    models.OutcomeNotApplicable,
			Message: "not applicable: only incoming transfers are reconciled",
		}
		telemetry.RecordWebhookOutcome(string(out.Code), false)
		return out, nil
	}

	code, found := r.codec.Extract(n.Content)

	existing, err := r.transactions.GetByProviderID(ctx, n.ProviderTxnID)
	switch {
	case err == nil:
		if existing.Outcome != nil {
			telemetry.RecordWebhookOutcome(string(existing.Outcome.Code), true)
			telemetry.Logger.Info("Duplicate bank notification, replaying outcome",
				zap.Int64("provider_txn_id", n.ProviderTxnID),
				zap.String("code", string(existing.Outcome.Code)),
			)
			return *existing.Outcome, nil
		}
		// An earlier delivery stopped before recording an outcome; run again.
		// The settlement claim prevents a second order.
	case errors.Is(err, interfaces.ErrNotFound):
		tx := models.NewPaymentTransaction(n, code)
		tx.CreatedAt = r.clock.Now()
		inserted, err := r.transactions.Insert(ctx, tx)
		if err != nil {
			return models.WebhookOutcome{}, fmt.Errorf("store transaction %d: %w", n.ProviderTxnID, err)
		}
		if !inserted {
			if out, ok := r.recorded(ctx, n.ProviderTxnID); ok {
				return out, nil
			}
		}
	default:
		return models.WebhookOutcome{}, fmt.Errorf("load transaction %d: %w", n.ProviderTxnID, err)
	}

	if !found {
		return r.finish(ctx, n.ProviderTxnID, models.WebhookOutcome{
			Code:    models.OutcomeNoPaymentCode,
			Message: "no payment code found",
		})
	}
	span.SetAttributes(attribute.String("payment_code", code))

	s, err := r.sessions.GetByPaymentCode(ctx, code)
	if errors.Is(err, ErrSessionNotFound) {
		return r.finish(ctx, n.ProviderTxnID, models.WebhookOutcome{
			Code:    models.OutcomeSessionNotFound,
			Message: "session not found for code " + code,
		})
	}
	if err != nil {
		return models.WebhookOutcome{}, err
	}

	ref := transferRef(n.ProviderTxnID)

	if s.Settlement != nil && s.ClaimRef == ref {
		return r.settled(ctx, n.ProviderTxnID, s, s.Settlement.OrderID)
	}

	if s.PaymentMethod != models.MethodBankTransfer {
		return r.finish(ctx, n.ProviderTxnID, models.WebhookOutcome{
			Code:      models.OutcomeMethodMismatch,
			Message:   "payment method mismatch: session is " + string(s.PaymentMethod) + "; held for manual review",
			SessionID: s.ID,
		})
	}

	if n.TransferAmount < s.Amount {
		reason := fmt.Sprintf("insufficient amount: received %d, required %d %s", n.TransferAmount, s.Amount, s.Currency)
		if s.Settlement == nil && s.ClaimRef == "" && s.Status == models.StatusPending {
			if _, err := r.sessions.Fail(ctx, s, reason); err != nil {
				return models.WebhookOutcome{}, fmt.Errorf("fail session %s: %w", s.ID, err)
			}
		}
		return r.finish(ctx, n.ProviderTxnID, models.WebhookOutcome{
			Code:      models.OutcomeInsufficientAmount,
			Message:   reason,
			SessionID: s.ID,
		})
	}
	if n.TransferAmount > s.Amount {
		telemetry.Logger.Warn("Overpayment received",
			zap.String("session_id", s.ID),
			zap.Int64("provider_txn_id", n.ProviderTxnID),
			zap.Int64("received", n.TransferAmount),
			zap.Int64("required", s.Amount),
		)
	}

	if s.Settlement != nil {
		return r.finish(ctx, n.ProviderTxnID, models.WebhookOutcome{
			Code:      models.OutcomeAlreadySettled,
			Message:   ErrAlreadySettled.Error(),
			SessionID: s.ID,
		})
	}

	allowExpired := false
	if s.Status == models.StatusExpired && s.ClaimRef == "" {
		if r.policy != LatePaymentSettle {
			return r.finish(ctx, n.ProviderTxnID, models.WebhookOutcome{
				Code:      models.OutcomeManualReview,
				Message:   "session expired before payment; held for manual review",
				SessionID: s.ID,
			})
		}
		telemetry.Logger.Warn("Settling payment for expired session",
			zap.String("session_id", s.ID),
			zap.Int64("provider_txn_id", n.ProviderTxnID),
		)
		allowExpired = true
	}

	txnID := n.ProviderTxnID
	result, err := r.orchestrator.Settle(ctx, s, models.SettlementTrigger{
		Ref:           ref,
		Method:        models.MethodBankTransfer,
		ProviderTxnID: &txnID,
		AllowExpired:  allowExpired,
	})
	switch {
	case err == nil:
		return r.settled(ctx, n.ProviderTxnID, result.Session, result.Order.OrderID)
	case errors.Is(err, ErrSettlementInProgress):
		out := models.WebhookOutcome{
			Code:      models.OutcomeInProgress,
			Message:   ErrSettlementInProgress.Error(),
			SessionID: s.ID,
		}
		telemetry.RecordWebhookOutcome(string(out.Code), false)
		return out, nil
	case errors.Is(err, ErrAlreadySettled):
		return r.finish(ctx, n.ProviderTxnID, models.WebhookOutcome{
			Code:      models.OutcomeAlreadySettled,
			Message:   ErrAlreadySettled.Error(),
			SessionID: s.ID,
		})
	case errors.Is(err, ErrSessionNotPayable):
		return r.finish(ctx, n.ProviderTxnID, models.WebhookOutcome{
			Code:      models.OutcomeSessionNotPayable,
			Message:   err.Error(),
			SessionID: s.ID,
		})
	case errors.Is(err, ErrOrderCreation):
		return r.finish(ctx, n.ProviderTxnID, models.WebhookOutcome{
			Code:      models.OutcomeOrderFailed,
			Message:   err.Error(),
			SessionID: s.ID,
		})
	default:
		return models.WebhookOutcome{}, err
	}
}

// ListUnprocessed returns transactions that have not settled a session yet.
func (r *Reconciler) ListUnprocessed(ctx context.Context, limit int) ([]*models.PaymentTransaction, error) {
	return r.transactions.ListUnprocessed(ctx, limit)
}

func (r *Reconciler) settled(ctx context.Context, txnID int64, s *models.CheckoutSession, orderID string) (models.WebhookOutcome, error) {
	if _, err := r.transactions.MarkProcessed(ctx, txnID, orderID, r.clock.Now()); err != nil {
		return models.WebhookOutcome{}, fmt.Errorf("mark transaction %d processed: %w", txnID, err)
	}
	return r.finish(ctx, txnID, models.WebhookOutcome{
		Success:   true,
		Code:      models.OutcomeSettled,
		Message:   "payment settled",
		SessionID: s.ID,
		OrderID:   orderID,
	})
}

// finish stores out as the transaction's outcome. If another delivery recorded one
// first, that one is returned so both callers answer identically.
func (r *Reconciler) finish(ctx context.Context, txnID int64, out models.WebhookOutcome) (models.WebhookOutcome, error) {
	recorded, err := r.transactions.RecordOutcome(ctx, txnID, out, r.clock.Now())
	if err != nil {
		return models.WebhookOutcome{}, fmt.Errorf("record outcome of transaction %d: %w", txnID, err)
	}
	if !recorded {
		if stored, ok := r.recorded(ctx, txnID); ok {
			return stored, nil
		}
	}

	telemetry.RecordWebhookOutcome(string(out.Code), false)
	fields := []zap.Field{
		zap.Int64("provider_txn_id", txnID),
		zap.String("code", string(out.Code)),
		zap.String("session_id", out.SessionID),
		zap.String("message", out.Message),
	}
	if out.Success {
		telemetry.Logger.Info("Bank transfer reconciled", append(fields, zap.String("order_id", out.OrderID))...)
	} else {
		telemetry.Logger.Warn("Bank transfer not settled", fields...)
	}
	return out, nil
}

func (r *Reconciler) recorded(ctx context.Context, txnID int64) (models.WebhookOutcome, bool) {
	tx, err := r.transactions.GetByProviderID(ctx, txnID)
	if err != nil || tx.Outcome == nil {
		return models.WebhookOutcome{}, false
	}
	telemetry.RecordWebhookOutcome(string(tx.Outcome.Code), true)
	return *tx.Outcome, true
}

func transferRef(providerTxnID int64) string {
	return "txn:" + strconv.FormatInt(providerTxnID, 10)
}
