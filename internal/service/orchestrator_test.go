package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/akylbek/payment-system/checkout-service/internal/models"
)

func bankTrigger(id int64) models.SettlementTrigger {
	return models.SettlementTrigger{
		Ref:           transferRef(id),
		Method:        models.MethodBankTransfer,
		ProviderTxnID: &id,
	}
}

func TestOrchestrator_Settle(t *testing.T) {
	ctx := context.Background()

	t.Run("Given a pending bank session When settling Then one order is created and the session is paid", func(t *testing.T) {
		env := newTestEnv(t, LatePaymentReview)
		s := env.createBankSession(t)

		res, err := env.orchestrator.Settle(ctx, s, bankTrigger(7))
		if err != nil {
			t.Fatalf("Settle failed: %v", err)
		}
		env.orchestrator.Wait()

		if res.Replayed {
			t.Error("first settlement reported as replay")
		}
		if env.commerce.OrderCount() != 1 {
			t.Errorf("orders = %d, want 1", env.commerce.OrderCount())
		}
		if len(env.commerce.MarkedPaid) != 1 || env.commerce.MarkedPaid[0] != res.Order.OrderID {
			t.Errorf("marked paid = %v, want [%s]", env.commerce.MarkedPaid, res.Order.OrderID)
		}

		got := env.stored(t, s.ID)
		if got.Status != models.StatusPaid {
			t.Errorf("status = %s, want paid", got.Status)
		}
		if got.OrderID() != res.Order.OrderID || got.Settlement.ProviderTxnID == nil || *got.Settlement.ProviderTxnID != 7 {
			t.Errorf("settlement = %+v", got.Settlement)
		}

		sent := env.notifier.Sent()
		if len(sent) != 1 || sent[0].Event != models.EventOrderPaid || sent[0].OrderID != res.Order.OrderID {
			t.Errorf("fulfillment events = %+v", sent)
		}
	})

	t.Run("Given the order request When settling Then it is built from the snapshot", func(t *testing.T) {
		env := newTestEnv(t, LatePaymentReview)
		in := guestInput("C1", models.MethodBankTransfer)
		in.DiscountCode = "WELCOME10"
		in.DiscountAmount = 170000
		s, err := env.manager.Create(ctx, in)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		env.commerce.AddCart("C1")

		if _, err := env.orchestrator.Settle(ctx, s, bankTrigger(8)); err != nil {
			t.Fatalf("Settle failed: %v", err)
		}
		env.orchestrator.Wait()

		req := env.commerce.Orders[0]
		if len(req.LineItems) != 1 || req.LineItems[0].VariantID != "v-eau-de-parfum" {
			t.Errorf("line items = %+v", req.LineItems)
		}
		if req.Total != 1530000 || req.Discount == nil || req.Discount.Code != "WELCOME10" {
			t.Errorf("total = %d, discount = %+v", req.Total, req.Discount)
		}
		if req.Customer.Email != "an.nguyen@example.com" || req.Customer.CustomerID != "" {
			t.Errorf("customer = %+v", req.Customer)
		}
		if req.PaymentCode != s.PaymentCode {
			t.Errorf("payment code = %q, want %q", req.PaymentCode, s.PaymentCode)
		}
	})

	t.Run("Given a settled session When settling again with the same reference Then it is an idempotent no-op", func(t *testing.T) {
		env := newTestEnv(t, LatePaymentReview)
		s := env.createBankSession(t)
		first, _ := env.orchestrator.Settle(ctx, s, bankTrigger(7))

		again, err := env.orchestrator.Settle(ctx, env.stored(t, s.ID), bankTrigger(7))
		if err != nil {
			t.Fatalf("replay failed: %v", err)
		}
		env.orchestrator.Wait()

		if !again.Replayed || again.Order.OrderID != first.Order.OrderID {
			t.Errorf("replay = %+v, want order %s", again, first.Order.OrderID)
		}
		if env.commerce.OrderCount() != 1 {
			t.Errorf("orders = %d, want 1", env.commerce.OrderCount())
		}
	})

	t.Run("Given a settled session When a different reference settles Then ErrAlreadySettled", func(t *testing.T) {
		env := newTestEnv(t, LatePaymentReview)
		s := env.createBankSession(t)
		env.orchestrator.Settle(ctx, s, bankTrigger(7))

		_, err := env.orchestrator.Settle(ctx, env.stored(t, s.ID), bankTrigger(8))
		env.orchestrator.Wait()

		if !errors.Is(err, ErrAlreadySettled) {
			t.Fatalf("error = %v, want ErrAlreadySettled", err)
		}
		if env.commerce.OrderCount() != 1 {
			t.Errorf("orders = %d, want 1", env.commerce.OrderCount())
		}
	})

	t.Run("Given a stale copy of a settled session When settling Then the claim loses and nothing is created", func(t *testing.T) {
		env := newTestEnv(t, LatePaymentReview)
		s := env.createBankSession(t)
		stale := env.stored(t, s.ID)
		env.orchestrator.Settle(ctx, s, bankTrigger(7))

		_, err := env.orchestrator.Settle(ctx, stale, bankTrigger(8))
		env.orchestrator.Wait()

		if !errors.Is(err, ErrAlreadySettled) {
			t.Fatalf("error = %v, want ErrAlreadySettled", err)
		}
		if env.commerce.OrderCount() != 1 {
			t.Errorf("orders = %d, want 1", env.commerce.OrderCount())
		}
	})

	t.Run("Given a claim held by the same reference When settling Then ErrSettlementInProgress", func(t *testing.T) {
		env := newTestEnv(t, LatePaymentReview)
		s := env.createBankSession(t)
		env.sessions.Claim(ctx, s.ID, transferRef(7), []models.SessionStatus{models.StatusPending}, testStart)

		_, err := env.orchestrator.Settle(ctx, s, bankTrigger(7))
		if !errors.Is(err, ErrSettlementInProgress) {
			t.Fatalf("error = %v, want ErrSettlementInProgress", err)
		}
		if env.commerce.OrderCount() != 0 {
			t.Error("an order was created while another settlement held the claim")
		}
	})

	t.Run("Given a claim held by another reference When settling Then ErrSettlementInProgress", func(t *testing.T) {
		env := newTestEnv(t, LatePaymentReview)
		s := env.createBankSession(t)
		env.sessions.Claim(ctx, s.ID, transferRef(6), []models.SessionStatus{models.StatusPending}, testStart)

		_, err := env.orchestrator.Settle(ctx, s, bankTrigger(7))
		if !errors.Is(err, ErrSettlementInProgress) {
			t.Fatalf("error = %v, want ErrSettlementInProgress", err)
		}
	})

	t.Run("Given another reference failed its order When settling Then ErrSessionNotPayable", func(t *testing.T) {
		env := newTestEnv(t, LatePaymentReview)
		s := env.createBankSession(t)
		env.sessions.Claim(ctx, s.ID, transferRef(6), []models.SessionStatus{models.StatusPending}, testStart)
		env.sessions.FailClaimed(ctx, s.ID, transferRef(6), "variant out of stock", testStart)

		_, err := env.orchestrator.Settle(ctx, s, bankTrigger(7))
		if !errors.Is(err, ErrSessionNotPayable) {
			t.Fatalf("error = %v, want ErrSessionNotPayable", err)
		}
	})

	t.Run("Given an expired session When settling without AllowExpired Then ErrSessionNotPayable", func(t *testing.T) {
		env := newTestEnv(t, LatePaymentReview)
		s := env.createBankSession(t)
		env.sessions.ExpireIfOverdue(ctx, s.ID, testStart.Add(time.Hour))

		_, err := env.orchestrator.Settle(ctx, env.stored(t, s.ID), bankTrigger(7))
		if !errors.Is(err, ErrSessionNotPayable) {
			t.Fatalf("error = %v, want ErrSessionNotPayable", err)
		}
	})
}

func TestOrchestrator_SettleFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("Given the commerce platform rejects the order Then the session fails with the error verbatim", func(t *testing.T) {
		env := newTestEnv(t, LatePaymentReview)
		s := env.createBankSession(t)
		env.commerce.CreateOrderFunc = func(models.OrderRequest) (*models.OrderResult, error) {
			return nil, errors.New("variant v-eau-de-parfum is out of stock")
		}

		_, err := env.orchestrator.Settle(ctx, s, bankTrigger(7))
		env.orchestrator.Wait()

		if !errors.Is(err, ErrOrderCreation) {
			t.Fatalf("error = %v, want ErrOrderCreation", err)
		}
		got := env.stored(t, s.ID)
		if got.Status != models.StatusFailed {
			t.Errorf("status = %s, want failed", got.Status)
		}
		if got.LastError != "variant v-eau-de-parfum is out of stock" {
			t.Errorf("last error = %q", got.LastError)
		}
		if got.Settlement != nil {
			t.Error("a failed session references an order")
		}
		if len(env.notifier.Sent()) != 0 {
			t.Error("fulfillment was notified for a failed settlement")
		}
	})

	t.Run("Given an invalid stored address Then no order is created", func(t *testing.T) {
		env := newTestEnv(t, LatePaymentReview)
		s := env.createBankSession(t)
		s.Address.CountryCode = ""
		env.sessions.Put(s)

		_, err := env.orchestrator.Settle(ctx, s, bankTrigger(7))
		if !errors.Is(err, ErrOrderCreation) {
			t.Fatalf("error = %v, want ErrOrderCreation", err)
		}
		if env.commerce.OrderCount() != 0 {
			t.Error("order created for an invalid address")
		}
		if got := env.stored(t, s.ID); got.Status != models.StatusFailed {
			t.Errorf("status = %s, want failed", got.Status)
		}
	})

	t.Run("Given mark-paid and notification fail Then the settlement still succeeds", func(t *testing.T) {
		env := newTestEnv(t, LatePaymentReview)
		s := env.createBankSession(t)
		env.commerce.MarkPaidErr = ErrMockCommerce
		env.notifier.NotifyFunc = func(models.FulfillmentEvent) error { return ErrMockNotify }
		env.publisher.Err = errors.New("broker down")

		if _, err := env.orchestrator.Settle(ctx, s, bankTrigger(7)); err != nil {
			t.Fatalf("Settle failed: %v", err)
		}
		env.orchestrator.Wait()

		if got := env.stored(t, s.ID); got.Status != models.StatusPaid {
			t.Errorf("status = %s, want paid", got.Status)
		}
		if len(env.notifier.Sent()) != 1 {
			t.Errorf("notification attempts = %d, want 1", len(env.notifier.Sent()))
		}
	})
}

func TestOrchestrator_SettleCOD(t *testing.T) {
	env := newTestEnv(t, LatePaymentReview)
	s, err := env.manager.Create(context.Background(), guestInput("C1", models.MethodCOD))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	res, err := env.orchestrator.Settle(context.Background(), s, models.SettlementTrigger{Ref: "cod:" + s.ID, Method: models.MethodCOD})
	if err != nil {
		t.Fatalf("Settle failed: %v", err)
	}
	env.orchestrator.Wait()

	got := env.stored(t, s.ID)
	if got.Status != models.StatusPending || got.OrderID() != res.Order.OrderID {
		t.Errorf("session = %s/%s, want pending with order %s", got.Status, got.OrderID(), res.Order.OrderID)
	}
	if got.Settlement.ProviderTxnID != nil {
		t.Error("COD settlement must not carry a provider transaction")
	}
	if len(env.commerce.MarkedPaid) != 0 {
		t.Error("COD order was marked paid before cash was collected")
	}
	if sent := env.notifier.Sent(); len(sent) != 1 || sent[0].Event != models.EventOrderCODPlaced {
		t.Errorf("fulfillment events = %+v", sent)
	}
}
