package service

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/akylbek/payment-system/checkout-service/internal/models"
	"github.com/akylbek/payment-system/checkout-service/internal/paymentcode"
)

var testStart = time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

type testEnv struct {
	clock        fakeClock
	sessions     *MockSessionRepository
	transactions *MockTransactionRepository
	commerce     *MockCommerce
	notifier     *MockNotifier
	publisher    *MockPublisher
	guard        *MockGuard

	manager      *SessionManager
	orchestrator *Orchestrator
	reconciler   *Reconciler
	cod          *CODSettler
	checkout     *CheckoutService
}

func newTestEnv(t *testing.T, policy LatePaymentPolicy) *testEnv {
	t.Helper()

	env := &testEnv{
		clock:        clockwork.NewFakeClockAt(testStart),
		sessions:     NewMockSessionRepository(),
		transactions: NewMockTransactionRepository(),
		commerce:     NewMockCommerce(),
		notifier:     &MockNotifier{},
		publisher:    &MockPublisher{},
		guard:        NewMockGuard(),
	}
	codec := paymentcode.New("PERF")

	env.manager = NewSessionManager(env.sessions, env.commerce, env.publisher, codec, env.clock, 15*time.Minute)
	env.orchestrator = NewOrchestrator(env.sessions, env.commerce, env.notifier, env.publisher, env.clock)
	env.reconciler = NewReconciler(env.transactions, env.manager, env.orchestrator, codec, env.clock, policy)
	env.cod = NewCODSettler(env.manager, env.orchestrator, env.sessions, env.commerce, env.guard, env.publisher, env.clock, 2*time.Minute)
	env.checkout = NewCheckoutService(env.manager, env.cod, PayeeAccount{
		BankName:           "MB Bank",
		BankBIN:            "970422",
		AccountNumber:      "0123456789",
		AccountName:        "PERFUME HOUSE",
		QRImageURLTemplate: "https://img.vietqr.io/image/{bin}-{account}-compact2.png?amount={amount}&addInfo={content}&accountName={name}",
	})

	env.commerce.AddCart("C1",
		models.LineItem{VariantID: "v-eau-de-parfum", Title: "Eau de Parfum 50ml", Quantity: 2, UnitPrice: 850000, Currency: "VND"},
	)
	return env
}

func guestInput(cartID string, method models.PaymentMethod) models.CreateSessionInput {
	return models.CreateSessionInput{
		CartID:        cartID,
		PaymentMethod: method,
		Guest: &models.GuestIdentity{
			Email:     "an.nguyen@example.com",
			Phone:     "0901234567",
			FirstName: "An",
			LastName:  "Nguyen",
		},
		Address: models.ShippingAddress{
			FirstName:   "An",
			LastName:    "Nguyen",
			Phone:       "0901234567",
			Address1:    "12 Le Loi",
			District:    "District 1",
			Province:    "Ho Chi Minh",
			CountryCode: "VN",
		},
	}
}

// createBankSession creates a pending bank-transfer session for cart C1 (1,700,000 VND).
func (e *testEnv) createBankSession(t *testing.T) *models.CheckoutSession {
	t.Helper()
	s, err := e.manager.Create(context.Background(), guestInput("C1", models.MethodBankTransfer))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return s
}

func (e *testEnv) stored(t *testing.T, id string) *models.CheckoutSession {
	t.Helper()
	s, err := e.sessions.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("session %s not stored: %v", id, err)
	}
	return s
}

func transfer(id int64, amount int64, content string) models.TransferNotification {
	return models.TransferNotification{
		ProviderTxnID:  id,
		Gateway:        "MBBank",
		Content:        content,
		TransferType:   models.TransferIn,
		TransferAmount: amount,
		ReferenceCode:  "FT25010123456",
	}
}
