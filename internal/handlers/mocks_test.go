package handlers

import (
	"context"
	"errors"

	"github.com/akylbek/payment-system/checkout-service/internal/models"
	"github.com/akylbek/payment-system/checkout-service/internal/service"
)

type MockCheckoutService struct {
	CheckoutFunc func(ctx context.Context, in models.CreateSessionInput) (*models.CheckoutResult, error)
	Sessions     map[string]*models.CheckoutSession
	ConfirmErr   error

	CheckoutCalls int
	ConfirmCalls  int
}

func (m *MockCheckoutService) Checkout(ctx context.Context, in models.CreateSessionInput) (*models.CheckoutResult, error) {
	m.CheckoutCalls++
	if m.CheckoutFunc != nil {
		return m.CheckoutFunc(ctx, in)
	}
	return nil, errors.New("not implemented")
}

func (m *MockCheckoutService) Session(_ context.Context, id string) (*models.CheckoutSession, error) {
	if s, ok := m.Sessions[id]; ok {
		return s, nil
	}
	return nil, service.ErrSessionNotFound
}

func (m *MockCheckoutService) ConfirmCashReceived(_ context.Context, id string) (*models.CheckoutSession, error) {
	m.ConfirmCalls++
	if m.ConfirmErr != nil {
		return nil, m.ConfirmErr
	}
	s, ok := m.Sessions[id]
	if !ok {
		return nil, service.ErrSessionNotFound
	}
	s.Status = models.StatusPaid
	return s, nil
}

type MockReconciler struct {
	ProcessFunc func(ctx context.Context, n models.TransferNotification) (models.WebhookOutcome, error)
	Unprocessed []*models.PaymentTransaction
	ListErr     error

	Received  []models.TransferNotification
	LastLimit int
}

func (m *MockReconciler) Process(ctx context.Context, n models.TransferNotification) (models.WebhookOutcome, error) {
	m.Received = append(m.Received, n)
	if m.ProcessFunc != nil {
		return m.ProcessFunc(ctx, n)
	}
	return models.WebhookOutcome{Success: true, Code: models.OutcomeSettled, Message: "payment settled"}, nil
}

func (m *MockReconciler) ListUnprocessed(_ context.Context, limit int) ([]*models.PaymentTransaction, error) {
	m.LastLimit = limit
	return m.Unprocessed, m.ListErr
}
