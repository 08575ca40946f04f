package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/akylbek/payment-system/checkout-service/internal/interfaces"
	"github.com/akylbek/payment-system/checkout-service/internal/models"
)

// Common test errors
var (
	ErrMockCommerce = errors.New("mock commerce error")
	ErrMockStorage  = errors.New("mock storage error")
	ErrMockNotify   = errors.New("mock notify error")
)

// MockSessionRepository is an in-memory SessionRepository with the same
// conditional-write rules as the SQL implementation.
type MockSessionRepository struct {
	mu         sync.Mutex
	sessions   map[string]*models.CheckoutSession
	CreateFunc func(s *models.CheckoutSession) error
	ClaimCalls int
}

func NewMockSessionRepository() *MockSessionRepository {
	return &MockSessionRepository{sessions: make(map[string]*models.CheckoutSession)}
}

func cloneSession(s *models.CheckoutSession) *models.CheckoutSession {
	c := *s
	c.Lines = append([]models.LineItem(nil), s.Lines...)
	if s.Guest != nil {
		g := *s.Guest
		c.Guest = &g
	}
	if s.ClaimedAt != nil {
		t := *s.ClaimedAt
		c.ClaimedAt = &t
	}
	if s.Settlement != nil {
		st := *s.Settlement
		c.Settlement = &st
	}
	return &c
}

// Put stores s as-is, bypassing Create.
func (m *MockSessionRepository) Put(s *models.CheckoutSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = cloneSession(s)
}

func (m *MockSessionRepository) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *MockSessionRepository) Create(ctx context.Context, s *models.CheckoutSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(s)
}

func (m *MockSessionRepository) CreateCOD(ctx context.Context, s *models.CheckoutSession, since time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sessions {
		if existing.CartID == s.CartID && existing.PaymentMethod == models.MethodCOD &&
			existing.Status == models.StatusPending && !existing.CreatedAt.Before(since) {
			return interfaces.ErrRecentCODSession
		}
	}
	return m.insertLocked(s)
}

func (m *MockSessionRepository) insertLocked(s *models.CheckoutSession) error {
	if m.CreateFunc != nil {
		if err := m.CreateFunc(s); err != nil {
			return err
		}
	}
	for _, existing := range m.sessions {
		if existing.PaymentCode == s.PaymentCode {
			return interfaces.ErrDuplicatePaymentCode
		}
	}
	m.sessions[s.ID] = cloneSession(s)
	return nil
}

func (m *MockSessionRepository) GetByID(ctx context.Context, id string) (*models.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return cloneSession(s), nil
}

func (m *MockSessionRepository) GetByPaymentCode(ctx context.Context, code string) (*models.CheckoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.PaymentCode == code {
			return cloneSession(s), nil
		}
	}
	return nil, interfaces.ErrNotFound
}

func overdue(s *models.CheckoutSession, now time.Time) bool {
	return s.Status == models.StatusPending && s.Settlement == nil && s.ClaimRef == "" && s.ExpiresAt.Before(now)
}

func (m *MockSessionRepository) ExpireIfOverdue(ctx context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || !overdue(s, now) {
		return false, nil
	}
	s.Status = models.StatusExpired
	s.UpdatedAt = now
	return true, nil
}

func (m *MockSessionRepository) ExpireOverdue(ctx context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, s := range m.sessions {
		if overdue(s, now) {
			s.Status = models.StatusExpired
			s.UpdatedAt = now
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *MockSessionRepository) FailPending(ctx context.Context, id, lastError string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.Status != models.StatusPending || s.Settlement != nil || s.ClaimRef != "" {
		return false, nil
	}
	s.Status = models.StatusFailed
	s.LastError = lastError
	s.UpdatedAt = now
	return true, nil
}

func (m *MockSessionRepository) Claim(ctx context.Context, id, ref string, from []models.SessionStatus, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ClaimCalls++
	s, ok := m.sessions[id]
	if !ok || s.ClaimRef != "" || s.Settlement != nil {
		return false, nil
	}
	allowed := false
	for _, st := range from {
		if s.Status == st {
			allowed = true
		}
	}
	if !allowed {
		return false, nil
	}
	s.ClaimRef = ref
	s.ClaimedAt = &now
	s.UpdatedAt = now
	return true, nil
}

func (m *MockSessionRepository) FailClaimed(ctx context.Context, id, ref, lastError string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.ClaimRef != ref || s.Settlement != nil {
		return false, nil
	}
	s.Status = models.StatusFailed
	s.LastError = lastError
	s.UpdatedAt = now
	return true, nil
}

func (m *MockSessionRepository) CompleteSettlement(ctx context.Context, id, ref string, st models.Settlement, to models.SessionStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.ClaimRef != ref || s.Settlement != nil {
		return false, nil
	}
	s.Status = to
	s.Settlement = &st
	s.LastError = ""
	s.UpdatedAt = st.SettledAt
	return true, nil
}

func (m *MockSessionRepository) ConfirmCashReceived(ctx context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.Status != models.StatusPending || s.PaymentMethod != models.MethodCOD || s.Settlement == nil {
		return false, nil
	}
	s.Status = models.StatusPaid
	s.UpdatedAt = now
	return true, nil
}

// MockTransactionRepository is an in-memory transaction ledger.
type MockTransactionRepository struct {
	mu         sync.Mutex
	rows       map[int64]*models.PaymentTransaction
	InsertFunc func(tx *models.PaymentTransaction) error
}

func NewMockTransactionRepository() *MockTransactionRepository {
	return &MockTransactionRepository{rows: make(map[int64]*models.PaymentTransaction)}
}

func cloneTransaction(tx *models.PaymentTransaction) *models.PaymentTransaction {
	c := *tx
	if tx.Outcome != nil {
		o := *tx.Outcome
		c.Outcome = &o
	}
	return &c
}

func (m *MockTransactionRepository) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *MockTransactionRepository) Get(id int64) *models.PaymentTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.rows[id]
	if !ok {
		return nil
	}
	return cloneTransaction(tx)
}

func (m *MockTransactionRepository) Insert(ctx context.Context, tx *models.PaymentTransaction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InsertFunc != nil {
		if err := m.InsertFunc(tx); err != nil {
			return false, err
		}
	}
	if _, ok := m.rows[tx.ProviderTxnID]; ok {
		return false, nil
	}
	m.rows[tx.ProviderTxnID] = cloneTransaction(tx)
	return true, nil
}

func (m *MockTransactionRepository) GetByProviderID(ctx context.Context, id int64) (*models.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.rows[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return cloneTransaction(tx), nil
}

func (m *MockTransactionRepository) MarkProcessed(ctx context.Context, id int64, orderID string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.rows[id]
	if !ok || tx.Processed {
		return false, nil
	}
	tx.Processed = true
	tx.OrderID = orderID
	tx.ProcessedAt = &now
	return true, nil
}

func (m *MockTransactionRepository) RecordOutcome(ctx context.Context, id int64, o models.WebhookOutcome, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.rows[id]
	if !ok || tx.Outcome != nil {
		return false, nil
	}
	tx.Outcome = &o
	if tx.OrderID == "" {
		tx.OrderID = o.OrderID
	}
	return true, nil
}

func (m *MockTransactionRepository) ListUnprocessed(ctx context.Context, limit int) ([]*models.PaymentTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []*models.PaymentTransaction
	for _, tx := range m.rows {
		if !tx.Processed {
			list = append(list, cloneTransaction(tx))
		}
	}
	return list, nil
}

// MockCommerce implements CommercePlatform for testing
type MockCommerce struct {
	mu              sync.Mutex
	Carts           map[string]*models.Cart
	CreateOrderFunc func(req models.OrderRequest) (*models.OrderResult, error)
	MarkPaidErr     error
	Orders          []models.OrderRequest
	MarkedPaid      []string

	// BeforeGetCart and BeforeCreateOrder run outside the mock's lock, so tests
	// can hold a call in flight.
	BeforeGetCart     func()
	BeforeCreateOrder func()
}

func NewMockCommerce() *MockCommerce {
	return &MockCommerce{Carts: make(map[string]*models.Cart)}
}

func (m *MockCommerce) AddCart(id string, items ...models.LineItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, it := range items {
		total += it.Subtotal()
	}
	m.Carts[id] = &models.Cart{ID: id, Currency: "VND", Items: items, Total: total}
}

func (m *MockCommerce) OrderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Orders)
}

func (m *MockCommerce) GetCart(ctx context.Context, cartID string) (*models.Cart, error) {
	if m.BeforeGetCart != nil {
		m.BeforeGetCart()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, ok := m.Carts[cartID]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	c := *cart
	c.Items = append([]models.LineItem(nil), cart.Items...)
	return &c, nil
}

func (m *MockCommerce) CreateOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error) {
	if m.BeforeCreateOrder != nil {
		m.BeforeCreateOrder()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateOrderFunc != nil {
		res, err := m.CreateOrderFunc(req)
		if err != nil {
			return nil, err
		}
		m.Orders = append(m.Orders, req)
		return res, nil
	}
	m.Orders = append(m.Orders, req)
	n := len(m.Orders)
	return &models.OrderResult{
		OrderID:     fmt.Sprintf("order-%d", n),
		OrderNumber: fmt.Sprintf("#%d", 1000+n),
	}, nil
}

func (m *MockCommerce) MarkOrderPaid(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MarkPaidErr != nil {
		return m.MarkPaidErr
	}
	m.MarkedPaid = append(m.MarkedPaid, orderID)
	return nil
}

// MockNotifier implements FulfillmentNotifier for testing
type MockNotifier struct {
	mu         sync.Mutex
	NotifyFunc func(event models.FulfillmentEvent) error
	Events     []models.FulfillmentEvent
}

func (m *MockNotifier) NotifyOrderPaid(ctx context.Context, event models.FulfillmentEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, event)
	if m.NotifyFunc != nil {
		return m.NotifyFunc(event)
	}
	return nil
}

func (m *MockNotifier) Sent() []models.FulfillmentEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.FulfillmentEvent(nil), m.Events...)
}

// MockPublisher implements SessionEventPublisher for testing
type MockPublisher struct {
	mu     sync.Mutex
	Err    error
	Events []models.SessionEvent
}

func (m *MockPublisher) PublishSessionEvent(ctx context.Context, event models.SessionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, event)
	return m.Err
}

// Transitions returns the transition names published for sessionID, in order.
func (m *MockPublisher) Transitions(sessionID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.Events {
		if e.SessionID == sessionID {
			out = append(out, e.Transition)
		}
	}
	return out
}

// MockGuard implements SubmissionGuard for testing
type MockGuard struct {
	mu           sync.Mutex
	held         map[string]bool
	AcquireErr   error
	ReleaseCalls int
}

func NewMockGuard() *MockGuard {
	return &MockGuard{held: make(map[string]bool)}
}

func (m *MockGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AcquireErr != nil {
		return false, m.AcquireErr
	}
	if m.held[key] {
		return false, nil
	}
	m.held[key] = true
	return true, nil
}

func (m *MockGuard) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReleaseCalls++
	delete(m.held, key)
	return nil
}

func (m *MockGuard) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held[key]
}
