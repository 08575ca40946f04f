package models

import "time"

type SessionStatus string

const (
	StatusPending SessionStatus = "pending"
	StatusPaid    SessionStatus = "paid"
	StatusFailed  SessionStatus = "failed"
	StatusExpired SessionStatus = "expired"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusPaid || s == StatusFailed || s == StatusExpired
}

type PaymentMethod string

const (
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCOD          PaymentMethod = "cod"
)

// LineItem is one frozen cart line. UnitPrice is in minor currency units.
type LineItem struct {
	VariantID string `json:"variant_id"`
	Title     string `json:"title,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Currency  string `json:"currency"`
}

func (l LineItem) Subtotal() int64 {
	return l.UnitPrice * int64(l.Quantity)
}

type GuestIdentity struct {
	Email     string `json:"email" validate:"required,email"`
	Phone     string `json:"phone" validate:"required,min=8,max=15"`
	FirstName string `json:"first_name" validate:"required"`
	LastName  string `json:"last_name" validate:"required"`
}

type ShippingAddress struct {
	FirstName   string `json:"first_name" validate:"required"`
	LastName    string `json:"last_name" validate:"required"`
	Phone       string `json:"phone" validate:"required,min=8,max=15"`
	Address1    string `json:"address1" validate:"required"`
	Address2    string `json:"address2,omitempty"`
	Ward        string `json:"ward,omitempty"`
	District    string `json:"district,omitempty"`
	City        string `json:"city,omitempty"`
	Province    string `json:"province" validate:"required"`
	PostalCode  string `json:"postal_code,omitempty"`
	CountryCode string `json:"country_code" validate:"required,len=2"`
}

// Settlement links a session to the external order that settled it.
type Settlement struct {
	OrderID       string    `json:"order_id"`
	OrderNumber   string    `json:"order_number,omitempty"`
	ProviderTxnID *int64    `json:"provider_transaction_id,omitempty"`
	SettledAt     time.Time `json:"settled_at"`
}

type CheckoutSession struct {
	ID             string
	PaymentCode    string
	CartID         string
	Lines          []LineItem
	Amount         int64
	Currency       string
	DiscountCode   string
	DiscountAmount int64
	PaymentMethod  PaymentMethod
	CustomerID     string
	Guest          *GuestIdentity
	Address        ShippingAddress
	Status         SessionStatus
	ExpiresAt      time.Time
	ClaimRef       string
	ClaimedAt      *time.Time
	Settlement     *Settlement
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsOverdue reports whether the lazy expiry check should move the session to expired.
// Sessions with a linked order or an in-flight settlement claim never expire.
func (s *CheckoutSession) IsOverdue(now time.Time) bool {
	return s.Status == StatusPending &&
		s.Settlement == nil &&
		s.ClaimRef == "" &&
		now.After(s.ExpiresAt)
}

func (s *CheckoutSession) OrderID() string {
	if s.Settlement == nil {
		return ""
	}
	return s.Settlement.OrderID
}

// CreateSessionInput is the checkout request accepted by the lifecycle manager.
type CreateSessionInput struct {
	CartID         string          `json:"cart_id" validate:"required"`
	PaymentMethod  PaymentMethod   `json:"payment_method" validate:"required,oneof=bank_transfer cod"`
	Address        ShippingAddress `json:"shipping_address"`
	CustomerID     string          `json:"customer_id,omitempty"`
	Guest          *GuestIdentity  `json:"guest,omitempty" validate:"omitempty"`
	DiscountCode   string          `json:"discount_code,omitempty"`
	DiscountAmount int64           `json:"discount_amount,omitempty" validate:"gte=0"`
}

// SessionEvent is published on every session state change.
type SessionEvent struct {
	SessionID     string        `json:"session_id"`
	State         SessionStatus `json:"state"`
	PreviousState SessionStatus `json:"previous_state,omitempty"`
	Transition    string        `json:"transition"`
	OrderID       string        `json:"order_id,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}
