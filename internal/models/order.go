package models

import "time"

// Cart is the live commerce cart as read at checkout time.
type Cart struct {
	ID       string
	Currency string
	Items    []LineItem
	Total    int64
}

// OrderCustomer is either a registered customer (CustomerID) or a guest.
type OrderCustomer struct {
	CustomerID string `json:"customer_id,omitempty"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
}

type OrderDiscount struct {
	Code   string `json:"code"`
	Amount int64  `json:"amount"`
}

type OrderRequest struct {
	SessionID     string          `json:"session_id"`
	LineItems     []LineItem      `json:"line_items"`
	Customer      OrderCustomer   `json:"customer"`
	Address       ShippingAddress `json:"shipping_address"`
	Discount      *OrderDiscount  `json:"discount,omitempty"`
	Currency      string          `json:"currency"`
	Total         int64           `json:"total"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	PaymentCode   string          `json:"payment_code"`
}

type OrderResult struct {
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
}

// SettlementTrigger identifies what is settling a session. Ref is the claim key:
// "txn:<provider id>" for bank transfers, "cod:<session id>" for cash on delivery.
type SettlementTrigger struct {
	Ref           string
	Method        PaymentMethod
	ProviderTxnID *int64
	AllowExpired  bool
}

type SettlementResult struct {
	Session  *CheckoutSession
	Order    OrderResult
	Replayed bool
}

const (
	EventOrderPaid      = "order.paid"
	EventOrderCODPlaced = "order.cod_placed"
)

type FulfillmentEvent struct {
	Event         string          `json:"event"`
	OrderID       string          `json:"order_id"`
	OrderNumber   string          `json:"order_number,omitempty"`
	SessionID     string          `json:"session_id"`
	LineItems     []LineItem      `json:"line_items"`
	Customer      OrderCustomer   `json:"customer"`
	Address       ShippingAddress `json:"shipping_address"`
	Amount        int64           `json:"amount"`
	Currency      string          `json:"currency"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// PaymentInstructions is what the storefront renders for a bank-transfer session.
type PaymentInstructions struct {
	BankName        string `json:"bank_name"`
	AccountNumber   string `json:"account_number"`
	AccountName     string `json:"account_name"`
	Amount          int64  `json:"amount"`
	TransferContent string `json:"transfer_content"`
	QRImageURL      string `json:"qr_image_url,omitempty"`
	QRDataURI       string `json:"qr_data_uri,omitempty"`
}

type CheckoutResult struct {
	Session      *CheckoutSession
	Instructions *PaymentInstructions
	Order        *OrderResult
}
