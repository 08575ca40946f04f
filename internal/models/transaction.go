package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	TransferIn  = "in"
	TransferOut = "out"
)

// webhookDateLayout is the bank provider's local timestamp format (ICT, UTC+7).
const webhookDateLayout = "2006-01-02 15:04:05"

var ictZone = time.FixedZone("ICT", 7*3600)

// TransferWebhook is the wire form of a bank-transfer notification.
type TransferWebhook struct {
	ID              int64  `json:"id"`
	Gateway         string `json:"gateway"`
	TransactionDate string `json:"transactionDate"`
	AccountNumber   string `json:"accountNumber"`
	Code            string `json:"code"`
	Content         string `json:"content"`
	TransferType    string `json:"transferType"`
	TransferAmount  int64  `json:"transferAmount"`
	Accumulated     int64  `json:"accumulated"`
	SubAccount      string `json:"subAccount"`
	ReferenceCode   string `json:"referenceCode"`
	Description     string `json:"description"`
}

// ToNotification checks the schema-level requirements and converts the payload.
// raw is kept verbatim on the ledger row.
func (w TransferWebhook) ToNotification(raw []byte) (TransferNotification, error) {
	if w.ID <= 0 {
		return TransferNotification{}, fmt.Errorf("missing provider transaction id")
	}
	transferType := strings.ToLower(strings.TrimSpace(w.TransferType))
	if transferType != TransferIn && transferType != TransferOut {
		return TransferNotification{}, fmt.Errorf("invalid transferType %q", w.TransferType)
	}
	if w.TransferAmount < 0 {
		return TransferNotification{}, fmt.Errorf("negative transferAmount")
	}

	var date time.Time
	if w.TransactionDate != "" {
		parsed, err := time.ParseInLocation(webhookDateLayout, w.TransactionDate, ictZone)
		if err != nil {
			parsed, err = time.Parse(time.RFC3339, w.TransactionDate)
			if err != nil {
				return TransferNotification{}, fmt.Errorf("invalid transactionDate %q", w.TransactionDate)
			}
		}
		date = parsed
	}

	if raw == nil {
		raw, _ = json.Marshal(w)
	}

	return TransferNotification{
		ProviderTxnID:   w.ID,
		Gateway:         w.Gateway,
		TransactionDate: date,
		AccountNumber:   w.AccountNumber,
		Content:         w.Content,
		TransferType:    transferType,
		TransferAmount:  w.TransferAmount,
		Accumulated:     w.Accumulated,
		ReferenceCode:   w.ReferenceCode,
		RawPayload:      raw,
	}, nil
}

type TransferNotification struct {
	ProviderTxnID   int64
	Gateway         string
	TransactionDate time.Time
	AccountNumber   string
	Content         string
	TransferType    string
	TransferAmount  int64
	Accumulated     int64
	ReferenceCode   string
	RawPayload      []byte
}

type OutcomeCode string

const (
	OutcomeSettled            OutcomeCode = "settled"
	OutcomeNotApplicable      OutcomeCode = "not_applicable"
	OutcomeNoPaymentCode      OutcomeCode = "no_payment_code"
	OutcomeSessionNotFound    OutcomeCode = "session_not_found"
	OutcomeInsufficientAmount OutcomeCode = "insufficient_amount"
	OutcomeAlreadySettled     OutcomeCode = "already_settled"
	OutcomeSessionNotPayable  OutcomeCode = "session_not_payable"
	OutcomeMethodMismatch     OutcomeCode = "method_mismatch"
	OutcomeManualReview       OutcomeCode = "manual_review"
	OutcomeOrderFailed        OutcomeCode = "order_creation_failed"
	OutcomeInProgress         OutcomeCode = "in_progress"
)

// WebhookOutcome is the result reported to the webhook sender. Once recorded on the
// ledger row it is replayed verbatim for every redelivery of the same provider id.
type WebhookOutcome struct {
	Success   bool        `json:"success"`
	Code      OutcomeCode `json:"code"`
	Message   string      `json:"message"`
	SessionID string      `json:"session_id,omitempty"`
	OrderID   string      `json:"order_id,omitempty"`
}

// PaymentTransaction is the ledger row of one inbound bank notification.
type PaymentTransaction struct {
	ProviderTxnID   int64
	Gateway         string
	TransactionDate time.Time
	AccountNumber   string
	Content         string
	TransferType    string
	TransferAmount  int64
	Accumulated     int64
	ReferenceCode   string
	RawPayload      []byte
	PaymentCode     string
	Processed       bool
	OrderID         string
	Outcome         *WebhookOutcome
	CreatedAt       time.Time
	ProcessedAt     *time.Time
}

func NewPaymentTransaction(n TransferNotification, paymentCode string) *PaymentTransaction {
	return &PaymentTransaction{
		ProviderTxnID:   n.ProviderTxnID,
		Gateway:         n.Gateway,
		TransactionDate: n.TransactionDate,
		AccountNumber:   n.AccountNumber,
		Content:         n.Content,
		TransferType:    n.TransferType,
		TransferAmount:  n.TransferAmount,
		Accumulated:     n.Accumulated,
		ReferenceCode:   n.ReferenceCode,
		RawPayload:      n.RawPayload,
		PaymentCode:     paymentCode,
	}
}
