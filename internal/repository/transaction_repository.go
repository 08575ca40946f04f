package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/akylbek/payment-system/checkout-service/internal/interfaces"
	"github.com/akylbek/payment-system/checkout-service/internal/models"
)

const transactionColumns = `provider_txn_id, gateway, transaction_date, account_number, content,
	transfer_type, transfer_amount, accumulated, reference_code, raw_payload,
	payment_code, processed, order_id, outcome_code, outcome_success,
	outcome_message, outcome_session_id, created_at, processed_at`

type TransactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Insert stores the ledger row and reports false if the provider id was already known.
func (r *TransactionRepository) Insert(ctx context.Context, tx *models.PaymentTransaction) (bool, error) {
	var date sql.NullTime
	if !tx.TransactionDate.IsZero() {
		date = sql.NullTime{Time: tx.TransactionDate, Valid: true}
	}
	var raw any
	if len(tx.RawPayload) > 0 {
		raw = tx.RawPayload
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO payment_transactions (
			provider_txn_id, gateway, transaction_date, account_number, content,
			transfer_type, transfer_amount, accumulated, reference_code, raw_payload,
			payment_code, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (provider_txn_id) DO NOTHING
	`, tx.ProviderTxnID, tx.Gateway, date, tx.AccountNumber, tx.Content,
		tx.TransferType, tx.TransferAmount, tx.Accumulated, tx.ReferenceCode, raw,
		nullString(tx.PaymentCode), tx.CreatedAt)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (r *TransactionRepository) GetByProviderID(ctx context.Context, providerTxnID int64) (*models.PaymentTransaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM payment_transactions WHERE provider_txn_id = $1`, providerTxnID)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	return tx, err
}

func (r *TransactionRepository) MarkProcessed(ctx context.Context, providerTxnID int64, orderID string, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE payment_transactions
		SET processed = TRUE, order_id = $2, processed_at = $3
		WHERE provider_txn_id = $1 AND processed = FALSE
	`, providerTxnID, orderID, now)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

// RecordOutcome stores the first computed outcome; later calls do not overwrite it.
func (r *TransactionRepository) RecordOutcome(ctx context.Context, providerTxnID int64, o models.WebhookOutcome, now time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE payment_transactions
		SET outcome_code = $2, outcome_success = $3, outcome_message = $4,
			outcome_session_id = $5, order_id = COALESCE(order_id, $6), outcome_at = $7
		WHERE provider_txn_id = $1 AND outcome_at IS NULL
	`, providerTxnID, o.Code, o.Success, o.Message, nullString(o.SessionID), nullString(o.OrderID), now)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

func (r *TransactionRepository) ListUnprocessed(ctx context.Context, limit int) ([]*models.PaymentTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+transactionColumns+` FROM payment_transactions
		WHERE processed = FALSE
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*models.PaymentTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, tx)
	}
	return list, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*models.PaymentTransaction, error) {
	var tx models.PaymentTransaction
	var gateway, account, content, reference, code, orderID sql.NullString
	var outcomeCode, outcomeMessage, outcomeSession sql.NullString
	var outcomeSuccess sql.NullBool
	var date, processedAt sql.NullTime
	var accumulated sql.NullInt64

	if err := row.Scan(
		&tx.ProviderTxnID, &gateway, &date, &account, &content,
		&tx.TransferType, &tx.TransferAmount, &accumulated, &reference, &tx.RawPayload,
		&code, &tx.Processed, &orderID, &outcomeCode, &outcomeSuccess,
		&outcomeMessage, &outcomeSession, &tx.CreatedAt, &processedAt,
	); err != nil {
		return nil, err
	}

	tx.Gateway = gateway.String
	tx.TransactionDate = date.Time
	tx.AccountNumber = account.String
	tx.Content = content.String
	tx.Accumulated = accumulated.Int64
	tx.ReferenceCode = reference.String
	tx.PaymentCode = code.String
	tx.OrderID = orderID.String
	if processedAt.Valid {
		t := processedAt.Time
		tx.ProcessedAt = &t
	}
	if outcomeCode.Valid {
		tx.Outcome = &models.WebhookOutcome{
			Success:   outcomeSuccess.Bool,
			Code:      models.OutcomeCode(outcomeCode.String),
			Message:   outcomeMessage.String,
			SessionID: outcomeSession.String,
			OrderID:   orderID.String,
		}
	}
	return &tx, nil
}
