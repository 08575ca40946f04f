package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/akylbek/payment-system/checkout-service/internal/interfaces"
	"github.com/akylbek/payment-system/checkout-service/internal/models"
)

const sessionColumns = `id, payment_code, cart_id, lines_snapshot, amount, currency,
	discount_code, discount_amount, payment_method, customer_id,
	guest_email, guest_phone, guest_first_name, guest_last_name,
	shipping_address, status, expires_at, claim_ref, claimed_at,
	order_id, order_number, provider_txn_id, settled_at, last_error,
	created_at, updated_at`

const uniqueViolation = "23505"

type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *SessionRepository) Create(ctx context.Context, s *models.CheckoutSession) error {
	return insertSession(ctx, r.db, s)
}

// CreateCOD serializes COD submissions per cart with a transaction-scoped advisory
// lock, so the recent-session check and the insert see the same state.
func (r *SessionRepository) CreateCOD(ctx context.Context, s *models.CheckoutSession, since time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "checkout:cod:"+s.CartID); err != nil {
		return fmt.Errorf("lock cart %s: %w", s.CartID, err)
	}

	var exists bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM checkout_sessions
			WHERE cart_id = $1 AND payment_method = $2 AND status = $3 AND created_at >= $4
		)
	`, s.CartID, models.MethodCOD, models.StatusPending, since).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check recent COD sessions: %w", err)
	}
	if exists {
		return interfaces.ErrRecentCODSession
	}

	if err := insertSession(ctx, tx, s); err != nil {
		return err
	}
	return tx.Commit()
}

func insertSession(ctx context.Context, db execer, s *models.CheckoutSession) error {
	lines, err := json.Marshal(s.Lines)
	if err != nil {
		return fmt.Errorf("marshal lines snapshot: %w", err)
	}
	address, err := json.Marshal(s.Address)
	if err != nil {
		return fmt.Errorf("marshal shipping address: %w", err)
	}

	var guestEmail, guestPhone, guestFirst, guestLast any
	if s.Guest != nil {
		guestEmail, guestPhone, guestFirst, guestLast = s.Guest.Email, s.Guest.Phone, s.Guest.FirstName, s.Guest.LastName
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO checkout_sessions (
			id, payment_code, cart_id, lines_snapshot, amount, currency,
			discount_code, discount_amount, payment_method, customer_id,
			guest_email, guest_phone, guest_first_name, guest_last_name,
			shipping_address, status, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $18)
	`, s.ID, s.PaymentCode, s.CartID, lines, s.Amount, s.Currency,
		nullString(s.DiscountCode), s.DiscountAmount, s.PaymentMethod, nullString(s.CustomerID),
		guestEmail, guestPhone, guestFirst, guestLast,
		address, s.Status, s.ExpiresAt, s.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == "ux_checkout_sessions_payment_code" {
			return interfaces.ErrDuplicatePaymentCode
		}
		return err
	}
	return nil
}

func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.CheckoutSession, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM checkout_sessions WHERE id = $1`, id)
	return scanSession(row)
}

func (r *SessionRepository) GetByPaymentCode(ctx context.Context, code string) (*models.CheckoutSession, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM checkout_sessions WHERE payment_code = $1`, code)
	return scanSession(row)
}

func (r *SessionRepository) ExpireIfOverdue(ctx context.Context, id string, now time.Time) (bool, error) {
	return r.exec(ctx, `
		UPDATE checkout_sessions
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status = $4 AND order_id IS NULL AND claim_ref IS NULL AND expires_at < $3
	`, id, models.StatusExpired, now, models.StatusPending)
}

func (r *SessionRepository) ExpireOverdue(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		UPDATE checkout_sessions
		SET status = $1, updated_at = $2
		WHERE status = $3 AND order_id IS NULL AND claim_ref IS NULL AND expires_at < $2
		RETURNING id
	`, models.StatusExpired, now, models.StatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *SessionRepository) FailPending(ctx context.Context, id, lastError string, now time.Time) (bool, error) {
	return r.exec(ctx, `
		UPDATE checkout_sessions
		SET status = $2, last_error = $3, updated_at = $4
		WHERE id = $1 AND status = $5 AND order_id IS NULL AND claim_ref IS NULL
	`, id, models.StatusFailed, lastError, now, models.StatusPending)
}

func (r *SessionRepository) Claim(ctx context.Context, id, ref string, from []models.SessionStatus, now time.Time) (bool, error) {
	statuses := make([]string, len(from))
	for i, s := range from {
		statuses[i] = string(s)
	}
	return r.exec(ctx, `
		UPDATE checkout_sessions
		SET claim_ref = $2, claimed_at = $3, updated_at = $3
		WHERE id = $1 AND claim_ref IS NULL AND order_id IS NULL AND status = ANY($4)
	`, id, ref, now, pq.Array(statuses))
}

func (r *SessionRepository) FailClaimed(ctx context.Context, id, ref, lastError string, now time.Time) (bool, error) {
	return r.exec(ctx, `
		UPDATE checkout_sessions
		SET status = $3, last_error = $4, updated_at = $5
		WHERE id = $1 AND claim_ref = $2 AND order_id IS NULL
	`, id, ref, models.StatusFailed, lastError, now)
}

// CompleteSettlement links the order and sets the final status in one statement so
// the session is never observed half-settled.
func (r *SessionRepository) CompleteSettlement(ctx context.Context, id, ref string, st models.Settlement, to models.SessionStatus) (bool, error) {
	return r.exec(ctx, `
		UPDATE checkout_sessions
		SET status = $3, order_id = $4, order_number = $5, provider_txn_id = $6,
			settled_at = $7, last_error = NULL, updated_at = $7
		WHERE id = $1 AND claim_ref = $2 AND order_id IS NULL
	`, id, ref, to, st.OrderID, nullString(st.OrderNumber), st.ProviderTxnID, st.SettledAt)
}

func (r *SessionRepository) ConfirmCashReceived(ctx context.Context, id string, now time.Time) (bool, error) {
	return r.exec(ctx, `
		UPDATE checkout_sessions
		SET status = $2, updated_at = $3
		WHERE id = $1 AND status = $4 AND payment_method = $5 AND order_id IS NOT NULL
	`, id, models.StatusPaid, now, models.StatusPending, models.MethodCOD)
}

func (r *SessionRepository) exec(ctx context.Context, query string, args ...any) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func scanSession(row *sql.Row) (*models.CheckoutSession, error) {
	var s models.CheckoutSession
	var lines, address []byte
	var discountCode, customerID, claimRef, orderID, orderNumber, lastError sql.NullString
	var guestEmail, guestPhone, guestFirst, guestLast sql.NullString
	var claimedAt, settledAt sql.NullTime
	var providerTxnID sql.NullInt64

	err := row.Scan(
		&s.ID, &s.PaymentCode, &s.CartID, &lines, &s.Amount, &s.Currency,
		&discountCode, &s.DiscountAmount, &s.PaymentMethod, &customerID,
		&guestEmail, &guestPhone, &guestFirst, &guestLast,
		&address, &s.Status, &s.ExpiresAt, &claimRef, &claimedAt,
		&orderID, &orderNumber, &providerTxnID, &settledAt, &lastError,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(lines, &s.Lines); err != nil {
		return nil, fmt.Errorf("decode lines snapshot of session %s: %w", s.ID, err)
	}
	if err := json.Unmarshal(address, &s.Address); err != nil {
		return nil, fmt.Errorf("decode shipping address of session %s: %w", s.ID, err)
	}

	s.DiscountCode = discountCode.String
	s.CustomerID = customerID.String
	if guestEmail.Valid {
		s.Guest = &models.GuestIdentity{
			Email:     guestEmail.String,
			Phone:     guestPhone.String,
			FirstName: guestFirst.String,
			LastName:  guestLast.String,
		}
	}
	s.ClaimRef = claimRef.String
	if claimedAt.Valid {
		t := claimedAt.Time
		s.ClaimedAt = &t
	}
	if orderID.Valid {
		s.Settlement = &models.Settlement{
			OrderID:     orderID.String,
			OrderNumber: orderNumber.String,
			SettledAt:   settledAt.Time,
		}
		if providerTxnID.Valid {
			id := providerTxnID.Int64
			s.Settlement.ProviderTxnID = &id
		}
	}
	s.LastError = lastError.String
	return &s, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
