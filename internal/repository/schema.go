package repository

import (
	"context"
	"database/sql"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS checkout_sessions (
		id VARCHAR(36) PRIMARY KEY,
		payment_code VARCHAR(32) NOT NULL,
		cart_id VARCHAR(255) NOT NULL,
		lines_snapshot JSONB NOT NULL,
		amount BIGINT NOT NULL CHECK (amount > 0),
		currency VARCHAR(8) NOT NULL,
		discount_code VARCHAR(255),
		discount_amount BIGINT NOT NULL DEFAULT 0,
		payment_method VARCHAR(20) NOT NULL,
		customer_id VARCHAR(255),
		guest_email VARCHAR(255),
		guest_phone VARCHAR(32),
		guest_first_name VARCHAR(255),
		guest_last_name VARCHAR(255),
		shipping_address JSONB NOT NULL,
		status VARCHAR(20) NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		claim_ref VARCHAR(255),
		claimed_at TIMESTAMPTZ,
		order_id VARCHAR(255),
		order_number VARCHAR(255),
		provider_txn_id BIGINT,
		settled_at TIMESTAMPTZ,
		last_error TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT checkout_sessions_one_identity CHECK ((customer_id IS NULL) <> (guest_email IS NULL))
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_checkout_sessions_payment_code ON checkout_sessions(payment_code)`,
	`CREATE INDEX IF NOT EXISTS idx_checkout_sessions_cod_guard ON checkout_sessions(cart_id, payment_method, status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_checkout_sessions_pending_expiry ON checkout_sessions(expires_at) WHERE status = 'pending'`,
	`CREATE TABLE IF NOT EXISTS payment_transactions (
		provider_txn_id BIGINT PRIMARY KEY,
		gateway VARCHAR(100),
		transaction_date TIMESTAMPTZ,
		account_number VARCHAR(64),
		content TEXT,
		transfer_type VARCHAR(8) NOT NULL,
		transfer_amount BIGINT NOT NULL,
		accumulated BIGINT,
		reference_code VARCHAR(255),
		raw_payload JSONB,
		payment_code VARCHAR(32),
		processed BOOLEAN NOT NULL DEFAULT FALSE,
		order_id VARCHAR(255),
		outcome_code VARCHAR(50),
		outcome_success BOOLEAN,
		outcome_message TEXT,
		outcome_session_id VARCHAR(36),
		outcome_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_transactions_unprocessed ON payment_transactions(created_at) WHERE processed = FALSE`,
	`CREATE INDEX IF NOT EXISTS idx_payment_transactions_payment_code ON payment_transactions(payment_code)`,
}

// InitDB creates the tables and indexes if they do not exist yet.
func InitDB(ctx context.Context, db *sql.DB) error {
	for _, query := range schema {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return err
		}
	}
	return nil
}
