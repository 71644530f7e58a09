package db

import (
	"context"

	"flui/internal/types"
)

// postgresSchema creates the ledger tables. Counter columns carry CHECK
// constraints so a faulty commit can never persist a negative balance.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id                    TEXT PRIMARY KEY,
		tier                  TEXT NOT NULL CHECK (tier IN ('FREE', 'GROWTH', 'PRO')),
		current_sessions      INTEGER NOT NULL DEFAULT 0 CHECK (current_sessions >= 0),
		pulse_sources         INTEGER NOT NULL DEFAULT 0 CHECK (pulse_sources >= 0),
		monthly_usage_count   INTEGER NOT NULL DEFAULT 0 CHECK (monthly_usage_count >= 0),
		monthly_limit         INTEGER NOT NULL DEFAULT 0 CHECK (monthly_limit >= 0),
		extra_credits_balance INTEGER NOT NULL DEFAULT 0 CHECK (extra_credits_balance >= 0),
		cycle_started_at      TIMESTAMPTZ NOT NULL,
		cycle_ends_at         TIMESTAMPTZ NOT NULL,
		stripe_customer_id    TEXT,
		created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_accounts_cycle_ends_at ON accounts (cycle_ends_at)`,
	`CREATE TABLE IF NOT EXISTS credit_purchases (
		id          TEXT PRIMARY KEY,
		account_id  TEXT NOT NULL REFERENCES accounts (id),
		package_id  TEXT NOT NULL,
		credits     INTEGER NOT NULL CHECK (credits > 0),
		payment_ref TEXT NOT NULL UNIQUE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_credit_purchases_account ON credit_purchases (account_id)`,
	`CREATE TABLE IF NOT EXISTS cycle_renewals (
		invoice_ref TEXT PRIMARY KEY,
		account_id  TEXT NOT NULL REFERENCES accounts (id),
		tier        TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS job_locks (
		id         TEXT PRIMARY KEY,
		worker_id  TEXT NOT NULL,
		locked_at  TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS job_history (
		id          BIGSERIAL PRIMARY KEY,
		job_type    TEXT NOT NULL,
		started_at  TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
		status      TEXT NOT NULL,
		items_count INTEGER NOT NULL DEFAULT 0,
		error       TEXT
	)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id                    TEXT PRIMARY KEY,
		tier                  TEXT NOT NULL,
		current_sessions      INTEGER NOT NULL DEFAULT 0 CHECK (current_sessions >= 0),
		pulse_sources         INTEGER NOT NULL DEFAULT 0 CHECK (pulse_sources >= 0),
		monthly_usage_count   INTEGER NOT NULL DEFAULT 0 CHECK (monthly_usage_count >= 0),
		monthly_limit         INTEGER NOT NULL DEFAULT 0 CHECK (monthly_limit >= 0),
		extra_credits_balance INTEGER NOT NULL DEFAULT 0 CHECK (extra_credits_balance >= 0),
		cycle_started_at      DATETIME NOT NULL,
		cycle_ends_at         DATETIME NOT NULL,
		stripe_customer_id    TEXT NOT NULL DEFAULT '',
		created_at            DATETIME NOT NULL,
		updated_at            DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_accounts_cycle_ends_at ON accounts (cycle_ends_at)`,
	`CREATE TABLE IF NOT EXISTS credit_purchases (
		id          TEXT PRIMARY KEY,
		account_id  TEXT NOT NULL REFERENCES accounts (id),
		package_id  TEXT NOT NULL,
		credits     INTEGER NOT NULL,
		payment_ref TEXT NOT NULL UNIQUE,
		created_at  DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS cycle_renewals (
		invoice_ref TEXT PRIMARY KEY,
		account_id  TEXT NOT NULL REFERENCES accounts (id),
		tier        TEXT NOT NULL,
		created_at  DATETIME NOT NULL
	)`,
}

// Migrate applies the PostgreSQL schema. Every statement is idempotent.
func Migrate(ctx context.Context, db DBTX) error {
	for _, stmt := range postgresSchema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to apply schema", err)
		}
	}
	return nil
}
