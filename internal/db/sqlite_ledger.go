package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"flui/internal/types"
)

// SQLiteStore is a single-file LedgerRepository for local development and
// the operator CLI. The pool is capped at one connection, so transactions
// are serialized and WithAccountLock needs no row locks.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at dsn and applies the schema.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	// Shared cache keeps ":memory:" visible across reconnects of the pool.
	if dsn == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// sqlQuerier is shared by *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Create implements types.LedgerRepository.
func (s *SQLiteStore) Create(ctx context.Context, a *types.Account) error {
	if err := a.Ledger.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.Tier),
		a.Ledger.CurrentSessions, a.Ledger.PulseSources,
		a.Ledger.MonthlyUsageCount, a.Ledger.MonthlyLimit, a.Ledger.ExtraCreditsBalance,
		a.CycleStartedAt.UTC(), a.CycleEndsAt.UTC(), a.StripeCustomerID,
		a.CreatedAt.UTC(), a.UpdatedAt.UTC(),
	)
	if err != nil {
		if isSQLiteConstraint(err) {
			return accountExists(a.ID)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create account", err)
	}
	return nil
}

// Get implements types.LedgerRepository.
func (s *SQLiteStore) Get(ctx context.Context, accountID string) (*types.Account, error) {
	return sqliteGet(ctx, s.db, accountID)
}

// WithAccountLock implements types.LedgerRepository.
func (s *SQLiteStore) WithAccountLock(ctx context.Context, accountID string, fn func(ctx context.Context, account *types.Account, tx types.LedgerTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to begin transaction", err)
	}
	defer tx.Rollback() //nolint:errcheck

	account, err := sqliteGet(ctx, tx, accountID)
	if err != nil {
		return err
	}
	if err := fn(ctx, account, &sqliteTx{q: tx}); err != nil {
		return passThrough(err, "ledger transaction failed")
	}
	if err := tx.Commit(); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to commit ledger transaction", err)
	}
	return nil
}

// ListDueForRollover implements types.LedgerRepository.
func (s *SQLiteStore) ListDueForRollover(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM accounts WHERE cycle_ends_at <= ? ORDER BY cycle_ends_at, id LIMIT ?`,
		now.UTC(), limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list accounts due for rollover", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan account id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate accounts", err)
	}
	return ids, nil
}

// Ping checks that the database file is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() {
	_ = s.db.Close()
}

func sqliteGet(ctx context.Context, q sqlQuerier, accountID string) (*types.Account, error) {
	var a types.Account
	var tier string
	err := q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, accountID,
	).Scan(
		&a.ID, &tier,
		&a.Ledger.CurrentSessions, &a.Ledger.PulseSources,
		&a.Ledger.MonthlyUsageCount, &a.Ledger.MonthlyLimit, &a.Ledger.ExtraCreditsBalance,
		&a.CycleStartedAt, &a.CycleEndsAt, &a.StripeCustomerID,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, accountNotFound(accountID)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get account", err)
	}
	a.Tier = types.PlanTier(tier)
	return &a, nil
}

type sqliteTx struct {
	q sqlQuerier
}

func (t *sqliteTx) Save(ctx context.Context, a *types.Account) error {
	if err := a.Ledger.Validate(); err != nil {
		return err
	}
	res, err := t.q.ExecContext(ctx,
		`UPDATE accounts
		 SET tier = ?, current_sessions = ?, pulse_sources = ?,
		     monthly_usage_count = ?, monthly_limit = ?, extra_credits_balance = ?,
		     cycle_started_at = ?, cycle_ends_at = ?, stripe_customer_id = ?, updated_at = ?
		 WHERE id = ?`,
		string(a.Tier), a.Ledger.CurrentSessions, a.Ledger.PulseSources,
		a.Ledger.MonthlyUsageCount, a.Ledger.MonthlyLimit, a.Ledger.ExtraCreditsBalance,
		a.CycleStartedAt.UTC(), a.CycleEndsAt.UTC(), a.StripeCustomerID, a.UpdatedAt.UTC(),
		a.ID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save account", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return accountNotFound(a.ID)
	}
	return nil
}

func (t *sqliteTx) RecordPurchase(ctx context.Context, p types.CreditPurchase) (bool, error) {
	res, err := t.q.ExecContext(ctx,
		`INSERT INTO credit_purchases (id, account_id, package_id, credits, payment_ref, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (payment_ref) DO NOTHING`,
		p.ID, p.AccountID, p.PackageID, p.Credits, p.PaymentRef, p.CreatedAt.UTC(),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to record credit purchase", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (t *sqliteTx) RecordRenewal(ctx context.Context, r types.CycleRenewal) (bool, error) {
	res, err := t.q.ExecContext(ctx,
		`INSERT INTO cycle_renewals (invoice_ref, account_id, tier, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (invoice_ref) DO NOTHING`,
		r.InvoiceRef, r.AccountID, string(r.Tier), r.CreatedAt.UTC(),
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to record cycle renewal", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// isSQLiteConstraint reports a UNIQUE or PRIMARY KEY violation.
func isSQLiteConstraint(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}
