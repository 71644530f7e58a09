package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"flui/internal/types"
)

// LedgerQueries holds the SQL of the accounts and credit_purchases tables.
// It runs against a pool or a transaction, like every repository in this
// package.
type LedgerQueries struct {
	db DBTX
}

// NewLedgerQueries creates LedgerQueries backed by the given connection.
func NewLedgerQueries(db DBTX) *LedgerQueries {
	return &LedgerQueries{db: db}
}

// accountColumns defines the column order scanned by scanAccount.
const accountColumns = `id, tier, current_sessions, pulse_sources,
	monthly_usage_count, monthly_limit, extra_credits_balance,
	cycle_started_at, cycle_ends_at, stripe_customer_id, created_at, updated_at`

func scanAccount(row pgx.Row) (*types.Account, error) {
	var a types.Account
	var stripeCustomerID *string

	err := row.Scan(
		&a.ID,
		&a.Tier,
		&a.Ledger.CurrentSessions,
		&a.Ledger.PulseSources,
		&a.Ledger.MonthlyUsageCount,
		&a.Ledger.MonthlyLimit,
		&a.Ledger.ExtraCreditsBalance,
		&a.CycleStartedAt,
		&a.CycleEndsAt,
		&stripeCustomerID,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if stripeCustomerID != nil {
		a.StripeCustomerID = *stripeCustomerID
	}
	return &a, nil
}

// Create inserts a new account row.
func (q *LedgerQueries) Create(ctx context.Context, a *types.Account) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO accounts (`+accountColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID,
		a.Tier,
		a.Ledger.CurrentSessions,
		a.Ledger.PulseSources,
		a.Ledger.MonthlyUsageCount,
		a.Ledger.MonthlyLimit,
		a.Ledger.ExtraCreditsBalance,
		a.CycleStartedAt,
		a.CycleEndsAt,
		nilIfEmpty(a.StripeCustomerID),
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return accountExists(a.ID)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create account", err)
	}
	return nil
}

// Get returns the account without locking it.
func (q *LedgerQueries) Get(ctx context.Context, accountID string) (*types.Account, error) {
	return q.get(ctx, accountID, "")
}

// GetForUpdate returns the account and holds a row lock until the enclosing
// transaction ends. Only meaningful when q runs on a pgx.Tx.
func (q *LedgerQueries) GetForUpdate(ctx context.Context, accountID string) (*types.Account, error) {
	return q.get(ctx, accountID, " FOR UPDATE")
}

func (q *LedgerQueries) get(ctx context.Context, accountID, suffix string) (*types.Account, error) {
	a, err := scanAccount(q.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`+suffix,
		accountID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, accountNotFound(accountID)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get account", err)
	}
	return a, nil
}

// Save writes the mutable columns of an account.
func (q *LedgerQueries) Save(ctx context.Context, a *types.Account) error {
	if err := a.Ledger.Validate(); err != nil {
		return err
	}

	tag, err := q.db.Exec(ctx,
		`UPDATE accounts
		 SET tier = $2,
		     current_sessions = $3,
		     pulse_sources = $4,
		     monthly_usage_count = $5,
		     monthly_limit = $6,
		     extra_credits_balance = $7,
		     cycle_started_at = $8,
		     cycle_ends_at = $9,
		     stripe_customer_id = $10,
		     updated_at = $11
		 WHERE id = $1`,
		a.ID,
		a.Tier,
		a.Ledger.CurrentSessions,
		a.Ledger.PulseSources,
		a.Ledger.MonthlyUsageCount,
		a.Ledger.MonthlyLimit,
		a.Ledger.ExtraCreditsBalance,
		a.CycleStartedAt,
		a.CycleEndsAt,
		nilIfEmpty(a.StripeCustomerID),
		a.UpdatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save account", err)
	}
	if tag.RowsAffected() == 0 {
		return accountNotFound(a.ID)
	}
	return nil
}

// RecordPurchase inserts a purchase unless its payment reference was already
// recorded, in which case it returns false.
//
//	INSERT INTO credit_purchases (...) VALUES (...)
//	ON CONFLICT (payment_ref) DO NOTHING
func (q *LedgerQueries) RecordPurchase(ctx context.Context, p types.CreditPurchase) (bool, error) {
	tag, err := q.db.Exec(ctx,
		`INSERT INTO credit_purchases (id, account_id, package_id, credits, payment_ref, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (payment_ref) DO NOTHING`,
		p.ID,
		p.AccountID,
		p.PackageID,
		p.Credits,
		p.PaymentRef,
		p.CreatedAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to record credit purchase", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RecordRenewal inserts a renewal unless its invoice was already recorded,
// in which case it returns false.
func (q *LedgerQueries) RecordRenewal(ctx context.Context, r types.CycleRenewal) (bool, error) {
	tag, err := q.db.Exec(ctx,
		`INSERT INTO cycle_renewals (invoice_ref, account_id, tier, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (invoice_ref) DO NOTHING`,
		r.InvoiceRef,
		r.AccountID,
		string(r.Tier),
		r.CreatedAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to record cycle renewal", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListDueForRollover returns up to limit account IDs whose cycle has ended,
// oldest first.
func (q *LedgerQueries) ListDueForRollover(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := q.db.Query(ctx,
		`SELECT id FROM accounts
		 WHERE cycle_ends_at <= $1
		 ORDER BY cycle_ends_at, id
		 LIMIT $2`,
		now,
		limit,
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

// PostgresStore is the production LedgerRepository. WithAccountLock runs the
// callback inside a transaction holding SELECT ... FOR UPDATE on the account
// row, so concurrent commits for one account are serialized by PostgreSQL.
type PostgresStore struct {
	pool TxStarter
	*LedgerQueries
}

// NewPostgresStore creates a store on a pool.
func NewPostgresStore(pool TxStarter) *PostgresStore {
	return &PostgresStore{
		pool:          pool,
		LedgerQueries: NewLedgerQueries(pool),
	}
}

// WithAccountLock implements types.LedgerRepository.
func (s *PostgresStore) WithAccountLock(ctx context.Context, accountID string, fn func(ctx context.Context, account *types.Account, tx types.LedgerTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to begin transaction", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	q := NewLedgerQueries(tx)
	account, err := q.GetForUpdate(ctx, accountID)
	if err != nil {
		return err
	}

	if err := fn(ctx, account, q); err != nil {
		return passThrough(err, "ledger transaction failed")
	}

	if err := tx.Commit(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to commit ledger transaction", err)
	}
	return nil
}

// DB returns the pool for repositories that share it, such as job locks.
func (s *PostgresStore) DB() DBTX {
	return s.pool
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	var one int
	return s.pool.QueryRow(ctx, "SELECT 1").Scan(&one)
}

// Close releases the pool when it supports closing.
func (s *PostgresStore) Close() {
	if c, ok := s.pool.(interface{ Close() }); ok {
		c.Close()
	}
}
