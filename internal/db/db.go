// Package db provides the ledger stores of the entitlement service. The
// PostgreSQL store accepts a DBTX interface that is satisfied by both
// *pgxpool.Pool (for normal queries) and pgx.Tx (for transactional
// execution). SQLite and in-memory stores serve local development and the
// operator CLI.
package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"flui/internal/config"
	"flui/internal/types"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
// Repositories accept this so the same code works inside or outside a
// transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxStarter is a DBTX that can open transactions. *pgxpool.Pool satisfies it.
type TxStarter interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is a LedgerRepository with a lifecycle.
type Store interface {
	types.LedgerRepository
	Ping(ctx context.Context) error
	Close()
}

// Open connects the store selected by cfg.Driver. With AutoMigrate (or for
// SQLite and memory, always) the schema is created if missing.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory ledger store; data is lost on exit")
		return NewMemoryStore(), nil

	case config.DriverSQLite:
		store, err := OpenSQLite(ctx, cfg.URL.Unmask())
		if err != nil {
			return nil, err
		}
		logger.Info("sqlite ledger store opened")
		return store, nil

	case config.DriverPostgres, "":
		pool, err := Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, err
			}
			logger.Info("postgres schema migrated")
		}
		return NewPostgresStore(pool), nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Connect creates a pgx pool tuned by cfg and verifies connectivity.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MinConns = cfg.MinConns
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.HealthCheckPeriod > 0 {
		poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// nilIfEmpty returns nil if the string is empty, otherwise returns a pointer
// to the string. Used for nullable text columns.
func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint
// violation (error code 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func accountNotFound(accountID string) error {
	return types.NewAppErrorWithDetails(types.ErrCodeNotFoundAccount, "account not found", nil,
		map[string]any{"account_id": accountID})
}

func accountExists(accountID string) error {
	return types.NewAppErrorWithDetails(types.ErrCodeConflictAccountExists, "account already exists", nil,
		map[string]any{"account_id": accountID})
}

// passThrough keeps application errors raised inside a lock callback intact
// and wraps anything else as a database failure.
func passThrough(err error, msg string) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return types.NewAppError(types.ErrCodeInternalDB, msg, err)
}
