package types

import (
	"context"
	"time"
)

// Logger is the minimal structured logging surface shared across packages.
// *slog.Logger satisfies it.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// LedgerTx is the write surface available while an account row is locked.
// It is only valid inside the callback passed to WithAccountLock.
type LedgerTx interface {
	// Save persists the tier, ledger and cycle window of the account.
	Save(ctx context.Context, account *Account) error

	// RecordPurchase inserts a purchase record. It returns false without error
	// when a purchase with the same PaymentRef was already recorded.
	RecordPurchase(ctx context.Context, purchase CreditPurchase) (bool, error)

	// RecordRenewal inserts a renewal record. It returns false without error
	// when a renewal with the same InvoiceRef was already recorded.
	RecordRenewal(ctx context.Context, renewal CycleRenewal) (bool, error)
}

// LedgerRepository owns the UsageLedger of every account.
//
// Implementations must serialize concurrent WithAccountLock calls for the same
// account so a check-then-commit sequence observes and writes a consistent
// ledger.
type LedgerRepository interface {
	// Create provisions a new account. Returns ErrCodeConflictAccountExists if
	// the ID is taken.
	Create(ctx context.Context, account *Account) error

	// Get returns a snapshot of the account without locking it.
	Get(ctx context.Context, accountID string) (*Account, error)

	// WithAccountLock loads the account under an exclusive lock and runs fn.
	// Changes saved through tx are committed only if fn returns nil.
	WithAccountLock(ctx context.Context, accountID string, fn func(ctx context.Context, account *Account, tx LedgerTx) error) error

	// ListDueForRollover returns up to limit account IDs whose billing cycle
	// ended at or before now.
	ListDueForRollover(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// GateEventPublisher delivers gate analytics events.
type GateEventPublisher interface {
	PublishGateEvent(ctx context.Context, event GateEvent) error
}

// AccessMetrics records access decisions for operational dashboards.
type AccessMetrics interface {
	RecordDecision(ctx context.Context, feature Feature, status AccessStatus)
}

// PaymentProvider is the external payment collaborator. Confirmation arrives
// asynchronously through its webhooks.
type PaymentProvider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
}
