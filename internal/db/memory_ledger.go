package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"flui/internal/types"
)

// MemoryStore is a process-local LedgerRepository. Each account has its own
// mutex so WithAccountLock serializes per account like the SQL stores do.
type MemoryStore struct {
	mu        sync.Mutex
	accounts  map[string]*types.Account
	locks     map[string]*sync.Mutex
	purchases map[string]types.CreditPurchase // keyed by payment_ref
	renewals  map[string]types.CycleRenewal   // keyed by invoice_ref
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[string]*types.Account),
		locks:     make(map[string]*sync.Mutex),
		purchases: make(map[string]types.CreditPurchase),
		renewals:  make(map[string]types.CycleRenewal),
	}
}

// Create implements types.LedgerRepository.
func (s *MemoryStore) Create(_ context.Context, account *types.Account) error {
	if err := account.Ledger.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[account.ID]; ok {
		return accountExists(account.ID)
	}
	cp := *account
	s.accounts[account.ID] = &cp
	s.locks[account.ID] = &sync.Mutex{}
	return nil
}

// Get implements types.LedgerRepository.
func (s *MemoryStore) Get(_ context.Context, accountID string) (*types.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return nil, accountNotFound(accountID)
	}
	cp := *a
	return &cp, nil
}

// WithAccountLock implements types.LedgerRepository. Writes made through tx
// are staged and applied only when fn returns nil.
func (s *MemoryStore) WithAccountLock(ctx context.Context, accountID string, fn func(ctx context.Context, account *types.Account, tx types.LedgerTx) error) error {
	s.mu.Lock()
	lock, ok := s.locks[accountID]
	s.mu.Unlock()
	if !ok {
		return accountNotFound(accountID)
	}

	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	account, err := s.Get(ctx, accountID)
	if err != nil {
		return err
	}

	tx := &memoryTx{store: s}
	if err := fn(ctx, account, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range tx.purchases {
		s.purchases[p.PaymentRef] = p
	}
	for _, r := range tx.renewals {
		s.renewals[r.InvoiceRef] = r
	}
	if tx.saved != nil {
		s.accounts[accountID] = tx.saved
	}
	return nil
}

// ListDueForRollover implements types.LedgerRepository.
func (s *MemoryStore) ListDueForRollover(_ context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	due := make([]*types.Account, 0)
	for _, a := range s.accounts {
		if !a.CycleEndsAt.After(now) {
			due = append(due, a)
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].CycleEndsAt.Equal(due[j].CycleEndsAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].CycleEndsAt.Before(due[j].CycleEndsAt)
	})

	ids := make([]string, 0, min(limit, len(due)))
	for _, a := range due {
		if len(ids) == limit {
			break
		}
		ids = append(ids, a.ID)
	}
	return ids, nil
}

// Purchases returns the recorded purchases of an account, oldest first.
func (s *MemoryStore) Purchases(accountID string) []types.CreditPurchase {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.CreditPurchase
	for _, p := range s.purchases {
		if p.AccountID == accountID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() {}

type memoryTx struct {
	store     *MemoryStore
	saved     *types.Account
	purchases []types.CreditPurchase
	renewals  []types.CycleRenewal
}

func (t *memoryTx) Save(_ context.Context, account *types.Account) error {
	if err := account.Ledger.Validate(); err != nil {
		return err
	}
	cp := *account
	t.saved = &cp
	return nil
}

func (t *memoryTx) RecordPurchase(_ context.Context, p types.CreditPurchase) (bool, error) {
	t.store.mu.Lock()
	_, dup := t.store.purchases[p.PaymentRef]
	t.store.mu.Unlock()
	if dup {
		return false, nil
	}
	for _, staged := range t.purchases {
		if staged.PaymentRef == p.PaymentRef {
			return false, nil
		}
	}
	t.purchases = append(t.purchases, p)
	return true, nil
}

func (t *memoryTx) RecordRenewal(_ context.Context, r types.CycleRenewal) (bool, error) {
	t.store.mu.Lock()
	_, dup := t.store.renewals[r.InvoiceRef]
	t.store.mu.Unlock()
	if dup {
		return false, nil
	}
	for _, staged := range t.renewals {
		if staged.InvoiceRef == r.InvoiceRef {
			return false, nil
		}
	}
	t.renewals = append(t.renewals, r)
	return true, nil
}
