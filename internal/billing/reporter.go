package billing

import (
	"context"
	"time"

	"flui/internal/types"
)

// DefaultHighUsageThreshold is the fraction of the monthly allotment above
// which the usage banner warns the user.
const DefaultHighUsageThreshold = 0.8

// AccountLookup provides the minimal account data needed for usage reporting.
// This is a focused interface to avoid depending on the full LedgerRepository.
type AccountLookup interface {
	Get(ctx context.Context, accountID string) (*types.Account, error)
}

// CapUsage reports a structural counter against its plan cap.
type CapUsage struct {
	Used  int `json:"used"`
	Limit int `json:"limit"`
}

// CreditUsage is the monthly budget state rendered by the usage banner.
type CreditUsage struct {
	Used           int     `json:"used"`
	Limit          int     `json:"limit"`
	Remaining      int     `json:"remaining"`
	Percentage     float64 `json:"percentage"`
	Extra          int     `json:"extra"`
	TotalAvailable int     `json:"totalAvailable"`
	HighUsage      bool    `json:"highUsage"`
}

// UsageSnapshot is the current-cycle view of an account against its plan.
type UsageSnapshot struct {
	AccountID    string           `json:"accountId"`
	Tier         types.PlanTier   `json:"tier"`
	Limits       types.PlanLimits `json:"limits"`
	Credits      CreditUsage      `json:"credits"`
	Sessions     CapUsage         `json:"sessions"`
	PulseSources CapUsage         `json:"pulseSources"`
	CycleEndsAt  time.Time        `json:"cycleEndsAt"`
}

// Summarize builds the credit banner for a ledger. Percentage is capped at
// 100 and HighUsage is set once usage passes threshold of the monthly limit.
func Summarize(ledger types.UsageLedger, threshold float64) CreditUsage {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultHighUsageThreshold
	}

	usage := CreditUsage{
		Used:           ledger.MonthlyUsageCount,
		Limit:          ledger.MonthlyLimit,
		Remaining:      ledger.MonthlyRemaining(),
		Extra:          ledger.ExtraCreditsBalance,
		TotalAvailable: ledger.MonthlyRemaining() + ledger.ExtraCreditsBalance,
	}

	if ledger.MonthlyLimit > 0 {
		pct := float64(ledger.MonthlyUsageCount) / float64(ledger.MonthlyLimit) * 100
		if pct > 100 {
			pct = 100
		}
		usage.Percentage = pct
		usage.HighUsage = float64(ledger.MonthlyUsageCount) > float64(ledger.MonthlyLimit)*threshold
	} else if ledger.MonthlyUsageCount > 0 {
		usage.Percentage = 100
		usage.HighUsage = true
	}

	return usage
}

// UsageReporter builds usage snapshots for the dashboard banner.
type UsageReporter struct {
	accounts  AccountLookup
	plans     PlanRegistry
	threshold float64
}

// NewUsageReporter creates a UsageReporter. A threshold outside (0, 1]
// falls back to DefaultHighUsageThreshold.
func NewUsageReporter(accounts AccountLookup, plans PlanRegistry, threshold float64) *UsageReporter {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultHighUsageThreshold
	}
	return &UsageReporter{
		accounts:  accounts,
		plans:     plans,
		threshold: threshold,
	}
}

// GetCurrentUsage returns a snapshot of the account's usage for the current cycle.
//
//  1. Load the account (unlocked snapshot; the banner tolerates staleness).
//  2. Resolve the plan limits for its tier.
//  3. Build credit, session and pulse-source usage.
func (r *UsageReporter) GetCurrentUsage(ctx context.Context, accountID string) (*UsageSnapshot, error) {
	account, err := r.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}

	limits, err := r.plans.Lookup(account.Tier)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "account has an unknown plan tier", err)
	}

	return &UsageSnapshot{
		AccountID: account.ID,
		Tier:      account.Tier,
		Limits:    limits,
		Credits:   Summarize(account.Ledger, r.threshold),
		Sessions: CapUsage{
			Used:  account.Ledger.CurrentSessions,
			Limit: limits.MaxSessions,
		},
		PulseSources: CapUsage{
			Used:  account.Ledger.PulseSources,
			Limit: limits.MaxPulseSources,
		},
		CycleEndsAt: account.CycleEndsAt,
	}, nil
}
