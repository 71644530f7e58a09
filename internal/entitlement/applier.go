package entitlement

import (
	"fmt"
	"math"

	"flui/internal/billing"
	"flui/internal/types"
)

// Applier computes the ledger effect of granted verdicts, purchases and cycle
// rollovers. Every method takes the ledger by value and returns the new
// ledger; the input is never modified.
type Applier struct {
	plans billing.PlanRegistry
}

// NewApplier creates an Applier backed by the plan catalog.
func NewApplier(plans billing.PlanRegistry) *Applier {
	return &Applier{plans: plans}
}

// Commit records the consequence of acting on a granted verdict.
//
// Consumption grants spend cost from the monthly allotment or the extra
// balance, according to the verdict. Structural cap grants add one live unit.
// Boolean grants have nothing to spend. Committing a denied verdict fails with
// ErrCodeInternalCommitDenied. A commit that would overdraw a budget fails
// with ErrCodeInternalInsufficientBalance.
func (a *Applier) Commit(ledger types.UsageLedger, feature types.Feature, verdict types.AccessStatus, cost int) (types.UsageLedger, error) {
	if !verdict.Granted() {
		return ledger, types.NewAppErrorWithDetails(
			types.ErrCodeInternalCommitDenied,
			"cannot commit a denied verdict",
			nil,
			map[string]any{"feature": string(feature), "verdict": string(verdict)},
		)
	}
	if cost < 0 {
		return ledger, types.NewAppError(types.ErrCodeValidationInvalidCost, "cost must not be negative", nil)
	}

	kind, ok := KindOf(feature)
	if !ok {
		// Only reachable under FailOpen; there is no counter to move.
		return ledger, nil
	}

	switch k := kind.(type) {
	case BooleanFeature:
		return ledger, nil

	case StructuralCap:
		if verdict != types.AccessGrantedMonthly {
			return ledger, verdictMismatch(feature, verdict)
		}
		*k.Counter(&ledger)++
		return ledger, nil

	case ConsumptionBudget:
		switch verdict {
		case types.AccessGrantedMonthly:
			if cost > ledger.MonthlyRemaining() {
				return ledger, insufficientBalance("monthly allotment", ledger.MonthlyRemaining(), cost)
			}
			ledger.MonthlyUsageCount += cost
		case types.AccessGrantedExtra:
			if cost > ledger.ExtraCreditsBalance {
				return ledger, insufficientBalance("extra credits", ledger.ExtraCreditsBalance, cost)
			}
			ledger.ExtraCreditsBalance -= cost
		}
		return ledger, nil

	default:
		panic(fmt.Sprintf("entitlement: unhandled feature kind %T", kind))
	}
}

// Refund reverses a previous Commit of the same feature, verdict and cost.
// Counters never go below zero: a monthly refund issued after a rollover has
// nothing left to return.
func (a *Applier) Refund(ledger types.UsageLedger, feature types.Feature, verdict types.AccessStatus, cost int) (types.UsageLedger, error) {
	if !verdict.Granted() {
		return ledger, types.NewAppError(types.ErrCodeInternalCommitDenied, "cannot refund a denied verdict", nil)
	}
	if cost < 0 {
		return ledger, types.NewAppError(types.ErrCodeValidationInvalidCost, "cost must not be negative", nil)
	}

	kind, ok := KindOf(feature)
	if !ok {
		return ledger, nil
	}

	switch k := kind.(type) {
	case BooleanFeature:
		return ledger, nil

	case StructuralCap:
		if c := k.Counter(&ledger); *c > 0 {
			*c--
		}
		return ledger, nil

	case ConsumptionBudget:
		switch verdict {
		case types.AccessGrantedMonthly:
			ledger.MonthlyUsageCount = max(ledger.MonthlyUsageCount-cost, 0)
		case types.AccessGrantedExtra:
			if cost > math.MaxInt-ledger.ExtraCreditsBalance {
				return ledger, types.NewAppErrorWithDetails(
					types.ErrCodeValidationInvalidCost,
					"refund would overflow the extra credits balance",
					nil,
					map[string]any{"balance": ledger.ExtraCreditsBalance, "cost": cost},
				)
			}
			ledger.ExtraCreditsBalance += cost
		}
		return ledger, nil

	default:
		panic(fmt.Sprintf("entitlement: unhandled feature kind %T", kind))
	}
}

// Release frees one live unit of a structural cap, e.g. when a Session is
// closed or a Pulse source removed.
func (a *Applier) Release(ledger types.UsageLedger, feature types.Feature) (types.UsageLedger, error) {
	kind, ok := KindOf(feature)
	if !ok {
		return ledger, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidFeature,
			"feature is not modeled by the plan catalog",
			nil,
			map[string]any{"feature": string(feature)},
		)
	}

	capKind, ok := kind.(StructuralCap)
	if !ok {
		return ledger, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidFeature,
			"only structural caps hold releasable units",
			nil,
			map[string]any{"feature": string(feature)},
		)
	}

	counter := capKind.Counter(&ledger)
	if *counter == 0 {
		return ledger, types.NewAppErrorWithDetails(
			types.ErrCodeConflictConcurrent,
			"no active units to release",
			nil,
			map[string]any{"feature": string(feature)},
		)
	}
	*counter--
	return ledger, nil
}

// ApplyPurchase credits a confirmed pack to the non-expiring balance. The
// balance saturates at math.MaxInt.
func (a *Applier) ApplyPurchase(ledger types.UsageLedger, pkg types.CreditPackage) types.UsageLedger {
	credits := max(pkg.Credits, 0)
	if credits > math.MaxInt-ledger.ExtraCreditsBalance {
		ledger.ExtraCreditsBalance = math.MaxInt
		return ledger
	}
	ledger.ExtraCreditsBalance += credits
	return ledger
}

// RolloverCycle starts a new billing cycle on newTier. Only the monthly budget
// is reset; extra credits and live resource counters carry over.
func (a *Applier) RolloverCycle(ledger types.UsageLedger, newTier types.PlanTier) types.UsageLedger {
	ledger.MonthlyUsageCount = 0
	ledger.MonthlyLimit = a.plans.GetLimits(newTier).MonthlyCredits
	return ledger
}

func insufficientBalance(budget string, available, cost int) error {
	return types.NewAppErrorWithDetails(
		types.ErrCodeInternalInsufficientBalance,
		"commit would overdraw the "+budget,
		nil,
		map[string]any{"available": available, "cost": cost},
	)
}

func verdictMismatch(feature types.Feature, verdict types.AccessStatus) error {
	return types.NewAppErrorWithDetails(
		types.ErrCodeInternalUnexpected,
		"verdict does not apply to feature",
		nil,
		map[string]any{"feature": string(feature), "verdict": string(verdict)},
	)
}
