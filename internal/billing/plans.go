// Package billing holds the static plan catalog, the credit package catalog,
// the per-action cost table and usage reporting.
package billing

import (
	"fmt"

	"flui/internal/types"
)

// PlanRegistry defines the authoritative limits for each tier.
// This is the single source of truth for what each plan allows.
type PlanRegistry interface {
	// GetLimits returns the limits for the given tier. All tiers are
	// enumerated statically, so an unknown tier is a programming error and
	// GetLimits panics.
	GetLimits(tier types.PlanTier) types.PlanLimits

	// Lookup is the non-panicking variant for validating untrusted input.
	Lookup(tier types.PlanTier) (types.PlanLimits, error)

	// Tiers returns every known tier in ascending order.
	Tiers() []types.PlanTier
}

// staticPlanRegistry is a compile-time plan registry backed by an in-memory map.
type staticPlanRegistry struct {
	limits map[types.PlanTier]types.PlanLimits
}

// planDefaults is the plan table shown on the pricing page:
//
//	| Plan   | Sessions | Credits/month | Pulse sources | Insights | Frameworks | Support   |
//	|--------|----------|---------------|---------------|----------|------------|-----------|
//	| FREE   | 1        | 250           | 2             | No       | Basic      | community |
//	| GROWTH | 3        | 1,000         | 10            | Yes      | All        | email     |
//	| PRO    | 100      | 5,000         | 50            | Yes      | All        | priority  |
var planDefaults = map[types.PlanTier]types.PlanLimits{
	types.PlanFree: {
		MaxSessions:           1,
		MonthlyCredits:        250,
		MaxPulseSources:       2,
		AllowAdvancedInsights: false,
		AllowAllFrameworks:    false,
		SupportLevel:          types.SupportCommunity,
	},
	types.PlanGrowth: {
		MaxSessions:           3,
		MonthlyCredits:        1000,
		MaxPulseSources:       10,
		AllowAdvancedInsights: true,
		AllowAllFrameworks:    true,
		SupportLevel:          types.SupportEmail,
	},
	types.PlanPro: {
		MaxSessions:           100,
		MonthlyCredits:        5000,
		MaxPulseSources:       50,
		AllowAdvancedInsights: true,
		AllowAllFrameworks:    true,
		SupportLevel:          types.SupportPriority,
	},
}

// NewStaticPlanRegistry returns a PlanRegistry backed by the hardcoded plan
// table. No database or external service is required.
func NewStaticPlanRegistry() PlanRegistry {
	// Copy the defaults into a new map so callers cannot mutate the package-level variable.
	m := make(map[types.PlanTier]types.PlanLimits, len(planDefaults))
	for k, v := range planDefaults {
		m[k] = v
	}
	return &staticPlanRegistry{limits: m}
}

// GetLimits returns the limits for the given tier and panics on an unknown one.
func (r *staticPlanRegistry) GetLimits(tier types.PlanTier) types.PlanLimits {
	limits, ok := r.limits[tier]
	if !ok {
		panic(fmt.Sprintf("billing: unknown plan tier %q", tier))
	}
	return limits
}

// Lookup returns the limits for the given tier or a validation error.
func (r *staticPlanRegistry) Lookup(tier types.PlanTier) (types.PlanLimits, error) {
	limits, ok := r.limits[tier]
	if !ok {
		return types.PlanLimits{}, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidTier,
			"unknown plan tier",
			nil,
			map[string]any{"tier": string(tier)},
		)
	}
	return limits, nil
}

// Tiers returns the tiers known to the registry in upgrade order.
func (r *staticPlanRegistry) Tiers() []types.PlanTier {
	out := make([]types.PlanTier, 0, len(r.limits))
	for _, tier := range types.AllPlanTiers {
		if _, ok := r.limits[tier]; ok {
			out = append(out, tier)
		}
	}
	return out
}

// NextTier returns the tier directly above current, or false when current is
// already the highest tier.
func NextTier(current types.PlanTier) (types.PlanTier, bool) {
	rank := current.Rank()
	if rank < 0 || rank+1 >= len(types.AllPlanTiers) {
		return "", false
	}
	return types.AllPlanTiers[rank+1], true
}
