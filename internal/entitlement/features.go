// Package entitlement decides whether an account may use a gated feature,
// applies the ledger effects of granted actions and purchases, and builds
// the upgrade prompt shown after a denial.
package entitlement

import (
	"sort"

	"flui/internal/types"
)

// FeatureKind is the closed set of entitlement shapes. Every switch over a
// FeatureKind handles BooleanFeature, StructuralCap and ConsumptionBudget and
// panics in the default branch.
type FeatureKind interface {
	featureKind()
}

// BooleanFeature is unconditionally on or off for a tier.
type BooleanFeature struct {
	Flag func(types.PlanLimits) bool
}

// StructuralCap bounds the number of live resources of one kind.
// Counter returns a pointer into the ledger so commits can mutate a copy.
type StructuralCap struct {
	Limit   func(types.PlanLimits) int
	Counter func(*types.UsageLedger) *int
}

// ConsumptionBudget spends credits from the monthly allotment first and the
// extra balance second.
type ConsumptionBudget struct{}

func (BooleanFeature) featureKind()    {}
func (StructuralCap) featureKind()     {}
func (ConsumptionBudget) featureKind() {}

var featureKinds = map[types.Feature]FeatureKind{
	types.FeatureAllowAdvancedInsights: BooleanFeature{
		Flag: func(l types.PlanLimits) bool { return l.AllowAdvancedInsights },
	},
	types.FeatureAllowAllFrameworks: BooleanFeature{
		Flag: func(l types.PlanLimits) bool { return l.AllowAllFrameworks },
	},
	types.FeatureMaxSessions: StructuralCap{
		Limit:   func(l types.PlanLimits) int { return l.MaxSessions },
		Counter: func(l *types.UsageLedger) *int { return &l.CurrentSessions },
	},
	types.FeatureMaxPulseSources: StructuralCap{
		Limit:   func(l types.PlanLimits) int { return l.MaxPulseSources },
		Counter: func(l *types.UsageLedger) *int { return &l.PulseSources },
	},
	types.FeatureMonthlyCredits: ConsumptionBudget{},
}

var featureGroups = map[types.Feature]types.FeatureGroup{
	types.FeatureMaxSessions:           types.GroupSessions,
	types.FeatureMonthlyCredits:        types.GroupCredits,
	types.FeatureAllowAdvancedInsights: types.GroupInsights,
	types.FeatureAllowAllFrameworks:    types.GroupFrameworks,
	types.FeatureMaxPulseSources:       types.GroupPulse,
}

// KindOf returns the entitlement shape of a feature.
func KindOf(feature types.Feature) (FeatureKind, bool) {
	kind, ok := featureKinds[feature]
	return kind, ok
}

// GroupOf returns the gate copy group of a feature.
func GroupOf(feature types.Feature) (types.FeatureGroup, bool) {
	group, ok := featureGroups[feature]
	return group, ok
}

// Features lists every modeled feature, sorted by name.
func Features() []types.Feature {
	out := make([]types.Feature, 0, len(featureKinds))
	for f := range featureKinds {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
