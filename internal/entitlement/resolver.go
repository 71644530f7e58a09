package entitlement

import (
	"fmt"
	"log/slog"
	"strings"

	"flui/internal/billing"
	"flui/internal/types"
)

// UnknownFeaturePolicy decides the verdict for a feature key the resolver
// does not model.
type UnknownFeaturePolicy string

const (
	// FailClosed denies unknown features and reports ErrCodeInternalUnknownFeature.
	FailClosed UnknownFeaturePolicy = "deny"
	// FailOpen grants unknown features against the monthly plan.
	FailOpen UnknownFeaturePolicy = "allow"
)

// ParseUnknownFeaturePolicy parses a configuration value. Empty means FailClosed.
func ParseUnknownFeaturePolicy(s string) (UnknownFeaturePolicy, error) {
	switch UnknownFeaturePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", FailClosed:
		return FailClosed, nil
	case FailOpen:
		return FailOpen, nil
	default:
		return "", fmt.Errorf("unknown feature policy %q: want %q or %q", s, FailClosed, FailOpen)
	}
}

// Resolver is the pure access decision function. It never mutates a ledger.
type Resolver struct {
	plans  billing.PlanRegistry
	policy UnknownFeaturePolicy
	logger *slog.Logger
}

// NewResolver creates a Resolver. An empty policy means FailClosed.
func NewResolver(plans billing.PlanRegistry, policy UnknownFeaturePolicy, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if policy == "" {
		policy = FailClosed
	}
	return &Resolver{
		plans:  plans,
		policy: policy,
		logger: logger,
	}
}

// Policy returns the configured unknown feature policy.
func (r *Resolver) Policy() UnknownFeaturePolicy {
	return r.policy
}

// CheckAccess returns the verdict for using feature at the given cost.
// Cost is only read for consumption features and must not be negative.
//
// Rules are evaluated by feature kind:
//   - BooleanFeature: plan flag on grants, off denies structurally.
//   - StructuralCap: counter below cap grants one more unit.
//   - ConsumptionBudget: monthly allotment first, then extra credits, else DENIED_LIMIT.
//
// An unknown tier panics; tiers are enumerated statically.
func (r *Resolver) CheckAccess(tier types.PlanTier, ledger types.UsageLedger, feature types.Feature, cost int) (types.AccessStatus, error) {
	if cost < 0 {
		return "", types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidCost,
			"cost must not be negative",
			nil,
			map[string]any{"cost": cost},
		)
	}

	kind, ok := KindOf(feature)
	if !ok {
		return r.unknownFeature(feature)
	}

	limits := r.plans.GetLimits(tier)

	switch k := kind.(type) {
	case BooleanFeature:
		if k.Flag(limits) {
			return types.AccessGrantedMonthly, nil
		}
		return types.AccessDeniedStructural, nil

	case StructuralCap:
		if *k.Counter(&ledger) < k.Limit(limits) {
			return types.AccessGrantedMonthly, nil
		}
		return types.AccessDeniedStructural, nil

	case ConsumptionBudget:
		if cost <= ledger.MonthlyRemaining() {
			return types.AccessGrantedMonthly, nil
		}
		if ledger.ExtraCreditsBalance >= cost {
			return types.AccessGrantedExtra, nil
		}
		return types.AccessDeniedLimit, nil

	default:
		panic(fmt.Sprintf("entitlement: unhandled feature kind %T", kind))
	}
}

func (r *Resolver) unknownFeature(feature types.Feature) (types.AccessStatus, error) {
	switch r.policy {
	case FailOpen:
		r.logger.Warn("granting unmodeled feature",
			slog.String("feature", string(feature)),
			slog.String("policy", string(r.policy)),
		)
		return types.AccessGrantedMonthly, nil
	default:
		return types.AccessDeniedStructural, types.NewAppErrorWithDetails(
			types.ErrCodeInternalUnknownFeature,
			"feature is not modeled by the plan catalog",
			nil,
			map[string]any{"feature": string(feature)},
		)
	}
}
