package types

// PlanTier identifies the subscription level of an account.
type PlanTier string

const (
	PlanFree   PlanTier = "FREE"
	PlanGrowth PlanTier = "GROWTH"
	PlanPro    PlanTier = "PRO"
)

// AllPlanTiers lists every tier in ascending order.
var AllPlanTiers = []PlanTier{PlanFree, PlanGrowth, PlanPro}

// IsValid reports whether t is one of the enumerated tiers.
func (t PlanTier) IsValid() bool {
	switch t {
	case PlanFree, PlanGrowth, PlanPro:
		return true
	}
	return false
}

// Rank returns the position of the tier in the upgrade ladder, or -1 for
// an unknown tier.
func (t PlanTier) Rank() int {
	for i, tier := range AllPlanTiers {
		if tier == t {
			return i
		}
	}
	return -1
}

// SupportLevel describes the support channel included in a plan.
type SupportLevel string

const (
	SupportCommunity SupportLevel = "community"
	SupportEmail     SupportLevel = "email"
	SupportPriority  SupportLevel = "priority"
)

// AccessStatus is the verdict returned by the entitlement resolver.
type AccessStatus string

const (
	AccessGrantedMonthly   AccessStatus = "GRANTED_MONTHLY"
	AccessGrantedExtra     AccessStatus = "GRANTED_EXTRA"
	AccessDeniedLimit      AccessStatus = "DENIED_LIMIT"
	AccessDeniedStructural AccessStatus = "DENIED_STRUCTURAL"
)

// Granted reports whether the verdict permits the gated action.
func (s AccessStatus) Granted() bool {
	return s == AccessGrantedMonthly || s == AccessGrantedExtra
}

// Feature is a PlanLimits key that can be gated.
type Feature string

const (
	FeatureMaxSessions           Feature = "maxSessions"
	FeatureMonthlyCredits        Feature = "monthlyCredits"
	FeatureMaxPulseSources       Feature = "maxPulseSources"
	FeatureAllowAdvancedInsights Feature = "allowAdvancedInsights"
	FeatureAllowAllFrameworks    Feature = "allowAllFrameworks"
)

// TriggerType classifies why a gate prompt was raised.
type TriggerType string

const (
	// TriggerLimit means a consumption budget ran out.
	TriggerLimit TriggerType = "LIMIT"
	// TriggerFeature means a boolean feature is not part of the plan.
	TriggerFeature TriggerType = "FEATURE"
	// TriggerScale means a structural cap was reached.
	TriggerScale TriggerType = "SCALE"
)

// FeatureGroup is the coarse grouping used to select gate copy.
type FeatureGroup string

const (
	GroupSessions   FeatureGroup = "SESSIONS"
	GroupCredits    FeatureGroup = "CREDITS"
	GroupInsights   FeatureGroup = "INSIGHTS"
	GroupFrameworks FeatureGroup = "FRAMEWORKS"
	GroupPulse      FeatureGroup = "PULSE"
)

// CreditAction names a billable action with a fixed credit cost.
type CreditAction string

const (
	ActionAIGeneration    CreditAction = "AI_GENERATION"
	ActionPulseTracking   CreditAction = "PULSE_TRACKING"
	ActionFrameworkAccess CreditAction = "FRAMEWORK_ACCESS"
	ActionDiagnosis       CreditAction = "DIAGNOSIS"
	ActionPost            CreditAction = "POST"
	ActionCarousel        CreditAction = "CAROUSEL"
)

// GateEventType identifies an analytics event emitted by the gate flow.
type GateEventType string

const (
	GateEventTriggered       GateEventType = "gate_triggered"
	GateEventUpgradeClicked  GateEventType = "upgrade_clicked"
	GateEventPurchaseAttempt GateEventType = "credits_purchased_attempt"
	GateEventDismissed       GateEventType = "gate_dismissed"
)

// PurchaseKind distinguishes checkout sessions created by the billing flow.
type PurchaseKind string

const (
	PurchaseKindCreditPack PurchaseKind = "credit_pack"
	PurchaseKindUpgrade    PurchaseKind = "upgrade"
)
