package entitlement

import (
	"fmt"

	"flui/internal/billing"
	"flui/internal/types"
)

// Prompt is the upgrade modal payload produced for a denial.
type Prompt struct {
	Context        types.GateContext     `json:"context"`
	Group          types.FeatureGroup    `json:"group"`
	Message        types.GateMessage     `json:"message"`
	UpgradeTo      *types.PlanTier       `json:"upgradeTo,omitempty"`
	CreditPackages []types.CreditPackage `json:"creditPackages,omitempty"`
}

// TriggerFor classifies a denial. Granted verdicts have no trigger.
func TriggerFor(feature types.Feature, status types.AccessStatus) (types.TriggerType, error) {
	switch status {
	case types.AccessDeniedLimit:
		return types.TriggerLimit, nil
	case types.AccessDeniedStructural:
		kind, ok := KindOf(feature)
		if !ok {
			return types.TriggerFeature, nil
		}
		switch kind.(type) {
		case BooleanFeature:
			return types.TriggerFeature, nil
		case StructuralCap:
			return types.TriggerScale, nil
		case ConsumptionBudget:
			return types.TriggerLimit, nil
		default:
			panic(fmt.Sprintf("entitlement: unhandled feature kind %T", kind))
		}
	default:
		return "", types.NewAppErrorWithDetails(
			types.ErrCodeInternalUnexpected,
			"gate context requested for a granted verdict",
			nil,
			map[string]any{"feature": string(feature), "status": string(status)},
		)
	}
}

// BuildGateContext packages denial metadata for display. requiredCredits is
// only meaningful for consumption denials and may be nil.
func BuildGateContext(feature types.Feature, trigger types.TriggerType, tier types.PlanTier, requiredCredits *int) types.GateContext {
	ctx := types.GateContext{
		Feature:     feature,
		TriggerType: trigger,
		CurrentPlan: tier,
	}
	if requiredCredits != nil {
		c := *requiredCredits
		ctx.RequiredCredits = &c
	}
	return ctx
}

// PromptBuilder assembles the full upgrade prompt for a denial.
type PromptBuilder struct {
	messages *MessageBundle
	packages *billing.PackageCatalog
	locale   string
}

// NewPromptBuilder creates a PromptBuilder. An empty locale uses the bundle default.
func NewPromptBuilder(messages *MessageBundle, packages *billing.PackageCatalog, locale string) *PromptBuilder {
	if locale == "" {
		locale = messages.DefaultLocale()
	}
	return &PromptBuilder{
		messages: messages,
		packages: packages,
		locale:   locale,
	}
}

// Build returns the prompt for a denied verdict.
//
// The next tier above the current one is recommended for upgrade. Credit packs
// are offered on every denial of a paying tier.
func (b *PromptBuilder) Build(feature types.Feature, status types.AccessStatus, tier types.PlanTier, cost int) (*Prompt, error) {
	trigger, err := TriggerFor(feature, status)
	if err != nil {
		return nil, err
	}

	var required *int
	if trigger == types.TriggerLimit && cost > 0 {
		required = &cost
	}
	gateCtx := BuildGateContext(feature, trigger, tier, required)

	group, ok := GroupOf(feature)
	if !ok {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeInternalUnknownFeature,
			"no gate copy for feature",
			nil,
			map[string]any{"feature": string(feature)},
		)
	}

	msg, ok := b.messages.Lookup(b.locale, group, tier)
	if !ok {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeInternalUnexpected,
			"gate copy missing for group",
			nil,
			map[string]any{"group": string(group), "locale": b.locale},
		)
	}

	prompt := &Prompt{
		Context: gateCtx,
		Group:   group,
		Message: msg,
	}
	if next, ok := billing.NextTier(tier); ok {
		prompt.UpgradeTo = &next
	}
	if offersCreditPacks(gateCtx) {
		prompt.CreditPackages = b.packages.Packages()
	}
	return prompt, nil
}

// offersCreditPacks reports whether the prompt lists top-ups. The free plan
// is steered to an upgrade instead.
func offersCreditPacks(ctx types.GateContext) bool {
	return ctx.CurrentPlan != types.PlanFree
}
