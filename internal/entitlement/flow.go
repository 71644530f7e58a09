package entitlement

import (
	"time"

	"github.com/google/uuid"

	"flui/internal/types"
)

// FlowState is a state of the gate/upgrade flow.
type FlowState string

const (
	FlowIdle              FlowState = "idle"
	FlowPromptShown       FlowState = "prompt_shown"
	FlowUpgradeConfirmed  FlowState = "upgrade_confirmed"
	FlowPurchaseConfirmed FlowState = "purchase_confirmed"
	FlowDismissed         FlowState = "dismissed"
)

// GateFlow tracks one gate prompt from denial to resolution:
//
//	Idle -> PromptShown -> UpgradeConfirmed | PurchaseConfirmed | Dismissed -> Idle
//
// Each transition returns the analytics event describing it. The flow is
// not safe for concurrent use and is never persisted; HTTP handlers rebuild
// it per request with ResumeFlow.
type GateFlow struct {
	accountID string
	state     FlowState
	ctx       *types.GateContext
	now       func() time.Time
}

// NewGateFlow returns an idle flow for an account.
func NewGateFlow(accountID string) *GateFlow {
	return &GateFlow{
		accountID: accountID,
		state:     FlowIdle,
		now:       time.Now,
	}
}

// ResumeFlow rebuilds a flow whose prompt is already on screen.
func ResumeFlow(accountID string, gateCtx types.GateContext) *GateFlow {
	f := NewGateFlow(accountID)
	f.state = FlowPromptShown
	f.ctx = &gateCtx
	return f
}

// State returns the current state.
func (f *GateFlow) State() FlowState {
	return f.state
}

// Context returns the active gate context, or nil when idle.
func (f *GateFlow) Context() *types.GateContext {
	return f.ctx
}

// Show moves Idle -> PromptShown.
func (f *GateFlow) Show(gateCtx types.GateContext) (types.GateEvent, error) {
	if err := f.expect(FlowIdle, FlowPromptShown); err != nil {
		return types.GateEvent{}, err
	}
	f.ctx = &gateCtx
	f.state = FlowPromptShown
	return f.event(types.GateEventTriggered), nil
}

// ConfirmUpgrade moves PromptShown -> UpgradeConfirmed. The target must be
// above the plan the prompt was raised on.
func (f *GateFlow) ConfirmUpgrade(target types.PlanTier) (types.GateEvent, error) {
	if err := f.expect(FlowPromptShown, FlowUpgradeConfirmed); err != nil {
		return types.GateEvent{}, err
	}
	if !target.IsValid() {
		return types.GateEvent{}, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidTier, "unknown plan tier", nil,
			map[string]any{"tier": string(target)},
		)
	}
	if target.Rank() <= f.ctx.CurrentPlan.Rank() {
		return types.GateEvent{}, types.NewAppErrorWithDetails(
			types.ErrCodePermissionDowngrade,
			"upgrade target must be above the current plan",
			nil,
			map[string]any{"current": string(f.ctx.CurrentPlan), "target": string(target)},
		)
	}

	f.state = FlowUpgradeConfirmed
	ev := f.event(types.GateEventUpgradeClicked)
	ev.TargetTier = target
	return ev, nil
}

// ConfirmPurchase moves PromptShown -> PurchaseConfirmed. Top-ups are sold
// to paying tiers only.
func (f *GateFlow) ConfirmPurchase(pkg types.CreditPackage) (types.GateEvent, error) {
	if err := f.expect(FlowPromptShown, FlowPurchaseConfirmed); err != nil {
		return types.GateEvent{}, err
	}
	if f.ctx.CurrentPlan == types.PlanFree {
		return types.GateEvent{}, types.NewAppErrorWithDetails(
			types.ErrCodeConflictGateTransition,
			"credit packs are not offered on the free plan",
			nil,
			map[string]any{"package_id": pkg.ID},
		)
	}

	f.state = FlowPurchaseConfirmed
	ev := f.event(types.GateEventPurchaseAttempt)
	ev.PackageID = pkg.ID
	return ev, nil
}

// Dismiss moves PromptShown -> Dismissed without touching the ledger.
func (f *GateFlow) Dismiss() (types.GateEvent, error) {
	if err := f.expect(FlowPromptShown, FlowDismissed); err != nil {
		return types.GateEvent{}, err
	}
	f.state = FlowDismissed
	return f.event(types.GateEventDismissed), nil
}

// Complete returns a terminal flow to Idle and discards the gate context.
func (f *GateFlow) Complete() error {
	switch f.state {
	case FlowUpgradeConfirmed, FlowPurchaseConfirmed, FlowDismissed:
		f.state = FlowIdle
		f.ctx = nil
		return nil
	default:
		return f.transitionError(FlowIdle)
	}
}

func (f *GateFlow) expect(from, to FlowState) error {
	if f.state != from {
		return f.transitionError(to)
	}
	return nil
}

func (f *GateFlow) transitionError(to FlowState) error {
	return types.NewAppErrorWithDetails(
		types.ErrCodeConflictGateTransition,
		"illegal gate flow transition",
		nil,
		map[string]any{"from": string(f.state), "to": string(to)},
	)
}

func (f *GateFlow) event(t types.GateEventType) types.GateEvent {
	ev := types.GateEvent{
		ID:         uuid.NewString(),
		Type:       t,
		AccountID:  f.accountID,
		OccurredAt: f.now().UTC(),
	}
	if f.ctx != nil {
		ev.Context = *f.ctx
	}
	return ev
}
