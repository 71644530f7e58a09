package entitlement

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"flui/internal/billing"
	"flui/internal/types"
)

// Decision is the outcome of a check or a consume call.
type Decision struct {
	AccountID string             `json:"accountId"`
	Feature   types.Feature      `json:"feature"`
	Status    types.AccessStatus `json:"status"`
	Cost      int                `json:"cost"`
	Tier      types.PlanTier     `json:"tier"`
	Ledger    types.UsageLedger  `json:"ledger"`
	Committed bool               `json:"committed"`
	Prompt    *Prompt            `json:"prompt,omitempty"`
}

// Granted reports whether the action may proceed.
func (d *Decision) Granted() bool {
	return d.Status.Granted()
}

// Err returns the user-facing denial error, or nil for a granted decision.
func (d *Decision) Err() error {
	details := map[string]any{"feature": string(d.Feature), "status": string(d.Status)}
	if d.Prompt != nil {
		details["gate"] = d.Prompt
	}
	switch d.Status {
	case types.AccessDeniedStructural:
		return types.NewAppErrorWithDetails(types.ErrCodePermissionDeniedStructural,
			"feature is not available on the current plan", nil, details)
	case types.AccessDeniedLimit:
		return types.NewAppErrorWithDetails(types.ErrCodeLimitCreditsExhausted,
			"not enough credits for this action", nil, details)
	default:
		return nil
	}
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

// WithEventPublisher sends gate analytics events through p.
func WithEventPublisher(p types.GateEventPublisher) ServiceOption {
	return func(s *Service) { s.events = p }
}

// WithMetrics records every access decision through m.
func WithMetrics(m types.AccessMetrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithPaymentProvider enables the request phase of purchases and upgrades.
func WithPaymentProvider(p types.PaymentProvider) ServiceOption {
	return func(s *Service) { s.payments = p }
}

// WithCycleMonths sets the billing cycle length. Values below one mean one.
func WithCycleMonths(n int) ServiceOption {
	return func(s *Service) { s.cycleMonths = max(n, 1) }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// Service runs the engine against persisted ledgers. Check-then-commit for
// one account always happens inside a single WithAccountLock call; nothing
// slow (payment calls, event publishing) runs while the lock is held.
type Service struct {
	repo     types.LedgerRepository
	plans    billing.PlanRegistry
	packages *billing.PackageCatalog
	resolver *Resolver
	applier  *Applier
	prompts  *PromptBuilder
	events   types.GateEventPublisher
	metrics  types.AccessMetrics
	payments types.PaymentProvider
	logger   *slog.Logger
	now      func() time.Time

	cycleMonths int
}

// NewService wires the engine components to a ledger repository.
func NewService(
	repo types.LedgerRepository,
	plans billing.PlanRegistry,
	packages *billing.PackageCatalog,
	resolver *Resolver,
	prompts *PromptBuilder,
	logger *slog.Logger,
	opts ...ServiceOption,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:     repo,
		plans:    plans,
		packages: packages,
		resolver: resolver,
		applier:  NewApplier(plans),
		prompts:  prompts,
		logger:   logger,
		now:      time.Now,

		cycleMonths: 1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Account returns an unlocked snapshot of an account.
func (s *Service) Account(ctx context.Context, accountID string) (*types.Account, error) {
	return s.repo.Get(ctx, accountID)
}

// Provision creates an account on tier with an empty ledger and a monthly
// allotment taken from the catalog.
func (s *Service) Provision(ctx context.Context, accountID string, tier types.PlanTier) (*types.Account, error) {
	limits, err := s.plans.Lookup(tier)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	account := &types.Account{
		ID:   accountID,
		Tier: tier,
		Ledger: types.UsageLedger{
			MonthlyLimit: limits.MonthlyCredits,
		},
		CycleStartedAt: now,
		CycleEndsAt:    s.cycleEnd(now),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Create(ctx, account); err != nil {
		return nil, err
	}

	s.logger.Info("account provisioned",
		slog.String("account_id", accountID),
		slog.String("tier", string(tier)),
	)
	return account, nil
}

// Check answers "may this account do this?" without spending anything.
// A denial carries the upgrade prompt and emits a gate_triggered event.
func (s *Service) Check(ctx context.Context, accountID string, feature types.Feature, cost int) (*Decision, error) {
	account, err := s.repo.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}

	status, err := s.resolver.CheckAccess(account.Tier, account.Ledger, feature, cost)
	if err != nil {
		return nil, err
	}
	s.recordDecision(ctx, feature, status)

	decision := &Decision{
		AccountID: accountID,
		Feature:   feature,
		Status:    status,
		Cost:      cost,
		Tier:      account.Tier,
		Ledger:    account.Ledger,
	}
	if err := s.attachPrompt(ctx, decision); err != nil {
		return nil, err
	}
	return decision, nil
}

// Consume checks and commits atomically for one account. A denied decision
// is returned with a nil error and an unchanged ledger; callers use
// Decision.Err to surface it.
func (s *Service) Consume(ctx context.Context, accountID string, feature types.Feature, cost int) (*Decision, error) {
	var decision *Decision

	err := s.repo.WithAccountLock(ctx, accountID, func(ctx context.Context, account *types.Account, tx types.LedgerTx) error {
		status, err := s.resolver.CheckAccess(account.Tier, account.Ledger, feature, cost)
		if err != nil {
			return err
		}

		decision = &Decision{
			AccountID: accountID,
			Feature:   feature,
			Status:    status,
			Cost:      cost,
			Tier:      account.Tier,
			Ledger:    account.Ledger,
		}
		if !status.Granted() {
			return nil
		}

		ledger, err := s.applier.Commit(account.Ledger, feature, status, cost)
		if err != nil {
			s.logger.Error("commit rejected after grant",
				slog.String("account_id", accountID),
				slog.String("feature", string(feature)),
				slog.String("status", string(status)),
				slog.Int("cost", cost),
				slog.String("error", err.Error()),
			)
			return err
		}

		account.Ledger = ledger
		account.UpdatedAt = s.now().UTC()
		if err := tx.Save(ctx, account); err != nil {
			return err
		}

		decision.Ledger = ledger
		decision.Committed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordDecision(ctx, feature, decision.Status)
	if err := s.attachPrompt(ctx, decision); err != nil {
		return nil, err
	}
	return decision, nil
}

// Refund compensates a committed consumption whose gated action failed.
func (s *Service) Refund(ctx context.Context, accountID string, feature types.Feature, verdict types.AccessStatus, cost int) (types.UsageLedger, error) {
	return s.mutate(ctx, accountID, "refund", func(account *types.Account) error {
		ledger, err := s.applier.Refund(account.Ledger, feature, verdict, cost)
		if err != nil {
			return err
		}
		account.Ledger = ledger
		return nil
	})
}

// Release frees one unit of a structural cap.
func (s *Service) Release(ctx context.Context, accountID string, feature types.Feature) (types.UsageLedger, error) {
	return s.mutate(ctx, accountID, "release", func(account *types.Account) error {
		ledger, err := s.applier.Release(account.Ledger, feature)
		if err != nil {
			return err
		}
		account.Ledger = ledger
		return nil
	})
}

// ApplyPurchase credits a confirmed pack. Redelivered confirmations with the
// same paymentRef are no-ops and report applied=false.
func (s *Service) ApplyPurchase(ctx context.Context, accountID, packageID, paymentRef string) (applied bool, ledger types.UsageLedger, err error) {
	pkg, err := s.packages.Package(packageID)
	if err != nil {
		return false, types.UsageLedger{}, err
	}

	err = s.repo.WithAccountLock(ctx, accountID, func(ctx context.Context, account *types.Account, tx types.LedgerTx) error {
		ledger = account.Ledger

		now := s.now().UTC()
		inserted, err := tx.RecordPurchase(ctx, types.CreditPurchase{
			ID:         uuid.NewString(),
			AccountID:  accountID,
			PackageID:  pkg.ID,
			Credits:    pkg.Credits,
			PaymentRef: paymentRef,
			CreatedAt:  now,
		})
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}

		account.Ledger = s.applier.ApplyPurchase(account.Ledger, pkg)
		account.UpdatedAt = now
		if err := tx.Save(ctx, account); err != nil {
			return err
		}
		ledger = account.Ledger
		applied = true
		return nil
	})
	if err != nil {
		return false, types.UsageLedger{}, err
	}

	if applied {
		s.logger.Info("credit pack applied",
			slog.String("account_id", accountID),
			slog.String("package_id", pkg.ID),
			slog.Int("credits", pkg.Credits),
			slog.String("payment_ref", paymentRef),
		)
	} else {
		s.logger.Info("duplicate purchase confirmation ignored",
			slog.String("account_id", accountID),
			slog.String("payment_ref", paymentRef),
		)
	}
	return applied, ledger, nil
}

// ChangeTier moves the account to newTier and starts a fresh cycle on it. An
// account already on newTier is returned unchanged, so a redelivered
// confirmation does not restart its cycle.
func (s *Service) ChangeTier(ctx context.Context, accountID string, newTier types.PlanTier) (*types.Account, error) {
	if _, err := s.plans.Lookup(newTier); err != nil {
		return nil, err
	}

	var out types.Account
	err := s.repo.WithAccountLock(ctx, accountID, func(ctx context.Context, account *types.Account, tx types.LedgerTx) error {
		previous := account.Tier
		if previous == newTier {
			out = *account
			s.logger.Info("account already on target tier",
				slog.String("account_id", accountID),
				slog.String("tier", string(newTier)),
			)
			return nil
		}
		s.startCycle(account, newTier, s.now().UTC())
		if err := tx.Save(ctx, account); err != nil {
			return err
		}
		out = *account

		s.logger.Info("plan tier changed",
			slog.String("account_id", accountID),
			slog.String("from", string(previous)),
			slog.String("to", string(newTier)),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// LinkCustomer stores the payment collaborator's customer id so later
// checkouts reuse it. An account that already has one keeps it.
func (s *Service) LinkCustomer(ctx context.Context, accountID, customerID string) error {
	if customerID == "" {
		return nil
	}
	_, err := s.mutate(ctx, accountID, "link customer", func(account *types.Account) error {
		if account.StripeCustomerID == "" {
			account.StripeCustomerID = customerID
		}
		return nil
	})
	return err
}

// RenewCycle handles a paid renewal invoice. Each invoiceRef is honoured
// once, and the budget resets only when the current cycle has ended; a
// renewal that arrives early is left to the scheduled rollover at
// CycleEndsAt. It reports whether the cycle was reset.
func (s *Service) RenewCycle(ctx context.Context, accountID, invoiceRef string) (bool, types.UsageLedger, error) {
	if invoiceRef == "" {
		return false, types.UsageLedger{}, types.NewAppError(types.ErrCodeValidationMissingField, "invoice reference is required", nil)
	}

	now := s.now().UTC()
	renewed := false
	var ledger types.UsageLedger
	err := s.repo.WithAccountLock(ctx, accountID, func(ctx context.Context, account *types.Account, tx types.LedgerTx) error {
		ledger = account.Ledger
		inserted, err := tx.RecordRenewal(ctx, types.CycleRenewal{
			AccountID:  accountID,
			InvoiceRef: invoiceRef,
			Tier:       account.Tier,
			CreatedAt:  now,
		})
		if err != nil || !inserted {
			return err
		}
		if !s.rollDue(account, now) {
			return nil
		}
		if err := tx.Save(ctx, account); err != nil {
			return err
		}
		ledger = account.Ledger
		renewed = true
		return nil
	})
	if err != nil {
		return false, types.UsageLedger{}, err
	}

	s.logger.Info("renewal invoice processed",
		slog.String("account_id", accountID),
		slog.String("invoice_ref", invoiceRef),
		slog.Bool("cycle_reset", renewed),
	)
	return renewed, ledger, nil
}

// RolloverIfDue rolls the account over when its cycle ended at or before
// now. It returns false when the cycle is still running, which makes
// repeated scheduler runs harmless.
func (s *Service) RolloverIfDue(ctx context.Context, accountID string, now time.Time) (bool, error) {
	rolled := false
	err := s.repo.WithAccountLock(ctx, accountID, func(ctx context.Context, account *types.Account, tx types.LedgerTx) error {
		if !s.rollDue(account, now) {
			return nil
		}
		if err := tx.Save(ctx, account); err != nil {
			return err
		}
		rolled = true
		return nil
	})
	return rolled, err
}

// rollDue starts the cycle containing now when the current one has ended.
// Missed boundaries are skipped so the new cycle stays on the old schedule.
func (s *Service) rollDue(account *types.Account, now time.Time) bool {
	if account.CycleEndsAt.After(now) {
		return false
	}
	start := account.CycleEndsAt
	for !s.cycleEnd(start).After(now) {
		start = s.cycleEnd(start)
	}
	s.startCycle(account, account.Tier, start)
	account.UpdatedAt = now
	return true
}

// RequestPurchase is the first phase of a credit pack purchase: it validates
// the gate transition and asks the payment collaborator for a checkout. The
// ledger only changes later, in ApplyPurchase.
func (s *Service) RequestPurchase(ctx context.Context, accountID, packageID string, gateCtx *types.GateContext) (*types.CheckoutSession, error) {
	pkg, err := s.packages.Package(packageID)
	if err != nil {
		return nil, err
	}
	account, err := s.repo.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}

	flow := ResumeFlow(accountID, s.trustedGateContext(gateCtx, account, types.FeatureMonthlyCredits))
	ev, err := flow.ConfirmPurchase(pkg)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, ev)

	session, err := s.checkout(ctx, types.CheckoutRequest{
		AccountID:  accountID,
		Kind:       types.PurchaseKindCreditPack,
		PackageID:  pkg.ID,
		Credits:    pkg.Credits,
		Amount:     int64(pkg.Price) * 100,
		Currency:   pkg.Currency,
		CustomerID: account.StripeCustomerID,
	})
	if err != nil {
		return nil, err
	}
	if err := flow.Complete(); err != nil {
		return nil, err
	}
	return session, nil
}

// RequestUpgrade is the first phase of a tier upgrade. ChangeTier runs once
// the payment collaborator confirms the subscription.
func (s *Service) RequestUpgrade(ctx context.Context, accountID string, target types.PlanTier, gateCtx *types.GateContext) (*types.CheckoutSession, error) {
	account, err := s.repo.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}

	feature := types.FeatureMaxSessions
	if gateCtx != nil {
		feature = gateCtx.Feature
	}
	flow := ResumeFlow(accountID, s.trustedGateContext(gateCtx, account, feature))
	ev, err := flow.ConfirmUpgrade(target)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, ev)

	session, err := s.checkout(ctx, types.CheckoutRequest{
		AccountID:  accountID,
		Kind:       types.PurchaseKindUpgrade,
		TargetTier: target,
		CustomerID: account.StripeCustomerID,
	})
	if err != nil {
		return nil, err
	}
	if err := flow.Complete(); err != nil {
		return nil, err
	}
	return session, nil
}

// DismissGate records that the user closed the prompt. Nothing is mutated.
func (s *Service) DismissGate(ctx context.Context, accountID string, gateCtx types.GateContext) error {
	flow := ResumeFlow(accountID, gateCtx)
	ev, err := flow.Dismiss()
	if err != nil {
		return err
	}
	s.publish(ctx, ev)
	return flow.Complete()
}

// mutate runs a ledger change under the account lock and persists it.
func (s *Service) mutate(ctx context.Context, accountID, op string, fn func(account *types.Account) error) (types.UsageLedger, error) {
	var ledger types.UsageLedger
	err := s.repo.WithAccountLock(ctx, accountID, func(ctx context.Context, account *types.Account, tx types.LedgerTx) error {
		if err := fn(account); err != nil {
			return err
		}
		account.UpdatedAt = s.now().UTC()
		if err := tx.Save(ctx, account); err != nil {
			return err
		}
		ledger = account.Ledger
		return nil
	})
	if err != nil {
		s.logger.Warn("ledger mutation failed",
			slog.String("op", op),
			slog.String("account_id", accountID),
			slog.String("error", err.Error()),
		)
		return types.UsageLedger{}, err
	}
	return ledger, nil
}

func (s *Service) startCycle(account *types.Account, tier types.PlanTier, start time.Time) {
	account.Tier = tier
	account.Ledger = s.applier.RolloverCycle(account.Ledger, tier)
	account.CycleStartedAt = start
	account.CycleEndsAt = s.cycleEnd(start)
	account.UpdatedAt = s.now().UTC()
}

// trustedGateContext replaces client-supplied plan data with the stored tier.
func (s *Service) trustedGateContext(gateCtx *types.GateContext, account *types.Account, fallback types.Feature) types.GateContext {
	if gateCtx == nil {
		trigger := types.TriggerLimit
		if fallback != types.FeatureMonthlyCredits {
			trigger = types.TriggerScale
		}
		return BuildGateContext(fallback, trigger, account.Tier, nil)
	}
	out := *gateCtx
	out.CurrentPlan = account.Tier
	return out
}

func (s *Service) checkout(ctx context.Context, req types.CheckoutRequest) (*types.CheckoutSession, error) {
	if s.payments == nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamUnavailable, "payment provider is not configured", nil)
	}
	return s.payments.CreateCheckoutSession(ctx, req)
}

func (s *Service) attachPrompt(ctx context.Context, d *Decision) error {
	if d.Status.Granted() {
		return nil
	}

	prompt, err := s.prompts.Build(d.Feature, d.Status, d.Tier, d.Cost)
	if err != nil {
		return err
	}
	d.Prompt = prompt

	flow := NewGateFlow(d.AccountID)
	flow.now = s.now
	ev, err := flow.Show(prompt.Context)
	if err != nil {
		return err
	}
	s.publish(ctx, ev)

	s.logger.Info("access denied",
		slog.String("account_id", d.AccountID),
		slog.String("feature", string(d.Feature)),
		slog.String("status", string(d.Status)),
		slog.String("trigger", string(prompt.Context.TriggerType)),
	)
	return nil
}

func (s *Service) publish(ctx context.Context, ev types.GateEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishGateEvent(ctx, ev); err != nil {
		s.logger.Warn("failed to publish gate event",
			slog.String("event_type", string(ev.Type)),
			slog.String("account_id", ev.AccountID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) recordDecision(ctx context.Context, feature types.Feature, status types.AccessStatus) {
	if s.metrics != nil {
		s.metrics.RecordDecision(ctx, feature, status)
	}
}

// cycleEnd returns the end of a cycle starting at start.
func (s *Service) cycleEnd(start time.Time) time.Time {
	return addMonthsClamped(start, s.cycleMonths)
}

// addMonthsClamped adds months to t, clamping the day to the last day of the
// target month: Jan 31 plus one month is Feb 28 (or 29), not Mar 3.
func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()
	lastDay := time.Date(y, m+time.Month(months)+1, 0, 0, 0, 0, 0, t.Location()).Day()
	return time.Date(y, m+time.Month(months), min(d, lastDay), hh, mm, ss, t.Nanosecond(), t.Location())
}
