package entitlement

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"flui/internal/billing"
	"flui/internal/db"
	"flui/internal/types"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishGateEvent(ctx context.Context, ev types.GateEvent) error {
	return m.Called(ctx, ev).Error(0)
}

func (m *mockPublisher) eventTypes() []types.GateEventType {
	var out []types.GateEventType
	for _, c := range m.Calls {
		out = append(out, c.Arguments.Get(1).(types.GateEvent).Type)
	}
	return out
}

type countingMetrics struct {
	mu    sync.Mutex
	calls map[types.AccessStatus]int
}

func (m *countingMetrics) RecordDecision(_ context.Context, _ types.Feature, status types.AccessStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[types.AccessStatus]int)
	}
	m.calls[status]++
}

type mockPayments struct {
	mock.Mock
}

func (m *mockPayments) CreateCheckoutSession(ctx context.Context, req types.CheckoutRequest) (*types.CheckoutSession, error) {
	args := m.Called(ctx, req)
	if s := args.Get(0); s != nil {
		return s.(*types.CheckoutSession), args.Error(1)
	}
	return nil, args.Error(1)
}

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type serviceFixture struct {
	svc      *Service
	store    *db.MemoryStore
	events   *mockPublisher
	metrics  *countingMetrics
	payments *mockPayments
	clock    time.Time
}

func newServiceFixture(t *testing.T, policy UnknownFeaturePolicy) *serviceFixture {
	t.Helper()
	plans := billing.NewStaticPlanRegistry()
	packages := billing.NewPackageCatalog()
	msgs, err := DefaultMessages()
	require.NoError(t, err)

	f := &serviceFixture{
		store:    db.NewMemoryStore(),
		events:   new(mockPublisher),
		metrics:  &countingMetrics{},
		payments: new(mockPayments),
		clock:    testNow,
	}
	f.events.On("PublishGateEvent", mock.Anything, mock.Anything).Return(nil)

	f.svc = NewService(
		f.store,
		plans,
		packages,
		NewResolver(plans, policy, nil),
		NewPromptBuilder(msgs, packages, ""),
		nil,
		WithEventPublisher(f.events),
		WithMetrics(f.metrics),
		WithPaymentProvider(f.payments),
		WithClock(func() time.Time { return f.clock }),
	)
	return f
}

func (f *serviceFixture) provision(t *testing.T, id string, tier types.PlanTier, ledger types.UsageLedger) {
	t.Helper()
	_, err := f.svc.Provision(context.Background(), id, tier)
	require.NoError(t, err)
	if ledger == (types.UsageLedger{}) {
		return
	}
	err = f.store.WithAccountLock(context.Background(), id, func(ctx context.Context, a *types.Account, tx types.LedgerTx) error {
		a.Ledger = ledger
		return tx.Save(ctx, a)
	})
	require.NoError(t, err)
}

func TestService_Provision(t *testing.T) {
	f := newServiceFixture(t, FailClosed)

	a, err := f.svc.Provision(context.Background(), "acc_1", types.PlanGrowth)
	require.NoError(t, err)
	assert.Equal(t, 1000, a.Ledger.MonthlyLimit)
	assert.Equal(t, testNow, a.CycleStartedAt)
	assert.Equal(t, testNow.AddDate(0, 1, 0), a.CycleEndsAt)

	_, err = f.svc.Provision(context.Background(), "acc_1", types.PlanGrowth)
	assert.True(t, types.IsCode(err, types.ErrCodeConflictAccountExists))

	_, err = f.svc.Provision(context.Background(), "acc_2", "ENTERPRISE")
	assert.True(t, types.IsCode(err, types.ErrCodeValidationInvalidTier))
}

func TestService_ConsumeMonthlyThenExtra(t *testing.T) {
	f := newServiceFixture(t, FailClosed)
	f.provision(t, "acc_1", types.PlanGrowth, types.UsageLedger{MonthlyUsageCount: 990, MonthlyLimit: 1000, ExtraCreditsBalance: 50})

	d, err := f.svc.Consume(context.Background(), "acc_1", types.FeatureMonthlyCredits, 20)
	require.NoError(t, err)
	assert.Equal(t, types.AccessGrantedExtra, d.Status)
	assert.True(t, d.Committed)
	assert.Nil(t, d.Prompt)
	assert.NoError(t, d.Err())
	assert.Equal(t, 30, d.Ledger.ExtraCreditsBalance)
	assert.Equal(t, 990, d.Ledger.MonthlyUsageCount)

	stored, err := f.svc.Account(context.Background(), "acc_1")
	require.NoError(t, err)
	assert.Equal(t, d.Ledger, stored.Ledger)
}

func TestService_ConsumeDeniedCarriesPrompt(t *testing.T) {
	f := newServiceFixture(t, FailClosed)
	f.provision(t, "acc_1", types.PlanGrowth, types.UsageLedger{MonthlyUsageCount: 1000, MonthlyLimit: 1000, ExtraCreditsBalance: 10})

	d, err := f.svc.Consume(context.Background(), "acc_1", types.FeatureMonthlyCredits, 20)
	require.NoError(t, err)
	assert.Equal(t, types.AccessDeniedLimit, d.Status)
	assert.False(t, d.Committed)
	require.NotNil(t, d.Prompt)
	assert.Len(t, d.Prompt.CreditPackages, 3)
	assert.True(t, types.IsCode(d.Err(), types.ErrCodeLimitCreditsExhausted))

	stored, _ := f.svc.Account(context.Background(), "acc_1")
	assert.Equal(t, 10, stored.Ledger.ExtraCreditsBalance, "denied consume must not change the ledger")
	assert.Equal(t, []types.GateEventType{types.GateEventTriggered}, f.events.eventTypes())
	assert.Equal(t, 1, f.metrics.calls[types.AccessDeniedLimit])
}

func TestService_ConsumeStructural(t *testing.T) {
	f := newServiceFixture(t, FailClosed)
	f.provision(t, "acc_1", types.PlanFree, types.UsageLedger{})

	d, err := f.svc.Consume(context.Background(), "acc_1", types.FeatureMaxSessions, 0)
	require.NoError(t, err)
	assert.Equal(t, types.AccessGrantedMonthly, d.Status)
	assert.Equal(t, 1, d.Ledger.CurrentSessions)

	d, err = f.svc.Consume(context.Background(), "acc_1", types.FeatureMaxSessions, 0)
	require.NoError(t, err)
	assert.Equal(t, types.AccessDeniedStructural, d.Status)
	assert.Equal(t, types.TriggerScale, d.Prompt.Context.TriggerType)
	assert.True(t, types.IsCode(d.Err(), types.ErrCodePermissionDeniedStructural))

	ledger, err := f.svc.Release(context.Background(), "acc_1", types.FeatureMaxSessions)
	require.NoError(t, err)
	assert.Equal(t, 0, ledger.CurrentSessions)

	_, err = f.svc.Release(context.Background(), "acc_1", types.FeatureMaxSessions)
	assert.True(t, types.IsCode(err, types.ErrCodeConflictConcurrent))
}

func TestService_CheckDoesNotSpend(t *testing.T) {
	f := newServiceFixture(t, FailClosed)
	f.provision(t, "acc_1", types.PlanFree, types.UsageLedger{})

	d, err := f.svc.Check(context.Background(), "acc_1", types.FeatureMonthlyCredits, 50)
	require.NoError(t, err)
	assert.Equal(t, types.AccessGrantedMonthly, d.Status)
	assert.False(t, d.Committed)

	stored, _ := f.svc.Account(context.Background(), "acc_1")
	assert.Equal(t, 0, stored.Ledger.MonthlyUsageCount)
}

func TestService_CheckUnknownFeature(t *testing.T) {
	t.Run("fail closed", func(t *testing.T) {
		f := newServiceFixture(t, FailClosed)
		f.provision(t, "acc_1", types.PlanFree, types.UsageLedger{})

		_, err := f.svc.Check(context.Background(), "acc_1", "teamSeats", 0)
		assert.True(t, types.IsCode(err, types.ErrCodeInternalUnknownFeature))
	})

	t.Run("fail open", func(t *testing.T) {
		f := newServiceFixture(t, FailOpen)
		f.provision(t, "acc_1", types.PlanFree, types.UsageLedger{})

		d, err := f.svc.Consume(context.Background(), "acc_1", "teamSeats", 0)
		require.NoError(t, err)
		assert.True(t, d.Granted())
	})
}

func TestService_ConsumeUnknownAccount(t *testing.T) {
	f := newServiceFixture(t, FailClosed)

	_, err := f.svc.Consume(context.Background(), "ghost", types.FeatureMonthlyCredits, 20)
	assert.True(t, types.IsCode(err, types.ErrCodeNotFoundAccount))
}

func TestService_ConcurrentConsumeNeverOverspends(t *testing.T) {
	f := newServiceFixture(t, FailClosed)
	f.provision(t, "acc_1", types.PlanGrowth, types.UsageLedger{MonthlyUsageCount: 900, MonthlyLimit: 1000, ExtraCreditsBalance: 40})

	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := f.svc.Consume(context.Background(), "acc_1", types.FeatureMonthlyCredits, 20)
			if err == nil && d.Committed {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	stored, err := f.svc.Account(context.Background(), "acc_1")
	require.NoError(t, err)
	assert.Equal(t, int32(7), granted.Load(), "5 monthly + 2 extra grants fit")
	assert.Equal(t, 1000, stored.Ledger.MonthlyUsageCount)
	assert.Equal(t, 0, stored.Ledger.ExtraCreditsBalance)
	require.NoError(t, stored.Ledger.Validate())
}

func TestService_RefundRestoresBudget(t *testing.T) {
	f := newServiceFixture(t, FailClosed)
	f.provision(t, "acc_1", types.PlanGrowth, types.UsageLedger{MonthlyUsageCount: 100, MonthlyLimit: 1000})

	d, err := f.svc.Consume(context.Background(), "acc_1", types.FeatureMonthlyCredits, 50)
	require.NoError(t, err)

	ledger, err := f.svc.Refund(context.Background(), "acc_1", types.FeatureMonthlyCredits, d.Status, 50)
	require.NoError(t, err)
	assert.Equal(t, 100, ledger.MonthlyUsageCount)
}

func TestService_ApplyPurchaseIdempotent(t *testing.T) {
	f := newServiceFixture(t, FailClosed)
	f.provision(t, "acc_1", types.PlanGrowth, types.UsageLedger{MonthlyUsageCount: 1000, MonthlyLimit: 1000})

	applied, ledger, err := f.svc.ApplyPurchase(context.Background(), "acc_1", "pack_s", "cs_test_1")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 100, ledger.ExtraCreditsBalance)

	applied, ledger, err = f.svc.ApplyPurchase(context.Background(), "acc_1", "pack_s", "cs_test_1")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, 100, ledger.ExtraCreditsBalance)
	assert.Len(t, f.store.Purchases("acc_1"), 1)

	_, _, err = f.svc.ApplyPurchase(context.Background(), "acc_1", "pack_xl", "cs_test_2")
	assert.True(t, types.IsCode(err, types.ErrCodeNotFoundPackage))
}

func TestService_ChangeTierResetsMonthlyOnly(t *testing.T) {
	f := newServiceFixture(t, FailClosed)
	f.provision(t, "acc_1", types.PlanFree, types.UsageLedger{CurrentSessions: 1, MonthlyUsageCount: 250, MonthlyLimit: 250, ExtraCreditsBalance: 30})

	a, err := f.svc.ChangeTier(context.Background(), "acc_1", types.PlanPro)
	require.NoError(t, err)
	assert.Equal(t, types.PlanPro, a.Tier)
	assert.Equal(t, types.UsageLedger{CurrentSessions: 1, MonthlyLimit: 5000, ExtraCreditsBalance: 30}, a.Ledger)

	_, err = f.svc.ChangeTier(context.Background(), "acc_1", "ENTERPRISE")
	assert.True(t, types.IsCode(err, types.ErrCodeValidationInvalidTier))
}

func TestService_ChangeTierToCurrentTierKeepsCycle(t *testing.T) {
	f := newServiceFixture(t, FailClosed)
	f.provision(t, "acc_1", types.PlanFree, types.UsageLedger{})
	ctx := context.Background()

	first, err := f.svc.ChangeTier(ctx, "acc_1", types.PlanGrowth)
	require.NoError(t, err)

	f.clock = testNow.Add(time.Hour)
	_, err = f.svc.Consume(ctx, "acc_1", types.FeatureMonthlyCredits, 300)
	require.NoError(t, err)

	again, err := f.svc.ChangeTier(ctx, "acc_1", types.PlanGrowth)
	require.NoError(t, err)
	assert.Equal(t, 300, again.Ledger.MonthlyUsageCount)
	assert.Equal(t, first.CycleStartedAt, again.CycleStartedAt)
}

func TestService_ChangeTierConcurrentSameTarget(t *testing.T) {
	f := newServiceFixture(t, FailClosed)
	f.provision(t, "acc_1", types.PlanFree, types.UsageLedger{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ChangeTier(ctx, "acc_1", types.PlanPro)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	_, err := f.svc.Consume(ctx, "acc_1", types.FeatureMonthlyCredits, 100)
	require.NoError(t, err)
	a, err := f.svc.ChangeTier(ctx, "acc_1", types.PlanPro)
	require.NoError(t, err)
	assert.Equal(t, types.PlanPro, a.Tier)
	assert.Equal(t, 100, a.Ledger.MonthlyUsageCount)
}

func TestService_RenewCycle(t *testing.T) {
	f := newServiceFixture(t, FailClosed)
	f.provision(t, "acc_1", types.PlanGrowth, types.UsageLedger{MonthlyUsageCount: 700, MonthlyLimit: 1000, ExtraCreditsBalance: 5})
	ctx := context.Background()

	f.clock = testNow.AddDate(0, 1, 0).Add(time.Minute)
	renewed, ledger, err := f.svc.RenewCycle(ctx, "acc_1", "in_1")
	require.NoError(t, err)
	assert.True(t, renewed)
	assert.Equal(t, 0, ledger.MonthlyUsageCount)
	assert.Equal(t, 5, ledger.ExtraCreditsBalance)

	_, _, err = f.svc.RenewCycle(ctx, "acc_1", "")
	assert.True(t, types.IsCode(err, types.ErrCodeValidationMissingField))
}

func TestService_RenewCycleRedeliveryKeepsUsage(t *testing.T) {
	f := newServiceFixture(t, FailClosed)
	f.provision(t, "acc_1", types.PlanGrowth, types.UsageLedger{})
	ctx := context.Background()

	f.clock = testNow.AddDate(0, 1, 0).Add(time.Minute)
	renewed, _, err := f.svc.RenewCycle(ctx, "acc_1", "in_1")
	require.NoError(t, err)
	require.True(t, renewed)

	_, err = f.svc.Consume(ctx, "acc_1", types.FeatureMonthlyCredits, 900)
	require.NoError(t, err)

	f.clock = f.clock.Add(48 * time.Hour)
	renewed, ledger, err := f.svc.RenewCycle(ctx, "acc_1", "in_1")
	require.NoError(t, err)
	assert.False(t, renewed)
	assert.Equal(t, 900, ledger.MonthlyUsageCount)

	// A different invoice inside the running cycle does not reset it either.
	renewed, ledger, err = f.svc.RenewCycle(ctx, "acc_1", "in_other")
	require.NoError(t, err)
	assert.False(t, renewed)
	assert.Equal(t, 900, ledger.MonthlyUsageCount)
}

func TestService_RenewCycleAndSchedulerResetOnce(t *testing.T) {
	f := newServiceFixture(t, FailClosed)
	f.provision(t, "acc_1", types.PlanGrowth, types.UsageLedger{})
	ctx := context.Background()
	boundary := testNow.AddDate(0, 1, 0)

	// The scheduler rolls first; the renewal invoice arrives afterwards.
	rolled, err := f.svc.RolloverIfDue(ctx, "acc_1", boundary.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, rolled)

	f.clock = boundary.Add(10 * time.Minute)
	_, err = f.svc.Consume(ctx, "acc_1", types.FeatureMonthlyCredits, 400)
	require.NoError(t, err)

	renewed, ledger, err := f.svc.RenewCycle(ctx, "acc_1", "in_2")
	require.NoError(t, err)
	assert.False(t, renewed)
	assert.Equal(t, 400, ledger.MonthlyUsageCount)

	// The next scheduler run inside the same cycle is a no-op as well.
	rolled, err = f.svc.RolloverIfDue(ctx, "acc_1", boundary.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, rolled)
}

func TestService_CycleLengthClampsToMonthEnd(t *testing.T) {
	f := newServiceFixture(t, FailClosed)
	f.clock = time.Date(2026, 1, 31, 8, 0, 0, 0, time.UTC)

	a, err := f.svc.Provision(context.Background(), "acc_1", types.PlanFree)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 28, 8, 0, 0, 0, time.UTC), a.CycleEndsAt)
}

func TestAddMonthsClamped(t *testing.T) {
	tests := []struct {
		name   string
		start  time.Time
		months int
		want   time.Time
	}{
		{"mid month", time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), 1, time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)},
		{"jan 31", time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC), 1, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)},
		{"leap year", time.Date(2028, 1, 30, 0, 0, 0, 0, time.UTC), 1, time.Date(2028, 2, 29, 0, 0, 0, 0, time.UTC)},
		{"mar 31", time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC), 1, time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC)},
		{"year wrap", time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC), 2, time.Date(2027, 2, 28, 0, 0, 0, 0, time.UTC)},
		{"quarterly", time.Date(2026, 11, 30, 0, 0, 0, 0, time.UTC), 3, time.Date(2027, 2, 28, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, addMonthsClamped(tt.start, tt.months))
		})
	}
}

func TestService_WithCycleMonths(t *testing.T) {
	plans := billing.NewStaticPlanRegistry()
	msgs, err := DefaultMessages()
	require.NoError(t, err)

	svc := NewService(db.NewMemoryStore(), plans, billing.NewPackageCatalog(),
		NewResolver(plans, FailClosed, nil), NewPromptBuilder(msgs, billing.NewPackageCatalog(), ""), nil,
		WithClock(func() time.Time { return testNow }),
		WithCycleMonths(3),
	)
	a, err := svc.Provision(context.Background(), "acc_q", types.PlanPro)
	require.NoError(t, err)
	assert.Equal(t, testNow.AddDate(0, 3, 0), a.CycleEndsAt)
}

func TestService_LinkCustomerKeepsFirst(t *testing.T) {
	f := newServiceFixture(t, FailClosed)
	f.provision(t, "acc_1", types.PlanFree, types.UsageLedger{})
	ctx := context.Background()

	require.NoError(t, f.svc.LinkCustomer(ctx, "acc_1", "cus_first"))
	require.NoError(t, f.svc.LinkCustomer(ctx, "acc_1", "cus_second"))
	require.NoError(t, f.svc.LinkCustomer(ctx, "acc_1", ""))

	account, err := f.svc.Account(ctx, "acc_1")
	require.NoError(t, err)
	assert.Equal(t, "cus_first", account.StripeCustomerID)
}

func TestService_RolloverIfDue(t *testing.T) {
	f := newServiceFixture(t, FailClosed)
	f.provision(t, "acc_1", types.PlanGrowth, types.UsageLedger{MonthlyUsageCount: 800, MonthlyLimit: 1000, ExtraCreditsBalance: 5})

	rolled, err := f.svc.RolloverIfDue(context.Background(), "acc_1", testNow.Add(24*time.Hour))
	require.NoError(t, err)
	assert.False(t, rolled, "cycle still running")

	// Three months later the cycle advances past every missed boundary.
	later := testNow.AddDate(0, 3, 0).Add(time.Hour)
	rolled, err = f.svc.RolloverIfDue(context.Background(), "acc_1", later)
	require.NoError(t, err)
	assert.True(t, rolled)

	a, _ := f.svc.Account(context.Background(), "acc_1")
	assert.Equal(t, 0, a.Ledger.MonthlyUsageCount)
	assert.Equal(t, 5, a.Ledger.ExtraCreditsBalance)
	assert.Equal(t, testNow.AddDate(0, 3, 0), a.CycleStartedAt)
	assert.True(t, a.CycleEndsAt.After(later))

	rolled, err = f.svc.RolloverIfDue(context.Background(), "acc_1", later)
	require.NoError(t, err)
	assert.False(t, rolled, "second run is a no-op")
}

func TestService_RequestPurchase(t *testing.T) {
	f := newServiceFixture(t, FailClosed)
	f.provision(t, "acc_1", types.PlanGrowth, types.UsageLedger{})

	f.payments.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(req types.CheckoutRequest) bool {
		return req.Kind == types.PurchaseKindCreditPack && req.PackageID == "pack_m" &&
			req.Amount == 19900 && req.Credits == 500 && req.AccountID == "acc_1"
	})).Return(&types.CheckoutSession{ID: "cs_1", URL: "https://checkout.example/cs_1"}, nil)

	sess, err := f.svc.RequestPurchase(context.Background(), "acc_1", "pack_m", nil)
	require.NoError(t, err)
	assert.Equal(t, "cs_1", sess.ID)
	assert.Equal(t, []types.GateEventType{types.GateEventPurchaseAttempt}, f.events.eventTypes())

	stored, _ := f.svc.Account(context.Background(), "acc_1")
	assert.Equal(t, 0, stored.Ledger.ExtraCreditsBalance, "credits arrive only on confirmation")
}

func TestService_RequestPurchaseOnFreeRejected(t *testing.T) {
	f := newServiceFixture(t, FailClosed)
	f.provision(t, "acc_1", types.PlanFree, types.UsageLedger{})

	// A client claiming a paid plan is overridden by the stored tier.
	claimed := creditGate(types.PlanPro)
	_, err := f.svc.RequestPurchase(context.Background(), "acc_1", "pack_s", &claimed)
	assert.True(t, types.IsCode(err, types.ErrCodeConflictGateTransition))
	f.payments.AssertNotCalled(t, "CreateCheckoutSession", mock.Anything, mock.Anything)
}

func TestService_RequestUpgrade(t *testing.T) {
	f := newServiceFixture(t, FailClosed)
	f.provision(t, "acc_1", types.PlanGrowth, types.UsageLedger{})

	_, err := f.svc.RequestUpgrade(context.Background(), "acc_1", types.PlanGrowth, nil)
	assert.True(t, types.IsCode(err, types.ErrCodePermissionDowngrade))

	f.payments.On("CreateCheckoutSession", mock.Anything, mock.MatchedBy(func(req types.CheckoutRequest) bool {
		return req.Kind == types.PurchaseKindUpgrade && req.TargetTier == types.PlanPro
	})).Return(&types.CheckoutSession{ID: "cs_2"}, nil)

	sess, err := f.svc.RequestUpgrade(context.Background(), "acc_1", types.PlanPro, nil)
	require.NoError(t, err)
	assert.Equal(t, "cs_2", sess.ID)

	a, _ := f.svc.Account(context.Background(), "acc_1")
	assert.Equal(t, types.PlanGrowth, a.Tier, "tier changes only on confirmation")
}

func TestService_RequestWithoutPaymentProvider(t *testing.T) {
	f := newServiceFixture(t, FailClosed)
	f.svc.payments = nil
	f.provision(t, "acc_1", types.PlanGrowth, types.UsageLedger{})

	_, err := f.svc.RequestPurchase(context.Background(), "acc_1", "pack_s", nil)
	assert.True(t, types.IsCode(err, types.ErrCodeUpstreamUnavailable))
}

func TestService_DismissGate(t *testing.T) {
	f := newServiceFixture(t, FailClosed)

	require.NoError(t, f.svc.DismissGate(context.Background(), "acc_1", creditGate(types.PlanGrowth)))
	assert.Equal(t, []types.GateEventType{types.GateEventDismissed}, f.events.eventTypes())
}

func TestService_PublisherFailureDoesNotFailDecision(t *testing.T) {
	f := newServiceFixture(t, FailClosed)
	f.events = new(mockPublisher)
	f.events.On("PublishGateEvent", mock.Anything, mock.Anything).Return(errors.New("queue down"))
	f.svc.events = f.events
	f.provision(t, "acc_1", types.PlanFree, types.UsageLedger{})

	d, err := f.svc.Check(context.Background(), "acc_1", types.FeatureAllowAdvancedInsights, 0)
	require.NoError(t, err)
	assert.Equal(t, types.AccessDeniedStructural, d.Status)
	assert.Equal(t, types.TriggerFeature, d.Prompt.Context.TriggerType)
}
