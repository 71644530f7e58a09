package handlers

import (
	"net/http"
	"testing"

	"flui/internal/types"
)

func TestCreateCreditCheckout(t *testing.T) {
	f := newAPIFixture(t)
	f.provision(t, "acct_1", types.PlanGrowth, nil)

	rec := f.do(t, http.MethodPost, "/v1/billing/credit-checkout", "acct_1", map[string]any{
		"packageId": "pack_m",
		"gate":      map[string]any{"feature": "monthlyCredits", "triggerType": "LIMIT", "currentPlan": "PRO"},
	})
	expectStatus(t, rec, http.StatusOK)

	var resp CheckoutResponse
	decodeData(t, rec, &resp)
	if resp.SessionID != "cs_test_credit_pack" || resp.CheckoutURL == "" {
		t.Errorf("unexpected checkout %+v", resp)
	}

	if len(f.payments.requests) != 1 {
		t.Fatalf("expected one checkout request, got %d", len(f.payments.requests))
	}
	req := f.payments.requests[0]
	if req.AccountID != "acct_1" || req.PackageID != "pack_m" || req.Credits != 500 || req.Amount != 19900 {
		t.Errorf("unexpected checkout request %+v", req)
	}

	if got := f.ledger(t, "acct_1").ExtraCreditsBalance; got != 0 {
		t.Errorf("credits must wait for confirmation, got %d", got)
	}
	if evs := f.events.eventTypes(); len(evs) != 1 || evs[0] != types.GateEventPurchaseAttempt {
		t.Errorf("expected one purchase attempt event, got %v", evs)
	}
}

func TestCreateCreditCheckout_Errors(t *testing.T) {
	tests := []struct {
		name   string
		tier   types.PlanTier
		body   any
		status int
		code   types.ErrorCode
	}{
		{"missing package", types.PlanGrowth, map[string]any{}, http.StatusBadRequest, types.ErrCodeValidationMissingField},
		{"unknown package", types.PlanGrowth, map[string]any{"packageId": "pack_xl"}, http.StatusNotFound, types.ErrCodeNotFoundPackage},
		{"free plan", types.PlanFree, map[string]any{"packageId": "pack_s"}, http.StatusConflict, types.ErrCodeConflictGateTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t)
			f.provision(t, "acct_1", tt.tier, nil)

			rec := f.do(t, http.MethodPost, "/v1/billing/credit-checkout", "acct_1", tt.body)
			expectStatus(t, rec, tt.status)
			if got := decodeError(t, rec).Code; got != string(tt.code) {
				t.Errorf("expected %s, got %s", tt.code, got)
			}
			if len(f.payments.requests) != 0 {
				t.Errorf("no checkout expected, got %d", len(f.payments.requests))
			}
		})
	}
}

func TestCreateUpgradeCheckout(t *testing.T) {
	f := newAPIFixture(t)
	f.provision(t, "acct_1", types.PlanFree, nil)

	rec := f.do(t, http.MethodPost, "/v1/billing/upgrade-checkout", "acct_1", map[string]any{
		"targetTier": "PRO",
		"gate":       map[string]any{"feature": "maxSessions", "triggerType": "SCALE", "currentPlan": "FREE"},
	})
	expectStatus(t, rec, http.StatusOK)

	var resp CheckoutResponse
	decodeData(t, rec, &resp)
	if resp.SessionID != "cs_test_upgrade" {
		t.Errorf("unexpected session %q", resp.SessionID)
	}
	if req := f.payments.requests[0]; req.TargetTier != types.PlanPro || req.Kind != types.PurchaseKindUpgrade {
		t.Errorf("unexpected checkout request %+v", req)
	}

	account, err := f.svc.Account(t.Context(), "acct_1")
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if account.Tier != types.PlanFree {
		t.Errorf("tier must wait for confirmation, got %s", account.Tier)
	}
}

func TestCreateUpgradeCheckout_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   any
		status int
		code   types.ErrorCode
	}{
		{"downgrade", map[string]any{"targetTier": "FREE"}, http.StatusForbidden, types.ErrCodePermissionDowngrade},
		{"same tier", map[string]any{"targetTier": "GROWTH"}, http.StatusForbidden, types.ErrCodePermissionDowngrade},
		{"invalid tier", map[string]any{"targetTier": "ENTERPRISE"}, http.StatusBadRequest, types.ErrCodeValidationInvalidTier},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAPIFixture(t)
			f.provision(t, "acct_1", types.PlanGrowth, nil)

			rec := f.do(t, http.MethodPost, "/v1/billing/upgrade-checkout", "acct_1", tt.body)
			expectStatus(t, rec, tt.status)
			if got := decodeError(t, rec).Code; got != string(tt.code) {
				t.Errorf("expected %s, got %s", tt.code, got)
			}
		})
	}
}

func TestCreateUpgradeCheckout_ProviderUnavailable(t *testing.T) {
	f := newAPIFixture(t)
	f.provision(t, "acct_1", types.PlanFree, nil)
	f.payments.err = types.NewAppError(types.ErrCodeUpstreamStripe, "stripe unavailable", nil)

	rec := f.do(t, http.MethodPost, "/v1/billing/upgrade-checkout", "acct_1", map[string]any{"targetTier": "GROWTH"})
	expectStatus(t, rec, http.StatusBadGateway)
}
