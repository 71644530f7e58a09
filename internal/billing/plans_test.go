package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flui/internal/types"
)

func TestGetLimits_AllTiers(t *testing.T) {
	reg := NewStaticPlanRegistry()

	tests := []struct {
		tier types.PlanTier
		want types.PlanLimits
	}{
		{types.PlanFree, types.PlanLimits{
			MaxSessions: 1, MonthlyCredits: 250, MaxPulseSources: 2,
			AllowAdvancedInsights: false, AllowAllFrameworks: false,
			SupportLevel: types.SupportCommunity,
		}},
		{types.PlanGrowth, types.PlanLimits{
			MaxSessions: 3, MonthlyCredits: 1000, MaxPulseSources: 10,
			AllowAdvancedInsights: true, AllowAllFrameworks: true,
			SupportLevel: types.SupportEmail,
		}},
		{types.PlanPro, types.PlanLimits{
			MaxSessions: 100, MonthlyCredits: 5000, MaxPulseSources: 50,
			AllowAdvancedInsights: true, AllowAllFrameworks: true,
			SupportLevel: types.SupportPriority,
		}},
	}

	for _, tt := range tests {
		t.Run(string(tt.tier), func(t *testing.T) {
			assert.Equal(t, tt.want, reg.GetLimits(tt.tier))
		})
	}
}

func TestGetLimits_UnknownTierPanics(t *testing.T) {
	reg := NewStaticPlanRegistry()
	assert.Panics(t, func() { reg.GetLimits(types.PlanTier("ENTERPRISE")) })
}

func TestLookup(t *testing.T) {
	reg := NewStaticPlanRegistry()

	limits, err := reg.Lookup(types.PlanGrowth)
	require.NoError(t, err)
	assert.Equal(t, 1000, limits.MonthlyCredits)

	_, err = reg.Lookup(types.PlanTier("gold"))
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeValidationInvalidTier))
}

func TestNewStaticPlanRegistry_IsolatedFromDefaults(t *testing.T) {
	reg := NewStaticPlanRegistry().(*staticPlanRegistry)
	reg.limits[types.PlanFree] = types.PlanLimits{MaxSessions: 99}

	fresh := NewStaticPlanRegistry()
	assert.Equal(t, 1, fresh.GetLimits(types.PlanFree).MaxSessions)
}

func TestTiers_Ordered(t *testing.T) {
	assert.Equal(t,
		[]types.PlanTier{types.PlanFree, types.PlanGrowth, types.PlanPro},
		NewStaticPlanRegistry().Tiers(),
	)
}

func TestNextTier(t *testing.T) {
	next, ok := NextTier(types.PlanFree)
	assert.True(t, ok)
	assert.Equal(t, types.PlanGrowth, next)

	next, ok = NextTier(types.PlanGrowth)
	assert.True(t, ok)
	assert.Equal(t, types.PlanPro, next)

	_, ok = NextTier(types.PlanPro)
	assert.False(t, ok)

	_, ok = NextTier(types.PlanTier("x"))
	assert.False(t, ok)
}

func TestPackageCatalog(t *testing.T) {
	catalog := NewPackageCatalog()

	pkgs := catalog.Packages()
	require.Len(t, pkgs, 3)
	assert.Equal(t, "pack_s", pkgs[0].ID)
	assert.Equal(t, 1500, pkgs[2].Credits)

	pkgs[0].Credits = 1
	again, err := catalog.Package("pack_s")
	require.NoError(t, err)
	assert.Equal(t, 100, again.Credits)
	assert.Equal(t, 49, again.Price)

	_, err = catalog.Package("pack_xl")
	assert.True(t, types.IsCode(err, types.ErrCodeNotFoundPackage))
}

func TestActionCost(t *testing.T) {
	tests := []struct {
		action types.CreditAction
		want   int
	}{
		{types.ActionAIGeneration, 20},
		{types.ActionPulseTracking, 50},
		{types.ActionFrameworkAccess, 0},
		{types.ActionDiagnosis, 50},
		{types.ActionPost, 20},
		{types.ActionCarousel, 15},
	}
	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			cost, err := ActionCost(tt.action)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cost)
		})
	}

	_, err := ActionCost("VIDEO")
	assert.True(t, types.IsCode(err, types.ErrCodeValidationInvalidAction))
}
