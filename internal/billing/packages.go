package billing

import (
	"flui/internal/types"
)

// DefaultCurrency is the ISO currency of catalog prices.
const DefaultCurrency = "brl"

// creditPackages is the top-up catalog, in display order.
var creditPackages = []types.CreditPackage{
	{ID: "pack_s", Name: "Starter Pack", Credits: 100, Price: 49, Currency: DefaultCurrency},
	{ID: "pack_m", Name: "Creator Pack", Credits: 500, Price: 199, Currency: DefaultCurrency},
	{ID: "pack_l", Name: "Agency Pack", Credits: 1500, Price: 499, Currency: DefaultCurrency},
}

// actionCosts maps billable actions to their credit cost.
var actionCosts = map[types.CreditAction]int{
	types.ActionAIGeneration:    20,
	types.ActionPulseTracking:   50,
	types.ActionFrameworkAccess: 0,
	types.ActionDiagnosis:       50,
	types.ActionPost:            20,
	types.ActionCarousel:        15,
}

// PackageCatalog exposes the purchasable credit packages.
type PackageCatalog struct {
	packages []types.CreditPackage
	byID     map[string]types.CreditPackage
}

// NewPackageCatalog returns the catalog of credit packages.
func NewPackageCatalog() *PackageCatalog {
	pkgs := make([]types.CreditPackage, len(creditPackages))
	copy(pkgs, creditPackages)

	byID := make(map[string]types.CreditPackage, len(pkgs))
	for _, p := range pkgs {
		byID[p.ID] = p
	}
	return &PackageCatalog{packages: pkgs, byID: byID}
}

// Packages returns a copy of every package in display order.
func (c *PackageCatalog) Packages() []types.CreditPackage {
	out := make([]types.CreditPackage, len(c.packages))
	copy(out, c.packages)
	return out
}

// Package returns the package with the given ID.
func (c *PackageCatalog) Package(id string) (types.CreditPackage, error) {
	p, ok := c.byID[id]
	if !ok {
		return types.CreditPackage{}, types.NewAppErrorWithDetails(
			types.ErrCodeNotFoundPackage,
			"credit package not found",
			nil,
			map[string]any{"package_id": id},
		)
	}
	return p, nil
}

// ActionCost returns the credit cost of a billable action.
func ActionCost(action types.CreditAction) (int, error) {
	cost, ok := actionCosts[action]
	if !ok {
		return 0, types.NewAppErrorWithDetails(
			types.ErrCodeValidationInvalidAction,
			"unknown billable action",
			nil,
			map[string]any{"action": string(action)},
		)
	}
	return cost, nil
}
