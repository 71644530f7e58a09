package types

import (
	"fmt"
	"time"
)

// PlanLimits is the immutable entitlement record of a PlanTier.
type PlanLimits struct {
	MaxSessions           int          `json:"maxSessions"`
	MonthlyCredits        int          `json:"monthlyCredits"`
	MaxPulseSources       int          `json:"maxPulseSources"`
	AllowAdvancedInsights bool         `json:"allowAdvancedInsights"`
	AllowAllFrameworks    bool         `json:"allowAllFrameworks"`
	SupportLevel          SupportLevel `json:"supportLevel"`
}

// UsageLedger holds the per-account counters compared against PlanLimits.
//
// MonthlyLimit is a snapshot of the tier's MonthlyCredits taken at cycle
// start, so a mid-cycle catalog change does not alter an allotment that
// was already granted.
type UsageLedger struct {
	CurrentSessions     int `json:"currentSessions"`
	PulseSources        int `json:"pulseSources"`
	MonthlyUsageCount   int `json:"monthlyUsageCount"`
	MonthlyLimit        int `json:"monthlyLimit"`
	ExtraCreditsBalance int `json:"extraCreditsBalance"`
}

// Validate checks that no counter is negative.
func (l UsageLedger) Validate() error {
	fields := []struct {
		name  string
		value int
	}{
		{"currentSessions", l.CurrentSessions},
		{"pulseSources", l.PulseSources},
		{"monthlyUsageCount", l.MonthlyUsageCount},
		{"monthlyLimit", l.MonthlyLimit},
		{"extraCreditsBalance", l.ExtraCreditsBalance},
	}
	for _, f := range fields {
		if f.value < 0 {
			return NewAppErrorWithDetails(
				ErrCodeValidationInvalidLedger,
				fmt.Sprintf("%s must not be negative", f.name),
				nil,
				map[string]any{"field": f.name, "value": f.value},
			)
		}
	}
	return nil
}

// MonthlyRemaining returns the unspent part of the monthly allotment.
func (l UsageLedger) MonthlyRemaining() int {
	if l.MonthlyUsageCount >= l.MonthlyLimit {
		return 0
	}
	return l.MonthlyLimit - l.MonthlyUsageCount
}

// CreditPackage is a purchasable top-up of non-expiring credits.
// Price is expressed in whole units of Currency.
type CreditPackage struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Credits  int    `json:"credits"`
	Price    int    `json:"price"`
	Currency string `json:"currency"`
}

// Account is the persisted owner of a UsageLedger.
type Account struct {
	ID               string      `json:"id"`
	Tier             PlanTier    `json:"tier"`
	Ledger           UsageLedger `json:"ledger"`
	CycleStartedAt   time.Time   `json:"cycleStartedAt"`
	CycleEndsAt      time.Time   `json:"cycleEndsAt"`
	StripeCustomerID string      `json:"stripeCustomerId,omitempty"`
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt"`
}

// CreditPurchase records a confirmed credit pack payment. PaymentRef is the
// payment collaborator's identifier and is unique per purchase.
type CreditPurchase struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"accountId"`
	PackageID  string    `json:"packageId"`
	Credits    int       `json:"credits"`
	PaymentRef string    `json:"paymentRef"`
	CreatedAt  time.Time `json:"createdAt"`
}

// CycleRenewal records a paid subscription renewal. InvoiceRef is the payment
// collaborator's invoice id and is unique per renewal.
type CycleRenewal struct {
	AccountID  string    `json:"accountId"`
	InvoiceRef string    `json:"invoiceRef"`
	Tier       PlanTier  `json:"tier"`
	CreatedAt  time.Time `json:"createdAt"`
}

// GateContext describes a denial for presentation. It is created per denial
// event and never persisted.
type GateContext struct {
	Feature         Feature     `json:"feature"`
	TriggerType     TriggerType `json:"triggerType"`
	CurrentPlan     PlanTier    `json:"currentPlan"`
	RequiredCredits *int        `json:"requiredCredits,omitempty"`
}

// GateMessage is the upgrade copy rendered for a FeatureGroup.
type GateMessage struct {
	Headline    string `json:"headline" yaml:"headline"`
	Subheadline string `json:"subheadline" yaml:"subheadline"`
	Benefit     string `json:"benefit" yaml:"benefit"`
	Current     string `json:"current" yaml:"current"`
	Next        string `json:"next" yaml:"next"`
}

// GateEvent is an analytics record emitted by the gate flow.
type GateEvent struct {
	ID         string        `json:"id"`
	Type       GateEventType `json:"type"`
	AccountID  string        `json:"accountId"`
	Context    GateContext   `json:"context"`
	TargetTier PlanTier      `json:"targetTier,omitempty"`
	PackageID  string        `json:"packageId,omitempty"`
	OccurredAt time.Time     `json:"occurredAt"`
}

// CheckoutRequest asks the payment collaborator for a hosted checkout page.
// Amount is in the smallest currency unit and only set for credit packs.
type CheckoutRequest struct {
	AccountID  string
	Kind       PurchaseKind
	PackageID  string
	Credits    int
	Amount     int64
	Currency   string
	TargetTier PlanTier
	CustomerID string
}

// CheckoutSession is the payment collaborator's hosted checkout.
type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}
