package external

import (
	"log/slog"
	"net/http"
	"time"

	"flui/internal/config"
	"flui/internal/types"
)

// ClientRegistry holds the vendor clients used by the API. Payments is nil
// when checkout is disabled.
type ClientRegistry struct {
	Payments       types.PaymentProvider
	StripeVerifier WebhookVerifier
}

// PaymentsEnabled reports whether checkout sessions can be created.
func (r *ClientRegistry) PaymentsEnabled() bool {
	return r != nil && r.Payments != nil
}

// NewClientRegistry builds the vendor clients from configuration.
//
// With a Stripe secret key the real client is used in every environment.
// Without one, APP_ENV=local gets logging stubs so the checkout flow can be
// exercised end to end, and other environments run with payments disabled.
func NewClientRegistry(cfg *config.Config, logger *slog.Logger) *ClientRegistry {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.StripeEnabled() {
		logger.Info("initializing Stripe client", "environment", cfg.Environment)

		prices := make(map[types.PlanTier]string)
		for _, tier := range types.AllPlanTiers {
			if price, ok := cfg.Billing.PriceForTier(tier); ok {
				prices[tier] = price
			}
		}

		// Stripe recommends generous timeouts for checkout creation.
		httpClient := &http.Client{Timeout: 20 * time.Second}
		return &ClientRegistry{
			Payments: NewStripeClient(httpClient, StripeClientConfig{
				SecretKey:  cfg.Billing.StripeSecretKey.Unmask(),
				BaseURL:    cfg.Billing.StripeBaseURL,
				SuccessURL: cfg.Server.DashboardURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}",
				CancelURL:  cfg.Server.DashboardURL + "/billing/cancel",
				Prices:     prices,
				Logger:     logger.With("client", "stripe"),
			}),
			StripeVerifier: StripeVerifier{},
		}
	}

	if cfg.Environment == "local" {
		stubLogger := logger.With("mode", "stub")
		stubLogger.Info("initializing payment clients in STUB mode")
		return &ClientRegistry{
			Payments:       NewStubPaymentProvider(stubLogger),
			StripeVerifier: NewStubWebhookVerifier(stubLogger),
		}
	}

	logger.Warn("STRIPE_SECRET_KEY not set, checkout and webhooks are disabled",
		"environment", cfg.Environment)
	return &ClientRegistry{}
}
