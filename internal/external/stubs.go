package external

import (
	"context"
	"fmt"
	"log/slog"

	"flui/internal/types"
)

// StubPaymentProvider implements types.PaymentProvider by logging calls and
// returning a fake hosted checkout. Used for APP_ENV=local without Stripe keys.
type StubPaymentProvider struct {
	logger *slog.Logger
}

// NewStubPaymentProvider creates a new StubPaymentProvider.
func NewStubPaymentProvider(logger *slog.Logger) *StubPaymentProvider {
	return &StubPaymentProvider{logger: logger}
}

func (s *StubPaymentProvider) CreateCheckoutSession(ctx context.Context, req types.CheckoutRequest) (*types.CheckoutSession, error) {
	s.logger.InfoContext(ctx, "stub: CreateCheckoutSession called",
		"account_id", req.AccountID,
		"kind", string(req.Kind),
		"package_id", req.PackageID,
		"target_tier", string(req.TargetTier),
	)
	id := fmt.Sprintf("cs_stub_%s_%s", req.Kind, req.AccountID)
	return &types.CheckoutSession{ID: id, URL: "https://checkout.stub.local/" + id}, nil
}

// StubWebhookVerifier implements WebhookVerifier by always succeeding.
type StubWebhookVerifier struct {
	logger *slog.Logger
}

// NewStubWebhookVerifier creates a new StubWebhookVerifier.
func NewStubWebhookVerifier(logger *slog.Logger) *StubWebhookVerifier {
	return &StubWebhookVerifier{logger: logger}
}

func (s *StubWebhookVerifier) Verify(payload []byte, header string, secret string) error {
	s.logger.Info("stub: Stripe webhook Verify called", "payload_len", len(payload))
	return nil
}
