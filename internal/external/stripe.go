package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"flui/internal/types"
)

// stripeAPIBase is the default Stripe API base URL.
const stripeAPIBase = "https://api.stripe.com"

// Checkout metadata keys. The webhook handler reads them back from
// checkout.session.completed and subscription events.
const (
	MetaAccountID  = "account_id"
	MetaKind       = "kind"
	MetaPackageID  = "package_id"
	MetaTargetTier = "target_tier"
)

// StripeClientConfig holds the configuration of a StripeClient.
type StripeClientConfig struct {
	SecretKey string
	BaseURL   string // defaults to stripeAPIBase
	// SuccessURL and CancelURL are the hosted checkout redirects.
	SuccessURL string
	CancelURL  string
	// Prices maps paid tiers to recurring Stripe price IDs.
	Prices map[types.PlanTier]string
	Logger *slog.Logger
}

// StripeClient implements types.PaymentProvider with form-encoded calls to
// the Stripe REST API routed through BaseClient.
type StripeClient struct {
	base   *BaseClient
	cfg    StripeClientConfig
	logger *slog.Logger
}

// NewStripeClient creates a StripeClient with Stripe's retry profile.
func NewStripeClient(httpClient *http.Client, cfg StripeClientConfig) *StripeClient {
	base := NewBaseClient(
		httpClient,
		"stripe",
		RetryPolicy{MaxRetries: 2, MinWait: 500 * time.Millisecond, MaxWait: 5 * time.Second},
		"Flui-Entitlements/1.0",
	)
	return NewStripeClientWithBase(base, cfg)
}

// NewStripeClientWithBase creates a StripeClient on a pre-built BaseClient.
func NewStripeClientWithBase(base *BaseClient, cfg StripeClientConfig) *StripeClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = stripeAPIBase
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeClient{base: base, cfg: cfg, logger: logger}
}

// CreateCheckoutSession creates a hosted Checkout Session. Credit packs are
// one-off payments priced inline; upgrades are subscriptions on the price
// configured for the target tier. client_reference_id carries the account.
func (s *StripeClient) CreateCheckoutSession(ctx context.Context, req types.CheckoutRequest) (*types.CheckoutSession, error) {
	params := url.Values{}
	params.Set("client_reference_id", req.AccountID)
	params.Set("success_url", s.cfg.SuccessURL)
	params.Set("cancel_url", s.cfg.CancelURL)
	params.Set("metadata["+MetaAccountID+"]", req.AccountID)
	params.Set("metadata["+MetaKind+"]", string(req.Kind))
	if req.CustomerID != "" {
		params.Set("customer", req.CustomerID)
	}

	switch req.Kind {
	case types.PurchaseKindCreditPack:
		params.Set("mode", "payment")
		params.Set("metadata["+MetaPackageID+"]", req.PackageID)
		params.Set("line_items[0][quantity]", "1")
		params.Set("line_items[0][price_data][currency]", req.Currency)
		params.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(req.Amount, 10))
		params.Set("line_items[0][price_data][product_data][name]", fmt.Sprintf("%s (%d credits)", req.PackageID, req.Credits))
		if req.CustomerID == "" {
			params.Set("customer_creation", "always")
		}

	case types.PurchaseKindUpgrade:
		price, ok := s.cfg.Prices[req.TargetTier]
		if !ok || price == "" {
			return nil, types.NewAppErrorWithDetails(types.ErrCodeInternalUnexpected,
				"no Stripe price configured for tier", nil,
				map[string]any{"tier": string(req.TargetTier)})
		}
		params.Set("mode", "subscription")
		params.Set("metadata["+MetaTargetTier+"]", string(req.TargetTier))
		params.Set("subscription_data[metadata]["+MetaAccountID+"]", req.AccountID)
		params.Set("subscription_data[metadata]["+MetaTargetTier+"]", string(req.TargetTier))
		params.Set("line_items[0][price]", price)
		params.Set("line_items[0][quantity]", "1")

	default:
		return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidBody,
			"unknown checkout kind", nil, map[string]any{"kind": string(req.Kind)})
	}

	resp, err := s.doPost(ctx, "/v1/checkout/sessions", params)
	if err != nil {
		return nil, wrapStripeError("CreateCheckoutSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, handleErrorResponse(resp, "CreateCheckoutSession")
	}

	var session struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to decode Stripe checkout session", err)
	}

	s.logger.InfoContext(ctx, "checkout session created",
		"account_id", req.AccountID,
		"kind", string(req.Kind),
		"session_id", session.ID,
	)
	return &types.CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

func (s *StripeClient) doPost(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+s.cfg.SecretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)
	return s.base.Do(req)
}

type stripeErrorBody struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
}

// handleErrorResponse maps a non-200 Stripe response to an AppError.
func handleErrorResponse(resp *http.Response, operation string) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned %d with an unreadable body", operation, resp.StatusCode), err)
	}

	var parsed struct {
		Error stripeErrorBody `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned %d with a non-JSON body", operation, resp.StatusCode), err)
	}
	e := parsed.Error

	if e.Code == "card_declined" || e.DeclineCode != "" {
		return types.NewAppErrorWithDetails(types.ErrCodePaymentDeclined,
			fmt.Sprintf("%s: payment declined: %s", operation, e.Message), nil,
			map[string]any{"decline_code": e.DeclineCode, "stripe_code": e.Code})
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, operation+": Stripe rate limit exceeded", nil)
	case resp.StatusCode >= 500:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, operation+": Stripe server error: "+e.Message, nil)
	default:
		return types.NewAppError(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe error (%d): %s", operation, resp.StatusCode, e.Message), nil)
	}
}

// wrapStripeError keeps AppErrors from BaseClient and wraps transport errors.
func wrapStripeError(operation string, err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return types.NewAppError(types.ErrCodeUpstreamStripe, operation+": Stripe request failed", err)
}

// WebhookVerifier checks a webhook signature header against a signing secret.
type WebhookVerifier interface {
	Verify(payload []byte, header string, secret string) error
}

// StripeVerifier verifies Stripe-Signature headers (HMAC-SHA256 with
// timestamp tolerance) using stripe-go.
type StripeVerifier struct{}

// Verify implements WebhookVerifier.
func (StripeVerifier) Verify(payload []byte, header string, secret string) error {
	return webhook.ValidatePayload(payload, header, secret)
}
