// This file implements the Stripe webhook handler, the confirmation phase of
// credit pack purchases and tier upgrades.
//
// The route is NOT behind service-key auth; Stripe calls it directly and the
// Stripe-Signature header is verified instead.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v82"

	"flui/internal/core"
	"flui/internal/external"
	"flui/internal/metrics"
	"flui/internal/types"
)

// maxWebhookBodySize is the maximum allowed size of a Stripe webhook payload (64 KB).
const maxWebhookBodySize = 64 * 1024

// PaymentConfirmations applies provider-confirmed payments to the ledger.
// Every method is safe to call again for a redelivered event.
type PaymentConfirmations interface {
	ApplyPurchase(ctx context.Context, accountID, packageID, paymentRef string) (bool, types.UsageLedger, error)
	ChangeTier(ctx context.Context, accountID string, newTier types.PlanTier) (*types.Account, error)
	RenewCycle(ctx context.Context, accountID, invoiceRef string) (bool, types.UsageLedger, error)
	LinkCustomer(ctx context.Context, accountID, customerID string) error
}

// PackageLookup resolves credit pack ids from checkout metadata.
type PackageLookup interface {
	Package(id string) (types.CreditPackage, error)
}

// StripeWebhookHandler handles asynchronous events from Stripe.
type StripeWebhookHandler struct {
	verifier external.WebhookVerifier
	svc      PaymentConfirmations
	packages PackageLookup
	secret   string
	logger   *slog.Logger
}

// NewStripeWebhookHandler creates a StripeWebhookHandler.
func NewStripeWebhookHandler(
	verifier external.WebhookVerifier,
	svc PaymentConfirmations,
	packages PackageLookup,
	secret string,
	logger *slog.Logger,
) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		verifier: verifier,
		svc:      svc,
		packages: packages,
		secret:   secret,
		logger:   logger,
	}
}

// RegisterRoutes mounts the Stripe webhook endpoint.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle processes incoming Stripe webhook events.
//
//  1. Reads the body and verifies the Stripe-Signature header.
//  2. Parses the event and routes it by type.
//  3. Answers 200 for processed, ignored and permanently unprocessable
//     events, and 500 for transient failures so Stripe redelivers.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidBody,
			"failed to read request body",
			err,
		))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		h.logger.WarnContext(r.Context(), "missing Stripe-Signature header")
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenMissing,
			"missing Stripe-Signature header",
			nil,
		))
		return
	}

	if err := h.verifier.Verify(payload, sigHeader, h.secret); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenInvalid,
			"webhook signature verification failed",
			err,
		))
		return
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil || event.Data == nil {
		h.logger.ErrorContext(r.Context(), "failed to parse webhook event JSON", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidBody,
			"invalid webhook event JSON",
			err,
		))
		return
	}

	h.logger.InfoContext(r.Context(), "processing stripe webhook event",
		"event_id", event.ID,
		"event_type", event.Type,
	)

	if err := h.routeEvent(r.Context(), event); err != nil {
		if isRetryable(err) {
			h.logger.ErrorContext(r.Context(), "webhook event processing failed, awaiting redelivery",
				"event_id", event.ID,
				"event_type", event.Type,
				"error", err,
			)
			core.Error(w, r, err)
			return
		}
		h.logger.ErrorContext(r.Context(), "webhook event dropped",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err,
		)
	}

	w.WriteHeader(http.StatusOK)
}

// routeEvent dispatches the event to its handler.
func (h *StripeWebhookHandler) routeEvent(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		return h.handleCheckoutCompleted(ctx, event)
	case stripe.EventTypeCustomerSubscriptionDeleted:
		return h.handleSubscriptionDeleted(ctx, event)
	case stripe.EventTypeInvoicePaid:
		return h.handleInvoicePaid(ctx, event)
	default:
		h.logger.InfoContext(ctx, "ignoring unhandled webhook event type", "event_type", event.Type)
		return nil
	}
}

// handleCheckoutCompleted confirms a credit pack purchase or a tier upgrade.
// Sessions whose payment is still pending are skipped; the async success
// event arrives later with the same session.
func (h *StripeWebhookHandler) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("parse checkout session: %w", err)
	}

	accountID := session.ClientReferenceID
	if accountID == "" {
		accountID = session.Metadata[external.MetaAccountID]
	}
	if accountID == "" {
		return fmt.Errorf("%s: missing account id in event %s", event.Type, event.ID)
	}

	if session.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		h.logger.InfoContext(ctx, "checkout session not paid yet",
			"event_id", event.ID,
			"session_id", session.ID,
			"account_id", accountID,
		)
		return nil
	}

	switch types.PurchaseKind(session.Metadata[external.MetaKind]) {
	case types.PurchaseKindCreditPack:
		packageID := session.Metadata[external.MetaPackageID]
		pkg, err := h.packages.Package(packageID)
		if err != nil {
			return err
		}
		applied, _, err := h.svc.ApplyPurchase(ctx, accountID, pkg.ID, session.ID)
		if err != nil {
			return err
		}
		if applied {
			metrics.CreditsPurchasedTotal.Add(float64(pkg.Credits))
		}

	case types.PurchaseKindUpgrade:
		tier := types.PlanTier(session.Metadata[external.MetaTargetTier])
		if _, err := h.svc.ChangeTier(ctx, accountID, tier); err != nil {
			return err
		}

	default:
		return fmt.Errorf("%s: unknown purchase kind %q in event %s",
			event.Type, session.Metadata[external.MetaKind], event.ID)
	}

	if session.Customer != nil {
		if err := h.svc.LinkCustomer(ctx, accountID, session.Customer.ID); err != nil {
			h.logger.WarnContext(ctx, "failed to link stripe customer",
				"account_id", accountID,
				"error", err,
			)
		}
	}
	return nil
}

// handleSubscriptionDeleted moves a cancelled subscriber back to FREE.
func (h *StripeWebhookHandler) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("parse subscription: %w", err)
	}

	accountID := sub.Metadata[external.MetaAccountID]
	if accountID == "" {
		return fmt.Errorf("%s: missing account id in event %s", event.Type, event.ID)
	}

	h.logger.InfoContext(ctx, "subscription cancelled, reverting to free tier",
		"event_id", event.ID,
		"account_id", accountID,
	)
	_, err := h.svc.ChangeTier(ctx, accountID, types.PlanFree)
	return err
}

// handleInvoicePaid renews the monthly allotment when a subscription cycle
// invoice is paid. The first invoice of a subscription is covered by the
// checkout event and is ignored here. Redeliveries of the same invoice are
// no-ops.
func (h *StripeWebhookHandler) handleInvoicePaid(ctx context.Context, event stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("parse invoice: %w", err)
	}

	if invoice.BillingReason != stripe.InvoiceBillingReasonSubscriptionCycle {
		return nil
	}

	var accountID string
	if invoice.Parent != nil && invoice.Parent.SubscriptionDetails != nil {
		accountID = invoice.Parent.SubscriptionDetails.Metadata[external.MetaAccountID]
	}
	if accountID == "" {
		accountID = invoice.Metadata[external.MetaAccountID]
	}
	if accountID == "" {
		return fmt.Errorf("%s: missing account id in event %s", event.Type, event.ID)
	}

	renewed, _, err := h.svc.RenewCycle(ctx, accountID, invoice.ID)
	if err != nil {
		return err
	}
	h.logger.InfoContext(ctx, "subscription invoice paid",
		"event_id", event.ID,
		"invoice_id", invoice.ID,
		"account_id", accountID,
		"cycle_reset", renewed,
	)
	return nil
}

// isRetryable reports whether Stripe should redeliver the event. Internal
// and upstream failures are transient; everything else will fail again.
func isRetryable(err error) bool {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.IsInternal() || appErr.HTTPStatus() == http.StatusBadGateway
}
