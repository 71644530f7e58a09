package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"flui/internal/core"
	"flui/internal/types"
)

// PurchaseService runs the request phase of purchases and upgrades. The
// ledger changes only once the payment provider confirms, in the webhook.
type PurchaseService interface {
	RequestPurchase(ctx context.Context, accountID, packageID string, gateCtx *types.GateContext) (*types.CheckoutSession, error)
	RequestUpgrade(ctx context.Context, accountID string, target types.PlanTier, gateCtx *types.GateContext) (*types.CheckoutSession, error)
}

// CreditCheckoutRequest is the body of POST /v1/billing/credit-checkout.
// Gate is the context of the prompt the purchase started from, if any.
type CreditCheckoutRequest struct {
	PackageID string             `json:"packageId" validate:"required"`
	Gate      *types.GateContext `json:"gate,omitempty"`
}

// UpgradeCheckoutRequest is the body of POST /v1/billing/upgrade-checkout.
type UpgradeCheckoutRequest struct {
	TargetTier types.PlanTier     `json:"targetTier" validate:"required,plan_tier"`
	Gate       *types.GateContext `json:"gate,omitempty"`
}

// CheckoutResponse carries the hosted checkout the client redirects to.
type CheckoutResponse struct {
	CheckoutURL string `json:"checkoutUrl"`
	SessionID   string `json:"sessionId"`
}

// BillingHandler starts checkouts initiated from a gate prompt.
type BillingHandler struct {
	svc       PurchaseService
	validator *core.Validator
	logger    *slog.Logger
}

// NewBillingHandler creates a BillingHandler.
func NewBillingHandler(svc PurchaseService, v *core.Validator, l *slog.Logger) *BillingHandler {
	if l == nil {
		l = slog.Default()
	}
	return &BillingHandler{svc: svc, validator: v, logger: l}
}

// RegisterRoutes mounts the checkout endpoints behind requireAccount.
func (h *BillingHandler) RegisterRoutes(r chi.Router, requireAccount func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(requireAccount)
		r.Post("/billing/credit-checkout", h.CreateCreditCheckout)
		r.Post("/billing/upgrade-checkout", h.CreateUpgradeCheckout)
	})
}

// CreateCreditCheckout handles POST /v1/billing/credit-checkout.
//
//  1. Validates the package id.
//  2. Confirms the gate transition and asks the provider for a checkout.
//  3. Returns 200 with the checkout URL. Credits are added by the webhook.
func (h *BillingHandler) CreateCreditCheckout(w http.ResponseWriter, r *http.Request) {
	var req CreditCheckoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	accountID := core.AccountID(r)
	session, err := h.svc.RequestPurchase(r.Context(), accountID, req.PackageID, req.Gate)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to create credit checkout",
			"account_id", accountID,
			"package_id", req.PackageID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: CheckoutResponse{
		CheckoutURL: session.URL,
		SessionID:   session.ID,
	}})
}

// CreateUpgradeCheckout handles POST /v1/billing/upgrade-checkout. Downgrades
// are rejected by the gate flow with 403.
func (h *BillingHandler) CreateUpgradeCheckout(w http.ResponseWriter, r *http.Request) {
	var req UpgradeCheckoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	accountID := core.AccountID(r)
	session, err := h.svc.RequestUpgrade(r.Context(), accountID, req.TargetTier, req.Gate)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to create upgrade checkout",
			"account_id", accountID,
			"target_tier", req.TargetTier,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: CheckoutResponse{
		CheckoutURL: session.URL,
		SessionID:   session.ID,
	}})
}
