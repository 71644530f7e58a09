// Package handlers contains the HTTP handlers of the entitlement API.
//
// This file covers the access surface used by product services:
//   - Account provisioning and lookup
//   - Access checks, consumption and compensation (refund, release)
//   - Plan and credit pack catalogs
//   - The usage banner snapshot and gate dismissal
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"flui/internal/billing"
	"flui/internal/core"
	"flui/internal/entitlement"
	"flui/internal/types"
)

// --- Service Interfaces ---

// AccessService is the subset of entitlement.Service used by AccessHandler.
type AccessService interface {
	Account(ctx context.Context, accountID string) (*types.Account, error)
	Provision(ctx context.Context, accountID string, tier types.PlanTier) (*types.Account, error)
	Check(ctx context.Context, accountID string, feature types.Feature, cost int) (*entitlement.Decision, error)
	Consume(ctx context.Context, accountID string, feature types.Feature, cost int) (*entitlement.Decision, error)
	Refund(ctx context.Context, accountID string, feature types.Feature, verdict types.AccessStatus, cost int) (types.UsageLedger, error)
	Release(ctx context.Context, accountID string, feature types.Feature) (types.UsageLedger, error)
	DismissGate(ctx context.Context, accountID string, gateCtx types.GateContext) error
}

// UsageReader builds the usage banner snapshot.
type UsageReader interface {
	GetCurrentUsage(ctx context.Context, accountID string) (*billing.UsageSnapshot, error)
}

// --- Request/Response Models ---

// ProvisionRequest is the body of POST /v1/accounts. An empty tier means FREE.
type ProvisionRequest struct {
	Tier types.PlanTier `json:"tier" validate:"omitempty,plan_tier"`
}

// AccessRequest is the body of POST /v1/access/check and /v1/access/consume.
// Cost may be given directly or derived from a billable action; an explicit
// cost wins. Costs above one million credits are rejected.
type AccessRequest struct {
	Feature types.Feature `json:"feature" validate:"required"`
	Cost    *int          `json:"cost" validate:"omitempty,min=0,max=1000000"`
	Action  string        `json:"action" validate:"omitempty,credit_action"`
}

// RefundRequest is the body of POST /v1/access/refund. Status is the verdict
// that was committed by the consume being compensated.
type RefundRequest struct {
	Feature types.Feature      `json:"feature" validate:"required"`
	Status  types.AccessStatus `json:"status" validate:"required,oneof=GRANTED_MONTHLY GRANTED_EXTRA"`
	Cost    int                `json:"cost" validate:"min=0,max=1000000"`
}

// ReleaseRequest is the body of POST /v1/access/release.
type ReleaseRequest struct {
	Feature types.Feature `json:"feature" validate:"required"`
}

// DismissRequest is the body of POST /v1/gates/dismiss.
type DismissRequest struct {
	Context types.GateContext `json:"context"`
}

// LedgerResponse wraps a ledger returned by a compensation call.
type LedgerResponse struct {
	AccountID string            `json:"accountId"`
	Ledger    types.UsageLedger `json:"ledger"`
}

// PlanResponse is one entry of GET /v1/plans.
type PlanResponse struct {
	Tier   types.PlanTier   `json:"tier"`
	Limits types.PlanLimits `json:"limits"`
}

// --- Access Handler ---

// AccessHandler serves the access and catalog endpoints.
type AccessHandler struct {
	svc       AccessService
	usage     UsageReader
	plans     billing.PlanRegistry
	packages  *billing.PackageCatalog
	validator *core.Validator
	logger    *slog.Logger
}

// NewAccessHandler creates an AccessHandler.
func NewAccessHandler(
	svc AccessService,
	usage UsageReader,
	plans billing.PlanRegistry,
	packages *billing.PackageCatalog,
	v *core.Validator,
	l *slog.Logger,
) *AccessHandler {
	if l == nil {
		l = slog.Default()
	}
	return &AccessHandler{
		svc:       svc,
		usage:     usage,
		plans:     plans,
		packages:  packages,
		validator: v,
		logger:    l,
	}
}

// RegisterRoutes mounts the access endpoints. requireAccount guards every
// route that acts on the caller's account; catalog reads do not need one.
func (h *AccessHandler) RegisterRoutes(r chi.Router, requireAccount func(http.Handler) http.Handler) {
	r.Get("/plans", h.ListPlans)
	r.Get("/credit-packages", h.ListCreditPackages)

	r.Group(func(r chi.Router) {
		r.Use(requireAccount)

		r.Post("/accounts", h.Provision)
		r.Get("/account", h.GetAccount)
		r.Get("/usage", h.GetUsage)

		r.Post("/access/check", h.Check)
		r.Post("/access/consume", h.Consume)
		r.Post("/access/refund", h.Refund)
		r.Post("/access/release", h.Release)

		r.Post("/gates/dismiss", h.Dismiss)
	})
}

// ListPlans handles GET /v1/plans.
func (h *AccessHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	tiers := h.plans.Tiers()
	out := make([]PlanResponse, 0, len(tiers))
	for _, tier := range tiers {
		out = append(out, PlanResponse{Tier: tier, Limits: h.plans.GetLimits(tier)})
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: out})
}

// ListCreditPackages handles GET /v1/credit-packages.
func (h *AccessHandler) ListCreditPackages(w http.ResponseWriter, r *http.Request) {
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: h.packages.Packages()})
}

// Provision handles POST /v1/accounts. It answers 201 with the new account
// or 409 when the account already exists.
func (h *AccessHandler) Provision(w http.ResponseWriter, r *http.Request) {
	var req ProvisionRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	tier := req.Tier
	if tier == "" {
		tier = types.PlanFree
	}

	account, err := h.svc.Provision(r.Context(), core.AccountID(r), tier)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: account})
}

// GetAccount handles GET /v1/account.
func (h *AccessHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.svc.Account(r.Context(), core.AccountID(r))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: account})
}

// GetUsage handles GET /v1/usage.
func (h *AccessHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.usage.GetCurrentUsage(r.Context(), core.AccountID(r))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: snapshot})
}

// Check handles POST /v1/access/check. Denials are a normal answer here and
// come back as 200 with the prompt attached.
func (h *AccessHandler) Check(w http.ResponseWriter, r *http.Request) {
	req, cost, ok := h.decodeAccess(w, r)
	if !ok {
		return
	}

	decision, err := h.svc.Check(r.Context(), core.AccountID(r), req.Feature, cost)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: decision})
}

// Consume handles POST /v1/access/consume.
//
//  1. Resolves the cost from the body or the action table.
//  2. Checks and commits under the account lock.
//  3. Answers 200 with the decision, or 403 carrying the gate prompt.
func (h *AccessHandler) Consume(w http.ResponseWriter, r *http.Request) {
	req, cost, ok := h.decodeAccess(w, r)
	if !ok {
		return
	}

	decision, err := h.svc.Consume(r.Context(), core.AccountID(r), req.Feature, cost)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if !decision.Granted() {
		core.Error(w, r, decision.Err())
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: decision})
}

// Refund handles POST /v1/access/refund.
func (h *AccessHandler) Refund(w http.ResponseWriter, r *http.Request) {
	var req RefundRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	accountID := core.AccountID(r)
	ledger, err := h.svc.Refund(r.Context(), accountID, req.Feature, req.Status, req.Cost)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "consumption refunded",
		"account_id", accountID,
		"feature", req.Feature,
		"status", req.Status,
		"cost", req.Cost,
	)
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: LedgerResponse{AccountID: accountID, Ledger: ledger}})
}

// Release handles POST /v1/access/release.
func (h *AccessHandler) Release(w http.ResponseWriter, r *http.Request) {
	var req ReleaseRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	accountID := core.AccountID(r)
	ledger, err := h.svc.Release(r.Context(), accountID, req.Feature)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: LedgerResponse{AccountID: accountID, Ledger: ledger}})
}

// Dismiss handles POST /v1/gates/dismiss and answers 204.
func (h *AccessHandler) Dismiss(w http.ResponseWriter, r *http.Request) {
	var req DismissRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.svc.DismissGate(r.Context(), core.AccountID(r), req.Context); err != nil {
		core.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeAccess decodes and validates an AccessRequest and resolves its cost.
// On failure the error response has already been written.
func (h *AccessHandler) decodeAccess(w http.ResponseWriter, r *http.Request) (AccessRequest, int, bool) {
	var req AccessRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return req, 0, false
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return req, 0, false
	}

	switch {
	case req.Cost != nil:
		return req, *req.Cost, true
	case req.Action != "":
		cost, err := billing.ActionCost(types.CreditAction(req.Action))
		if err != nil {
			core.Error(w, r, err)
			return req, 0, false
		}
		return req, cost, true
	default:
		return req, 0, true
	}
}
