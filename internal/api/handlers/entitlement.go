package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"platemask/internal/core"
	"platemask/internal/types"
)

// EntitlementReader serves the projected grant for an account.
type EntitlementReader interface {
	GetEntitlement(ctx context.Context, accountID string) (types.Entitlement, error)
}

// PlanLister serves the static plan table.
type PlanLister interface {
	Definitions() []types.PlanDefinition
}

// BillingReadHandler exposes the synchronous read API over the entitlement
// projection and the plan catalog. Reads never touch the payment provider.
type BillingReadHandler struct {
	entitlements EntitlementReader
	plans        PlanLister
	logger       *slog.Logger
}

// NewBillingReadHandler creates a BillingReadHandler.
func NewBillingReadHandler(entitlements EntitlementReader, plans PlanLister, logger *slog.Logger) *BillingReadHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingReadHandler{
		entitlements: entitlements,
		plans:        plans,
		logger:       logger,
	}
}

// RegisterRoutes mounts the billing read endpoints.
func (h *BillingReadHandler) RegisterRoutes(r chi.Router) {
	r.Get("/v1/billing/entitlement/{accountID}", h.GetEntitlement)
	r.Get("/v1/billing/plans", h.ListPlans)
}

// GetEntitlement returns the account's current grant. Accounts with no
// projection row get the free default.
func (h *BillingReadHandler) GetEntitlement(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	if accountID == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"account id is required",
			nil,
		))
		return
	}

	ent, err := h.entitlements.GetEntitlement(r.Context(), accountID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to load entitlement",
			"account_id", accountID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: ent})
}

// ListPlans returns the static plan table for the pricing and billing UI.
func (h *BillingReadHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: h.plans.Definitions()})
}
