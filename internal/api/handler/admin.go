package handler

import (
	"encoding/json"
	"net/http"

	"github.com/mcoot/lemonslots/internal/api/request"
	"github.com/mcoot/lemonslots/internal/api/response"
	"github.com/mcoot/lemonslots/internal/services/grant"
	"github.com/mcoot/lemonslots/internal/services/spin"
)

const (
	defaultGrantListLimit = 50
	maxGrantListLimit     = 500
)

// AdminHandler handles operator endpoints
type AdminHandler struct {
	grants         *grant.Service
	reconciliation *spin.ReconciliationQueue
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(grants *grant.Service, reconciliation *spin.ReconciliationQueue) *AdminHandler {
	return &AdminHandler{
		grants:         grants,
		reconciliation: reconciliation,
	}
}

// Grant handles POST /api/v1/admin/grants
func (h *AdminHandler) Grant(w http.ResponseWriter, r *http.Request) {
	var req request.GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, NewInvalidRequestError("invalid request body"))
		return
	}

	if req.Nickname == "" {
		WriteError(w, NewInvalidRequestError("nickname is required"))
		return
	}

	amount := req.Amount
	if req.Preset != 0 {
		if req.Amount != 0 {
			WriteError(w, NewInvalidRequestError("amount and preset are mutually exclusive"))
			return
		}
		var err error
		if amount, err = grant.PresetAmount(req.Preset); err != nil {
			WriteError(w, err)
			return
		}
	}

	rec, err := h.grants.GrantSpins(r.Context(), req.Nickname, amount)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.GrantResponse{
		OK:       true,
		NewSpins: rec.ResultingSpins,
		Grant:    response.GrantFromModel(rec),
	})
}

// ListGrants handles GET /api/v1/admin/grants
func (h *AdminHandler) ListGrants(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, defaultGrantListLimit, maxGrantListLimit)
	if err != nil {
		WriteError(w, err)
		return
	}

	grants, err := h.grants.ListGrants(r.Context(), limit)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.GrantsFromModel(grants))
}

// PendingCredits handles GET /api/v1/admin/reconciliation
func (h *AdminHandler) PendingCredits(w http.ResponseWriter, r *http.Request) {
	credits, err := h.reconciliation.Pending(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.PendingCreditsFromModel(credits))
}

// Reconcile handles POST /api/v1/admin/reconciliation/run
func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	result, err := h.reconciliation.Reconcile(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.ReconcileResultFromService(result))
}
