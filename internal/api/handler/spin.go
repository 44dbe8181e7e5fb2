package handler

import (
	"net/http"

	"github.com/mcoot/lemonslots/internal/api/middleware"
	"github.com/mcoot/lemonslots/internal/api/response"
	"github.com/mcoot/lemonslots/internal/services/spin"
)

// SpinHandler handles spin endpoints
type SpinHandler struct {
	engine *spin.Engine
}

// NewSpinHandler creates a new spin handler
func NewSpinHandler(engine *spin.Engine) *SpinHandler {
	return &SpinHandler{engine: engine}
}

// Spin handles POST /api/v1/spins
func (h *SpinHandler) Spin(w http.ResponseWriter, r *http.Request) {
	session := middleware.MustGetSession(r.Context())

	outcome, err := h.engine.ResolveSpin(r.Context(), session.PlayerID)
	if err != nil {
		if outcome != nil {
			// consumed spin whose reward is parked
			WriteErrorWithDetails(w, err, response.SpinOutcomeFromModel(outcome))
			return
		}
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.SpinOutcomeFromModel(outcome))
}
