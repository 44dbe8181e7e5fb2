package handler

import (
	"encoding/json"
	"net/http"

	"github.com/mcoot/lemonslots/internal/api/middleware"
	"github.com/mcoot/lemonslots/internal/api/request"
	"github.com/mcoot/lemonslots/internal/api/response"
	"github.com/mcoot/lemonslots/internal/services/directory"
)

// PlayerHandler handles player-related endpoints
type PlayerHandler struct {
	directory *directory.Service
}

// NewPlayerHandler creates a new player handler
func NewPlayerHandler(directoryService *directory.Service) *PlayerHandler {
	return &PlayerHandler{
		directory: directoryService,
	}
}

// Login handles POST /api/v1/players/login
// The nickname is claimed on first use and resolved to the same player afterwards.
func (h *PlayerHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req request.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, NewInvalidRequestError("invalid request body"))
		return
	}

	session, player, err := h.directory.ResolveOrCreate(r.Context(), req.Nickname)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.AuthResponseFromSession(session, player))
}

// Logout handles POST /api/v1/players/logout
func (h *PlayerHandler) Logout(w http.ResponseWriter, r *http.Request) {
	session := middleware.MustGetSession(r.Context())
	h.directory.InvalidateSession(session.Token)
	response.NoContent(w)
}

// GetMe handles GET /api/v1/players/me
func (h *PlayerHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	session := middleware.MustGetSession(r.Context())

	player, err := h.directory.GetPlayer(r.Context(), session.PlayerID)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.PlayerFromModel(player))
}
