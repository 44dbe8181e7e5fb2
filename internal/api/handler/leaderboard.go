package handler

import (
	"net/http"

	"github.com/mcoot/lemonslots/internal/api/response"
	"github.com/mcoot/lemonslots/internal/services/leaderboard"
)

// LeaderboardHandler serves the cached ranking
type LeaderboardHandler struct {
	ranker *leaderboard.Ranker
}

// NewLeaderboardHandler creates a new leaderboard handler
func NewLeaderboardHandler(ranker *leaderboard.Ranker) *LeaderboardHandler {
	return &LeaderboardHandler{ranker: ranker}
}

// Get handles GET /api/v1/leaderboard
func (h *LeaderboardHandler) Get(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, h.ranker.Size(), h.ranker.Size())
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.LeaderboardFromModel(h.ranker.Top(limit)))
}
