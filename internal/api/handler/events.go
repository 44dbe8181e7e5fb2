package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/mcoot/lemonslots/internal/api/middleware"
	"github.com/mcoot/lemonslots/internal/api/stream"
	"github.com/mcoot/lemonslots/internal/dependencies/clock"
	"github.com/mcoot/lemonslots/internal/model"
	"github.com/mcoot/lemonslots/internal/services/directory"
	"github.com/mcoot/lemonslots/internal/services/notify"
)

// EventsHandler streams a player's balance events
type EventsHandler struct {
	directory *directory.Service
	hub       *notify.Hub
	clock     clock.Clock
	logger    *slog.Logger
}

// NewEventsHandler creates a new events handler
func NewEventsHandler(directoryService *directory.Service, hub *notify.Hub, clk clock.Clock, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		directory: directoryService,
		hub:       hub,
		clock:     clk,
		logger:    logger,
	}
}

// SSE handles GET /api/v1/players/me/events
func (h *EventsHandler) SSE(w http.ResponseWriter, r *http.Request) {
	sub, snapshot, ok := h.open(w, r)
	if !ok {
		return
	}
	stream.ServeSSE(w, r, sub, snapshot, h.reader(sub), h.logger)
}

// WebSocket handles GET /api/v1/players/me/ws
func (h *EventsHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	sub, snapshot, ok := h.open(w, r)
	if !ok {
		return
	}
	stream.ServeWS(w, r, sub, snapshot, h.reader(sub), h.logger)
}

// open subscribes before reading the snapshot so no mutation falls between the two
func (h *EventsHandler) open(w http.ResponseWriter, r *http.Request) (*notify.Subscription, model.BalanceEvent, bool) {
	session := middleware.MustGetSession(r.Context())

	sub := h.hub.SubscribePlayer(session.PlayerID)
	player, err := h.directory.GetPlayer(r.Context(), session.PlayerID)
	if err != nil {
		sub.Close()
		WriteError(w, err)
		return nil, model.BalanceEvent{}, false
	}

	return sub, stream.Snapshot(player, h.clock.Now()), true
}

// reader re-reads the subscribed player's balance after missed events
func (h *EventsHandler) reader(sub *notify.Subscription) stream.Reader {
	return func(ctx context.Context) (model.BalanceEvent, error) {
		player, err := h.directory.GetPlayer(ctx, sub.PlayerID())
		if err != nil {
			return model.BalanceEvent{}, err
		}
		return stream.Snapshot(player, h.clock.Now()), nil
	}
}
