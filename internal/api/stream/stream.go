// Package stream delivers a player's balance events over SSE or websocket.
//
// Both transports send a snapshot of the current balance first, then forward
// only events newer than that snapshot. When the feed reports missed events
// the balance is re-read and sent as a fresh snapshot.
package stream

import (
	"context"
	"log/slog"
	"time"

	"github.com/mcoot/lemonslots/internal/model"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time between keepalive pings
	pingPeriod = 30 * time.Second
)

// Feed is a live source of one player's events, such as a notify.Subscription
type Feed interface {
	Events() <-chan model.BalanceEvent
	Resync() <-chan struct{}
	Close()
}

// Reader reads the player's current balance as a snapshot event
type Reader func(ctx context.Context) (model.BalanceEvent, error)

// Snapshot builds the event sent when a stream opens
func Snapshot(player *model.Player, now time.Time) model.BalanceEvent {
	return model.BalanceEvent{
		Type:      model.EventSnapshot,
		Timestamp: now,
		Balance:   player.Balance(),
	}
}

// fresh reports whether an event is newer than what the client has seen
func fresh(event model.BalanceEvent, seen int64) bool {
	return event.Balance.Version > seen
}

// resync re-reads the balance after missed events. It reports false when
// the read failed or is not newer than seen.
func resync(ctx context.Context, read Reader, seen int64, logger *slog.Logger) (model.BalanceEvent, bool) {
	event, err := read(ctx)
	if err != nil {
		logger.Warn("balance resync failed", slog.Any("error", err))
		return model.BalanceEvent{}, false
	}
	return event, fresh(event, seen)
}
