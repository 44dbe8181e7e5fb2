// Package notify fans balance events out to per-player and global subscribers.
//
// Events are delivered in publish order, at most once. A subscriber whose
// buffer is full misses events rather than stalling the hub; the hub then
// signals Resync and the subscriber re-reads the balance from the store.
// A subscriber never sees a version of a player's balance older than one it
// has already received.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mcoot/lemonslots/internal/metrics"
	"github.com/mcoot/lemonslots/internal/model"
)

const (
	publishBuffer      = 1024
	subscriptionBuffer = 64
)

// Publisher accepts balance events after a store mutation
type Publisher interface {
	Publish(ctx context.Context, event model.BalanceEvent)
}

// Subscription receives events for one player, or for all players when global
type Subscription struct {
	hub         *Hub
	playerID    model.PlayerID // empty for the global topic
	events      chan model.BalanceEvent
	resync      chan struct{}
	lastVersion map[model.PlayerID]int64 // owned by the hub loop
	connectedAt time.Time
	closeOnce   sync.Once
}

// Events returns the delivery channel. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan model.BalanceEvent {
	return s.events
}

// PlayerID is the subscribed player, empty for the global topic
func (s *Subscription) PlayerID() model.PlayerID {
	return s.playerID
}

// Resync fires after the subscription missed at least one event. Pending
// signals coalesce; the channel is never closed.
func (s *Subscription) Resync() <-chan struct{} {
	return s.resync
}

func (s *Subscription) markMissed() {
	select {
	case s.resync <- struct{}{}:
	default:
	}
}

// Close detaches the subscription from the hub
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.hub.unsubscribe(s)
	})
}

// Hub routes published events to subscriptions
type Hub struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	players map[model.PlayerID]map[*Subscription]bool
	global  map[*Subscription]bool

	register   chan *Subscription
	unregister chan *Subscription
	broadcast  chan model.BalanceEvent
	done       chan struct{}
	stopOnce   sync.Once
}

// Ensure Hub implements Publisher
var _ Publisher = (*Hub)(nil)

// NewHub creates a Hub. Run must be started before subscribing.
func NewHub(logger *slog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		logger:     logger.With(slog.String("component", "notify")),
		metrics:    m,
		players:    make(map[model.PlayerID]map[*Subscription]bool),
		global:     make(map[*Subscription]bool),
		register:   make(chan *Subscription),
		unregister: make(chan *Subscription),
		broadcast:  make(chan model.BalanceEvent, publishBuffer),
		done:       make(chan struct{}),
	}
}

// Run processes registrations and events until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("notify hub started")
	for {
		select {
		case sub := <-h.register:
			h.mu.Lock()
			if sub.playerID == "" {
				h.global[sub] = true
			} else {
				if h.players[sub.playerID] == nil {
					h.players[sub.playerID] = make(map[*Subscription]bool)
				}
				h.players[sub.playerID][sub] = true
			}
			h.mu.Unlock()
			h.logger.Debug("subscriber registered", slog.String("player_id", string(sub.playerID)))

		case sub := <-h.unregister:
			if h.remove(sub) {
				h.logger.Debug("subscriber unregistered",
					slog.String("player_id", string(sub.playerID)),
					slog.Duration("connection_duration", time.Since(sub.connectedAt)))
			}

		case event := <-h.broadcast:
			h.deliver(event)

		case <-ctx.Done():
			h.stop()
			return
		}
	}
}

// Publish queues an event for delivery without blocking the caller
func (h *Hub) Publish(_ context.Context, event model.BalanceEvent) {
	select {
	case h.broadcast <- event:
	default:
		h.metrics.NotifierDropped.Inc()
		h.logger.Warn("balance event dropped - hub buffer full",
			slog.String("player_id", string(event.PlayerID())),
			slog.Int64("version", event.Balance.Version))
		h.markMissed(event.PlayerID())
	}
}

// markMissed tells everyone who would have received a dropped event to resync
func (h *Hub) markMissed(id model.PlayerID) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.players[id] {
		sub.markMissed()
	}
	for sub := range h.global {
		sub.markMissed()
	}
}

// SubscribePlayer returns a subscription to one player's events
func (h *Hub) SubscribePlayer(id model.PlayerID) *Subscription {
	return h.subscribe(id)
}

// SubscribeAll returns a subscription to every player's events
func (h *Hub) SubscribeAll() *Subscription {
	return h.subscribe("")
}

// SubscriberCount returns the number of active subscriptions
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := len(h.global)
	for _, subs := range h.players {
		n += len(subs)
	}
	return n
}

func (h *Hub) subscribe(id model.PlayerID) *Subscription {
	sub := &Subscription{
		hub:         h,
		playerID:    id,
		events:      make(chan model.BalanceEvent, subscriptionBuffer),
		resync:      make(chan struct{}, 1),
		lastVersion: make(map[model.PlayerID]int64),
		connectedAt: time.Now(),
	}
	select {
	case h.register <- sub:
	case <-h.done:
		close(sub.events)
	}
	return sub
}

func (h *Hub) unsubscribe(sub *Subscription) {
	select {
	case h.unregister <- sub:
	case <-h.done:
	}
}

func (h *Hub) remove(sub *Subscription) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub.playerID == "" {
		if !h.global[sub] {
			return false
		}
		delete(h.global, sub)
	} else {
		subs := h.players[sub.playerID]
		if !subs[sub] {
			return false
		}
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.players, sub.playerID)
		}
	}
	close(sub.events)
	return true
}

func (h *Hub) deliver(event model.BalanceEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	id := event.PlayerID()
	for sub := range h.players[id] {
		h.send(sub, event)
	}
	for sub := range h.global {
		h.send(sub, event)
	}
}

func (h *Hub) send(sub *Subscription, event model.BalanceEvent) {
	id := event.PlayerID()
	if last, ok := sub.lastVersion[id]; ok && event.Balance.Version <= last {
		h.logger.Debug("stale balance event skipped",
			slog.String("player_id", string(id)),
			slog.Int64("version", event.Balance.Version),
			slog.Int64("last_version", last))
		return
	}

	select {
	case sub.events <- event:
		sub.lastVersion[id] = event.Balance.Version
	default:
		h.metrics.NotifierDropped.Inc()
		h.logger.Warn("balance event dropped - subscriber buffer full",
			slog.String("player_id", string(id)),
			slog.String("subscriber", string(sub.playerID)))
		sub.markMissed()
	}
}

func (h *Hub) stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})

	h.mu.Lock()
	count := len(h.global)
	for sub := range h.global {
		close(sub.events)
	}
	h.global = make(map[*Subscription]bool)
	for _, subs := range h.players {
		for sub := range subs {
			close(sub.events)
			count++
		}
	}
	h.players = make(map[model.PlayerID]map[*Subscription]bool)
	h.mu.Unlock()

	h.logger.Info("notify hub stopped", slog.Int("disconnected_subscribers", count))
}
