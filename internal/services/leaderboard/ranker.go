package leaderboard

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcoot/lemonslots/internal/model"
	"github.com/mcoot/lemonslots/internal/services/notify"
	"github.com/mcoot/lemonslots/internal/storage"
)

// Config holds leaderboard settings
type Config struct {
	Size     int
	Debounce time.Duration
}

// DefaultConfig returns default leaderboard configuration
func DefaultConfig() Config {
	return Config{
		Size:     10,
		Debounce: 250 * time.Millisecond,
	}
}

// Ranker keeps a cached top-N list, recomputed from the store after balance
// events. Bursts of events within the debounce window cause one recompute.
type Ranker struct {
	store  storage.LeaderboardStore
	hub    *notify.Hub
	cfg    Config
	logger *slog.Logger

	mu      sync.RWMutex
	entries []model.LeaderboardEntry
	updated time.Time

	recomputes atomic.Int64
}

// New creates a Ranker
func New(store storage.LeaderboardStore, hub *notify.Hub, cfg Config, logger *slog.Logger) *Ranker {
	defaults := DefaultConfig()
	if cfg.Size <= 0 {
		cfg.Size = defaults.Size
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaults.Debounce
	}
	return &Ranker{
		store:   store,
		hub:     hub,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "leaderboard")),
		entries: []model.LeaderboardEntry{},
	}
}

// Size returns the number of entries the ranker keeps
func (r *Ranker) Size() int {
	return r.cfg.Size
}

// Run loads the initial ranking, then recomputes after balance events until ctx is cancelled
func (r *Ranker) Run(ctx context.Context) error {
	sub := r.hub.SubscribeAll()
	defer sub.Close()
	return r.watch(ctx, sub)
}

// feed is the part of a notify.Subscription the ranker reads
type feed interface {
	Events() <-chan model.BalanceEvent
	Resync() <-chan struct{}
}

func (r *Ranker) watch(ctx context.Context, sub feed) error {
	if err := r.Refresh(ctx); err != nil {
		r.logger.Warn("initial leaderboard load failed", slog.String("error", err.Error()))
	}

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	for {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if timer == nil {
				timer = time.NewTimer(r.cfg.Debounce)
				timerCh = timer.C
			}

		case <-sub.Resync():
			// events were dropped, so only a refresh is certain to catch up
			if timer == nil {
				timer = time.NewTimer(r.cfg.Debounce)
				timerCh = timer.C
			}

		case <-timerCh:
			timer, timerCh = nil, nil
			if err := r.Refresh(ctx); err != nil {
				r.logger.Warn("leaderboard refresh failed", slog.String("error", err.Error()))
			}

		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		}
	}
}

// Refresh recomputes the ranking from the store now
func (r *Ranker) Refresh(ctx context.Context) error {
	entries, err := r.store.TopPlayers(ctx, r.cfg.Size)
	if err != nil {
		return err
	}
	r.recomputes.Add(1)

	r.mu.Lock()
	r.entries = entries
	r.updated = time.Now().UTC()
	r.mu.Unlock()

	r.logger.Debug("leaderboard refreshed", slog.Int("entries", len(entries)))
	return nil
}

// Top returns up to n ranked entries. n <= 0 returns the full cached list.
func (r *Ranker) Top(n int) []model.LeaderboardEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 || n > len(r.entries) {
		n = len(r.entries)
	}
	out := make([]model.LeaderboardEntry, n)
	copy(out, r.entries[:n])
	return out
}

// UpdatedAt returns when the ranking was last recomputed
func (r *Ranker) UpdatedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.updated
}
