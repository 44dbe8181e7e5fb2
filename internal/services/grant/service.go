package grant

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/mcoot/lemonslots/internal/dependencies/clock"
	"github.com/mcoot/lemonslots/internal/metrics"
	"github.com/mcoot/lemonslots/internal/model"
	"github.com/mcoot/lemonslots/internal/services/notify"
	"github.com/mcoot/lemonslots/internal/services/playerlock"
	"github.com/mcoot/lemonslots/internal/storage"
)

// Service credits spins to players by nickname on behalf of an admin
type Service struct {
	store     storage.Storage
	locks     playerlock.Locker
	publisher notify.Publisher
	clock     clock.Clock
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New creates a grant Service
func New(
	store storage.Storage,
	locks playerlock.Locker,
	publisher notify.Publisher,
	clock clock.Clock,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:     store,
		locks:     locks,
		publisher: publisher,
		clock:     clock,
		metrics:   m,
		logger:    logger.With(slog.String("component", "grant")),
	}
}

// GrantSpins adds amount spins to the named player and records the grant.
// Non-positive amounts fail with model.ErrInvalidAmount and unknown nicknames
// with model.ErrUnknownPlayer, both before anything is written.
func (s *Service) GrantSpins(ctx context.Context, nickname string, amount int64) (*model.GrantRecord, error) {
	if amount <= 0 {
		return nil, model.ErrInvalidAmount
	}

	player, err := s.store.GetPlayerByNickname(ctx, strings.TrimSpace(nickname))
	if err != nil {
		if errors.Is(err, model.ErrUnknownPlayer) {
			s.logger.Warn("grant for unknown nickname", slog.String("nickname", nickname))
		}
		return nil, err
	}

	// Queue behind any spin in flight so the player's events stay ordered
	release, err := s.locks.Acquire(ctx, player.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	rec := &model.GrantRecord{
		ID:        uuid.NewString(),
		PlayerID:  player.ID,
		Nickname:  player.Nickname,
		Amount:    amount,
		GrantedAt: s.clock.Now(),
	}
	bal, err := s.store.RecordGrant(ctx, rec)
	if err != nil {
		s.logger.Error("failed to record grant",
			slog.String("player_id", string(player.ID)),
			slog.Int64("amount", amount),
			slog.String("error", err.Error()))
		return nil, err
	}

	s.metrics.SpinsGranted.Add(float64(amount))
	s.publisher.Publish(context.WithoutCancel(ctx), model.BalanceEvent{
		Type:      model.EventSpinsGranted,
		Timestamp: rec.GrantedAt,
		Balance:   bal,
	})

	s.logger.Info("spins granted",
		slog.String("grant_id", rec.ID),
		slog.String("player_id", string(player.ID)),
		slog.String("nickname", player.Nickname),
		slog.Int64("amount", amount),
		slog.Int64("resulting_spins", rec.ResultingSpins))
	return rec, nil
}

// ListGrants returns up to limit grants, newest first
func (s *Service) ListGrants(ctx context.Context, limit int) ([]model.GrantRecord, error) {
	return s.store.ListGrants(ctx, limit)
}
