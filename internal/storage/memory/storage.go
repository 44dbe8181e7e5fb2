package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mcoot/lemonslots/internal/model"
	"github.com/mcoot/lemonslots/internal/storage"
)

// Storage is an in-memory implementation of the storage interface.
// A single mutex makes every operation atomic with respect to all others.
type Storage struct {
	mu sync.RWMutex

	players       map[model.PlayerID]*model.Player
	nicknameIndex map[string]model.PlayerID
	grants        []model.GrantRecord
	settlements   map[model.SpinID]model.Balance
	credits       map[model.SpinID]*parkedCredit
	creditOrder   []model.SpinID
	now           func() time.Time
}

type parkedCredit struct {
	credit  model.PendingCredit
	applied bool
	result  model.Balance
}

// New creates a new in-memory storage instance
func New() *Storage {
	return &Storage{
		players:       make(map[model.PlayerID]*model.Player),
		nicknameIndex: make(map[string]model.PlayerID),
		settlements:   make(map[model.SpinID]model.Balance),
		credits:       make(map[model.SpinID]*parkedCredit),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// Player operations

func (s *Storage) CreatePlayer(ctx context.Context, player *model.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.nicknameIndex[player.Nickname]; taken {
		return model.ErrNicknameTaken
	}
	p := *player
	s.players[p.ID] = &p
	s.nicknameIndex[p.Nickname] = p.ID
	return nil
}

func (s *Storage) GetPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	player, ok := s.players[id]
	if !ok {
		return nil, model.ErrUnknownPlayer
	}
	p := *player
	return &p, nil
}

func (s *Storage) GetPlayerByNickname(ctx context.Context, nickname string) (*model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.nicknameIndex[nickname]
	if !ok {
		return nil, model.ErrUnknownPlayer
	}
	p := *s.players[id]
	return &p, nil
}

// Balance operations

func (s *Storage) ConditionalDecrementSpins(ctx context.Context, id model.PlayerID, amount int64) (model.Balance, error) {
	if amount < 0 {
		return model.Balance{}, model.ErrInvalidAmount
	}
	return s.apply(id, -amount, 0)
}

func (s *Storage) IncrementPoints(ctx context.Context, id model.PlayerID, amount int64) (model.Balance, error) {
	return s.apply(id, 0, amount)
}

func (s *Storage) IncrementSpins(ctx context.Context, id model.PlayerID, amount int64) (model.Balance, error) {
	if amount < 0 {
		return model.Balance{}, model.ErrInvalidAmount
	}
	return s.apply(id, amount, 0)
}

func (s *Storage) SettleSpin(ctx context.Context, id model.PlayerID, spinID model.SpinID, cost, reward int64) (model.Balance, error) {
	if cost < 0 || reward < 0 {
		return model.Balance{}, model.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settleLocked(id, spinID, -cost, reward)
}

func (s *Storage) settleLocked(id model.PlayerID, spinID model.SpinID, spinsDelta, pointsDelta int64) (model.Balance, error) {
	if bal, ok := s.settlements[spinID]; ok {
		return bal, nil
	}
	bal, err := s.applyLocked(id, spinsDelta, pointsDelta)
	if err != nil {
		return model.Balance{}, err
	}
	s.settlements[spinID] = bal
	return bal, nil
}

// apply adds the deltas under the write lock. A negative spins delta is only
// applied when the balance covers it.
func (s *Storage) apply(id model.PlayerID, spinsDelta, pointsDelta int64) (model.Balance, error) {
	if pointsDelta < 0 {
		return model.Balance{}, model.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(id, spinsDelta, pointsDelta)
}

func (s *Storage) applyLocked(id model.PlayerID, spinsDelta, pointsDelta int64) (model.Balance, error) {
	player, ok := s.players[id]
	if !ok {
		return model.Balance{}, model.ErrUnknownPlayer
	}
	if player.Spins+spinsDelta < 0 {
		return model.Balance{}, model.ErrInsufficientBalance
	}
	player.Spins += spinsDelta
	player.Points += pointsDelta
	player.Version++
	player.UpdatedAt = s.now()
	return player.Balance(), nil
}

// Pending credit operations

func (s *Storage) DebitSpin(ctx context.Context, credit model.PendingCredit, cost int64) (model.Balance, error) {
	if cost < 0 || credit.Amount < 0 {
		return model.Balance{}, model.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if bal, ok := s.settlements[credit.SpinID]; ok {
		return bal, nil
	}
	bal, err := s.settleLocked(credit.PlayerID, credit.SpinID, -cost, 0)
	if err != nil {
		return model.Balance{}, err
	}
	if credit.Amount > 0 {
		s.credits[credit.SpinID] = &parkedCredit{credit: credit}
		s.creditOrder = append(s.creditOrder, credit.SpinID)
	}
	return bal, nil
}

func (s *Storage) ApplyPendingCredit(ctx context.Context, spinID model.SpinID) (model.Balance, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	parked, ok := s.credits[spinID]
	if !ok {
		return model.Balance{}, false, model.ErrNoPendingCredit
	}
	if parked.applied {
		return parked.result, false, nil
	}
	bal, err := s.applyLocked(parked.credit.PlayerID, 0, parked.credit.Amount)
	if err != nil {
		return model.Balance{}, false, err
	}
	parked.applied = true
	parked.result = bal
	return bal, true, nil
}

func (s *Storage) RecordCreditAttempt(ctx context.Context, spinID model.SpinID, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	parked, ok := s.credits[spinID]
	if !ok || parked.applied {
		return model.ErrNoPendingCredit
	}
	parked.credit.Attempts++
	parked.credit.LastError = lastErr
	return nil
}

func (s *Storage) PendingCredits(ctx context.Context) ([]model.PendingCredit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]model.PendingCredit, 0)
	for _, id := range s.creditOrder {
		if parked := s.credits[id]; !parked.applied {
			result = append(result, parked.credit)
		}
	}
	return result, nil
}

// Leaderboard operations

func (s *Storage) TopPlayers(ctx context.Context, n int) ([]model.LeaderboardEntry, error) {
	s.mu.RLock()
	entries := make([]model.LeaderboardEntry, 0, len(s.players))
	for _, p := range s.players {
		entries = append(entries, model.LeaderboardEntry{Nickname: p.Nickname, Points: p.Points})
	}
	s.mu.RUnlock()
	return model.RankEntries(entries, n), nil
}

// Grant operations

func (s *Storage) RecordGrant(ctx context.Context, rec *model.GrantRecord) (model.Balance, error) {
	if rec.Amount < 0 {
		return model.Balance{}, model.ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bal, err := s.applyLocked(rec.PlayerID, rec.Amount, 0)
	if err != nil {
		return model.Balance{}, err
	}
	rec.ResultingSpins = bal.Spins
	s.grants = append(s.grants, *rec)
	return bal, nil
}

func (s *Storage) ListGrants(ctx context.Context, limit int) ([]model.GrantRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]model.GrantRecord, 0, len(s.grants))
	for i := len(s.grants) - 1; i >= 0; i-- {
		if limit > 0 && len(result) == limit {
			break
		}
		result = append(result, s.grants[i])
	}
	return result, nil
}
