package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/lemonslots/internal/model"
	"github.com/mcoot/lemonslots/internal/storage"
)

// Storage is a Redis-backed implementation of the storage interface.
// Every balance mutation runs as a Lua script, so check-and-update is atomic on the server.
type Storage struct {
	client *redis.Client
	cfg    Config
	keys   keys
}

// New creates a new Redis storage instance
func New(cfg Config) (*Storage, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return NewWithClient(client, cfg), nil
}

// NewWithClient creates a Redis storage with an existing client (for testing)
func NewWithClient(client *redis.Client, cfg Config) *Storage {
	defaults := DefaultConfig()
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaults.KeyPrefix
	}
	if cfg.SettlementTTL <= 0 {
		cfg.SettlementTTL = defaults.SettlementTTL
	}
	return &Storage{
		client: client,
		cfg:    cfg,
		keys:   keys{prefix: cfg.KeyPrefix},
	}
}

// Client exposes the underlying client so the notifier bridge can share the pool
func (s *Storage) Client() *redis.Client {
	return s.client
}

// LockKey returns the key the cross-instance serializer leases for a player
func (s *Storage) LockKey(id model.PlayerID) string {
	return s.keys.lock(id)
}

// EventsChannel is the pub/sub channel balance events are bridged over
func (s *Storage) EventsChannel() string {
	return s.keys.events()
}

// Close closes the Redis connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// Player operations

func (s *Storage) CreatePlayer(ctx context.Context, player *model.Player) error {
	created := player.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	res, err := createPlayerScript.Run(ctx, s.client,
		[]string{s.keys.nicknameIndex(player.Nickname), s.keys.player(player.ID), s.keys.leaderboard()},
		string(player.ID), player.Nickname, formatTime(created),
	).Int64Slice()
	if err != nil {
		return err
	}
	if res[0] == statusTaken {
		return model.ErrNicknameTaken
	}
	return nil
}

func (s *Storage) GetPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error) {
	fields, err := s.client.HGetAll(ctx, s.keys.player(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, model.ErrUnknownPlayer
	}
	return parsePlayer(fields)
}

func (s *Storage) GetPlayerByNickname(ctx context.Context, nickname string) (*model.Player, error) {
	id, err := s.client.Get(ctx, s.keys.nicknameIndex(nickname)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrUnknownPlayer
		}
		return nil, err
	}
	return s.GetPlayer(ctx, model.PlayerID(id))
}

// Balance operations

func (s *Storage) ConditionalDecrementSpins(ctx context.Context, id model.PlayerID, amount int64) (model.Balance, error) {
	if amount < 0 {
		return model.Balance{}, model.ErrInvalidAmount
	}
	return s.apply(ctx, id, -amount, 0)
}

func (s *Storage) IncrementPoints(ctx context.Context, id model.PlayerID, amount int64) (model.Balance, error) {
	if amount < 0 {
		return model.Balance{}, model.ErrInvalidAmount
	}
	return s.apply(ctx, id, 0, amount)
}

func (s *Storage) IncrementSpins(ctx context.Context, id model.PlayerID, amount int64) (model.Balance, error) {
	if amount < 0 {
		return model.Balance{}, model.ErrInvalidAmount
	}
	return s.apply(ctx, id, amount, 0)
}

func (s *Storage) SettleSpin(ctx context.Context, id model.PlayerID, spinID model.SpinID, cost, reward int64) (model.Balance, error) {
	if cost < 0 || reward < 0 {
		return model.Balance{}, model.ErrInvalidAmount
	}
	res, err := settleScript.Run(ctx, s.client,
		[]string{s.keys.player(id), s.keys.leaderboard(), s.keys.settlement(spinID)},
		-cost, reward, formatTime(time.Now().UTC()), s.cfg.SettlementTTL.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return model.Balance{}, err
	}
	return balanceFromReply(id, res)
}

func (s *Storage) apply(ctx context.Context, id model.PlayerID, spinsDelta, pointsDelta int64) (model.Balance, error) {
	res, err := applyScript.Run(ctx, s.client,
		[]string{s.keys.player(id), s.keys.leaderboard()},
		spinsDelta, pointsDelta, formatTime(time.Now().UTC()),
	).Int64Slice()
	if err != nil {
		return model.Balance{}, err
	}
	return balanceFromReply(id, res)
}

// Pending credit operations

func (s *Storage) DebitSpin(ctx context.Context, credit model.PendingCredit, cost int64) (model.Balance, error) {
	if cost < 0 || credit.Amount < 0 {
		return model.Balance{}, model.ErrInvalidAmount
	}
	parked := credit.ParkedAt
	if parked.IsZero() {
		parked = time.Now().UTC()
	}
	res, err := debitScript.Run(ctx, s.client,
		[]string{
			s.keys.player(credit.PlayerID), s.keys.leaderboard(), s.keys.settlement(credit.SpinID),
			s.keys.credit(credit.SpinID), s.keys.pendingCredits(),
		},
		-cost, 0, formatTime(parked), s.cfg.SettlementTTL.Milliseconds(),
		string(credit.SpinID), string(credit.PlayerID), credit.Amount, credit.Symbols.String(), parked.UnixMilli(),
	).Int64Slice()
	if err != nil {
		return model.Balance{}, err
	}
	return balanceFromReply(credit.PlayerID, res)
}

func (s *Storage) ApplyPendingCredit(ctx context.Context, spinID model.SpinID) (model.Balance, bool, error) {
	playerID, err := s.client.HGet(ctx, s.keys.credit(spinID), "player_id").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.Balance{}, false, model.ErrNoPendingCredit
		}
		return model.Balance{}, false, err
	}

	id := model.PlayerID(playerID)
	res, err := applyCreditScript.Run(ctx, s.client,
		[]string{s.keys.credit(spinID), s.keys.player(id), s.keys.leaderboard(), s.keys.pendingCredits()},
		formatTime(time.Now().UTC()), s.cfg.SettlementTTL.Milliseconds(), string(spinID),
	).Int64Slice()
	if err != nil {
		return model.Balance{}, false, err
	}
	bal, err := balanceFromReply(id, res)
	if err != nil {
		return model.Balance{}, false, err
	}
	return bal, res[0] == statusOK, nil
}

func (s *Storage) RecordCreditAttempt(ctx context.Context, spinID model.SpinID, lastErr string) error {
	status, err := recordAttemptScript.Run(ctx, s.client, []string{s.keys.credit(spinID)}, lastErr).Int64()
	if err != nil {
		return err
	}
	if status == statusNoCredit {
		return model.ErrNoPendingCredit
	}
	return nil
}

func (s *Storage) PendingCredits(ctx context.Context) ([]model.PendingCredit, error) {
	ids, err := s.client.ZRange(ctx, s.keys.pendingCredits(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []model.PendingCredit{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.keys.credit(model.SpinID(id)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	credits := make([]model.PendingCredit, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		credit, err := parseCredit(fields)
		if err != nil {
			return nil, err
		}
		credits = append(credits, credit)
	}
	return credits, nil
}

// Leaderboard operations

func (s *Storage) TopPlayers(ctx context.Context, n int) ([]model.LeaderboardEntry, error) {
	stop := int64(n - 1)
	if n <= 0 {
		stop = -1
	}
	members, err := s.client.ZRangeWithScores(ctx, s.keys.leaderboard(), 0, stop).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]model.LeaderboardEntry, 0, len(members))
	for i, m := range members {
		nickname, _ := m.Member.(string)
		entries = append(entries, model.LeaderboardEntry{
			Rank:     i + 1,
			Nickname: nickname,
			Points:   -int64(m.Score),
		})
	}
	return entries, nil
}

// Grant operations

func (s *Storage) RecordGrant(ctx context.Context, rec *model.GrantRecord) (model.Balance, error) {
	if rec.Amount < 0 {
		return model.Balance{}, model.ErrInvalidAmount
	}
	granted := rec.GrantedAt
	if granted.IsZero() {
		granted = time.Now().UTC()
	}
	res, err := grantScript.Run(ctx, s.client,
		[]string{s.keys.player(rec.PlayerID), s.keys.leaderboard(), s.keys.grant(rec.ID), s.keys.grants()},
		rec.Amount, 0, formatTime(granted), rec.ID, rec.Nickname, string(rec.PlayerID),
	).Int64Slice()
	if err != nil {
		return model.Balance{}, err
	}
	bal, err := balanceFromReply(rec.PlayerID, res)
	if err != nil {
		return model.Balance{}, err
	}
	rec.ResultingSpins = bal.Spins
	return bal, nil
}

func (s *Storage) ListGrants(ctx context.Context, limit int) ([]model.GrantRecord, error) {
	stop := int64(limit - 1)
	if limit <= 0 {
		stop = -1
	}
	ids, err := s.client.LRange(ctx, s.keys.grants(), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []model.GrantRecord{}, nil
	}

	// Fetch all records in one round trip
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.keys.grant(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	records := make([]model.GrantRecord, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		rec, err := parseGrant(fields)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Parsing helpers

func balanceFromReply(id model.PlayerID, res []int64) (model.Balance, error) {
	switch res[0] {
	case statusOK, statusReplayed:
		return model.Balance{PlayerID: id, Spins: res[1], Points: res[2], Version: res[3]}, nil
	case statusUnknown:
		return model.Balance{}, model.ErrUnknownPlayer
	case statusInsufficient:
		return model.Balance{}, model.ErrInsufficientBalance
	case statusNoCredit:
		return model.Balance{}, model.ErrNoPendingCredit
	default:
		return model.Balance{}, fmt.Errorf("unexpected script status %d", res[0])
	}
}

func parsePlayer(fields map[string]string) (*model.Player, error) {
	var (
		p   model.Player
		err error
	)
	p.ID = model.PlayerID(fields["id"])
	p.Nickname = fields["nickname"]
	if p.Spins, err = strconv.ParseInt(fields["spins"], 10, 64); err != nil {
		return nil, fmt.Errorf("parse spins: %w", err)
	}
	if p.Points, err = strconv.ParseInt(fields["points"], 10, 64); err != nil {
		return nil, fmt.Errorf("parse points: %w", err)
	}
	if p.Version, err = strconv.ParseInt(fields["version"], 10, 64); err != nil {
		return nil, fmt.Errorf("parse version: %w", err)
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, fields["created_at"])
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, fields["updated_at"])
	return &p, nil
}

func parseGrant(fields map[string]string) (model.GrantRecord, error) {
	var (
		rec model.GrantRecord
		err error
	)
	rec.ID = fields["id"]
	rec.PlayerID = model.PlayerID(fields["player_id"])
	rec.Nickname = fields["nickname"]
	if rec.Amount, err = strconv.ParseInt(fields["amount"], 10, 64); err != nil {
		return rec, fmt.Errorf("parse amount: %w", err)
	}
	if rec.ResultingSpins, err = strconv.ParseInt(fields["resulting_spins"], 10, 64); err != nil {
		return rec, fmt.Errorf("parse resulting_spins: %w", err)
	}
	rec.GrantedAt, _ = time.Parse(time.RFC3339Nano, fields["granted_at"])
	return rec, nil
}

func parseCredit(fields map[string]string) (model.PendingCredit, error) {
	var (
		c   model.PendingCredit
		err error
	)
	c.SpinID = model.SpinID(fields["spin_id"])
	c.PlayerID = model.PlayerID(fields["player_id"])
	if c.Amount, err = strconv.ParseInt(fields["amount"], 10, 64); err != nil {
		return c, fmt.Errorf("parse amount: %w", err)
	}
	if c.Symbols, err = model.ParseReels(fields["symbols"]); err != nil {
		return c, fmt.Errorf("parse symbols: %w", err)
	}
	if c.Attempts, err = strconv.Atoi(fields["attempts"]); err != nil {
		return c, fmt.Errorf("parse attempts: %w", err)
	}
	c.LastError = fields["last_error"]
	c.ParkedAt, _ = time.Parse(time.RFC3339Nano, fields["parked_at"])
	return c, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
