// Package postgres stores players and grants in PostgreSQL.
// Balance changes are single guarded UPDATE statements so concurrent callers never overdraw.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	trmpgx "github.com/avito-tech/go-transaction-manager/drivers/pgxv5/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2/manager"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcoot/lemonslots/internal/model"
	"github.com/mcoot/lemonslots/internal/storage"
)

//go:embed schema.sql
var schema string

const (
	tablePlayers     = "players"
	tableGrants      = "spin_grants"
	tableSettlements = "spin_settlements"
	tableCredits     = "pending_credits"

	colID             = "id"
	colNickname       = "nickname"
	colSpins          = "spins"
	colPoints         = "points"
	colVersion        = "version"
	colCreatedAt      = "created_at"
	colUpdatedAt      = "updated_at"
	colSeq            = "seq"
	colPlayerID       = "player_id"
	colAmount         = "amount"
	colResultingSpins = "resulting_spins"
	colGrantedAt      = "granted_at"
	colSpinID         = "spin_id"
	colSettledAt      = "settled_at"
	colSymbols        = "symbols"
	colParkedAt       = "parked_at"
	colAttempts       = "attempts"
	colLastError      = "last_error"
	colAppliedAt      = "applied_at"

	uniqueViolation = "23505"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Config holds PostgreSQL connection settings
type Config struct {
	DSN      string
	MaxConns int32
}

// Storage is a PostgreSQL-backed implementation of the storage interface
type Storage struct {
	pool      *pgxpool.Pool
	txManager trm.Manager
	getter    *trmpgx.CtxGetter
	now       func() time.Time
}

// New connects to PostgreSQL and applies the schema
func New(ctx context.Context, cfg Config) (*Storage, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}

	s, err := NewWithPool(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewWithPool wraps an existing pool
func NewWithPool(pool *pgxpool.Pool) (*Storage, error) {
	txManager, err := manager.New(trmpgx.NewDefaultFactory(pool))
	if err != nil {
		return nil, err
	}
	return &Storage{
		pool:      pool,
		txManager: txManager,
		getter:    trmpgx.DefaultCtxGetter,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Migrate creates the tables if they do not exist
func (s *Storage) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Pool exposes the connection pool so the serializer can take advisory locks on it
func (s *Storage) Pool() *pgxpool.Pool {
	return s.pool
}

// Close releases the pool
func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

func (s *Storage) db(ctx context.Context) trmpgx.Tr {
	return s.getter.DefaultTrOrDB(ctx, s.pool)
}

// Player operations

func (s *Storage) CreatePlayer(ctx context.Context, player *model.Player) error {
	created := player.CreatedAt
	if created.IsZero() {
		created = s.now()
	}

	query, args, err := psql.Insert(tablePlayers).
		Columns(colID, colNickname, colSpins, colPoints, colVersion, colCreatedAt, colUpdatedAt).
		Values(string(player.ID), player.Nickname, 0, 0, 0, created, created).
		ToSql()
	if err != nil {
		return err
	}

	if _, err := s.db(ctx).Exec(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return model.ErrNicknameTaken
		}
		return err
	}
	return nil
}

func (s *Storage) GetPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error) {
	return s.getPlayerWhere(ctx, sq.Eq{colID: string(id)})
}

func (s *Storage) GetPlayerByNickname(ctx context.Context, nickname string) (*model.Player, error) {
	return s.getPlayerWhere(ctx, sq.Eq{colNickname: nickname})
}

func (s *Storage) getPlayerWhere(ctx context.Context, where sq.Eq) (*model.Player, error) {
	query, args, err := psql.Select(colID, colNickname, colSpins, colPoints, colVersion, colCreatedAt, colUpdatedAt).
		From(tablePlayers).
		Where(where).
		ToSql()
	if err != nil {
		return nil, err
	}

	var (
		p  model.Player
		id string
	)
	err = s.db(ctx).QueryRow(ctx, query, args...).
		Scan(&id, &p.Nickname, &p.Spins, &p.Points, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrUnknownPlayer
		}
		return nil, err
	}
	p.ID = model.PlayerID(id)
	return &p, nil
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
	return s.settle(ctx, id, spinID, -cost, reward, nil)
}

// settle claims spinID, applies the deltas and records the result in one
// transaction. A concurrent claim of the same id waits on the row lock and then
// reads the recorded balance; a rolled back claim leaves no row behind.
func (s *Storage) settle(ctx context.Context, id model.PlayerID, spinID model.SpinID, spinsDelta, pointsDelta int64, park *model.PendingCredit) (model.Balance, error) {
	var bal model.Balance
	err := s.txManager.Do(ctx, func(ctx context.Context) error {
		claimed, err := s.claimSettlement(ctx, id, spinID)
		if err != nil {
			return err
		}
		if !claimed {
			bal, err = s.settlement(ctx, id, spinID)
			return err
		}

		bal, err = s.apply(ctx, id, spinsDelta, pointsDelta)
		if err != nil {
			return err
		}

		query, args, err := psql.Update(tableSettlements).
			Set(colSpins, bal.Spins).
			Set(colPoints, bal.Points).
			Set(colVersion, bal.Version).
			Where(sq.Eq{colSpinID: string(spinID)}).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := s.db(ctx).Exec(ctx, query, args...); err != nil {
			return err
		}

		if park == nil || park.Amount == 0 {
			return nil
		}
		return s.parkCredit(ctx, park)
	})
	if err != nil {
		return model.Balance{}, err
	}
	return bal, nil
}

func (s *Storage) claimSettlement(ctx context.Context, id model.PlayerID, spinID model.SpinID) (bool, error) {
	query, args, err := psql.Insert(tableSettlements).
		Columns(colSpinID, colPlayerID, colSettledAt).
		Values(string(spinID), string(id), s.now()).
		Suffix("ON CONFLICT (" + colSpinID + ") DO NOTHING").
		ToSql()
	if err != nil {
		return false, err
	}
	tag, err := s.db(ctx).Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Storage) settlement(ctx context.Context, id model.PlayerID, spinID model.SpinID) (model.Balance, error) {
	query, args, err := psql.Select(colSpins, colPoints, colVersion).
		From(tableSettlements).
		Where(sq.Eq{colSpinID: string(spinID)}).
		ToSql()
	if err != nil {
		return model.Balance{}, err
	}
	bal := model.Balance{PlayerID: id}
	err = s.db(ctx).QueryRow(ctx, query, args...).Scan(&bal.Spins, &bal.Points, &bal.Version)
	return bal, err
}

// apply adds both deltas in one guarded UPDATE. A miss means either the player
// is unknown or the spins guard failed; a follow-up lookup tells them apart.
func (s *Storage) apply(ctx context.Context, id model.PlayerID, spinsDelta, pointsDelta int64) (model.Balance, error) {
	query, args, err := psql.Update(tablePlayers).
		Set(colSpins, sq.Expr(colSpins+" + ?", spinsDelta)).
		Set(colPoints, sq.Expr(colPoints+" + ?", pointsDelta)).
		Set(colVersion, sq.Expr(colVersion+" + 1")).
		Set(colUpdatedAt, s.now()).
		Where(sq.Eq{colID: string(id)}).
		Where(sq.Expr(colSpins+" + ? >= 0", spinsDelta)).
		Suffix("RETURNING " + colSpins + ", " + colPoints + ", " + colVersion).
		ToSql()
	if err != nil {
		return model.Balance{}, err
	}

	bal := model.Balance{PlayerID: id}
	err = s.db(ctx).QueryRow(ctx, query, args...).Scan(&bal.Spins, &bal.Points, &bal.Version)
	if err == nil {
		return bal, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Balance{}, err
	}

	if _, err := s.GetPlayer(ctx, id); err != nil {
		return model.Balance{}, err
	}
	return model.Balance{}, model.ErrInsufficientBalance
}

// Pending credit operations

func (s *Storage) DebitSpin(ctx context.Context, credit model.PendingCredit, cost int64) (model.Balance, error) {
	if cost < 0 || credit.Amount < 0 {
		return model.Balance{}, model.ErrInvalidAmount
	}
	if credit.ParkedAt.IsZero() {
		credit.ParkedAt = s.now()
	}
	return s.settle(ctx, credit.PlayerID, credit.SpinID, -cost, 0, &credit)
}

func (s *Storage) parkCredit(ctx context.Context, credit *model.PendingCredit) error {
	query, args, err := psql.Insert(tableCredits).
		Columns(colSpinID, colPlayerID, colAmount, colSymbols, colParkedAt, colAttempts, colLastError).
		Values(string(credit.SpinID), string(credit.PlayerID), credit.Amount, credit.Symbols.String(),
			credit.ParkedAt, credit.Attempts, credit.LastError).
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db(ctx).Exec(ctx, query, args...)
	return err
}

func (s *Storage) ApplyPendingCredit(ctx context.Context, spinID model.SpinID) (model.Balance, bool, error) {
	var (
		bal     model.Balance
		applied bool
	)
	err := s.txManager.Do(ctx, func(ctx context.Context) error {
		query, args, err := psql.Select(colPlayerID, colAmount, colAppliedAt, colSpins, colPoints, colVersion).
			From(tableCredits).
			Where(sq.Eq{colSpinID: string(spinID)}).
			Suffix("FOR UPDATE").
			ToSql()
		if err != nil {
			return err
		}

		var (
			playerID               string
			amount                 int64
			appliedAt              *time.Time
			spins, points, version *int64
		)
		err = s.db(ctx).QueryRow(ctx, query, args...).
			Scan(&playerID, &amount, &appliedAt, &spins, &points, &version)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return model.ErrNoPendingCredit
			}
			return err
		}

		id := model.PlayerID(playerID)
		if appliedAt != nil {
			bal = model.Balance{PlayerID: id, Spins: *spins, Points: *points, Version: *version}
			return nil
		}

		bal, err = s.apply(ctx, id, 0, amount)
		if err != nil {
			return err
		}
		applied = true

		query, args, err = psql.Update(tableCredits).
			Set(colAppliedAt, s.now()).
			Set(colSpins, bal.Spins).
			Set(colPoints, bal.Points).
			Set(colVersion, bal.Version).
			Where(sq.Eq{colSpinID: string(spinID)}).
			ToSql()
		if err != nil {
			return err
		}
		_, err = s.db(ctx).Exec(ctx, query, args...)
		return err
	})
	if err != nil {
		return model.Balance{}, false, err
	}
	return bal, applied, nil
}

func (s *Storage) RecordCreditAttempt(ctx context.Context, spinID model.SpinID, lastErr string) error {
	query, args, err := psql.Update(tableCredits).
		Set(colAttempts, sq.Expr(colAttempts+" + 1")).
		Set(colLastError, lastErr).
		Where(sq.Eq{colSpinID: string(spinID), colAppliedAt: nil}).
		ToSql()
	if err != nil {
		return err
	}
	tag, err := s.db(ctx).Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNoPendingCredit
	}
	return nil
}

func (s *Storage) PendingCredits(ctx context.Context) ([]model.PendingCredit, error) {
	query, args, err := psql.Select(colSpinID, colPlayerID, colAmount, colSymbols, colParkedAt, colAttempts, colLastError).
		From(tableCredits).
		Where(sq.Eq{colAppliedAt: nil}).
		OrderBy(colSeq + " ASC").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	credits := []model.PendingCredit{}
	for rows.Next() {
		var (
			c                       model.PendingCredit
			spinID, playerID, reels string
		)
		if err := rows.Scan(&spinID, &playerID, &c.Amount, &reels, &c.ParkedAt, &c.Attempts, &c.LastError); err != nil {
			return nil, err
		}
		c.SpinID = model.SpinID(spinID)
		c.PlayerID = model.PlayerID(playerID)
		if c.Symbols, err = model.ParseReels(reels); err != nil {
			return nil, err
		}
		credits = append(credits, c)
	}
	return credits, rows.Err()
}

// Leaderboard operations

func (s *Storage) TopPlayers(ctx context.Context, n int) ([]model.LeaderboardEntry, error) {
	builder := psql.Select(colNickname, colPoints).
		From(tablePlayers).
		OrderBy(colPoints+" DESC", colNickname+` COLLATE "C" ASC`)
	if n > 0 {
		builder = builder.Limit(uint64(n))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []model.LeaderboardEntry{}
	for rows.Next() {
		e := model.LeaderboardEntry{Rank: len(entries) + 1}
		if err := rows.Scan(&e.Nickname, &e.Points); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Grant operations

func (s *Storage) RecordGrant(ctx context.Context, rec *model.GrantRecord) (model.Balance, error) {
	if rec.Amount < 0 {
		return model.Balance{}, model.ErrInvalidAmount
	}
	if rec.GrantedAt.IsZero() {
		rec.GrantedAt = s.now()
	}

	var bal model.Balance
	err := s.txManager.Do(ctx, func(ctx context.Context) error {
		var err error
		bal, err = s.apply(ctx, rec.PlayerID, rec.Amount, 0)
		if err != nil {
			return err
		}
		rec.ResultingSpins = bal.Spins

		query, args, err := psql.Insert(tableGrants).
			Columns(colID, colPlayerID, colNickname, colAmount, colResultingSpins, colGrantedAt).
			Values(rec.ID, string(rec.PlayerID), rec.Nickname, rec.Amount, rec.ResultingSpins, rec.GrantedAt).
			ToSql()
		if err != nil {
			return err
		}
		_, err = s.db(ctx).Exec(ctx, query, args...)
		return err
	})
	if err != nil {
		return model.Balance{}, err
	}
	return bal, nil
}

func (s *Storage) ListGrants(ctx context.Context, limit int) ([]model.GrantRecord, error) {
	builder := psql.Select(colID, colPlayerID, colNickname, colAmount, colResultingSpins, colGrantedAt).
		From(tableGrants).
		OrderBy(colSeq + " DESC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []model.GrantRecord{}
	for rows.Next() {
		var (
			rec      model.GrantRecord
			playerID string
		)
		if err := rows.Scan(&rec.ID, &playerID, &rec.Nickname, &rec.Amount, &rec.ResultingSpins, &rec.GrantedAt); err != nil {
			return nil, err
		}
		rec.PlayerID = model.PlayerID(playerID)
		records = append(records, rec)
	}
	return records, rows.Err()
}
