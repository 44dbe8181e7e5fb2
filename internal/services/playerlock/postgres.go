package playerlock

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcoot/lemonslots/internal/model"
)

const (
	advisoryKeyPrefix = "lemonslots:player:"

	tryLockSQL = "SELECT pg_try_advisory_lock(hashtext($1))"
	lockSQL    = "SELECT pg_advisory_lock(hashtext($1))"
	unlockSQL  = "SELECT pg_advisory_unlock(hashtext($1))"
)

// PostgresLocks takes the in-process lock first and then a session advisory
// lock, held on a dedicated pool connection until release
type PostgresLocks struct {
	pool   *pgxpool.Pool
	local  *Locks
	logger *slog.Logger
}

// Ensure PostgresLocks implements Locker
var _ Locker = (*PostgresLocks)(nil)

// NewPostgres creates advisory-lock backed locks on pool
func NewPostgres(pool *pgxpool.Pool, logger *slog.Logger) *PostgresLocks {
	return &PostgresLocks{
		pool:   pool,
		local:  New(),
		logger: logger.With(slog.String("component", "playerlock")),
	}
}

func (l *PostgresLocks) TryAcquire(ctx context.Context, id model.PlayerID) (func(), error) {
	return l.acquire(ctx, id, func(conn *pgxpool.Conn) error {
		var ok bool
		if err := conn.QueryRow(ctx, tryLockSQL, advisoryKey(id)).Scan(&ok); err != nil {
			return err
		}
		if !ok {
			return model.ErrSpinInProgress
		}
		return nil
	}, l.local.TryAcquire)
}

func (l *PostgresLocks) Acquire(ctx context.Context, id model.PlayerID) (func(), error) {
	return l.acquire(ctx, id, func(conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, lockSQL, advisoryKey(id))
		return err
	}, l.local.Acquire)
}

func (l *PostgresLocks) acquire(
	ctx context.Context,
	id model.PlayerID,
	lock func(*pgxpool.Conn) error,
	local func(context.Context, model.PlayerID) (func(), error),
) (func(), error) {
	releaseLocal, err := local(ctx, id)
	if err != nil {
		return nil, err
	}

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		releaseLocal()
		return nil, err
	}

	if err := lock(conn); err != nil {
		if errors.Is(err, model.ErrSpinInProgress) {
			conn.Release()
		} else {
			// a cancelled lock call may still have landed; drop the session
			discard(conn)
		}
		releaseLocal()
		return nil, err
	}
	return l.releaser(id, conn, releaseLocal), nil
}

func (l *PostgresLocks) releaser(id model.PlayerID, conn *pgxpool.Conn, releaseLocal func()) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			defer releaseLocal()

			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			if _, err := conn.Exec(ctx, unlockSQL, advisoryKey(id)); err != nil {
				l.logger.Warn("advisory unlock failed, dropping connection",
					slog.String("player_id", string(id)),
					slog.String("error", err.Error()))
				discard(conn)
				return
			}
			conn.Release()
		})
	}
}

// discard closes the session, which frees any advisory locks it held
func discard(conn *pgxpool.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	_ = conn.Conn().Close(ctx)
	conn.Release()
}

func advisoryKey(id model.PlayerID) string {
	return advisoryKeyPrefix + string(id)
}
