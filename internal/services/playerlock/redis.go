package playerlock

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mcoot/lemonslots/internal/model"
)

const releaseTimeout = 2 * time.Second

// RedisConfig tunes the shared lease
type RedisConfig struct {
	// Lease bounds how long a crashed holder keeps a player locked.
	// It must exceed the longest spin including credit retries.
	Lease time.Duration
	// PollInterval is how often Acquire retries a lease held elsewhere
	PollInterval time.Duration
}

// DefaultRedisConfig returns default lease settings
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Lease:        30 * time.Second,
		PollInterval: 25 * time.Millisecond,
	}
}

// releaseScript deletes the lease only while it still carries the holder's token
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

var errLeaseHeld = errors.New("player lease held elsewhere")

// RedisLocks takes the in-process lock first and then a SET NX lease in Redis,
// so only one instance at a time works on a player
type RedisLocks struct {
	client *redis.Client
	key    func(model.PlayerID) string
	cfg    RedisConfig
	local  *Locks
	logger *slog.Logger
}

// Ensure RedisLocks implements Locker
var _ Locker = (*RedisLocks)(nil)

// NewRedis creates lease-backed locks. key maps a player to its lease key.
func NewRedis(client *redis.Client, key func(model.PlayerID) string, cfg RedisConfig, logger *slog.Logger) *RedisLocks {
	defaults := DefaultRedisConfig()
	if cfg.Lease <= 0 {
		cfg.Lease = defaults.Lease
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	return &RedisLocks{
		client: client,
		key:    key,
		cfg:    cfg,
		local:  New(),
		logger: logger.With(slog.String("component", "playerlock")),
	}
}

func (l *RedisLocks) TryAcquire(ctx context.Context, id model.PlayerID) (func(), error) {
	releaseLocal, err := l.local.TryAcquire(ctx, id)
	if err != nil {
		return nil, err
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key(id), token, l.cfg.Lease).Result()
	if err != nil {
		releaseLocal()
		return nil, err
	}
	if !ok {
		releaseLocal()
		return nil, model.ErrSpinInProgress
	}
	return l.releaser(id, token, releaseLocal), nil
}

func (l *RedisLocks) Acquire(ctx context.Context, id model.PlayerID) (func(), error) {
	releaseLocal, err := l.local.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}

	token := uuid.NewString()
	err = backoff.Retry(func() error {
		ok, err := l.client.SetNX(ctx, l.key(id), token, l.cfg.Lease).Result()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errLeaseHeld
		}
		return nil
	}, backoff.WithContext(backoff.NewConstantBackOff(l.cfg.PollInterval), ctx))
	if err != nil {
		releaseLocal()
		return nil, err
	}
	return l.releaser(id, token, releaseLocal), nil
}

func (l *RedisLocks) releaser(id model.PlayerID, token string, releaseLocal func()) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			defer releaseLocal()

			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			if err := releaseScript.Run(ctx, l.client, []string{l.key(id)}, token).Err(); err != nil {
				// the lease still expires on its own
				l.logger.Warn("player lease release failed",
					slog.String("player_id", string(id)),
					slog.String("error", err.Error()))
			}
		})
	}
}
