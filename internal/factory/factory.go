package factory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/mcoot/lemonslots/internal/dependencies/clock"
	"github.com/mcoot/lemonslots/internal/dependencies/random"
	"github.com/mcoot/lemonslots/internal/metrics"
	"github.com/mcoot/lemonslots/internal/services/directory"
	"github.com/mcoot/lemonslots/internal/services/grant"
	"github.com/mcoot/lemonslots/internal/services/leaderboard"
	"github.com/mcoot/lemonslots/internal/services/notify"
	"github.com/mcoot/lemonslots/internal/services/playerlock"
	"github.com/mcoot/lemonslots/internal/services/reels"
	"github.com/mcoot/lemonslots/internal/services/rewards"
	"github.com/mcoot/lemonslots/internal/services/spin"
	"github.com/mcoot/lemonslots/internal/storage"
	"github.com/mcoot/lemonslots/internal/storage/memory"
	"github.com/mcoot/lemonslots/internal/storage/postgres"
	redisstorage "github.com/mcoot/lemonslots/internal/storage/redis"
)

// Storage type constants
const (
	StorageTypeMemory   = "memory"
	StorageTypeRedis    = "redis"
	StorageTypePostgres = "postgres"
)

const sessionCleanupInterval = 10 * time.Minute

// App contains all wired application components
type App struct {
	// Storage
	Storage storage.Storage

	// External dependencies
	Clock  clock.Clock
	Random random.Random

	// Services
	Metrics        *metrics.Metrics
	Hub            *notify.Hub
	Publisher      notify.Publisher
	Bridge         *notify.RedisBridge // nil unless storage is redis
	Locks          playerlock.Locker
	Directory      *directory.Service
	SpinEngine     *spin.Engine
	Reconciliation *spin.ReconciliationQueue
	GrantService   *grant.Service
	Leaderboard    *leaderboard.Ranker

	logger *slog.Logger
	closer func() error
}

// Config holds configuration for the application factory
type Config struct {
	// Logger is the application logger (optional)
	// If nil, a no-op logger is used
	Logger *slog.Logger
	// StorageType selects the storage backend ("memory", "redis" or "postgres")
	// If empty, defaults to "memory"
	StorageType string
	// RedisConfig holds Redis connection settings (required if StorageType is "redis")
	RedisConfig *redisstorage.Config
	// PostgresConfig holds PostgreSQL settings (required if StorageType is "postgres")
	PostgresConfig *postgres.Config
	// LockConfig tunes the shared player lease when StorageType is "redis"
	LockConfig playerlock.RedisConfig

	SpinConfig        spin.Config
	LeaderboardConfig leaderboard.Config
	DirectoryConfig   directory.Config
	// RNGSeed makes reel rolls reproducible when non-zero
	RNGSeed uint64
}

// dependencies are the pieces New resolves from Config before wiring
type dependencies struct {
	store  storage.Storage
	clock  clock.Clock
	random random.Random
	// locks serialize a player's spins across every instance sharing the store
	locks playerlock.Locker
	// redis enables the cross-instance notifier bridge
	redis         *redis.Client
	eventsChannel string
	closer        func() error
}

// New creates a new application with all dependencies wired
func New(ctx context.Context, cfg Config) (*App, error) {
	// Use no-op logger if not provided
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	deps := dependencies{
		clock:  clock.New(),
		random: random.New(),
	}
	if cfg.RNGSeed != 0 {
		deps.random = random.NewSeeded(cfg.RNGSeed)
		logger.Warn("reel rolls are seeded and reproducible", slog.Uint64("seed", cfg.RNGSeed))
	}

	// Create storage based on type
	storageType := cfg.StorageType
	if storageType == "" {
		storageType = StorageTypeMemory
	}

	switch storageType {
	case StorageTypeMemory:
		deps.store = memory.New()
		deps.locks = playerlock.New()
	case StorageTypeRedis:
		if cfg.RedisConfig == nil {
			return nil, errors.New("RedisConfig required when StorageType is redis")
		}
		redisStore, err := redisstorage.New(*cfg.RedisConfig)
		if err != nil {
			return nil, err
		}
		deps.useRedis(redisStore, cfg.LockConfig, logger)
	case StorageTypePostgres:
		if cfg.PostgresConfig == nil {
			return nil, errors.New("PostgresConfig required when StorageType is postgres")
		}
		pgStore, err := postgres.New(ctx, *cfg.PostgresConfig)
		if err != nil {
			return nil, err
		}
		deps.store = pgStore
		deps.locks = playerlock.NewPostgres(pgStore.Pool(), logger)
		deps.closer = pgStore.Close
	default:
		return nil, errors.New("invalid StorageType: must be 'memory', 'redis' or 'postgres'")
	}

	spinCfg := cfg.SpinConfig
	if spinCfg.Settlement == "" {
		spinCfg = spin.DefaultConfig()
	}
	if err := spinCfg.Validate(); err != nil {
		return nil, err
	}
	cfg.SpinConfig = spinCfg

	return newWithDependencies(deps, cfg, logger), nil
}

// useRedis points the store, the player locks and the event bridge at one Redis
func (d *dependencies) useRedis(store *redisstorage.Storage, lockCfg playerlock.RedisConfig, logger *slog.Logger) {
	d.store = store
	d.locks = playerlock.NewRedis(store.Client(), store.LockKey, lockCfg, logger)
	d.redis = store.Client()
	d.eventsChannel = store.EventsChannel()
	d.closer = store.Close
}

// newWithDependencies creates an App with the given dependencies (useful for testing)
func newWithDependencies(deps dependencies, cfg Config, logger *slog.Logger) *App {
	m := metrics.New()
	hub := notify.NewHub(logger, m)

	var (
		publisher notify.Publisher = hub
		bridge    *notify.RedisBridge
	)
	if deps.redis != nil {
		bridge = notify.NewRedisBridge(deps.redis, deps.eventsChannel, hub, logger)
		publisher = bridge
	}

	locks := deps.locks
	if locks == nil {
		locks = playerlock.New()
	}
	reconciler := spin.NewReconciliationQueue(deps.store, locks, publisher, deps.clock, m, logger)
	engine := spin.NewEngine(
		deps.store,
		reels.New(deps.random),
		rewards.Default(),
		locks,
		publisher,
		deps.clock,
		m,
		logger,
		cfg.SpinConfig,
	)

	return &App{
		Storage:        deps.store,
		Clock:          deps.clock,
		Random:         deps.random,
		Metrics:        m,
		Hub:            hub,
		Publisher:      publisher,
		Bridge:         bridge,
		Locks:          locks,
		Directory:      directory.New(deps.store, deps.clock, cfg.DirectoryConfig, logger),
		SpinEngine:     engine,
		Reconciliation: reconciler,
		GrantService:   grant.New(deps.store, locks, publisher, deps.clock, m, logger),
		Leaderboard:    leaderboard.New(deps.store, hub, cfg.LeaderboardConfig, logger),
		logger:         logger,
		closer:         deps.closer,
	}
}

// Run starts the background workers and blocks until ctx is cancelled or one fails
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return a.Leaderboard.Run(ctx)
	})
	g.Go(func() error {
		return a.Directory.RunCleanup(ctx, sessionCleanupInterval)
	})
	if a.Bridge != nil {
		g.Go(func() error {
			return a.Bridge.Run(ctx)
		})
	}

	return g.Wait()
}

// Logger returns the application logger
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// Close releases storage connections
func (a *App) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer()
}
