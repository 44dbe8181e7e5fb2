package factory

import (
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/lemonslots/internal/dependencies/mocks"
	"github.com/mcoot/lemonslots/internal/services/playerlock"
	"github.com/mcoot/lemonslots/internal/services/spin"
	"github.com/mcoot/lemonslots/internal/storage"
	"github.com/mcoot/lemonslots/internal/storage/memory"
	redisstorage "github.com/mcoot/lemonslots/internal/storage/redis"
	"github.com/mcoot/lemonslots/internal/testutil"
)

// TestApp extends App with test-specific helpers
type TestApp struct {
	*App

	// Mocks for test control
	MockClock  *mocks.MockClock
	MockRandom *mocks.MockRandom
}

// NewTestApp creates an App over the memory store with mocked dependencies
func NewTestApp() *TestApp {
	return NewTestAppWithConfig(Config{})
}

// NewTestAppWithConfig is NewTestApp with engine settings overridden
func NewTestAppWithConfig(cfg Config) *TestApp {
	return newTestApp(cfg, dependencies{store: memory.New()})
}

// NewTestAppWithStore is NewTestAppWithConfig over a caller-supplied store
func NewTestAppWithStore(store storage.Storage, cfg Config) *TestApp {
	return newTestApp(cfg, dependencies{store: store})
}

// NewTestAppWithRedis wires an App over client the way a redis-backed
// instance is wired. Apps sharing one Redis behave as separate instances.
func NewTestAppWithRedis(client *redis.Client, cfg Config) *TestApp {
	var deps dependencies
	lockCfg := cfg.LockConfig
	if lockCfg.PollInterval == 0 {
		lockCfg.PollInterval = time.Millisecond
	}
	deps.useRedis(redisstorage.NewWithClient(client, redisstorage.DefaultConfig()), lockCfg, loggerOrNop(cfg))
	return newTestApp(cfg, deps)
}

func loggerOrNop(cfg Config) *slog.Logger {
	if cfg.Logger == nil {
		return testutil.NopLogger()
	}
	return cfg.Logger
}

func newTestApp(cfg Config, deps dependencies) *TestApp {
	mockClock := mocks.NewMockClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	mockRandom := mocks.NewMockRandom()

	if cfg.SpinConfig.Settlement == "" {
		cfg.SpinConfig = spin.DefaultConfig()
	}
	cfg.SpinConfig.DecrementRetryBackoff = time.Millisecond
	cfg.SpinConfig.CreditInitialInterval = time.Millisecond
	if cfg.LeaderboardConfig.Debounce == 0 {
		cfg.LeaderboardConfig.Debounce = 10 * time.Millisecond
	}

	deps.clock = mockClock
	deps.random = mockRandom
	if deps.locks == nil {
		deps.locks = playerlock.New()
	}
	app := newWithDependencies(deps, cfg, loggerOrNop(cfg))

	return &TestApp{
		App:        app,
		MockClock:  mockClock,
		MockRandom: mockRandom,
	}
}
