package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lemonslots.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFromFile(t *testing.T) {
	path := writeFile(t, `
http:
  port: 9090
storage:
  type: redis
  redis_url: redis://localhost:6379/0
spin:
  settlement: two-step
  serializer: queue
  credit_max_elapsed: 30s
leaderboard:
  size: 5
  debounce: 1s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, StorageRedis, cfg.Storage.Type)
	assert.Equal(t, "two-step", cfg.Spin.Settlement)
	assert.Equal(t, "queue", cfg.Spin.Serializer)
	assert.Equal(t, 30*time.Second, cfg.Spin.CreditMaxElapsed)
	assert.Equal(t, 5, cfg.Leaderboard.Size)
	assert.Equal(t, time.Second, cfg.Leaderboard.Debounce)
	// untouched keys keep their defaults
	assert.Equal(t, 3, cfg.Spin.DecrementRetries)
	assert.Equal(t, "lemon", cfg.Storage.KeyPrefix)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "http:\n  port: 9090\n")
	t.Setenv("HTTP_PORT", "7070")
	t.Setenv("SPIN_DECREMENT_RETRIES", "5")
	t.Setenv("LEADERBOARD_DEBOUNCE", "100ms")
	t.Setenv("RNG_SEED", "42")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SPIN_LOCK_LEASE", "1m")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.HTTP.Port)
	assert.Equal(t, 5, cfg.Spin.DecrementRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.Leaderboard.Debounce)
	assert.Equal(t, uint64(42), cfg.RNGSeed)
	assert.Equal(t, time.Minute, cfg.Spin.LockLease)
	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestMalformedEnvIsReported(t *testing.T) {
	t.Setenv("HTTP_PORT", "eighty")
	t.Setenv("SESSION_DURATION", "forever")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP_PORT")
	assert.Contains(t, err.Error(), "SESSION_DURATION")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown storage", func(c *Config) { c.Storage.Type = "mongo" }, "invalid storage type"},
		{"redis without url", func(c *Config) { c.Storage.Type = StorageRedis }, "REDIS_URL required"},
		{"postgres without dsn", func(c *Config) { c.Storage.Type = StoragePostgres }, "PG_DSN required"},
		{"unknown settlement", func(c *Config) { c.Spin.Settlement = "eventual" }, "invalid spin settlement"},
		{"unknown serializer", func(c *Config) { c.Spin.Serializer = "drop" }, "invalid spin serializer"},
		{"short lock lease", func(c *Config) { c.Spin.LockLease = c.Spin.SettleTimeout }, "lock lease must exceed"},
		{"bad port", func(c *Config) { c.HTTP.Port = 0 }, "invalid http port"},
		{"bad leaderboard size", func(c *Config) { c.Leaderboard.Size = 0 }, "leaderboard size"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "invalid log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
