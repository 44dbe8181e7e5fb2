package factory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/lemonslots/internal/config"
	"github.com/mcoot/lemonslots/internal/services/spin"
	"github.com/mcoot/lemonslots/internal/testutil"
)

func TestConfigFromSettings(t *testing.T) {
	settings := config.Default()
	settings.Storage.Type = config.StorageRedis
	settings.Storage.RedisURL = "redis://cache:6379/2"
	settings.Storage.KeyPrefix = "staging"
	settings.Spin.Settlement = "two-step"
	settings.Spin.Serializer = "queue"
	settings.Spin.CreditMaxElapsed = 3 * time.Second
	settings.Spin.SettleTimeout = 2 * time.Second
	settings.Spin.LockLease = time.Minute
	settings.Leaderboard.Size = 25
	settings.Session.Duration = time.Hour
	settings.RNGSeed = 42

	cfg := ConfigFromSettings(settings, testutil.NopLogger())

	assert.Equal(t, StorageTypeRedis, cfg.StorageType)
	require.NotNil(t, cfg.RedisConfig)
	assert.Equal(t, "redis://cache:6379/2", cfg.RedisConfig.URL)
	assert.Equal(t, "staging", cfg.RedisConfig.KeyPrefix)
	assert.Nil(t, cfg.PostgresConfig)

	assert.Equal(t, spin.SettlementTwoStep, cfg.SpinConfig.Settlement)
	assert.Equal(t, spin.SerializeQueue, cfg.SpinConfig.Serializer)
	assert.Equal(t, 3*time.Second, cfg.SpinConfig.CreditMaxElapsed)
	assert.Equal(t, 2*time.Second, cfg.SpinConfig.SettleTimeout)
	assert.NoError(t, cfg.SpinConfig.Validate())
	assert.Equal(t, time.Minute, cfg.LockConfig.Lease)

	assert.Equal(t, 25, cfg.LeaderboardConfig.Size)
	assert.Equal(t, time.Hour, cfg.DirectoryConfig.SessionDuration)
	assert.Equal(t, uint64(42), cfg.RNGSeed)
}

func TestConfigFromSettingsPostgres(t *testing.T) {
	settings := config.Default()
	settings.Storage.Type = config.StoragePostgres
	settings.Storage.PostgresDSN = "postgres://lemon@db/lemon"

	cfg := ConfigFromSettings(settings, testutil.NopLogger())

	require.NotNil(t, cfg.PostgresConfig)
	assert.Equal(t, "postgres://lemon@db/lemon", cfg.PostgresConfig.DSN)
	assert.Nil(t, cfg.RedisConfig)
}
