package factory

import (
	"log/slog"

	"github.com/mcoot/lemonslots/internal/config"
	"github.com/mcoot/lemonslots/internal/services/directory"
	"github.com/mcoot/lemonslots/internal/services/leaderboard"
	"github.com/mcoot/lemonslots/internal/services/playerlock"
	"github.com/mcoot/lemonslots/internal/services/spin"
	"github.com/mcoot/lemonslots/internal/storage/postgres"
	redisstorage "github.com/mcoot/lemonslots/internal/storage/redis"
)

// ConfigFromSettings maps loaded server settings onto a factory Config
func ConfigFromSettings(settings config.Config, logger *slog.Logger) Config {
	cfg := Config{
		Logger:      logger,
		StorageType: settings.Storage.Type,
		RNGSeed:     settings.RNGSeed,
	}

	switch settings.Storage.Type {
	case config.StorageRedis:
		redisCfg := redisstorage.DefaultConfig()
		redisCfg.URL = settings.Storage.RedisURL
		if settings.Storage.KeyPrefix != "" {
			redisCfg.KeyPrefix = settings.Storage.KeyPrefix
		}
		cfg.RedisConfig = &redisCfg
	case config.StoragePostgres:
		cfg.PostgresConfig = &postgres.Config{DSN: settings.Storage.PostgresDSN}
	}

	spinCfg := spin.DefaultConfig()
	spinCfg.Settlement = spin.Settlement(settings.Spin.Settlement)
	spinCfg.Serializer = spin.SerializerMode(settings.Spin.Serializer)
	spinCfg.DecrementRetries = settings.Spin.DecrementRetries
	if settings.Spin.CreditMaxElapsed > 0 {
		spinCfg.CreditMaxElapsed = settings.Spin.CreditMaxElapsed
	}
	if settings.Spin.SettleTimeout > 0 {
		spinCfg.SettleTimeout = settings.Spin.SettleTimeout
	}
	cfg.SpinConfig = spinCfg

	cfg.LockConfig = playerlock.DefaultRedisConfig()
	if settings.Spin.LockLease > 0 {
		cfg.LockConfig.Lease = settings.Spin.LockLease
	}

	cfg.LeaderboardConfig = leaderboard.Config{
		Size:     settings.Leaderboard.Size,
		Debounce: settings.Leaderboard.Debounce,
	}
	cfg.DirectoryConfig = directory.Config{
		SessionDuration: settings.Session.Duration,
	}

	return cfg
}
