// Package config loads server settings from an optional YAML file and the environment.
// Environment variables win over the file; the file wins over defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends
const (
	StorageMemory   = "memory"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
)

// Config holds all server settings
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Storage     StorageConfig     `yaml:"storage"`
	Spin        SpinConfig        `yaml:"spin"`
	Leaderboard LeaderboardConfig `yaml:"leaderboard"`
	Admin       AdminConfig       `yaml:"admin"`
	Session     SessionConfig     `yaml:"session"`
	Log         LogConfig         `yaml:"log"`
	// RNGSeed makes reel rolls reproducible when non-zero
	RNGSeed uint64 `yaml:"rng_seed"`
}

type HTTPConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StorageConfig struct {
	Type        string `yaml:"type"`
	RedisURL    string `yaml:"redis_url"`
	KeyPrefix   string `yaml:"key_prefix"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

type SpinConfig struct {
	Settlement       string        `yaml:"settlement"`
	Serializer       string        `yaml:"serializer"`
	DecrementRetries int           `yaml:"decrement_retries"`
	CreditMaxElapsed time.Duration `yaml:"credit_max_elapsed"`
	SettleTimeout    time.Duration `yaml:"settle_timeout"`
	// LockLease bounds how long a crashed instance can hold a player's lock (redis only)
	LockLease time.Duration `yaml:"lock_lease"`
}

type LeaderboardConfig struct {
	Size     int           `yaml:"size"`
	Debounce time.Duration `yaml:"debounce"`
}

type AdminConfig struct {
	// KeyHash is a bcrypt hash of the admin key. Admin routes are disabled when empty.
	KeyHash string `yaml:"key_hash"`
}

type SessionConfig struct {
	Duration time.Duration `yaml:"duration"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in settings
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Type:      StorageMemory,
			KeyPrefix: "lemon",
		},
		Spin: SpinConfig{
			Settlement:       "atomic",
			Serializer:       "reject",
			DecrementRetries: 3,
			CreditMaxElapsed: 10 * time.Second,
			SettleTimeout:    5 * time.Second,
			LockLease:        30 * time.Second,
		},
		Leaderboard: LeaderboardConfig{
			Size:     10,
			Debounce: 250 * time.Millisecond,
		},
		Session: SessionConfig{
			Duration: 24 * time.Hour,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the config from defaults, the YAML file at path (if any) and the environment
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	integer("HTTP_PORT", &c.HTTP.Port)
	str("STORAGE_TYPE", &c.Storage.Type)
	str("REDIS_URL", &c.Storage.RedisURL)
	str("PG_DSN", &c.Storage.PostgresDSN)
	str("SPIN_SETTLEMENT", &c.Spin.Settlement)
	str("SPIN_SERIALIZER", &c.Spin.Serializer)
	integer("SPIN_DECREMENT_RETRIES", &c.Spin.DecrementRetries)
	duration("SPIN_CREDIT_MAX_ELAPSED", &c.Spin.CreditMaxElapsed)
	duration("SPIN_SETTLE_TIMEOUT", &c.Spin.SettleTimeout)
	duration("SPIN_LOCK_LEASE", &c.Spin.LockLease)
	integer("LEADERBOARD_SIZE", &c.Leaderboard.Size)
	duration("LEADERBOARD_DEBOUNCE", &c.Leaderboard.Debounce)
	str("ADMIN_KEY_HASH", &c.Admin.KeyHash)
	duration("SESSION_DURATION", &c.Session.Duration)
	str("LOG_LEVEL", &c.Log.Level)

	if v, ok := lookup("RNG_SEED"); ok && v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("RNG_SEED: %w", err))
		} else {
			c.RNGSeed = seed
		}
	}

	return errors.Join(errs...)
}

// Validate rejects unknown enum values and missing backend settings
func (c Config) Validate() error {
	var errs []error

	switch c.Storage.Type {
	case StorageMemory:
	case StorageRedis:
		if c.Storage.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL required when STORAGE_TYPE=redis"))
		}
	case StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("PG_DSN required when STORAGE_TYPE=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid storage type %q: must be memory, redis or postgres", c.Storage.Type))
	}

	switch c.Spin.Settlement {
	case "atomic", "two-step":
	default:
		errs = append(errs, fmt.Errorf("invalid spin settlement %q", c.Spin.Settlement))
	}
	switch c.Spin.Serializer {
	case "reject", "queue":
	default:
		errs = append(errs, fmt.Errorf("invalid spin serializer %q", c.Spin.Serializer))
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid http port %d", c.HTTP.Port))
	}
	if c.Spin.SettleTimeout <= 0 {
		errs = append(errs, errors.New("spin settle timeout must be positive"))
	}
	if c.Spin.LockLease <= c.Spin.SettleTimeout {
		errs = append(errs, errors.New("spin lock lease must exceed the settle timeout"))
	}
	if c.Leaderboard.Size <= 0 {
		errs = append(errs, errors.New("leaderboard size must be positive"))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// SlogLevel parses the configured log level
func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.Log.Level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	return level, nil
}
