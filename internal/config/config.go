// Package config loads app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// RedisURL is the presence cache backend (e.g. redis://localhost:6379/0).
	RedisURL string `mapstructure:"REDIS_URL"`
	// DatabaseURL is the Postgres DSN for the device registry.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// MigrationsPath is the directory holding SQL migrations.
	MigrationsPath string `mapstructure:"MIGRATIONS_PATH"`

	// KafkaBrokers is the bus ingestion broker address; empty disables the
	// consumer.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// KafkaTopic is the telemetry topic.
	KafkaTopic string `mapstructure:"KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group for the telemetry consumer.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	// PresenceTimeoutSeconds is the inactivity window before a device counts
	// as offline.
	PresenceTimeoutSeconds int `mapstructure:"PRESENCE_TIMEOUT_SECONDS"`
	// SyncIntervalSeconds is the reconciler sweep cadence.
	SyncIntervalSeconds int `mapstructure:"SYNC_INTERVAL_SECONDS"`
	// DBSyncEnabled controls immediate database writes on presence
	// transitions.
	DBSyncEnabled bool `mapstructure:"DB_SYNC_ENABLED"`
	// CacheTTLSeconds is the retention window for cache entries. Must exceed
	// the presence timeout.
	CacheTTLSeconds int `mapstructure:"CACHE_TTL_SECONDS"`
}

// Load reads .env (if present), then builds and validates Config from the
// environment via Viper. Missing .env is ignored; env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("MIGRATIONS_PATH", "internal/db/migrations")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "device-telemetry")
	v.SetDefault("KAFKA_GROUP_ID", "presence-tracker")
	v.SetDefault("PRESENCE_TIMEOUT_SECONDS", 60)
	v.SetDefault("SYNC_INTERVAL_SECONDS", 30)
	v.SetDefault("DB_SYNC_ENABLED", true)
	v.SetDefault("CACHE_TTL_SECONDS", 86400)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("config: DATABASE_URL must be set")
	}
	if cfg.PresenceTimeoutSeconds <= 0 {
		return nil, errors.New("config: PRESENCE_TIMEOUT_SECONDS must be positive")
	}
	if cfg.SyncIntervalSeconds <= 0 {
		return nil, errors.New("config: SYNC_INTERVAL_SECONDS must be positive")
	}
	if cfg.CacheTTLSeconds <= cfg.PresenceTimeoutSeconds {
		return nil, errors.New("config: CACHE_TTL_SECONDS must exceed PRESENCE_TIMEOUT_SECONDS")
	}

	return &cfg, nil
}

func (c *Config) PresenceTimeout() time.Duration {
	return time.Duration(c.PresenceTimeoutSeconds) * time.Second
}

func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalSeconds) * time.Second
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}
