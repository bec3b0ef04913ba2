package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/prudhvinik1/edgepresence/internal/presence"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"

	FeedRedis = "redis"
	FeedAMQP  = "amqp"
	FeedNATS  = "nats"
	FeedNone  = "none"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	ServerPort  string `envconfig:"SERVER_PORT" default:"8080"`
	Environment string `envconfig:"ENVIRONMENT" default:"production"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Storage
	StorageDriver string `envconfig:"STORAGE_DRIVER" default:"postgres"`
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	RedisURL      string `envconfig:"REDIS_URL"`
	RunMigrations bool   `envconfig:"RUN_MIGRATIONS" default:"true"`
	DBMaxConns    int32  `envconfig:"DB_MAX_CONNS" default:"10"`
	DBMinConns    int32  `envconfig:"DB_MIN_CONNS" default:"2"`

	// Auth
	JWTSecret string        `envconfig:"JWT_SECRET"`
	JWTExpiry time.Duration `envconfig:"JWT_EXPIRY" default:"24h"`

	// State machine thresholds
	IdleToAwayMinutes      int `envconfig:"IDLE_TO_AWAY" default:"5"`
	AwayToOfflineMinutes   int `envconfig:"AWAY_TO_OFFLINE" default:"30"`
	DisconnectGraceSeconds int `envconfig:"DISCONNECT_GRACE" default:"60"`
	ActivityThrottleSecs   int `envconfig:"ACTIVITY_THROTTLE_WINDOW" default:"30"`
	// 0 means use the disconnect grace
	HeartbeatTimeoutSecs int `envconfig:"HEARTBEAT_TIMEOUT" default:"0"`

	// Sweep
	SweepEnabled  bool          `envconfig:"SWEEP_ENABLED" default:"true"`
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"30s"`
	SweepLockTTL  time.Duration `envconfig:"SWEEP_LOCK_TTL" default:"25s"`
	SweepKeyHash  string        `envconfig:"SWEEP_KEY_HASH"` // bcrypt hash; empty disables POST /internal/sweep

	// Change feed
	FeedDriver  string `envconfig:"FEED_DRIVER" default:"redis"`
	FeedChannel string `envconfig:"FEED_CHANNEL" default:"presence.changes"`
	AMQPURL     string `envconfig:"AMQP_URL"`
	NATSURL     string `envconfig:"NATS_URL"`
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	cfg.FeedDriver = strings.ToLower(strings.TrimSpace(cfg.FeedDriver))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}

	switch c.StorageDriver {
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required")
		}
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}

	switch c.FeedDriver {
	case FeedRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required for the redis feed")
		}
	case FeedAMQP:
		if c.AMQPURL == "" {
			return errors.New("AMQP_URL is required for the amqp feed")
		}
	case FeedNATS:
		if c.NATSURL == "" {
			return errors.New("NATS_URL is required for the nats feed")
		}
	case FeedNone:
	default:
		return fmt.Errorf("unknown FEED_DRIVER %q", c.FeedDriver)
	}

	if c.IdleToAwayMinutes <= 0 || c.AwayToOfflineMinutes <= 0 {
		return errors.New("IDLE_TO_AWAY and AWAY_TO_OFFLINE must be positive")
	}
	if c.DisconnectGraceSeconds <= 0 {
		return errors.New("DISCONNECT_GRACE must be positive")
	}
	if c.ActivityThrottleSecs < 0 || c.HeartbeatTimeoutSecs < 0 {
		return errors.New("ACTIVITY_THROTTLE_WINDOW and HEARTBEAT_TIMEOUT must not be negative")
	}
	if c.SweepEnabled && c.SweepInterval <= 0 {
		return errors.New("SWEEP_INTERVAL must be positive")
	}
	return nil
}

// Thresholds converts the configured durations for the state machine.
func (c *Config) Thresholds() presence.Thresholds {
	grace := time.Duration(c.DisconnectGraceSeconds) * time.Second
	heartbeat := time.Duration(c.HeartbeatTimeoutSecs) * time.Second
	if heartbeat == 0 {
		heartbeat = grace
	}
	return presence.Thresholds{
		IdleToAway:       time.Duration(c.IdleToAwayMinutes) * time.Minute,
		AwayToOffline:    time.Duration(c.AwayToOfflineMinutes) * time.Minute,
		DisconnectGrace:  grace,
		ActivityThrottle: time.Duration(c.ActivityThrottleSecs) * time.Second,
		HeartbeatTimeout: heartbeat,
	}
}

func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}
