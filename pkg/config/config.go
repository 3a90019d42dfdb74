package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config holds node configuration.
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"INFO"`

	// GenesisPath is a YAML genesis file; empty selects the built-in devnet.
	GenesisPath string `env:"GENESIS"`

	JournalDriver string `env:"JOURNAL_DRIVER" envDefault:"sqlite"`
	JournalDSN    string `env:"JOURNAL_DSN" envDefault:"proofpay.db"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisStream   string `env:"REDIS_STREAM" envDefault:"proofpay:events"`

	JWTSecret string `env:"JWT_SECRET"`
	JWTIssuer string `env:"JWT_ISSUER" envDefault:"proofpay"`

	RateLimitRPS   float64 `env:"RATE_RPS" envDefault:"20"`
	RateLimitBurst int     `env:"RATE_BURST" envDefault:"40"`

	OTelEnabled  bool   `env:"OTEL_ENABLED" envDefault:"false"`
	OTelEndpoint string `env:"OTEL_ENDPOINT" envDefault:"localhost:4317"`
	OTelInsecure bool   `env:"OTEL_INSECURE" envDefault:"true"`

	SnapshotDir string `env:"SNAPSHOT_DIR" envDefault:"snapshots"`
	S3Bucket    string `env:"S3_BUCKET"`
	S3Region    string `env:"S3_REGION" envDefault:"us-east-1"`
	S3Endpoint  string `env:"S3_ENDPOINT"`
	GCSBucket   string `env:"GCS_BUCKET"`
}

// Load loads configuration from PROOFPAY_* environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "PROOFPAY_"}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects combinations the node cannot start with.
func (c *Config) Validate() error {
	switch c.JournalDriver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown journal driver %q", c.JournalDriver)
	}
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("config: rate limit must be positive")
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string { return ":" + c.Port }
