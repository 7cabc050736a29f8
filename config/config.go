// Package config loads runtime configuration from the environment, after an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the server and CLI.
type Config struct {
	Addr         string        `envconfig:"ADDR" default:":8080"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"15s"`

	DBPath string `envconfig:"DB_PATH" default:"ledger.db"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	// Empty RedisAddr keeps per-account locks in process.
	RedisAddr string        `envconfig:"REDIS_ADDR"`
	LockTTL   time.Duration `envconfig:"LOCK_TTL" default:"10s"`

	PostMaxAttempts int           `envconfig:"POST_MAX_ATTEMPTS" default:"3"`
	AuditInterval   time.Duration `envconfig:"AUDIT_INTERVAL" default:"1h"`
	SeedChart       bool          `envconfig:"SEED_CHART" default:"false"`

	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:5173,http://localhost:8080"`
}

// Prefix is the environment variable prefix (LEDGER_ADDR, LEDGER_DB_PATH, ...).
const Prefix = "LEDGER"

// Load reads an optional .env file (envPath, or ./.env when empty) and then
// the LEDGER_* environment variables.
func Load(envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envPath, err)
		}
	} else {
		_ = godotenv.Load()
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the ledger cannot run with.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return errors.New("config: LEDGER_DB_PATH must be set")
	}
	if c.PostMaxAttempts < 1 || c.PostMaxAttempts > 3 {
		return fmt.Errorf("config: LEDGER_POST_MAX_ATTEMPTS must be between 1 and 3, got %d", c.PostMaxAttempts)
	}
	if c.AuditInterval < 0 {
		return errors.New("config: LEDGER_AUDIT_INTERVAL must not be negative")
	}
	return nil
}
