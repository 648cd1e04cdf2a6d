// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

// maxTimeScale matches the engine clock limit.
const maxTimeScale = 1e6

// Config is the full server configuration.
type Config struct {
	HTTPAddr string `env:"RHENAL_HTTP_ADDR" envDefault:":8080"`

	// Clock
	TickInterval  time.Duration `env:"RHENAL_TICK_INTERVAL" envDefault:"1s"`
	TimeScale     float64       `env:"RHENAL_TIME_SCALE" envDefault:"1"`
	VitalsCadence time.Duration `env:"RHENAL_VITALS_CADENCE" envDefault:"1m"` // virtual
	StartTime     string        `env:"RHENAL_START_TIME"`                     // RFC3339, empty = now

	// Oracle
	OracleProvider string        `env:"RHENAL_ORACLE_PROVIDER" envDefault:"scripted"`
	OracleModel    string        `env:"RHENAL_ORACLE_MODEL"`
	OracleTimeout  time.Duration `env:"RHENAL_ORACLE_TIMEOUT" envDefault:"20s"`
	OpenAIKey      string        `env:"RHENAL_OPENAI_API_KEY"`
	AnthropicKey   string        `env:"RHENAL_ANTHROPIC_API_KEY"`
	OpenAIBaseURL  string        `env:"RHENAL_OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	AnthropicURL   string        `env:"RHENAL_ANTHROPIC_BASE_URL" envDefault:"https://api.anthropic.com/v1"`
	DailyBudgetUSD float64       `env:"RHENAL_DAILY_BUDGET_USD" envDefault:"5"`
	MaxTokens      int           `env:"RHENAL_MAX_TOKENS" envDefault:"1024"`

	// Journal
	JournalDriver string `env:"RHENAL_JOURNAL_DRIVER"` // sqlite | postgres | empty
	JournalDSN    string `env:"RHENAL_JOURNAL_DSN" envDefault:"rhenal.db"`

	// Snapshot cache
	RedisAddr     string        `env:"RHENAL_REDIS_ADDR"`
	RedisPassword string        `env:"RHENAL_REDIS_PASSWORD"`
	RedisDB       int           `env:"RHENAL_REDIS_DB" envDefault:"0"`
	SnapshotTTL   time.Duration `env:"RHENAL_SNAPSHOT_TTL" envDefault:"30s"`
	SnapshotEvery time.Duration `env:"RHENAL_SNAPSHOT_EVERY" envDefault:"5s"`

	// Logging
	LogLevel  string `env:"RHENAL_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"RHENAL_LOG_FORMAT" envDefault:"json"`

	TuningProfile string `env:"RHENAL_TUNING_PROFILE" envDefault:"default"`
}

// Load parses the environment and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive, got %s", c.TickInterval)
	}
	if math.IsNaN(c.TimeScale) || math.IsInf(c.TimeScale, 0) || c.TimeScale <= 0 || c.TimeScale > maxTimeScale {
		return fmt.Errorf("time scale must be in (0, %v], got %v", maxTimeScale, c.TimeScale)
	}
	if c.VitalsCadence <= 0 {
		return fmt.Errorf("vitals cadence must be positive, got %s", c.VitalsCadence)
	}
	if c.OracleTimeout <= 0 {
		return fmt.Errorf("oracle timeout must be positive, got %s", c.OracleTimeout)
	}
	switch c.OracleProvider {
	case "openai", "anthropic", "scripted":
	default:
		return fmt.Errorf("unknown oracle provider %q", c.OracleProvider)
	}
	switch c.JournalDriver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown journal driver %q", c.JournalDriver)
	}
	if c.StartTime != "" {
		if _, err := time.Parse(time.RFC3339, c.StartTime); err != nil {
			return fmt.Errorf("start time: %w", err)
		}
	}
	return nil
}

// Start returns the configured virtual start time, or fallback when unset.
func (c *Config) Start(fallback time.Time) time.Time {
	if c.StartTime == "" {
		return fallback
	}
	t, err := time.Parse(time.RFC3339, c.StartTime)
	if err != nil {
		return fallback
	}
	return t
}

// Tuning returns the buffer profile selected by RHENAL_TUNING_PROFILE.
func (c *Config) Tuning() Tuning { return TuningFor(c.TuningProfile) }

// Exitf prints a formatted error and terminates the process.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
