// Package config loads server settings from the environment and an optional
// .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

type Config struct {
	Port                     string   `mapstructure:"PORT"`
	Env                      string   `mapstructure:"ENV"`
	DBPath                   string   `mapstructure:"DB_PATH"`
	RedisURL                 string   `mapstructure:"REDIS_URL"`
	CacheTTLSeconds          int      `mapstructure:"CACHE_TTL_SECONDS"`
	CORSOrigins              []string `mapstructure:"CORS_ORIGINS"`
	LogLevel                 string   `mapstructure:"LOG_LEVEL"`
	SchedulerEnabled         bool     `mapstructure:"SCHEDULER_ENABLED"`
	SchedulerIntervalMinutes int      `mapstructure:"SCHEDULER_INTERVAL_MINUTES"`
	BondExpiryWindowDays     int      `mapstructure:"BOND_EXPIRY_WINDOW_DAYS"`
}

var keys = []string{
	"PORT", "ENV", "DB_PATH", "REDIS_URL", "CACHE_TTL_SECONDS", "CORS_ORIGINS",
	"LOG_LEVEL", "SCHEDULER_ENABLED", "SCHEDULER_INTERVAL_MINUTES", "BOND_EXPIRY_WINDOW_DAYS",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_PATH", "rentals.db")
	v.SetDefault("CACHE_TTL_SECONDS", 300)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("SCHEDULER_ENABLED", true)
	v.SetDefault("SCHEDULER_INTERVAL_MINUTES", 60)
	v.SetDefault("BOND_EXPIRY_WINDOW_DAYS", 30)

	// Bind explicitly so Unmarshal sees variables that have no default.
	for _, k := range keys {
		v.BindEnv(k)
	}

	// A missing .env is fine; an unreadable or malformed one is not.
	if err := v.ReadInConfig(); err != nil && !isNotFound(err) {
		return nil, fmt.Errorf("read .env: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// A comma list arrives as one string from the environment.
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// isNotFound covers both ways viper reports a missing file: a search that
// found nothing, and an explicit path that does not exist.
func isNotFound(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// CacheTTL is how long a computed reconciliation report stays cached.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

func (c *Config) SchedulerInterval() time.Duration {
	return time.Duration(c.SchedulerIntervalMinutes) * time.Minute
}

// Level parses LOG_LEVEL for zerolog.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH is required")
	}
	if c.CacheTTLSeconds < 0 {
		return fmt.Errorf("CACHE_TTL_SECONDS must be >= 0, got %d", c.CacheTTLSeconds)
	}
	if c.SchedulerEnabled && c.SchedulerIntervalMinutes <= 0 {
		return fmt.Errorf("SCHEDULER_INTERVAL_MINUTES must be > 0 when the scheduler is enabled, got %d",
			c.SchedulerIntervalMinutes)
	}
	if c.BondExpiryWindowDays < 0 {
		return fmt.Errorf("BOND_EXPIRY_WINDOW_DAYS must be >= 0, got %d", c.BondExpiryWindowDays)
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return nil
}
