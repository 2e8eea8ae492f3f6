package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	// Empty variables count as unset.
	for _, k := range keys {
		t.Setenv(k, "")
	}

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.True(t, cfg.IsDev())
	assert.Equal(t, "rentals.db", cfg.DBPath)
	assert.True(t, cfg.SchedulerEnabled)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL())
	assert.Equal(t, time.Hour, cfg.SchedulerInterval())
	assert.Equal(t, 30, cfg.BondExpiryWindowDays)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.CORSOrigins)
	assert.Empty(t, cfg.RedisURL)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("DB_PATH", "/var/lib/rentals.db")
	t.Setenv("REDIS_URL", "redis://cache:6379/0")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("SCHEDULER_ENABLED", "false")
	t.Setenv("SCHEDULER_INTERVAL_MINUTES", "15")
	t.Setenv("CACHE_TTL_SECONDS", "60")
	t.Setenv("BOND_EXPIRY_WINDOW_DAYS", "45")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.False(t, cfg.IsDev())
	assert.Equal(t, "/var/lib/rentals.db", cfg.DBPath)
	assert.Equal(t, "redis://cache:6379/0", cfg.RedisURL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, zerolog.DebugLevel, cfg.Level())
	assert.False(t, cfg.SchedulerEnabled)
	assert.Equal(t, 15*time.Minute, cfg.SchedulerInterval())
	assert.Equal(t, 45, cfg.BondExpiryWindowDays)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Port: "8080", DBPath: "rentals.db", LogLevel: "info",
			SchedulerEnabled: true, SchedulerIntervalMinutes: 60, BondExpiryWindowDays: 30,
		}
	}

	tests := []struct {
		name string
		edit func(*Config)
		want string
	}{
		{"ok", func(*Config) {}, ""},
		{"no port", func(c *Config) { c.Port = "" }, "PORT"},
		{"no db", func(c *Config) { c.DBPath = "" }, "DB_PATH"},
		{"negative ttl", func(c *Config) { c.CacheTTLSeconds = -1 }, "CACHE_TTL_SECONDS"},
		{"zero interval", func(c *Config) { c.SchedulerIntervalMinutes = 0 }, "SCHEDULER_INTERVAL_MINUTES"},
		{"zero interval, scheduler off", func(c *Config) { c.SchedulerEnabled = false; c.SchedulerIntervalMinutes = 0 }, ""},
		{"negative window", func(c *Config) { c.BondExpiryWindowDays = -3 }, "BOND_EXPIRY_WINDOW_DAYS"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "LOG_LEVEL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.edit(&c)
			err := c.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLevel_FallsBackToInfo(t *testing.T) {
	c := &Config{LogLevel: ""}
	assert.Equal(t, zerolog.InfoLevel, c.Level())
	c.LogLevel = "WARN"
	assert.Equal(t, zerolog.WarnLevel, c.Level())
}

// inDir runs the rest of the test from dir, where Load looks for .env.
func inDir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoad_DotEnv(t *testing.T) {
	for _, k := range keys {
		t.Setenv(k, "")
	}

	t.Run("missing file uses defaults", func(t *testing.T) {
		inDir(t, t.TempDir())

		cfg, err := Load()

		require.NoError(t, err)
		assert.Equal(t, 30, cfg.BondExpiryWindowDays)
	})

	t.Run("values are read", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("BOND_EXPIRY_WINDOW_DAYS=45\n"), 0o600))
		inDir(t, dir)

		cfg, err := Load()

		require.NoError(t, err)
		assert.Equal(t, 45, cfg.BondExpiryWindowDays)
	})

	t.Run("malformed file is an error", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PORT=9090\nthis line is not a setting\n"), 0o600))
		inDir(t, dir)

		cfg, err := Load()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "read .env")
		assert.Nil(t, cfg)
	})
}
