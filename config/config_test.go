package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp moves into an empty directory so a stray ./.env is not picked up.
func chdirTemp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(wd) })
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "ledger.db", cfg.DBPath)
	assert.Equal(t, 3, cfg.PostMaxAttempts)
	assert.Equal(t, time.Hour, cfg.AuditInterval)
	assert.Equal(t, 10*time.Second, cfg.LockTTL)
	assert.Empty(t, cfg.RedisAddr)
	assert.False(t, cfg.SeedChart)
	assert.Equal(t, []string{"http://localhost:5173", "http://localhost:8080"}, cfg.AllowedOrigins)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	chdirTemp(t)
	t.Setenv("LEDGER_ADDR", ":9090")
	t.Setenv("LEDGER_DB_PATH", "/tmp/books.db")
	t.Setenv("LEDGER_REDIS_ADDR", "localhost:6379")
	t.Setenv("LEDGER_POST_MAX_ATTEMPTS", "2")
	t.Setenv("LEDGER_AUDIT_INTERVAL", "0")
	t.Setenv("LEDGER_SEED_CHART", "true")
	t.Setenv("LEDGER_ALLOWED_ORIGINS", "https://books.example.com")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "/tmp/books.db", cfg.DBPath)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 2, cfg.PostMaxAttempts)
	assert.Zero(t, cfg.AuditInterval)
	assert.True(t, cfg.SeedChart)
	assert.Equal(t, []string{"https://books.example.com"}, cfg.AllowedOrigins)
}

func TestLoad_EnvFile(t *testing.T) {
	chdirTemp(t)
	path := filepath.Join(t.TempDir(), "ledger.env")
	require.NoError(t, os.WriteFile(path, []byte("LEDGER_LOG_LEVEL=debug\nLEDGER_LOG_FORMAT=json\n"), 0o600))
	t.Setenv("LEDGER_LOG_LEVEL", "")
	os.Unsetenv("LEDGER_LOG_LEVEL")
	t.Setenv("LEDGER_LOG_FORMAT", "")
	os.Unsetenv("LEDGER_LOG_FORMAT")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)

	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := Config{DBPath: "ledger.db", PostMaxAttempts: 3, AuditInterval: time.Minute}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"valid", func(*Config) {}, ""},
		{"no database", func(c *Config) { c.DBPath = "" }, "LEDGER_DB_PATH"},
		{"zero attempts", func(c *Config) { c.PostMaxAttempts = 0 }, "LEDGER_POST_MAX_ATTEMPTS"},
		{"too many attempts", func(c *Config) { c.PostMaxAttempts = 4 }, "LEDGER_POST_MAX_ATTEMPTS"},
		{"negative interval", func(c *Config) { c.AuditInterval = -time.Second }, "LEDGER_AUDIT_INTERVAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
