package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, time.Second, cfg.Chain.ReceiptPollInterval.Duration)
	assert.Equal(t, 120, cfg.Chain.ReceiptMaxAttempts)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level = "debug"

[chain]
rpc_url = "https://rpc.example.org"
receipt_poll_interval = "500ms"

[server]
port = 9090
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "https://rpc.example.org", cfg.Chain.RPCURL)
	assert.Equal(t, 500*time.Millisecond, cfg.Chain.ReceiptPollInterval.Duration)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Untouched sections keep their defaults.
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	t.Setenv("FIDMARKET_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("FIDMARKET_SERVER_RATE_LIMIT", "30")
	t.Setenv("FIDMARKET_ARCHIVE_ENABLED", "true")
	t.Setenv("FIDMARKET_ARCHIVE_INTERVAL", "2h")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 30, cfg.Server.RateLimit)
	assert.True(t, cfg.Archive.Enabled)
	assert.Equal(t, 2*time.Hour, cfg.Archive.Interval.Duration)
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "loud"
	cfg.Chain.RPCURL = ""
	cfg.Server.Port = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "rpc_url")
	assert.Contains(t, err.Error(), "port")
}

func TestRedactedConfigHidesSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.Identity.APIKey = "key"
	cfg.Server.APIKey = ""

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Identity.APIKey)
	assert.Empty(t, red.Server.APIKey)
	// The original is untouched.
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
}

func TestPostgresDSNAssembly(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.User = "svc"
	cfg.Postgres.Password = "pw"
	assert.Equal(t, "postgres://svc:pw@localhost:5432/fidmarket?sslmode=disable", cfg.PostgresDSN())

	cfg.Postgres.DSN = "postgres://explicit"
	assert.Equal(t, "postgres://explicit", cfg.PostgresDSN())
}
