package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FIDMARKET_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FIDMARKET_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "FIDMARKET_CHAIN_RPC_URL")
	setStr(&cfg.Chain.ContractAddress, "FIDMARKET_CHAIN_CONTRACT_ADDRESS")
	setDuration(&cfg.Chain.ReceiptPollInterval, "FIDMARKET_CHAIN_RECEIPT_POLL_INTERVAL")
	setInt(&cfg.Chain.ReceiptMaxAttempts, "FIDMARKET_CHAIN_RECEIPT_MAX_ATTEMPTS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "FIDMARKET_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "FIDMARKET_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FIDMARKET_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FIDMARKET_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FIDMARKET_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FIDMARKET_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FIDMARKET_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FIDMARKET_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FIDMARKET_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FIDMARKET_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "FIDMARKET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FIDMARKET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FIDMARKET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FIDMARKET_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FIDMARKET_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FIDMARKET_REDIS_TLS_ENABLED")

	// ── Identity ──
	setStr(&cfg.Identity.BaseURL, "FIDMARKET_IDENTITY_BASE_URL")
	setStr(&cfg.Identity.APIKey, "FIDMARKET_IDENTITY_API_KEY")

	// ── Oracle ──
	setStr(&cfg.Oracle.BaseURL, "FIDMARKET_ORACLE_BASE_URL")
	setDuration(&cfg.Oracle.SpotTTL, "FIDMARKET_ORACLE_SPOT_TTL")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "FIDMARKET_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Endpoint, "FIDMARKET_ARCHIVE_ENDPOINT")
	setStr(&cfg.Archive.Region, "FIDMARKET_ARCHIVE_REGION")
	setStr(&cfg.Archive.Bucket, "FIDMARKET_ARCHIVE_BUCKET")
	setStr(&cfg.Archive.AccessKey, "FIDMARKET_ARCHIVE_ACCESS_KEY")
	setStr(&cfg.Archive.SecretKey, "FIDMARKET_ARCHIVE_SECRET_KEY")
	setBool(&cfg.Archive.UseSSL, "FIDMARKET_ARCHIVE_USE_SSL")
	setBool(&cfg.Archive.ForcePathStyle, "FIDMARKET_ARCHIVE_FORCE_PATH_STYLE")
	setDuration(&cfg.Archive.Interval, "FIDMARKET_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "FIDMARKET_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setInt(&cfg.Server.Port, "FIDMARKET_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "FIDMARKET_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "FIDMARKET_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "FIDMARKET_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "FIDMARKET_SERVER_RATE_WINDOW")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "FIDMARKET_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
