// Package config defines the top-level configuration for the marketplace
// reconciler and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by FIDMARKET_* environment
// variables.
type Config struct {
	Chain    ChainConfig    `toml:"chain"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Identity IdentityConfig `toml:"identity"`
	Oracle   OracleConfig   `toml:"oracle"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	LogLevel string         `toml:"log_level"`
}

// ChainConfig holds the ledger-node connection and the marketplace contract.
type ChainConfig struct {
	RPCURL string `toml:"rpc_url"`

	// ContractAddress filters decoded logs to the marketplace registry.
	// Empty disables the filter (useful against local test nodes).
	ContractAddress string `toml:"contract_address"`

	// ReceiptPollInterval is the wait between receipt polls.
	ReceiptPollInterval duration `toml:"receipt_poll_interval"`

	// ReceiptMaxAttempts bounds how many polls a fetch may take.
	ReceiptMaxAttempts int `toml:"receipt_max_attempts"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// IdentityConfig holds the username-search service connection.
type IdentityConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

// OracleConfig holds the fiat price oracle connection.
type OracleConfig struct {
	BaseURL string `toml:"base_url"`

	// SpotTTL bounds how stale the cached spot price may get.
	SpotTTL duration `toml:"spot_ttl"`
}

// ArchiveConfig holds the S3-compatible store used for ledger archival.
// Archival is disabled entirely when Enabled is false.
type ArchiveConfig struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`

	// Interval is the pause between automatic archive runs; zero disables
	// the background loop (manual runs still work).
	Interval duration `toml:"interval"`

	// RetentionDays is how long ledger entries stay in the primary store.
	RetentionDays int `toml:"retention_days"`
}

// ServerConfig holds the HTTP API configuration.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`

	// RateLimit is requests per client per rate_window; zero disables
	// limiting.
	RateLimit  int           `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:              "http://localhost:8545",
			ReceiptPollInterval: duration{time.Second},
			ReceiptMaxAttempts:  120,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "fidmarket",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Identity: IdentityConfig{
			BaseURL: "https://api.neynar.com",
		},
		Oracle: OracleConfig{
			BaseURL: "https://api.coinbase.com",
			SpotTTL: duration{time.Minute},
		},
		Archive: ArchiveConfig{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "fidmarket-archive",
			UseSSL:         false,
			ForcePathStyle: true,
			Interval:       duration{6 * time.Hour},
			RetentionDays:  90,
		},
		Server: ServerConfig{
			Port:       8080,
			RateLimit:  120,
			RateWindow: duration{time.Minute},
		},
		LogLevel: "info",
	}
}

// duration wraps time.Duration so the TOML decoder can parse strings like
// "5m" or "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain
	if strings.TrimSpace(c.Chain.RPCURL) == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.ReceiptPollInterval.Duration <= 0 {
		errs = append(errs, "chain: receipt_poll_interval must be positive")
	}
	if c.Chain.ReceiptMaxAttempts <= 0 {
		errs = append(errs, "chain: receipt_max_attempts must be positive")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}

	// Identity
	if strings.TrimSpace(c.Identity.BaseURL) == "" {
		errs = append(errs, "identity: base_url must not be empty")
	}

	// Oracle
	if strings.TrimSpace(c.Oracle.BaseURL) == "" {
		errs = append(errs, "oracle: base_url must not be empty")
	}
	if c.Oracle.SpotTTL.Duration <= 0 {
		errs = append(errs, "oracle: spot_ttl must be positive")
	}

	// Archive
	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			errs = append(errs, "archive: bucket must not be empty when archival is enabled")
		}
		if c.Archive.Region == "" {
			errs = append(errs, "archive: region must not be empty when archival is enabled")
		}
		if c.Archive.RetentionDays <= 0 {
			errs = append(errs, "archive: retention_days must be positive")
		}
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server: rate_limit must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// PostgresDSN assembles the connection string, preferring an explicit DSN.
func (c *Config) PostgresDSN() string {
	if dsn := strings.TrimSpace(c.Postgres.DSN); dsn != "" {
		return dsn
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.Database,
		c.Postgres.SSLMode,
	)
}
