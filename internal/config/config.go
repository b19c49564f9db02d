// Package config loads the service configuration from TOML files and the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendBigQuery = "bigquery"
)

// Revalidation modes.
const (
	RevalidateLog   = "log"
	RevalidateRedis = "redis"
	RevalidateNone  = "none"
)

// Config holds all configuration for the service
type Config struct {
	Environment string           `toml:"environment"`
	Server      ServerConfig     `toml:"server"`
	Storage     StorageConfig    `toml:"storage"`
	Auth        AuthConfig       `toml:"auth"`
	Email       EmailConfig      `toml:"email"`
	Revalidate  RevalidateConfig `toml:"revalidate"`
	Archive     ArchiveConfig    `toml:"archive"`
	Jobs        JobsConfig       `toml:"jobs"`
	Logging     LoggingConfig    `toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string `toml:"host"`
	Port            int    `toml:"port"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
}

// Addr returns the listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetShutdownTimeout parses and returns the graceful shutdown timeout
func (c *ServerConfig) GetShutdownTimeout() time.Duration {
	return parseDuration(c.ShutdownTimeout, 30*time.Second)
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Backend  string         `toml:"backend"`
	Fixture  string         `toml:"fixture"` // JSON seed for the memory backend
	Postgres PostgresConfig `toml:"postgres"`
	BigQuery BigQueryConfig `toml:"bigquery"`
}

// PostgresConfig holds connection settings for the relational backend.
type PostgresConfig struct {
	PrimaryDSN      string `toml:"primary_dsn"`
	ReplicaDSN      string `toml:"replica_dsn"` // optional read replica
	MaxOpenConns    int    `toml:"max_open_conns"`
	MaxIdleConns    int    `toml:"max_idle_conns"`
	ConnMaxLifetime string `toml:"conn_max_lifetime"`
	MigrateOnStart  bool   `toml:"migrate_on_start"`
}

// GetConnMaxLifetime parses and returns the pool connection lifetime
func (c *PostgresConfig) GetConnMaxLifetime() time.Duration {
	return parseDuration(c.ConnMaxLifetime, 30*time.Minute)
}

// BigQueryConfig holds the dataset used by the BigQuery backend.
type BigQueryConfig struct {
	ProjectID string `toml:"project_id"`
	Dataset   string `toml:"dataset"`
}

// AuthConfig holds session token verification settings.
type AuthConfig struct {
	JWTSecret     string `toml:"jwt_secret"`
	PublicKeyFile string `toml:"public_key_file"` // PEM; takes precedence over jwt_secret
	Issuer        string `toml:"issuer"`
	SessionCookie string `toml:"session_cookie"`
	Leeway        string `toml:"leeway"`
}

// GetLeeway parses and returns the allowed clock skew
func (c *AuthConfig) GetLeeway() time.Duration {
	return parseDuration(c.Leeway, 5*time.Second)
}

// EmailConfig holds the transactional email API client configuration and
// the message sent by the diagnostic endpoint.
type EmailConfig struct {
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	RateLimit int    `toml:"rate_limit"` // requests per second
	Timeout   string `toml:"timeout"`
	From      string `toml:"from"`
	To        string `toml:"to"`
	Subject   string `toml:"subject"`
	Text      string `toml:"text"`
}

// GetTimeout parses and returns the timeout duration
func (c *EmailConfig) GetTimeout() time.Duration {
	return parseDuration(c.Timeout, 10*time.Second)
}

// RevalidateConfig controls where stale-view notifications go.
type RevalidateConfig struct {
	Mode          string `toml:"mode"`
	Queued        bool   `toml:"queued"` // deliver through the background job queue
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	Channel       string `toml:"channel"`
}

// ArchiveConfig controls archiving of deleted transactions to GCS.
type ArchiveConfig struct {
	Enabled bool   `toml:"enabled"`
	Bucket  string `toml:"bucket"`
	Prefix  string `toml:"prefix"`
}

// JobsConfig sizes the background job queue.
type JobsConfig struct {
	Workers    int    `toml:"workers"`
	BufferSize int    `toml:"buffer_size"`
	Backoff    string `toml:"backoff"`
}

// GetBackoff parses and returns the base retry delay
func (c *JobsConfig) GetBackoff() time.Duration {
	return parseDuration(c.Backoff, time.Second)
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "console" or "json"
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: "30s",
		},
		Storage: StorageConfig{
			Backend: BackendMemory,
			Postgres: PostgresConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: "30m",
			},
			BigQuery: BigQueryConfig{
				ProjectID: "studious-union-470122-v7",
				Dataset:   "finance",
			},
		},
		Auth: AuthConfig{
			SessionCookie: "__session",
			Leeway:        "5s",
		},
		Email: EmailConfig{
			BaseURL:   "https://api.resend.com",
			RateLimit: 2,
			Timeout:   "10s",
			From:      "Welth <onboarding@resend.dev>",
			Subject:   "Welth test email",
			Text:      "This is a test email from Welth.",
		},
		Revalidate: RevalidateConfig{
			Mode:      RevalidateLog,
			RedisAddr: "localhost:6379",
			Channel:   "welth:revalidate",
		},
		Archive: ArchiveConfig{
			Prefix: "deleted-transactions",
		},
		Jobs: JobsConfig{
			Workers:    5,
			BufferSize: 100,
			Backoff:    "1s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides.
// Later files override earlier ones; missing files are skipped.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("WELTH_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("WELTH_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("WELTH_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("WELTH_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("WELTH_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}

	// Storage overrides
	if v := os.Getenv("WELTH_STORAGE_BACKEND"); v != "" {
		config.Storage.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		config.Storage.Postgres.PrimaryDSN = v
	}
	if v := os.Getenv("WELTH_DATABASE_REPLICA_URL"); v != "" {
		config.Storage.Postgres.ReplicaDSN = v
	}
	if v := os.Getenv("GCP_PROJECT_ID"); v != "" {
		config.Storage.BigQuery.ProjectID = v
	}
	if v := os.Getenv("WELTH_BIGQUERY_DATASET"); v != "" {
		config.Storage.BigQuery.Dataset = v
	}

	// Auth overrides
	if v := os.Getenv("WELTH_AUTH_JWT_SECRET"); v != "" {
		config.Auth.JWTSecret = v
	}
	if v := os.Getenv("WELTH_AUTH_PUBLIC_KEY_FILE"); v != "" {
		config.Auth.PublicKeyFile = v
	}
	if v := os.Getenv("WELTH_AUTH_ISSUER"); v != "" {
		config.Auth.Issuer = v
	}

	// Email overrides
	if v := os.Getenv("RESEND_API_KEY"); v != "" {
		config.Email.APIKey = v
	}
	if v := os.Getenv("WELTH_EMAIL_FROM"); v != "" {
		config.Email.From = v
	}
	if v := os.Getenv("WELTH_EMAIL_TO"); v != "" {
		config.Email.To = v
	}

	// Side-effect overrides
	if v := os.Getenv("WELTH_REVALIDATE_MODE"); v != "" {
		config.Revalidate.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("WELTH_REDIS_ADDR"); v != "" {
		config.Revalidate.RedisAddr = v
	}
	if v := os.Getenv("WELTH_REDIS_PASSWORD"); v != "" {
		config.Revalidate.RedisPassword = v
	}
	if v := os.Getenv("GCS_BUCKET"); v != "" {
		config.Archive.Bucket = v
	}
}

// Validate reports configuration that cannot be started with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendBigQuery:
	case BackendPostgres:
		if c.Storage.Postgres.PrimaryDSN == "" {
			return fmt.Errorf("storage.postgres.primary_dsn (or DATABASE_URL) is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	switch c.Revalidate.Mode {
	case RevalidateLog, RevalidateRedis, RevalidateNone:
	default:
		return fmt.Errorf("unknown revalidate mode %q", c.Revalidate.Mode)
	}

	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("archive.bucket (or GCS_BUCKET) is required when archiving is enabled")
	}
	return nil
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
