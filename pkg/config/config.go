package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the site ownership service.
// Configuration can come from a YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, tokens) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3480"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Store selects and configures the ownership store backend.
	Store StoreConfig `yaml:"store"`

	// Database configuration (PostgreSQL), used when Store.Backend is "postgres".
	Database DatabaseConfig `yaml:"database"`

	// Redis holds the cached broad-read snapshot. Optional: without a host the
	// snapshot is cached in process.
	Redis RedisConfig `yaml:"redis"`

	// Directory is the external directory service that issues sites.
	Directory DirectoryConfig `yaml:"directory"`

	// Sync tunes the ownership synchronization controller.
	Sync SyncConfig `yaml:"sync"`

	// Status tunes the live site status monitor.
	Status StatusConfig `yaml:"status"`
}

// StoreConfig selects the ownership store backend.
type StoreConfig struct {
	// Backend is "postgres" or "memory".
	Backend string `yaml:"backend" env:"STORE_BACKEND" env-default:"postgres"`

	// SeedFile is a YAML file of companies and ownership records loaded into the
	// memory backend at startup. Ignored by the postgres backend.
	SeedFile string `yaml:"seed_file" env:"STORE_SEED_FILE" env-default:""`

	// MigrationsPath is the directory holding SQL migrations.
	MigrationsPath string `yaml:"migrations_path" env:"STORE_MIGRATIONS_PATH" env-default:"migrations"`

	// SnapshotTTL bounds how long a cached broad read may be served.
	SnapshotTTL time.Duration `yaml:"snapshot_ttl" env:"STORE_SNAPSHOT_TTL" env-default:"24h"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"sites"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"site_ownership"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// DirectoryConfig holds the directory service client configuration.
type DirectoryConfig struct {
	BaseURL string        `yaml:"base_url" env:"DIRECTORY_BASE_URL" env-default:"http://localhost:8089"`
	Timeout time.Duration `yaml:"timeout" env:"DIRECTORY_TIMEOUT" env-default:"30s"`

	// Token is a static bearer credential used when requests carry none.
	Token string `yaml:"-" env:"DIRECTORY_TOKEN"` // Secret - not in YAML
}

// SyncConfig holds the ownership synchronization delays.
type SyncConfig struct {
	// AfterWriteDelay gives the store time to reflect a just-completed write.
	AfterWriteDelay time.Duration `yaml:"after_write_delay" env:"SYNC_AFTER_WRITE_DELAY" env-default:"350ms"`
	// RetryDelay is the pause before the single server read retry.
	RetryDelay time.Duration `yaml:"retry_delay" env:"SYNC_RETRY_DELAY" env-default:"600ms"`
}

// StatusConfig holds the site status monitor settings.
type StatusConfig struct {
	TTL         time.Duration `yaml:"ttl" env:"STATUS_TTL" env-default:"2m"`
	Concurrency int           `yaml:"concurrency" env:"STATUS_CONCURRENCY" env-default:"6"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// A missing config.yaml is not an error; defaults and environment variables apply.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		if !isMissingFile(err) {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	switch c.Store.Backend {
	case "postgres", "memory":
	default:
		return fmt.Errorf("store.backend must be postgres or memory, got %q", c.Store.Backend)
	}

	if _, err := url.ParseRequestURI(c.Directory.BaseURL); err != nil {
		return fmt.Errorf("directory.base_url is not a valid URL: %w", err)
	}

	if c.Sync.AfterWriteDelay < 0 || c.Sync.RetryDelay < 0 {
		return fmt.Errorf("sync delays must not be negative")
	}

	if c.Status.TTL <= 0 {
		return fmt.Errorf("status.ttl must be positive")
	}
	if c.Status.Concurrency < 1 {
		return fmt.Errorf("status.concurrency must be at least 1")
	}

	return nil
}

func isMissingFile(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns the connection string in URL form, as expected by golang-migrate.
func (c *DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}
