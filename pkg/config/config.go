// Package config loads application configuration from environment
// variables via koanf.
package config

import (
	"fmt"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// ClientSecretFile is the default path to the Google OAuth credentials
// JSON file.
const ClientSecretFile = "data/client_secret.json"

// Config holds the application configuration loaded from environment
// variables.
type Config struct {
	// UserID is the owner of ingested transactions.
	// Environment variable: FINANZAS_USER_ID
	UserID string `koanf:"FINANZAS_USER_ID"`

	// UserEmail is the owner's email, used when provisioning the user row.
	// Environment variable: FINANZAS_USER_EMAIL
	UserEmail string `koanf:"FINANZAS_USER_EMAIL"`

	// ProvidersDir is the directory holding provider YAML configs.
	// Environment variable: FINANZAS_PROVIDERS_DIR
	ProvidersDir string `koanf:"FINANZAS_PROVIDERS_DIR"`

	// GmailQuery is the search query for full mailbox listings.
	// Environment variable: FINANZAS_GMAIL_QUERY
	GmailQuery string `koanf:"FINANZAS_GMAIL_QUERY"`

	// SyncIntervalSeconds is the pause between sync batches in daemon
	// mode. Environment variable: FINANZAS_SYNC_INTERVAL
	SyncIntervalSeconds int `koanf:"FINANZAS_SYNC_INTERVAL"`

	Postgres PostgresConfig
}

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	Host     string `koanf:"POSTGRES_HOST"`
	Port     int    `koanf:"POSTGRES_PORT"`
	Database string `koanf:"POSTGRES_DB"`
	User     string `koanf:"POSTGRES_USER"`
	Password string `koanf:"POSTGRES_PASSWORD"`
	SSLMode  string `koanf:"POSTGRES_SSLMODE"`
}

// SyncInterval returns the configured sync interval, defaulting to five
// minutes.
func (c Config) SyncInterval() time.Duration {
	if c.SyncIntervalSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.SyncIntervalSeconds) * time.Second
}

// Load reads configuration from the environment and applies defaults.
func Load() (Config, error) {
	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", nil), nil); err != nil {
		return Config{}, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf", FlatPaths: true}); err != nil {
		return Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}

	if cfg.UserID == "" {
		cfg.UserID = "default"
	}
	if cfg.ProvidersDir == "" {
		cfg.ProvidersDir = "providers"
	}
	if cfg.GmailQuery == "" {
		cfg.GmailQuery = "in:inbox newer_than:7d"
	}

	return cfg, nil
}
