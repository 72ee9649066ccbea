package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for dmclient.
type Config struct {
	// API host serving the private-messaging REST endpoints.
	APIHost string `env:"DM_API_HOST" envDefault:"api.example.com"`

	// Broadcast host serving the push WebSocket endpoint.
	PushHost string `env:"DM_PUSH_HOST" envDefault:"broadcast.example.com"`

	// Path to the accounts database. Defaults to ~/.dmclient/accounts.db.
	AccountsDB string `env:"DM_ACCOUNTS_DB"`

	// Optional credentials seeded into the accounts store at startup.
	// Useful for first runs and headless deployments; once stored, the
	// store is authoritative and these may be unset.
	SeedUID          int64  `env:"DM_ACCOUNT_UID"`
	SeedSessionToken string `env:"DM_ACCOUNT_SESSION"`
	SeedCSRF         string `env:"DM_ACCOUNT_CSRF"`

	// Page size for message fetches.
	MessagePageSize int `env:"DM_MESSAGE_PAGE_SIZE" envDefault:"20"`

	// Device name this client identifies as. Defaults to system hostname.
	DeviceName string `env:"DEVICE_NAME"`

	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.DeviceName == "" {
		hostname, err := os.Hostname()
		if err != nil || hostname == "" {
			hostname = "dmclient"
		}

		cfg.DeviceName = hostname
	}

	if cfg.AccountsDB == "" {
		path, err := DefaultAccountsDB()
		if err != nil {
			return nil, err
		}

		cfg.AccountsDB = path
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.APIHost == "" {
		return fmt.Errorf("DM_API_HOST must not be empty")
	}

	if c.PushHost == "" {
		return fmt.Errorf("DM_PUSH_HOST must not be empty")
	}

	if c.MessagePageSize < 1 {
		return fmt.Errorf("DM_MESSAGE_PAGE_SIZE must be at least 1")
	}

	// Seed credentials are all-or-nothing: a UID without a session token
	// (or vice versa) cannot authenticate anything.
	seeded := c.SeedUID != 0 || c.SeedSessionToken != ""
	if seeded && (c.SeedUID == 0 || c.SeedSessionToken == "") {
		return fmt.Errorf("DM_ACCOUNT_UID and DM_ACCOUNT_SESSION must be set together")
	}

	return nil
}

// DefaultAccountsDB returns the default accounts database path:
// ~/.dmclient/accounts.db
func DefaultAccountsDB() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".dmclient", "accounts.db"), nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
