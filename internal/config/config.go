// Package config loads server settings from the environment and an optional
// .env file.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the server configuration.
type Config struct {
	// BotToken is the Telegram bot token. The bot is disabled when empty.
	BotToken string `mapstructure:"BOT_TOKEN"`
	// AdminID is the Telegram id allowed to run admin commands.
	AdminID int64 `mapstructure:"ADMIN_ID"`
	// BaseURL is the registration API root.
	BaseURL string `mapstructure:"BASE_URL"`
	// Port is the HTTP ingress address when TLS is off.
	Port string `mapstructure:"PORT"`
	// DBPath is the SQLite database file.
	DBPath string `mapstructure:"DB_PATH"`

	MaxPerAccount      int           `mapstructure:"MAX_PER_ACCOUNT"`
	MaxChecks          int           `mapstructure:"MAX_CHECKS"`
	PollInterval       time.Duration `mapstructure:"POLL_INTERVAL"`
	RemoteTimeout      time.Duration `mapstructure:"REMOTE_TIMEOUT"`
	RemoteRPS          float64       `mapstructure:"REMOTE_RPS"`
	TelegramRPS        float64       `mapstructure:"TELEGRAM_RPS"`
	CleanupConcurrency int           `mapstructure:"CLEANUP_CONCURRENCY"`

	// ResetHour and ResetTZ place the daily ledger boundary.
	ResetHour int    `mapstructure:"RESET_HOUR"`
	ResetTZ   string `mapstructure:"RESET_TZ"`

	// ControlAddr is the admin control plane listener.
	ControlAddr string `mapstructure:"CONTROL_ADDR"`
	// AdminAPIToken authenticates control plane sessions. The control
	// plane is disabled when empty.
	AdminAPIToken string `mapstructure:"ADMIN_API_TOKEN"`

	DomainName   string `mapstructure:"DOMAIN_NAME"`
	Email        string `mapstructure:"EMAIL"`
	InsecureHTTP bool   `mapstructure:"INSECURE_HTTP"`

	SentryDSN string `mapstructure:"SENTRY_DSN"`

	SealHashKey  string `mapstructure:"SEAL_HASH_KEY"`
	SealBlockKey string `mapstructure:"SEAL_BLOCK_KEY"`

	// LegacyAccountsFile is imported once at startup when set.
	LegacyAccountsFile string `mapstructure:"LEGACY_ACCOUNTS_FILE"`
	LockFile           string `mapstructure:"LOCK_FILE"`

	Env string `mapstructure:"APP_ENV"`
}

var defaults = map[string]interface{}{
	"BOT_TOKEN":            "",
	"ADMIN_ID":             0,
	"BASE_URL":             "",
	"PORT":                 ":8080",
	"DB_PATH":              "wsotp.db",
	"MAX_PER_ACCOUNT":      10,
	"MAX_CHECKS":           100,
	"POLL_INTERVAL":        "2s",
	"REMOTE_TIMEOUT":       "10s",
	"REMOTE_RPS":           20,
	"TELEGRAM_RPS":         25,
	"CLEANUP_CONCURRENCY":  8,
	"RESET_HOUR":           16,
	"RESET_TZ":             "Asia/Dhaka",
	"CONTROL_ADDR":         ":4443",
	"ADMIN_API_TOKEN":      "",
	"DOMAIN_NAME":          "",
	"EMAIL":                "",
	"INSECURE_HTTP":        false,
	"SENTRY_DSN":           "",
	"SEAL_HASH_KEY":        "",
	"SEAL_BLOCK_KEY":       "",
	"LEGACY_ACCOUNTS_FILE": "",
	"LOCK_FILE":            "wsotp.lock",
	"APP_ENV":              "development",
}

// Load reads .env when present, then builds and validates Config from the
// environment. Variables already set in the environment win over .env.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("config: BASE_URL must be set")
	}
	if c.MaxPerAccount < 1 {
		return errors.New("config: MAX_PER_ACCOUNT must be at least 1")
	}
	if c.MaxChecks < 1 {
		return errors.New("config: MAX_CHECKS must be at least 1")
	}
	if c.PollInterval <= 0 {
		return errors.New("config: POLL_INTERVAL must be positive")
	}
	if c.ResetHour < 0 || c.ResetHour > 23 {
		return errors.New("config: RESET_HOUR must be between 0 and 23")
	}
	if _, err := time.LoadLocation(c.ResetTZ); err != nil {
		return fmt.Errorf("config: RESET_TZ: %w", err)
	}
	if c.BotToken != "" && c.AdminID == 0 {
		return errors.New("config: ADMIN_ID must be set when BOT_TOKEN is")
	}
	return nil
}

// Location returns the ledger time zone. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ResetTZ)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Production reports whether insecure development fallbacks must be refused.
func (c *Config) Production() bool {
	return c.Env == "production"
}

// TLS reports whether ingress and control plane should use autocert.
func (c *Config) TLS() bool {
	return c.DomainName != "" && !c.InsecureHTTP
}
