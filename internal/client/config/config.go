// Package config stores the admin CLI settings in ~/.wsotp.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the admin CLI configuration file.
type Config struct {
	Server string `yaml:"server"`
	Token  string `yaml:"token"`
	// Plain disables TLS on the control connection.
	Plain bool `yaml:"plain,omitempty"`
	// TelegramID is the default user for per-user commands.
	TelegramID int64 `yaml:"telegram_id,omitempty"`
}

// PathOverride replaces the default location; used by --config.
var PathOverride string

// GetConfigPath returns the path to the config file.
func GetConfigPath() (string, error) {
	if PathOverride != "" {
		return PathOverride, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".wsotp.yaml"), nil
}

// LoadConfig reads the config file. A missing file yields an empty Config.
func LoadConfig() (*Config, error) {
	path, err := GetConfigPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// SaveConfig writes cfg with owner-only permissions since it holds the token.
func SaveConfig(cfg *Config) error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
