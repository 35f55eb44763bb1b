package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("BASE_URL", "https://api.example.test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxPerAccount != 10 {
		t.Errorf("MaxPerAccount = %d, want 10", cfg.MaxPerAccount)
	}
	if cfg.MaxChecks != 100 {
		t.Errorf("MaxChecks = %d, want 100", cfg.MaxChecks)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Errorf("PollInterval = %v, want 2s", cfg.PollInterval)
	}
	if cfg.ResetHour != 16 || cfg.ResetTZ != "Asia/Dhaka" {
		t.Errorf("reset = %d %s, want 16 Asia/Dhaka", cfg.ResetHour, cfg.ResetTZ)
	}
	if cfg.ControlAddr != ":4443" {
		t.Errorf("ControlAddr = %q", cfg.ControlAddr)
	}
	if cfg.TLS() {
		t.Error("TLS should be off without DOMAIN_NAME")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("BASE_URL", "https://api.example.test")
	t.Setenv("MAX_PER_ACCOUNT", "12")
	t.Setenv("POLL_INTERVAL", "500ms")
	t.Setenv("ADMIN_ID", "123456789")
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("DOMAIN_NAME", "otp.example.test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxPerAccount != 12 {
		t.Errorf("MaxPerAccount = %d, want 12", cfg.MaxPerAccount)
	}
	if cfg.PollInterval != 500*time.Millisecond {
		t.Errorf("PollInterval = %v, want 500ms", cfg.PollInterval)
	}
	if cfg.AdminID != 123456789 {
		t.Errorf("AdminID = %d", cfg.AdminID)
	}
	if !cfg.TLS() {
		t.Error("TLS should be on with DOMAIN_NAME")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing base url", map[string]string{}, "BASE_URL"},
		{"zero capacity", map[string]string{"BASE_URL": "x", "MAX_PER_ACCOUNT": "0"}, "MAX_PER_ACCOUNT"},
		{"bad hour", map[string]string{"BASE_URL": "x", "RESET_HOUR": "24"}, "RESET_HOUR"},
		{"bad zone", map[string]string{"BASE_URL": "x", "RESET_TZ": "Mars/Olympus"}, "RESET_TZ"},
		{"bot without admin", map[string]string{"BASE_URL": "x", "BOT_TOKEN": "t"}, "ADMIN_ID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("BASE_URL", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %s", err, tt.want)
			}
		})
	}
}
