package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig_Missing(t *testing.T) {
	PathOverride = filepath.Join(t.TempDir(), "absent.yaml")
	defer func() { PathOverride = "" }()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server != "" || cfg.Token != "" {
		t.Errorf("expected empty config, got %+v", cfg)
	}
}

func TestSaveThenLoad(t *testing.T) {
	PathOverride = filepath.Join(t.TempDir(), "wsotp.yaml")
	defer func() { PathOverride = "" }()

	want := &Config{Server: "bot.example.com:4443", Token: "s3cret", TelegramID: 42}
	if err := SaveConfig(want); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	info, err := os.Stat(PathOverride)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("perm = %v, want 0600", info.Mode().Perm())
	}

	got, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if *got != *want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	PathOverride = filepath.Join(t.TempDir(), "bad.yaml")
	defer func() { PathOverride = "" }()
	os.WriteFile(PathOverride, []byte("server: [unclosed"), 0600)

	if _, err := LoadConfig(); err == nil {
		t.Error("expected parse error")
	}
}
