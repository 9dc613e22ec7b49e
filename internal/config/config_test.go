package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/high-horse/fingerprint-server/internal/config"
)

func TestDefaults(t *testing.T) {
	cfg := config.Default()
	if cfg.Server.Bind != ":9090" {
		t.Fatalf("unexpected bind %q", cfg.Server.Bind)
	}
	if cfg.Scanner.DefaultTimeoutMS != 10000 {
		t.Fatalf("unexpected default timeout %d", cfg.Scanner.DefaultTimeoutMS)
	}
	if cfg.Matcher.Threshold != 50 {
		t.Fatalf("unexpected threshold %v", cfg.Matcher.Threshold)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("unexpected log level %q", cfg.Log.Level)
	}
}

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Bind != ":9090" {
		t.Fatalf("expected defaults, got bind %q", cfg.Server.Bind)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fingerd.toml")
	doc := `
[server]
bind = ":8123"

[matcher]
threshold = 65.5

[scanner]
default_timeout_ms = 4000
max_timeout_ms = 30000
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Bind != ":8123" {
		t.Fatalf("unexpected bind %q", cfg.Server.Bind)
	}
	if cfg.Matcher.Threshold != 65.5 {
		t.Fatalf("unexpected threshold %v", cfg.Matcher.Threshold)
	}
	if cfg.Scanner.DefaultTimeoutMS != 4000 {
		t.Fatalf("unexpected timeout %d", cfg.Scanner.DefaultTimeoutMS)
	}
	// Untouched sections keep their defaults.
	if cfg.Database.Path != "fingerprints.db" {
		t.Fatalf("unexpected db path %q", cfg.Database.Path)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FINGERD_BIND", ":7001")
	t.Setenv("FINGERD_DB", "/tmp/alt.db")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Bind != ":7001" {
		t.Fatalf("env bind not applied: %q", cfg.Server.Bind)
	}
	if cfg.Database.Path != "/tmp/alt.db" {
		t.Fatalf("env db path not applied: %q", cfg.Database.Path)
	}
}

func TestValidateRejectsBadTimeouts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fingerd.toml")
	doc := `
[scanner]
default_timeout_ms = 5000
max_timeout_ms = 1000
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := config.Load(path); err == nil {
		t.Fatal("expected validation error for max below default")
	}
}
