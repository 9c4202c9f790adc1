package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader("").Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.API.Addr != ":8080" || cfg.API.Store != "sqlite" || cfg.API.MaxUploadBytes != 10<<20 {
		t.Fatalf("api defaults=%+v", cfg.API)
	}
	if cfg.Client.Timeout != 15*time.Second {
		t.Fatalf("client timeout=%v", cfg.Client.Timeout)
	}
	if cfg.Pad.MinWidth != 280 || cfg.Pad.Quality != 0.92 || cfg.Pad.ScrollLock != "auto" {
		t.Fatalf("pad defaults=%+v", cfg.Pad)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fieldsuite.yaml")
	yaml := "api:\n  addr: \":9090\"\n  store: memory\npad:\n  height: 240\n  require_activation: true\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("FIELDSUITE_API_ADDR", ":7070")
	t.Setenv("FIELDSUITE_CLIENT_TOKEN", "tok-123")

	cfg, err := NewLoader(path).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.API.Addr != ":7070" {
		t.Fatalf("env did not override file: %q", cfg.API.Addr)
	}
	if cfg.API.Store != "memory" || cfg.Pad.Height != 240 || !cfg.Pad.RequireActivation {
		t.Fatalf("file values not applied: %+v %+v", cfg.API, cfg.Pad)
	}
	if cfg.Client.Token != "tok-123" {
		t.Fatalf("client token=%q", cfg.Client.Token)
	}
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	if _, err := NewLoader(filepath.Join(t.TempDir(), "missing.yaml")).Load(); err == nil {
		t.Fatalf("expected error for missing explicit config file")
	}
}

func TestWatchReloadsChangedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fieldsuite.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	loader := NewLoader(path)
	cfg, err := loader.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("level=%q", cfg.Logging.Level)
	}

	levels := make(chan string, 16)
	loader.Watch(zap.NewNop(), func(next *Config) {
		select {
		case levels <- next.Logging.Level:
		default:
		}
	})

	if err := os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	deadline := time.After(5 * time.Second)
	for {
		select {
		case level := <-levels:
			if level == "debug" {
				return
			}
		case <-deadline:
			t.Fatalf("reload callback never saw the new level")
		}
	}
}
