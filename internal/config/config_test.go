package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func withJWTSecret(t *testing.T) {
	t.Helper()
	t.Setenv("PREFCTL_JWT_SIGNING_KEY", "test-signing-secret")
}

func TestLoad_DefaultsWhenNoPath(t *testing.T) {
	withJWTSecret(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 6777 {
		t.Errorf("Port = %d, want 6777", cfg.Server.Port)
	}
	if cfg.Secrets.JWTSigningKey != "test-signing-secret" {
		t.Errorf("JWTSigningKey not populated from environment")
	}
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	withJWTSecret(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "prefctl.yaml")
	yamlContent := `
server:
  port: 9090
  request_timeout: 45s
auth:
  access_ttl: 5m
  refresh_ttl: 48h
audit:
  default_window: 240h
  max_window: 720h
`
	if err := os.WriteFile(path, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.RequestTimeout != 45*time.Second {
		t.Errorf("RequestTimeout = %v, want 45s", cfg.Server.RequestTimeout)
	}
	if cfg.Auth.AccessTTL != 5*time.Minute {
		t.Errorf("AccessTTL = %v, want 5m", cfg.Auth.AccessTTL)
	}
	// Fields not present in the YAML keep Default()'s value.
	if cfg.Storage.Driver != "memory" {
		t.Errorf("Storage.Driver = %q, want default %q", cfg.Storage.Driver, "memory")
	}
}

func TestLoad_MissingFileErrors(t *testing.T) {
	withJWTSecret(t)
	if _, err := Load("/nonexistent/prefctl.yaml"); err == nil {
		t.Fatal("Load() with missing file: want error, got nil")
	}
}

func TestLoad_MissingSecretErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatal("Load() without PREFCTL_JWT_SIGNING_KEY: want error, got nil")
	}
}

func TestLoader_ReloadPicksUpChanges(t *testing.T) {
	withJWTSecret(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "prefctl.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 7000\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	loader, err := NewLoader(path, nil)
	if err != nil {
		t.Fatalf("NewLoader() error: %v", err)
	}
	if loader.Get().Server.Port != 7000 {
		t.Fatalf("Server.Port = %d, want 7000", loader.Get().Server.Port)
	}

	if err := os.WriteFile(path, []byte("server:\n  port: 7001\n"), 0644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	if err := loader.Reload(); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}
	if loader.Get().Server.Port != 7001 {
		t.Errorf("Server.Port after reload = %d, want 7001", loader.Get().Server.Port)
	}
}

func TestLoader_OnReloadCallback(t *testing.T) {
	withJWTSecret(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "prefctl.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 7000\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	loader, err := NewLoader(path, nil)
	if err != nil {
		t.Fatalf("NewLoader() error: %v", err)
	}

	var called bool
	loader.OnReload(func(cfg *Config) { called = true })

	if err := loader.Reload(); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}
	if !called {
		t.Error("OnReload callback was not invoked")
	}
}

func TestGenerateDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prefctl.yaml")

	if err := GenerateDefault(path); err != nil {
		t.Fatalf("GenerateDefault() error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected %s to exist: %v", path, err)
	}
}
