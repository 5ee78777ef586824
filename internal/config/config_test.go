package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromFileWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
server:
  host: 127.0.0.1
  port: 9000
auth:
  jwt_secret: file-secret
exchange_methods:
  - type: gopay
    name: GoPay
    min_amount: 100
    max_amount: 100000
    conversion_rate: 100
    admin_fee: 1000
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CONFIG_PATH", path)
	t.Setenv("SERVER_PORT", "9100")
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Fatalf("host = %q, want 127.0.0.1", cfg.Server.Host)
	}
	if cfg.Server.Port != 9100 {
		t.Fatalf("port = %d, want env override 9100", cfg.Server.Port)
	}
	if cfg.Auth.JWTSecret != "file-secret" {
		t.Fatalf("secret = %q, want file-secret", cfg.Auth.JWTSecret)
	}
	if len(cfg.Methods) != 1 || cfg.Methods[0].Type != "gopay" {
		t.Fatalf("methods = %+v, want configured gopay", cfg.Methods)
	}
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("SERVER_PORT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("port = %d, want default 8080", cfg.Server.Port)
	}
	if len(cfg.Methods) == 0 {
		t.Fatal("expected default method catalog")
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("log level = %q, want info", cfg.Logging.Level)
	}
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("JWT_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error without jwt secret")
	}
}
