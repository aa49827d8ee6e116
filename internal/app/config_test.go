package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("PORT", "")
	t.Setenv("JWT_SECRET_KEY", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("addr=%q", cfg.Addr)
	}
	if cfg.Auth.AccessTokenTTL.Duration != time.Hour {
		t.Fatalf("access ttl=%s", cfg.Auth.AccessTokenTTL.Duration)
	}
	if cfg.Writer.FlushChars != 50 || cfg.Writer.FlushInterval.Duration != 250*time.Millisecond {
		t.Fatalf("writer defaults: %+v", cfg.Writer)
	}
	if cfg.Sweeper.MaxAge.Duration != 20*time.Minute {
		t.Fatalf("sweeper max_age=%s", cfg.Sweeper.MaxAge.Duration)
	}
}

func TestLoadConfigYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte(`
env: production
addr: ":9000"
model: lumen-large
auth:
  jwt_secret_key: filesecret
  access_token_ttl: 30m
writer:
  flush_interval: 100ms
  flush_chars: 80
sweeper:
  interval: 45
  max_age: 10m
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("PORT", "")
	t.Setenv("LOG_MODE", "")
	t.Setenv("JWT_SECRET_KEY", "")
	t.Setenv("MODEL", "")
	t.Setenv("ACCESS_TOKEN_TTL", "")
	t.Setenv("STREAM_SWEEP_INTERVAL_SECONDS", "")
	t.Setenv("STREAM_SWEEP_MAX_AGE_SECONDS", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Env != "production" || cfg.Addr != ":9000" || cfg.Model != "lumen-large" {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.Auth.JWTSecretKey != "filesecret" || cfg.Auth.AccessTokenTTL.Duration != 30*time.Minute {
		t.Fatalf("auth=%+v", cfg.Auth)
	}
	if cfg.Writer.FlushInterval.Duration != 100*time.Millisecond || cfg.Writer.FlushChars != 80 {
		t.Fatalf("writer=%+v", cfg.Writer)
	}
	// Bare ints are seconds.
	if cfg.Sweeper.Interval.Duration != 45*time.Second {
		t.Fatalf("sweeper interval=%s", cfg.Sweeper.Interval.Duration)
	}
	if cfg.Sweeper.MaxAge.Duration != 10*time.Minute {
		t.Fatalf("sweeper max_age=%s", cfg.Sweeper.MaxAge.Duration)
	}
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("addr: \":9000\"\nauth:\n  jwt_secret_key: filesecret\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("PORT", "7070")
	t.Setenv("JWT_SECRET_KEY", "envsecret")
	t.Setenv("ACCESS_TOKEN_TTL", "120")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7070" {
		t.Fatalf("addr=%q", cfg.Addr)
	}
	if cfg.Auth.JWTSecretKey != "envsecret" {
		t.Fatalf("jwt=%q", cfg.Auth.JWTSecretKey)
	}
	if cfg.Auth.AccessTokenTTL.Duration != 2*time.Minute {
		t.Fatalf("ttl=%s", cfg.Auth.AccessTokenTTL.Duration)
	}
}

func TestLoadConfigRejectsBadDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("writer:\n  flush_interval: soon\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}
