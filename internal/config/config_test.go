// Copyright 2025 James Ross
package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("GENERATOR_MAX_ATTEMPTS")
	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Generator.MaxAttempts != 3 {
		t.Fatalf("expected default generator max attempts 3, got %d", cfg.Generator.MaxAttempts)
	}
	if cfg.Redis.Addr == "" {
		t.Fatalf("expected default redis addr")
	}
	if cfg.Usage.FreeMonthlyLimit != 10 {
		t.Fatalf("expected default free monthly limit 10, got %d", cfg.Usage.FreeMonthlyLimit)
	}
	if cfg.TenantLock.TTL != 15*time.Minute {
		t.Fatalf("expected default tenant lock ttl 15m, got %s", cfg.TenantLock.TTL)
	}
}

func TestValidateFails(t *testing.T) {
	cfg := defaultConfig()
	cfg.Generator.MaxAttempts = 0
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for generator.max_attempts < 1")
	}

	cfg = defaultConfig()
	cfg.Lease.TTL = 5 * time.Second
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for lease.ttl < 30s")
	}

	cfg = defaultConfig()
	cfg.TenantLock.TTL = cfg.Lease.TTL
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for tenant_lock.ttl <= lease.ttl")
	}

	cfg = defaultConfig()
	cfg.Database.URL = ""
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for missing database.url")
	}
}
