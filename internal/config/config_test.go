package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadFromFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sellerd.yaml")
	data := `
backend:
  base_url: https://api.example.test
  timeout: 3s
cache:
  live_orders_poll: 5s
  snapshots: redis
breaker:
  error_pct: 75
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Backend.BaseURL != "https://api.example.test" {
		t.Fatalf("base url = %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.Timeout.Std() != 3*time.Second {
		t.Fatalf("timeout = %v", cfg.Backend.Timeout.Std())
	}
	if cfg.Cache.LiveOrdersPoll.Std() != 5*time.Second || cfg.Cache.Snapshots != "redis" {
		t.Fatalf("unexpected cache config %+v", cfg.Cache)
	}
	if cfg.Breaker.ErrorPct != 75 {
		t.Fatalf("error pct = %v", cfg.Breaker.ErrorPct)
	}
	// Untouched fields keep defaults.
	if cfg.Cache.DashboardStatsTTL.Std() != 60*time.Second || cfg.Redis.Addr != "localhost:6379" {
		t.Fatal("defaults should survive partial files")
	}
}

func TestLoadFromFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sellerd.json")
	data := `{"cache":{"default_ttl":"45s"},"log":{"format":"json"}}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Cache.DefaultTTL.Std() != 45*time.Second {
		t.Fatalf("default ttl = %v", cfg.Cache.DefaultTTL.Std())
	}
	if cfg.Log.Format != "json" {
		t.Fatalf("log format = %q", cfg.Log.Format)
	}
}

func TestLoadFromFileRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sellerd.json")
	if err := os.WriteFile(path, []byte(`{"backend":{"timeout":"soon"}}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Fatal("expected error for bad duration")
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("SELLERD_BACKEND_URL", "https://env.example.test")
	t.Setenv("SELLERD_TOKEN", "secret")
	t.Setenv("SELLERD_LIVE_ORDERS_POLL", "2s")
	t.Setenv("SELLERD_BREAKER_ENABLED", "false")
	t.Setenv("SELLERD_REDIS_DB", "3")

	cfg := DefaultConfig()
	if err := LoadFromEnv(cfg); err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Backend.BaseURL != "https://env.example.test" || cfg.Backend.Token != "secret" {
		t.Fatalf("unexpected backend %+v", cfg.Backend)
	}
	if cfg.Cache.LiveOrdersPoll.Std() != 2*time.Second {
		t.Fatalf("poll = %v", cfg.Cache.LiveOrdersPoll.Std())
	}
	if cfg.Breaker.Enabled {
		t.Fatal("breaker should be disabled by env")
	}
	if cfg.Redis.DB != 3 {
		t.Fatalf("redis db = %d", cfg.Redis.DB)
	}
	// Unset variables leave defaults alone.
	if cfg.Cache.DefaultTTL.Std() != 30*time.Second {
		t.Fatalf("default ttl changed to %v", cfg.Cache.DefaultTTL.Std())
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache.Snapshots = "disk"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown snapshot backend")
	}

	cfg = DefaultConfig()
	cfg.Backend.BaseURL = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty base url")
	}
}

func TestValidateRejectsMemorySnapshots(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cache.Snapshots = "memory"
	if err := cfg.Validate(); err == nil {
		t.Fatal("memory snapshots do not outlive the process and should be rejected")
	}
}

func TestSnapshotPrefixPerSession(t *testing.T) {
	a := DefaultConfig()
	a.Backend.Token = "token-a"
	b := DefaultConfig()
	b.Backend.Token = "token-b"

	pa, pb := a.SnapshotPrefix(), b.SnapshotPrefix()
	if pa == pb {
		t.Fatalf("sessions share prefix %q", pa)
	}
	if !strings.HasPrefix(pa, a.Redis.KeyPrefix) || !strings.HasSuffix(pa, ":") {
		t.Fatalf("unexpected prefix %q", pa)
	}
	if strings.Contains(pa, "token-a") {
		t.Fatalf("prefix leaks the token: %q", pa)
	}
	if again := a.SnapshotPrefix(); again != pa {
		t.Fatalf("prefix not stable: %q vs %q", pa, again)
	}
}
