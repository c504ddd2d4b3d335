package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "harvest.yaml")
	yml := `
browser:
  max_browsers: 2
  pool_acquire_timeout: 5s
cache:
  ttl: 10m
session:
  backend: sqlite
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HARVEST_MAX_BROWSERS", "4")
	t.Setenv("HARVEST_RATE_INTERVAL", "250ms")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Browser.MaxBrowsers != 4 {
		t.Errorf("env should override yaml, got max_browsers=%d", cfg.Browser.MaxBrowsers)
	}
	if cfg.Browser.PoolAcquireTimeout != 5*time.Second {
		t.Errorf("pool_acquire_timeout = %v, want 5s", cfg.Browser.PoolAcquireTimeout)
	}
	if cfg.Cache.TTL != 10*time.Minute {
		t.Errorf("cache.ttl = %v, want 10m", cfg.Cache.TTL)
	}
	if cfg.Session.Backend != "sqlite" {
		t.Errorf("session.backend = %q, want sqlite", cfg.Session.Backend)
	}
	if cfg.RateLimit.Interval != 250*time.Millisecond {
		t.Errorf("rate interval = %v, want 250ms", cfg.RateLimit.Interval)
	}
	if cfg.Browser.MaxPagesPerBrowser != 5 {
		t.Errorf("untouched default changed: %d", cfg.Browser.MaxPagesPerBrowser)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("HARVEST_MAX_PAGES_PER_BROWSER", "0")
	if _, err := Load(""); err == nil {
		t.Error("expected validation error for zero pages per browser")
	}
}

func TestEnvSliceOr(t *testing.T) {
	t.Setenv("HARVEST_TEST_SLICE", " a, b ,,c ")
	got := envSliceOr("HARVEST_TEST_SLICE", nil)
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("envSliceOr = %q", got)
	}
}
