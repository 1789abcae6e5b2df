package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Ingest.CommandSigil != "!" || cfg.Ingest.TriggerSigil != "@" {
		t.Fatalf("sigils = %q / %q", cfg.Ingest.CommandSigil, cfg.Ingest.TriggerSigil)
	}
	if cfg.Ingest.StatusDelay != 5*time.Second {
		t.Fatalf("status delay = %v", cfg.Ingest.StatusDelay)
	}
	if cfg.Ingest.ActivityTTL != 30*time.Minute {
		t.Fatalf("activity ttl = %v", cfg.Ingest.ActivityTTL)
	}
	if cfg.RateLimit.MaxCommands != 10 {
		t.Fatalf("max commands = %d", cfg.RateLimit.MaxCommands)
	}
	if cfg.Summary.Window != 28*time.Minute {
		t.Fatalf("summary window = %v", cfg.Summary.Window)
	}
	if cfg.Bsky.PublicAPI == "" || cfg.Jetstream.Endpoint == "" {
		t.Fatal("upstream endpoints missing defaults")
	}
}

func TestLoadExpandsEnvAndFillsDefaults(t *testing.T) {
	os.Setenv("TEST_PG_PASSWORD", "hunter2")
	defer os.Unsetenv("TEST_PG_PASSWORD")

	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
postgres:
  host: db.internal
  password: ${TEST_PG_PASSWORD}
ingest:
  status_delay: 2s
bsky:
  trigger_handle: "@game.test"
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Postgres.Host != "db.internal" {
		t.Fatalf("host = %q", cfg.Postgres.Host)
	}
	if cfg.Postgres.Password != "hunter2" {
		t.Fatalf("password not expanded: %q", cfg.Postgres.Password)
	}
	if cfg.Ingest.StatusDelay != 2*time.Second {
		t.Fatalf("status delay = %v", cfg.Ingest.StatusDelay)
	}
	// Unset fields fall back to defaults
	if cfg.Ingest.SweepInterval != 5*time.Minute {
		t.Fatalf("sweep interval = %v", cfg.Ingest.SweepInterval)
	}
	if cfg.Bsky.TriggerHandle != "@game.test" {
		t.Fatalf("trigger handle = %q", cfg.Bsky.TriggerHandle)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load of a missing file succeeded")
	}
}
