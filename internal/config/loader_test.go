package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/braidhq/braid/internal/repo"
)

func TestLoadFromMissingFileGivesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadFrom(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	if cfg.Repo.Backend != repo.KindSQLite {
		t.Errorf("default backend = %q, want sqlite", cfg.Repo.Backend)
	}
	if cfg.Repo.Path != filepath.Join(dir, "braid.db") {
		t.Errorf("default db path = %q", cfg.Repo.Path)
	}
	if cfg.Sync.MaxAttempts != 4 {
		t.Errorf("default max attempts = %d, want 4", cfg.Sync.MaxAttempts)
	}
	if cfg.Dashboard.Port != 8080 {
		t.Errorf("default dashboard port = %d, want 8080", cfg.Dashboard.Port)
	}
}

func TestLoadFromOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
repo:
  backend: libsql
  path: /var/lib/braid/replica.db
  url: libsql://braid.example.turso.io
dashboard:
  enabled: true
  port: 9090
sync:
  max_attempts: 7
  base_backoff: 2s
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	if cfg.Repo.Backend != repo.KindLibSQL {
		t.Errorf("backend = %q, want libsql", cfg.Repo.Backend)
	}
	if cfg.Repo.URL != "libsql://braid.example.turso.io" {
		t.Errorf("url = %q", cfg.Repo.URL)
	}
	if !cfg.Dashboard.Enabled || cfg.Dashboard.Port != 9090 {
		t.Errorf("dashboard = %+v", cfg.Dashboard)
	}
	if cfg.Sync.MaxAttempts != 7 {
		t.Errorf("max attempts = %d, want 7", cfg.Sync.MaxAttempts)
	}
	if cfg.Sync.BaseBackoff != 2*time.Second {
		t.Errorf("base backoff = %v, want 2s", cfg.Sync.BaseBackoff)
	}

	// Untouched keys keep defaults.
	if cfg.Sync.CallTimeout != 30*time.Second {
		t.Errorf("call timeout = %v, want default 30s", cfg.Sync.CallTimeout)
	}
}

func TestWriteDefaultRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault failed: %v", err)
	}
	if err := WriteDefault(path); err == nil {
		t.Fatal("WriteDefault should refuse to overwrite")
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	want := Default(dir)
	if cfg.Repo.Path != want.Repo.Path {
		t.Errorf("db path = %q, want %q", cfg.Repo.Path, want.Repo.Path)
	}
	if cfg.Log.MaxSizeMB != want.Log.MaxSizeMB {
		t.Errorf("log max size = %d, want %d", cfg.Log.MaxSizeMB, want.Log.MaxSizeMB)
	}
}

func TestHomeEnvOverride(t *testing.T) {
	t.Setenv("BRAID_HOME", "/tmp/braid-test-home")
	if Home() != "/tmp/braid-test-home" {
		t.Errorf("Home() = %q", Home())
	}
}
