package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/braidhq/braid/internal/repo"
)

// Home returns the braid data directory, ~/.braid by default. The
// BRAID_HOME env var overrides it.
func Home() string {
	if dir := os.Getenv("BRAID_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".braid"
	}
	return filepath.Join(home, ".braid")
}

// Default returns the default configuration rooted at dataDir.
func Default(dataDir string) *Config {
	return &Config{
		DataDir:        dataDir,
		ConnectorsFile: filepath.Join(dataDir, "connectors.toml"),
		GoalsFile:      filepath.Join(dataDir, "goals.yaml"),
		Repo: repo.Config{
			Backend: repo.KindSQLite,
			Path:    filepath.Join(dataDir, "braid.db"),
		},
		Dashboard: DashboardConfig{
			Enabled: false,
			Port:    8080,
		},
		Sync: SyncConfig{
			MaxAttempts: 4,
			BaseBackoff: 500 * time.Millisecond,
			CallTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			File:       filepath.Join(dataDir, "braid.log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 30,
		},
	}
}
