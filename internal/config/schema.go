// Package config loads braid's configuration: defaults, overridden by
// ~/.braid/config.yaml, overridden by BRAID_* environment variables.
package config

import (
	"time"

	"github.com/braidhq/braid/internal/repo"
)

// Config is the full braid configuration.
type Config struct {
	// DataDir holds the database, logs and default drop directories.
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	// ConnectorsFile is the connectors.toml path.
	ConnectorsFile string `yaml:"connectors_file" mapstructure:"connectors_file"`

	// GoalsFile is the goal catalog path.
	GoalsFile string `yaml:"goals_file" mapstructure:"goals_file"`

	Repo      repo.Config     `yaml:"repo" mapstructure:"repo"`
	Dashboard DashboardConfig `yaml:"dashboard" mapstructure:"dashboard"`
	Sync      SyncConfig      `yaml:"sync" mapstructure:"sync"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Claude    ClaudeConfig    `yaml:"claude" mapstructure:"claude"`
}

// DashboardConfig configures the WebSocket dashboard server.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	Port    int  `yaml:"port" mapstructure:"port"`
}

// SyncConfig tunes the connector sync manager.
type SyncConfig struct {
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseBackoff time.Duration `yaml:"base_backoff" mapstructure:"base_backoff"`
	CallTimeout time.Duration `yaml:"call_timeout" mapstructure:"call_timeout"`
}

// LogConfig configures daemon log rotation.
type LogConfig struct {
	// File is the daemon log path. Empty logs to stderr.
	File       string `yaml:"file" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
}

// ClaudeConfig configures the optional merge suggestion helper.
type ClaudeConfig struct {
	// Model overrides the default Claude model for merge suggestions.
	Model string `yaml:"model" mapstructure:"model"`
}
