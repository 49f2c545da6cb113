package repo

import (
	"fmt"
	"sync"
)

// Kind names a repository backend.
type Kind string

const (
	// KindSQLite is the embedded SQLite backend.
	KindSQLite Kind = "sqlite"

	// KindLibSQL is the libSQL embedded-replica backend syncing to a
	// remote primary.
	KindLibSQL Kind = "libsql"
)

// Config selects and configures a backend.
type Config struct {
	// Backend picks the registered implementation.
	Backend Kind `yaml:"backend" mapstructure:"backend"`

	// Path is the local database file.
	Path string `yaml:"path" mapstructure:"path"`

	// URL is the remote primary (libsql only).
	URL string `yaml:"url,omitempty" mapstructure:"url"`

	// AuthToken authenticates against the remote primary (libsql only).
	AuthToken string `yaml:"auth_token,omitempty" mapstructure:"auth_token"`
}

// Constructor creates a Repository from a Config. Implementations register
// themselves with Register from init().
type Constructor func(cfg Config) (Repository, error)

var (
	registry   = make(map[Kind]Constructor)
	registryMu sync.RWMutex
)

// Register registers a backend constructor. Called from init() functions
// in implementation packages.
func Register(kind Kind, constructor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if constructor == nil {
		panic(fmt.Sprintf("repo: Register constructor is nil for backend %s", kind))
	}
	if _, exists := registry[kind]; exists {
		panic(fmt.Sprintf("repo: Register called twice for backend %s", kind))
	}
	registry[kind] = constructor
}

// Open creates the repository selected by cfg.Backend.
func Open(cfg Config) (Repository, error) {
	registryMu.RLock()
	constructor := registry[cfg.Backend]
	registryMu.RUnlock()

	if constructor == nil {
		return nil, fmt.Errorf("backend %q: %w", cfg.Backend, ErrUnknownBackend)
	}
	return constructor(cfg)
}

// Registered returns all registered backend kinds.
func Registered() []Kind {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]Kind, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	return kinds
}
