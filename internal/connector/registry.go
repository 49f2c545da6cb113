package connector

import (
	"fmt"
	"sync"
)

// Type names a connector implementation.
type Type string

const (
	// TypeFile is the file drop-directory connector.
	TypeFile Type = "file"
)

// Constructor creates a connector from its configuration block.
// Implementations register themselves with Register from init().
//
// Example:
//
//	func init() {
//	    connector.Register(connector.TypeFile, New)
//	}
type Constructor func(cfg Config) (Connector, error)

var (
	registry      = make(map[Type]Constructor)
	registryMutex sync.RWMutex
)

// Register registers a connector implementation constructor. Called from
// init() functions in implementation packages.
func Register(t Type, constructor Constructor) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if constructor == nil {
		panic(fmt.Sprintf("connector: Register constructor is nil for type %s", t))
	}
	if _, exists := registry[t]; exists {
		panic(fmt.Sprintf("connector: Register called twice for type %s", t))
	}
	registry[t] = constructor
}

// New creates the connector described by cfg.
func New(cfg Config) (Connector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	registryMutex.RLock()
	constructor := registry[cfg.Type]
	registryMutex.RUnlock()

	if constructor == nil {
		return nil, fmt.Errorf("connector type %q: %w", cfg.Type, ErrUnknownType)
	}
	return constructor(cfg)
}

// IsRegistered returns true if a constructor is registered for the type.
func IsRegistered(t Type) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()
	_, exists := registry[t]
	return exists
}
