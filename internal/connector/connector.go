// Package connector defines the capability interface external task
// services implement, plus the registry and TOML configuration through
// which connectors are assembled at runtime.
//
// A connector speaks one remote service (a file drop directory, a SaaS
// task tracker, a calendar). The sync manager drives every registered
// connector through this interface and never sees service specifics.
package connector

import (
	"context"
	"time"
)

// Item is the neutral task representation exchanged with a remote
// service. Connectors translate between Item and their native format.
type Item struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Completion  float64    `json:"completion"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	Done        bool       `json:"done,omitempty"`
}

// RemoteChange is one changed item reported by a connector.
type RemoteChange struct {
	// ExternalID identifies the item in the remote service's namespace.
	ExternalID string

	// Item is the current remote state.
	Item Item

	// Deleted reports the item was removed remotely. Item is zero.
	Deleted bool

	// ChangedAt is the remote modification time, if the service reports
	// one; zero otherwise.
	ChangedAt time.Time
}

// PushReceipt reports where and as what the remote stored a pushed item.
type PushReceipt struct {
	// ExternalID identifies the item in the remote namespace; fresh when
	// the push created the item.
	ExternalID string

	// ContentHash is the hash of the content as the remote actually
	// stored it. Services that normalize on write report the normalized
	// hash here, so the stored base reflects what the next fetch will
	// see. Empty means the content was stored verbatim.
	ContentHash string
}

// Connector is the capability surface a remote service integration
// implements. Implementations must be safe for use from a single
// goroutine at a time; the sync manager serializes calls per connector.
type Connector interface {
	// ID returns the configured connector id, unique within one braid
	// instance.
	ID() string

	// FetchChanges returns items changed remotely since the given time.
	// A zero since means everything.
	FetchChanges(ctx context.Context, since time.Time) ([]RemoteChange, error)

	// Push writes an item to the remote service. An empty externalID asks
	// the connector to create the item; the receipt's id identifies it
	// from then on.
	Push(ctx context.Context, externalID string, item Item) (PushReceipt, error)

	// Close releases connector resources (watchers, HTTP clients).
	Close() error
}
