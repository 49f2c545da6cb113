// Package repo defines the repository interface to the persistent backing
// store, plus the registry through which backends are selected at runtime.
//
// Nodes, edges, external links and conflicts are the only durable
// entities. Rollup values and dimension indexes are derived cache state,
// rebuildable from nodes+edges alone, and are never persisted.
//
// Two backends ship with braid:
//   - internal/repo/sqlite: embedded SQLite (default)
//   - internal/repo/libsql: libSQL embedded replica syncing to a remote
//
// Backends register themselves from init() the same way additional ones
// would:
//
//	func init() {
//	    repo.Register(repo.KindSQLite, Open)
//	}
package repo

import (
	"context"
	"time"

	"github.com/braidhq/braid/internal/graph"
)

// Direction controls which way changes flow across an external link.
type Direction string

const (
	DirectionInbound       Direction = "inbound"
	DirectionOutbound      Direction = "outbound"
	DirectionBidirectional Direction = "bidirectional"
)

// Inbound reports whether remote changes may be applied locally.
func (d Direction) Inbound() bool {
	return d == DirectionInbound || d == DirectionBidirectional
}

// Outbound reports whether local changes may be pushed to the remote.
func (d Direction) Outbound() bool {
	return d == DirectionOutbound || d == DirectionBidirectional
}

// ExternalLink binds a local node to one remote item of one connector.
//
// (ConnectorID, ExternalID) is unique across all links, and a node holds
// at most one link per connector; both are enforced by the backends.
type ExternalLink struct {
	ConnectorID string       `json:"connector_id"`
	ExternalID  string       `json:"external_id"`
	NodeID      graph.NodeID `json:"node_id"`

	// ContentHash is the hash of the content both sides agreed on at the
	// last successful sync. Divergence is detected against it.
	ContentHash string    `json:"content_hash"`
	SyncedAt    time.Time `json:"synced_at"`
	Direction   Direction `json:"direction"`
}

// ConflictRecord is the durable form of a sync conflict. Both versions are
// carried until resolved so PendingUser records survive restarts.
type ConflictRecord struct {
	ID          string       `json:"id"`
	ConnectorID string       `json:"connector_id"`
	ExternalID  string       `json:"external_id"`
	NodeID      graph.NodeID `json:"node_id"`
	State       string       `json:"state"`
	Local       string       `json:"local"`
	Remote      string       `json:"remote"`
	BaseHash    string       `json:"base_hash"`
	DetectedAt  time.Time    `json:"detected_at"`
	ResolvedAt  *time.Time   `json:"resolved_at,omitempty"`
	Resolution  string       `json:"resolution,omitempty"`
}

// Range bounds a dimension query. Scalar dimensions use [Min, Max]; the
// goal dimension matches Goal exactly.
type Range struct {
	Min  float64
	Max  float64
	Goal string
}

// Tx is the write surface available inside an atomic transaction.
type Tx interface {
	PutNode(node *graph.Node) error
	DeleteNode(id graph.NodeID) error
	PutEdge(edge graph.Edge) error
	DeleteEdge(parent, child graph.NodeID) error
	PutExternalLink(link *ExternalLink) error
	DeleteExternalLink(connectorID, externalID string) error
	PutConflict(rec *ConflictRecord) error
}

// Repository is the interface to the persistent backing store.
//
// Implementations must support atomic multi-write transactions (Apply) and
// efficient ancestor/descendant traversal. No query language is assumed.
type Repository interface {
	// Init creates the schema if needed. Idempotent.
	Init(ctx context.Context) error

	// ===== Nodes =====
	PutNode(ctx context.Context, node *graph.Node) error
	GetNode(ctx context.Context, id graph.NodeID) (*graph.Node, error)
	ListNodes(ctx context.Context) ([]*graph.Node, error)
	DeleteNode(ctx context.Context, id graph.NodeID) error

	// ===== Edges =====
	PutEdge(ctx context.Context, edge graph.Edge) error
	DeleteEdge(ctx context.Context, parent, child graph.NodeID) error
	ListEdges(ctx context.Context) ([]graph.Edge, error)

	// ===== Traversal =====
	Ancestors(ctx context.Context, id graph.NodeID) ([]graph.NodeID, error)
	Descendants(ctx context.Context, id graph.NodeID) ([]graph.NodeID, error)

	// ===== Dimension queries =====
	QueryByDimension(ctx context.Context, dim graph.Dimension, rng Range) ([]graph.NodeID, error)

	// ===== External links =====
	PutExternalLink(ctx context.Context, link *ExternalLink) error
	GetExternalLink(ctx context.Context, connectorID, externalID string) (*ExternalLink, error)
	LinkForNode(ctx context.Context, id graph.NodeID, connectorID string) (*ExternalLink, error)
	ListExternalLinks(ctx context.Context, connectorID string) ([]*ExternalLink, error)
	DeleteExternalLink(ctx context.Context, connectorID, externalID string) error

	// ===== Conflicts =====
	PutConflict(ctx context.Context, rec *ConflictRecord) error
	GetConflict(ctx context.Context, id string) (*ConflictRecord, error)
	ListConflicts(ctx context.Context, state string) ([]*ConflictRecord, error)

	// Apply runs fn inside one transaction: either every write commits or
	// none does.
	Apply(ctx context.Context, fn func(Tx) error) error

	// Close releases the backend. The repository is unusable afterwards.
	Close() error
}
