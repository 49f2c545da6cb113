package graph

import (
	"errors"
	"fmt"
)

// Errors returned by Store operations.
//
// All of them are sentinel values suitable for errors.Is:
//
//	if errors.Is(err, graph.ErrCycleDetected) {
//	    // reject the edge, graph is unchanged
//	}
var (
	// ErrCycleDetected is returned when creating an edge would make a node
	// its own (transitive) ancestor. The graph is left unchanged.
	ErrCycleDetected = errors.New("edge would create a cycle")

	// ErrNodeNotFound is returned when an operation references a node id
	// that does not exist in the store.
	ErrNodeNotFound = errors.New("node not found")

	// ErrNodeArchived is returned when an operation requires an active node
	// but the node is archived.
	ErrNodeArchived = errors.New("node is archived")

	// ErrNotALeaf is returned by SetCompletion when the target node has
	// children. Composite progress is always derived, never set directly.
	ErrNotALeaf = errors.New("node has children, completion is derived")

	// ErrInvalidCompletion is returned when a completion ratio is outside
	// the [0, 1] range.
	ErrInvalidCompletion = errors.New("completion must be in [0, 1]")

	// ErrNegativeWeight is returned when an edge weight is negative.
	// Zero weights are allowed; they contribute nothing to the numerator.
	ErrNegativeWeight = errors.New("edge weight must be non-negative")

	// ErrConcurrentModification is returned when a write carries a stale
	// revision, meaning another writer committed to the same node first.
	ErrConcurrentModification = errors.New("node modified concurrently")

	// ErrNodeReferenced is returned by DeleteNode while edges still
	// reference the node. Archive instead of deleting in that case.
	ErrNodeReferenced = errors.New("node is still referenced")
)

// notFound wraps ErrNodeNotFound with the id that was looked up.
func notFound(id NodeID) error {
	return fmt.Errorf("no node found with id %s: %w", id, ErrNodeNotFound)
}
