// Package graph implements the task composition graph at the heart of braid.
//
// Tasks are nodes of a directed acyclic graph with true many-to-many
// composition: a node may have any number of parents and any number of
// children, and an edge carries a contribution weight used when rolling
// progress up from leaves to ancestors.
//
// # Store
//
// Store owns all nodes and edges for one graph instance. Mutations are
// single-writer: every mutating call takes the write lock, applies the
// change, and recomputes the rollup for the affected ancestor set before
// releasing the lock. Readers therefore never observe a node whose children
// changed but whose rollup is stale.
//
// Acyclicity is enforced at edge-insertion time with a bounded depth-first
// search from the prospective child toward the prospective parent. A full
// Kahn validation (Validate) exists for cold-start integrity checks.
//
// # Rollup
//
// A composite node's progress is the weighted average of its direct
// children's progress:
//
//	progress = Σ(child.progress × weight) / Σ(weight)
//
// Recompute is incremental and diamond-safe: only the ancestors of touched
// nodes are revisited, each exactly once, in topological order. Archived
// children are excluded. A composite with no active children reports
// progress 0 and is flagged incomplete.
//
// # Views
//
// The presentation layer reads TaskView projections (see view.go) and never
// computes rollups itself. Subscribers registered with Store.Subscribe
// receive change events after each committed mutation.
package graph
