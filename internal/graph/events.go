package graph

// EventType identifies what changed in the store.
type EventType string

const (
	EventNodeCreated     EventType = "node_created"
	EventNodeUpdated     EventType = "node_updated"
	EventNodeArchived    EventType = "node_archived"
	EventNodeRestored    EventType = "node_restored"
	EventNodeDeleted     EventType = "node_deleted"
	EventEdgeCreated     EventType = "edge_created"
	EventEdgeRemoved     EventType = "edge_removed"
	EventProgressChanged EventType = "progress_changed"
)

// Event describes one committed change. Progress events carry the freshly
// derived value so subscribers never need to read back through the store.
type Event struct {
	Type     EventType
	Node     NodeID
	Parent   NodeID // edge events only
	Child    NodeID // edge events only
	Progress float64
}

// Subscriber receives events after a mutation commits. Callbacks run
// outside the store lock, in commit order, on the mutating goroutine.
// A subscriber must not block for long; connector I/O belongs elsewhere.
type Subscriber func(Event)
