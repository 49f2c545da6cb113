package graph

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// Options configures a Store.
type Options struct {
	// Epsilon is the denominator floor used by the rollup when the total
	// edge weight under a composite is zero (all edges zero-weight).
	Epsilon float64

	// Logger for store activity. Nil gets a default stderr logger.
	Logger *log.Logger
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() *Options {
	return &Options{
		Epsilon: 1e-9,
		Logger:  log.New(os.Stderr, "[graph] ", log.LstdFlags),
	}
}

// Store owns the nodes and edges of one task graph.
//
// Mutations serialize on a single write lock. Each mutation recomputes the
// rollup for the affected ancestor set before the lock is released, so a
// reader never sees a composite whose children changed but whose progress
// is stale. Reads take the shared lock and operate on the last-committed
// state.
type Store struct {
	mu sync.RWMutex

	nodes    map[NodeID]*Node
	children map[NodeID]map[NodeID]*Edge // parent -> child -> edge
	parents  map[NodeID]map[NodeID]*Edge // child -> parent -> edge

	// Derived state, rebuildable from nodes+edges alone.
	progress   map[NodeID]float64
	incomplete map[NodeID]bool

	opts Options

	subsMu sync.RWMutex
	subs   []Subscriber
}

// NewStore creates an empty graph store.
func NewStore(opts *Options) *Store {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Epsilon <= 0 {
		opts.Epsilon = DefaultOptions().Epsilon
	}
	if opts.Logger == nil {
		opts.Logger = DefaultOptions().Logger
	}
	return &Store{
		nodes:      make(map[NodeID]*Node),
		children:   make(map[NodeID]map[NodeID]*Edge),
		parents:    make(map[NodeID]map[NodeID]*Edge),
		progress:   make(map[NodeID]float64),
		incomplete: make(map[NodeID]bool),
		opts:       *opts,
	}
}

// Subscribe registers a callback for committed change events.
func (s *Store) Subscribe(fn Subscriber) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.subs = append(s.subs, fn)
}

// emit delivers events to subscribers outside the store lock.
func (s *Store) emit(events []Event) {
	if len(events) == 0 {
		return
	}
	s.subsMu.RLock()
	subs := append([]Subscriber(nil), s.subs...)
	s.subsMu.RUnlock()
	for _, ev := range events {
		for _, fn := range subs {
			fn(ev)
		}
	}
}

// NodeSpec carries the caller-supplied fields for CreateNode.
type NodeSpec struct {
	Name        string
	Description string
	Attrs       Attributes
}

// CreateNode adds a new node and returns its fresh identity.
// It fails only on invalid attribute values.
func (s *Store) CreateNode(spec NodeSpec) (NodeID, error) {
	node := &Node{
		Name:        spec.Name,
		Description: spec.Description,
		Attrs:       spec.Attrs,
	}
	node.SetDefaults()
	if err := node.Validate(); err != nil {
		return "", fmt.Errorf("invalid node: %w", err)
	}

	s.mu.Lock()
	s.nodes[node.ID] = node
	s.progress[node.ID] = 0
	s.mu.Unlock()

	s.emit([]Event{{Type: EventNodeCreated, Node: node.ID}})
	return node.ID, nil
}

// GetNode returns a copy of the node.
func (s *Store) GetNode(id NodeID) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	node, ok := s.nodes[id]
	if !ok {
		return nil, notFound(id)
	}
	return node.clone(), nil
}

// UpdateNode applies fn to the node's name, description and attributes.
//
// rev must be the revision the caller last read; a stale revision fails
// with ErrConcurrentModification and changes nothing. Completion and
// lifecycle state cannot be changed here; use SetCompletion and
// ArchiveNode, which enforce their own invariants.
func (s *Store) UpdateNode(id NodeID, rev int64, fn func(*Node)) error {
	s.mu.Lock()
	node, ok := s.nodes[id]
	if !ok {
		s.mu.Unlock()
		return notFound(id)
	}
	if node.Revision != rev {
		s.mu.Unlock()
		return fmt.Errorf("node %s at revision %d, caller had %d: %w",
			id, node.Revision, rev, ErrConcurrentModification)
	}

	next := node.clone()
	fn(next)
	// Identity, completion and lifecycle are owned by their own operations.
	next.ID = node.ID
	next.Completion = node.Completion
	next.State = node.State
	next.CreatedAt = node.CreatedAt
	next.UpdatedAt = time.Now().UTC()
	next.Revision = node.Revision + 1

	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("invalid node update: %w", err)
	}
	s.nodes[id] = next
	s.mu.Unlock()

	s.emit([]Event{{Type: EventNodeUpdated, Node: id}})
	return nil
}

// CreateEdge inserts e after checking both endpoints exist and are active,
// and that the edge keeps the graph acyclic. On success the rollup is
// recomputed for the parent and all its ancestors before returning.
//
// Creating an edge that already exists updates its weight and sort order.
func (s *Store) CreateEdge(e Edge) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	for _, id := range []NodeID{e.Parent, e.Child} {
		node, ok := s.nodes[id]
		if !ok {
			s.mu.Unlock()
			return notFound(id)
		}
		if node.State == LifecycleArchived {
			s.mu.Unlock()
			return fmt.Errorf("node %s: %w", id, ErrNodeArchived)
		}
	}

	// Bounded DFS from child toward parent: the new edge closes a cycle
	// iff parent is already reachable downward from child.
	if s.reachableLocked(e.Child, e.Parent) {
		s.mu.Unlock()
		return fmt.Errorf("edge %s -> %s: %w", e.Parent, e.Child, ErrCycleDetected)
	}

	if s.children[e.Parent] == nil {
		s.children[e.Parent] = make(map[NodeID]*Edge)
	}
	if s.parents[e.Child] == nil {
		s.parents[e.Child] = make(map[NodeID]*Edge)
	}
	stored := e
	s.children[e.Parent][e.Child] = &stored
	s.parents[e.Child][e.Parent] = &stored
	s.bumpLocked(e.Parent)

	events := s.recomputeLocked(map[NodeID]struct{}{e.Parent: {}})
	s.mu.Unlock()

	s.emit(append([]Event{{Type: EventEdgeCreated, Parent: e.Parent, Child: e.Child}}, events...))
	return nil
}

// RemoveEdge deletes the (parent, child) edge. Removing an absent edge is
// a no-op. Ancestor rollups are recomputed the same way CreateEdge does.
func (s *Store) RemoveEdge(parent, child NodeID) error {
	s.mu.Lock()
	if _, ok := s.children[parent][child]; !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.children[parent], child)
	delete(s.parents[child], parent)
	s.bumpLocked(parent)

	events := s.recomputeLocked(map[NodeID]struct{}{parent: {}})
	s.mu.Unlock()

	s.emit(append([]Event{{Type: EventEdgeRemoved, Parent: parent, Child: child}}, events...))
	return nil
}

// SetCompletion records the authoritative completion ratio of a leaf.
// Nodes with children reject the call with ErrNotALeaf.
func (s *Store) SetCompletion(id NodeID, ratio float64) error {
	if ratio < 0 || ratio > 1 {
		return fmt.Errorf("%w (got %g)", ErrInvalidCompletion, ratio)
	}

	s.mu.Lock()
	node, ok := s.nodes[id]
	if !ok {
		s.mu.Unlock()
		return notFound(id)
	}
	if len(s.children[id]) > 0 {
		s.mu.Unlock()
		return fmt.Errorf("node %s: %w", id, ErrNotALeaf)
	}
	node.Completion = ratio
	node.UpdatedAt = time.Now().UTC()
	node.Revision++

	events := s.recomputeLocked(map[NodeID]struct{}{id: {}})
	s.mu.Unlock()

	s.emit(append([]Event{{Type: EventNodeUpdated, Node: id}}, events...))
	return nil
}

// ArchiveNode retires a node. Its edges are retained for history, but the
// node drops out of active rollups and dimension views.
func (s *Store) ArchiveNode(id NodeID) error {
	return s.setLifecycle(id, LifecycleArchived, EventNodeArchived)
}

// RestoreNode returns an archived node to the active state.
func (s *Store) RestoreNode(id NodeID) error {
	return s.setLifecycle(id, LifecycleActive, EventNodeRestored)
}

func (s *Store) setLifecycle(id NodeID, state Lifecycle, evType EventType) error {
	s.mu.Lock()
	node, ok := s.nodes[id]
	if !ok {
		s.mu.Unlock()
		return notFound(id)
	}
	if node.State == state {
		s.mu.Unlock()
		return nil
	}
	node.State = state
	node.UpdatedAt = time.Now().UTC()
	node.Revision++

	// The node's parents lose or regain a contributing child.
	seeds := make(map[NodeID]struct{})
	for parent := range s.parents[id] {
		seeds[parent] = struct{}{}
	}
	if state == LifecycleActive {
		seeds[id] = struct{}{}
	}
	events := s.recomputeLocked(seeds)
	s.mu.Unlock()

	s.emit(append([]Event{{Type: evType, Node: id}}, events...))
	return nil
}

// DeleteNode hard-deletes a node. It fails with ErrNodeReferenced while
// any edge still touches the node; callers must also ensure no external
// link references it (the repository layer checks that).
func (s *Store) DeleteNode(id NodeID) error {
	s.mu.Lock()
	if _, ok := s.nodes[id]; !ok {
		s.mu.Unlock()
		return notFound(id)
	}
	if len(s.children[id]) > 0 || len(s.parents[id]) > 0 {
		s.mu.Unlock()
		return fmt.Errorf("node %s: %w", id, ErrNodeReferenced)
	}
	delete(s.nodes, id)
	delete(s.progress, id)
	delete(s.incomplete, id)
	s.mu.Unlock()

	s.emit([]Event{{Type: EventNodeDeleted, Node: id}})
	return nil
}

// Ancestors returns the set of nodes reachable upward from id, excluding
// id itself. The result is a set: diamonds collapse to one entry.
func (s *Store) Ancestors(id NodeID) (map[NodeID]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.nodes[id]; !ok {
		return nil, notFound(id)
	}
	return s.closureLocked(id, s.parents), nil
}

// Descendants returns the set of nodes reachable downward from id,
// excluding id itself.
func (s *Store) Descendants(id NodeID) (map[NodeID]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.nodes[id]; !ok {
		return nil, notFound(id)
	}
	return s.closureLocked(id, s.children), nil
}

// Progress returns the derived rollup progress of id and whether the node
// is flagged incomplete (a composite with no active children).
func (s *Store) Progress(id NodeID) (float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.nodes[id]; !ok {
		return 0, false, notFound(id)
	}
	return s.progress[id], s.incomplete[id], nil
}

// NodeCount returns the number of nodes, including archived ones.
func (s *Store) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// EdgeCount returns the number of edges.
func (s *Store) EdgeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, kids := range s.children {
		n += len(kids)
	}
	return n
}

// GetEdge returns the edge from parent to child, if present.
func (s *Store) GetEdge(parent, child NodeID) (Edge, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.children[parent][child]
	if !ok {
		return Edge{}, false
	}
	return *e, true
}

// Snapshot returns copies of all nodes and edges, the durable state from
// which progress and dimension views can be rebuilt.
func (s *Store) Snapshot() ([]*Node, []Edge) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nodes := make([]*Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		nodes = append(nodes, n.clone())
	}
	var edges []Edge
	for _, kids := range s.children {
		for _, e := range kids {
			edges = append(edges, *e)
		}
	}
	return nodes, edges
}

// Load replaces the store contents from durable state, typically at cold
// start from the repository. The edge set is validated wholesale with
// Kahn's algorithm and every rollup is recomputed from scratch.
func (s *Store) Load(nodes []*Node, edges []Edge) error {
	next := NewStore(&s.opts)
	for _, n := range nodes {
		c := n.clone()
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid node %s: %w", n.ID, err)
		}
		next.nodes[c.ID] = c
	}
	for _, e := range edges {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("invalid edge %s -> %s: %w", e.Parent, e.Child, err)
		}
		if _, ok := next.nodes[e.Parent]; !ok {
			return notFound(e.Parent)
		}
		if _, ok := next.nodes[e.Child]; !ok {
			return notFound(e.Child)
		}
		stored := e
		if next.children[e.Parent] == nil {
			next.children[e.Parent] = make(map[NodeID]*Edge)
		}
		if next.parents[e.Child] == nil {
			next.parents[e.Child] = make(map[NodeID]*Edge)
		}
		next.children[e.Parent][e.Child] = &stored
		next.parents[e.Child][e.Parent] = &stored
	}
	if err := next.validateLocked(); err != nil {
		return err
	}

	seeds := make(map[NodeID]struct{}, len(next.nodes))
	for id := range next.nodes {
		seeds[id] = struct{}{}
	}

	s.mu.Lock()
	s.nodes = next.nodes
	s.children = next.children
	s.parents = next.parents
	s.progress = make(map[NodeID]float64, len(next.nodes))
	s.incomplete = make(map[NodeID]bool)
	s.recomputeLocked(seeds)
	s.mu.Unlock()

	s.opts.Logger.Printf("Loaded %d nodes, %d edges", len(nodes), len(edges))
	return nil
}

// Validate runs a full-graph acyclicity check. The per-insert DFS keeps
// this from ever failing in normal operation; it exists for cold-start
// integrity checks against externally written repositories.
func (s *Store) Validate() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.validateLocked()
}

// validateLocked is Kahn's algorithm over the whole graph.
func (s *Store) validateLocked() error {
	indeg := make(map[NodeID]int, len(s.nodes))
	for id := range s.nodes {
		indeg[id] = len(s.parents[id])
	}
	queue := make([]NodeID, 0, len(s.nodes))
	for id, d := range indeg {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	seen := 0
	for len(queue) > 0 {
		id := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		seen++
		for child := range s.children[id] {
			indeg[child]--
			if indeg[child] == 0 {
				queue = append(queue, child)
			}
		}
	}
	if seen != len(s.nodes) {
		return fmt.Errorf("%d nodes unreachable in topological order: %w", len(s.nodes)-seen, ErrCycleDetected)
	}
	return nil
}

// reachableLocked reports whether target is reachable from start by
// following edges downward. Iterative DFS bounded by the visited set, so
// cost is O(subgraph below start), not O(graph).
func (s *Store) reachableLocked(start, target NodeID) bool {
	if start == target {
		return true
	}
	visited := map[NodeID]struct{}{start: {}}
	stack := []NodeID{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for child := range s.children[id] {
			if child == target {
				return true
			}
			if _, ok := visited[child]; ok {
				continue
			}
			visited[child] = struct{}{}
			stack = append(stack, child)
		}
	}
	return false
}

// closureLocked collects every node reachable from id through adj.
func (s *Store) closureLocked(id NodeID, adj map[NodeID]map[NodeID]*Edge) map[NodeID]struct{} {
	out := make(map[NodeID]struct{})
	stack := []NodeID{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for next := range adj[cur] {
			if _, ok := out[next]; ok {
				continue
			}
			out[next] = struct{}{}
			stack = append(stack, next)
		}
	}
	return out
}

// bumpLocked bumps a node's revision and updated timestamp after an edge
// mutation touching it.
func (s *Store) bumpLocked(id NodeID) {
	if node, ok := s.nodes[id]; ok {
		node.Revision++
		node.UpdatedAt = time.Now().UTC()
	}
}
