// Package dimension maintains queryable per-dimension views of the task
// graph: ordered indexes over the time, interest and value attributes and a
// categorical index over linked goals.
//
// The index is derived state. It is rebuilt wholesale only on cold start
// (Rebuild) and maintained incrementally afterwards, driven by store events
// when bound with Bind.
package dimension

import (
	"sort"
	"sync"
	"time"

	"github.com/braidhq/braid/internal/graph"
)

// entry is one node keyed by a scalar dimension value.
type entry struct {
	key float64
	id  graph.NodeID
}

// Index holds the per-dimension views. All methods are safe for concurrent
// use; updates serialize on a single mutex, matching the store's
// single-writer discipline.
type Index struct {
	mu sync.RWMutex

	// Scalar dimensions, each sorted ascending by (key, id).
	scalar map[graph.Dimension][]entry

	// Goal dimension is categorical: goal id -> member nodes.
	goals map[string]map[graph.NodeID]struct{}

	// Reverse lookup for incremental removal.
	nodeGoals map[graph.NodeID][]string
	nodeKeys  map[graph.NodeID]map[graph.Dimension]float64
}

// New creates an empty index.
func New() *Index {
	return &Index{
		scalar:    make(map[graph.Dimension][]entry),
		goals:     make(map[string]map[graph.NodeID]struct{}),
		nodeGoals: make(map[graph.NodeID][]string),
		nodeKeys:  make(map[graph.NodeID]map[graph.Dimension]float64),
	}
}

// Bind subscribes the index to a store so it tracks mutations
// incrementally. Call Rebuild first when loading an existing graph.
func (ix *Index) Bind(s *graph.Store) {
	s.Subscribe(func(ev graph.Event) {
		switch ev.Type {
		case graph.EventNodeCreated, graph.EventNodeUpdated, graph.EventNodeRestored:
			if v, err := s.View(ev.Node); err == nil {
				ix.Update(v)
			}
		case graph.EventNodeArchived, graph.EventNodeDeleted:
			ix.Remove(ev.Node)
		}
	})
}

// Rebuild replaces the index contents from a full set of views. Archived
// nodes are skipped.
func (ix *Index) Rebuild(views []graph.TaskView) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.scalar = make(map[graph.Dimension][]entry)
	ix.goals = make(map[string]map[graph.NodeID]struct{})
	ix.nodeGoals = make(map[graph.NodeID][]string)
	ix.nodeKeys = make(map[graph.NodeID]map[graph.Dimension]float64)
	for _, v := range views {
		ix.updateLocked(v)
	}
}

// Update upserts one node's index entries. Archived nodes are removed.
func (ix *Index) Update(v graph.TaskView) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.updateLocked(v)
}

// Remove drops a node from every dimension.
func (ix *Index) Remove(id graph.NodeID) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(id)
}

func (ix *Index) updateLocked(v graph.TaskView) {
	ix.removeLocked(v.ID)
	if v.State == graph.LifecycleArchived {
		return
	}

	keys := make(map[graph.Dimension]float64)
	if v.Attrs.DueAt != nil {
		keys[graph.DimensionTime] = float64(v.Attrs.DueAt.Unix())
	}
	keys[graph.DimensionInterest] = v.Attrs.Interest
	keys[graph.DimensionValue] = v.Attrs.Value

	for dim, key := range keys {
		ix.scalar[dim] = insertSorted(ix.scalar[dim], entry{key: key, id: v.ID})
	}
	ix.nodeKeys[v.ID] = keys

	for _, goal := range v.Attrs.Goals {
		if ix.goals[goal] == nil {
			ix.goals[goal] = make(map[graph.NodeID]struct{})
		}
		ix.goals[goal][v.ID] = struct{}{}
	}
	ix.nodeGoals[v.ID] = append([]string(nil), v.Attrs.Goals...)
}

func (ix *Index) removeLocked(id graph.NodeID) {
	if keys, ok := ix.nodeKeys[id]; ok {
		for dim, key := range keys {
			ix.scalar[dim] = deleteSorted(ix.scalar[dim], entry{key: key, id: id})
		}
		delete(ix.nodeKeys, id)
	}
	for _, goal := range ix.nodeGoals[id] {
		delete(ix.goals[goal], id)
		if len(ix.goals[goal]) == 0 {
			delete(ix.goals, goal)
		}
	}
	delete(ix.nodeGoals, id)
}

// Range returns the ids whose dimension key lies in [min, max], ascending.
func (ix *Index) Range(dim graph.Dimension, min, max float64) []graph.NodeID {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	entries := ix.scalar[dim]
	lo := sort.Search(len(entries), func(i int) bool { return entries[i].key >= min })
	hi := sort.Search(len(entries), func(i int) bool { return entries[i].key > max })
	out := make([]graph.NodeID, 0, hi-lo)
	for _, e := range entries[lo:hi] {
		out = append(out, e.id)
	}
	return out
}

// TopK returns the k nodes with the highest key in dim, highest first.
func (ix *Index) TopK(dim graph.Dimension, k int) []graph.NodeID {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	entries := ix.scalar[dim]
	if k > len(entries) {
		k = len(entries)
	}
	out := make([]graph.NodeID, 0, k)
	for i := len(entries) - 1; i >= len(entries)-k; i-- {
		out = append(out, entries[i].id)
	}
	return out
}

// DueBetween returns nodes with a deadline in [from, to], soonest first.
func (ix *Index) DueBetween(from, to time.Time) []graph.NodeID {
	return ix.Range(graph.DimensionTime, float64(from.Unix()), float64(to.Unix()))
}

// ByGoal returns the nodes linked to a goal, ordered by id.
func (ix *Index) ByGoal(goalID string) []graph.NodeID {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]graph.NodeID, 0, len(ix.goals[goalID]))
	for id := range ix.goals[goalID] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of indexed nodes.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.nodeKeys)
}

func entryLess(a, b entry) bool {
	if a.key != b.key {
		return a.key < b.key
	}
	return a.id < b.id
}

func insertSorted(entries []entry, e entry) []entry {
	i := sort.Search(len(entries), func(i int) bool { return !entryLess(entries[i], e) })
	entries = append(entries, entry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = e
	return entries
}

func deleteSorted(entries []entry, e entry) []entry {
	i := sort.Search(len(entries), func(i int) bool { return !entryLess(entries[i], e) })
	if i < len(entries) && entries[i].id == e.id && entries[i].key == e.key {
		return append(entries[:i], entries[i+1:]...)
	}
	return entries
}
