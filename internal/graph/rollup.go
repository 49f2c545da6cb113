package graph

// Rollup recompute.
//
// recomputeLocked is the incremental engine: given the set of nodes whose
// inputs changed (a leaf whose completion moved, a parent whose edge set
// changed), it recomputes derived progress for those nodes and every
// ancestor, bottom-up, each node exactly once no matter how many paths
// reach it. Diamond safety falls out of the topological pass: a shared
// child's value is final before any of its parents read it.

// recomputeLocked recomputes progress for seeds and all their ancestors.
// Must be called with the write lock held. Returns progress-change events
// for the caller to emit after unlocking.
func (s *Store) recomputeLocked(seeds map[NodeID]struct{}) []Event {
	if len(seeds) == 0 {
		return nil
	}

	// Affected set: seeds plus every active ancestor. Archived nodes keep
	// their last derived value and are skipped.
	affected := make(map[NodeID]struct{})
	stack := make([]NodeID, 0, len(seeds))
	for id := range seeds {
		node, ok := s.nodes[id]
		if !ok || node.State == LifecycleArchived {
			continue
		}
		affected[id] = struct{}{}
		stack = append(stack, id)
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for parent := range s.parents[id] {
			node, ok := s.nodes[parent]
			if !ok || node.State == LifecycleArchived {
				continue
			}
			if _, seen := affected[parent]; seen {
				continue
			}
			affected[parent] = struct{}{}
			stack = append(stack, parent)
		}
	}

	// Kahn restricted to the affected subgraph: a node is ready once all
	// of its affected children are final. Children outside the affected
	// set already hold fresh values and act as constants.
	pending := make(map[NodeID]int, len(affected))
	ready := make([]NodeID, 0, len(affected))
	for id := range affected {
		n := 0
		for child := range s.children[id] {
			if _, ok := affected[child]; ok {
				n++
			}
		}
		pending[id] = n
		if n == 0 {
			ready = append(ready, id)
		}
	}

	var events []Event
	for len(ready) > 0 {
		id := ready[len(ready)-1]
		ready = ready[:len(ready)-1]

		value, incomplete := s.computeLocked(id)
		if s.progress[id] != value || s.incomplete[id] != incomplete {
			s.progress[id] = value
			s.incomplete[id] = incomplete
			events = append(events, Event{Type: EventProgressChanged, Node: id, Progress: value})
		}

		for parent := range s.parents[id] {
			if _, ok := affected[parent]; !ok {
				continue
			}
			pending[parent]--
			if pending[parent] == 0 {
				ready = append(ready, parent)
			}
		}
	}
	return events
}

// computeLocked derives one node's progress from its direct children.
//
// Leaves report their explicit completion. Composites report the weighted
// average over active children, with the configured epsilon as denominator
// floor so all-zero weights do not divide by zero. A composite whose
// children are all archived (or that has none) reports 0 and is flagged
// incomplete rather than erroring.
func (s *Store) computeLocked(id NodeID) (float64, bool) {
	node := s.nodes[id]

	if len(s.children[id]) == 0 {
		return clamp01(node.Completion), false
	}

	var num, den float64
	active := 0
	for child, edge := range s.children[id] {
		childNode, ok := s.nodes[child]
		if !ok || childNode.State == LifecycleArchived {
			continue
		}
		active++
		num += s.progress[child] * edge.Weight
		den += edge.Weight
	}
	if active == 0 {
		return 0, true
	}
	if den < s.opts.Epsilon {
		den = s.opts.Epsilon
	}
	return clamp01(num / den), false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
