package graph

import "sort"

// TaskView is the stable read-only projection handed to presentation
// layers. The UI never computes rollups itself; Progress here is the
// derived value the store committed with the last mutation.
type TaskView struct {
	ID          NodeID     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Progress    float64    `json:"progress"`
	Incomplete  bool       `json:"incomplete"` // composite with no active children
	Completion  float64    `json:"completion"` // explicit leaf ratio
	Attrs       Attributes `json:"attrs"`
	State       Lifecycle  `json:"state"`
	ParentIDs   []NodeID   `json:"parent_ids"`
	ChildIDs    []NodeID   `json:"child_ids"`
	Revision    int64      `json:"revision"`
}

// View projects a single node.
func (s *Store) View(id NodeID) (TaskView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	node, ok := s.nodes[id]
	if !ok {
		return TaskView{}, notFound(id)
	}
	return s.viewLocked(node), nil
}

// Views projects every node, ordered by id. UUIDv7 ids make this creation
// order.
func (s *Store) Views() []TaskView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TaskView, 0, len(s.nodes))
	for _, node := range s.nodes {
		out = append(out, s.viewLocked(node))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) viewLocked(node *Node) TaskView {
	v := TaskView{
		ID:          node.ID,
		Name:        node.Name,
		Description: node.Description,
		Progress:    s.progress[node.ID],
		Incomplete:  s.incomplete[node.ID],
		Completion:  node.Completion,
		Attrs:       node.clone().Attrs,
		State:       node.State,
		Revision:    node.Revision,
	}
	for parent := range s.parents[node.ID] {
		v.ParentIDs = append(v.ParentIDs, parent)
	}
	sort.Slice(v.ParentIDs, func(i, j int) bool { return v.ParentIDs[i] < v.ParentIDs[j] })

	// Children order by sort order, then id. Sort order is presentation
	// only; siblings without one fall back to creation order via the id.
	type kid struct {
		id   NodeID
		sort string
	}
	kids := make([]kid, 0, len(s.children[node.ID]))
	for child, edge := range s.children[node.ID] {
		kids = append(kids, kid{id: child, sort: edge.SortOrder})
	}
	sort.Slice(kids, func(i, j int) bool {
		if kids[i].sort != kids[j].sort {
			return kids[i].sort < kids[j].sort
		}
		return kids[i].id < kids[j].id
	})
	for _, k := range kids {
		v.ChildIDs = append(v.ChildIDs, k.id)
	}
	return v
}
