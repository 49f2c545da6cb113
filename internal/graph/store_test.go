package graph

import (
	"errors"
	"fmt"
	"testing"
)

func mustCreate(t *testing.T, s *Store, name string) NodeID {
	t.Helper()
	id, err := s.CreateNode(NodeSpec{Name: name})
	if err != nil {
		t.Fatalf("CreateNode(%s): %v", name, err)
	}
	return id
}

func mustEdge(t *testing.T, s *Store, parent, child NodeID, weight float64) {
	t.Helper()
	if err := s.CreateEdge(Edge{Parent: parent, Child: child, Weight: weight}); err != nil {
		t.Fatalf("CreateEdge(%s, %s): %v", parent, child, err)
	}
}

func TestCreateNode_AssignsFreshIdentity(t *testing.T) {
	s := NewStore(nil)
	a := mustCreate(t, s, "a")
	b := mustCreate(t, s, "b")
	if a == b {
		t.Fatalf("expected distinct ids, got %s twice", a)
	}
	node, err := s.GetNode(a)
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if node.Name != "a" || node.State != LifecycleActive {
		t.Errorf("unexpected node: %+v", node)
	}
}

func TestCreateNode_BlankNameIsValid(t *testing.T) {
	s := NewStore(nil)
	if _, err := s.CreateNode(NodeSpec{}); err != nil {
		t.Fatalf("blank name should be valid: %v", err)
	}
}

func TestCreateNode_RejectsInvalidAttrs(t *testing.T) {
	s := NewStore(nil)
	tests := []struct {
		name string
		spec NodeSpec
	}{
		{"interest too high", NodeSpec{Attrs: Attributes{Interest: 11}}},
		{"negative value", NodeSpec{Attrs: Attributes{Value: -1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.CreateNode(tt.spec); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestCreateEdge_RejectsCycle(t *testing.T) {
	s := NewStore(nil)
	x := mustCreate(t, s, "x")
	y := mustCreate(t, s, "y")

	mustEdge(t, s, x, y, 1)

	err := s.CreateEdge(Edge{Parent: y, Child: x, Weight: 1})
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}

	// Graph unchanged by the rejected call.
	if got := s.EdgeCount(); got != 1 {
		t.Errorf("EdgeCount = %d, want 1", got)
	}
	anc, err := s.Ancestors(x)
	if err != nil {
		t.Fatalf("Ancestors: %v", err)
	}
	if len(anc) != 0 {
		t.Errorf("x gained ancestors from a rejected edge: %v", anc)
	}
}

func TestCreateEdge_RejectsTransitiveCycle(t *testing.T) {
	s := NewStore(nil)
	a := mustCreate(t, s, "a")
	b := mustCreate(t, s, "b")
	c := mustCreate(t, s, "c")

	mustEdge(t, s, a, b, 1)
	mustEdge(t, s, b, c, 1)

	if err := s.CreateEdge(Edge{Parent: c, Child: a, Weight: 1}); !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}
}

func TestCreateEdge_RejectsSelfEdge(t *testing.T) {
	s := NewStore(nil)
	a := mustCreate(t, s, "a")
	if err := s.CreateEdge(Edge{Parent: a, Child: a, Weight: 1}); !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}
}

func TestCreateEdge_MissingAndArchivedEndpoints(t *testing.T) {
	s := NewStore(nil)
	a := mustCreate(t, s, "a")
	b := mustCreate(t, s, "b")

	if err := s.CreateEdge(Edge{Parent: a, Child: "01932f0c-0000-7000-8000-000000000000", Weight: 1}); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("missing child: expected ErrNodeNotFound, got %v", err)
	}

	if err := s.ArchiveNode(b); err != nil {
		t.Fatalf("ArchiveNode: %v", err)
	}
	if err := s.CreateEdge(Edge{Parent: a, Child: b, Weight: 1}); !errors.Is(err, ErrNodeArchived) {
		t.Errorf("archived child: expected ErrNodeArchived, got %v", err)
	}
}

func TestCreateEdge_RejectsNegativeWeight(t *testing.T) {
	s := NewStore(nil)
	a := mustCreate(t, s, "a")
	b := mustCreate(t, s, "b")
	if err := s.CreateEdge(Edge{Parent: a, Child: b, Weight: -0.5}); !errors.Is(err, ErrNegativeWeight) {
		t.Fatalf("expected ErrNegativeWeight, got %v", err)
	}
}

func TestRemoveEdge_Idempotent(t *testing.T) {
	s := NewStore(nil)
	a := mustCreate(t, s, "a")
	b := mustCreate(t, s, "b")
	mustEdge(t, s, a, b, 1)

	if err := s.RemoveEdge(a, b); err != nil {
		t.Fatalf("RemoveEdge: %v", err)
	}
	if err := s.RemoveEdge(a, b); err != nil {
		t.Fatalf("second RemoveEdge should be a no-op: %v", err)
	}
	if got := s.EdgeCount(); got != 0 {
		t.Errorf("EdgeCount = %d, want 0", got)
	}
}

func TestSetCompletion_LeafOnly(t *testing.T) {
	s := NewStore(nil)
	parent := mustCreate(t, s, "parent")
	child := mustCreate(t, s, "child")
	mustEdge(t, s, parent, child, 1)

	if err := s.SetCompletion(parent, 0.5); !errors.Is(err, ErrNotALeaf) {
		t.Errorf("composite: expected ErrNotALeaf, got %v", err)
	}
	if err := s.SetCompletion(child, 0.5); err != nil {
		t.Errorf("leaf: %v", err)
	}
	if err := s.SetCompletion(child, 1.5); !errors.Is(err, ErrInvalidCompletion) {
		t.Errorf("out of range: expected ErrInvalidCompletion, got %v", err)
	}
}

func TestAncestorsDescendants_AreSets(t *testing.T) {
	// Diamond: root -> {left, right} -> leaf. leaf is reachable from root
	// through two paths but must appear once.
	s := NewStore(nil)
	root := mustCreate(t, s, "root")
	left := mustCreate(t, s, "left")
	right := mustCreate(t, s, "right")
	leaf := mustCreate(t, s, "leaf")

	mustEdge(t, s, root, left, 1)
	mustEdge(t, s, root, right, 1)
	mustEdge(t, s, left, leaf, 1)
	mustEdge(t, s, right, leaf, 1)

	desc, err := s.Descendants(root)
	if err != nil {
		t.Fatalf("Descendants: %v", err)
	}
	if len(desc) != 3 {
		t.Errorf("Descendants(root) = %v, want {left, right, leaf}", desc)
	}

	anc, err := s.Ancestors(leaf)
	if err != nil {
		t.Fatalf("Ancestors: %v", err)
	}
	if len(anc) != 3 {
		t.Errorf("Ancestors(leaf) = %v, want {left, right, root}", anc)
	}
}

func TestUpdateNode_ConcurrentModification(t *testing.T) {
	s := NewStore(nil)
	id := mustCreate(t, s, "task")

	node, err := s.GetNode(id)
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}

	if err := s.UpdateNode(id, node.Revision, func(n *Node) { n.Name = "renamed" }); err != nil {
		t.Fatalf("first update: %v", err)
	}

	// Second writer still holds the old revision.
	err = s.UpdateNode(id, node.Revision, func(n *Node) { n.Name = "lost" })
	if !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}

	got, _ := s.GetNode(id)
	if got.Name != "renamed" {
		t.Errorf("Name = %q, want %q", got.Name, "renamed")
	}
}

func TestDeleteNode_Referenced(t *testing.T) {
	s := NewStore(nil)
	a := mustCreate(t, s, "a")
	b := mustCreate(t, s, "b")
	mustEdge(t, s, a, b, 1)

	if err := s.DeleteNode(b); !errors.Is(err, ErrNodeReferenced) {
		t.Fatalf("expected ErrNodeReferenced, got %v", err)
	}
	if err := s.RemoveEdge(a, b); err != nil {
		t.Fatalf("RemoveEdge: %v", err)
	}
	if err := s.DeleteNode(b); err != nil {
		t.Fatalf("DeleteNode after unlinking: %v", err)
	}
}

func TestSnapshotLoad_RoundTrip(t *testing.T) {
	s := NewStore(nil)
	a := mustCreate(t, s, "a")
	b := mustCreate(t, s, "b")
	c := mustCreate(t, s, "c")
	mustEdge(t, s, a, b, 2)
	mustEdge(t, s, a, c, 1)
	if err := s.SetCompletion(b, 1); err != nil {
		t.Fatal(err)
	}
	if err := s.SetCompletion(c, 0.25); err != nil {
		t.Fatal(err)
	}

	nodes, edges := s.Snapshot()

	// Rollups are derived state: a fresh store loaded from nodes+edges
	// alone must reach the same values.
	fresh := NewStore(nil)
	if err := fresh.Load(nodes, edges); err != nil {
		t.Fatalf("Load: %v", err)
	}

	want, _, err := s.Progress(a)
	if err != nil {
		t.Fatal(err)
	}
	got, _, err := fresh.Progress(a)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Errorf("loaded progress = %g, recomputed %g", got, want)
	}
	if fresh.NodeCount() != 3 || fresh.EdgeCount() != 2 {
		t.Errorf("round trip lost state: %d nodes, %d edges", fresh.NodeCount(), fresh.EdgeCount())
	}
}

func TestLoad_RejectsCyclicInput(t *testing.T) {
	s := NewStore(nil)
	a := mustCreate(t, s, "a")
	b := mustCreate(t, s, "b")
	nodes, _ := s.Snapshot()

	edges := []Edge{
		{Parent: a, Child: b, Weight: 1},
		{Parent: b, Child: a, Weight: 1},
	}
	fresh := NewStore(nil)
	if err := fresh.Load(nodes, edges); !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}
}

func TestSubscribe_EventsAfterCommit(t *testing.T) {
	s := NewStore(nil)
	var events []Event
	s.Subscribe(func(ev Event) { events = append(events, ev) })

	a := mustCreate(t, s, "a")
	b := mustCreate(t, s, "b")
	mustEdge(t, s, a, b, 1)
	if err := s.SetCompletion(b, 1); err != nil {
		t.Fatal(err)
	}

	var sawEdge, sawProgress bool
	for _, ev := range events {
		switch ev.Type {
		case EventEdgeCreated:
			sawEdge = true
		case EventProgressChanged:
			sawProgress = true
		}
	}
	if !sawEdge || !sawProgress {
		t.Errorf("missing events, got %+v", events)
	}
}

func TestView_ChildOrderBySortOrder(t *testing.T) {
	s := NewStore(nil)
	root := mustCreate(t, s, "root")
	first := mustCreate(t, s, "first")
	second := mustCreate(t, s, "second")

	// Insert out of order; sort order wins over insertion order.
	if err := s.CreateEdge(Edge{Parent: root, Child: second, Weight: 1, SortOrder: "b"}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateEdge(Edge{Parent: root, Child: first, Weight: 1, SortOrder: "a"}); err != nil {
		t.Fatal(err)
	}

	v, err := s.View(root)
	if err != nil {
		t.Fatalf("View: %v", err)
	}
	if len(v.ChildIDs) != 2 || v.ChildIDs[0] != first || v.ChildIDs[1] != second {
		t.Errorf("ChildIDs = %v, want [%s %s]", v.ChildIDs, first, second)
	}
}

func TestRandomEdgeChurn_StaysAcyclic(t *testing.T) {
	// Property: after any sequence of individually successful
	// CreateEdge/RemoveEdge calls, the full-graph validation passes.
	s := NewStore(nil)
	ids := make([]NodeID, 20)
	for i := range ids {
		ids[i] = mustCreate(t, s, fmt.Sprintf("n%d", i))
	}

	accepted := 0
	for i := 0; i < 400; i++ {
		parent := ids[(i*7)%len(ids)]
		child := ids[(i*13+5)%len(ids)]
		if err := s.CreateEdge(Edge{Parent: parent, Child: child, Weight: 1}); err == nil {
			accepted++
		}
		if i%5 == 0 {
			_ = s.RemoveEdge(ids[(i*3)%len(ids)], ids[(i*11+2)%len(ids)])
		}
		if err := s.Validate(); err != nil {
			t.Fatalf("graph became cyclic after %d operations: %v", i, err)
		}
	}
	if accepted == 0 {
		t.Fatal("no edges accepted, test exercised nothing")
	}
}

func BenchmarkCreateEdgeShallow(b *testing.B) {
	s := NewStore(nil)
	root, _ := s.CreateNode(NodeSpec{Name: "root"})
	kids := make([]NodeID, b.N)
	for i := range kids {
		kids[i], _ = s.CreateNode(NodeSpec{})
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = s.CreateEdge(Edge{Parent: root, Child: kids[i], Weight: 1})
	}
}

func BenchmarkCreateEdgeDeepChain(b *testing.B) {
	// Worst case for the insertion DFS: each new edge extends a chain, so
	// the reachability search walks the whole chain below the child.
	s := NewStore(nil)
	ids := make([]NodeID, b.N+1)
	for i := range ids {
		ids[i], _ = s.CreateNode(NodeSpec{})
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = s.CreateEdge(Edge{Parent: ids[i], Child: ids[i+1], Weight: 1})
	}
}

func BenchmarkValidateFullGraph(b *testing.B) {
	s := NewStore(nil)
	const n = 2000
	ids := make([]NodeID, n)
	for i := range ids {
		ids[i], _ = s.CreateNode(NodeSpec{})
	}
	for i := 1; i < n; i++ {
		_ = s.CreateEdge(Edge{Parent: ids[i/2], Child: ids[i], Weight: 1})
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := s.Validate(); err != nil {
			b.Fatal(err)
		}
	}
}
