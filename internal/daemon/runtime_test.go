package daemon

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/braidhq/braid/internal/config"
	"github.com/braidhq/braid/internal/graph"
	"github.com/braidhq/braid/internal/repo"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return config.Default(t.TempDir())
}

func openTestRuntime(t *testing.T, cfg *config.Config) *Runtime {
	t.Helper()
	rt, err := OpenRuntime(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("OpenRuntime failed: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func TestRuntimePersistsAcrossRestart(t *testing.T) {
	cfg := testConfig(t)

	rt := openTestRuntime(t, cfg)
	parent, err := rt.Store.CreateNode(graph.NodeSpec{Name: "project"})
	if err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}
	a, err := rt.Store.CreateNode(graph.NodeSpec{Name: "step a"})
	if err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}
	b, err := rt.Store.CreateNode(graph.NodeSpec{Name: "step b", Attrs: graph.Attributes{Interest: 7}})
	if err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}
	if err := rt.Store.CreateEdge(graph.Edge{Parent: parent, Child: a, Weight: 1}); err != nil {
		t.Fatalf("CreateEdge failed: %v", err)
	}
	if err := rt.Store.CreateEdge(graph.Edge{Parent: parent, Child: b, Weight: 3}); err != nil {
		t.Fatalf("CreateEdge failed: %v", err)
	}
	if err := rt.Store.SetCompletion(a, 1); err != nil {
		t.Fatalf("SetCompletion failed: %v", err)
	}
	progressBefore, _, err := rt.Store.Progress(parent)
	if err != nil {
		t.Fatalf("Progress failed: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Fresh runtime over the same database: same graph, same rollups,
	// same index answers.
	rt2 := openTestRuntime(t, cfg)
	if rt2.Store.NodeCount() != 3 {
		t.Fatalf("expected 3 nodes after restart, got %d", rt2.Store.NodeCount())
	}
	if rt2.Store.EdgeCount() != 2 {
		t.Fatalf("expected 2 edges after restart, got %d", rt2.Store.EdgeCount())
	}
	progressAfter, _, err := rt2.Store.Progress(parent)
	if err != nil {
		t.Fatalf("Progress failed: %v", err)
	}
	if math.Abs(progressAfter-progressBefore) > 1e-12 {
		t.Errorf("progress after restart = %g, want %g", progressAfter, progressBefore)
	}

	byInterest := rt2.Index.Range(graph.DimensionInterest, 5, 10)
	if len(byInterest) != 1 || byInterest[0] != b {
		t.Errorf("interest index after restart = %v, want [%s]", byInterest, b)
	}
}

func TestRuntimePersistsDeletes(t *testing.T) {
	cfg := testConfig(t)

	rt := openTestRuntime(t, cfg)
	id, err := rt.Store.CreateNode(graph.NodeSpec{Name: "short lived"})
	if err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}
	if err := rt.Store.DeleteNode(id); err != nil {
		t.Fatalf("DeleteNode failed: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	rt2 := openTestRuntime(t, cfg)
	if rt2.Store.NodeCount() != 0 {
		t.Fatalf("deleted node reappeared after restart")
	}
}

func TestRuntimeRefusesDeleteOfLinkedNode(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	rt := openTestRuntime(t, cfg)
	id, err := rt.Store.CreateNode(graph.NodeSpec{Name: "linked"})
	if err != nil {
		t.Fatalf("CreateNode failed: %v", err)
	}
	link := &repo.ExternalLink{
		ConnectorID: "inbox",
		ExternalID:  "ext-1",
		NodeID:      id,
		ContentHash: "hash",
		SyncedAt:    time.Now().UTC(),
		Direction:   repo.DirectionBidirectional,
	}
	if err := rt.Repo.PutExternalLink(ctx, link); err != nil {
		t.Fatalf("PutExternalLink failed: %v", err)
	}

	if err := rt.DeleteNode(ctx, id); !errors.Is(err, repo.ErrNodeReferenced) {
		t.Fatalf("DeleteNode = %v, want ErrNodeReferenced", err)
	}

	// The rejected delete left memory and storage agreeing.
	if _, err := rt.Store.GetNode(id); err != nil {
		t.Fatalf("node gone from memory after rejected delete: %v", err)
	}
	if _, err := rt.Repo.GetNode(ctx, id); err != nil {
		t.Fatalf("node gone from repository after rejected delete: %v", err)
	}

	// Dropping the link unblocks the delete on both sides.
	if err := rt.Repo.DeleteExternalLink(ctx, "inbox", "ext-1"); err != nil {
		t.Fatalf("DeleteExternalLink failed: %v", err)
	}
	if err := rt.DeleteNode(ctx, id); err != nil {
		t.Fatalf("DeleteNode after unlink failed: %v", err)
	}
	if _, err := rt.Store.GetNode(id); !errors.Is(err, graph.ErrNodeNotFound) {
		t.Fatalf("GetNode after delete = %v, want ErrNodeNotFound", err)
	}
	if _, err := rt.Repo.GetNode(ctx, id); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("repository GetNode after delete = %v, want ErrNotFound", err)
	}
}

func TestRuntimeLoadsConnectors(t *testing.T) {
	cfg := testConfig(t)
	dropDir := filepath.Join(cfg.DataDir, "inbox")
	toml := `
[[connectors]]
id = "inbox"
type = "file"
direction = "bidirectional"
poll_interval = "1s"

[connectors.settings]
dir = "` + dropDir + `"
`
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		t.Fatalf("failed to create data dir: %v", err)
	}
	if err := os.WriteFile(cfg.ConnectorsFile, []byte(toml), 0644); err != nil {
		t.Fatalf("failed to write connectors.toml: %v", err)
	}

	rt := openTestRuntime(t, cfg)
	ids := rt.Manager.IDs()
	if len(ids) != 1 || ids[0] != "inbox" {
		t.Fatalf("manager connectors = %v, want [inbox]", ids)
	}

	// End to end: a dropped file becomes a node.
	if err := os.WriteFile(filepath.Join(dropDir, "ext-1.json"),
		[]byte(`{"name":"dropped task","completion":0.2}`), 0644); err != nil {
		t.Fatalf("failed to drop item: %v", err)
	}
	report, err := rt.Manager.Sync(context.Background(), "inbox")
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if report.Created != 1 {
		t.Fatalf("expected 1 created node, got %+v", report)
	}

	views := rt.Store.Views()
	if len(views) != 1 || views[0].Name != "dropped task" {
		t.Fatalf("unexpected views: %+v", views)
	}
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testConfig(t)
	cfg.Dashboard.Enabled = true
	cfg.Dashboard.Port = 0
	cfg.Log.File = "" // stderr in tests

	d, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := d.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
}
