package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/braidhq/braid/internal/conflict"
	"github.com/braidhq/braid/internal/connector"
	"github.com/braidhq/braid/internal/graph"
	"github.com/braidhq/braid/internal/repo"
	"github.com/braidhq/braid/internal/repo/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConnector is a scripted in-memory connector.
type fakeConnector struct {
	id string

	mu         sync.Mutex
	changes    []connector.RemoteChange
	pushed     map[string]connector.Item
	fetchCalls int
	pushCalls  int

	// failFetches makes the first n FetchChanges calls fail with failErr.
	failFetches int
	failErr     error

	// blockFetches makes the first n FetchChanges calls hang until the
	// call context expires.
	blockFetches int

	// pushHash, when set, is reported as the stored content hash, the way
	// a remote that normalizes on write would.
	pushHash string

	// afterFetch runs once FetchChanges returns, for cancellation tests.
	afterFetch func()
}

func newFakeConnector(id string) *fakeConnector {
	return &fakeConnector{id: id, pushed: make(map[string]connector.Item)}
}

func (f *fakeConnector) ID() string { return f.id }

func (f *fakeConnector) FetchChanges(ctx context.Context, since time.Time) ([]connector.RemoteChange, error) {
	f.mu.Lock()
	f.fetchCalls++
	fail := f.failFetches > 0
	if fail {
		f.failFetches--
	}
	block := f.blockFetches > 0
	if block {
		f.blockFetches--
	}
	// The queue drains only on a delivering call; failing and hanging
	// attempts leave it for the retry.
	var changes []connector.RemoteChange
	if !fail && !block {
		changes = f.changes
		f.changes = nil
	}
	after := f.afterFetch
	f.mu.Unlock()

	if fail {
		return nil, f.failErr
	}
	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if after != nil {
		after()
	}
	return changes, nil
}

func (f *fakeConnector) Push(ctx context.Context, externalID string, item connector.Item) (connector.PushReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushCalls++
	f.pushed[externalID] = item
	return connector.PushReceipt{ExternalID: externalID, ContentHash: f.pushHash}, nil
}

func (f *fakeConnector) Close() error { return nil }

func (f *fakeConnector) queue(changes ...connector.RemoteChange) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, changes...)
}

type fixture struct {
	store    *graph.Store
	repo     repo.Repository
	manager  *Manager
	conn     *fakeConnector
	resolver *conflict.Resolver
}

func newFixture(t *testing.T, direction repo.Direction) *fixture {
	t.Helper()

	store := graph.NewStore(nil)
	repository, err := sqlite.Open(filepath.Join(t.TempDir(), "braid.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repository.Close() })
	require.NoError(t, repository.Init(context.Background()))

	resolver := conflict.New(store, repository, nil)
	manager := New(store, repository, resolver, &Options{
		BaseBackoff: time.Millisecond,
		CallTimeout: time.Second,
	})

	conn := newFakeConnector("fake")
	require.NoError(t, manager.Add(conn, connector.Config{
		ID:        "fake",
		Type:      "test",
		Direction: direction,
	}))
	return &fixture{store: store, repo: repository, manager: manager, conn: conn, resolver: resolver}
}

func (fx *fixture) link(t *testing.T, externalID string) *repo.ExternalLink {
	t.Helper()
	link, err := fx.repo.GetExternalLink(context.Background(), "fake", externalID)
	require.NoError(t, err)
	return link
}

func TestInboundCreatesNode(t *testing.T) {
	fx := newFixture(t, repo.DirectionBidirectional)
	item := connector.Item{Name: "imported task", Description: "from remote", Completion: 0.4}
	fx.conn.queue(connector.RemoteChange{ExternalID: "ext-1", Item: item})

	report, err := fx.manager.Sync(context.Background(), "fake")
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, report.Outcome)
	assert.Equal(t, 1, report.Fetched)
	assert.Equal(t, 1, report.Created)

	link := fx.link(t, "ext-1")
	assert.Equal(t, item.Hash(), link.ContentHash)

	node, err := fx.store.GetNode(link.NodeID)
	require.NoError(t, err)
	assert.Equal(t, "imported task", node.Name)
	assert.Equal(t, 0.4, node.Completion)

	// Node also landed in the repository.
	persisted, err := fx.repo.GetNode(context.Background(), link.NodeID)
	require.NoError(t, err)
	assert.Equal(t, "imported task", persisted.Name)
}

func TestInboundAppliesRemoteEdit(t *testing.T) {
	fx := newFixture(t, repo.DirectionBidirectional)
	ctx := context.Background()

	fx.conn.queue(connector.RemoteChange{ExternalID: "ext-1",
		Item: connector.Item{Name: "v1"}})
	_, err := fx.manager.Sync(ctx, "fake")
	require.NoError(t, err)
	nodeID := fx.link(t, "ext-1").NodeID

	// Remote edits, local untouched.
	edited := connector.Item{Name: "v2", Completion: 1, Done: true}
	fx.conn.queue(connector.RemoteChange{ExternalID: "ext-1", Item: edited})

	report, err := fx.manager.Sync(ctx, "fake")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 0, report.Conflicts)

	node, err := fx.store.GetNode(nodeID)
	require.NoError(t, err)
	assert.Equal(t, "v2", node.Name)
	assert.Equal(t, 1.0, node.Completion)
	assert.Equal(t, edited.Hash(), fx.link(t, "ext-1").ContentHash)
}

func TestInboundUnchangedRemoteIsNoop(t *testing.T) {
	fx := newFixture(t, repo.DirectionBidirectional)
	ctx := context.Background()

	item := connector.Item{Name: "same"}
	fx.conn.queue(connector.RemoteChange{ExternalID: "ext-1", Item: item})
	_, err := fx.manager.Sync(ctx, "fake")
	require.NoError(t, err)

	// The same content comes back; nothing should move.
	fx.conn.queue(connector.RemoteChange{ExternalID: "ext-1", Item: item})
	report, err := fx.manager.Sync(ctx, "fake")
	require.NoError(t, err)
	assert.Equal(t, 0, report.Updated)
	assert.Equal(t, 0, report.Conflicts)
}

func TestDivergenceParksConflict(t *testing.T) {
	fx := newFixture(t, repo.DirectionBidirectional)
	ctx := context.Background()

	fx.conn.queue(connector.RemoteChange{ExternalID: "ext-1",
		Item: connector.Item{Name: "base"}})
	_, err := fx.manager.Sync(ctx, "fake")
	require.NoError(t, err)
	nodeID := fx.link(t, "ext-1").NodeID

	// Local edit.
	node, err := fx.store.GetNode(nodeID)
	require.NoError(t, err)
	require.NoError(t, fx.store.UpdateNode(nodeID, node.Revision, func(n *graph.Node) {
		n.Name = "local edit"
	}))

	// Remote edit of the same item.
	fx.conn.queue(connector.RemoteChange{ExternalID: "ext-1",
		Item: connector.Item{Name: "remote edit"}})

	report, err := fx.manager.Sync(ctx, "fake")
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, report.Outcome)
	assert.Equal(t, 1, report.Conflicts)

	// Local node keeps its content until the user decides.
	node, err = fx.store.GetNode(nodeID)
	require.NoError(t, err)
	assert.Equal(t, "local edit", node.Name)

	pending, err := fx.resolver.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, nodeID, pending[0].NodeID)
}

func TestIdenticalDivergenceAutoResolves(t *testing.T) {
	fx := newFixture(t, repo.DirectionBidirectional)
	ctx := context.Background()

	fx.conn.queue(connector.RemoteChange{ExternalID: "ext-1",
		Item: connector.Item{Name: "base"}})
	_, err := fx.manager.Sync(ctx, "fake")
	require.NoError(t, err)
	nodeID := fx.link(t, "ext-1").NodeID

	// Both sides independently make the same edit.
	node, err := fx.store.GetNode(nodeID)
	require.NoError(t, err)
	require.NoError(t, fx.store.UpdateNode(nodeID, node.Revision, func(n *graph.Node) {
		n.Name = "same edit"
	}))
	fx.conn.queue(connector.RemoteChange{ExternalID: "ext-1",
		Item: connector.Item{Name: "same edit"}})

	report, err := fx.manager.Sync(ctx, "fake")
	require.NoError(t, err)
	assert.Equal(t, 0, report.Conflicts, "identical content must auto-resolve")

	pending, err := fx.resolver.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRemoteDeletionArchivesNode(t *testing.T) {
	fx := newFixture(t, repo.DirectionBidirectional)
	ctx := context.Background()

	fx.conn.queue(connector.RemoteChange{ExternalID: "ext-1",
		Item: connector.Item{Name: "doomed"}})
	_, err := fx.manager.Sync(ctx, "fake")
	require.NoError(t, err)
	nodeID := fx.link(t, "ext-1").NodeID

	fx.conn.queue(connector.RemoteChange{ExternalID: "ext-1", Deleted: true})
	report, err := fx.manager.Sync(ctx, "fake")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Archived)

	node, err := fx.store.GetNode(nodeID)
	require.NoError(t, err)
	assert.Equal(t, graph.LifecycleArchived, node.State)

	_, err = fx.repo.GetExternalLink(ctx, "fake", "ext-1")
	assert.True(t, errors.Is(err, repo.ErrNotFound))
}

func TestOutboundPushesLocalDrift(t *testing.T) {
	fx := newFixture(t, repo.DirectionBidirectional)
	ctx := context.Background()

	fx.conn.queue(connector.RemoteChange{ExternalID: "ext-1",
		Item: connector.Item{Name: "base"}})
	_, err := fx.manager.Sync(ctx, "fake")
	require.NoError(t, err)
	nodeID := fx.link(t, "ext-1").NodeID

	node, err := fx.store.GetNode(nodeID)
	require.NoError(t, err)
	require.NoError(t, fx.store.UpdateNode(nodeID, node.Revision, func(n *graph.Node) {
		n.Name = "local edit"
	}))

	report, err := fx.manager.Sync(ctx, "fake")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pushed)
	assert.Equal(t, "local edit", fx.conn.pushed["ext-1"].Name)

	// Link re-based: a second sync pushes nothing.
	report, err = fx.manager.Sync(ctx, "fake")
	require.NoError(t, err)
	assert.Equal(t, 0, report.Pushed)
}

func TestInboundApplyNotEchoedOutbound(t *testing.T) {
	fx := newFixture(t, repo.DirectionBidirectional)

	// The same job pulls a change and then runs the outbound pass; the
	// just-applied content must not bounce back.
	fx.conn.queue(connector.RemoteChange{ExternalID: "ext-1",
		Item: connector.Item{Name: "remote"}})
	report, err := fx.manager.Sync(context.Background(), "fake")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 0, report.Pushed)
	assert.Equal(t, 0, fx.conn.pushCalls)
}

func TestTransientFailureRetries(t *testing.T) {
	fx := newFixture(t, repo.DirectionInbound)
	fx.conn.failFetches = 2
	fx.conn.failErr = connector.ErrUnavailable
	fx.conn.queue(connector.RemoteChange{ExternalID: "ext-1",
		Item: connector.Item{Name: "eventually"}})

	report, err := fx.manager.Sync(context.Background(), "fake")
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, report.Outcome)
	assert.Equal(t, 3, fx.conn.fetchCalls)
	assert.Equal(t, 1, report.Created)
}

func TestPermanentRejectionFailsFast(t *testing.T) {
	fx := newFixture(t, repo.DirectionInbound)
	fx.conn.failFetches = 1
	fx.conn.failErr = connector.ErrRejected

	report, err := fx.manager.Sync(context.Background(), "fake")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, report.Outcome)
	assert.True(t, errors.Is(report.Err, connector.ErrRejected))
	assert.Equal(t, 1, fx.conn.fetchCalls, "permanent errors must not retry")
}

func TestRetriesExhaust(t *testing.T) {
	fx := newFixture(t, repo.DirectionInbound)
	fx.conn.failFetches = 100
	fx.conn.failErr = connector.ErrUnavailable

	report, err := fx.manager.Sync(context.Background(), "fake")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, report.Outcome)
	assert.True(t, errors.Is(report.Err, connector.ErrUnavailable))
	assert.Equal(t, 4, fx.conn.fetchCalls, "default attempt ceiling is 4")
}

func TestCallTimeoutRetriesAsTransient(t *testing.T) {
	fx := newFixture(t, repo.DirectionInbound)
	fx.manager.opts.CallTimeout = 20 * time.Millisecond
	fx.conn.blockFetches = 2
	fx.conn.queue(connector.RemoteChange{ExternalID: "ext-1",
		Item: connector.Item{Name: "eventually"}})

	report, err := fx.manager.Sync(context.Background(), "fake")
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, report.Outcome)
	assert.Equal(t, 3, fx.conn.fetchCalls, "timed-out calls must retry")
	assert.Equal(t, 1, report.Created)
}

func TestCallTimeoutExhaustionFailsNotCancelled(t *testing.T) {
	fx := newFixture(t, repo.DirectionInbound)
	fx.manager.opts.CallTimeout = 20 * time.Millisecond
	fx.conn.blockFetches = 100

	report, err := fx.manager.Sync(context.Background(), "fake")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, report.Outcome,
		"a slow connector fails the job; only the caller cancels it")
	assert.True(t, errors.Is(report.Err, connector.ErrUnavailable))
	assert.Equal(t, 4, fx.conn.fetchCalls)
}

func TestOutboundStoresRemoteReportedHash(t *testing.T) {
	fx := newFixture(t, repo.DirectionBidirectional)
	ctx := context.Background()

	fx.conn.queue(connector.RemoteChange{ExternalID: "ext-1",
		Item: connector.Item{Name: "base"}})
	_, err := fx.manager.Sync(ctx, "fake")
	require.NoError(t, err)
	nodeID := fx.link(t, "ext-1").NodeID

	node, err := fx.store.GetNode(nodeID)
	require.NoError(t, err)
	require.NoError(t, fx.store.UpdateNode(nodeID, node.Revision, func(n *graph.Node) {
		n.Name = "local edit"
	}))

	// The remote normalizes on write and reports what it actually stored.
	fx.conn.pushHash = "normalized-hash"
	report, err := fx.manager.Sync(ctx, "fake")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Pushed)
	assert.Equal(t, "normalized-hash", fx.link(t, "ext-1").ContentHash)
}

func TestCancellationBetweenItems(t *testing.T) {
	fx := newFixture(t, repo.DirectionInbound)
	ctx, cancel := context.WithCancel(context.Background())

	fx.conn.queue(
		connector.RemoteChange{ExternalID: "ext-1", Item: connector.Item{Name: "a"}},
		connector.RemoteChange{ExternalID: "ext-2", Item: connector.Item{Name: "b"}},
	)
	fx.conn.afterFetch = cancel

	report, err := fx.manager.Sync(ctx, "fake")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCancelled, report.Outcome)
	assert.Equal(t, 2, report.Fetched)
	assert.Equal(t, 0, report.Created, "cancellation lands before the first item")

	// The cursor did not advance, so the next sync starts over.
	fx.conn.queue(
		connector.RemoteChange{ExternalID: "ext-1", Item: connector.Item{Name: "a"}},
		connector.RemoteChange{ExternalID: "ext-2", Item: connector.Item{Name: "b"}},
	)
	report, err = fx.manager.Sync(context.Background(), "fake")
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, report.Outcome)
	assert.Equal(t, 2, report.Created)
}

func TestSyncAllRunsEveryConnector(t *testing.T) {
	fx := newFixture(t, repo.DirectionInbound)
	second := newFakeConnector("other")
	require.NoError(t, fx.manager.Add(second, connector.Config{
		ID: "other", Type: "test", Direction: repo.DirectionInbound,
	}))

	fx.conn.queue(connector.RemoteChange{ExternalID: "a", Item: connector.Item{Name: "a"}})
	second.queue(connector.RemoteChange{ExternalID: "b", Item: connector.Item{Name: "b"}})

	reports := fx.manager.SyncAll(context.Background())
	require.Len(t, reports, 2)
	assert.Equal(t, "fake", reports[0].ConnectorID)
	assert.Equal(t, "other", reports[1].ConnectorID)
	for _, r := range reports {
		assert.Equal(t, OutcomeOK, r.Outcome)
		assert.Equal(t, 1, r.Created)
	}
}

func TestSyncUnknownConnector(t *testing.T) {
	fx := newFixture(t, repo.DirectionInbound)
	_, err := fx.manager.Sync(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrUnknownConnector))
}

func TestResolveKeepRemoteAppliesAndRebases(t *testing.T) {
	fx := newFixture(t, repo.DirectionBidirectional)
	ctx := context.Background()

	fx.conn.queue(connector.RemoteChange{ExternalID: "ext-1",
		Item: connector.Item{Name: "base"}})
	_, err := fx.manager.Sync(ctx, "fake")
	require.NoError(t, err)
	nodeID := fx.link(t, "ext-1").NodeID

	node, err := fx.store.GetNode(nodeID)
	require.NoError(t, err)
	require.NoError(t, fx.store.UpdateNode(nodeID, node.Revision, func(n *graph.Node) {
		n.Name = "local edit"
	}))
	fx.conn.queue(connector.RemoteChange{ExternalID: "ext-1",
		Item: connector.Item{Name: "remote edit"}})
	_, err = fx.manager.Sync(ctx, "fake")
	require.NoError(t, err)

	pending, err := fx.resolver.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	err = fx.resolver.Resolve(ctx, pending[0].ID, conflict.Decision{
		Resolution: conflict.KeepRemote,
	}, fx.conn.Push)
	require.NoError(t, err)

	node, err = fx.store.GetNode(nodeID)
	require.NoError(t, err)
	assert.Equal(t, "remote edit", node.Name)

	// Re-based: the resolved content is the new agreement, so the next
	// sync is quiet in both directions.
	report, err := fx.manager.Sync(ctx, "fake")
	require.NoError(t, err)
	assert.Equal(t, 0, report.Pushed)
	assert.Equal(t, 0, report.Conflicts)
}
