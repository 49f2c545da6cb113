// Package syncer drives bidirectional synchronization between the local
// task graph and external services through their connectors.
//
// Connectors sync in parallel with each other but strictly serialized
// per connector: one goroutine at a time talks to any given remote.
// Transient connector failures retry with exponential backoff; permanent
// rejections fail the job immediately. Cancellation is honored between
// items, and changes already applied stay applied.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/braidhq/braid/internal/conflict"
	"github.com/braidhq/braid/internal/connector"
	"github.com/braidhq/braid/internal/graph"
	"github.com/braidhq/braid/internal/repo"
)

// ErrUnknownConnector is returned when a sync names a connector id that
// was never added.
var ErrUnknownConnector = errors.New("unknown connector")

// Options tunes the manager. The zero value gets defaults.
type Options struct {
	// MaxAttempts bounds retries of one connector call, first try
	// included.
	MaxAttempts int

	// BaseBackoff is the delay before the first retry; it doubles per
	// attempt after that.
	BaseBackoff time.Duration

	// CallTimeout bounds each individual connector call.
	CallTimeout time.Duration

	// OnReport, if set, receives every finished poll-loop report.
	OnReport func(Report)

	Logger *log.Logger
}

func (o *Options) setDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 4
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 500 * time.Millisecond
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
}

// Outcome classifies how a sync job ended.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Report summarizes one sync job for one connector.
type Report struct {
	ConnectorID string
	Outcome     Outcome

	Fetched   int // remote changes seen
	Created   int // local nodes created from remote items
	Updated   int // local nodes updated from remote items
	Archived  int // local nodes archived after remote deletion
	Pushed    int // local changes pushed to the remote
	Conflicts int // divergences parked for the user

	Err      error
	Started  time.Time
	Finished time.Time
}

// managed is one connector plus its serialization lock and sync cursor.
type managed struct {
	conn connector.Connector
	cfg  connector.Config

	mu       sync.Mutex
	lastSync time.Time
}

// Manager is the connector sync manager.
type Manager struct {
	store    *graph.Store
	repo     repo.Repository
	resolver *conflict.Resolver
	opts     Options

	mu    sync.RWMutex
	conns map[string]*managed
}

// New creates a manager. opts may be nil.
func New(store *graph.Store, repository repo.Repository, resolver *conflict.Resolver, opts *Options) *Manager {
	var o Options
	if opts != nil {
		o = *opts
	}
	o.setDefaults()
	return &Manager{
		store:    store,
		repo:     repository,
		resolver: resolver,
		opts:     o,
		conns:    make(map[string]*managed),
	}
}

// OnReport installs the report hook. Call before Run.
func (m *Manager) OnReport(fn func(Report)) {
	m.opts.OnReport = fn
}

// Add registers a connector under its configured id.
func (m *Manager) Add(conn connector.Connector, cfg connector.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.conns[cfg.ID]; exists {
		return fmt.Errorf("connector %s already added", cfg.ID)
	}
	m.conns[cfg.ID] = &managed{conn: conn, cfg: cfg}
	return nil
}

// Connector returns the managed connector with the given id.
func (m *Manager) Connector(id string) (connector.Connector, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mc, ok := m.conns[id]
	if !ok {
		return nil, fmt.Errorf("connector %s: %w", id, ErrUnknownConnector)
	}
	return mc.conn, nil
}

// IDs returns all managed connector ids, sorted.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Sync runs one sync job for one connector and blocks until it finishes.
func (m *Manager) Sync(ctx context.Context, connectorID string) (Report, error) {
	m.mu.RLock()
	mc, ok := m.conns[connectorID]
	m.mu.RUnlock()
	if !ok {
		return Report{}, fmt.Errorf("connector %s: %w", connectorID, ErrUnknownConnector)
	}
	return m.syncOne(ctx, mc), nil
}

// SyncAll syncs every connector in parallel and returns one report each,
// ordered by connector id.
func (m *Manager) SyncAll(ctx context.Context) []Report {
	m.mu.RLock()
	jobs := make([]*managed, 0, len(m.conns))
	for _, mc := range m.conns {
		jobs = append(jobs, mc)
	}
	m.mu.RUnlock()

	reports := make([]Report, len(jobs))
	var wg sync.WaitGroup
	for i, mc := range jobs {
		wg.Add(1)
		go func(i int, mc *managed) {
			defer wg.Done()
			reports[i] = m.syncOne(ctx, mc)
		}(i, mc)
	}
	wg.Wait()

	sort.Slice(reports, func(i, j int) bool {
		return reports[i].ConnectorID < reports[j].ConnectorID
	})
	return reports
}

// Run polls every connector on its configured interval until ctx is
// cancelled. Each connector gets an immediate first sync.
func (m *Manager) Run(ctx context.Context) {
	m.mu.RLock()
	jobs := make([]*managed, 0, len(m.conns))
	for _, mc := range m.conns {
		jobs = append(jobs, mc)
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, mc := range jobs {
		wg.Add(1)
		go func(mc *managed) {
			defer wg.Done()
			m.pollLoop(ctx, mc)
		}(mc)
	}
	wg.Wait()
}

func (m *Manager) pollLoop(ctx context.Context, mc *managed) {
	ticker := time.NewTicker(mc.cfg.Poll())
	defer ticker.Stop()

	m.logReport(m.syncOne(ctx, mc))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.logReport(m.syncOne(ctx, mc))
		}
	}
}

func (m *Manager) logReport(r Report) {
	if m.opts.OnReport != nil {
		m.opts.OnReport(r)
	}
	switch r.Outcome {
	case OutcomeOK:
		m.opts.Logger.Printf("Synced %s: fetched=%d created=%d updated=%d archived=%d pushed=%d conflicts=%d in %v",
			r.ConnectorID, r.Fetched, r.Created, r.Updated, r.Archived, r.Pushed, r.Conflicts,
			r.Finished.Sub(r.Started).Round(time.Millisecond))
	case OutcomeCancelled:
		m.opts.Logger.Printf("Sync of %s cancelled; %d changes already applied were kept",
			r.ConnectorID, r.Created+r.Updated+r.Archived+r.Pushed)
	default:
		m.opts.Logger.Printf("Sync of %s failed: %v", r.ConnectorID, r.Err)
	}
}

// Close closes every managed connector.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	for id, mc := range m.conns {
		if err := mc.conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close connector %s: %w", id, err)
		}
	}
	m.conns = make(map[string]*managed)
	return firstErr
}

// syncOne runs a full job for one connector: the inbound pass, then the
// outbound pass. The per-connector mutex serializes concurrent jobs.
func (m *Manager) syncOne(ctx context.Context, mc *managed) Report {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	report := Report{
		ConnectorID: mc.cfg.ID,
		Outcome:     OutcomeOK,
		Started:     time.Now(),
	}
	defer func() { report.Finished = time.Now() }()

	if mc.cfg.Direction.Inbound() {
		if err := m.pullChanges(ctx, mc, &report); err != nil {
			report.Err = err
			report.Outcome = m.classify(ctx)
			return report
		}
	}

	if mc.cfg.Direction.Outbound() {
		if err := m.pushChanges(ctx, mc, &report); err != nil {
			report.Err = err
			report.Outcome = m.classify(ctx)
			return report
		}
	}
	return report
}

// classify maps a job failure to its outcome. Only the caller's own
// context ending counts as cancellation; a per-call timeout is the
// connector being slow, which retries as transient and then fails.
func (m *Manager) classify(ctx context.Context) Outcome {
	if ctx.Err() != nil {
		return OutcomeCancelled
	}
	return OutcomeFailed
}

// pullChanges fetches remote changes and applies them locally.
func (m *Manager) pullChanges(ctx context.Context, mc *managed, report *Report) error {
	since := mc.lastSync
	start := time.Now()

	var changes []connector.RemoteChange
	err := m.withRetry(ctx, func(callCtx context.Context) error {
		var err error
		changes, err = mc.conn.FetchChanges(callCtx, since)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to fetch changes from %s: %w", mc.cfg.ID, err)
	}
	report.Fetched = len(changes)

	for _, change := range changes {
		// Applied changes stay applied; only stop taking new ones.
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.applyRemoteChange(ctx, mc, change, report); err != nil {
			return fmt.Errorf("failed to apply remote change %s: %w", change.ExternalID, err)
		}
	}

	mc.lastSync = start
	return nil
}

// applyRemoteChange routes one remote change: create, update, archive, or
// park as a conflict.
func (m *Manager) applyRemoteChange(ctx context.Context, mc *managed, change connector.RemoteChange, report *Report) error {
	link, err := m.repo.GetExternalLink(ctx, mc.cfg.ID, change.ExternalID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return err
	}

	if change.Deleted {
		if link == nil {
			return nil // never linked locally
		}
		return m.archiveLinked(ctx, link, report)
	}

	if link == nil {
		return m.createFromRemote(ctx, mc, change, report)
	}

	remoteHash := change.Item.Hash()
	if remoteHash == link.ContentHash {
		return nil // remote content unchanged since the last agreement
	}

	node, err := m.store.GetNode(link.NodeID)
	if err != nil {
		if errors.Is(err, graph.ErrNodeNotFound) {
			// Node deleted locally after linking; drop the link and
			// re-create from remote.
			if err := m.repo.DeleteExternalLink(ctx, link.ConnectorID, link.ExternalID); err != nil {
				return err
			}
			return m.createFromRemote(ctx, mc, change, report)
		}
		return err
	}

	localItem := connector.ItemFromNode(node)
	if localItem.Hash() == link.ContentHash {
		// Only the remote moved; apply it.
		if err := m.applyItem(ctx, node, change.Item); err != nil {
			return err
		}
		link.ContentHash = remoteHash
		link.SyncedAt = time.Now().UTC()
		if err := m.repo.PutExternalLink(ctx, link); err != nil {
			return err
		}
		report.Updated++
		return nil
	}

	// Both sides moved since the base: conflict.
	rec, err := m.resolver.Detect(ctx, *link, localItem, change.Item)
	if err != nil {
		return err
	}
	if rec.State == conflict.StatePendingUser {
		report.Conflicts++
	}
	return nil
}

// createFromRemote materializes a brand-new remote item as a local node
// plus its link.
func (m *Manager) createFromRemote(ctx context.Context, mc *managed, change connector.RemoteChange, report *Report) error {
	id, err := m.store.CreateNode(graph.NodeSpec{
		Name:        change.Item.Name,
		Description: change.Item.Description,
		Attrs:       graph.Attributes{DueAt: change.Item.DueAt},
	})
	if err != nil {
		return err
	}
	if err := m.store.SetCompletion(id, change.Item.EffectiveCompletion()); err != nil {
		return err
	}
	node, err := m.store.GetNode(id)
	if err != nil {
		return err
	}
	if err := m.repo.PutNode(ctx, node); err != nil {
		return err
	}

	link := &repo.ExternalLink{
		ConnectorID: mc.cfg.ID,
		ExternalID:  change.ExternalID,
		NodeID:      id,
		ContentHash: change.Item.Hash(),
		SyncedAt:    time.Now().UTC(),
		Direction:   mc.cfg.Direction,
	}
	if err := m.repo.PutExternalLink(ctx, link); err != nil {
		return err
	}
	report.Created++
	return nil
}

// archiveLinked archives the local node behind a remotely deleted item
// and drops the link.
func (m *Manager) archiveLinked(ctx context.Context, link *repo.ExternalLink, report *Report) error {
	err := m.store.ArchiveNode(link.NodeID)
	if err != nil && !errors.Is(err, graph.ErrNodeNotFound) && !errors.Is(err, graph.ErrNodeArchived) {
		return err
	}
	if err == nil {
		node, err := m.store.GetNode(link.NodeID)
		if err != nil {
			return err
		}
		if err := m.repo.PutNode(ctx, node); err != nil {
			return err
		}
		report.Archived++
	}
	return m.repo.DeleteExternalLink(ctx, link.ConnectorID, link.ExternalID)
}

// applyItem writes a remote item's content onto an existing local node.
func (m *Manager) applyItem(ctx context.Context, node *graph.Node, item connector.Item) error {
	if err := m.store.UpdateNode(node.ID, node.Revision, func(n *graph.Node) {
		item.ApplyToNode(n)
	}); err != nil {
		return err
	}
	// Composites derive completion from children; only leaves take it.
	if err := m.store.SetCompletion(node.ID, item.EffectiveCompletion()); err != nil &&
		!errors.Is(err, graph.ErrNotALeaf) {
		return err
	}
	updated, err := m.store.GetNode(node.ID)
	if err != nil {
		return err
	}
	return m.repo.PutNode(ctx, updated)
}

// pushChanges walks this connector's links and pushes nodes whose content
// drifted from the last agreed hash.
func (m *Manager) pushChanges(ctx context.Context, mc *managed, report *Report) error {
	links, err := m.repo.ListExternalLinks(ctx, mc.cfg.ID)
	if err != nil {
		return err
	}

	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !link.Direction.Outbound() {
			continue
		}

		node, err := m.store.GetNode(link.NodeID)
		if err != nil {
			if errors.Is(err, graph.ErrNodeNotFound) {
				continue
			}
			return err
		}
		if node.State == graph.LifecycleArchived {
			continue
		}

		item := connector.ItemFromNode(node)
		hash := item.Hash()
		if hash == link.ContentHash {
			continue
		}

		var receipt connector.PushReceipt
		err = m.withRetry(ctx, func(callCtx context.Context) error {
			var err error
			receipt, err = mc.conn.Push(callCtx, link.ExternalID, item)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to push %s to %s: %w", link.NodeID, mc.cfg.ID, err)
		}

		// Base on what the remote says it stored; a normalizing service
		// would otherwise look diverged on the very next fetch.
		link.ContentHash = receipt.ContentHash
		if link.ContentHash == "" {
			link.ContentHash = hash
		}
		link.SyncedAt = time.Now().UTC()
		if err := m.repo.PutExternalLink(ctx, link); err != nil {
			return err
		}
		report.Pushed++
	}
	return nil
}

// withRetry runs one connector call with per-call timeout and exponential
// backoff on transient failures. A call that hits its own timeout while
// the job context is still live counts as transient. Cancellation is
// checked between attempts, not mid-call.
func (m *Manager) withRetry(ctx context.Context, fn func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < m.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := m.opts.BaseBackoff << (attempt - 1)
			m.opts.Logger.Printf("Retrying in %v (attempt %d/%d): %v",
				delay, attempt+1, m.opts.MaxAttempts, err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, m.opts.CallTimeout)
		err = fn(callCtx)
		cancel()

		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("call timed out after %v: %w", m.opts.CallTimeout, connector.ErrUnavailable)
			continue
		}
		if !connector.IsRetryable(err) {
			return err
		}
	}
	return err
}
