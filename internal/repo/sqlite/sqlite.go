// Package sqlite provides the embedded SQLite repository backend.
//
// The database runs fully embedded (ncruces/go-sqlite3, wasm build of
// SQLite) with WAL mode so readers proceed concurrently with the single
// writer. The libsql backend reuses this package's statement layer over a
// different driver; see NewWithDB.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/braidhq/braid/internal/graph"
	"github.com/braidhq/braid/internal/repo"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

func init() {
	repo.Register(repo.KindSQLite, func(cfg repo.Config) (repo.Repository, error) {
		return Open(cfg.Path)
	})
}

// Store implements repo.Repository over a SQLite-dialect database.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the database file at path.
//
// The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := &Store{db: db, path: path}
	if err := store.applyPragmas(); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// NewWithDB wraps an already-open SQLite-dialect connection. Used by the
// libsql backend; pragmas and pooling are the caller's responsibility.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) applyPragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return nil
}

// Close checkpoints the WAL and closes the connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.db = nil
	return nil
}

// Init creates the schema if it doesn't exist. Idempotent.
func (s *Store) Init(ctx context.Context) error {
	schema := `
	-- Durable entities. Rollups and dimension indexes are derived and
	-- deliberately absent: they rebuild from nodes+edges alone.
	CREATE TABLE IF NOT EXISTS nodes (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		estimate_ns INTEGER NOT NULL DEFAULT 0,
		due_at TEXT,
		interest REAL NOT NULL DEFAULT 0,
		value REAL NOT NULL DEFAULT 0,
		goals TEXT NOT NULL DEFAULT '[]',  -- JSON array
		completion REAL NOT NULL DEFAULT 0,
		state TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		revision INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS edges (
		parent_id TEXT NOT NULL,
		child_id TEXT NOT NULL,
		weight REAL NOT NULL DEFAULT 1,
		sort_order TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		PRIMARY KEY (parent_id, child_id),
		FOREIGN KEY (parent_id) REFERENCES nodes(id),
		FOREIGN KEY (child_id) REFERENCES nodes(id)
	);

	CREATE TABLE IF NOT EXISTS external_links (
		connector_id TEXT NOT NULL,
		external_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		synced_at TEXT NOT NULL,
		direction TEXT NOT NULL,
		PRIMARY KEY (connector_id, external_id),
		UNIQUE (node_id, connector_id),
		FOREIGN KEY (node_id) REFERENCES nodes(id)
	);

	CREATE TABLE IF NOT EXISTS conflicts (
		id TEXT PRIMARY KEY,
		connector_id TEXT NOT NULL,
		external_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		state TEXT NOT NULL,
		local_content TEXT NOT NULL,
		remote_content TEXT NOT NULL,
		base_hash TEXT NOT NULL,
		detected_at TEXT NOT NULL,
		resolved_at TEXT,
		resolution TEXT NOT NULL DEFAULT ''
	);

	-- Indexes for dimension and traversal queries
	CREATE INDEX IF NOT EXISTS idx_nodes_state ON nodes(state);
	CREATE INDEX IF NOT EXISTS idx_nodes_due ON nodes(due_at);
	CREATE INDEX IF NOT EXISTS idx_nodes_interest ON nodes(interest);
	CREATE INDEX IF NOT EXISTS idx_nodes_value ON nodes(value);
	CREATE INDEX IF NOT EXISTS idx_edges_child ON edges(child_id);
	CREATE INDEX IF NOT EXISTS idx_links_node ON external_links(node_id);
	CREATE INDEX IF NOT EXISTS idx_conflicts_state ON conflicts(state);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so the statement layer
// serves plain calls and Apply transactions alike.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ===== Nodes =====

// PutNode inserts or updates a node.
func (s *Store) PutNode(ctx context.Context, node *graph.Node) error {
	return putNode(ctx, s.db, node)
}

func putNode(ctx context.Context, q dbtx, node *graph.Node) error {
	if err := node.Validate(); err != nil {
		return fmt.Errorf("invalid node: %w", err)
	}
	goalsJSON, err := json.Marshal(node.Attrs.Goals)
	if err != nil {
		return fmt.Errorf("failed to marshal goals: %w", err)
	}

	query := `
	INSERT INTO nodes (
		id, name, description, estimate_ns, due_at, interest, value,
		goals, completion, state, created_at, updated_at, revision
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		description = excluded.description,
		estimate_ns = excluded.estimate_ns,
		due_at = excluded.due_at,
		interest = excluded.interest,
		value = excluded.value,
		goals = excluded.goals,
		completion = excluded.completion,
		state = excluded.state,
		updated_at = excluded.updated_at,
		revision = excluded.revision
	`
	_, err = q.ExecContext(ctx, query,
		string(node.ID),
		node.Name,
		node.Description,
		int64(node.Attrs.Estimate),
		timeToNullString(node.Attrs.DueAt),
		node.Attrs.Interest,
		node.Attrs.Value,
		string(goalsJSON),
		node.Completion,
		string(node.State),
		node.CreatedAt.Format(time.RFC3339Nano),
		node.UpdatedAt.Format(time.RFC3339Nano),
		node.Revision,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert node %s: %w", node.ID, err)
	}
	return nil
}

const nodeColumns = `id, name, description, estimate_ns, due_at, interest, value,
       goals, completion, state, created_at, updated_at, revision`

// GetNode retrieves a single node. Returns repo.ErrNotFound if absent.
func (s *Store) GetNode(ctx context.Context, id graph.NodeID) (*graph.Node, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, string(id))
	node, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no node found with id %s: %w", id, repo.ErrNotFound)
	}
	return node, err
}

// ListNodes returns all nodes, including archived ones, ordered by id.
func (s *Store) ListNodes(ctx context.Context) ([]*graph.Node, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+nodeColumns+` FROM nodes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*graph.Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating nodes: %w", err)
	}
	return nodes, nil
}

// DeleteNode removes a node. Fails with repo.ErrNodeReferenced while
// edges or external links still reference it.
func (s *Store) DeleteNode(ctx context.Context, id graph.NodeID) error {
	return deleteNode(ctx, s.db, id)
}

func deleteNode(ctx context.Context, q dbtx, id graph.NodeID) error {
	var refs int
	err := q.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM edges WHERE parent_id = ?1 OR child_id = ?1)
		     + (SELECT COUNT(*) FROM external_links WHERE node_id = ?1)`,
		string(id)).Scan(&refs)
	if err != nil {
		return fmt.Errorf("failed to count references for node %s: %w", id, err)
	}
	if refs > 0 {
		return fmt.Errorf("node %s has %d references: %w", id, refs, repo.ErrNodeReferenced)
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, string(id)); err != nil {
		return fmt.Errorf("failed to delete node %s: %w", id, err)
	}
	return nil
}

// ===== Edges =====

// PutEdge inserts or updates an edge.
func (s *Store) PutEdge(ctx context.Context, edge graph.Edge) error {
	return putEdge(ctx, s.db, edge)
}

func putEdge(ctx context.Context, q dbtx, edge graph.Edge) error {
	if err := edge.Validate(); err != nil {
		return fmt.Errorf("invalid edge: %w", err)
	}
	if edge.CreatedAt.IsZero() {
		edge.CreatedAt = time.Now().UTC()
	}
	query := `
	INSERT INTO edges (parent_id, child_id, weight, sort_order, created_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(parent_id, child_id) DO UPDATE SET
		weight = excluded.weight,
		sort_order = excluded.sort_order
	`
	_, err := q.ExecContext(ctx, query,
		string(edge.Parent), string(edge.Child), edge.Weight,
		edge.SortOrder, edge.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to upsert edge %s -> %s: %w", edge.Parent, edge.Child, err)
	}
	return nil
}

// DeleteEdge removes an edge. Idempotent.
func (s *Store) DeleteEdge(ctx context.Context, parent, child graph.NodeID) error {
	return deleteEdge(ctx, s.db, parent, child)
}

func deleteEdge(ctx context.Context, q dbtx, parent, child graph.NodeID) error {
	_, err := q.ExecContext(ctx, `DELETE FROM edges WHERE parent_id = ? AND child_id = ?`,
		string(parent), string(child))
	if err != nil {
		return fmt.Errorf("failed to delete edge %s -> %s: %w", parent, child, err)
	}
	return nil
}

// ListEdges returns all edges.
func (s *Store) ListEdges(ctx context.Context) ([]graph.Edge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT parent_id, child_id, weight, sort_order, created_at
		FROM edges ORDER BY parent_id, child_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list edges: %w", err)
	}
	defer rows.Close()

	var edges []graph.Edge
	for rows.Next() {
		var e graph.Edge
		var parent, child, createdAt string
		if err := rows.Scan(&parent, &child, &e.Weight, &e.SortOrder, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		e.Parent = graph.NodeID(parent)
		e.Child = graph.NodeID(child)
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			e.CreatedAt = t
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating edges: %w", err)
	}
	return edges, nil
}

// ===== Traversal =====

// Ancestors returns every node reachable upward from id via a recursive
// CTE, so the traversal runs inside the store.
func (s *Store) Ancestors(ctx context.Context, id graph.NodeID) ([]graph.NodeID, error) {
	return s.traverse(ctx, id, `
	WITH RECURSIVE up AS (
		SELECT parent_id AS nid FROM edges WHERE child_id = ?
		UNION
		SELECT e.parent_id FROM edges e JOIN up ON e.child_id = up.nid
	)
	SELECT nid FROM up ORDER BY nid`)
}

// Descendants returns every node reachable downward from id.
func (s *Store) Descendants(ctx context.Context, id graph.NodeID) ([]graph.NodeID, error) {
	return s.traverse(ctx, id, `
	WITH RECURSIVE down AS (
		SELECT child_id AS nid FROM edges WHERE parent_id = ?
		UNION
		SELECT e.child_id FROM edges e JOIN down ON e.parent_id = down.nid
	)
	SELECT nid FROM down ORDER BY nid`)
}

func (s *Store) traverse(ctx context.Context, id graph.NodeID, query string) ([]graph.NodeID, error) {
	rows, err := s.db.QueryContext(ctx, query, string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to traverse from %s: %w", id, err)
	}
	defer rows.Close()

	var ids []graph.NodeID
	for rows.Next() {
		var nid string
		if err := rows.Scan(&nid); err != nil {
			return nil, fmt.Errorf("failed to scan traversal row: %w", err)
		}
		ids = append(ids, graph.NodeID(nid))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating traversal: %w", err)
	}
	return ids, nil
}

// ===== Dimension queries =====

// QueryByDimension returns active node ids matching the range, ordered
// ascending by the dimension key.
func (s *Store) QueryByDimension(ctx context.Context, dim graph.Dimension, rng repo.Range) ([]graph.NodeID, error) {
	var query string
	var args []any

	switch dim {
	case graph.DimensionTime:
		query = `SELECT id FROM nodes
			WHERE state = 'active' AND due_at IS NOT NULL AND due_at >= ? AND due_at <= ?
			ORDER BY due_at, id`
		args = []any{
			time.Unix(int64(rng.Min), 0).UTC().Format(time.RFC3339Nano),
			time.Unix(int64(rng.Max), 0).UTC().Format(time.RFC3339Nano),
		}
	case graph.DimensionInterest:
		query = `SELECT id FROM nodes
			WHERE state = 'active' AND interest >= ? AND interest <= ?
			ORDER BY interest, id`
		args = []any{rng.Min, rng.Max}
	case graph.DimensionValue:
		query = `SELECT id FROM nodes
			WHERE state = 'active' AND value >= ? AND value <= ?
			ORDER BY value, id`
		args = []any{rng.Min, rng.Max}
	case graph.DimensionGoal:
		query = `SELECT DISTINCT n.id FROM nodes n, json_each(n.goals)
			WHERE n.state = 'active' AND json_each.value = ?
			ORDER BY n.id`
		args = []any{rng.Goal}
	default:
		return nil, fmt.Errorf("unknown dimension %q", dim)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query dimension %s: %w", dim, err)
	}
	defer rows.Close()

	var ids []graph.NodeID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan dimension row: %w", err)
		}
		ids = append(ids, graph.NodeID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dimension query: %w", err)
	}
	return ids, nil
}

// ===== External links =====

// PutExternalLink inserts or updates a link. A node may hold at most one
// link per connector; violating that fails with repo.ErrDuplicateLink.
func (s *Store) PutExternalLink(ctx context.Context, link *repo.ExternalLink) error {
	return putExternalLink(ctx, s.db, link)
}

func putExternalLink(ctx context.Context, q dbtx, link *repo.ExternalLink) error {
	if link.ConnectorID == "" || link.ExternalID == "" || link.NodeID == "" {
		return fmt.Errorf("connector id, external id and node id are required")
	}

	// Enforce one link per (node, connector) with a clear error instead
	// of a bare constraint failure.
	var existing string
	err := q.QueryRowContext(ctx,
		`SELECT external_id FROM external_links WHERE node_id = ? AND connector_id = ?`,
		string(link.NodeID), link.ConnectorID).Scan(&existing)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to check link uniqueness: %w", err)
	}
	if err == nil && existing != link.ExternalID {
		return fmt.Errorf("node %s already linked to connector %s as %s: %w",
			link.NodeID, link.ConnectorID, existing, repo.ErrDuplicateLink)
	}

	query := `
	INSERT INTO external_links (connector_id, external_id, node_id, content_hash, synced_at, direction)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(connector_id, external_id) DO UPDATE SET
		node_id = excluded.node_id,
		content_hash = excluded.content_hash,
		synced_at = excluded.synced_at,
		direction = excluded.direction
	`
	_, err = q.ExecContext(ctx, query,
		link.ConnectorID, link.ExternalID, string(link.NodeID),
		link.ContentHash, link.SyncedAt.Format(time.RFC3339Nano), string(link.Direction))
	if err != nil {
		return fmt.Errorf("failed to upsert link %s/%s: %w", link.ConnectorID, link.ExternalID, err)
	}
	return nil
}

const linkColumns = `connector_id, external_id, node_id, content_hash, synced_at, direction`

// GetExternalLink retrieves one link. Returns repo.ErrNotFound if absent.
func (s *Store) GetExternalLink(ctx context.Context, connectorID, externalID string) (*repo.ExternalLink, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+linkColumns+` FROM external_links WHERE connector_id = ? AND external_id = ?`,
		connectorID, externalID)
	link, err := scanLink(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no link found for %s/%s: %w", connectorID, externalID, repo.ErrNotFound)
	}
	return link, err
}

// LinkForNode retrieves the link binding a node to a connector, if any.
func (s *Store) LinkForNode(ctx context.Context, id graph.NodeID, connectorID string) (*repo.ExternalLink, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+linkColumns+` FROM external_links WHERE node_id = ? AND connector_id = ?`,
		string(id), connectorID)
	link, err := scanLink(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no link found for node %s on %s: %w", id, connectorID, repo.ErrNotFound)
	}
	return link, err
}

// ListExternalLinks returns all links of one connector, or of every
// connector when connectorID is empty.
func (s *Store) ListExternalLinks(ctx context.Context, connectorID string) ([]*repo.ExternalLink, error) {
	query := `SELECT ` + linkColumns + ` FROM external_links`
	var args []any
	if connectorID != "" {
		query += ` WHERE connector_id = ?`
		args = append(args, connectorID)
	}
	query += ` ORDER BY connector_id, external_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	defer rows.Close()

	var links []*repo.ExternalLink
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating links: %w", err)
	}
	return links, nil
}

// DeleteExternalLink removes a link. Idempotent.
func (s *Store) DeleteExternalLink(ctx context.Context, connectorID, externalID string) error {
	return deleteExternalLink(ctx, s.db, connectorID, externalID)
}

func deleteExternalLink(ctx context.Context, q dbtx, connectorID, externalID string) error {
	_, err := q.ExecContext(ctx,
		`DELETE FROM external_links WHERE connector_id = ? AND external_id = ?`,
		connectorID, externalID)
	if err != nil {
		return fmt.Errorf("failed to delete link %s/%s: %w", connectorID, externalID, err)
	}
	return nil
}

// ===== Conflicts =====

// PutConflict inserts or updates a conflict record.
func (s *Store) PutConflict(ctx context.Context, rec *repo.ConflictRecord) error {
	return putConflict(ctx, s.db, rec)
}

func putConflict(ctx context.Context, q dbtx, rec *repo.ConflictRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("conflict id is required")
	}
	query := `
	INSERT INTO conflicts (
		id, connector_id, external_id, node_id, state,
		local_content, remote_content, base_hash, detected_at, resolved_at, resolution
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		state = excluded.state,
		local_content = excluded.local_content,
		remote_content = excluded.remote_content,
		resolved_at = excluded.resolved_at,
		resolution = excluded.resolution
	`
	_, err := q.ExecContext(ctx, query,
		rec.ID, rec.ConnectorID, rec.ExternalID, string(rec.NodeID), rec.State,
		rec.Local, rec.Remote, rec.BaseHash,
		rec.DetectedAt.Format(time.RFC3339Nano),
		timeToNullString(rec.ResolvedAt), rec.Resolution)
	if err != nil {
		return fmt.Errorf("failed to upsert conflict %s: %w", rec.ID, err)
	}
	return nil
}

const conflictColumns = `id, connector_id, external_id, node_id, state,
       local_content, remote_content, base_hash, detected_at, resolved_at, resolution`

// GetConflict retrieves one conflict record.
func (s *Store) GetConflict(ctx context.Context, id string) (*repo.ConflictRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conflictColumns+` FROM conflicts WHERE id = ?`, id)
	rec, err := scanConflict(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no conflict found with id %s: %w", id, repo.ErrNotFound)
	}
	return rec, err
}

// ListConflicts returns conflicts in the given state, or all when state is
// empty, oldest first.
func (s *Store) ListConflicts(ctx context.Context, state string) ([]*repo.ConflictRecord, error) {
	query := `SELECT ` + conflictColumns + ` FROM conflicts`
	var args []any
	if state != "" {
		query += ` WHERE state = ?`
		args = append(args, state)
	}
	query += ` ORDER BY detected_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	defer rows.Close()

	var recs []*repo.ConflictRecord
	for rows.Next() {
		rec, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conflicts: %w", err)
	}
	return recs, nil
}

// ===== Transactions =====

type storeTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *storeTx) PutNode(node *graph.Node) error     { return putNode(t.ctx, t.tx, node) }
func (t *storeTx) DeleteNode(id graph.NodeID) error   { return deleteNode(t.ctx, t.tx, id) }
func (t *storeTx) PutEdge(edge graph.Edge) error      { return putEdge(t.ctx, t.tx, edge) }
func (t *storeTx) DeleteEdge(p, c graph.NodeID) error { return deleteEdge(t.ctx, t.tx, p, c) }
func (t *storeTx) PutExternalLink(link *repo.ExternalLink) error {
	return putExternalLink(t.ctx, t.tx, link)
}
func (t *storeTx) DeleteExternalLink(connectorID, externalID string) error {
	return deleteExternalLink(t.ctx, t.tx, connectorID, externalID)
}
func (t *storeTx) PutConflict(rec *repo.ConflictRecord) error { return putConflict(t.ctx, t.tx, rec) }

// Apply runs fn inside a single transaction.
func (s *Store) Apply(ctx context.Context, fn func(repo.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&storeTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ===== Scan helpers =====

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*graph.Node, error) {
	var node graph.Node
	var id, state, goalsJSON, createdAt, updatedAt string
	var dueAt sql.NullString
	var estimate int64

	err := row.Scan(
		&id, &node.Name, &node.Description, &estimate, &dueAt,
		&node.Attrs.Interest, &node.Attrs.Value, &goalsJSON,
		&node.Completion, &state, &createdAt, &updatedAt, &node.Revision,
	)
	if err != nil {
		return nil, err
	}

	node.ID = graph.NodeID(id)
	node.State = graph.Lifecycle(state)
	node.Attrs.Estimate = time.Duration(estimate)
	node.Attrs.DueAt = nullStringToTime(dueAt)
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		node.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		node.UpdatedAt = t
	}
	if goalsJSON != "" && goalsJSON != "null" {
		if err := json.Unmarshal([]byte(goalsJSON), &node.Attrs.Goals); err != nil {
			return nil, fmt.Errorf("failed to unmarshal goals: %w", err)
		}
	}
	return &node, nil
}

func scanLink(row rowScanner) (*repo.ExternalLink, error) {
	var link repo.ExternalLink
	var nodeID, direction, syncedAt string
	err := row.Scan(&link.ConnectorID, &link.ExternalID, &nodeID,
		&link.ContentHash, &syncedAt, &direction)
	if err != nil {
		return nil, err
	}
	link.NodeID = graph.NodeID(nodeID)
	link.Direction = repo.Direction(direction)
	if t, err := time.Parse(time.RFC3339Nano, syncedAt); err == nil {
		link.SyncedAt = t
	}
	return &link, nil
}

func scanConflict(row rowScanner) (*repo.ConflictRecord, error) {
	var rec repo.ConflictRecord
	var nodeID, detectedAt string
	var resolvedAt sql.NullString
	err := row.Scan(&rec.ID, &rec.ConnectorID, &rec.ExternalID, &nodeID, &rec.State,
		&rec.Local, &rec.Remote, &rec.BaseHash, &detectedAt, &resolvedAt, &rec.Resolution)
	if err != nil {
		return nil, err
	}
	rec.NodeID = graph.NodeID(nodeID)
	if t, err := time.Parse(time.RFC3339Nano, detectedAt); err == nil {
		rec.DetectedAt = t
	}
	rec.ResolvedAt = nullStringToTime(resolvedAt)
	return &rec, nil
}

func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
