package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/braidhq/braid/internal/config"
	"github.com/braidhq/braid/internal/conflict"
	"github.com/braidhq/braid/internal/connector"
	"github.com/braidhq/braid/internal/dimension"
	"github.com/braidhq/braid/internal/graph"
	"github.com/braidhq/braid/internal/repo"
	"github.com/braidhq/braid/internal/syncer"

	// Registered backends and connector types.
	_ "github.com/braidhq/braid/internal/connector/file"
	_ "github.com/braidhq/braid/internal/repo/libsql"
	_ "github.com/braidhq/braid/internal/repo/sqlite"
)

// Runtime is the wired core every entry point shares: the in-memory
// graph, its repository with write-through persistence, the dimension
// index, the goal catalog and the sync machinery. CLI commands open one,
// run an operation and close it; the daemon keeps one alive.
type Runtime struct {
	Cfg      *config.Config
	Store    *graph.Store
	Repo     repo.Repository
	Index    *dimension.Index
	Goals    *dimension.Catalog
	Resolver *conflict.Resolver
	Manager  *syncer.Manager

	logger *log.Logger
}

// OpenRuntime builds the runtime: opens the repository, loads the graph,
// validates it, binds the dimension index and write-through persistence,
// and assembles connectors from connectors.toml.
func OpenRuntime(ctx context.Context, cfg *config.Config, logger *log.Logger) (*Runtime, error) {
	if logger == nil {
		logger = log.Default()
	}

	repository, err := repo.Open(cfg.Repo)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}
	if err := repository.Init(ctx); err != nil {
		_ = repository.Close()
		return nil, fmt.Errorf("failed to init repository: %w", err)
	}

	store := graph.NewStore(nil)
	if err := loadGraph(ctx, store, repository); err != nil {
		_ = repository.Close()
		return nil, err
	}

	index := dimension.New()
	index.Rebuild(store.Views())
	index.Bind(store)

	goals, err := dimension.LoadCatalog(cfg.GoalsFile)
	if err != nil {
		_ = repository.Close()
		return nil, fmt.Errorf("failed to load goal catalog: %w", err)
	}

	rt := &Runtime{
		Cfg:      cfg,
		Store:    store,
		Repo:     repository,
		Index:    index,
		Goals:    goals,
		Resolver: conflict.New(store, repository, logger),
		logger:   logger,
	}
	rt.bindPersistence()

	rt.Manager = syncer.New(store, repository, rt.Resolver, &syncer.Options{
		MaxAttempts: cfg.Sync.MaxAttempts,
		BaseBackoff: cfg.Sync.BaseBackoff,
		CallTimeout: cfg.Sync.CallTimeout,
		Logger:      logger,
	})
	if err := rt.addConnectors(); err != nil {
		_ = repository.Close()
		return nil, err
	}
	return rt, nil
}

// loadGraph cold-starts the in-memory graph from the repository. Load
// validates the whole edge set and recomputes every rollup.
func loadGraph(ctx context.Context, store *graph.Store, repository repo.Repository) error {
	nodes, err := repository.ListNodes(ctx)
	if err != nil {
		return fmt.Errorf("failed to load nodes: %w", err)
	}
	edges, err := repository.ListEdges(ctx)
	if err != nil {
		return fmt.Errorf("failed to load edges: %w", err)
	}
	if err := store.Load(nodes, edges); err != nil {
		return fmt.Errorf("failed to load graph: %w", err)
	}
	return nil
}

// bindPersistence subscribes a write-through persister: every committed
// graph mutation lands in the repository. Progress events are derived
// state and deliberately not persisted.
func (rt *Runtime) bindPersistence() {
	rt.Store.Subscribe(func(ev graph.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var err error
		switch ev.Type {
		case graph.EventNodeCreated, graph.EventNodeUpdated,
			graph.EventNodeArchived, graph.EventNodeRestored:
			var node *graph.Node
			if node, err = rt.Store.GetNode(ev.Node); err == nil {
				err = rt.Repo.PutNode(ctx, node)
			}
		case graph.EventNodeDeleted:
			err = rt.Repo.DeleteNode(ctx, ev.Node)
		case graph.EventEdgeCreated:
			if edge, ok := rt.Store.GetEdge(ev.Parent, ev.Child); ok {
				err = rt.Repo.PutEdge(ctx, edge)
			}
		case graph.EventEdgeRemoved:
			err = rt.Repo.DeleteEdge(ctx, ev.Parent, ev.Child)
		default:
			return
		}
		if err != nil && !errors.Is(err, graph.ErrNodeNotFound) {
			rt.logger.Printf("Warning: failed to persist %s: %v", ev.Type, err)
		}
	})
}

// addConnectors assembles every connector from connectors.toml and hands
// it to the sync manager.
func (rt *Runtime) addConnectors() error {
	file, err := connector.LoadFile(rt.Cfg.ConnectorsFile)
	if err != nil {
		return err
	}
	for _, cc := range file.Connectors {
		conn, err := connector.New(cc)
		if err != nil {
			return fmt.Errorf("failed to build connector %s: %w", cc.ID, err)
		}
		if err := rt.Manager.Add(conn, cc); err != nil {
			_ = conn.Close()
			return err
		}
	}
	return nil
}

// DeleteNode hard-deletes a task from memory and storage. The repository
// goes first: it refuses while edges or external links still reference
// the node, so a rejected delete leaves both sides untouched instead of
// diverging until the next restart.
func (rt *Runtime) DeleteNode(ctx context.Context, id graph.NodeID) error {
	if _, err := rt.Store.GetNode(id); err != nil {
		return err
	}
	if err := rt.Repo.DeleteNode(ctx, id); err != nil {
		return err
	}
	return rt.Store.DeleteNode(id)
}

// Close releases connectors and the repository.
func (rt *Runtime) Close() error {
	var firstErr error
	if err := rt.Manager.Close(); err != nil {
		firstErr = err
	}
	if err := rt.Repo.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
