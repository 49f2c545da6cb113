// Package libsql provides the libSQL embedded-replica repository backend.
//
// Reads and writes hit a local replica file; the replica syncs with a
// remote primary (Turso or self-hosted sqld). The statement layer is
// shared with internal/repo/sqlite since libSQL speaks the same dialect.
package libsql

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/braidhq/braid/internal/repo"
	"github.com/braidhq/braid/internal/repo/sqlite"
	golibsql "github.com/tursodatabase/go-libsql"
)

func init() {
	repo.Register(repo.KindLibSQL, func(cfg repo.Config) (repo.Repository, error) {
		return Open(cfg)
	})
}

// DefaultSyncInterval is the background replica sync cadence.
const DefaultSyncInterval = 60 * time.Second

// Store wraps the shared SQLite statement layer around an embedded
// replica connection.
type Store struct {
	*sqlite.Store
	connector *golibsql.Connector
	db        *sql.DB
}

// Open creates or opens the embedded replica at cfg.Path, syncing with
// the primary at cfg.URL.
func Open(cfg repo.Config) (*Store, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("libsql backend requires a primary url")
	}
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	opts := []golibsql.Option{
		golibsql.WithSyncInterval(DefaultSyncInterval),
	}
	if cfg.AuthToken != "" {
		opts = append(opts, golibsql.WithAuthToken(cfg.AuthToken))
	}

	connector, err := golibsql.NewEmbeddedReplicaConnector(cfg.Path, cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded replica: %w", err)
	}

	db := sql.OpenDB(connector)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		_ = connector.Close()
		return nil, fmt.Errorf("failed to ping replica: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Store{
		Store:     sqlite.NewWithDB(db),
		connector: connector,
		db:        db,
	}, nil
}

// Sync forces an immediate replica sync with the primary, outside the
// background cadence. Used by `braid sync --pull` and daemon shutdown.
func (s *Store) Sync(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		_, err := s.connector.Sync()
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("replica sync failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close syncs a final time, then releases the replica.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if _, err := s.connector.Sync(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: final replica sync failed: %v\n", err)
	}
	dbErr := s.db.Close()
	connErr := s.connector.Close()
	s.db = nil
	if dbErr != nil {
		return fmt.Errorf("failed to close replica: %w", dbErr)
	}
	if connErr != nil {
		return fmt.Errorf("failed to close connector: %w", connErr)
	}
	return nil
}
