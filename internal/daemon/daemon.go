// Package daemon wires the long-running braid process: the shared
// runtime, connector poll loops and the optional dashboard server, torn
// down together on SIGINT/SIGTERM.
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/braidhq/braid/internal/config"
	"github.com/braidhq/braid/internal/dashboard"
	"github.com/braidhq/braid/internal/syncer"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Daemon is the long-running braid process.
type Daemon struct {
	rt     *Runtime
	dash   *dashboard.Server
	logger *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds the daemon from configuration. Logs rotate through
// lumberjack when a log file is configured.
func New(cfg *config.Config) (*Daemon, error) {
	logger := newLogger(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	rt, err := OpenRuntime(ctx, cfg, logger)
	if err != nil {
		cancel()
		return nil, err
	}

	d := &Daemon{
		rt:     rt,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.Dashboard.Enabled {
		d.dash = dashboard.NewServer(&dashboard.Config{
			Port:   cfg.Dashboard.Port,
			Logger: logger,
		})
		d.dash.Bind(rt.Store)
	}
	return d, nil
}

// broadcastPendingConflicts streams the current pending conflict set so
// dashboard clients can surface them for `braid resolve`.
func (d *Daemon) broadcastPendingConflicts() {
	ctx, cancel := context.WithTimeout(d.ctx, 5*time.Second)
	defer cancel()

	pending, err := d.rt.Resolver.Pending(ctx)
	if err != nil {
		d.logger.Printf("Warning: failed to list pending conflicts: %v", err)
		return
	}
	for _, rec := range pending {
		d.dash.BroadcastData(dashboard.MessageTypeConflict, dashboard.ConflictData{
			ConflictID:  rec.ID,
			ConnectorID: rec.ConnectorID,
			NodeID:      string(rec.NodeID),
		})
	}
}

// newLogger builds the daemon logger, rotating through lumberjack when a
// file is configured.
func newLogger(cfg config.LogConfig) *log.Logger {
	if cfg.File == "" {
		return log.New(os.Stderr, "[braid] ", log.LstdFlags)
	}
	return log.New(&lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}, "[braid] ", log.LstdFlags)
}

// Start brings up the dashboard and the connector poll loops.
func (d *Daemon) Start() error {
	if d.dash != nil {
		if err := d.dash.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
		// Store events stream through Bind; sync reports join them here.
		d.rt.Manager.OnReport(func(r syncer.Report) {
			data := dashboard.SyncReportData{
				ConnectorID: r.ConnectorID,
				Outcome:     string(r.Outcome),
				Fetched:     r.Fetched,
				Created:     r.Created,
				Updated:     r.Updated,
				Pushed:      r.Pushed,
				Conflicts:   r.Conflicts,
				Duration:    r.Finished.Sub(r.Started),
			}
			if r.Err != nil {
				data.Error = r.Err.Error()
			}
			d.dash.BroadcastData(dashboard.MessageTypeSyncReport, data)

			if r.Conflicts > 0 {
				d.broadcastPendingConflicts()
			}
		})
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.rt.Manager.Run(d.ctx)
	}()

	d.logger.Printf("Daemon started: %d nodes, %d edges, connectors=%v",
		d.rt.Store.NodeCount(), d.rt.Store.EdgeCount(), d.rt.Manager.IDs())
	return nil
}

// Stop shuts everything down in reverse order of Start.
func (d *Daemon) Stop() error {
	d.logger.Println("Daemon stopping")
	d.cancel()
	d.wg.Wait()

	var firstErr error
	if d.dash != nil {
		if err := d.dash.Stop(); err != nil {
			firstErr = err
		}
	}
	if err := d.rt.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	d.logger.Println("Daemon stopped")
	return firstErr
}

// Run starts the daemon and blocks until SIGINT or SIGTERM.
func (d *Daemon) Run() error {
	if err := d.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.logger.Printf("Received %v", sig)
	case <-d.ctx.Done():
	}
	return d.Stop()
}

// Runtime exposes the wired core, mainly for tests.
func (d *Daemon) Runtime() *Runtime { return d.rt }
