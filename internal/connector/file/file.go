// Package file implements the drop-directory connector.
//
// Each remote item is one JSON file in the configured directory, named
// <external_id>.json and holding a connector.Item. Edits land however the
// user likes (editor, scripts, a synced folder); an fsnotify watcher
// keeps a debounced change queue so FetchChanges answers from memory
// instead of rescanning the directory every poll.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/braidhq/braid/internal/connector"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

func init() {
	connector.Register(connector.TypeFile, func(cfg connector.Config) (connector.Connector, error) {
		return New(cfg)
	})
}

// DefaultDebounce is how long a file must sit quiet before its change is
// reported. Editors write in bursts.
const DefaultDebounce = 500 * time.Millisecond

// Dropdir is a connector over a local directory of JSON item files.
type Dropdir struct {
	id  string
	dir string

	watcher *fsnotify.Watcher
	logger  *log.Logger

	mu      sync.Mutex
	changed map[string]time.Time // external id -> last event time
	removed map[string]time.Time
	pushed  map[string]time.Time // recent own writes, suppressed in the queue

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates the connector from its configuration block. The "dir"
// setting is required and is created if absent.
func New(cfg connector.Config) (*Dropdir, error) {
	dir := cfg.Settings["dir"]
	if dir == "" {
		return nil, fmt.Errorf("connector %s: setting %q is required", cfg.ID, "dir")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create drop directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	d := &Dropdir{
		id:      cfg.ID,
		dir:     dir,
		watcher: watcher,
		logger:  log.New(os.Stderr, "[dropdir] ", log.LstdFlags),
		changed: make(map[string]time.Time),
		removed: make(map[string]time.Time),
		pushed:  make(map[string]time.Time),
		done:    make(chan struct{}),
	}
	d.wg.Add(1)
	go d.watchEvents()
	return d, nil
}

// ID returns the configured connector id.
func (d *Dropdir) ID() string { return d.id }

func (d *Dropdir) watchEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.done:
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".json" {
				continue
			}
			id := strings.TrimSuffix(filepath.Base(event.Name), ".json")

			d.mu.Lock()
			if at, ok := d.pushed[id]; ok && time.Since(at) < 2*DefaultDebounce {
				// Our own Push; don't echo it back as a remote change.
				d.mu.Unlock()
				continue
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				delete(d.changed, id)
				d.removed[id] = time.Now()
			} else {
				delete(d.removed, id)
				d.changed[id] = time.Now()
			}
			d.mu.Unlock()

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Printf("Watcher error: %v", err)
		}
	}
}

// FetchChanges reports items changed since the given time. A zero since
// performs a full directory scan; later calls answer from the debounced
// event queue.
func (d *Dropdir) FetchChanges(ctx context.Context, since time.Time) ([]connector.RemoteChange, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if since.IsZero() {
		return d.scanAll()
	}

	cutoff := time.Now().Add(-DefaultDebounce)

	d.mu.Lock()
	// Push markers past their suppression window are spent; drop them so
	// the map stays bounded over a long daemon run.
	for id, at := range d.pushed {
		if time.Since(at) >= 2*DefaultDebounce {
			delete(d.pushed, id)
		}
	}
	var ids, removedIDs []string
	for id, at := range d.changed {
		if at.Before(cutoff) {
			ids = append(ids, id)
			delete(d.changed, id)
		}
	}
	for id, at := range d.removed {
		if at.Before(cutoff) {
			removedIDs = append(removedIDs, id)
			delete(d.removed, id)
		}
	}
	d.mu.Unlock()

	changes := make([]connector.RemoteChange, 0, len(ids)+len(removedIDs))
	for _, id := range ids {
		change, err := d.readItem(id)
		if err != nil {
			// File raced away between event and read; report as removed.
			if os.IsNotExist(err) {
				changes = append(changes, connector.RemoteChange{ExternalID: id, Deleted: true})
				continue
			}
			d.logger.Printf("Warning: skipping unreadable item %s: %v", id, err)
			continue
		}
		changes = append(changes, change)
	}
	for _, id := range removedIDs {
		changes = append(changes, connector.RemoteChange{ExternalID: id, Deleted: true})
	}
	return changes, nil
}

func (d *Dropdir) scanAll() ([]connector.RemoteChange, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err, connector.ErrUnavailable)
	}

	var changes []connector.RemoteChange
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		change, err := d.readItem(id)
		if err != nil {
			d.logger.Printf("Warning: skipping unreadable item %s: %v", id, err)
			continue
		}
		changes = append(changes, change)
	}
	return changes, nil
}

func (d *Dropdir) readItem(id string) (connector.RemoteChange, error) {
	path := filepath.Join(d.dir, id+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return connector.RemoteChange{}, err
	}
	var item connector.Item
	if err := json.Unmarshal(data, &item); err != nil {
		return connector.RemoteChange{}, fmt.Errorf("invalid item file %s: %w: %w",
			path, err, connector.ErrRejected)
	}
	change := connector.RemoteChange{ExternalID: id, Item: item}
	if info, err := os.Stat(path); err == nil {
		change.ChangedAt = info.ModTime()
	}
	return change, nil
}

// Push writes the item file atomically (temp file + rename). An empty
// externalID allocates a fresh id. Files store the item verbatim, so the
// receipt hash is the item's own.
func (d *Dropdir) Push(ctx context.Context, externalID string, item connector.Item) (connector.PushReceipt, error) {
	if err := ctx.Err(); err != nil {
		return connector.PushReceipt{}, err
	}
	if externalID == "" {
		externalID = uuid.Must(uuid.NewV7()).String()
	}
	if strings.ContainsAny(externalID, "/\\") {
		return connector.PushReceipt{}, fmt.Errorf("invalid external id %q: %w", externalID, connector.ErrRejected)
	}

	data, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return connector.PushReceipt{}, fmt.Errorf("failed to marshal item: %w", err)
	}

	tmp, err := os.CreateTemp(d.dir, ".push-*")
	if err != nil {
		return connector.PushReceipt{}, fmt.Errorf("%s: %w", err, connector.ErrUnavailable)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return connector.PushReceipt{}, fmt.Errorf("failed to write item: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return connector.PushReceipt{}, fmt.Errorf("failed to close item file: %w", err)
	}

	// Mark before the rename so the watcher event, whenever it lands,
	// is recognized as our own write and not echoed back.
	d.mu.Lock()
	d.pushed[externalID] = time.Now()
	delete(d.changed, externalID)
	delete(d.removed, externalID)
	d.mu.Unlock()

	final := filepath.Join(d.dir, externalID+".json")
	if err := os.Rename(tmpPath, final); err != nil {
		_ = os.Remove(tmpPath)
		return connector.PushReceipt{}, fmt.Errorf("failed to place item file: %w", err)
	}

	return connector.PushReceipt{ExternalID: externalID, ContentHash: item.Hash()}, nil
}

// Close stops the watcher.
func (d *Dropdir) Close() error {
	close(d.done)
	err := d.watcher.Close()
	d.wg.Wait()
	return err
}
