// Package conflict implements detection and resolution of sync
// conflicts: a linked task changed both locally and remotely since the
// last agreed state.
//
// Lifecycle of a conflict record:
//
//	detected -> auto_resolved             (both sides converged on their own)
//	detected -> pending_user -> resolved  (user picks keep-local, keep-remote
//	                                       or supplies a merge)
//
// Records persist through the repository, so pending conflicts survive
// restarts and show up again in `braid resolve`.
package conflict

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/braidhq/braid/internal/connector"
	"github.com/braidhq/braid/internal/graph"
	"github.com/braidhq/braid/internal/repo"
	"github.com/google/uuid"
)

// Conflict record states.
const (
	StateDetected     = "detected"
	StateAutoResolved = "auto_resolved"
	StatePendingUser  = "pending_user"
	StateResolved     = "resolved"
)

// Resolution names the user's decision.
type Resolution string

const (
	KeepLocal  Resolution = "keep_local"
	KeepRemote Resolution = "keep_remote"
	Merge      Resolution = "merge"
)

// Errors returned by resolution operations.
var (
	// ErrNotPending is returned when resolving a conflict that is not
	// awaiting a decision.
	ErrNotPending = errors.New("conflict is not pending")

	// ErrMergeContentRequired is returned when a merge resolution comes
	// without the merged item.
	ErrMergeContentRequired = errors.New("merge resolution requires merged content")
)

// PushFunc writes an item back to the remote side of a connector.
// Supplied by the caller so the resolver stays connector-agnostic.
type PushFunc func(ctx context.Context, externalID string, item connector.Item) (connector.PushReceipt, error)

// Resolver records divergence and applies decisions.
type Resolver struct {
	store  *graph.Store
	repo   repo.Repository
	logger *log.Logger
}

// New creates a resolver. If logger is nil, a default logger writing to
// stderr is used.
func New(store *graph.Store, repository repo.Repository, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.New(os.Stderr, "[conflict] ", log.LstdFlags)
	}
	return &Resolver{store: store, repo: repository, logger: logger}
}

// Detect records that local and remote diverged from the link's base
// hash. If both sides independently arrived at identical content the
// record auto-resolves on the spot and the link is re-based; otherwise it
// parks as pending_user.
func (r *Resolver) Detect(ctx context.Context, link repo.ExternalLink, local, remote connector.Item) (*repo.ConflictRecord, error) {
	localJSON, err := json.Marshal(local)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal local item: %w", err)
	}
	remoteJSON, err := json.Marshal(remote)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal remote item: %w", err)
	}

	rec := &repo.ConflictRecord{
		ID:          uuid.Must(uuid.NewV7()).String(),
		ConnectorID: link.ConnectorID,
		ExternalID:  link.ExternalID,
		NodeID:      link.NodeID,
		State:       StatePendingUser,
		Local:       string(localJSON),
		Remote:      string(remoteJSON),
		BaseHash:    link.ContentHash,
		DetectedAt:  time.Now().UTC(),
	}

	if local.Hash() == remote.Hash() {
		now := rec.DetectedAt
		rec.State = StateAutoResolved
		rec.ResolvedAt = &now
		rec.Resolution = string(KeepLocal)

		link.ContentHash = local.Hash()
		link.SyncedAt = now
		if err := r.repo.PutExternalLink(ctx, &link); err != nil {
			return nil, fmt.Errorf("failed to re-base link: %w", err)
		}
		r.logger.Printf("Auto-resolved conflict on %s/%s: both sides identical",
			link.ConnectorID, link.ExternalID)
	} else {
		r.logger.Printf("Conflict on %s/%s awaiting user decision",
			link.ConnectorID, link.ExternalID)
	}

	if err := r.repo.PutConflict(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to persist conflict: %w", err)
	}
	return rec, nil
}

// Pending returns conflicts awaiting a user decision, oldest first.
func (r *Resolver) Pending(ctx context.Context) ([]*repo.ConflictRecord, error) {
	return r.repo.ListConflicts(ctx, StatePendingUser)
}

// Decision is the user's answer to a pending conflict.
type Decision struct {
	Resolution Resolution

	// Merged carries the combined item for Resolution == Merge.
	Merged *connector.Item
}

// Resolve applies a decision to a pending conflict: the winning content
// lands on the local node, is pushed to the remote, and the link is
// re-based so the next sync sees both sides agreed.
func (r *Resolver) Resolve(ctx context.Context, conflictID string, dec Decision, push PushFunc) error {
	rec, err := r.repo.GetConflict(ctx, conflictID)
	if err != nil {
		return err
	}
	if rec.State != StatePendingUser && rec.State != StateDetected {
		return fmt.Errorf("conflict %s in state %s: %w", rec.ID, rec.State, ErrNotPending)
	}

	var winner connector.Item
	switch dec.Resolution {
	case KeepLocal:
		if err := json.Unmarshal([]byte(rec.Local), &winner); err != nil {
			return fmt.Errorf("failed to unmarshal local content: %w", err)
		}
	case KeepRemote:
		if err := json.Unmarshal([]byte(rec.Remote), &winner); err != nil {
			return fmt.Errorf("failed to unmarshal remote content: %w", err)
		}
	case Merge:
		if dec.Merged == nil {
			return ErrMergeContentRequired
		}
		winner = *dec.Merged
	default:
		return fmt.Errorf("unknown resolution %q", dec.Resolution)
	}

	// Remote wins or merge: write the content onto the local node.
	if dec.Resolution != KeepLocal {
		if err := r.applyToNode(ctx, rec.NodeID, winner); err != nil {
			return err
		}
	}

	// Local wins or merge: push the content to the remote. The re-base
	// uses the hash the remote reports, falling back to the winner's own.
	baseHash := winner.Hash()
	if dec.Resolution != KeepRemote && push != nil {
		receipt, err := push(ctx, rec.ExternalID, winner)
		if err != nil {
			return fmt.Errorf("failed to push resolution to %s: %w", rec.ConnectorID, err)
		}
		if receipt.ContentHash != "" {
			baseHash = receipt.ContentHash
		}
	}

	now := time.Now().UTC()
	link := repo.ExternalLink{
		ConnectorID: rec.ConnectorID,
		ExternalID:  rec.ExternalID,
		NodeID:      rec.NodeID,
		ContentHash: baseHash,
		SyncedAt:    now,
	}
	if prev, err := r.repo.GetExternalLink(ctx, rec.ConnectorID, rec.ExternalID); err == nil {
		link.Direction = prev.Direction
	}
	if err := r.repo.PutExternalLink(ctx, &link); err != nil {
		return fmt.Errorf("failed to re-base link: %w", err)
	}

	rec.State = StateResolved
	rec.Resolution = string(dec.Resolution)
	rec.ResolvedAt = &now
	if err := r.repo.PutConflict(ctx, rec); err != nil {
		return fmt.Errorf("failed to persist resolution: %w", err)
	}

	r.logger.Printf("Resolved conflict %s on %s/%s: %s",
		rec.ID, rec.ConnectorID, rec.ExternalID, dec.Resolution)
	return nil
}

// applyToNode writes an item's content onto the node, in memory and in
// the repository.
func (r *Resolver) applyToNode(ctx context.Context, id graph.NodeID, item connector.Item) error {
	node, err := r.store.GetNode(id)
	if err != nil {
		return err
	}
	if err := r.store.UpdateNode(id, node.Revision, func(n *graph.Node) {
		item.ApplyToNode(n)
	}); err != nil {
		return err
	}
	// Completion only lands on leaves; composites derive it.
	if err := r.store.SetCompletion(id, item.EffectiveCompletion()); err != nil &&
		!errors.Is(err, graph.ErrNotALeaf) {
		return err
	}

	updated, err := r.store.GetNode(id)
	if err != nil {
		return err
	}
	if err := r.repo.PutNode(ctx, updated); err != nil {
		return fmt.Errorf("failed to persist node %s: %w", id, err)
	}
	return nil
}
