package checkpoint

import (
	"context"
	"time"

	"github.com/mikaelliljedahl/PRFactory-sub003/id"
)

// Store defines the persistence contract for checkpoints. Tenant identity
// is an explicit parameter on every read — never ambient context.
type Store interface {
	// SaveCheckpoint persists a checkpoint. If an Active checkpoint
	// already exists for (WorkItemID, GraphID), that row is overwritten in
	// place (new label, state, next step, refreshed UpdatedAt) and the
	// persisted record is returned. The upsert is atomic: the store must
	// never hold two Active rows for the same pair, even under concurrent
	// saves. StateJSON round-trips byte-for-byte.
	SaveCheckpoint(ctx context.Context, c *Checkpoint) (*Checkpoint, error)

	// GetLatestCheckpoint returns the single Active checkpoint for the
	// pair, or prfactory.ErrCheckpointNotFound. Resumed, Expired, and
	// Deleted rows are never visible here.
	GetLatestCheckpoint(ctx context.Context, tenantID string, workItemID id.WorkItemID, graphID string) (*Checkpoint, error)

	// MarkCheckpointResumed transitions the checkpoint to Resumed and sets
	// ResumedAt. Missing or non-Active checkpoints are a logged-warning
	// no-op for the caller: the store returns ErrCheckpointNotFound and
	// the caller decides whether that is fatal.
	MarkCheckpointResumed(ctx context.Context, checkpointID id.CheckpointID) error

	// ExpireCheckpoints bulk-transitions Active checkpoints created before
	// the cutoff to Expired and returns the number of rows affected. Only
	// Active rows are touched, so a repeated call with the same cutoff
	// affects zero rows.
	ExpireCheckpoints(ctx context.Context, olderThan time.Time) (int64, error)

	// DeleteCheckpoint soft-deletes a checkpoint (status change, never a
	// physical row removal — history must remain queryable for audit).
	DeleteCheckpoint(ctx context.Context, checkpointID id.CheckpointID) error

	// CheckpointHistory returns all checkpoints (any status) for a work
	// item, newest first, optionally filtered by graph. For audit and
	// debugging, not for resumption logic.
	CheckpointHistory(ctx context.Context, tenantID string, workItemID id.WorkItemID, graphID string) ([]*Checkpoint, error)
}
