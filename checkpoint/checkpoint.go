// Package checkpoint defines the persisted snapshot that enables phase
// graph suspension and resumption, its status machine, and the store
// interface that guarantees at most one Active checkpoint per
// (work item, graph) pair.
package checkpoint

import (
	"fmt"
	"time"

	prfactory "github.com/mikaelliljedahl/PRFactory-sub003"
	"github.com/mikaelliljedahl/PRFactory-sub003/id"
)

// Status is the lifecycle status of a checkpoint. Status changes go
// through the MarkAs* methods so invalid combinations are unrepresentable.
type Status string

const (
	// StatusActive means this is the single resumable checkpoint for its
	// (work item, graph) pair.
	StatusActive Status = "active"
	// StatusResumed means execution has continued from this checkpoint.
	StatusResumed Status = "resumed"
	// StatusExpired means the retention sweep aged this checkpoint out.
	StatusExpired Status = "expired"
	// StatusDeleted means the checkpoint was soft-deleted on demand.
	// The row remains queryable for audit.
	StatusDeleted Status = "deleted"
)

// Checkpoint is a snapshot of graph-local state at a suspension or step
// boundary. TenantID is carried redundantly on the row itself (not
// inferred through a join) so tenant-isolation queries are index-only.
type Checkpoint struct {
	prfactory.Entity

	ID         id.CheckpointID `json:"id"`
	TenantID   string          `json:"tenant_id"`
	WorkItemID id.WorkItemID   `json:"work_item_id"`
	GraphID    string          `json:"graph_id"`
	Label      string          `json:"label"`
	StateJSON  []byte          `json:"state_json"`
	NextStep   string          `json:"next_step"`
	Status     Status          `json:"status"`
	ResumedAt  *time.Time      `json:"resumed_at,omitempty"`
}

// New creates an Active checkpoint for the given work item and graph.
func New(tenantID string, workItemID id.WorkItemID, graphID, label string, stateJSON []byte, nextStep string) *Checkpoint {
	return &Checkpoint{
		Entity:     prfactory.NewEntity(),
		ID:         id.NewCheckpointID(),
		TenantID:   tenantID,
		WorkItemID: workItemID,
		GraphID:    graphID,
		Label:      label,
		StateJSON:  stateJSON,
		NextStep:   nextStep,
		Status:     StatusActive,
	}
}

// MarkAsResumed transitions Active → Resumed and records the resume time.
func (c *Checkpoint) MarkAsResumed() error {
	if c.Status != StatusActive {
		return fmt.Errorf("%w: %s → resumed", prfactory.ErrInvalidStatus, c.Status)
	}
	now := time.Now().UTC()
	c.Status = StatusResumed
	c.ResumedAt = &now
	c.Touch()
	return nil
}

// MarkAsExpired transitions Active → Expired. Only Active checkpoints
// expire; calling this on any other status is rejected, which makes the
// retention sweep idempotent.
func (c *Checkpoint) MarkAsExpired() error {
	if c.Status != StatusActive {
		return fmt.Errorf("%w: %s → expired", prfactory.ErrInvalidStatus, c.Status)
	}
	c.Status = StatusExpired
	c.Touch()
	return nil
}

// MarkAsDeleted soft-deletes the checkpoint from any non-deleted status.
func (c *Checkpoint) MarkAsDeleted() error {
	if c.Status == StatusDeleted {
		return fmt.Errorf("%w: already deleted", prfactory.ErrInvalidStatus)
	}
	c.Status = StatusDeleted
	c.Touch()
	return nil
}

// IsActive reports whether this is the resumable checkpoint for its pair.
func (c *Checkpoint) IsActive() bool { return c.Status == StatusActive }
