package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	prfactory "github.com/mikaelliljedahl/PRFactory-sub003"
	"github.com/mikaelliljedahl/PRFactory-sub003/checkpoint"
	"github.com/mikaelliljedahl/PRFactory-sub003/id"
)

const checkpointColumns = `id, tenant_id, work_item_id, graph_id, label, state_json,
	next_step, status, resumed_at, created_at, updated_at`

// SaveCheckpoint persists a checkpoint. The partial unique index on
// (work_item_id, graph_id) WHERE status = 'active' makes the upsert
// atomic: a concurrent save lands on the same row, and the existing
// row keeps its ID while taking the new label, state, and next step.
func (s *Store) SaveCheckpoint(ctx context.Context, c *checkpoint.Checkpoint) (*checkpoint.Checkpoint, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO prfactory_checkpoints
			(id, tenant_id, work_item_id, graph_id, label, state_json,
			 next_step, status, resumed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (work_item_id, graph_id) WHERE status = 'active'
		DO UPDATE SET
			label      = EXCLUDED.label,
			state_json = EXCLUDED.state_json,
			next_step  = EXCLUDED.next_step,
			updated_at = EXCLUDED.updated_at
		RETURNING `+checkpointColumns,
		c.ID, c.TenantID, c.WorkItemID, c.GraphID, c.Label, c.StateJSON,
		c.NextStep, string(c.Status), c.ResumedAt, c.CreatedAt, c.UpdatedAt,
	)
	saved, err := scanCheckpoint(row)
	if err != nil {
		return nil, fmt.Errorf("prfactory/postgres: save checkpoint: %w", err)
	}
	return saved, nil
}

// GetLatestCheckpoint returns the single active checkpoint for the pair.
func (s *Store) GetLatestCheckpoint(ctx context.Context, tenantID string, workItemID id.WorkItemID, graphID string) (*checkpoint.Checkpoint, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+checkpointColumns+`
		FROM prfactory_checkpoints
		WHERE tenant_id = $1 AND work_item_id = $2 AND graph_id = $3
			AND status = 'active'`,
		tenantID, workItemID, graphID,
	)
	c, err := scanCheckpoint(row)
	if err != nil {
		if isNoRows(err) {
			return nil, prfactory.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("prfactory/postgres: get latest checkpoint: %w", err)
	}
	return c, nil
}

// MarkCheckpointResumed transitions an active checkpoint to resumed.
func (s *Store) MarkCheckpointResumed(ctx context.Context, checkpointID id.CheckpointID) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE prfactory_checkpoints
		SET status = 'resumed', resumed_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'active'`,
		checkpointID, now,
	)
	if err != nil {
		return fmt.Errorf("prfactory/postgres: mark checkpoint resumed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return prfactory.ErrCheckpointNotFound
	}
	return nil
}

// ExpireCheckpoints bulk-transitions active checkpoints created before
// the cutoff to expired. Only active rows are touched, so repeating the
// call with the same cutoff affects zero rows.
func (s *Store) ExpireCheckpoints(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE prfactory_checkpoints
		SET status = 'expired', updated_at = NOW()
		WHERE status = 'active' AND created_at < $1`,
		olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("prfactory/postgres: expire checkpoints: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteCheckpoint soft-deletes a checkpoint. The row stays queryable
// through CheckpointHistory for audit.
func (s *Store) DeleteCheckpoint(ctx context.Context, checkpointID id.CheckpointID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE prfactory_checkpoints
		SET status = 'deleted', updated_at = NOW()
		WHERE id = $1 AND status != 'deleted'`,
		checkpointID,
	)
	if err != nil {
		return fmt.Errorf("prfactory/postgres: delete checkpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return prfactory.ErrCheckpointNotFound
	}
	return nil
}

// CheckpointHistory returns all checkpoints for a work item, newest
// first, optionally filtered by graph.
func (s *Store) CheckpointHistory(ctx context.Context, tenantID string, workItemID id.WorkItemID, graphID string) ([]*checkpoint.Checkpoint, error) {
	query := `
		SELECT ` + checkpointColumns + `
		FROM prfactory_checkpoints
		WHERE tenant_id = $1 AND work_item_id = $2`
	args := []any{tenantID, workItemID}
	if graphID != "" {
		args = append(args, graphID)
		query += ` AND graph_id = $3`
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("prfactory/postgres: checkpoint history: %w", err)
	}
	defer rows.Close()

	ckpts := make([]*checkpoint.Checkpoint, 0)
	for rows.Next() {
		c, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("prfactory/postgres: scan checkpoint: %w", err)
		}
		ckpts = append(ckpts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("prfactory/postgres: checkpoint history: %w", err)
	}
	return ckpts, nil
}

func scanCheckpoint(row pgx.Row) (*checkpoint.Checkpoint, error) {
	var (
		c      checkpoint.Checkpoint
		status string
	)
	err := row.Scan(
		&c.ID, &c.TenantID, &c.WorkItemID, &c.GraphID, &c.Label, &c.StateJSON,
		&c.NextStep, &status, &c.ResumedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Status = checkpoint.Status(status)
	return &c, nil
}
