package postgres

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"

	prfactory "github.com/mikaelliljedahl/PRFactory-sub003"
	"github.com/mikaelliljedahl/PRFactory-sub003/id"
	"github.com/mikaelliljedahl/PRFactory-sub003/item"
	"github.com/mikaelliljedahl/PRFactory-sub003/state"
)

const workItemColumns = `id, tenant_id, external_key, phase, retry_count, last_error,
	archived, archived_at, created_at, updated_at`

// CreateWorkItem persists a new work item. A second non-archived item
// with the same (tenant, external key) violates the partial unique index
// and maps to ErrWorkItemExists.
func (s *Store) CreateWorkItem(ctx context.Context, w *item.WorkItem) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO prfactory_work_items
			(id, tenant_id, external_key, phase, retry_count, last_error,
			 archived, archived_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		w.ID, w.TenantID, w.ExternalKey, string(w.Phase), w.RetryCount, w.LastError,
		w.Archived, w.ArchivedAt, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("prfactory/postgres: create work item %s: %w", w.ExternalKey, prfactory.ErrWorkItemExists)
		}
		return fmt.Errorf("prfactory/postgres: create work item: %w", err)
	}
	return nil
}

// GetWorkItem retrieves a work item by ID within a tenant.
func (s *Store) GetWorkItem(ctx context.Context, tenantID string, itemID id.WorkItemID) (*item.WorkItem, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+workItemColumns+`
		FROM prfactory_work_items
		WHERE tenant_id = $1 AND id = $2`,
		tenantID, itemID,
	)
	w, err := scanWorkItem(row)
	if err != nil {
		if isNoRows(err) {
			return nil, prfactory.ErrWorkItemNotFound
		}
		return nil, fmt.Errorf("prfactory/postgres: get work item: %w", err)
	}
	return w, nil
}

// GetWorkItemByExternalKey retrieves a non-archived work item by its
// external reference key within a tenant.
func (s *Store) GetWorkItemByExternalKey(ctx context.Context, tenantID, externalKey string) (*item.WorkItem, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+workItemColumns+`
		FROM prfactory_work_items
		WHERE tenant_id = $1 AND external_key = $2 AND archived = FALSE`,
		tenantID, externalKey,
	)
	w, err := scanWorkItem(row)
	if err != nil {
		if isNoRows(err) {
			return nil, prfactory.ErrWorkItemNotFound
		}
		return nil, fmt.Errorf("prfactory/postgres: get work item by key: %w", err)
	}
	return w, nil
}

// UpdateWorkItem persists changes to a work item. The stored phase is
// read under a row lock and the new phase must be the same phase or one
// of its legal successors, so an illegal phase can never be persisted
// whatever code path produced it.
func (s *Store) UpdateWorkItem(ctx context.Context, w *item.WorkItem) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("prfactory/postgres: begin update: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var current string
	err = tx.QueryRow(ctx, `
		SELECT phase FROM prfactory_work_items
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE`,
		w.TenantID, w.ID,
	).Scan(&current)
	if err != nil {
		if isNoRows(err) {
			return prfactory.ErrWorkItemNotFound
		}
		return fmt.Errorf("prfactory/postgres: lock work item: %w", err)
	}

	if state.Phase(current) != w.Phase {
		if err := state.Transition(state.Phase(current), w.Phase); err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE prfactory_work_items
		SET phase = $3, retry_count = $4, last_error = $5,
			archived = $6, archived_at = $7, updated_at = $8
		WHERE tenant_id = $1 AND id = $2`,
		w.TenantID, w.ID,
		string(w.Phase), w.RetryCount, w.LastError,
		w.Archived, w.ArchivedAt, w.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("prfactory/postgres: update work item: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("prfactory/postgres: commit update: %w", err)
	}
	return nil
}

// ListWorkItems returns a tenant's work items matching the options,
// newest first.
func (s *Store) ListWorkItems(ctx context.Context, tenantID string, opts item.ListOpts) ([]*item.WorkItem, error) {
	query := `
		SELECT ` + workItemColumns + `
		FROM prfactory_work_items
		WHERE tenant_id = $1`
	args := []any{tenantID}

	if !opts.IncludeArchived {
		query += ` AND archived = FALSE`
	}
	if opts.Phase != "" {
		args = append(args, string(opts.Phase))
		query += ` AND phase = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("prfactory/postgres: list work items: %w", err)
	}
	defer rows.Close()

	items := make([]*item.WorkItem, 0)
	for rows.Next() {
		w, err := scanWorkItem(rows)
		if err != nil {
			return nil, fmt.Errorf("prfactory/postgres: scan work item: %w", err)
		}
		items = append(items, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("prfactory/postgres: list work items: %w", err)
	}
	return items, nil
}

func scanWorkItem(row pgx.Row) (*item.WorkItem, error) {
	var (
		w     item.WorkItem
		phase string
	)
	err := row.Scan(
		&w.ID, &w.TenantID, &w.ExternalKey, &phase, &w.RetryCount, &w.LastError,
		&w.Archived, &w.ArchivedAt, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	w.Phase = state.Phase(phase)
	return &w, nil
}
