package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	prfactory "github.com/mikaelliljedahl/PRFactory-sub003"
	"github.com/mikaelliljedahl/PRFactory-sub003/id"
	"github.com/mikaelliljedahl/PRFactory-sub003/queue"
)

const requestColumns = `id, tenant_id, work_item_id, graph_id, kind, payload,
	state, attempt, run_at, claimed_by, claimed_at, completed_at, last_error,
	created_at, updated_at`

// EnqueueRequest persists a new pending request. A second open request
// for the same work item violates the partial unique index and maps to
// ErrPendingRequest.
func (s *Store) EnqueueRequest(ctx context.Context, r *queue.Request) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO prfactory_requests
			(id, tenant_id, work_item_id, graph_id, kind, payload,
			 state, attempt, run_at, claimed_by, claimed_at, completed_at,
			 last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		r.ID, r.TenantID, r.WorkItemID, r.GraphID, string(r.Kind), r.Payload,
		string(r.State), r.Attempt, r.RunAt, claimedByValue(r.ClaimedBy), r.ClaimedAt, r.CompletedAt,
		r.LastError, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("prfactory/postgres: enqueue for %s: %w", r.WorkItemID, prfactory.ErrPendingRequest)
		}
		return fmt.Errorf("prfactory/postgres: enqueue request: %w", err)
	}
	return nil
}

// GetRequest retrieves a request by ID within a tenant.
func (s *Store) GetRequest(ctx context.Context, tenantID string, requestID id.RequestID) (*queue.Request, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+requestColumns+`
		FROM prfactory_requests
		WHERE tenant_id = $1 AND id = $2`,
		tenantID, requestID,
	)
	r, err := scanRequest(row)
	if err != nil {
		if isNoRows(err) {
			return nil, prfactory.ErrRequestNotFound
		}
		return nil, fmt.Errorf("prfactory/postgres: get request: %w", err)
	}
	return r, nil
}

// PollPending atomically claims up to limit due start requests.
func (s *Store) PollPending(ctx context.Context, workerID id.WorkerID, limit int) ([]*queue.Request, error) {
	return s.poll(ctx, workerID, queue.KindStart, limit)
}

// PollResumable atomically claims up to limit due resume requests.
func (s *Store) PollResumable(ctx context.Context, workerID id.WorkerID, limit int) ([]*queue.Request, error) {
	return s.poll(ctx, workerID, queue.KindResume, limit)
}

// poll selects due requests of one kind with FOR UPDATE SKIP LOCKED and
// marks them claimed in the same statement. Two concurrent pollers can
// never claim the same row.
func (s *Store) poll(ctx context.Context, workerID id.WorkerID, kind queue.Kind, limit int) ([]*queue.Request, error) {
	if limit <= 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	rows, err := s.pool.Query(ctx, `
		WITH due AS (
			SELECT id FROM prfactory_requests
			WHERE kind = $1
				AND state IN ('pending', 'retrying')
				AND run_at <= $2
			ORDER BY run_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE prfactory_requests r
		SET state = 'claimed', claimed_by = $4, claimed_at = $2, updated_at = $2
		FROM due
		WHERE r.id = due.id
		RETURNING `+prefixedRequestColumns("r"),
		string(kind), now, limit, workerID,
	)
	if err != nil {
		return nil, fmt.Errorf("prfactory/postgres: poll %s: %w", kind, err)
	}
	defer rows.Close()

	claimed := make([]*queue.Request, 0, limit)
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("prfactory/postgres: scan request: %w", err)
		}
		claimed = append(claimed, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("prfactory/postgres: poll %s: %w", kind, err)
	}
	return claimed, nil
}

// ReapStaleRequests resets claimed requests whose claim has outlived
// the threshold back to pending. The reset runs as a single statement,
// so concurrent reapers cannot double-reset a row.
func (s *Store) ReapStaleRequests(ctx context.Context, olderThan time.Duration) ([]*queue.Request, error) {
	now := time.Now().UTC()
	rows, err := s.pool.Query(ctx, `
		UPDATE prfactory_requests
		SET state = 'pending', run_at = $1, claimed_by = '', claimed_at = NULL, updated_at = $1
		WHERE state = 'claimed' AND claimed_at < $2
		RETURNING `+requestColumns,
		now, now.Add(-olderThan),
	)
	if err != nil {
		return nil, fmt.Errorf("prfactory/postgres: reap stale requests: %w", err)
	}
	defer rows.Close()

	var reaped []*queue.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("prfactory/postgres: scan request: %w", err)
		}
		reaped = append(reaped, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("prfactory/postgres: reap stale requests: %w", err)
	}
	return reaped, nil
}

// UpdateRequest persists changes to an existing request.
func (s *Store) UpdateRequest(ctx context.Context, r *queue.Request) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE prfactory_requests
		SET state = $3, attempt = $4, run_at = $5, claimed_by = $6,
			claimed_at = $7, completed_at = $8, last_error = $9, updated_at = $10
		WHERE tenant_id = $1 AND id = $2`,
		r.TenantID, r.ID,
		string(r.State), r.Attempt, r.RunAt, claimedByValue(r.ClaimedBy),
		r.ClaimedAt, r.CompletedAt, r.LastError, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("prfactory/postgres: update request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return prfactory.ErrRequestNotFound
	}
	return nil
}

// claimedByValue maps the nil worker ID onto the empty string the
// claimed_by column defaults to, so a cleared claim never stores NULL.
func claimedByValue(w id.WorkerID) string {
	return w.String()
}

func prefixedRequestColumns(alias string) string {
	return alias + `.id, ` + alias + `.tenant_id, ` + alias + `.work_item_id, ` +
		alias + `.graph_id, ` + alias + `.kind, ` + alias + `.payload, ` +
		alias + `.state, ` + alias + `.attempt, ` + alias + `.run_at, ` +
		alias + `.claimed_by, ` + alias + `.claimed_at, ` + alias + `.completed_at, ` +
		alias + `.last_error, ` + alias + `.created_at, ` + alias + `.updated_at`
}

func scanRequest(row pgx.Row) (*queue.Request, error) {
	var (
		r         queue.Request
		kind      string
		reqState  string
		claimedBy string
	)
	err := row.Scan(
		&r.ID, &r.TenantID, &r.WorkItemID, &r.GraphID, &kind, &r.Payload,
		&reqState, &r.Attempt, &r.RunAt, &claimedBy, &r.ClaimedAt, &r.CompletedAt,
		&r.LastError, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Kind = queue.Kind(kind)
	r.State = queue.State(reqState)
	if claimedBy != "" {
		worker, err := id.ParseWorkerID(claimedBy)
		if err != nil {
			return nil, fmt.Errorf("parse claimed_by: %w", err)
		}
		r.ClaimedBy = worker
	}
	return &r, nil
}
