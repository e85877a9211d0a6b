package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	prfactory "github.com/mikaelliljedahl/PRFactory-sub003"
	"github.com/mikaelliljedahl/PRFactory-sub003/checkpoint"
	"github.com/mikaelliljedahl/PRFactory-sub003/id"
	"github.com/mikaelliljedahl/PRFactory-sub003/item"
	"github.com/mikaelliljedahl/PRFactory-sub003/queue"
	"github.com/mikaelliljedahl/PRFactory-sub003/state"
)

// Compile-time checks against each subsystem interface.
var (
	_ item.Store       = (*Store)(nil)
	_ checkpoint.Store = (*Store)(nil)
	_ queue.Store      = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	items       map[string]*item.WorkItem
	checkpoints map[string]*checkpoint.Checkpoint
	requests    map[string]*queue.Request
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		items:       make(map[string]*item.WorkItem),
		checkpoints: make(map[string]*checkpoint.Checkpoint),
		requests:    make(map[string]*queue.Request),
	}
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Work Item Store
// ──────────────────────────────────────────────────

// CreateWorkItem persists a new work item. The external key must be
// unique among the tenant's non-archived items.
func (m *Store) CreateWorkItem(_ context.Context, w *item.WorkItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := w.ID.String()
	if _, exists := m.items[key]; exists {
		return prfactory.ErrWorkItemExists
	}
	for _, existing := range m.items {
		if existing.TenantID == w.TenantID && existing.ExternalKey == w.ExternalKey && !existing.Archived {
			return prfactory.ErrWorkItemExists
		}
	}
	m.items[key] = cloneItem(w)
	return nil
}

// GetWorkItem retrieves a work item by ID within a tenant. A mismatched
// tenant sees not-found, never the other tenant's row.
func (m *Store) GetWorkItem(_ context.Context, tenantID string, itemID id.WorkItemID) (*item.WorkItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.items[itemID.String()]
	if !ok || w.TenantID != tenantID {
		return nil, prfactory.ErrWorkItemNotFound
	}
	return cloneItem(w), nil
}

// GetWorkItemByExternalKey retrieves a non-archived work item by its
// external reference key within a tenant.
func (m *Store) GetWorkItemByExternalKey(_ context.Context, tenantID, externalKey string) (*item.WorkItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, w := range m.items {
		if w.TenantID == tenantID && w.ExternalKey == externalKey && !w.Archived {
			return cloneItem(w), nil
		}
	}
	return nil, prfactory.ErrWorkItemNotFound
}

// UpdateWorkItem persists changes to an existing work item. The phase is
// verified against the state model relative to the stored row, so an
// illegal transition can never be persisted.
func (m *Store) UpdateWorkItem(_ context.Context, w *item.WorkItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := w.ID.String()
	cur, ok := m.items[key]
	if !ok || cur.TenantID != w.TenantID {
		return prfactory.ErrWorkItemNotFound
	}
	if cur.Phase != w.Phase {
		if err := state.Transition(cur.Phase, w.Phase); err != nil {
			return err
		}
	}
	cp := cloneItem(w)
	cp.UpdatedAt = time.Now().UTC()
	m.items[key] = cp
	return nil
}

// ListWorkItems returns a tenant's work items matching the options,
// newest first.
func (m *Store) ListWorkItems(_ context.Context, tenantID string, opts item.ListOpts) ([]*item.WorkItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*item.WorkItem, 0, len(m.items))
	for _, w := range m.items {
		if w.TenantID != tenantID {
			continue
		}
		if !opts.IncludeArchived && w.Archived {
			continue
		}
		if opts.Phase != "" && w.Phase != opts.Phase {
			continue
		}
		result = append(result, cloneItem(w))
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// ──────────────────────────────────────────────────
// Checkpoint Store
// ──────────────────────────────────────────────────

// SaveCheckpoint persists a checkpoint. An existing Active row for the
// (work item, graph) pair is overwritten in place, keeping its ID and
// CreatedAt, so the pair never holds two Active rows.
func (m *Store) SaveCheckpoint(_ context.Context, c *checkpoint.Checkpoint) (*checkpoint.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.Status == checkpoint.StatusActive {
		for _, existing := range m.checkpoints {
			if existing.Status == checkpoint.StatusActive &&
				existing.WorkItemID == c.WorkItemID &&
				existing.GraphID == c.GraphID {
				existing.Label = c.Label
				existing.StateJSON = cloneBytes(c.StateJSON)
				existing.NextStep = c.NextStep
				existing.UpdatedAt = time.Now().UTC()
				return cloneCheckpoint(existing), nil
			}
		}
	}

	cp := cloneCheckpoint(c)
	m.checkpoints[c.ID.String()] = cp
	return cloneCheckpoint(cp), nil
}

// GetLatestCheckpoint returns the single Active checkpoint for the pair.
func (m *Store) GetLatestCheckpoint(_ context.Context, tenantID string, workItemID id.WorkItemID, graphID string) (*checkpoint.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.checkpoints {
		if c.TenantID == tenantID && c.WorkItemID == workItemID && c.GraphID == graphID &&
			c.Status == checkpoint.StatusActive {
			return cloneCheckpoint(c), nil
		}
	}
	return nil, prfactory.ErrCheckpointNotFound
}

// MarkCheckpointResumed transitions the checkpoint to Resumed. Missing
// or non-Active checkpoints return ErrCheckpointNotFound.
func (m *Store) MarkCheckpointResumed(_ context.Context, checkpointID id.CheckpointID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.checkpoints[checkpointID.String()]
	if !ok || c.Status != checkpoint.StatusActive {
		return prfactory.ErrCheckpointNotFound
	}
	return c.MarkAsResumed()
}

// ExpireCheckpoints transitions Active checkpoints created before the
// cutoff to Expired and returns the number of rows affected.
func (m *Store) ExpireCheckpoints(_ context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, c := range m.checkpoints {
		if c.Status != checkpoint.StatusActive || !c.CreatedAt.Before(olderThan) {
			continue
		}
		if err := c.MarkAsExpired(); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// DeleteCheckpoint soft-deletes a checkpoint. The row remains queryable
// through CheckpointHistory.
func (m *Store) DeleteCheckpoint(_ context.Context, checkpointID id.CheckpointID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.checkpoints[checkpointID.String()]
	if !ok {
		return prfactory.ErrCheckpointNotFound
	}
	return c.MarkAsDeleted()
}

// CheckpointHistory returns all checkpoints for a work item, newest
// first, optionally filtered by graph.
func (m *Store) CheckpointHistory(_ context.Context, tenantID string, workItemID id.WorkItemID, graphID string) ([]*checkpoint.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*checkpoint.Checkpoint, 0)
	for _, c := range m.checkpoints {
		if c.TenantID != tenantID || c.WorkItemID != workItemID {
			continue
		}
		if graphID != "" && c.GraphID != graphID {
			continue
		}
		result = append(result, cloneCheckpoint(c))
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].UpdatedAt.After(result[k].UpdatedAt)
	})
	return result, nil
}

// ──────────────────────────────────────────────────
// Queue Store
// ──────────────────────────────────────────────────

// EnqueueRequest persists a new pending request, enforcing the
// one-open-request-per-work-item invariant.
func (m *Store) EnqueueRequest(_ context.Context, r *queue.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.requests {
		if existing.WorkItemID == r.WorkItemID && existing.Open() {
			return prfactory.ErrPendingRequest
		}
	}
	m.requests[r.ID.String()] = cloneRequest(r)
	return nil
}

// GetRequest retrieves a request by ID within a tenant.
func (m *Store) GetRequest(_ context.Context, tenantID string, requestID id.RequestID) (*queue.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.requests[requestID.String()]
	if !ok || r.TenantID != tenantID {
		return nil, prfactory.ErrRequestNotFound
	}
	return cloneRequest(r), nil
}

// PollPending atomically claims up to limit due start requests.
func (m *Store) PollPending(_ context.Context, workerID id.WorkerID, limit int) ([]*queue.Request, error) {
	return m.claim(workerID, limit, queue.KindStart)
}

// PollResumable atomically claims up to limit due resume requests.
func (m *Store) PollResumable(_ context.Context, workerID id.WorkerID, limit int) ([]*queue.Request, error) {
	return m.claim(workerID, limit, queue.KindResume)
}

// claim is the shared atomic read-and-mark behind both poll operations.
// The whole scan-sort-mark runs under one lock, so two concurrent
// pollers can never claim the same request.
func (m *Store) claim(workerID id.WorkerID, limit int, kind queue.Kind) ([]*queue.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()

	candidates := make([]*queue.Request, 0, len(m.requests))
	for _, r := range m.requests {
		if r.Kind != kind {
			continue
		}
		if r.State != queue.StatePending && r.State != queue.StateRetrying {
			continue
		}
		if r.RunAt.After(now) {
			continue
		}
		candidates = append(candidates, r)
	}

	// Oldest first.
	sort.Slice(candidates, func(i, k int) bool {
		return candidates[i].RunAt.Before(candidates[k].RunAt)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := make([]*queue.Request, len(candidates))
	for i, r := range candidates {
		r.State = queue.StateClaimed
		r.ClaimedBy = workerID
		n := now
		r.ClaimedAt = &n
		r.UpdatedAt = now
		result[i] = cloneRequest(r)
	}
	return result, nil
}

// ReapStaleRequests resets claimed requests whose claim has outlived
// the threshold back to pending, clearing the dead worker's claim.
func (m *Store) ReapStaleRequests(_ context.Context, olderThan time.Duration) ([]*queue.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	cutoff := now.Add(-olderThan)

	var reaped []*queue.Request
	for _, r := range m.requests {
		if r.State != queue.StateClaimed {
			continue
		}
		if r.ClaimedAt == nil || r.ClaimedAt.After(cutoff) {
			continue
		}
		r.State = queue.StatePending
		r.RunAt = now
		r.ClaimedBy = id.WorkerID{}
		r.ClaimedAt = nil
		r.UpdatedAt = now
		reaped = append(reaped, cloneRequest(r))
	}
	return reaped, nil
}

// UpdateRequest persists changes to an existing request.
func (m *Store) UpdateRequest(_ context.Context, r *queue.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := r.ID.String()
	if _, ok := m.requests[key]; !ok {
		return prfactory.ErrRequestNotFound
	}
	cp := cloneRequest(r)
	cp.UpdatedAt = time.Now().UTC()
	m.requests[key] = cp
	return nil
}

// ──────────────────────────────────────────────────
// Copy helpers
// ──────────────────────────────────────────────────

// Callers get copies so they can mutate without racing with the store.

func cloneItem(w *item.WorkItem) *item.WorkItem {
	cp := *w
	return &cp
}

func cloneCheckpoint(c *checkpoint.Checkpoint) *checkpoint.Checkpoint {
	cp := *c
	cp.StateJSON = cloneBytes(c.StateJSON)
	return &cp
}

func cloneRequest(r *queue.Request) *queue.Request {
	cp := *r
	cp.Payload = cloneBytes(r.Payload)
	return &cp
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
