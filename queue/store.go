package queue

import (
	"context"
	"time"

	"github.com/mikaelliljedahl/PRFactory-sub003/id"
)

// Store defines the persistence contract for the execution queue.
//
// Claiming is the critical operation: PollPending and PollResumable must
// each be a single atomic read-and-mark (a conditional update), so that
// two concurrent pollers can never claim the same request.
type Store interface {
	// EnqueueRequest persists a new pending request. If the work item
	// already has an open request, prfactory.ErrPendingRequest is
	// returned.
	EnqueueRequest(ctx context.Context, r *Request) error

	// GetRequest retrieves a request by ID within a tenant.
	GetRequest(ctx context.Context, tenantID string, requestID id.RequestID) (*Request, error)

	// PollPending atomically claims up to limit due start requests
	// (pending or retrying, RunAt reached), marks them claimed by the
	// given worker, and returns them oldest first.
	PollPending(ctx context.Context, workerID id.WorkerID, limit int) ([]*Request, error)

	// PollResumable is PollPending for resume requests: suspended work
	// items for which an external event has attached a resume payload.
	PollResumable(ctx context.Context, workerID id.WorkerID, limit int) ([]*Request, error)

	// UpdateRequest persists changes to an existing request.
	UpdateRequest(ctx context.Context, r *Request) error

	// ReapStaleRequests resets claimed requests whose claim is older
	// than the threshold back to pending, clearing the claim, and
	// returns the reset requests. A worker that died after claiming
	// leaves its requests behind; reaping puts them back in reach of
	// the pollers.
	ReapStaleRequests(ctx context.Context, olderThan time.Duration) ([]*Request, error)
}
