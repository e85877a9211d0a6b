package queue

import (
	"time"

	prfactory "github.com/mikaelliljedahl/PRFactory-sub003"
	"github.com/mikaelliljedahl/PRFactory-sub003/id"
)

// Kind distinguishes fresh starts from resumptions.
type Kind string

const (
	// KindStart requests a fresh run of a phase graph from its first step.
	KindStart Kind = "start"
	// KindResume requests continuation of a suspended work item from its
	// active checkpoint. Resume requests carry the payload derived from
	// the external event that unblocked the item.
	KindResume Kind = "resume"
)

// State is the lifecycle state of an execution request.
type State string

const (
	// StatePending means the request is waiting to be claimed by a poller.
	StatePending State = "pending"
	// StateClaimed means a worker has atomically claimed the request.
	StateClaimed State = "claimed"
	// StateRetrying means execution failed and the request is re-queued
	// with a backoff delay.
	StateRetrying State = "retrying"
	// StateCompleted means execution reached a terminal or suspended
	// outcome and the request is finished.
	StateCompleted State = "completed"
	// StateFailed means execution failed terminally.
	StateFailed State = "failed"
)

// Request is a queue entry: "start this work item" or "resume this
// suspended work item". A work item has at most one open (pending,
// claimed, or retrying) request at a time.
type Request struct {
	prfactory.Entity

	ID          id.RequestID  `json:"id"`
	TenantID    string        `json:"tenant_id"`
	WorkItemID  id.WorkItemID `json:"work_item_id"`
	GraphID     string        `json:"graph_id"`
	Kind        Kind          `json:"kind"`
	Payload     []byte        `json:"payload,omitempty"`
	State       State         `json:"state"`
	Attempt     int           `json:"attempt"`
	RunAt       time.Time     `json:"run_at"`
	ClaimedBy   id.WorkerID   `json:"claimed_by,omitempty"`
	ClaimedAt   *time.Time    `json:"claimed_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	LastError   string        `json:"last_error,omitempty"`
}

// NewStart creates a pending start request for a work item.
func NewStart(tenantID string, workItemID id.WorkItemID, graphID string) *Request {
	return &Request{
		Entity:     prfactory.NewEntity(),
		ID:         id.NewRequestID(),
		TenantID:   tenantID,
		WorkItemID: workItemID,
		GraphID:    graphID,
		Kind:       KindStart,
		State:      StatePending,
		RunAt:      time.Now().UTC(),
	}
}

// NewResume creates a pending resume request carrying the payload derived
// from an external event.
func NewResume(tenantID string, workItemID id.WorkItemID, graphID string, payload []byte) *Request {
	return &Request{
		Entity:     prfactory.NewEntity(),
		ID:         id.NewRequestID(),
		TenantID:   tenantID,
		WorkItemID: workItemID,
		GraphID:    graphID,
		Kind:       KindResume,
		Payload:    payload,
		State:      StatePending,
		RunAt:      time.Now().UTC(),
	}
}

// Open reports whether the request still occupies the work item's single
// open-request slot.
func (r *Request) Open() bool {
	switch r.State {
	case StatePending, StateClaimed, StateRetrying:
		return true
	default:
		return false
	}
}
