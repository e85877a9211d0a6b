package item

import (
	"context"

	"github.com/mikaelliljedahl/PRFactory-sub003/id"
	"github.com/mikaelliljedahl/PRFactory-sub003/state"
)

// ListOpts controls pagination and filtering for work item list queries.
type ListOpts struct {
	// Limit is the maximum number of items to return. Zero means no limit.
	Limit int
	// Offset is the number of items to skip.
	Offset int
	// Phase filters by phase. Empty means all phases.
	Phase state.Phase
	// IncludeArchived includes soft-archived items when true.
	IncludeArchived bool
}

// Store defines the persistence contract for work items. Tenant identity
// is an explicit parameter on every call — never ambient context — so
// tenant isolation is enforceable by the type system.
type Store interface {
	// CreateWorkItem persists a new work item.
	CreateWorkItem(ctx context.Context, w *WorkItem) error

	// GetWorkItem retrieves a work item by ID within a tenant.
	GetWorkItem(ctx context.Context, tenantID string, itemID id.WorkItemID) (*WorkItem, error)

	// GetWorkItemByExternalKey retrieves a non-archived work item by its
	// external reference key within a tenant.
	GetWorkItemByExternalKey(ctx context.Context, tenantID, externalKey string) (*WorkItem, error)

	// UpdateWorkItem persists changes to an existing work item. The new
	// phase must be the stored phase or one of its legal successors;
	// implementations reject anything else so an illegal phase can never
	// be persisted, whatever code path produced it.
	UpdateWorkItem(ctx context.Context, w *WorkItem) error

	// ListWorkItems returns a tenant's work items matching the options,
	// newest first.
	ListWorkItems(ctx context.Context, tenantID string, opts ListOpts) ([]*WorkItem, error)
}
