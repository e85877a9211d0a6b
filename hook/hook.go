package hook

import (
	"context"
	"time"

	"github.com/mikaelliljedahl/PRFactory-sub003/item"
)

// Hook is the base interface all lifecycle hooks must implement.
type Hook interface {
	// Name returns a unique human-readable name for the hook.
	Name() string
}

// ──────────────────────────────────────────────────
// Work item lifecycle
// ──────────────────────────────────────────────────

// ItemTriggered is called after a work item is created and its start
// request is enqueued.
type ItemTriggered interface {
	OnItemTriggered(ctx context.Context, w *item.WorkItem) error
}

// ItemStarted is called when a worker begins executing a claimed request
// for a work item.
type ItemStarted interface {
	OnItemStarted(ctx context.Context, w *item.WorkItem) error
}

// ItemSuspended is called when a graph run suspends awaiting external
// input. nextStep is the step the run will resume from.
type ItemSuspended interface {
	OnItemSuspended(ctx context.Context, w *item.WorkItem, nextStep string) error
}

// ItemResumed is called when a suspended work item is picked back up
// from its checkpoint. fromStep is the step execution resumes at.
type ItemResumed interface {
	OnItemResumed(ctx context.Context, w *item.WorkItem, fromStep string) error
}

// ItemCompleted is called after an execution finishes without error,
// including runs that ended in suspension.
type ItemCompleted interface {
	OnItemCompleted(ctx context.Context, w *item.WorkItem) error
}

// ItemFailed is called when a work item fails terminally (no more
// retries, or a non-retryable error).
type ItemFailed interface {
	OnItemFailed(ctx context.Context, w *item.WorkItem, err error) error
}

// ItemRetrying is called when an execution fails but is scheduled for
// retry.
type ItemRetrying interface {
	OnItemRetrying(ctx context.Context, w *item.WorkItem, attempt int, nextRunAt time.Time) error
}

// ──────────────────────────────────────────────────
// Step lifecycle
// ──────────────────────────────────────────────────

// StepCompleted is called after a graph step completes and its
// checkpoint is persisted.
type StepCompleted interface {
	OnStepCompleted(ctx context.Context, w *item.WorkItem, stepName string, elapsed time.Duration) error
}

// StepFailed is called when a graph step returns an error.
type StepFailed interface {
	OnStepFailed(ctx context.Context, w *item.WorkItem, stepName string, err error) error
}

// ──────────────────────────────────────────────────
// Maintenance lifecycle
// ──────────────────────────────────────────────────

// CheckpointsExpired is called after a retention sweep marks aged-out
// checkpoints expired.
type CheckpointsExpired interface {
	OnCheckpointsExpired(ctx context.Context, count int64) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
