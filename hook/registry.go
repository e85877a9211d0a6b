package hook

import (
	"context"
	"log/slog"
	"time"

	"github.com/mikaelliljedahl/PRFactory-sub003/item"
)

// Named entry types pair a hook implementation with the hook name
// captured at registration time. This avoids type-asserting back to
// Hook inside the emit methods.
type itemTriggeredEntry struct {
	name string
	hook ItemTriggered
}

type itemStartedEntry struct {
	name string
	hook ItemStarted
}

type itemSuspendedEntry struct {
	name string
	hook ItemSuspended
}

type itemResumedEntry struct {
	name string
	hook ItemResumed
}

type itemCompletedEntry struct {
	name string
	hook ItemCompleted
}

type itemFailedEntry struct {
	name string
	hook ItemFailed
}

type itemRetryingEntry struct {
	name string
	hook ItemRetrying
}

type stepCompletedEntry struct {
	name string
	hook StepCompleted
}

type stepFailedEntry struct {
	name string
	hook StepFailed
}

type checkpointsExpiredEntry struct {
	name string
	hook CheckpointsExpired
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered hooks and dispatches lifecycle events to
// them. It type-caches hooks at registration time so emit calls iterate
// only over hooks that implement the relevant event.
type Registry struct {
	hooks  []Hook
	logger *slog.Logger

	// Type-cached slices for each lifecycle event.
	itemTriggered      []itemTriggeredEntry
	itemStarted        []itemStartedEntry
	itemSuspended      []itemSuspendedEntry
	itemResumed        []itemResumedEntry
	itemCompleted      []itemCompletedEntry
	itemFailed         []itemFailedEntry
	itemRetrying       []itemRetryingEntry
	stepCompleted      []stepCompletedEntry
	stepFailed         []stepFailedEntry
	checkpointsExpired []checkpointsExpiredEntry
	shutdown           []shutdownEntry
}

// NewRegistry creates a hook registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds a hook and type-asserts it into all applicable event
// caches. Hooks are notified in registration order.
func (r *Registry) Register(h Hook) {
	r.hooks = append(r.hooks, h)
	name := h.Name()

	if e, ok := h.(ItemTriggered); ok {
		r.itemTriggered = append(r.itemTriggered, itemTriggeredEntry{name, e})
	}
	if e, ok := h.(ItemStarted); ok {
		r.itemStarted = append(r.itemStarted, itemStartedEntry{name, e})
	}
	if e, ok := h.(ItemSuspended); ok {
		r.itemSuspended = append(r.itemSuspended, itemSuspendedEntry{name, e})
	}
	if e, ok := h.(ItemResumed); ok {
		r.itemResumed = append(r.itemResumed, itemResumedEntry{name, e})
	}
	if e, ok := h.(ItemCompleted); ok {
		r.itemCompleted = append(r.itemCompleted, itemCompletedEntry{name, e})
	}
	if e, ok := h.(ItemFailed); ok {
		r.itemFailed = append(r.itemFailed, itemFailedEntry{name, e})
	}
	if e, ok := h.(ItemRetrying); ok {
		r.itemRetrying = append(r.itemRetrying, itemRetryingEntry{name, e})
	}
	if e, ok := h.(StepCompleted); ok {
		r.stepCompleted = append(r.stepCompleted, stepCompletedEntry{name, e})
	}
	if e, ok := h.(StepFailed); ok {
		r.stepFailed = append(r.stepFailed, stepFailedEntry{name, e})
	}
	if e, ok := h.(CheckpointsExpired); ok {
		r.checkpointsExpired = append(r.checkpointsExpired, checkpointsExpiredEntry{name, e})
	}
	if e, ok := h.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, e})
	}
}

// Hooks returns all registered hooks.
func (r *Registry) Hooks() []Hook { return r.hooks }

// EmitItemTriggered notifies all hooks that implement ItemTriggered.
func (r *Registry) EmitItemTriggered(ctx context.Context, w *item.WorkItem) {
	for _, e := range r.itemTriggered {
		if err := e.hook.OnItemTriggered(ctx, w); err != nil {
			r.logHookError("OnItemTriggered", e.name, err)
		}
	}
}

// EmitItemStarted notifies all hooks that implement ItemStarted.
func (r *Registry) EmitItemStarted(ctx context.Context, w *item.WorkItem) {
	for _, e := range r.itemStarted {
		if err := e.hook.OnItemStarted(ctx, w); err != nil {
			r.logHookError("OnItemStarted", e.name, err)
		}
	}
}

// EmitItemSuspended notifies all hooks that implement ItemSuspended.
func (r *Registry) EmitItemSuspended(ctx context.Context, w *item.WorkItem, nextStep string) {
	for _, e := range r.itemSuspended {
		if err := e.hook.OnItemSuspended(ctx, w, nextStep); err != nil {
			r.logHookError("OnItemSuspended", e.name, err)
		}
	}
}

// EmitItemResumed notifies all hooks that implement ItemResumed.
func (r *Registry) EmitItemResumed(ctx context.Context, w *item.WorkItem, fromStep string) {
	for _, e := range r.itemResumed {
		if err := e.hook.OnItemResumed(ctx, w, fromStep); err != nil {
			r.logHookError("OnItemResumed", e.name, err)
		}
	}
}

// EmitItemCompleted notifies all hooks that implement ItemCompleted.
func (r *Registry) EmitItemCompleted(ctx context.Context, w *item.WorkItem) {
	for _, e := range r.itemCompleted {
		if err := e.hook.OnItemCompleted(ctx, w); err != nil {
			r.logHookError("OnItemCompleted", e.name, err)
		}
	}
}

// EmitItemFailed notifies all hooks that implement ItemFailed.
func (r *Registry) EmitItemFailed(ctx context.Context, w *item.WorkItem, itemErr error) {
	for _, e := range r.itemFailed {
		if err := e.hook.OnItemFailed(ctx, w, itemErr); err != nil {
			r.logHookError("OnItemFailed", e.name, err)
		}
	}
}

// EmitItemRetrying notifies all hooks that implement ItemRetrying.
func (r *Registry) EmitItemRetrying(ctx context.Context, w *item.WorkItem, attempt int, nextRunAt time.Time) {
	for _, e := range r.itemRetrying {
		if err := e.hook.OnItemRetrying(ctx, w, attempt, nextRunAt); err != nil {
			r.logHookError("OnItemRetrying", e.name, err)
		}
	}
}

// EmitStepCompleted notifies all hooks that implement StepCompleted.
func (r *Registry) EmitStepCompleted(ctx context.Context, w *item.WorkItem, stepName string, elapsed time.Duration) {
	for _, e := range r.stepCompleted {
		if err := e.hook.OnStepCompleted(ctx, w, stepName, elapsed); err != nil {
			r.logHookError("OnStepCompleted", e.name, err)
		}
	}
}

// EmitStepFailed notifies all hooks that implement StepFailed.
func (r *Registry) EmitStepFailed(ctx context.Context, w *item.WorkItem, stepName string, stepErr error) {
	for _, e := range r.stepFailed {
		if err := e.hook.OnStepFailed(ctx, w, stepName, stepErr); err != nil {
			r.logHookError("OnStepFailed", e.name, err)
		}
	}
}

// EmitCheckpointsExpired notifies all hooks that implement CheckpointsExpired.
func (r *Registry) EmitCheckpointsExpired(ctx context.Context, count int64) {
	for _, e := range r.checkpointsExpired {
		if err := e.hook.OnCheckpointsExpired(ctx, count); err != nil {
			r.logHookError("OnCheckpointsExpired", e.name, err)
		}
	}
}

// EmitShutdown notifies all hooks that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the pipeline.
func (r *Registry) logHookError(event, hookName string, err error) {
	r.logger.Warn("lifecycle hook error",
		slog.String("event", event),
		slog.String("hook", hookName),
		slog.String("error", err.Error()),
	)
}
