package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mikaelliljedahl/PRFactory-sub003/hook"
	"github.com/mikaelliljedahl/PRFactory-sub003/item"
)

// Compile-time interface checks.
var (
	_ hook.Hook               = (*Hook)(nil)
	_ hook.ItemTriggered      = (*Hook)(nil)
	_ hook.ItemStarted        = (*Hook)(nil)
	_ hook.ItemSuspended      = (*Hook)(nil)
	_ hook.ItemResumed        = (*Hook)(nil)
	_ hook.ItemCompleted      = (*Hook)(nil)
	_ hook.ItemFailed         = (*Hook)(nil)
	_ hook.ItemRetrying       = (*Hook)(nil)
	_ hook.StepCompleted      = (*Hook)(nil)
	_ hook.StepFailed         = (*Hook)(nil)
	_ hook.CheckpointsExpired = (*Hook)(nil)
	_ hook.Shutdown           = (*Hook)(nil)
)

// Recorder is the interface audit backends must implement. It is
// defined locally so this package carries no backend dependency;
// callers inject their concrete audit client at wiring time.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is the structured record handed to the Recorder.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	TenantID   string         `json:"tenant_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Hook translates lifecycle events into audit events. Each lifecycle
// hook emits one structured audit event through the [Recorder].
type Hook struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates a Hook that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Hook {
	h := &Hook{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name implements hook.Hook.
func (h *Hook) Name() string { return "audit-hook" }

// ── Item lifecycle hooks ────────────────────────────

// OnItemTriggered implements hook.ItemTriggered.
func (h *Hook) OnItemTriggered(ctx context.Context, w *item.WorkItem) error {
	return h.record(ctx, ActionItemTriggered, SeverityInfo, OutcomeSuccess,
		ResourceWorkItem, w, nil,
		"external_key", w.ExternalKey,
	)
}

// OnItemStarted implements hook.ItemStarted.
func (h *Hook) OnItemStarted(ctx context.Context, w *item.WorkItem) error {
	return h.record(ctx, ActionItemStarted, SeverityInfo, OutcomeSuccess,
		ResourceWorkItem, w, nil,
		"phase", string(w.Phase),
	)
}

// OnItemSuspended implements hook.ItemSuspended.
func (h *Hook) OnItemSuspended(ctx context.Context, w *item.WorkItem, nextStep string) error {
	return h.record(ctx, ActionItemSuspended, SeverityInfo, OutcomeSuccess,
		ResourceWorkItem, w, nil,
		"phase", string(w.Phase),
		"next_step", nextStep,
	)
}

// OnItemResumed implements hook.ItemResumed.
func (h *Hook) OnItemResumed(ctx context.Context, w *item.WorkItem, fromStep string) error {
	return h.record(ctx, ActionItemResumed, SeverityInfo, OutcomeSuccess,
		ResourceWorkItem, w, nil,
		"phase", string(w.Phase),
		"from_step", fromStep,
	)
}

// OnItemCompleted implements hook.ItemCompleted.
func (h *Hook) OnItemCompleted(ctx context.Context, w *item.WorkItem) error {
	return h.record(ctx, ActionItemCompleted, SeverityInfo, OutcomeSuccess,
		ResourceWorkItem, w, nil,
		"external_key", w.ExternalKey,
	)
}

// OnItemFailed implements hook.ItemFailed.
func (h *Hook) OnItemFailed(ctx context.Context, w *item.WorkItem, itemErr error) error {
	return h.record(ctx, ActionItemFailed, SeverityCritical, OutcomeFailure,
		ResourceWorkItem, w, itemErr,
		"external_key", w.ExternalKey,
		"retry_count", w.RetryCount,
	)
}

// OnItemRetrying implements hook.ItemRetrying.
func (h *Hook) OnItemRetrying(ctx context.Context, w *item.WorkItem, attempt int, nextRunAt time.Time) error {
	return h.record(ctx, ActionItemRetrying, SeverityWarning, OutcomeFailure,
		ResourceWorkItem, w, nil,
		"attempt", attempt,
		"next_run_at", nextRunAt.Format(time.RFC3339),
	)
}

// ── Step lifecycle hooks ────────────────────────────

// OnStepCompleted implements hook.StepCompleted.
func (h *Hook) OnStepCompleted(ctx context.Context, w *item.WorkItem, stepName string, elapsed time.Duration) error {
	return h.record(ctx, ActionStepCompleted, SeverityInfo, OutcomeSuccess,
		ResourceWorkItem, w, nil,
		"step_name", stepName,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnStepFailed implements hook.StepFailed.
func (h *Hook) OnStepFailed(ctx context.Context, w *item.WorkItem, stepName string, stepErr error) error {
	return h.record(ctx, ActionStepFailed, SeverityWarning, OutcomeFailure,
		ResourceWorkItem, w, stepErr,
		"step_name", stepName,
	)
}

// ── Retention and engine hooks ──────────────────────

// OnCheckpointsExpired implements hook.CheckpointsExpired.
func (h *Hook) OnCheckpointsExpired(ctx context.Context, count int64) error {
	if h.enabled != nil && !h.enabled[ActionCheckpointsExpired] {
		return nil
	}
	h.send(ctx, &AuditEvent{
		Action:   ActionCheckpointsExpired,
		Resource: ResourceCheckpoint,
		Category: CategoryRetention,
		Metadata: map[string]any{"count": count},
		Outcome:  OutcomeSuccess,
		Severity: SeverityInfo,
	})
	return nil
}

// OnShutdown implements hook.Shutdown.
func (h *Hook) OnShutdown(ctx context.Context) error {
	if h.enabled != nil && !h.enabled[ActionShutdown] {
		return nil
	}
	h.send(ctx, &AuditEvent{
		Action:   ActionShutdown,
		Resource: ResourceEngine,
		Category: CategoryEngine,
		Outcome:  OutcomeSuccess,
		Severity: SeverityInfo,
	})
	return nil
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an item-scoped audit event if the action is
// enabled. kvPairs is a flat list of key-value pairs added to Metadata.
func (h *Hook) record(
	ctx context.Context,
	action, severity, outcome string,
	resource string,
	w *item.WorkItem,
	err error,
	kvPairs ...any,
) error {
	if h.enabled != nil && !h.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var category string
	switch action {
	case ActionStepCompleted, ActionStepFailed:
		category = CategoryStep
	default:
		category = CategoryItem
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	h.send(ctx, &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: w.ID.String(),
		TenantID:   w.TenantID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	})
	return nil
}

func (h *Hook) send(ctx context.Context, evt *AuditEvent) {
	if err := h.recorder.Record(ctx, evt); err != nil {
		h.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", evt.Action),
			slog.String("resource_id", evt.ResourceID),
			slog.String("error", err.Error()),
		)
	}
}
