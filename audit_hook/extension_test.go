package audithook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mikaelliljedahl/PRFactory-sub003/item"
)

type captureRecorder struct {
	events []*AuditEvent
	err    error
}

func (r *captureRecorder) Record(_ context.Context, evt *AuditEvent) error {
	r.events = append(r.events, evt)
	return r.err
}

func testItem() *item.WorkItem {
	return item.New("acme", "PROJ-7")
}

func TestHook_EmitsItemEvents(t *testing.T) {
	rec := &captureRecorder{}
	h := New(rec)
	ctx := context.Background()
	w := testItem()

	if err := h.OnItemTriggered(ctx, w); err != nil {
		t.Fatalf("triggered: %v", err)
	}
	if err := h.OnItemFailed(ctx, w, errors.New("completion timed out")); err != nil {
		t.Fatalf("failed: %v", err)
	}

	if len(rec.events) != 2 {
		t.Fatalf("events = %d, want 2", len(rec.events))
	}

	first := rec.events[0]
	if first.Action != ActionItemTriggered || first.Severity != SeverityInfo {
		t.Errorf("first = %+v", first)
	}
	if first.TenantID != "acme" || first.ResourceID != w.ID.String() {
		t.Errorf("first identity = %+v", first)
	}
	if first.Metadata["external_key"] != "PROJ-7" {
		t.Errorf("metadata = %v", first.Metadata)
	}

	second := rec.events[1]
	if second.Severity != SeverityCritical || second.Outcome != OutcomeFailure {
		t.Errorf("second = %+v", second)
	}
	if second.Reason != "completion timed out" {
		t.Errorf("reason = %q", second.Reason)
	}
}

func TestHook_StepEventsUseStepCategory(t *testing.T) {
	rec := &captureRecorder{}
	h := New(rec)
	w := testItem()

	if err := h.OnStepCompleted(context.Background(), w, "analyze", 42*time.Millisecond); err != nil {
		t.Fatalf("step completed: %v", err)
	}
	evt := rec.events[0]
	if evt.Category != CategoryStep {
		t.Errorf("category = %q, want %q", evt.Category, CategoryStep)
	}
	if evt.Metadata["step_name"] != "analyze" {
		t.Errorf("metadata = %v", evt.Metadata)
	}
}

func TestHook_WithActionsFilters(t *testing.T) {
	rec := &captureRecorder{}
	h := New(rec, WithActions(ActionItemFailed))
	ctx := context.Background()
	w := testItem()

	if err := h.OnItemTriggered(ctx, w); err != nil {
		t.Fatalf("triggered: %v", err)
	}
	if err := h.OnItemRetrying(ctx, w, 1, time.Now()); err != nil {
		t.Fatalf("retrying: %v", err)
	}
	if err := h.OnItemFailed(ctx, w, errors.New("boom")); err != nil {
		t.Fatalf("failed: %v", err)
	}

	if len(rec.events) != 1 || rec.events[0].Action != ActionItemFailed {
		t.Errorf("events = %+v", rec.events)
	}
}

func TestHook_RecorderFailureIsSwallowed(t *testing.T) {
	rec := &captureRecorder{err: errors.New("audit backend down")}
	h := New(rec, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	if err := h.OnItemCompleted(context.Background(), testItem()); err != nil {
		t.Errorf("recorder failure must not propagate, got %v", err)
	}
}

func TestHook_RetentionAndShutdownEvents(t *testing.T) {
	rec := &captureRecorder{}
	h := New(rec)
	ctx := context.Background()

	if err := h.OnCheckpointsExpired(ctx, 12); err != nil {
		t.Fatalf("expired: %v", err)
	}
	if err := h.OnShutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	if rec.events[0].Category != CategoryRetention || rec.events[0].Metadata["count"] != int64(12) {
		t.Errorf("retention event = %+v", rec.events[0])
	}
	if rec.events[1].Resource != ResourceEngine {
		t.Errorf("shutdown event = %+v", rec.events[1])
	}
}
