package hook_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/mikaelliljedahl/PRFactory-sub003/hook"
	"github.com/mikaelliljedahl/PRFactory-sub003/item"
)

// allEventsHook implements every lifecycle event for testing.
type allEventsHook struct {
	calls []string
}

func (h *allEventsHook) Name() string { return "all-events" }

func (h *allEventsHook) OnItemTriggered(_ context.Context, _ *item.WorkItem) error {
	h.calls = append(h.calls, "OnItemTriggered")
	return nil
}

func (h *allEventsHook) OnItemStarted(_ context.Context, _ *item.WorkItem) error {
	h.calls = append(h.calls, "OnItemStarted")
	return nil
}

func (h *allEventsHook) OnItemSuspended(_ context.Context, _ *item.WorkItem, _ string) error {
	h.calls = append(h.calls, "OnItemSuspended")
	return nil
}

func (h *allEventsHook) OnItemResumed(_ context.Context, _ *item.WorkItem, _ string) error {
	h.calls = append(h.calls, "OnItemResumed")
	return nil
}

func (h *allEventsHook) OnItemCompleted(_ context.Context, _ *item.WorkItem) error {
	h.calls = append(h.calls, "OnItemCompleted")
	return nil
}

func (h *allEventsHook) OnItemFailed(_ context.Context, _ *item.WorkItem, _ error) error {
	h.calls = append(h.calls, "OnItemFailed")
	return nil
}

func (h *allEventsHook) OnItemRetrying(_ context.Context, _ *item.WorkItem, _ int, _ time.Time) error {
	h.calls = append(h.calls, "OnItemRetrying")
	return nil
}

func (h *allEventsHook) OnStepCompleted(_ context.Context, _ *item.WorkItem, _ string, _ time.Duration) error {
	h.calls = append(h.calls, "OnStepCompleted")
	return nil
}

func (h *allEventsHook) OnStepFailed(_ context.Context, _ *item.WorkItem, _ string, _ error) error {
	h.calls = append(h.calls, "OnStepFailed")
	return nil
}

func (h *allEventsHook) OnCheckpointsExpired(_ context.Context, _ int64) error {
	h.calls = append(h.calls, "OnCheckpointsExpired")
	return nil
}

func (h *allEventsHook) OnShutdown(_ context.Context) error {
	h.calls = append(h.calls, "OnShutdown")
	return nil
}

// itemOnlyHook only implements item outcome events.
type itemOnlyHook struct {
	calls []string
}

func (h *itemOnlyHook) Name() string { return "item-only" }

func (h *itemOnlyHook) OnItemTriggered(_ context.Context, _ *item.WorkItem) error {
	h.calls = append(h.calls, "OnItemTriggered")
	return nil
}

func (h *itemOnlyHook) OnItemCompleted(_ context.Context, _ *item.WorkItem) error {
	h.calls = append(h.calls, "OnItemCompleted")
	return nil
}

// failingHook returns errors from every event it implements.
type failingHook struct{}

func (h *failingHook) Name() string { return "failing" }

func (h *failingHook) OnItemTriggered(_ context.Context, _ *item.WorkItem) error {
	return errors.New("boom")
}

func (h *failingHook) OnShutdown(_ context.Context) error {
	return errors.New("shutdown boom")
}

func TestRegistry_RegisterDiscoversInterfaces(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	all := &allEventsHook{}
	r.Register(all)

	if got := len(r.Hooks()); got != 1 {
		t.Fatalf("expected 1 hook, got %d", got)
	}
	if got := r.Hooks()[0].Name(); got != "all-events" {
		t.Fatalf("expected name 'all-events', got %q", got)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	all := &allEventsHook{}
	io := &itemOnlyHook{}
	r.Register(all)
	r.Register(io)

	ctx := context.Background()
	w := item.New("tenant-a", "PROJ-1")

	// Both implement OnItemTriggered → both called.
	r.EmitItemTriggered(ctx, w)
	if len(all.calls) != 1 || all.calls[0] != "OnItemTriggered" {
		t.Fatalf("all: expected [OnItemTriggered], got %v", all.calls)
	}
	if len(io.calls) != 1 || io.calls[0] != "OnItemTriggered" {
		t.Fatalf("io: expected [OnItemTriggered], got %v", io.calls)
	}

	// Only all implements OnItemStarted → io not called.
	r.EmitItemStarted(ctx, w)
	if len(all.calls) != 2 || all.calls[1] != "OnItemStarted" {
		t.Fatalf("all: expected OnItemStarted as 2nd, got %v", all.calls)
	}
	if len(io.calls) != 1 {
		t.Fatalf("io: should still have 1 call, got %v", io.calls)
	}
}

func TestRegistry_AllEventsFire(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	all := &allEventsHook{}
	r.Register(all)

	ctx := context.Background()
	w := item.New("tenant-a", "PROJ-1")

	r.EmitItemTriggered(ctx, w)
	r.EmitItemStarted(ctx, w)
	r.EmitItemSuspended(ctx, w, "awaiting_answers")
	r.EmitItemResumed(ctx, w, "ingest_answers")
	r.EmitStepCompleted(ctx, w, "analyze", time.Second)
	r.EmitStepFailed(ctx, w, "analyze", errors.New("fail"))
	r.EmitItemRetrying(ctx, w, 1, time.Now())
	r.EmitItemCompleted(ctx, w)
	r.EmitItemFailed(ctx, w, errors.New("fail"))
	r.EmitCheckpointsExpired(ctx, 3)
	r.EmitShutdown(ctx)

	expected := []string{
		"OnItemTriggered", "OnItemStarted", "OnItemSuspended", "OnItemResumed",
		"OnStepCompleted", "OnStepFailed", "OnItemRetrying", "OnItemCompleted",
		"OnItemFailed", "OnCheckpointsExpired", "OnShutdown",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_HookErrorsAreSwallowed(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	r.Register(&failingHook{})
	ok := &itemOnlyHook{}
	r.Register(ok)

	ctx := context.Background()
	w := item.New("tenant-a", "PROJ-1")

	// Must not panic, and later hooks must still run.
	r.EmitItemTriggered(ctx, w)
	r.EmitShutdown(ctx)

	if len(ok.calls) != 1 || ok.calls[0] != "OnItemTriggered" {
		t.Fatalf("later hook should still fire, got %v", ok.calls)
	}
}

func TestRegistry_EmptyRegistryIsNoOp(t *testing.T) {
	r := hook.NewRegistry(slog.Default())
	ctx := context.Background()
	w := item.New("tenant-a", "PROJ-1")

	r.EmitItemCompleted(ctx, w)
	r.EmitShutdown(ctx)
}
