package graph_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	prfactory "github.com/mikaelliljedahl/PRFactory-sub003"
	"github.com/mikaelliljedahl/PRFactory-sub003/checkpoint"
	"github.com/mikaelliljedahl/PRFactory-sub003/graph"
	"github.com/mikaelliljedahl/PRFactory-sub003/id"
	"github.com/mikaelliljedahl/PRFactory-sub003/item"
	"github.com/mikaelliljedahl/PRFactory-sub003/store/memory"
)

// recEmitter records emitted lifecycle events.
type recEmitter struct {
	events []string
}

func (e *recEmitter) EmitStepCompleted(_ context.Context, _ *item.WorkItem, stepName string, _ time.Duration) {
	e.events = append(e.events, "completed:"+stepName)
}

func (e *recEmitter) EmitStepFailed(_ context.Context, _ *item.WorkItem, stepName string, _ error) {
	e.events = append(e.events, "failed:"+stepName)
}

func (e *recEmitter) EmitItemSuspended(_ context.Context, _ *item.WorkItem, nextStep string) {
	e.events = append(e.events, "suspended:"+nextStep)
}

func (e *recEmitter) EmitItemResumed(_ context.Context, _ *item.WorkItem, fromStep string) {
	e.events = append(e.events, "resumed:"+fromStep)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRunner(t *testing.T) (*graph.Runner, *memory.Store, *recEmitter) {
	t.Helper()
	s := memory.New()
	em := &recEmitter{}
	r := graph.NewRunner(graph.NewRegistry(), s, s, nil, em, testLogger())
	return r, s, em
}

func createItem(t *testing.T, s *memory.Store) *item.WorkItem {
	t.Helper()
	w := item.New("tenant-a", "PROJ-1")
	if err := s.CreateWorkItem(context.Background(), w); err != nil {
		t.Fatalf("create work item: %v", err)
	}
	return w
}

// step returns a StepFunc that counts its invocations.
func step(counts map[string]int, name string, dec graph.Decision) graph.Step {
	return graph.Step{Name: name, Run: func(_ context.Context, _ *graph.Execution) (graph.Decision, error) {
		counts[name]++
		return dec, nil
	}}
}

func TestRunner_CompletesLinearGraph(t *testing.T) {
	r, s, em := newTestRunner(t)
	counts := make(map[string]int)

	r.Registry().MustRegister(graph.New("lin",
		step(counts, "one", graph.Decision{}),
		step(counts, "two", graph.Decision{}),
		step(counts, "three", graph.Decision{}),
	))

	w := createItem(t, s)
	res, err := r.Start(context.Background(), w, "lin", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.Outcome != graph.OutcomeCompleted {
		t.Fatalf("outcome = %q, want completed", res.Outcome)
	}
	for _, name := range []string{"one", "two", "three"} {
		if counts[name] != 1 {
			t.Errorf("step %q ran %d times, want 1", name, counts[name])
		}
	}

	// The final step is checkpointed too, with nothing left to run.
	cp, err := s.GetLatestCheckpoint(context.Background(), "tenant-a", w.ID, "lin")
	if err != nil {
		t.Fatalf("latest checkpoint: %v", err)
	}
	if cp.Label != "three" || cp.NextStep != "" {
		t.Errorf("final checkpoint = label %q next %q, want three/empty", cp.Label, cp.NextStep)
	}

	want := []string{"completed:one", "completed:two", "completed:three"}
	if len(em.events) != len(want) {
		t.Fatalf("events = %v, want %v", em.events, want)
	}
}

func TestRunner_SuspendAndResume(t *testing.T) {
	r, s, em := newTestRunner(t)
	counts := make(map[string]int)

	var sawPayload []byte
	r.Registry().MustRegister(graph.New("susp",
		graph.Step{Name: "gather", Run: func(_ context.Context, ex *graph.Execution) (graph.Decision, error) {
			counts["gather"]++
			if err := ex.Put("questions", []string{"q1", "q2"}); err != nil {
				return graph.Decision{}, err
			}
			return graph.Decision{}, nil
		}},
		step(counts, "post", graph.Decision{Suspend: true}),
		graph.Step{Name: "ingest", Run: func(_ context.Context, ex *graph.Execution) (graph.Decision, error) {
			counts["ingest"]++
			if !ex.Resumed() {
				t.Error("ingest should see a resumed execution")
			}
			sawPayload = ex.ResumePayload()

			var qs []string
			if err := ex.Get("questions", &qs); err != nil {
				return graph.Decision{}, err
			}
			if len(qs) != 2 {
				t.Errorf("state bag lost questions: %v", qs)
			}
			return graph.Decision{}, nil
		}},
	))

	w := createItem(t, s)
	ctx := context.Background()

	res, err := r.Start(ctx, w, "susp", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.Outcome != graph.OutcomeSuspended || res.NextStep != "ingest" {
		t.Fatalf("result = %+v, want suspended at ingest", res)
	}
	if counts["ingest"] != 0 {
		t.Fatal("ingest ran before resume")
	}

	res, err = r.Resume(ctx, w, "susp", []byte(`{"answers":{}}`))
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if res.Outcome != graph.OutcomeCompleted {
		t.Fatalf("outcome = %q, want completed", res.Outcome)
	}
	if counts["gather"] != 1 || counts["post"] != 1 || counts["ingest"] != 1 {
		t.Errorf("steps re-executed: %v", counts)
	}
	if string(sawPayload) != `{"answers":{}}` {
		t.Errorf("resume payload = %q", sawPayload)
	}

	// The suspension checkpoint transitioned to resumed; the completed
	// run left a fresh active row.
	history, err := s.CheckpointHistory(ctx, "tenant-a", w.ID, "susp")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var resumed, active int
	for _, c := range history {
		switch c.Status {
		case checkpoint.StatusResumed:
			resumed++
		case checkpoint.StatusActive:
			active++
		}
	}
	if resumed != 1 || active != 1 {
		t.Errorf("history statuses: resumed=%d active=%d, want 1/1", resumed, active)
	}

	want := []string{
		"completed:gather", "completed:post", "suspended:ingest",
		"resumed:ingest", "completed:ingest",
	}
	if len(em.events) != len(want) {
		t.Fatalf("events = %v, want %v", em.events, want)
	}
	for i := range want {
		if em.events[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, em.events[i], want[i])
		}
	}
}

func TestRunner_ResumeWithoutCheckpointIsOrphaned(t *testing.T) {
	r, s, _ := newTestRunner(t)
	counts := make(map[string]int)
	r.Registry().MustRegister(graph.New("g", step(counts, "one", graph.Decision{})))

	w := createItem(t, s)
	_, err := r.Resume(context.Background(), w, "g", nil)
	if !errors.Is(err, prfactory.ErrOrphanedResume) {
		t.Fatalf("expected ErrOrphanedResume, got %v", err)
	}
	if counts["one"] != 0 {
		t.Error("no step should run on an orphaned resume")
	}
}

func TestRunner_ResumeAfterCompletionIsOrphaned(t *testing.T) {
	r, s, _ := newTestRunner(t)
	counts := make(map[string]int)
	r.Registry().MustRegister(graph.New("g", step(counts, "one", graph.Decision{})))

	w := createItem(t, s)
	ctx := context.Background()
	if _, err := r.Start(ctx, w, "g", nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	_, err := r.Resume(ctx, w, "g", nil)
	if !errors.Is(err, prfactory.ErrOrphanedResume) {
		t.Fatalf("expected ErrOrphanedResume, got %v", err)
	}
}

func TestRunner_FailedFirstResumedStepKeepsCheckpointActive(t *testing.T) {
	r, s, _ := newTestRunner(t)
	counts := make(map[string]int)
	boom := errors.New("ticketing unavailable")

	r.Registry().MustRegister(graph.New("susp",
		step(counts, "post", graph.Decision{Suspend: true}),
		graph.Step{Name: "ingest", Run: func(_ context.Context, _ *graph.Execution) (graph.Decision, error) {
			counts["ingest"]++
			if counts["ingest"] == 1 {
				return graph.Decision{}, boom
			}
			return graph.Decision{}, nil
		}},
	))

	w := createItem(t, s)
	ctx := context.Background()
	if _, err := r.Start(ctx, w, "susp", nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := r.Resume(ctx, w, "susp", []byte(`{}`)); !errors.Is(err, boom) {
		t.Fatalf("expected step error from first resume, got %v", err)
	}

	// The suspension checkpoint survives the failure, so the retried
	// resume finds it instead of reporting an orphan.
	cp, err := s.GetLatestCheckpoint(ctx, "tenant-a", w.ID, "susp")
	if err != nil {
		t.Fatalf("checkpoint after failed resume: %v", err)
	}
	if cp.NextStep != "ingest" {
		t.Fatalf("checkpoint next step = %q, want ingest", cp.NextStep)
	}

	res, err := r.Resume(ctx, w, "susp", []byte(`{}`))
	if err != nil {
		t.Fatalf("retried resume: %v", err)
	}
	if res.Outcome != graph.OutcomeCompleted {
		t.Fatalf("outcome = %q, want completed", res.Outcome)
	}
	if counts["post"] != 1 || counts["ingest"] != 2 {
		t.Errorf("unexpected execution counts: %v", counts)
	}

	// Only the successful resume retired the suspension checkpoint.
	history, err := s.CheckpointHistory(ctx, "tenant-a", w.ID, "susp")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var resumed, active int
	for _, c := range history {
		switch c.Status {
		case checkpoint.StatusResumed:
			resumed++
		case checkpoint.StatusActive:
			active++
		}
	}
	if resumed != 1 || active != 1 {
		t.Errorf("history statuses: resumed=%d active=%d, want 1/1", resumed, active)
	}
}

// retiredCkpts reports every checkpoint as already gone when the runner
// tries to retire it, as a second worker racing on the same resume
// would see.
type retiredCkpts struct {
	*memory.Store
}

func (s *retiredCkpts) MarkCheckpointResumed(context.Context, id.CheckpointID) error {
	return prfactory.ErrCheckpointNotFound
}

func TestRunner_ResumeToleratesAlreadyRetiredCheckpoint(t *testing.T) {
	s := memory.New()
	em := &recEmitter{}
	r := graph.NewRunner(graph.NewRegistry(), s, &retiredCkpts{s}, nil, em, testLogger())

	counts := make(map[string]int)
	r.Registry().MustRegister(graph.New("susp",
		step(counts, "post", graph.Decision{Suspend: true}),
		step(counts, "ingest", graph.Decision{}),
	))

	w := createItem(t, s)
	ctx := context.Background()
	if _, err := r.Start(ctx, w, "susp", nil); err != nil {
		t.Fatalf("start: %v", err)
	}

	res, err := r.Resume(ctx, w, "susp", []byte(`{}`))
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if res.Outcome != graph.OutcomeCompleted {
		t.Fatalf("outcome = %q, want completed", res.Outcome)
	}
	if counts["ingest"] != 1 {
		t.Errorf("ingest ran %d times, want 1", counts["ingest"])
	}
}

func TestRunner_StepErrorSurfacesAtBoundary(t *testing.T) {
	r, s, em := newTestRunner(t)
	counts := make(map[string]int)
	boom := errors.New("boom")

	r.Registry().MustRegister(graph.New("g",
		step(counts, "one", graph.Decision{}),
		graph.Step{Name: "two", Run: func(_ context.Context, _ *graph.Execution) (graph.Decision, error) {
			counts["two"]++
			if counts["two"] == 1 {
				return graph.Decision{}, boom
			}
			return graph.Decision{}, nil
		}},
		step(counts, "three", graph.Decision{}),
	))

	w := createItem(t, s)
	ctx := context.Background()

	_, err := r.Start(ctx, w, "g", nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected step error, got %v", err)
	}
	if counts["three"] != 0 {
		t.Error("later step ran after a failure")
	}

	// The failed step was not checkpointed; the run is parked at it.
	cp, err := s.GetLatestCheckpoint(ctx, "tenant-a", w.ID, "g")
	if err != nil {
		t.Fatalf("latest checkpoint: %v", err)
	}
	if cp.Label != "one" || cp.NextStep != "two" {
		t.Errorf("checkpoint = label %q next %q, want one/two", cp.Label, cp.NextStep)
	}

	// A retried start replays from the checkpoint: step one is not
	// executed a second time.
	res, err := r.Start(ctx, w, "g", nil)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if res.Outcome != graph.OutcomeCompleted {
		t.Fatalf("outcome = %q, want completed", res.Outcome)
	}
	if counts["one"] != 1 || counts["two"] != 2 || counts["three"] != 1 {
		t.Errorf("unexpected execution counts: %v", counts)
	}

	if em.events[2] != "failed:two" {
		t.Errorf("expected failed:two as third event, got %v", em.events)
	}
}

func TestRunner_BranchOverridesOrder(t *testing.T) {
	r, s, _ := newTestRunner(t)
	counts := make(map[string]int)

	r.Registry().MustRegister(graph.New("g",
		graph.Step{Name: "review", Run: func(_ context.Context, _ *graph.Execution) (graph.Decision, error) {
			counts["review"]++
			// First pass rejects back to draft, second pass proceeds.
			if counts["review"] == 1 {
				return graph.Decision{NextStep: "draft"}, nil
			}
			return graph.Decision{}, nil
		}},
		graph.Step{Name: "draft", Run: func(_ context.Context, _ *graph.Execution) (graph.Decision, error) {
			counts["draft"]++
			return graph.Decision{NextStep: "review"}, nil
		}},
		step(counts, "publish", graph.Decision{}),
	))

	w := createItem(t, s)
	res, err := r.Start(context.Background(), w, "g", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.Outcome != graph.OutcomeCompleted {
		t.Fatalf("outcome = %q", res.Outcome)
	}
	if counts["review"] != 2 || counts["draft"] != 1 || counts["publish"] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
}

func TestRunner_BranchToUnknownStepFails(t *testing.T) {
	r, s, _ := newTestRunner(t)
	r.Registry().MustRegister(graph.New("g",
		graph.Step{Name: "one", Run: func(_ context.Context, _ *graph.Execution) (graph.Decision, error) {
			return graph.Decision{NextStep: "nowhere"}, nil
		}},
	))

	w := createItem(t, s)
	_, err := r.Start(context.Background(), w, "g", nil)
	if err == nil {
		t.Fatal("expected error for unknown branch target")
	}
}

func TestRunner_UnknownGraph(t *testing.T) {
	r, s, _ := newTestRunner(t)
	w := createItem(t, s)
	_, err := r.Start(context.Background(), w, "missing", nil)
	if !errors.Is(err, prfactory.ErrGraphNotFound) {
		t.Fatalf("expected ErrGraphNotFound, got %v", err)
	}
}

func TestGraph_Validate(t *testing.T) {
	noop := func(_ context.Context, _ *graph.Execution) (graph.Decision, error) {
		return graph.Decision{}, nil
	}

	tests := []struct {
		name    string
		g       *graph.Graph
		wantErr bool
	}{
		{"valid", graph.New("g", graph.Step{Name: "a", Run: noop}), false},
		{"empty id", graph.New("", graph.Step{Name: "a", Run: noop}), true},
		{"no steps", graph.New("g"), true},
		{"unnamed step", graph.New("g", graph.Step{Run: noop}), true},
		{"nil handler", graph.New("g", graph.Step{Name: "a"}), true},
		{"duplicate names", graph.New("g", graph.Step{Name: "a", Run: noop}, graph.Step{Name: "a", Run: noop}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.g.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
