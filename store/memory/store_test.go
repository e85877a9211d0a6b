package memory_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	prfactory "github.com/mikaelliljedahl/PRFactory-sub003"
	"github.com/mikaelliljedahl/PRFactory-sub003/checkpoint"
	"github.com/mikaelliljedahl/PRFactory-sub003/id"
	"github.com/mikaelliljedahl/PRFactory-sub003/item"
	"github.com/mikaelliljedahl/PRFactory-sub003/queue"
	"github.com/mikaelliljedahl/PRFactory-sub003/state"
	"github.com/mikaelliljedahl/PRFactory-sub003/store/memory"
)

func TestWorkItemCreateAndGet(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	w := item.New("tenant-a", "PROJ-1")
	if err := s.CreateWorkItem(ctx, w); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetWorkItem(ctx, "tenant-a", w.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ExternalKey != "PROJ-1" || got.Phase != state.Triggered {
		t.Errorf("unexpected item: %+v", got)
	}

	// Returned item is a copy.
	got.ExternalKey = "mutated"
	again, err := s.GetWorkItem(ctx, "tenant-a", w.ID)
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if again.ExternalKey != "PROJ-1" {
		t.Error("store row was mutated through a returned copy")
	}
}

func TestWorkItemExternalKeyUniquePerTenant(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	if err := s.CreateWorkItem(ctx, item.New("tenant-a", "PROJ-1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	err := s.CreateWorkItem(ctx, item.New("tenant-a", "PROJ-1"))
	if !errors.Is(err, prfactory.ErrWorkItemExists) {
		t.Fatalf("expected ErrWorkItemExists, got %v", err)
	}

	// Same key in another tenant is fine.
	if err := s.CreateWorkItem(ctx, item.New("tenant-b", "PROJ-1")); err != nil {
		t.Fatalf("create in tenant-b: %v", err)
	}
}

func TestWorkItemTenantIsolation(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	w := item.New("tenant-a", "PROJ-1")
	if err := s.CreateWorkItem(ctx, w); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := s.GetWorkItem(ctx, "tenant-b", w.ID); !errors.Is(err, prfactory.ErrWorkItemNotFound) {
		t.Fatalf("cross-tenant get should be not-found, got %v", err)
	}
	if _, err := s.GetWorkItemByExternalKey(ctx, "tenant-b", "PROJ-1"); !errors.Is(err, prfactory.ErrWorkItemNotFound) {
		t.Fatalf("cross-tenant key lookup should be not-found, got %v", err)
	}

	items, err := s.ListWorkItems(ctx, "tenant-b", item.ListOpts{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("tenant-b should see no items, got %d", len(items))
	}
}

func TestWorkItemUpdateRejectsIllegalPhase(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	w := item.New("tenant-a", "PROJ-1")
	if err := s.CreateWorkItem(ctx, w); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Bypass SetPhase deliberately: the store must still reject it.
	w.Phase = state.Completed
	err := s.UpdateWorkItem(ctx, w)
	var ite *state.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}

	// A legal successor is accepted.
	w.Phase = state.Analyzing
	if err := s.UpdateWorkItem(ctx, w); err != nil {
		t.Fatalf("legal transition rejected: %v", err)
	}

	// Same phase (non-transition update) is accepted.
	w.LastError = "transient"
	if err := s.UpdateWorkItem(ctx, w); err != nil {
		t.Fatalf("same-phase update rejected: %v", err)
	}
}

func TestListWorkItemsFiltersArchived(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	w := item.New("tenant-a", "PROJ-1")
	if err := s.CreateWorkItem(ctx, w); err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, p := range []state.Phase{state.Analyzing, state.Failed} {
		if err := w.SetPhase(p); err != nil {
			t.Fatalf("set phase %s: %v", p, err)
		}
		if err := s.UpdateWorkItem(ctx, w); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	if err := w.Archive(); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if err := s.UpdateWorkItem(ctx, w); err != nil {
		t.Fatalf("update archived: %v", err)
	}

	items, err := s.ListWorkItems(ctx, "tenant-a", item.ListOpts{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("archived items should be hidden by default, got %d", len(items))
	}

	items, err = s.ListWorkItems(ctx, "tenant-a", item.ListOpts{IncludeArchived: true})
	if err != nil {
		t.Fatalf("list archived: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 archived item, got %d", len(items))
	}
}

func TestSaveCheckpointUpsertsActiveRow(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	itemID := id.NewWorkItemID()

	first, err := s.SaveCheckpoint(ctx, checkpoint.New("tenant-a", itemID, "refinement", "analyze", []byte(`{"a":1}`), "generate_questions"))
	if err != nil {
		t.Fatalf("save first: %v", err)
	}

	second, err := s.SaveCheckpoint(ctx, checkpoint.New("tenant-a", itemID, "refinement", "generate_questions", []byte(`{"a":2}`), "post_questions"))
	if err != nil {
		t.Fatalf("save second: %v", err)
	}

	// Overwritten in place: same row identity, new content.
	if second.ID != first.ID {
		t.Errorf("expected in-place overwrite, got new ID %s (was %s)", second.ID, first.ID)
	}
	if second.Label != "generate_questions" || second.NextStep != "post_questions" {
		t.Errorf("content not overwritten: %+v", second)
	}

	history, err := s.CheckpointHistory(ctx, "tenant-a", itemID, "refinement")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected a single row for the pair, got %d", len(history))
	}
}

func TestSaveCheckpointConcurrentSavesKeepOneActive(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	itemID := id.NewWorkItemID()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.SaveCheckpoint(ctx, checkpoint.New("tenant-a", itemID, "refinement", "analyze", []byte(`{}`), "next"))
			if err != nil {
				t.Errorf("save: %v", err)
			}
		}()
	}
	wg.Wait()

	history, err := s.CheckpointHistory(ctx, "tenant-a", itemID, "refinement")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	active := 0
	for _, c := range history {
		if c.Status == checkpoint.StatusActive {
			active++
		}
	}
	if active != 1 {
		t.Fatalf("expected exactly 1 active checkpoint, got %d", active)
	}
}

func TestCheckpointStateJSONRoundTripsByteExact(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	itemID := id.NewWorkItemID()

	// Key order and whitespace must survive untouched.
	stateJSON := []byte(`{"z":1,  "a": "x", "nested":{"k":[1,2,3]}}`)
	if _, err := s.SaveCheckpoint(ctx, checkpoint.New("tenant-a", itemID, "refinement", "analyze", stateJSON, "next")); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.GetLatestCheckpoint(ctx, "tenant-a", itemID, "refinement")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got.StateJSON, stateJSON) {
		t.Fatalf("state not byte-exact:\nsaved:  %s\nloaded: %s", stateJSON, got.StateJSON)
	}

	// Mutating the returned slice must not reach the store.
	got.StateJSON[0] = 'X'
	again, err := s.GetLatestCheckpoint(ctx, "tenant-a", itemID, "refinement")
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if !bytes.Equal(again.StateJSON, stateJSON) {
		t.Fatal("store state mutated through a returned copy")
	}
}

func TestGetLatestCheckpointIgnoresNonActive(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	itemID := id.NewWorkItemID()

	saved, err := s.SaveCheckpoint(ctx, checkpoint.New("tenant-a", itemID, "refinement", "analyze", []byte(`{}`), "next"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.MarkCheckpointResumed(ctx, saved.ID); err != nil {
		t.Fatalf("mark resumed: %v", err)
	}

	if _, err := s.GetLatestCheckpoint(ctx, "tenant-a", itemID, "refinement"); !errors.Is(err, prfactory.ErrCheckpointNotFound) {
		t.Fatalf("resumed checkpoint should be invisible, got %v", err)
	}

	// Resuming twice is rejected: the row is no longer active.
	if err := s.MarkCheckpointResumed(ctx, saved.ID); !errors.Is(err, prfactory.ErrCheckpointNotFound) {
		t.Fatalf("second resume should be not-found, got %v", err)
	}
}

func TestCheckpointTenantIsolation(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	itemID := id.NewWorkItemID()

	if _, err := s.SaveCheckpoint(ctx, checkpoint.New("tenant-a", itemID, "refinement", "analyze", []byte(`{}`), "next")); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := s.GetLatestCheckpoint(ctx, "tenant-b", itemID, "refinement"); !errors.Is(err, prfactory.ErrCheckpointNotFound) {
		t.Fatalf("cross-tenant read should be not-found, got %v", err)
	}
}

func TestExpireCheckpointsIsIdempotent(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.SaveCheckpoint(ctx, checkpoint.New("tenant-a", id.NewWorkItemID(), "refinement", "analyze", []byte(`{}`), "next")); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	cutoff := time.Now().UTC().Add(time.Hour)
	n, err := s.ExpireCheckpoints(ctx, cutoff)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 expired, got %d", n)
	}

	// Second sweep with the same cutoff touches nothing.
	n, err = s.ExpireCheckpoints(ctx, cutoff)
	if err != nil {
		t.Fatalf("expire again: %v", err)
	}
	if n != 0 {
		t.Fatalf("repeat sweep should expire 0, got %d", n)
	}
}

func TestDeleteCheckpointIsSoft(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	itemID := id.NewWorkItemID()

	saved, err := s.SaveCheckpoint(ctx, checkpoint.New("tenant-a", itemID, "refinement", "analyze", []byte(`{}`), "next"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.DeleteCheckpoint(ctx, saved.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	history, err := s.CheckpointHistory(ctx, "tenant-a", itemID, "")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Status != checkpoint.StatusDeleted {
		t.Fatalf("deleted row should remain in history, got %+v", history)
	}
}

func TestEnqueueRequestRejectsSecondOpenRequest(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	itemID := id.NewWorkItemID()

	if err := s.EnqueueRequest(ctx, queue.NewStart("tenant-a", itemID, "refinement")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	err := s.EnqueueRequest(ctx, queue.NewResume("tenant-a", itemID, "refinement", nil))
	if !errors.Is(err, prfactory.ErrPendingRequest) {
		t.Fatalf("expected ErrPendingRequest, got %v", err)
	}
}

func TestPollPendingClaimsAtomically(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	const total = 50
	for i := 0; i < total; i++ {
		if err := s.EnqueueRequest(ctx, queue.NewStart("tenant-a", id.NewWorkItemID(), "refinement")); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	// Two pollers racing over the same backlog must never share a claim.
	results := make([][]*queue.Request, 2)
	var wg sync.WaitGroup
	for p := 0; p < 2; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			workerID := id.NewWorkerID()
			for {
				batch, err := s.PollPending(ctx, workerID, 10)
				if err != nil {
					t.Errorf("poll: %v", err)
					return
				}
				if len(batch) == 0 {
					return
				}
				results[p] = append(results[p], batch...)
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[string]bool)
	claimed := 0
	for _, rs := range results {
		for _, r := range rs {
			if seen[r.ID.String()] {
				t.Fatalf("request %s claimed twice", r.ID)
			}
			seen[r.ID.String()] = true
			claimed++
		}
	}
	if claimed != total {
		t.Fatalf("expected %d claims, got %d", total, claimed)
	}
}

func TestPollSeparatesStartAndResume(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	if err := s.EnqueueRequest(ctx, queue.NewStart("tenant-a", id.NewWorkItemID(), "refinement")); err != nil {
		t.Fatalf("enqueue start: %v", err)
	}
	if err := s.EnqueueRequest(ctx, queue.NewResume("tenant-a", id.NewWorkItemID(), "planning", []byte(`{"approved":true}`))); err != nil {
		t.Fatalf("enqueue resume: %v", err)
	}

	workerID := id.NewWorkerID()
	starts, err := s.PollPending(ctx, workerID, 10)
	if err != nil {
		t.Fatalf("poll pending: %v", err)
	}
	if len(starts) != 1 || starts[0].Kind != queue.KindStart {
		t.Fatalf("expected 1 start request, got %v", starts)
	}

	resumes, err := s.PollResumable(ctx, workerID, 10)
	if err != nil {
		t.Fatalf("poll resumable: %v", err)
	}
	if len(resumes) != 1 || resumes[0].Kind != queue.KindResume {
		t.Fatalf("expected 1 resume request, got %v", resumes)
	}
	if resumes[0].State != queue.StateClaimed || resumes[0].ClaimedBy != workerID {
		t.Errorf("claim not recorded: %+v", resumes[0])
	}
}

func TestPollSkipsFutureRunAt(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	r := queue.NewStart("tenant-a", id.NewWorkItemID(), "refinement")
	r.RunAt = time.Now().UTC().Add(time.Hour)
	if err := s.EnqueueRequest(ctx, r); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	batch, err := s.PollPending(ctx, id.NewWorkerID(), 10)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(batch) != 0 {
		t.Fatalf("future request should not be claimable, got %d", len(batch))
	}
}

func TestReapStaleRequestsResetsOnlyExpiredClaims(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	workerID := id.NewWorkerID()

	stale := queue.NewStart("tenant-a", id.NewWorkItemID(), "refinement")
	fresh := queue.NewStart("tenant-a", id.NewWorkItemID(), "refinement")
	for _, r := range []*queue.Request{stale, fresh} {
		if err := s.EnqueueRequest(ctx, r); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	claimed, err := s.PollPending(ctx, workerID, 10)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("claimed %d requests, want 2", len(claimed))
	}

	// Age one claim past the threshold, as if its worker died an hour ago.
	for _, r := range claimed {
		if r.ID == stale.ID {
			past := time.Now().UTC().Add(-time.Hour)
			r.ClaimedAt = &past
			if err := s.UpdateRequest(ctx, r); err != nil {
				t.Fatalf("backdate claim: %v", err)
			}
		}
	}

	reaped, err := s.ReapStaleRequests(ctx, time.Minute)
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if len(reaped) != 1 || reaped[0].ID != stale.ID {
		t.Fatalf("reaped %v, want only the stale request", reaped)
	}
	if reaped[0].State != queue.StatePending || !reaped[0].ClaimedBy.IsNil() || reaped[0].ClaimedAt != nil {
		t.Errorf("reaped request not reset: %+v", reaped[0])
	}

	// The reset request is claimable again; the fresh claim is untouched.
	batch, err := s.PollPending(ctx, id.NewWorkerID(), 10)
	if err != nil {
		t.Fatalf("re-poll: %v", err)
	}
	if len(batch) != 1 || batch[0].ID != stale.ID {
		t.Fatalf("re-poll claimed %v, want the reaped request", batch)
	}
	kept, err := s.GetRequest(ctx, "tenant-a", fresh.ID)
	if err != nil {
		t.Fatalf("get fresh: %v", err)
	}
	if kept.State != queue.StateClaimed || kept.ClaimedBy != workerID {
		t.Errorf("fresh claim disturbed: %+v", kept)
	}

	// A second pass finds nothing left to reap.
	reaped, err = s.ReapStaleRequests(ctx, time.Minute)
	if err != nil {
		t.Fatalf("second reap: %v", err)
	}
	if len(reaped) != 0 {
		t.Errorf("second reap returned %v, want none", reaped)
	}
}
