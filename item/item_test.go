package item_test

import (
	"errors"
	"testing"

	"github.com/mikaelliljedahl/PRFactory-sub003/item"
	"github.com/mikaelliljedahl/PRFactory-sub003/state"
)

func TestNew(t *testing.T) {
	w := item.New("tenant-a", "PROJ-42")
	if w.ID.IsNil() {
		t.Fatal("expected a generated ID")
	}
	if w.Phase != state.Triggered {
		t.Errorf("expected Triggered, got %q", w.Phase)
	}
	if w.TenantID != "tenant-a" || w.ExternalKey != "PROJ-42" {
		t.Errorf("identity fields not set: %+v", w)
	}
	if w.CreatedAt.IsZero() || w.UpdatedAt.IsZero() {
		t.Error("expected entity timestamps")
	}
}

func TestSetPhase(t *testing.T) {
	w := item.New("tenant-a", "PROJ-42")

	if err := w.SetPhase(state.Analyzing); err != nil {
		t.Fatalf("legal transition rejected: %v", err)
	}
	if w.Phase != state.Analyzing {
		t.Errorf("phase not updated, got %q", w.Phase)
	}

	// Re-setting the current phase is a no-op, so a replayed step that
	// already moved the item does not fail its retry.
	if err := w.SetPhase(state.Analyzing); err != nil {
		t.Fatalf("same-phase set rejected: %v", err)
	}
	if w.Phase != state.Analyzing {
		t.Errorf("phase changed on no-op set: %q", w.Phase)
	}

	// Illegal edge is rejected and the phase is untouched.
	err := w.SetPhase(state.Completed)
	var ite *state.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected *InvalidTransitionError, got %v", err)
	}
	if w.Phase != state.Analyzing {
		t.Errorf("phase mutated on rejected transition: %q", w.Phase)
	}
}

func TestArchive(t *testing.T) {
	w := item.New("tenant-a", "PROJ-42")

	// Archiving a non-terminal item is rejected.
	if err := w.Archive(); err == nil {
		t.Fatal("expected error archiving non-terminal item")
	}

	if err := w.SetPhase(state.Cancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := w.Archive(); err != nil {
		t.Fatalf("archive terminal item: %v", err)
	}
	if !w.Archived || w.ArchivedAt == nil {
		t.Error("expected archived flags set")
	}
}
