// Package item defines the WorkItem entity — the unit of work moving
// through refinement, planning, and implementation — and its store
// interface. Phase changes go through SetPhase so the state model is
// enforced on every mutation, including administrative ones.
package item

import (
	"fmt"
	"time"

	prfactory "github.com/mikaelliljedahl/PRFactory-sub003"
	"github.com/mikaelliljedahl/PRFactory-sub003/id"
	"github.com/mikaelliljedahl/PRFactory-sub003/state"
)

// WorkItem is the unit being processed: a ticket moving through the
// multi-phase process. It is never hard-deleted; terminal items are
// soft-archived.
type WorkItem struct {
	prfactory.Entity

	ID          id.WorkItemID `json:"id"`
	TenantID    string        `json:"tenant_id"`
	ExternalKey string        `json:"external_key"`
	Phase       state.Phase   `json:"phase"`
	RetryCount  int           `json:"retry_count"`
	LastError   string        `json:"last_error,omitempty"`
	Archived    bool          `json:"archived"`
	ArchivedAt  *time.Time    `json:"archived_at,omitempty"`
}

// New creates a WorkItem in the Triggered phase for the given tenant and
// external reference key (e.g. an issue key).
func New(tenantID, externalKey string) *WorkItem {
	return &WorkItem{
		Entity:      prfactory.NewEntity(),
		ID:          id.NewWorkItemID(),
		TenantID:    tenantID,
		ExternalKey: externalKey,
		Phase:       state.Triggered,
	}
}

// SetPhase moves the work item to a new phase, validating the edge
// against the state model. Setting the phase the item is already in is
// a no-op, so a replayed step that repeats its transition stays
// idempotent. An illegal transition is rejected, never silently
// coerced.
func (w *WorkItem) SetPhase(to state.Phase) error {
	if to == w.Phase {
		return nil
	}
	if err := state.Transition(w.Phase, to); err != nil {
		return err
	}
	w.Phase = to
	w.Touch()
	return nil
}

// Archive soft-archives a terminal work item. Archiving a non-terminal
// item is a programming error and is rejected.
func (w *WorkItem) Archive() error {
	if !state.IsTerminal(w.Phase) {
		return fmt.Errorf("item: archive %s: phase %q is not terminal", w.ID, w.Phase)
	}
	now := time.Now().UTC()
	w.Archived = true
	w.ArchivedAt = &now
	w.Touch()
	return nil
}
