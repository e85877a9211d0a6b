package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mikaelliljedahl/PRFactory-sub003/backoff"
	"github.com/mikaelliljedahl/PRFactory-sub003/id"
	"github.com/mikaelliljedahl/PRFactory-sub003/item"
	"github.com/mikaelliljedahl/PRFactory-sub003/state"
)

// Emitter emits work item outcome events. The hook registry satisfies
// this interface; it is declared here to avoid an import cycle.
type Emitter interface {
	EmitItemCompleted(ctx context.Context, w *item.WorkItem)
	EmitItemFailed(ctx context.Context, w *item.WorkItem, err error)
	EmitItemRetrying(ctx context.Context, w *item.WorkItem, attempt int, nextRunAt time.Time)
}

// Service records execution outcomes on the queue and owns the retry
// policy: exponential backoff up to a configured maximum, after which the
// work item is forced to Failed. Keeping retry here (and not in the graph
// runner) keeps the two concerns separable and independently testable.
type Service struct {
	store      Store
	items      item.Store
	bo         backoff.Strategy
	maxRetries int
	emitter    Emitter
	logger     *slog.Logger
}

// NewService creates an outcome service.
func NewService(
	store Store,
	items item.Store,
	bo backoff.Strategy,
	maxRetries int,
	emitter Emitter,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:      store,
		items:      items,
		bo:         bo,
		maxRetries: maxRetries,
		emitter:    emitter,
		logger:     logger,
	}
}

// Store returns the underlying queue store.
func (s *Service) Store() Store { return s.store }

// MarkCompleted finishes a claimed request. Used for both completed and
// suspended outcomes — a suspended work item waits for a fresh resume
// request, so the current one is done either way. Terminal work items are
// soft-archived here.
func (s *Service) MarkCompleted(ctx context.Context, r *Request, w *item.WorkItem) error {
	now := time.Now().UTC()
	r.State = StateCompleted
	r.CompletedAt = &now
	r.Touch()

	if err := s.store.UpdateRequest(ctx, r); err != nil {
		return fmt.Errorf("queue: mark request %s completed: %w", r.ID, err)
	}

	if state.IsTerminal(w.Phase) && !w.Archived {
		if err := w.Archive(); err != nil {
			return fmt.Errorf("queue: archive work item %s: %w", w.ID, err)
		}
		if err := s.items.UpdateWorkItem(ctx, w); err != nil {
			return fmt.Errorf("queue: persist archived work item %s: %w", w.ID, err)
		}
	}

	s.emitter.EmitItemCompleted(ctx, w)
	return nil
}

// HandleFailure applies the retry policy to a transient step failure.
// While retries remain, the work item's retry counter is incremented and
// the request is re-queued with an exponential backoff delay. Once the
// counter reaches the configured maximum the item is forced to Failed and
// never retried again.
func (s *Service) HandleFailure(ctx context.Context, r *Request, w *item.WorkItem, cause error) error {
	if w.RetryCount >= s.maxRetries {
		return s.ForceFail(ctx, r, w, cause)
	}

	w.RetryCount++
	w.LastError = cause.Error()
	w.Touch()
	if err := s.items.UpdateWorkItem(ctx, w); err != nil {
		return fmt.Errorf("queue: persist retry count for %s: %w", w.ID, err)
	}

	delay := s.bo.Delay(w.RetryCount)
	nextRunAt := time.Now().UTC().Add(delay)

	r.Attempt++
	r.State = StateRetrying
	r.RunAt = nextRunAt
	r.LastError = cause.Error()
	r.ClaimedBy = id.WorkerID{} // Clear the worker assignment.
	r.ClaimedAt = nil
	r.Touch()
	if err := s.store.UpdateRequest(ctx, r); err != nil {
		return fmt.Errorf("queue: reschedule request %s: %w", r.ID, err)
	}

	s.logger.Info("retry scheduled",
		slog.String("work_item_id", w.ID.String()),
		slog.Int("retry_count", w.RetryCount),
		slog.Duration("delay", delay),
	)
	s.emitter.EmitItemRetrying(ctx, w, w.RetryCount, nextRunAt)
	return nil
}

// ForceFail marks a request and its work item terminally failed. Used for
// retry exhaustion and for errors that must never be retried (invalid
// transitions, orphaned resumes, corrupt checkpoint state). The work
// item's LastError and Failed phase are the durable record any UI or
// audit surface reads.
func (s *Service) ForceFail(ctx context.Context, r *Request, w *item.WorkItem, cause error) error {
	now := time.Now().UTC()
	r.State = StateFailed
	r.CompletedAt = &now
	r.LastError = cause.Error()
	r.Touch()
	if err := s.store.UpdateRequest(ctx, r); err != nil {
		return fmt.Errorf("queue: mark request %s failed: %w", r.ID, err)
	}

	w.LastError = cause.Error()
	if !state.IsTerminal(w.Phase) {
		if err := w.SetPhase(state.Failed); err != nil {
			return fmt.Errorf("queue: force fail work item %s: %w", w.ID, err)
		}
	}
	if !w.Archived {
		if err := w.Archive(); err != nil {
			return fmt.Errorf("queue: archive failed work item %s: %w", w.ID, err)
		}
	}
	if err := s.items.UpdateWorkItem(ctx, w); err != nil {
		return fmt.Errorf("queue: persist failed work item %s: %w", w.ID, err)
	}

	s.logger.Warn("work item failed terminally",
		slog.String("work_item_id", w.ID.String()),
		slog.Int("retry_count", w.RetryCount),
		slog.String("error", cause.Error()),
	)
	s.emitter.EmitItemFailed(ctx, w, cause)
	return nil
}
