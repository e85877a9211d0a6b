package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	prfactory "github.com/mikaelliljedahl/PRFactory-sub003"
	"github.com/mikaelliljedahl/PRFactory-sub003/checkpoint"
	"github.com/mikaelliljedahl/PRFactory-sub003/id"
	"github.com/mikaelliljedahl/PRFactory-sub003/item"
	"github.com/mikaelliljedahl/PRFactory-sub003/middleware"
)

// Outcome is the terminal disposition of a single graph execution.
type Outcome string

const (
	// OutcomeCompleted means the run executed its final step.
	OutcomeCompleted Outcome = "completed"
	// OutcomeSuspended means the run checkpointed and is waiting for an
	// external event to resume it.
	OutcomeSuspended Outcome = "suspended"
)

// Result reports how a graph execution ended.
type Result struct {
	Outcome Outcome

	// NextStep is the step a suspended run will resume from. Empty for
	// completed runs.
	NextStep string
}

// Emitter emits step and suspension lifecycle events. The hook registry
// satisfies this interface; it is declared here to avoid an import cycle.
type Emitter interface {
	EmitStepCompleted(ctx context.Context, w *item.WorkItem, stepName string, elapsed time.Duration)
	EmitStepFailed(ctx context.Context, w *item.WorkItem, stepName string, err error)
	EmitItemSuspended(ctx context.Context, w *item.WorkItem, nextStep string)
	EmitItemResumed(ctx context.Context, w *item.WorkItem, fromStep string)
}

// Runner drives graph executions: running steps in order through the
// middleware chain, persisting a checkpoint after every step, and
// restoring suspended runs from their latest checkpoint.
//
// The runner never retries a failed step. Errors surface at the step
// boundary and the queue's retry policy decides what happens next; a
// retried request replays from the last checkpoint, not from the start.
type Runner struct {
	registry *Registry
	items    item.Store
	ckpts    checkpoint.Store
	mw       middleware.Middleware
	emitter  Emitter
	logger   *slog.Logger
}

// NewRunner creates a graph runner. mw may be nil for an unwrapped
// handler chain.
func NewRunner(
	registry *Registry,
	items item.Store,
	ckpts checkpoint.Store,
	mw middleware.Middleware,
	emitter Emitter,
	logger *slog.Logger,
) *Runner {
	if mw == nil {
		mw = middleware.Chain()
	}
	return &Runner{
		registry: registry,
		items:    items,
		ckpts:    ckpts,
		mw:       mw,
		emitter:  emitter,
		logger:   logger,
	}
}

// Registry returns the graph registry.
func (r *Runner) Registry() *Registry { return r.registry }

// Start executes a graph for a start request. A fresh run begins at the
// first step; seed, when non-empty, pre-populates the state bag with
// the final state of a predecessor graph so chained graphs share what
// they learned. If an active checkpoint already exists for (work item,
// graph) — a retried request whose earlier attempt crashed mid-run —
// execution continues from the checkpointed step instead, so completed
// steps are never repeated. The checkpoint stays active; the next
// step's save overwrites it in place.
func (r *Runner) Start(ctx context.Context, w *item.WorkItem, graphID string, seed []byte) (*Result, error) {
	g, err := r.registry.Get(graphID)
	if err != nil {
		return nil, err
	}

	cp, err := r.ckpts.GetLatestCheckpoint(ctx, w.TenantID, w.ID, graphID)
	if err != nil {
		if errors.Is(err, prfactory.ErrCheckpointNotFound) {
			ex, exErr := newExecution(w, seed)
			if exErr != nil {
				return nil, exErr
			}
			return r.run(ctx, g, w, ex, 0, nil)
		}
		return nil, fmt.Errorf("graph: load checkpoint for %s: %w", w.ID, err)
	}

	if cp.NextStep == "" {
		// The earlier attempt ran every step and crashed before its
		// request was marked completed. Nothing left to do.
		return &Result{Outcome: OutcomeCompleted}, nil
	}

	start := g.stepIndex(cp.NextStep)
	if start < 0 {
		return nil, fmt.Errorf("graph %q: checkpoint %s points at unknown step %q", graphID, cp.ID, cp.NextStep)
	}
	ex, err := restoreExecution(w, cp.StateJSON, nil)
	if err != nil {
		return nil, err
	}

	r.logger.Info("continuing interrupted run",
		slog.String("work_item_id", w.ID.String()),
		slog.String("graph_id", graphID),
		slog.String("from_step", cp.NextStep),
	)
	return r.run(ctx, g, w, ex, start, nil)
}

// Resume continues a suspended run from its latest active checkpoint.
// The checkpoint stays active until the first resumed step succeeds, so
// a transient failure on that step leaves it in place for the retried
// resume. A resume with no active checkpoint is an orphaned resume: the
// event references work this engine has no record of suspending, and
// the error is permanent — retrying cannot make a checkpoint appear.
func (r *Runner) Resume(ctx context.Context, w *item.WorkItem, graphID string, payload []byte) (*Result, error) {
	g, err := r.registry.Get(graphID)
	if err != nil {
		return nil, err
	}

	cp, err := r.ckpts.GetLatestCheckpoint(ctx, w.TenantID, w.ID, graphID)
	if err != nil {
		if errors.Is(err, prfactory.ErrCheckpointNotFound) {
			return nil, fmt.Errorf("%w: work item %s graph %q", prfactory.ErrOrphanedResume, w.ID, graphID)
		}
		return nil, fmt.Errorf("graph: load checkpoint for %s: %w", w.ID, err)
	}
	if cp.NextStep == "" {
		// The latest checkpoint is the final one of a completed run.
		return nil, fmt.Errorf("%w: work item %s graph %q already ran to completion", prfactory.ErrOrphanedResume, w.ID, graphID)
	}

	start := g.stepIndex(cp.NextStep)
	if start < 0 {
		return nil, fmt.Errorf("graph %q: checkpoint %s points at unknown step %q", graphID, cp.ID, cp.NextStep)
	}

	ex, err := restoreExecution(w, cp.StateJSON, payload)
	if err != nil {
		return nil, err
	}

	r.logger.Info("resuming from checkpoint",
		slog.String("work_item_id", w.ID.String()),
		slog.String("graph_id", graphID),
		slog.String("checkpoint_id", cp.ID.String()),
		slog.String("from_step", cp.NextStep),
	)
	r.emitter.EmitItemResumed(ctx, w, cp.NextStep)

	return r.run(ctx, g, w, ex, start, cp)
}

// run executes steps from index start onward. After every step — the
// last included — the state bag is checkpointed before the run moves on,
// so completed work is never repeated after a crash or retry.
//
// resumed, when non-nil, is the checkpoint the run continued from. It
// stays active until the first step succeeds, so a resume whose first
// step fails can be retried against the same checkpoint instead of
// surfacing as orphaned.
func (r *Runner) run(ctx context.Context, g *Graph, w *item.WorkItem, ex *Execution, start int, resumed *checkpoint.Checkpoint) (*Result, error) {
	for i := start; i >= 0 && i < len(g.Steps); {
		step := g.Steps[i]

		var dec Decision
		begin := time.Now()
		err := r.mw(ctx, w, step.Name, func(ctx context.Context) error {
			var stepErr error
			dec, stepErr = step.Run(ctx, ex)
			return stepErr
		})
		elapsed := time.Since(begin)

		if err != nil {
			r.emitter.EmitStepFailed(ctx, w, step.Name, err)
			return nil, fmt.Errorf("graph %q: step %q: %w", g.ID, step.Name, err)
		}

		// Persist phase and field changes the step made to the item.
		w.Touch()
		if err := r.items.UpdateWorkItem(ctx, w); err != nil {
			return nil, fmt.Errorf("graph %q: persist work item after step %q: %w", g.ID, step.Name, err)
		}

		// The run has moved past the checkpoint it resumed from; retire
		// it before the next save so the save creates a fresh active row.
		if resumed != nil {
			if err := r.retireCheckpoint(ctx, resumed.ID); err != nil {
				return nil, err
			}
			resumed = nil
		}

		next := i + 1
		if dec.NextStep != "" {
			next = g.stepIndex(dec.NextStep)
			if next < 0 {
				return nil, fmt.Errorf("graph %q: step %q branched to unknown step %q", g.ID, step.Name, dec.NextStep)
			}
		}

		nextName := ""
		if !dec.Halt && next < len(g.Steps) {
			nextName = g.Steps[next].Name
		}

		if err := r.saveCheckpoint(ctx, g, w, ex, step.Name, nextName); err != nil {
			return nil, err
		}
		r.emitter.EmitStepCompleted(ctx, w, step.Name, elapsed)

		if dec.Suspend {
			if nextName == "" {
				return nil, fmt.Errorf("graph %q: step %q suspended with no step to resume from", g.ID, step.Name)
			}
			r.logger.Info("run suspended",
				slog.String("work_item_id", w.ID.String()),
				slog.String("graph_id", g.ID),
				slog.String("next_step", nextName),
			)
			r.emitter.EmitItemSuspended(ctx, w, nextName)
			return &Result{Outcome: OutcomeSuspended, NextStep: nextName}, nil
		}
		if dec.Halt {
			return &Result{Outcome: OutcomeCompleted}, nil
		}

		i = next
	}

	return &Result{Outcome: OutcomeCompleted}, nil
}

// retireCheckpoint marks the checkpoint a resumed run continued from.
// A checkpoint that is already gone is logged and skipped: the run has
// moved past it, and failing here would only repeat completed work.
func (r *Runner) retireCheckpoint(ctx context.Context, cpID id.CheckpointID) error {
	err := r.ckpts.MarkCheckpointResumed(ctx, cpID)
	if err == nil {
		return nil
	}
	if errors.Is(err, prfactory.ErrCheckpointNotFound) {
		r.logger.Warn("resumed checkpoint already retired",
			slog.String("checkpoint_id", cpID.String()),
		)
		return nil
	}
	return fmt.Errorf("graph: mark checkpoint %s resumed: %w", cpID, err)
}

// saveCheckpoint snapshots the state bag. The store overwrites any
// existing active checkpoint for (work item, graph) in place.
func (r *Runner) saveCheckpoint(ctx context.Context, g *Graph, w *item.WorkItem, ex *Execution, label, nextStep string) error {
	stateJSON, err := ex.marshalState()
	if err != nil {
		return err
	}
	cp := checkpoint.New(w.TenantID, w.ID, g.ID, label, stateJSON, nextStep)
	if _, err := r.ckpts.SaveCheckpoint(ctx, cp); err != nil {
		return fmt.Errorf("graph %q: checkpoint after step %q: %w", g.ID, label, err)
	}
	return nil
}
