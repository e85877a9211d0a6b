package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	prfactory "github.com/mikaelliljedahl/PRFactory-sub003"
	"github.com/mikaelliljedahl/PRFactory-sub003/backoff"
	"github.com/mikaelliljedahl/PRFactory-sub003/checkpoint"
	"github.com/mikaelliljedahl/PRFactory-sub003/collab"
	"github.com/mikaelliljedahl/PRFactory-sub003/flows"
	"github.com/mikaelliljedahl/PRFactory-sub003/graph"
	"github.com/mikaelliljedahl/PRFactory-sub003/hook"
	"github.com/mikaelliljedahl/PRFactory-sub003/id"
	"github.com/mikaelliljedahl/PRFactory-sub003/item"
	mw "github.com/mikaelliljedahl/PRFactory-sub003/middleware"
	"github.com/mikaelliljedahl/PRFactory-sub003/queue"
	"github.com/mikaelliljedahl/PRFactory-sub003/state"
	"github.com/mikaelliljedahl/PRFactory-sub003/sweep"
	"github.com/mikaelliljedahl/PRFactory-sub003/webhook"
	"github.com/mikaelliljedahl/PRFactory-sub003/worker"
)

// Deps are the external collaborators the engine's flows call out to.
type Deps struct {
	Ticketing  collab.Ticketing
	Source     collab.SourceControl
	Completion collab.Completion

	// WebhookSecret is the shared HMAC key inbound ticketing events are
	// signed with. Leave empty to run without the webhook surface.
	WebhookSecret []byte
}

func (d Deps) validate() error {
	if d.Ticketing == nil {
		return fmt.Errorf("engine: nil Ticketing")
	}
	if d.Source == nil {
		return fmt.Errorf("engine: nil SourceControl")
	}
	if d.Completion == nil {
		return fmt.Errorf("engine: nil Completion")
	}
	return nil
}

// Engine wraps a Factory with fully wired subsystems: hook registry,
// phase graphs, runner, queue service, worker loop, sweeper, and the
// webhook adapter. Use Build to create one.
type Engine struct {
	f        *prfactory.Factory
	items    item.Store
	ckpts    checkpoint.Store
	requests queue.Store

	hooks   *hook.Registry
	graphs  *graph.Registry
	runner  *graph.Runner
	service *queue.Service
	limiter *queue.Limiter
	loop    *worker.Loop
	sweeper *sweep.Sweeper
	adapter *webhook.Adapter

	bo            backoff.Strategy
	mws           []mw.Middleware
	tenantLimits  []queue.TenantLimit
	autoImplement bool

	// Custom OTel tracer provider (optional; nil means use global).
	tracerProvider trace.TracerProvider

	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithHook registers a lifecycle hook with the engine.
func WithHook(h hook.Hook) Option {
	return func(eng *Engine) { eng.hooks.Register(h) }
}

// WithMiddleware appends middleware to the engine's step chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithBackoff sets the retry backoff strategy.
// If not set, exponential backoff from the factory config is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) { eng.bo = b }
}

// WithTenantLimits registers per-tenant rate and concurrency limits.
// Tenants not listed have no tenant-specific limits.
func WithTenantLimits(limits ...queue.TenantLimit) Option {
	return func(eng *Engine) { eng.tenantLimits = append(eng.tenantLimits, limits...) }
}

// WithAutoImplement starts the implementation graph automatically after
// a plan is approved. Off by default: an operator starts implementation
// explicitly through StartImplementation.
func WithAutoImplement(on bool) Option {
	return func(eng *Engine) { eng.autoImplement = on }
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// Build creates an Engine from a Factory. The Factory's store must
// implement the item, checkpoint, and queue store interfaces.
func Build(f *prfactory.Factory, deps Deps, opts ...Option) (*Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}

	logger := f.Logger()
	store := f.Store()
	if store == nil {
		return nil, prfactory.ErrNoStore
	}

	is, ok := store.(item.Store)
	if !ok {
		return nil, fmt.Errorf("engine: store does not implement item.Store")
	}
	cs, ok := store.(checkpoint.Store)
	if !ok {
		return nil, fmt.Errorf("engine: store does not implement checkpoint.Store")
	}
	qs, ok := store.(queue.Store)
	if !ok {
		return nil, fmt.Errorf("engine: store does not implement queue.Store")
	}

	eng := &Engine{
		f:        f,
		items:    is,
		ckpts:    cs,
		requests: qs,
		hooks:    hook.NewRegistry(logger),
		graphs:   graph.NewRegistry(),
		logger:   logger,
	}

	for _, opt := range opts {
		opt(eng)
	}

	config := f.Config()

	if eng.bo == nil {
		eng.bo = backoff.NewExponential(config.RetryBackoffBase, config.RetryBackoffMax)
	}

	if err := flows.RegisterAll(eng.graphs, flows.Deps{
		Ticketing:         deps.Ticketing,
		Source:            deps.Source,
		Completion:        deps.Completion,
		MaxPlanRejections: config.MaxPlanRejections,
		MaxReworkCycles:   config.MaxReworkCycles,
		AutoImplement:     eng.autoImplement,
	}); err != nil {
		return nil, err
	}

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/mikaelliljedahl/PRFactory-sub003")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Default step chain: recover → tracing → logging → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		mw.Logging(logger),
		mw.Timeout(logger, config.StepTimeout),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	eng.runner = graph.NewRunner(eng.graphs, is, cs, mw.Chain(allMws...), eng.hooks, logger)
	eng.service = queue.NewService(qs, is, eng.bo, config.MaxRetries, eng.hooks, logger)
	eng.limiter = queue.NewLimiter(eng.tenantLimits...)

	autoImplement := eng.autoImplement
	eng.loop = worker.NewLoop(
		is, qs, cs,
		eng.runner,
		eng.service,
		eng.hooks,
		logger,
		worker.WithConcurrency(config.Concurrency),
		worker.WithBatchSize(config.BatchSize),
		worker.WithPollInterval(config.PollInterval),
		worker.WithStaleClaimThreshold(config.StaleClaimThreshold),
		worker.WithLimiter(eng.limiter),
		worker.WithNextGraph(func(p state.Phase) string {
			return flows.NextGraph(p, autoImplement)
		}),
	)

	sweeper, err := sweep.NewSweeper(cs, config.SweepSchedule, config.CheckpointRetention, eng.hooks, logger)
	if err != nil {
		return nil, err
	}
	eng.sweeper = sweeper

	if len(deps.WebhookSecret) > 0 {
		eng.adapter = webhook.NewAdapter(deps.WebhookSecret, is, qs, deps.Ticketing, flows.ResumeGraphForPhase, logger)
	}

	// Wire back into the Factory.
	f.SetLoop(eng.loop)
	f.SetSweeper(eng.sweeper)
	f.SetHooks(eng.hooks)

	return eng, nil
}

// Trigger creates a work item for a ticket and enqueues the refinement
// run that will analyze it. The external key is the ticket's identity
// within the tenant; a second trigger for the same non-archived key is
// rejected with prfactory.ErrWorkItemExists.
func (eng *Engine) Trigger(ctx context.Context, tenantID, externalKey string) (*item.WorkItem, error) {
	w := item.New(tenantID, externalKey)
	if err := eng.items.CreateWorkItem(ctx, w); err != nil {
		return nil, err
	}

	r := queue.NewStart(tenantID, w.ID, flows.RefinementGraphID)
	if err := eng.requests.EnqueueRequest(ctx, r); err != nil {
		return nil, fmt.Errorf("engine: enqueue trigger for %s: %w", w.ID, err)
	}

	eng.logger.Info("work item triggered",
		slog.String("work_item_id", w.ID.String()),
		slog.String("tenant_id", tenantID),
		slog.String("external_key", externalKey),
	)
	eng.hooks.EmitItemTriggered(ctx, w)
	return w, nil
}

// StartImplementation enqueues the implementation run for a work item
// whose plan has been approved. The run is seeded with the planning
// graph's final state so it inherits the approved plan. Used when
// auto-implement is off and an operator green-lights implementation.
func (eng *Engine) StartImplementation(ctx context.Context, tenantID string, itemID id.WorkItemID) (*queue.Request, error) {
	w, err := eng.items.GetWorkItem(ctx, tenantID, itemID)
	if err != nil {
		return nil, err
	}
	if w.Phase != state.PlanApproved {
		return nil, fmt.Errorf("engine: work item %s is in phase %q, want %q", itemID, w.Phase, state.PlanApproved)
	}

	var seed []byte
	cp, err := eng.ckpts.GetLatestCheckpoint(ctx, tenantID, w.ID, flows.PlanningGraphID)
	if err == nil {
		seed = cp.StateJSON
	} else if !errors.Is(err, prfactory.ErrCheckpointNotFound) {
		return nil, fmt.Errorf("engine: load planning state for %s: %w", itemID, err)
	}

	r := queue.NewStart(tenantID, w.ID, flows.ImplementationGraphID)
	r.Payload = seed
	if err := eng.requests.EnqueueRequest(ctx, r); err != nil {
		return nil, fmt.Errorf("engine: enqueue implementation for %s: %w", itemID, err)
	}

	eng.logger.Info("implementation started",
		slog.String("work_item_id", w.ID.String()),
		slog.String("request_id", r.ID.String()),
	)
	return r, nil
}

// Cancel moves a work item to Cancelled and archives it. Cancellation
// is legal from every non-terminal phase; cancelling a terminal item
// returns the transition error.
func (eng *Engine) Cancel(ctx context.Context, tenantID string, itemID id.WorkItemID, reason string) error {
	w, err := eng.items.GetWorkItem(ctx, tenantID, itemID)
	if err != nil {
		return err
	}
	if state.IsTerminal(w.Phase) {
		return fmt.Errorf("engine: cancel %s: %w", itemID,
			&state.InvalidTransitionError{From: w.Phase, To: state.Cancelled})
	}
	if err := w.SetPhase(state.Cancelled); err != nil {
		return fmt.Errorf("engine: cancel %s: %w", itemID, err)
	}
	if reason != "" {
		w.LastError = reason
	}
	if err := w.Archive(); err != nil {
		return err
	}
	if err := eng.items.UpdateWorkItem(ctx, w); err != nil {
		return fmt.Errorf("engine: persist cancelled work item %s: %w", itemID, err)
	}

	eng.logger.Info("work item cancelled",
		slog.String("work_item_id", w.ID.String()),
		slog.String("reason", reason),
	)
	return nil
}

// WorkItem retrieves a work item by ID within a tenant.
func (eng *Engine) WorkItem(ctx context.Context, tenantID string, itemID id.WorkItemID) (*item.WorkItem, error) {
	return eng.items.GetWorkItem(ctx, tenantID, itemID)
}

// ListWorkItems returns a tenant's work items matching the options.
func (eng *Engine) ListWorkItems(ctx context.Context, tenantID string, opts item.ListOpts) ([]*item.WorkItem, error) {
	return eng.items.ListWorkItems(ctx, tenantID, opts)
}

// CheckpointHistory returns a work item's checkpoint trail, newest
// first, optionally filtered by graph.
func (eng *Engine) CheckpointHistory(ctx context.Context, tenantID string, itemID id.WorkItemID, graphID string) ([]*checkpoint.Checkpoint, error) {
	return eng.ckpts.CheckpointHistory(ctx, tenantID, itemID, graphID)
}

// Start begins polling and dispatching through the underlying Factory.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.f.Start(ctx)
}

// Stop gracefully shuts down the underlying Factory.
func (eng *Engine) Stop(ctx context.Context) error {
	return eng.f.Stop(ctx)
}

// Serve runs the webhook HTTP listener until ctx is cancelled, then
// shuts it down within the configured shutdown timeout.
func (eng *Engine) Serve(ctx context.Context, addr string) error {
	if eng.adapter == nil {
		return fmt.Errorf("engine: no webhook secret configured")
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           eng.WebhookHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		eng.logger.Info("webhook listener starting", slog.String("addr", addr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), eng.f.Config().ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// WebhookHandler returns the inbound event handler mounted at /webhook,
// or nil when no webhook secret was configured.
func (eng *Engine) WebhookHandler() http.Handler {
	if eng.adapter == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/webhook", eng.adapter)
	return mux
}

// Hooks returns the lifecycle hook registry.
func (eng *Engine) Hooks() *hook.Registry { return eng.hooks }

// Graphs returns the phase graph registry.
func (eng *Engine) Graphs() *graph.Registry { return eng.graphs }

// Runner returns the graph runner.
func (eng *Engine) Runner() *graph.Runner { return eng.runner }

// Service returns the queue outcome service.
func (eng *Engine) Service() *queue.Service { return eng.service }

// Limiter returns the per-tenant limiter.
func (eng *Engine) Limiter() *queue.Limiter { return eng.limiter }

// Factory returns the underlying Factory.
func (eng *Engine) Factory() *prfactory.Factory { return eng.f }
