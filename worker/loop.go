// Package worker runs the polling dispatch loop: it claims due execution
// requests from the queue, runs them through the graph runner on a
// bounded set of goroutines, and records outcomes through the queue
// service. When a run completes in a phase that chains into another
// graph, the loop enqueues the follow-on start request seeded with the
// finished graph's final state.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	prfactory "github.com/mikaelliljedahl/PRFactory-sub003"
	"github.com/mikaelliljedahl/PRFactory-sub003/checkpoint"
	"github.com/mikaelliljedahl/PRFactory-sub003/graph"
	"github.com/mikaelliljedahl/PRFactory-sub003/id"
	"github.com/mikaelliljedahl/PRFactory-sub003/item"
	"github.com/mikaelliljedahl/PRFactory-sub003/queue"
	"github.com/mikaelliljedahl/PRFactory-sub003/state"
)

// Emitter emits dispatch lifecycle events. The hook registry satisfies
// this interface; it is declared here to avoid an import cycle.
type Emitter interface {
	EmitItemStarted(ctx context.Context, w *item.WorkItem)
}

// NextGraphFunc maps the phase a completed run left its work item in to
// the graph that should start next. Empty means nothing chains.
type NextGraphFunc func(p state.Phase) string

// Loop polls the queue for due requests and dispatches them.
type Loop struct {
	items     item.Store
	requests  queue.Store
	ckpts     checkpoint.Store
	runner    *graph.Runner
	service   *queue.Service
	limiter   *queue.Limiter
	emitter   Emitter
	nextGraph NextGraphFunc
	logger    *slog.Logger

	concurrency  int
	batchSize    int
	pollInterval time.Duration
	staleClaim   time.Duration
	workerID     id.WorkerID

	slots  chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool

	activeMu sync.Mutex
	active   map[string]context.CancelFunc
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithConcurrency bounds the number of requests executed at once.
func WithConcurrency(n int) LoopOption {
	return func(l *Loop) { l.concurrency = n }
}

// WithBatchSize sets the maximum requests claimed per poll.
func WithBatchSize(n int) LoopOption {
	return func(l *Loop) { l.batchSize = n }
}

// WithPollInterval sets how often the loop polls for due requests.
func WithPollInterval(d time.Duration) LoopOption {
	return func(l *Loop) { l.pollInterval = d }
}

// WithStaleClaimThreshold sets how long a claim may go without an
// outcome before the reaper assumes the claiming worker died and
// returns the request to pending. Zero disables reaping.
func WithStaleClaimThreshold(d time.Duration) LoopOption {
	return func(l *Loop) { l.staleClaim = d }
}

// WithLimiter sets the per-tenant rate and concurrency limiter.
func WithLimiter(lim *queue.Limiter) LoopOption {
	return func(l *Loop) { l.limiter = lim }
}

// WithNextGraph sets the graph chaining policy.
func WithNextGraph(fn NextGraphFunc) LoopOption {
	return func(l *Loop) { l.nextGraph = fn }
}

// NewLoop creates a dispatch loop.
func NewLoop(
	items item.Store,
	requests queue.Store,
	ckpts checkpoint.Store,
	runner *graph.Runner,
	service *queue.Service,
	emitter Emitter,
	logger *slog.Logger,
	opts ...LoopOption,
) *Loop {
	l := &Loop{
		items:        items,
		requests:     requests,
		ckpts:        ckpts,
		runner:       runner,
		service:      service,
		emitter:      emitter,
		nextGraph:    func(state.Phase) string { return "" },
		logger:       logger,
		concurrency:  10,
		batchSize:    10,
		pollInterval: time.Second,
		staleClaim:   time.Minute,
		workerID:     id.NewWorkerID(),
		stopCh:       make(chan struct{}),
		active:       make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.slots = make(chan struct{}, l.concurrency)
	return l
}

// WorkerID returns the loop's unique worker identifier.
func (l *Loop) WorkerID() id.WorkerID { return l.workerID }

// Start launches the poll loop. It returns immediately.
func (l *Loop) Start(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return nil
	}
	l.running = true

	l.logger.Info("worker loop starting",
		slog.String("worker_id", l.workerID.String()),
		slog.Int("concurrency", l.concurrency),
		slog.Int("batch_size", l.batchSize),
	)

	l.wg.Add(1)
	go l.pollLoop()
	if l.staleClaim > 0 {
		l.wg.Add(1)
		go l.reapLoop()
	}
	return nil
}

// Stop signals the loop to stop and waits for in-flight executions to
// reach a checkpoint. If the context has a deadline, executions still
// running when it expires are cancelled; their requests surface as
// retries and replay from their last checkpoint.
func (l *Loop) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	l.mu.Unlock()

	l.logger.Info("worker loop stopping", slog.String("worker_id", l.workerID.String()))
	close(l.stopCh)

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.logger.Info("worker loop stopped gracefully")
	case <-ctx.Done():
		l.logger.Warn("worker loop shutdown timed out, cancelling active executions")
		l.cancelActive()
		l.wg.Wait()
	}
	return nil
}

func (l *Loop) pollLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	l.poll()
	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.poll()
		}
	}
}

// poll claims due requests up to the free capacity and dispatches each
// on its own goroutine. Resume requests are polled first so replies to
// suspended items are not starved by a backlog of fresh starts.
func (l *Loop) poll() {
	free := l.concurrency - len(l.slots)
	if free <= 0 {
		return
	}
	limit := min(free, l.batchSize)

	ctx := context.Background()

	resumable, err := l.requests.PollResumable(ctx, l.workerID, limit)
	if err != nil {
		l.logger.Error("poll resumable error", slog.String("error", err.Error()))
		return
	}
	remaining := limit - len(resumable)

	var pending []*queue.Request
	if remaining > 0 {
		pending, err = l.requests.PollPending(ctx, l.workerID, remaining)
		if err != nil {
			l.logger.Error("poll pending error", slog.String("error", err.Error()))
		}
	}

	for _, r := range append(resumable, pending...) {
		l.dispatch(r)
	}
}

// reapLoop periodically returns requests whose claiming worker died
// before recording an outcome to pending, so a crash never strands a
// request in claimed.
func (l *Loop) reapLoop() {
	defer l.wg.Done()

	interval := l.staleClaim / 2
	if interval < l.pollInterval {
		interval = l.pollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.reapStaleClaims()
		}
	}
}

func (l *Loop) reapStaleClaims() {
	reaped, err := l.requests.ReapStaleRequests(context.Background(), l.staleClaim)
	if err != nil {
		l.logger.Error("reap stale claims error", slog.String("error", err.Error()))
		return
	}
	for _, r := range reaped {
		l.logger.Warn("reaped stale claim",
			slog.String("request_id", r.ID.String()),
			slog.String("work_item_id", r.WorkItemID.String()),
		)
	}
}

// dispatch acquires a concurrency slot and the tenant's limiter, then
// executes the request on its own goroutine. Requests a full pool or a
// rate-limited tenant cannot take are returned to pending with a delay.
func (l *Loop) dispatch(r *queue.Request) {
	select {
	case l.slots <- struct{}{}:
	default:
		l.requeue(r)
		return
	}

	if l.limiter != nil && !l.limiter.Acquire(r.TenantID) {
		<-l.slots
		l.requeue(r)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.track(r.ID.String(), cancel)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer func() {
			l.untrack(r.ID.String())
			cancel()
			if l.limiter != nil {
				l.limiter.Release(r.TenantID)
			}
			<-l.slots
		}()
		l.execute(ctx, r)
	}()
}

// requeue returns a claimed request to pending with a short delay.
func (l *Loop) requeue(r *queue.Request) {
	r.State = queue.StatePending
	r.RunAt = time.Now().UTC().Add(l.pollInterval)
	r.ClaimedBy = id.WorkerID{}
	r.ClaimedAt = nil
	r.Touch()
	if err := l.requests.UpdateRequest(context.Background(), r); err != nil {
		l.logger.Error("failed to requeue request",
			slog.String("request_id", r.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// execute runs one claimed request end to end and records its outcome.
func (l *Loop) execute(ctx context.Context, r *queue.Request) {
	w, err := l.items.GetWorkItem(ctx, r.TenantID, r.WorkItemID)
	if err != nil {
		l.failRequest(r, err)
		return
	}

	l.emitter.EmitItemStarted(ctx, w)

	var res *graph.Result
	switch r.Kind {
	case queue.KindResume:
		res, err = l.runner.Resume(ctx, w, r.GraphID, r.Payload)
	default:
		res, err = l.runner.Start(ctx, w, r.GraphID, r.Payload)
	}

	if err != nil {
		if permanent(err) {
			if failErr := l.service.ForceFail(ctx, r, w, err); failErr != nil {
				l.logger.Error("force fail error",
					slog.String("request_id", r.ID.String()),
					slog.String("error", failErr.Error()),
				)
			}
			return
		}
		if retryErr := l.service.HandleFailure(ctx, r, w, err); retryErr != nil {
			l.logger.Error("retry scheduling error",
				slog.String("request_id", r.ID.String()),
				slog.String("error", retryErr.Error()),
			)
		}
		return
	}

	if err := l.service.MarkCompleted(ctx, r, w); err != nil {
		l.logger.Error("mark completed error",
			slog.String("request_id", r.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	if res.Outcome == graph.OutcomeCompleted {
		l.chain(ctx, r, w)
	}
}

// permanent reports whether an execution error can never succeed on
// retry: an orphaned resume, an unregistered graph, or an illegal
// phase transition.
func permanent(err error) bool {
	if errors.Is(err, prfactory.ErrOrphanedResume) || errors.Is(err, prfactory.ErrGraphNotFound) {
		return true
	}
	var ite *state.InvalidTransitionError
	return errors.As(err, &ite)
}

// failRequest marks a request failed when its work item cannot even be
// loaded. There is no item to transition, so only the request moves.
func (l *Loop) failRequest(r *queue.Request, cause error) {
	now := time.Now().UTC()
	r.State = queue.StateFailed
	r.CompletedAt = &now
	r.LastError = cause.Error()
	r.Touch()
	if err := l.requests.UpdateRequest(context.Background(), r); err != nil {
		l.logger.Error("failed to mark request failed",
			slog.String("request_id", r.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	l.logger.Error("request failed: work item unavailable",
		slog.String("request_id", r.ID.String()),
		slog.String("work_item_id", r.WorkItemID.String()),
		slog.String("error", cause.Error()),
	)
}

// chain enqueues the follow-on start request when the completed run left
// the work item in a phase that another graph picks up. The new run is
// seeded with the finished graph's final checkpoint state so it inherits
// everything the predecessor learned.
func (l *Loop) chain(ctx context.Context, r *queue.Request, w *item.WorkItem) {
	next := l.nextGraph(w.Phase)
	if next == "" {
		return
	}

	var seed []byte
	cp, err := l.ckpts.GetLatestCheckpoint(ctx, w.TenantID, w.ID, r.GraphID)
	if err == nil {
		seed = cp.StateJSON
	} else if !errors.Is(err, prfactory.ErrCheckpointNotFound) {
		l.logger.Error("chain: load predecessor checkpoint",
			slog.String("work_item_id", w.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	nr := queue.NewStart(w.TenantID, w.ID, next)
	nr.Payload = seed
	if err := l.requests.EnqueueRequest(ctx, nr); err != nil {
		l.logger.Error("chain: enqueue next graph",
			slog.String("work_item_id", w.ID.String()),
			slog.String("graph_id", next),
			slog.String("error", err.Error()),
		)
		return
	}

	l.logger.Info("chained next graph",
		slog.String("work_item_id", w.ID.String()),
		slog.String("from_graph", r.GraphID),
		slog.String("graph_id", next),
	)
}

func (l *Loop) track(requestID string, cancel context.CancelFunc) {
	l.activeMu.Lock()
	l.active[requestID] = cancel
	l.activeMu.Unlock()
}

func (l *Loop) untrack(requestID string) {
	l.activeMu.Lock()
	delete(l.active, requestID)
	l.activeMu.Unlock()
}

func (l *Loop) cancelActive() {
	l.activeMu.Lock()
	defer l.activeMu.Unlock()
	for requestID, cancel := range l.active {
		l.logger.Warn("cancelling active execution", slog.String("request_id", requestID))
		cancel()
	}
}
