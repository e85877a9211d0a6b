package prfactory

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Factory.
type Option func(*Factory) error

// Storer is the minimal store interface held by the Factory. It covers
// lifecycle operations only. The full composite interface (store.Store) is
// used in subsystem layers that don't create import cycles.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// loopRunner is an internal interface for worker loop lifecycle.
type loopRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// hookEmitter is an internal interface for lifecycle shutdown hooks.
type hookEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Factory is the central coordinator for checkpointed phase graph
// execution: the polling worker loop, the retention sweeper, and the
// persistence backend.
//
// Create one with New() and functional options. The Factory holds
// references to subsystem components via internal interfaces to avoid
// import cycles. Use the engine package to wire everything together.
type Factory struct {
	config Config
	logger *slog.Logger
	store  Storer
	hooks  hookEmitter
	loop   loopRunner
	sweep  loopRunner

	// started tracks whether Start has been called.
	started bool
}

// New creates a new Factory with the given options.
func New(opts ...Option) (*Factory, error) {
	f := &Factory{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Logger returns the factory's logger.
func (f *Factory) Logger() *slog.Logger { return f.logger }

// Store returns the factory's store.
func (f *Factory) Store() Storer { return f.store }

// Config returns a copy of the factory's configuration.
func (f *Factory) Config() Config { return f.config }

// SetLoop sets the worker loop (called by the engine package).
func (f *Factory) SetLoop(l loopRunner) { f.loop = l }

// SetSweeper sets the retention sweeper (called by the engine package).
func (f *Factory) SetSweeper(s loopRunner) { f.sweep = s }

// SetHooks sets the lifecycle hook emitter (called by the engine package).
func (f *Factory) SetHooks(h hookEmitter) { f.hooks = h }

// Start begins polling and dispatching work items.
func (f *Factory) Start(ctx context.Context) error {
	if f.loop == nil {
		return ErrNoStore
	}
	if err := f.loop.Start(ctx); err != nil {
		return err
	}
	if f.sweep != nil {
		if err := f.sweep.Start(ctx); err != nil {
			return err
		}
	}
	f.started = true
	return nil
}

// Stop gracefully shuts down the factory.
func (f *Factory) Stop(ctx context.Context) error {
	if f.sweep != nil && f.started {
		if err := f.sweep.Stop(ctx); err != nil {
			f.logger.Error("sweeper stop error", "error", err)
		}
	}
	if f.loop != nil && f.started {
		if err := f.loop.Stop(ctx); err != nil {
			f.logger.Error("worker loop stop error", "error", err)
		}
	}
	if f.hooks != nil {
		f.hooks.EmitShutdown(ctx)
	}
	if f.store != nil {
		return f.store.Close()
	}
	return nil
}

// WithConcurrency sets the maximum number of concurrent executions.
func WithConcurrency(n int) Option {
	return func(f *Factory) error {
		f.config.Concurrency = n
		return nil
	}
}

// WithPollInterval sets how often the worker loop polls for ready items.
func WithPollInterval(d time.Duration) Option {
	return func(f *Factory) error {
		f.config.PollInterval = d
		return nil
	}
}

// WithLogger sets the structured logger for the factory.
func WithLogger(l *slog.Logger) Option {
	return func(f *Factory) error {
		f.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the factory.
// The store must implement Storer at minimum; typically it will be a
// store.Store which embeds all subsystem store interfaces.
func WithStore(s Storer) Option {
	return func(f *Factory) error {
		f.store = s
		return nil
	}
}

// WithConfig replaces the entire configuration.
func WithConfig(cfg Config) Option {
	return func(f *Factory) error {
		f.config = cfg
		return nil
	}
}
