// Package sweep runs the checkpoint retention sweep: on a cron
// schedule, Active checkpoints older than the retention window are
// marked Expired. Expiry is a status transition, never a row deletion,
// so checkpoint history stays queryable.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/mikaelliljedahl/PRFactory-sub003/checkpoint"
)

// Emitter emits sweep lifecycle events. The hook registry satisfies
// this interface; it is declared here to avoid an import cycle.
type Emitter interface {
	EmitCheckpointsExpired(ctx context.Context, count int64)
}

// cronParser supports standard 5-field cron and descriptors like "@every 1h".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Sweeper expires stale Active checkpoints on a schedule.
type Sweeper struct {
	ckpts     checkpoint.Store
	schedule  cronlib.Schedule
	retention time.Duration
	emitter   Emitter
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewSweeper creates a sweeper. scheduleExpr is a cron expression or
// descriptor; retention is how long Active checkpoints live before the
// sweep expires them.
func NewSweeper(
	ckpts checkpoint.Store,
	scheduleExpr string,
	retention time.Duration,
	emitter Emitter,
	logger *slog.Logger,
) (*Sweeper, error) {
	sched, err := cronParser.Parse(scheduleExpr)
	if err != nil {
		return nil, fmt.Errorf("sweep: parse schedule %q: %w", scheduleExpr, err)
	}
	if retention < 0 {
		return nil, fmt.Errorf("sweep: negative retention %s", retention)
	}
	return &Sweeper{
		ckpts:     ckpts,
		schedule:  sched,
		retention: retention,
		emitter:   emitter,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}, nil
}

// Start launches the sweep loop. It returns immediately.
func (s *Sweeper) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	s.running = true

	s.logger.Info("checkpoint sweeper starting",
		slog.Duration("retention", s.retention),
	)

	s.wg.Add(1)
	go s.loop()
	return nil
}

// Stop signals the sweep loop to stop and waits for it to finish.
func (s *Sweeper) Stop(_ context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("checkpoint sweeper stopped")
	return nil
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	for {
		next := s.schedule.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-s.stopCh:
			timer.Stop()
			return
		case <-timer.C:
			if _, err := s.Sweep(context.Background()); err != nil {
				s.logger.Error("checkpoint sweep error", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep runs one retention pass and returns the number of checkpoints
// expired. Only Active rows older than the retention cutoff are
// touched, so repeated sweeps over the same data expire nothing.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.retention)

	n, err := s.ckpts.ExpireCheckpoints(ctx, cutoff)
	if err != nil {
		return n, fmt.Errorf("sweep: expire checkpoints: %w", err)
	}
	if n == 0 {
		return 0, nil
	}

	s.logger.Info("expired stale checkpoints",
		slog.Int64("count", n),
		slog.Time("cutoff", cutoff),
	)
	s.emitter.EmitCheckpointsExpired(ctx, n)
	return n, nil
}
