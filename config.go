package prfactory

import "time"

// Config holds configuration for the Factory. None of these settings are
// part of the engine's correctness contract, but all affect throughput.
type Config struct {
	// Concurrency is the maximum number of work items executed concurrently.
	Concurrency int

	// PollInterval is how often the worker loop polls for ready items.
	PollInterval time.Duration

	// BatchSize is the maximum number of items claimed per poll.
	BatchSize int

	// MaxRetries is the number of automatic retries before a work item is
	// forced to Failed.
	MaxRetries int

	// RetryBackoffBase is the initial delay for the exponential retry
	// backoff (base * 2^attempt).
	RetryBackoffBase time.Duration

	// RetryBackoffMax caps the retry backoff delay.
	RetryBackoffMax time.Duration

	// StepTimeout bounds a single step execution. Zero disables the
	// per-step deadline.
	StepTimeout time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight executions
	// to reach a checkpoint or terminal state during graceful shutdown.
	ShutdownTimeout time.Duration

	// CheckpointRetention is how long Active checkpoints are kept before
	// the sweep marks them Expired.
	CheckpointRetention time.Duration

	// SweepSchedule is a cron descriptor (e.g. "@every 1h") controlling
	// how often the checkpoint retention sweep runs.
	SweepSchedule string

	// StaleClaimThreshold is how long a claimed request may go without an
	// outcome before the reaper assumes its worker died and returns it to
	// pending. Zero disables reaping.
	StaleClaimThreshold time.Duration

	// MaxPlanRejections caps the plan rejection loop before the work item
	// is forced to Failed.
	MaxPlanRejections int

	// MaxReworkCycles caps the pull request rework loop before the work
	// item is forced to Failed.
	MaxReworkCycles int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:         10,
		PollInterval:        5 * time.Second,
		BatchSize:           10,
		MaxRetries:          3,
		RetryBackoffBase:    1 * time.Second,
		RetryBackoffMax:     1 * time.Minute,
		StepTimeout:         5 * time.Minute,
		ShutdownTimeout:     30 * time.Second,
		CheckpointRetention: 30 * 24 * time.Hour,
		SweepSchedule:       "@every 1h",
		StaleClaimThreshold: time.Minute,
		MaxPlanRejections:   5,
		MaxReworkCycles:     5,
	}
}
