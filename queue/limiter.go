package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// TenantLimit defines rate limiting and concurrency for a single tenant.
type TenantLimit struct {
	// TenantID is the tenant this limit applies to.
	TenantID string

	// RateLimit is the maximum sustained executions per second that may
	// be dispatched for this tenant. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int

	// MaxConcurrency limits simultaneous executions for this tenant
	// across the local worker pool. Zero means no tenant-specific limit
	// (pool-wide concurrency still applies).
	MaxConcurrency int
}

// tenantState tracks runtime state for a single tenant.
type tenantState struct {
	limit   TenantLimit
	limiter *rate.Limiter
	active  int
}

// Limiter controls per-tenant rate limiting and concurrency. The worker
// loop calls Acquire before dispatching a claimed request and Release
// after execution completes. Tenants without a configured limit are
// always allowed. Safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	tenants map[string]*tenantState
}

// NewLimiter creates a Limiter with the given tenant limits.
func NewLimiter(limits ...TenantLimit) *Limiter {
	l := &Limiter{tenants: make(map[string]*tenantState, len(limits))}
	for _, tl := range limits {
		l.tenants[tl.TenantID] = newTenantState(tl)
	}
	return l
}

func newTenantState(tl TenantLimit) *tenantState {
	ts := &tenantState{limit: tl}
	if tl.RateLimit > 0 {
		burst := tl.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ts.limiter = rate.NewLimiter(rate.Limit(tl.RateLimit), burst)
	}
	return ts
}

// Acquire checks rate limits and concurrency for the tenant. If the
// execution may proceed it increments the active counter and returns
// true. The caller MUST call Release when the execution completes.
func (l *Limiter) Acquire(tenantID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.tenants[tenantID]
	if ts == nil {
		return true
	}
	if ts.limiter != nil && !ts.limiter.Allow() {
		return false
	}
	if ts.limit.MaxConcurrency > 0 && ts.active >= ts.limit.MaxConcurrency {
		return false
	}
	ts.active++
	return true
}

// Release decrements the active execution count for the tenant.
func (l *Limiter) Release(tenantID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ts := l.tenants[tenantID]; ts != nil && ts.active > 0 {
		ts.active--
	}
}

// SetTenantLimit dynamically updates (or creates) a tenant limit.
// The current active count is preserved when reconfiguring.
func (l *Limiter) SetTenantLimit(tl TenantLimit) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := newTenantState(tl)
	if existing := l.tenants[tl.TenantID]; existing != nil {
		ts.active = existing.active
	}
	l.tenants[tl.TenantID] = ts
}

// ActiveCount returns the current number of active executions for a tenant.
func (l *Limiter) ActiveCount(tenantID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ts := l.tenants[tenantID]; ts != nil {
		return ts.active
	}
	return 0
}
