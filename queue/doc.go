// Package queue implements the database-backed polling execution queue:
// the ExecutionRequest entity, the atomic-claim store contract, the
// retry/backoff outcome service, and per-tenant rate and concurrency
// limits.
//
// Polling (rather than push notification) is a deliberate
// simplicity/latency tradeoff bounded by the worker poll interval. Do not
// replace it with a message broker — that would change the delivery and
// ordering guarantees the engine assumes.
package queue
