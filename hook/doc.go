// Package hook defines the lifecycle hook system for the execution
// engine. Hooks are notified of lifecycle events (item started,
// suspended, resumed, failed, etc.) and can react to them — audit
// trails, notifications, metrics, and similar side channels.
//
// Each lifecycle event is a separate interface so hooks opt in only to
// the events they care about. Hook errors are logged and never
// propagated; a misbehaving hook must not block the pipeline.
package hook
