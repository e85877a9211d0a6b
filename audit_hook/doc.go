// Package audithook bridges work item lifecycle events to an immutable
// audit trail backend.
//
// Every item, step, and retention lifecycle hook emits a structured
// audit event through the [Recorder] interface. The hook assigns
// severity levels (info for normal operations, warning for retries,
// critical for terminal failures) and metadata such as the tenant,
// external key, phase, and error.
//
// Register it with the engine:
//
//	eng, err := engine.Build(f, deps,
//	    engine.WithHook(audithook.New(recorder)),
//	)
//
// Recorder failures are logged and never propagated; a broken audit
// backend must not stall execution.
package audithook
