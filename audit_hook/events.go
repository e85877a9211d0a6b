package audithook

// Audit event actions. Each constant corresponds to one lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionItemTriggered      = "item.triggered"
	ActionItemStarted        = "item.started"
	ActionItemSuspended      = "item.suspended"
	ActionItemResumed        = "item.resumed"
	ActionItemCompleted      = "item.completed"
	ActionItemFailed         = "item.failed"
	ActionItemRetrying       = "item.retrying"
	ActionStepCompleted      = "step.completed"
	ActionStepFailed         = "step.failed"
	ActionCheckpointsExpired = "checkpoints.expired"
	ActionShutdown           = "engine.shutdown"
)

// Audit event categories group related actions.
const (
	CategoryItem      = "prfactory.item"
	CategoryStep      = "prfactory.step"
	CategoryRetention = "prfactory.retention"
	CategoryEngine    = "prfactory.engine"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceWorkItem   = "work_item"
	ResourceCheckpoint = "checkpoint"
	ResourceEngine     = "engine"
)
