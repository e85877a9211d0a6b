package prfactory

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("prfactory: no store configured")
	ErrStoreClosed     = errors.New("prfactory: store closed")
	ErrMigrationFailed = errors.New("prfactory: migration failed")

	// Not found errors.
	ErrWorkItemNotFound   = errors.New("prfactory: work item not found")
	ErrCheckpointNotFound = errors.New("prfactory: checkpoint not found")
	ErrRequestNotFound    = errors.New("prfactory: execution request not found")
	ErrGraphNotFound      = errors.New("prfactory: phase graph not found")

	// Conflict errors.
	ErrWorkItemExists = errors.New("prfactory: work item already exists")
	ErrPendingRequest = errors.New("prfactory: work item already has a pending request")
	ErrTenantMismatch = errors.New("prfactory: tenant mismatch")
	ErrItemArchived   = errors.New("prfactory: work item is archived")

	// State errors.
	ErrInvalidStatus      = errors.New("prfactory: invalid checkpoint status transition")
	ErrOrphanedResume     = errors.New("prfactory: resume request has no active checkpoint")
	ErrMaxRetriesExceeded = errors.New("prfactory: max retries exceeded")
)
