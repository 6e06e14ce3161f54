package stacc

import "errors"

var (
	// ErrMissingTenant is returned when an entry is appended without a tenant.
	ErrMissingTenant = errors.New("storage entry requires a tenant")

	ErrInvalidOperation = errors.New("invalid storage operation")
	ErrInvalidOwner     = errors.New("invalid owner")
	ErrInvalidRecord    = errors.New("invalid record reference")

	// ErrOwnerNotFound means the owner no longer exists, typically because it
	// was destroyed after work for it was scheduled. Jobs discard on it.
	ErrOwnerNotFound = errors.New("owner not found")

	ErrRecordNotFound     = errors.New("record not found")
	ErrAttachmentNotFound = errors.New("attachment not found")
	ErrNotMovable         = errors.New("record cannot change container")

	// ErrCursorAhead means a snapshot cursor points past the newest entry.
	ErrCursorAhead = errors.New("snapshot cursor is ahead of the ledger")
)
