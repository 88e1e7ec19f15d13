package engine

import "errors"

var (
	// ErrUnknownAction is returned when no action exists for the given id.
	ErrUnknownAction = errors.New("unknown action")

	// ErrCancelTooLate is returned when an undo arrives after the commit
	// started or the action settled. Reversal at that point needs a new
	// compensating action, not a cancel.
	ErrCancelTooLate = errors.New("cancel too late: action already committing or settled")

	// ErrStaleUndo is returned when rollback is refused because another
	// action moved the entity past the state this action wrote. The entity
	// keeps its newer state.
	ErrStaleUndo = errors.New("stale undo: entity changed since this action applied")

	// ErrSlotOccupied signals a registry invariant violation: a second
	// non-terminal action was registered for an (entity, kind) slot. The
	// presenter resolves collisions before registering, so reaching this
	// is a programming error.
	ErrSlotOccupied = errors.New("action slot already occupied")
)
