// Package allocation implements the capacity allocation and waitlist
// promotion engine: atomic reserve/release of slot units, deferral to a
// per-slot waitlist when capacity runs out, and promotion of waiting
// requesters as units are released.
package allocation

import "errors"

// Validation errors rejected by the orchestrator before any transaction
// starts. Storage-level sentinels live in the db package.
var (
	// ErrInvalidQuantity is returned for reserve intents with quantity < 1.
	ErrInvalidQuantity = errors.New("quantity must be a positive integer")

	// ErrParentNotBookable is returned when the slot's parent is not in a
	// bookable state according to the parent-state collaborator.
	ErrParentNotBookable = errors.New("parent is not bookable")
)
