// Package db owns every SQL statement of the allocation engine: the
// capacity ledger, the booking records and the per-slot waitlist. All three
// live in one consistency domain, so mutations that belong to the same
// intent run through RunInTx together.
package db

import "errors"

// Sentinel errors surfaced by the storage layer. Higher layers branch on
// these to decide outcomes and HTTP status codes.
var (
	// ErrSlotNotFound is returned when the referenced slot does not exist.
	ErrSlotNotFound = errors.New("slot not found")

	// ErrInsufficientCapacity signals a failed conditional reserve: the
	// slot had fewer units than requested and nothing was mutated. The
	// orchestrator converts it into a waitlisted outcome; it never reaches
	// callers as an error.
	ErrInsufficientCapacity = errors.New("insufficient capacity")

	// ErrAlreadyWaiting signals that the requester already holds a pending
	// waitlist entry for the slot. Enqueueing is idempotent, so callers
	// treat this as a no-op.
	ErrAlreadyWaiting = errors.New("requester already waitlisted for slot")

	// ErrBookingNotFound is returned when a release intent names a booking
	// that does not exist.
	ErrBookingNotFound = errors.New("booking not found")

	// ErrSlotInUse blocks deleting a slot that still has granted bookings.
	ErrSlotInUse = errors.New("slot still has granted bookings")

	// ErrNotOwner is returned when a release intent comes from a requester
	// other than the booking's owner. No state changes.
	ErrNotOwner = errors.New("booking belongs to another requester")

	// ErrAlreadyReleased is returned when the booking has already been
	// released. Units go back to the ledger exactly once.
	ErrAlreadyReleased = errors.New("booking already released")

	// ErrOverRelease means a ledger release would push available_units past
	// capacity. Releases are driven by booking quantities, so hitting this
	// indicates drifted accounting; it is rejected rather than clamped.
	ErrOverRelease = errors.New("release exceeds outstanding reservations")

	// ErrTransactionConflict is a transient commit failure (serialization
	// conflict, deadlock, lock timeout). Callers retry a bounded number of
	// times at the boundary; the engine never loops on it internally.
	ErrTransactionConflict = errors.New("transaction conflict, retry")

	// ErrStorageUnavailable means the database could not be reached at
	// all. Fatal for the intent; surfaced to the caller as-is.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
