package models

import "time"

// Allocation outcome tags carried on post-commit notifications.
const (
	OutcomeGranted    = "granted"
	OutcomeWaitlisted = "waitlisted"
	OutcomeReleased   = "released"
	OutcomePromoted   = "promoted"
)

// AllocationNotification is emitted to Kafka after a reserve/release
// transaction commits. Delivery is fire-and-forget: a publish failure never
// rolls back the committed allocation.
type AllocationNotification struct {
	Outcome     string    `json:"outcome"`
	RequesterID string    `json:"requester_id"`
	SlotID      string    `json:"slot_id"`
	BookingID   string    `json:"booking_id,omitempty"`
	Quantity    int       `json:"quantity"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// ParentEvent is the shape of parent lifecycle messages consumed from the
// listings service. A "scheduled" event carries the slots to open; a
// "state-changed" event flips bookability.
type ParentEvent struct {
	Type       string          `json:"type"`
	ParentID   string          `json:"parent_id"`
	ParentKind string          `json:"parent_kind"`
	Bookable   bool            `json:"bookable"`
	Slots      []ParentSlotDef `json:"slots,omitempty"`
}

type ParentSlotDef struct {
	SlotID   string `json:"slot_id"`
	Capacity int    `json:"capacity"`
}

const (
	ParentEventScheduled    = "scheduled"
	ParentEventStateChanged = "state-changed"
)
