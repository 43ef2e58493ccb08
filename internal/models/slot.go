package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	SlotStatusAvailable = "AVAILABLE"
	SlotStatusFull      = "FULL"
)

// Slot is the capacity ledger entity. Capacity is fixed at creation;
// available_units is the only mutable field and is only ever written
// through the ledger's conditional reserve/release updates.
type Slot struct {
	bun.BaseModel `bun:"table:slots"`

	SlotID         string    `bun:"slot_id,pk" json:"slot_id"`
	ParentID       string    `bun:"parent_id,notnull" json:"parent_id"`
	ParentKind     string    `bun:"parent_kind,notnull" json:"parent_kind"`
	Capacity       int       `bun:"capacity,notnull" json:"capacity"`
	AvailableUnits int       `bun:"available_units,notnull" json:"available_units"`
	Status         string    `bun:"status,notnull" json:"status"`
	CreatedAt      time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// StatusFor derives the slot status from the remaining units. FULL iff
// nothing is left; it is never set independently of available_units.
func StatusFor(availableUnits int) string {
	if availableUnits == 0 {
		return SlotStatusFull
	}
	return SlotStatusAvailable
}

type SlotRequest struct {
	SlotID     string `json:"slot_id"`
	ParentID   string `json:"parent_id"`
	ParentKind string `json:"parent_kind"`
	Capacity   int    `json:"capacity"`
}

type SlotAvailability struct {
	SlotID         string `json:"slot_id"`
	AvailableUnits int    `json:"available_units"`
	Capacity       int    `json:"capacity"`
	Status         string `json:"status"`
}
