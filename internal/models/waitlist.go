package models

import (
	"time"

	"github.com/uptrace/bun"
)

// WaitlistEntry is one deferred reserve intent. Entries for a slot form the
// slot's queue, ordered by the auto-incremented ID (insertion order). The
// unique group on (slot_id, requester_id) is what makes enqueueing
// idempotent: a requester can hold at most one pending entry per slot.
type WaitlistEntry struct {
	bun.BaseModel `bun:"table:waitlist_entries"`

	ID          int64     `bun:"id,pk,autoincrement" json:"-"`
	SlotID      string    `bun:"slot_id,notnull,unique:slot_requester" json:"slot_id"`
	RequesterID string    `bun:"requester_id,notnull,unique:slot_requester" json:"requester_id"`
	Quantity    int       `bun:"quantity,notnull" json:"quantity"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}
