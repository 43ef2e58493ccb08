package models

import (
	"encoding/json"
	"time"

	"github.com/uptrace/bun"
)

const (
	BookingStatusGranted  = "GRANTED"
	BookingStatusReleased = "RELEASED"
)

// Booking is the durable record of a granted reservation. It is only ever
// created inside the same transaction as a successful ledger reserve, so it
// never needs its own capacity check. A released booking stays RELEASED
// forever; a later promotion creates a fresh record.
type Booking struct {
	bun.BaseModel `bun:"table:bookings"`

	BookingID   string    `bun:"booking_id,pk" json:"booking_id"`
	RequesterID string    `bun:"requester_id,notnull" json:"requester_id"`
	SlotID      string    `bun:"slot_id,notnull" json:"slot_id"`
	Quantity    int       `bun:"quantity,notnull" json:"quantity"`
	SeatLabels  string    `bun:"seat_labels,nullzero" json:"-"`
	Status      string    `bun:"status,notnull" json:"status"`
	Promoted    bool      `bun:"promoted,nullzero" json:"promoted,omitempty"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	ReleasedAt  time.Time `bun:"released_at,nullzero" json:"released_at,omitempty"`
}

// Labels decodes the informational seat labels. They are display-only and
// play no part in capacity accounting.
func (b *Booking) Labels() []string {
	if b.SeatLabels == "" {
		return []string{}
	}
	var labels []string
	if err := json.Unmarshal([]byte(b.SeatLabels), &labels); err != nil {
		return []string{}
	}
	return labels
}

// EncodeLabels serialises seat labels for storage. A nil or empty slice is
// stored as the empty string.
func EncodeLabels(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	raw, err := json.Marshal(labels)
	if err != nil {
		return ""
	}
	return string(raw)
}

type ReserveRequest struct {
	Quantity   int      `json:"quantity"`
	SeatLabels []string `json:"seat_labels,omitempty"`
}

type BookingView struct {
	BookingID  string    `json:"booking_id"`
	SlotID     string    `json:"slot_id"`
	Quantity   int       `json:"quantity"`
	SeatLabels []string  `json:"seat_labels"`
	Status     string    `json:"status"`
	Promoted   bool      `json:"promoted,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// View converts a stored booking into its API shape with decoded labels.
func (b *Booking) View() BookingView {
	return BookingView{
		BookingID:  b.BookingID,
		SlotID:     b.SlotID,
		Quantity:   b.Quantity,
		SeatLabels: b.Labels(),
		Status:     b.Status,
		Promoted:   b.Promoted,
		CreatedAt:  b.CreatedAt,
	}
}
