package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"ms-booking/internal/models"
)

type DB struct {
	Bun *bun.DB
}

// RunInTx executes fn inside one database transaction. The ledger, booking
// and waitlist mutations of a single intent always travel through here
// together: either everything commits or nothing does. Transient commit
// failures are mapped to ErrTransactionConflict for the caller boundary to
// retry.
func (d *DB) RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	err := d.Bun.RunInTx(ctx, &sql.TxOptions{}, fn)
	switch {
	case err == nil:
		return nil
	case isConflict(err):
		return fmt.Errorf("%w: %v", ErrTransactionConflict, err)
	case isUnavailable(err):
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return err
}

// isConflict recognises transient serialization failures across the two
// dialects we run on (Postgres in production, SQLite in tests).
func isConflict(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "serialization") ||
		strings.Contains(msg, "deadlock") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// isUnavailable recognises connection-level failures, as opposed to the
// statement-level ones above.
func isUnavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe")
}

// ---------------- CAPACITY LEDGER ----------------

// TryReserve atomically claims quantity units from a slot. The check and the
// decrement are one conditional UPDATE, so two concurrent callers can never
// both pass the availability check on the same units. Returns the slot state
// after the decrement, or ErrInsufficientCapacity with no mutation.
func (d *DB) TryReserve(ctx context.Context, idb bun.IDB, slotID string, quantity int) (*models.Slot, error) {
	if quantity < 1 {
		// Callers validate before reaching the ledger; this guards the contract.
		return nil, fmt.Errorf("ledger reserve: non-positive quantity %d", quantity)
	}

	res, err := idb.NewUpdate().
		Model((*models.Slot)(nil)).
		Set("available_units = available_units - ?", quantity).
		Set("status = CASE WHEN available_units - ? = 0 THEN ? ELSE ? END",
			quantity, models.SlotStatusFull, models.SlotStatusAvailable).
		Where("slot_id = ?", slotID).
		Where("available_units >= ?", quantity).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger reserve failed: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		// Nothing changed: either the slot is missing or the units ran out.
		if _, err := d.GetSlot(ctx, idb, slotID); err != nil {
			return nil, err
		}
		return nil, ErrInsufficientCapacity
	}

	return d.GetSlot(ctx, idb, slotID)
}

// Release returns quantity units to a slot. It is conditional the other way
// around: a release that would push available_units past capacity is a bug
// in the caller's accounting and is rejected, not clamped.
func (d *DB) Release(ctx context.Context, idb bun.IDB, slotID string, quantity int) (*models.Slot, error) {
	if quantity < 1 {
		return nil, fmt.Errorf("ledger release: non-positive quantity %d", quantity)
	}

	res, err := idb.NewUpdate().
		Model((*models.Slot)(nil)).
		Set("available_units = available_units + ?", quantity).
		Set("status = ?", models.SlotStatusAvailable).
		Where("slot_id = ?", slotID).
		Where("available_units + ? <= capacity", quantity).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger release failed: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		if _, err := d.GetSlot(ctx, idb, slotID); err != nil {
			return nil, err
		}
		return nil, ErrOverRelease
	}

	return d.GetSlot(ctx, idb, slotID)
}

// GetSlot fetches one slot by ID.
func (d *DB) GetSlot(ctx context.Context, idb bun.IDB, slotID string) (*models.Slot, error) {
	var slot models.Slot
	err := idb.NewSelect().
		Model(&slot).
		Where("slot_id = ?", slotID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSlotNotFound
	}
	if err != nil {
		return nil, err
	}
	return &slot, nil
}

// CreateSlot opens a new slot with all units available. Capacity is
// immutable from here on.
func (d *DB) CreateSlot(ctx context.Context, idb bun.IDB, slot *models.Slot) error {
	slot.AvailableUnits = slot.Capacity
	slot.Status = models.StatusFor(slot.AvailableUnits)
	_, err := idb.NewInsert().Model(slot).Exec(ctx)
	return err
}

// ---------------- BOOKINGS ----------------

// CreateBooking appends a GRANTED record. Always called right after a
// successful TryReserve in the same transaction, so no capacity check here.
func (d *DB) CreateBooking(ctx context.Context, idb bun.IDB, booking *models.Booking) error {
	booking.Status = models.BookingStatusGranted
	if booking.CreatedAt.IsZero() {
		booking.CreatedAt = time.Now().UTC()
	}
	_, err := idb.NewInsert().Model(booking).Exec(ctx)
	return err
}

// GetBooking fetches one booking by ID.
func (d *DB) GetBooking(ctx context.Context, idb bun.IDB, bookingID string) (*models.Booking, error) {
	var booking models.Booking
	err := idb.NewSelect().
		Model(&booking).
		Where("booking_id = ?", bookingID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

// ReleaseBooking transitions GRANTED -> RELEASED for the owning requester.
// The status flip is itself conditional on the current status, so a
// concurrent double release loses the race cleanly and sees AlreadyReleased.
func (d *DB) ReleaseBooking(ctx context.Context, idb bun.IDB, bookingID, requesterID string) (*models.Booking, error) {
	booking, err := d.GetBooking(ctx, idb, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.RequesterID != requesterID {
		return nil, ErrNotOwner
	}
	if booking.Status != models.BookingStatusGranted {
		return nil, ErrAlreadyReleased
	}

	res, err := idb.NewUpdate().
		Model((*models.Booking)(nil)).
		Set("status = ?", models.BookingStatusReleased).
		Set("released_at = ?", time.Now().UTC()).
		Where("booking_id = ?", bookingID).
		Where("status = ?", models.BookingStatusGranted).
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, ErrAlreadyReleased
	}

	booking.Status = models.BookingStatusReleased
	return booking, nil
}

// ---------------- WAITLIST ----------------

// Enqueue appends a waitlist entry unless the requester already has one for
// this slot. The unique index does the duplicate check atomically; a
// conflicting insert affects zero rows and comes back as ErrAlreadyWaiting.
func (d *DB) Enqueue(ctx context.Context, idb bun.IDB, entry *models.WaitlistEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	res, err := idb.NewInsert().
		Model(entry).
		On("CONFLICT (slot_id, requester_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAlreadyWaiting
	}
	return nil
}

// NextEligible scans the slot's queue in insertion order and returns the
// first entry whose quantity fits in availableUnits. An oversized entry at
// the head does not block the scan: a later, smaller request can be
// promoted first.
func (d *DB) NextEligible(ctx context.Context, idb bun.IDB, slotID string, availableUnits int) (*models.WaitlistEntry, error) {
	if availableUnits < 1 {
		return nil, nil
	}
	var entry models.WaitlistEntry
	err := idb.NewSelect().
		Model(&entry).
		Where("slot_id = ?", slotID).
		Where("quantity <= ?", availableUnits).
		Order("id ASC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// RemoveWaitlistEntry deletes the requester's entry for a slot. The queue is
// just its rows, so an emptied queue leaves nothing dangling behind.
func (d *DB) RemoveWaitlistEntry(ctx context.Context, idb bun.IDB, slotID, requesterID string) error {
	_, err := idb.NewDelete().
		Model((*models.WaitlistEntry)(nil)).
		Where("slot_id = ?", slotID).
		Where("requester_id = ?", requesterID).
		Exec(ctx)
	return err
}

// WaitlistForSlot returns the slot's queue in insertion order.
func (d *DB) WaitlistForSlot(ctx context.Context, idb bun.IDB, slotID string) ([]models.WaitlistEntry, error) {
	entries := make([]models.WaitlistEntry, 0)
	err := idb.NewSelect().
		Model(&entries).
		Where("slot_id = ?", slotID).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// ---------------- QUERIES ----------------

// GetBookingsByRequester returns a requester's own bookings, newest first.
func (d *DB) GetBookingsByRequester(ctx context.Context, idb bun.IDB, requesterID string) ([]models.Booking, error) {
	bookings := make([]models.Booking, 0)
	err := idb.NewSelect().
		Model(&bookings).
		Where("requester_id = ?", requesterID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return bookings, nil
}

// GrantedQuantitySum returns the total units held by GRANTED bookings for a
// slot. Used to render occupancy; never used as a capacity check.
func (d *DB) GrantedQuantitySum(ctx context.Context, idb bun.IDB, slotID string) (int, error) {
	var total int
	err := idb.NewSelect().
		Model((*models.Booking)(nil)).
		ColumnExpr("COALESCE(SUM(quantity), 0)").
		Where("slot_id = ?", slotID).
		Where("status = ?", models.BookingStatusGranted).
		Scan(ctx, &total)
	if err != nil {
		return 0, err
	}
	return total, nil
}

// GetSlotsByParent lists the slots belonging to a parent content item.
func (d *DB) GetSlotsByParent(ctx context.Context, idb bun.IDB, parentID, parentKind string) ([]models.Slot, error) {
	slots := make([]models.Slot, 0)
	err := idb.NewSelect().
		Model(&slots).
		Where("parent_id = ?", parentID).
		Where("parent_kind = ?", parentKind).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return slots, nil
}

// DeleteSlot removes a slot, refusing while any GRANTED booking references
// it.
func (d *DB) DeleteSlot(ctx context.Context, idb bun.IDB, slotID string) error {
	granted, err := idb.NewSelect().
		Model((*models.Booking)(nil)).
		Where("slot_id = ?", slotID).
		Where("status = ?", models.BookingStatusGranted).
		Count(ctx)
	if err != nil {
		return err
	}
	if granted > 0 {
		return fmt.Errorf("%w: slot %s holds %d", ErrSlotInUse, slotID, granted)
	}
	res, err := idb.NewDelete().
		Model((*models.Slot)(nil)).
		Where("slot_id = ?", slotID).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSlotNotFound
	}
	return nil
}
