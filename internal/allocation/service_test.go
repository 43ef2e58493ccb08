package allocation_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-booking/internal/allocation"
	"ms-booking/internal/allocation/db"
	"ms-booking/internal/models"
)

// fakeParent answers the bookable check from a map, no HTTP involved.
type fakeParent struct {
	bookable map[string]bool
}

func (f *fakeParent) IsBookable(ctx context.Context, parentKind, parentID string) (bool, error) {
	return f.bookable[parentKind+"/"+parentID], nil
}

// recordingPublisher captures notifications instead of talking to Kafka.
type recordingPublisher struct {
	mu       sync.Mutex
	received []models.AllocationNotification
}

func (r *recordingPublisher) record(n models.AllocationNotification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received = append(r.received, n)
	return nil
}

func (r *recordingPublisher) PublishGranted(n models.AllocationNotification) error {
	return r.record(n)
}
func (r *recordingPublisher) PublishWaitlisted(n models.AllocationNotification) error {
	return r.record(n)
}
func (r *recordingPublisher) PublishReleased(n models.AllocationNotification) error {
	return r.record(n)
}
func (r *recordingPublisher) PublishPromoted(n models.AllocationNotification) error {
	return r.record(n)
}

func (r *recordingPublisher) outcomes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.received))
	for _, n := range r.received {
		out = append(out, n.Outcome)
	}
	return out
}

type recordingCache struct {
	mu          sync.Mutex
	invalidated []string
}

func (r *recordingCache) Invalidate(ctx context.Context, slotID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidated = append(r.invalidated, slotID)
}

type fixture struct {
	service   *allocation.Service
	db        *db.DB
	parent    *fakeParent
	publisher *recordingPublisher
	cache     *recordingCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { bunDB.Close() })

	ctx := context.Background()
	require.NoError(t, bunDB.ResetModel(ctx, (*models.Slot)(nil)))
	require.NoError(t, bunDB.ResetModel(ctx, (*models.Booking)(nil)))
	require.NoError(t, bunDB.ResetModel(ctx, (*models.WaitlistEntry)(nil)))

	dbLayer := &db.DB{Bun: bunDB}
	parent := &fakeParent{bookable: map[string]bool{"event/event-1": true}}
	publisher := &recordingPublisher{}
	cacheSpy := &recordingCache{}

	return &fixture{
		service:   allocation.NewService(dbLayer, parent, publisher, cacheSpy, nil),
		db:        dbLayer,
		parent:    parent,
		publisher: publisher,
		cache:     cacheSpy,
	}
}

func (f *fixture) createSlot(t *testing.T, slotID string, capacity int) {
	t.Helper()
	require.NoError(t, f.db.CreateSlot(context.Background(), f.db.Bun, &models.Slot{
		SlotID:     slotID,
		ParentID:   "event-1",
		ParentKind: "event",
		Capacity:   capacity,
	}))
}

func TestReserveGrants(t *testing.T) {
	f := newFixture(t)
	f.createSlot(t, "slot-1", 5)

	result, err := f.service.Reserve(context.Background(), "alice", "slot-1", 3, []string{"A1", "A2", "A3"})
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeGranted, result.Outcome)
	assert.NotEmpty(t, result.BookingID)
	assert.Equal(t, 2, result.Slot.AvailableUnits)

	booking, err := f.db.GetBooking(context.Background(), f.db.Bun, result.BookingID)
	require.NoError(t, err)
	assert.Equal(t, "alice", booking.RequesterID)
	assert.Equal(t, []string{"A1", "A2", "A3"}, booking.Labels())

	assert.Equal(t, []string{models.OutcomeGranted}, f.publisher.outcomes())
	assert.Equal(t, []string{"slot-1"}, f.cache.invalidated)
}

func TestReserveRejectsNonPositiveQuantity(t *testing.T) {
	f := newFixture(t)
	f.createSlot(t, "slot-1", 5)

	_, err := f.service.Reserve(context.Background(), "alice", "slot-1", 0, nil)
	assert.ErrorIs(t, err, allocation.ErrInvalidQuantity)

	_, err = f.service.Reserve(context.Background(), "alice", "slot-1", -2, nil)
	assert.ErrorIs(t, err, allocation.ErrInvalidQuantity)

	slot, err := f.db.GetSlot(context.Background(), f.db.Bun, "slot-1")
	require.NoError(t, err)
	assert.Equal(t, 5, slot.AvailableUnits)
	assert.Empty(t, f.publisher.outcomes())
}

func TestReserveRefusedWhenParentNotBookable(t *testing.T) {
	f := newFixture(t)
	f.createSlot(t, "slot-1", 5)
	f.parent.bookable["event/event-1"] = false

	_, err := f.service.Reserve(context.Background(), "alice", "slot-1", 1, nil)
	assert.ErrorIs(t, err, allocation.ErrParentNotBookable)

	slot, err := f.db.GetSlot(context.Background(), f.db.Bun, "slot-1")
	require.NoError(t, err)
	assert.Equal(t, 5, slot.AvailableUnits)
}

func TestReserveWaitlistsWhenFull(t *testing.T) {
	f := newFixture(t)
	f.createSlot(t, "slot-1", 2)
	ctx := context.Background()

	_, err := f.service.Reserve(ctx, "alice", "slot-1", 2, nil)
	require.NoError(t, err)

	result, err := f.service.Reserve(ctx, "bob", "slot-1", 1, nil)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeWaitlisted, result.Outcome)
	assert.Empty(t, result.BookingID)

	entries, err := f.db.WaitlistForSlot(ctx, f.db.Bun, "slot-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "bob", entries[0].RequesterID)

	assert.Equal(t, []string{models.OutcomeGranted, models.OutcomeWaitlisted}, f.publisher.outcomes())
}

func TestReserveWaitlistTwiceIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.createSlot(t, "slot-1", 1)
	ctx := context.Background()

	_, err := f.service.Reserve(ctx, "alice", "slot-1", 1, nil)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		result, err := f.service.Reserve(ctx, "bob", "slot-1", 1, nil)
		require.NoError(t, err)
		assert.Equal(t, models.OutcomeWaitlisted, result.Outcome)
	}

	entries, err := f.db.WaitlistForSlot(ctx, f.db.Bun, "slot-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestReleasePromotesWaitingRequester(t *testing.T) {
	f := newFixture(t)
	f.createSlot(t, "slot-1", 5)
	ctx := context.Background()

	granted, err := f.service.Reserve(ctx, "alice", "slot-1", 3, nil)
	require.NoError(t, err)
	_, err = f.service.Reserve(ctx, "carol", "slot-1", 2, nil)
	require.NoError(t, err)

	// Bob wants 2 but the slot is full, so he waits.
	waitlisted, err := f.service.Reserve(ctx, "bob", "slot-1", 2, nil)
	require.NoError(t, err)
	require.Equal(t, models.OutcomeWaitlisted, waitlisted.Outcome)

	result, err := f.service.Release(ctx, "alice", granted.BookingID)
	require.NoError(t, err)
	require.NotNil(t, result.Promoted)
	assert.Equal(t, "bob", result.Promoted.RequesterID)
	assert.Equal(t, 2, result.Promoted.Quantity)
	assert.True(t, result.Promoted.Promoted)

	// Alice freed 3, bob took 2: one unit left on the ledger.
	slot, err := f.db.GetSlot(ctx, f.db.Bun, "slot-1")
	require.NoError(t, err)
	assert.Equal(t, 1, slot.AvailableUnits)

	entries, err := f.db.WaitlistForSlot(ctx, f.db.Bun, "slot-1")
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.Equal(t, []string{
		models.OutcomeGranted,
		models.OutcomeGranted,
		models.OutcomeWaitlisted,
		models.OutcomeReleased,
		models.OutcomePromoted,
	}, f.publisher.outcomes())
}

func TestReleasePromotesFirstEligibleNotStrictHead(t *testing.T) {
	f := newFixture(t)
	f.createSlot(t, "slot-1", 4)
	ctx := context.Background()

	granted, err := f.service.Reserve(ctx, "alice", "slot-1", 4, nil)
	require.NoError(t, err)

	// Big asks for more than alice will free; small fits.
	_, err = f.service.Reserve(ctx, "big", "slot-1", 5, nil)
	require.NoError(t, err)
	_, err = f.service.Reserve(ctx, "small", "slot-1", 2, nil)
	require.NoError(t, err)

	result, err := f.service.Release(ctx, "alice", granted.BookingID)
	require.NoError(t, err)
	require.NotNil(t, result.Promoted)
	assert.Equal(t, "small", result.Promoted.RequesterID)

	// Big stays queued for a future release.
	entries, err := f.db.WaitlistForSlot(ctx, f.db.Bun, "slot-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "big", entries[0].RequesterID)
}

func TestReleaseTwoUnitsPromotesSmallerWaiterOverHead(t *testing.T) {
	f := newFixture(t)
	f.createSlot(t, "slot-1", 5)
	ctx := context.Background()

	first, err := f.service.Reserve(ctx, "holder-1", "slot-1", 2, nil)
	require.NoError(t, err)
	_, err = f.service.Reserve(ctx, "holder-2", "slot-1", 3, nil)
	require.NoError(t, err)

	// A queues for 3, then B for 2.
	_, err = f.service.Reserve(ctx, "requester-a", "slot-1", 3, nil)
	require.NoError(t, err)
	_, err = f.service.Reserve(ctx, "requester-b", "slot-1", 2, nil)
	require.NoError(t, err)

	// Releasing 2 units fits B but not A, so B jumps the queue.
	result, err := f.service.Release(ctx, "holder-1", first.BookingID)
	require.NoError(t, err)
	require.NotNil(t, result.Promoted)
	assert.Equal(t, "requester-b", result.Promoted.RequesterID)

	entries, err := f.db.WaitlistForSlot(ctx, f.db.Bun, "slot-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "requester-a", entries[0].RequesterID)
}

func TestConcurrentClaimsOnLastUnitThenPromotion(t *testing.T) {
	f := newFixture(t)
	f.createSlot(t, "slot-1", 1)
	ctx := context.Background()

	type outcome struct {
		requester string
		result    *allocation.ReserveResult
		err       error
	}
	results := make(chan outcome, 2)
	var wg sync.WaitGroup
	for _, requester := range []string{"x", "y"} {
		wg.Add(1)
		go func(r string) {
			defer wg.Done()
			res, err := f.service.Reserve(ctx, r, "slot-1", 1, nil)
			results <- outcome{requester: r, result: res, err: err}
		}(requester)
	}
	wg.Wait()
	close(results)

	var winner outcome
	granted, waitlisted := 0, 0
	for o := range results {
		require.NoError(t, o.err)
		switch o.result.Outcome {
		case models.OutcomeGranted:
			granted++
			winner = o
		case models.OutcomeWaitlisted:
			waitlisted++
		}
	}
	require.Equal(t, 1, granted)
	require.Equal(t, 1, waitlisted)

	// The loser gets the unit when the winner lets go.
	release, err := f.service.Release(ctx, winner.requester, winner.result.BookingID)
	require.NoError(t, err)
	require.NotNil(t, release.Promoted)
	assert.NotEqual(t, winner.requester, release.Promoted.RequesterID)

	slot, err := f.db.GetSlot(ctx, f.db.Bun, "slot-1")
	require.NoError(t, err)
	assert.Equal(t, 0, slot.AvailableUnits)
	assert.Equal(t, models.SlotStatusFull, slot.Status)
}

func TestReleaseWithoutEligibleWaiterPromotesNobody(t *testing.T) {
	f := newFixture(t)
	f.createSlot(t, "slot-1", 3)
	ctx := context.Background()

	granted, err := f.service.Reserve(ctx, "alice", "slot-1", 1, nil)
	require.NoError(t, err)

	result, err := f.service.Release(ctx, "alice", granted.BookingID)
	require.NoError(t, err)
	assert.Nil(t, result.Promoted)
	assert.Equal(t, models.BookingStatusReleased, result.Booking.Status)

	slot, err := f.db.GetSlot(ctx, f.db.Bun, "slot-1")
	require.NoError(t, err)
	assert.Equal(t, 3, slot.AvailableUnits)
}

func TestReleaseSinglePromotionPerRelease(t *testing.T) {
	f := newFixture(t)
	f.createSlot(t, "slot-1", 4)
	ctx := context.Background()

	granted, err := f.service.Reserve(ctx, "alice", "slot-1", 4, nil)
	require.NoError(t, err)

	_, err = f.service.Reserve(ctx, "bob", "slot-1", 1, nil)
	require.NoError(t, err)
	_, err = f.service.Reserve(ctx, "carol", "slot-1", 1, nil)
	require.NoError(t, err)

	// Four units come back and two waiters would each fit, but one release
	// promotes at most one entry.
	result, err := f.service.Release(ctx, "alice", granted.BookingID)
	require.NoError(t, err)
	require.NotNil(t, result.Promoted)
	assert.Equal(t, "bob", result.Promoted.RequesterID)

	entries, err := f.db.WaitlistForSlot(ctx, f.db.Bun, "slot-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "carol", entries[0].RequesterID)
}

func TestReleaseOnlyByOwnerAndOnlyOnce(t *testing.T) {
	f := newFixture(t)
	f.createSlot(t, "slot-1", 2)
	ctx := context.Background()

	granted, err := f.service.Reserve(ctx, "alice", "slot-1", 1, nil)
	require.NoError(t, err)

	_, err = f.service.Release(ctx, "mallory", granted.BookingID)
	assert.ErrorIs(t, err, db.ErrNotOwner)

	_, err = f.service.Release(ctx, "alice", granted.BookingID)
	require.NoError(t, err)

	_, err = f.service.Release(ctx, "alice", granted.BookingID)
	assert.ErrorIs(t, err, db.ErrAlreadyReleased)

	// Units went back exactly once.
	slot, err := f.db.GetSlot(ctx, f.db.Bun, "slot-1")
	require.NoError(t, err)
	assert.Equal(t, 2, slot.AvailableUnits)
}

func TestReleaseUnknownBooking(t *testing.T) {
	f := newFixture(t)
	f.createSlot(t, "slot-1", 2)

	_, err := f.service.Release(context.Background(), "alice", "nope")
	assert.ErrorIs(t, err, db.ErrBookingNotFound)
}

// Conservation under interleaving: every unit is either on the ledger or
// held by a GRANTED booking, never both, never neither.
func TestCapacityConservedAcrossMixedTraffic(t *testing.T) {
	f := newFixture(t)
	const capacity = 8
	f.createSlot(t, "slot-1", capacity)
	ctx := context.Background()

	requesters := []string{"r1", "r2", "r3", "r4", "r5", "r6"}
	var bookingIDs []string
	for _, r := range requesters {
		result, err := f.service.Reserve(ctx, r, "slot-1", 2, nil)
		require.NoError(t, err)
		if result.Outcome == models.OutcomeGranted {
			bookingIDs = append(bookingIDs, result.BookingID)
		}
	}
	require.Len(t, bookingIDs, 4)

	// Release two of them; promotions may consume the freed units.
	for _, id := range bookingIDs[:2] {
		booking, err := f.db.GetBooking(ctx, f.db.Bun, id)
		require.NoError(t, err)
		_, err = f.service.Release(ctx, booking.RequesterID, id)
		require.NoError(t, err)
	}

	slot, err := f.db.GetSlot(ctx, f.db.Bun, "slot-1")
	require.NoError(t, err)
	granted, err := f.db.GrantedQuantitySum(ctx, f.db.Bun, "slot-1")
	require.NoError(t, err)
	assert.Equal(t, capacity, slot.AvailableUnits+granted)
	assert.GreaterOrEqual(t, slot.AvailableUnits, 0)
}
