package allocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"ms-booking/internal/allocation/db"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

// ParentStateChecker answers whether a slot's parent content item is in a
// bookable state. The orchestrator does not know what "published" or
// "active" mean; that is the collaborator's business.
type ParentStateChecker interface {
	IsBookable(ctx context.Context, parentKind, parentID string) (bool, error)
}

// NotificationPublisher delivers allocation outcomes after commit.
// Fire-and-forget: failures are logged and never roll anything back.
type NotificationPublisher interface {
	PublishGranted(n models.AllocationNotification) error
	PublishWaitlisted(n models.AllocationNotification) error
	PublishReleased(n models.AllocationNotification) error
	PublishPromoted(n models.AllocationNotification) error
}

// AvailabilityCache is invalidated after a committed mutation so the query
// surface re-reads fresh numbers. It never participates in the transaction.
type AvailabilityCache interface {
	Invalidate(ctx context.Context, slotID string)
}

type Service struct {
	DB     *db.DB
	Parent ParentStateChecker
	Kafka  NotificationPublisher
	Cache  AvailabilityCache
	Logger *logger.Logger
}

func NewService(dbLayer *db.DB, parent ParentStateChecker, kafka NotificationPublisher, cache AvailabilityCache, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewLogger()
	}
	return &Service{DB: dbLayer, Parent: parent, Kafka: kafka, Cache: cache, Logger: log}
}

// ReserveResult is the terminal state of a reserve intent. A reserve that
// cannot be granted is not an error; it degrades to a waitlisted outcome.
type ReserveResult struct {
	Outcome   string       `json:"outcome"`
	BookingID string       `json:"booking_id,omitempty"`
	Slot      *models.Slot `json:"-"`
}

// ReleaseResult carries the released booking plus the promotion it may have
// triggered for another requester.
type ReleaseResult struct {
	Booking  *models.Booking `json:"-"`
	Slot     *models.Slot    `json:"-"`
	Promoted *models.Booking `json:"-"`
}

// Reserve handles one reserve intent. Exactly one of two things commits:
// a booking with the ledger decremented, or a waitlist entry. Never a
// partial mix, never both.
func (s *Service) Reserve(ctx context.Context, requesterID, slotID string, quantity int, seatLabels []string) (*ReserveResult, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	// Resolve the parent before opening the transaction; the bookable check
	// talks to an external collaborator and must not run inside it.
	slot, err := s.DB.GetSlot(ctx, s.DB.Bun, slotID)
	if err != nil {
		return nil, err
	}
	if s.Parent != nil {
		bookable, err := s.Parent.IsBookable(ctx, slot.ParentKind, slot.ParentID)
		if err != nil {
			return nil, fmt.Errorf("parent state check failed: %w", err)
		}
		if !bookable {
			return nil, ErrParentNotBookable
		}
	}

	result := &ReserveResult{}
	err = s.DB.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		updated, err := s.DB.TryReserve(ctx, tx, slotID, quantity)
		if errors.Is(err, db.ErrInsufficientCapacity) {
			entry := &models.WaitlistEntry{
				SlotID:      slotID,
				RequesterID: requesterID,
				Quantity:    quantity,
			}
			if err := s.DB.Enqueue(ctx, tx, entry); err != nil && !errors.Is(err, db.ErrAlreadyWaiting) {
				return err
			}
			result.Outcome = models.OutcomeWaitlisted
			return nil
		}
		if err != nil {
			return err
		}

		booking := &models.Booking{
			BookingID:   uuid.NewString(),
			RequesterID: requesterID,
			SlotID:      slotID,
			Quantity:    quantity,
			SeatLabels:  models.EncodeLabels(seatLabels),
		}
		if err := s.DB.CreateBooking(ctx, tx, booking); err != nil {
			return err
		}
		result.Outcome = models.OutcomeGranted
		result.BookingID = booking.BookingID
		result.Slot = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch result.Outcome {
	case models.OutcomeGranted:
		s.Logger.Info("ALLOCATION", fmt.Sprintf("Granted %d unit(s) of slot %s to %s (booking %s)", quantity, slotID, requesterID, result.BookingID))
		s.invalidate(ctx, slotID)
		s.publish(models.AllocationNotification{
			Outcome:     models.OutcomeGranted,
			RequesterID: requesterID,
			SlotID:      slotID,
			BookingID:   result.BookingID,
			Quantity:    quantity,
			OccurredAt:  time.Now().UTC(),
		})
	case models.OutcomeWaitlisted:
		s.Logger.Info("ALLOCATION", fmt.Sprintf("Waitlisted %s for %d unit(s) of slot %s", requesterID, quantity, slotID))
		s.publish(models.AllocationNotification{
			Outcome:     models.OutcomeWaitlisted,
			RequesterID: requesterID,
			SlotID:      slotID,
			Quantity:    quantity,
			OccurredAt:  time.Now().UTC(),
		})
	}

	return result, nil
}

// Release handles one release intent: booking GRANTED -> RELEASED, units
// back to the ledger, then at most ONE promotion attempt from the waitlist.
// The re-reserve for the promoted entry goes through the same conditional
// update as any reserve, so a concurrent claim simply skips the promotion
// this round and the entry stays queued. If the released quantity could
// satisfy several queued entries, the rest wait for further releases; this
// engine does not cascade-promote.
func (s *Service) Release(ctx context.Context, requesterID, bookingID string) (*ReleaseResult, error) {
	result := &ReleaseResult{}
	err := s.DB.RunInTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		booking, err := s.DB.ReleaseBooking(ctx, tx, bookingID, requesterID)
		if err != nil {
			return err
		}

		slot, err := s.DB.Release(ctx, tx, booking.SlotID, booking.Quantity)
		if err != nil {
			return err
		}
		result.Booking = booking
		result.Slot = slot

		entry, err := s.DB.NextEligible(ctx, tx, booking.SlotID, slot.AvailableUnits)
		if err != nil {
			return err
		}
		if entry == nil {
			return nil
		}

		reserved, err := s.DB.TryReserve(ctx, tx, booking.SlotID, entry.Quantity)
		if errors.Is(err, db.ErrInsufficientCapacity) {
			// Capacity got claimed in between; skip promotion this round.
			return nil
		}
		if err != nil {
			return err
		}

		promoted := &models.Booking{
			BookingID:   uuid.NewString(),
			RequesterID: entry.RequesterID,
			SlotID:      booking.SlotID,
			Quantity:    entry.Quantity,
			Promoted:    true,
		}
		if err := s.DB.CreateBooking(ctx, tx, promoted); err != nil {
			return err
		}
		if err := s.DB.RemoveWaitlistEntry(ctx, tx, booking.SlotID, entry.RequesterID); err != nil {
			return err
		}
		result.Promoted = promoted
		result.Slot = reserved
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Info("ALLOCATION", fmt.Sprintf("Released booking %s (%d unit(s) of slot %s)", bookingID, result.Booking.Quantity, result.Booking.SlotID))
	s.invalidate(ctx, result.Booking.SlotID)
	s.publish(models.AllocationNotification{
		Outcome:     models.OutcomeReleased,
		RequesterID: requesterID,
		SlotID:      result.Booking.SlotID,
		BookingID:   bookingID,
		Quantity:    result.Booking.Quantity,
		OccurredAt:  time.Now().UTC(),
	})

	if result.Promoted != nil {
		s.Logger.Info("ALLOCATION", fmt.Sprintf("Promoted %s from waitlist of slot %s (booking %s)", result.Promoted.RequesterID, result.Promoted.SlotID, result.Promoted.BookingID))
		s.publish(models.AllocationNotification{
			Outcome:     models.OutcomePromoted,
			RequesterID: result.Promoted.RequesterID,
			SlotID:      result.Promoted.SlotID,
			BookingID:   result.Promoted.BookingID,
			Quantity:    result.Promoted.Quantity,
			OccurredAt:  time.Now().UTC(),
		})
	}

	return result, nil
}

func (s *Service) invalidate(ctx context.Context, slotID string) {
	if s.Cache != nil {
		s.Cache.Invalidate(ctx, slotID)
	}
}

func (s *Service) publish(n models.AllocationNotification) {
	if s.Kafka == nil {
		return
	}
	var err error
	switch n.Outcome {
	case models.OutcomeGranted:
		err = s.Kafka.PublishGranted(n)
	case models.OutcomeWaitlisted:
		err = s.Kafka.PublishWaitlisted(n)
	case models.OutcomeReleased:
		err = s.Kafka.PublishReleased(n)
	case models.OutcomePromoted:
		err = s.Kafka.PublishPromoted(n)
	}
	if err != nil {
		s.Logger.Error("KAFKA", fmt.Sprintf("Failed to publish %s notification for slot %s: %v", n.Outcome, n.SlotID, err))
	}
}
