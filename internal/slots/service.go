// Package slots owns the query surface and the administrative lifecycle of
// capacity slots: creation, availability reads, occupancy reporting and
// teardown. All mutations of available_units stay in the allocation engine.
package slots

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"ms-booking/internal/allocation/db"
	"ms-booking/internal/cache"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/parent"
)

var ErrInvalidCapacity = errors.New("capacity must be at least 1")

type Service struct {
	DB     *db.DB
	Cache  *cache.Availability
	Parent *parent.Client
	Logger *logger.Logger
}

func NewService(dbLayer *db.DB, availability *cache.Availability, parentClient *parent.Client, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewLogger()
	}
	return &Service{DB: dbLayer, Cache: availability, Parent: parentClient, Logger: log}
}

// CreateSlot registers a new slot with its full capacity available.
func (s *Service) CreateSlot(ctx context.Context, req models.SlotRequest) (*models.Slot, error) {
	if req.Capacity < 1 {
		return nil, ErrInvalidCapacity
	}

	slot := &models.Slot{
		SlotID:     req.SlotID,
		ParentID:   req.ParentID,
		ParentKind: req.ParentKind,
		Capacity:   req.Capacity,
	}
	if slot.SlotID == "" {
		slot.SlotID = uuid.NewString()
	}

	if err := s.DB.CreateSlot(ctx, s.DB.Bun, slot); err != nil {
		return nil, err
	}

	s.Logger.Info("SLOTS", fmt.Sprintf("Created slot %s (capacity %d) under %s/%s", slot.SlotID, slot.Capacity, slot.ParentKind, slot.ParentID))
	return slot, nil
}

// Availability returns the availability snapshot for a slot, served from the
// cache when possible.
func (s *Service) Availability(ctx context.Context, slotID string) (*models.SlotAvailability, error) {
	if s.Cache != nil {
		if snapshot, err := s.Cache.Get(ctx, slotID); err == nil && snapshot != nil {
			return snapshot, nil
		}
	}

	slot, err := s.DB.GetSlot(ctx, s.DB.Bun, slotID)
	if err != nil {
		return nil, err
	}

	snapshot := models.SlotAvailability{
		SlotID:         slot.SlotID,
		AvailableUnits: slot.AvailableUnits,
		Capacity:       slot.Capacity,
		Status:         slot.Status,
	}
	if s.Cache != nil {
		s.Cache.Set(ctx, snapshot)
	}
	return &snapshot, nil
}

// Occupancy is the slot's granted quantity, recomputed from the booking
// records rather than read off the ledger. For a healthy slot it equals
// capacity minus available_units; a mismatch means the conservation
// invariant has been violated.
type Occupancy struct {
	SlotID          string `json:"slot_id"`
	Capacity        int    `json:"capacity"`
	AvailableUnits  int    `json:"available_units"`
	GrantedQuantity int    `json:"granted_quantity"`
	WaitlistLength  int    `json:"waitlist_length"`
}

func (s *Service) Occupancy(ctx context.Context, slotID string) (*Occupancy, error) {
	slot, err := s.DB.GetSlot(ctx, s.DB.Bun, slotID)
	if err != nil {
		return nil, err
	}
	granted, err := s.DB.GrantedQuantitySum(ctx, s.DB.Bun, slotID)
	if err != nil {
		return nil, err
	}
	waiting, err := s.DB.WaitlistForSlot(ctx, s.DB.Bun, slotID)
	if err != nil {
		return nil, err
	}

	return &Occupancy{
		SlotID:          slot.SlotID,
		Capacity:        slot.Capacity,
		AvailableUnits:  slot.AvailableUnits,
		GrantedQuantity: granted,
		WaitlistLength:  len(waiting),
	}, nil
}

// Waitlist returns the queued entries for a slot in arrival order.
func (s *Service) Waitlist(ctx context.Context, slotID string) ([]models.WaitlistEntry, error) {
	if _, err := s.DB.GetSlot(ctx, s.DB.Bun, slotID); err != nil {
		return nil, err
	}
	return s.DB.WaitlistForSlot(ctx, s.DB.Bun, slotID)
}

// BookingsForRequester lists all bookings held by one requester.
func (s *Service) BookingsForRequester(ctx context.Context, requesterID string) ([]models.BookingView, error) {
	bookings, err := s.DB.GetBookingsByRequester(ctx, s.DB.Bun, requesterID)
	if err != nil {
		return nil, err
	}
	views := make([]models.BookingView, 0, len(bookings))
	for i := range bookings {
		views = append(views, bookings[i].View())
	}
	return views, nil
}

// SlotsByParent lists the slots registered under one parent resource.
func (s *Service) SlotsByParent(ctx context.Context, parentID, parentKind string) ([]models.Slot, error) {
	return s.DB.GetSlotsByParent(ctx, s.DB.Bun, parentID, parentKind)
}

// DeleteSlot removes a slot that has no granted bookings.
func (s *Service) DeleteSlot(ctx context.Context, slotID string) error {
	if err := s.DB.DeleteSlot(ctx, s.DB.Bun, slotID); err != nil {
		return err
	}
	if s.Cache != nil {
		s.Cache.Invalidate(ctx, slotID)
	}
	s.Logger.Info("SLOTS", fmt.Sprintf("Deleted slot %s", slotID))
	return nil
}

// HandleParentEvent reacts to lifecycle messages from the parent service:
// a scheduled parent gets its slots provisioned, a state change refreshes
// the cached bookable flag.
func (s *Service) HandleParentEvent(event models.ParentEvent) {
	ctx := context.Background()

	switch event.Type {
	case models.ParentEventScheduled:
		for _, def := range event.Slots {
			_, err := s.CreateSlot(ctx, models.SlotRequest{
				SlotID:     def.SlotID,
				ParentID:   event.ParentID,
				ParentKind: event.ParentKind,
				Capacity:   def.Capacity,
			})
			if err != nil {
				s.Logger.Error("SLOTS", fmt.Sprintf("Failed to provision slot for %s/%s: %v", event.ParentKind, event.ParentID, err))
			}
		}
	case models.ParentEventStateChanged:
		if s.Parent != nil {
			s.Parent.SetBookable(ctx, event.ParentKind, event.ParentID, event.Bookable)
		}
	default:
		s.Logger.Warn("SLOTS", fmt.Sprintf("Ignoring unknown parent event type: %s", event.Type))
	}
}
