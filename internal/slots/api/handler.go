package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-booking/internal/allocation/db"
	"ms-booking/internal/auth"
	"ms-booking/internal/models"
	"ms-booking/internal/slots"
	"ms-booking/internal/utils"
)

type Handler struct {
	Service *slots.Service
}

func NewHandler(service *slots.Service) *Handler {
	return &Handler{Service: service}
}

// CreateSlot handles POST /slots.
func (h *Handler) CreateSlot(w http.ResponseWriter, r *http.Request) {
	var req models.SlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	slot, err := h.Service.CreateSlot(r.Context(), req)
	if err != nil {
		if errors.Is(err, slots.ErrInvalidCapacity) {
			utils.WriteError(w, http.StatusBadRequest, "capacity must be at least 1")
			return
		}
		utils.WriteError(w, http.StatusInternalServerError, "could not create slot: "+err.Error())
		return
	}

	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("slot created", slot))
}

// GetAvailability handles GET /slots/{slotId}/availability.
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	slotID := chi.URLParam(r, "slotId")

	snapshot, err := h.Service.Availability(r.Context(), slotID)
	if err != nil {
		writeSlotError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("availability", snapshot))
}

// GetOccupancy handles GET /slots/{slotId}/occupancy.
func (h *Handler) GetOccupancy(w http.ResponseWriter, r *http.Request) {
	slotID := chi.URLParam(r, "slotId")

	occupancy, err := h.Service.Occupancy(r.Context(), slotID)
	if err != nil {
		writeSlotError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("occupancy", occupancy))
}

// GetWaitlist handles GET /slots/{slotId}/waitlist.
func (h *Handler) GetWaitlist(w http.ResponseWriter, r *http.Request) {
	slotID := chi.URLParam(r, "slotId")

	entries, err := h.Service.Waitlist(r.Context(), slotID)
	if err != nil {
		writeSlotError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("waitlist", entries))
}

// GetMyBookings handles GET /bookings.
func (h *Handler) GetMyBookings(w http.ResponseWriter, r *http.Request) {
	requesterID, ok := auth.RequesterFromContext(r.Context())
	if !ok {
		utils.WriteError(w, http.StatusUnauthorized, "requester identity missing")
		return
	}

	views, err := h.Service.BookingsForRequester(r.Context(), requesterID)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "could not list bookings: "+err.Error())
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("bookings", views))
}

// GetSlotsByParent handles GET /parents/{parentKind}/{parentId}/slots.
func (h *Handler) GetSlotsByParent(w http.ResponseWriter, r *http.Request) {
	parentKind := chi.URLParam(r, "parentKind")
	parentID := chi.URLParam(r, "parentId")

	list, err := h.Service.SlotsByParent(r.Context(), parentID, parentKind)
	if err != nil {
		utils.WriteError(w, http.StatusInternalServerError, "could not list slots: "+err.Error())
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("slots", list))
}

// DeleteSlot handles DELETE /slots/{slotId}.
func (h *Handler) DeleteSlot(w http.ResponseWriter, r *http.Request) {
	slotID := chi.URLParam(r, "slotId")

	if err := h.Service.DeleteSlot(r.Context(), slotID); err != nil {
		writeSlotError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeSlotError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, db.ErrSlotNotFound):
		utils.WriteError(w, http.StatusNotFound, "slot not found")
	case errors.Is(err, db.ErrSlotInUse):
		utils.WriteError(w, http.StatusConflict, "slot still has granted bookings")
	case errors.Is(err, db.ErrStorageUnavailable):
		utils.WriteError(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		utils.WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
