package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ms-booking/internal/allocation"
	"ms-booking/internal/allocation/db"
	"ms-booking/internal/auth"
	"ms-booking/internal/models"
	"ms-booking/internal/utils"
)

// conflictRetries bounds how often a request is replayed after the database
// aborts the transaction under contention.
const conflictRetries = 3

type Handler struct {
	Service *allocation.Service
}

func NewHandler(service *allocation.Service) *Handler {
	return &Handler{Service: service}
}

// Reserve handles POST /slots/{slotId}/reservations. A reserve never fails
// for lack of capacity; it comes back granted (201) or waitlisted (202).
func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	requesterID, ok := auth.RequesterFromContext(r.Context())
	if !ok {
		utils.WriteError(w, http.StatusUnauthorized, "requester identity missing")
		return
	}

	slotID := chi.URLParam(r, "slotId")

	var req models.ReserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var result *allocation.ReserveResult
	var err error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		result, err = h.Service.Reserve(r.Context(), requesterID, slotID, req.Quantity, req.SeatLabels)
		if !errors.Is(err, db.ErrTransactionConflict) {
			break
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	if err != nil {
		writeAllocationError(w, err)
		return
	}

	status := http.StatusCreated
	message := "reservation granted"
	if result.Outcome == models.OutcomeWaitlisted {
		status = http.StatusAccepted
		message = "capacity exhausted, request waitlisted"
	}
	utils.WriteJSON(w, status, utils.SuccessResponse(message, result))
}

// Release handles DELETE /bookings/{bookingId}. Only the booking's owner may
// release it; releasing twice is a conflict, not a no-op.
func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	requesterID, ok := auth.RequesterFromContext(r.Context())
	if !ok {
		utils.WriteError(w, http.StatusUnauthorized, "requester identity missing")
		return
	}

	bookingID := chi.URLParam(r, "bookingId")

	var result *allocation.ReleaseResult
	var err error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		result, err = h.Service.Release(r.Context(), requesterID, bookingID)
		if !errors.Is(err, db.ErrTransactionConflict) {
			break
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	if err != nil {
		writeAllocationError(w, err)
		return
	}

	resp := map[string]interface{}{
		"booking": result.Booking.View(),
	}
	if result.Promoted != nil {
		resp["promoted"] = result.Promoted.View()
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("booking released", resp))
}

// GetBooking handles GET /bookings/{bookingId}.
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	requesterID, ok := auth.RequesterFromContext(r.Context())
	if !ok {
		utils.WriteError(w, http.StatusUnauthorized, "requester identity missing")
		return
	}

	bookingID := chi.URLParam(r, "bookingId")
	booking, err := h.Service.DB.GetBooking(r.Context(), h.Service.DB.Bun, bookingID)
	if err != nil {
		writeAllocationError(w, err)
		return
	}
	if booking.RequesterID != requesterID {
		utils.WriteError(w, http.StatusForbidden, "booking belongs to another requester")
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("booking found", booking.View()))
}

func writeAllocationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, allocation.ErrInvalidQuantity):
		utils.WriteError(w, http.StatusBadRequest, "quantity must be at least 1")
	case errors.Is(err, allocation.ErrParentNotBookable):
		utils.WriteError(w, http.StatusConflict, "parent resource is not accepting reservations")
	case errors.Is(err, db.ErrSlotNotFound):
		utils.WriteError(w, http.StatusNotFound, "slot not found")
	case errors.Is(err, db.ErrBookingNotFound):
		utils.WriteError(w, http.StatusNotFound, "booking not found")
	case errors.Is(err, db.ErrNotOwner):
		utils.WriteError(w, http.StatusForbidden, "booking belongs to another requester")
	case errors.Is(err, db.ErrAlreadyReleased):
		utils.WriteError(w, http.StatusConflict, "booking already released")
	case errors.Is(err, db.ErrTransactionConflict):
		utils.WriteError(w, http.StatusServiceUnavailable, "storage contention, retry later")
	case errors.Is(err, db.ErrStorageUnavailable):
		utils.WriteError(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		utils.WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
