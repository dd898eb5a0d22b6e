package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"station-booking-backend/internal/slot"
	"station-booking-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store   store.Store
	webpush *webpush.Options
	loc     *time.Location
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, webpushOptions *webpush.Options, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		store:   s,
		webpush: webpushOptions,
		loc:     loc,
	}
}

// statusForError maps engine errors onto HTTP status codes. Validation fails
// with 400, missing entities with 404, lifecycle violations with 422, and
// conflicts (overlap or lost version race) with 409.
func statusForError(err error) int {
	switch {
	case errors.Is(err, store.ErrValidation), errors.Is(err, slot.ErrInvalidDuration):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrMachineNotFound),
		errors.Is(err, store.ErrSlotNotFound),
		errors.Is(err, store.ErrAvailabilityNotFound),
		errors.Is(err, store.ErrRateNotFound):
		return http.StatusNotFound
	case errors.Is(err, slot.ErrInvalidTransition),
		errors.Is(err, slot.ErrTerminalState),
		errors.Is(err, store.ErrReservationReleased):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrSlotConflict),
		errors.Is(err, store.ErrExtensionConflict),
		errors.Is(err, store.ErrConcurrentModification):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
