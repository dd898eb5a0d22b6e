package store

import "errors"

// Sentinel errors surfaced by the store. Logical and validation failures are
// never retried; only ErrConcurrentModification is, up to the configured
// attempt cap.
var (
	ErrValidation             = errors.New("invalid input")
	ErrMachineNotFound        = errors.New("machine not found")
	ErrAvailabilityNotFound   = errors.New("no availability record for machine and date")
	ErrSlotNotFound           = errors.New("slot not found")
	ErrRateNotFound           = errors.New("no rate for machine type and occupant count")
	ErrReservationReleased    = errors.New("reservation was released after sitting unconfirmed")
	ErrSlotConflict           = errors.New("requested interval overlaps an existing booking")
	ErrExtensionConflict      = errors.New("extension overlaps a neighbouring booking")
	ErrConcurrentModification = errors.New("slot was modified concurrently")
)
