package slot

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of a booked slot.
type Status string

const (
	StatusBooked Status = "booked"
	StatusInUse  Status = "in-use"
	StatusDone   Status = "done"
)

var (
	// ErrInvalidTransition is returned for a status change the lifecycle
	// does not allow (including re-submitting the current status).
	ErrInvalidTransition = errors.New("invalid slot status transition")

	// ErrTerminalState is returned for any attempt to move a slot out of
	// the done state.
	ErrTerminalState = errors.New("slot is in a terminal state")
)

// Valid reports whether s is one of the recognized statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusBooked, StatusInUse, StatusDone:
		return true
	}
	return false
}

// ValidateTransition enforces the monotonic booked -> in-use -> done
// lifecycle. Done is terminal. Cancellation without use (booked -> done) is
// allowed; in-use -> booked is not.
func ValidateTransition(from, to Status) error {
	if from == StatusDone {
		return fmt.Errorf("%w: cannot leave %q", ErrTerminalState, from)
	}
	switch {
	case from == StatusBooked && to == StatusInUse:
		return nil
	case from == StatusBooked && to == StatusDone:
		return nil
	case from == StatusInUse && to == StatusDone:
		return nil
	}
	return fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, from, to)
}
