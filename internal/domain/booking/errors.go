package booking

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable marks failures of the backing store. It is never a
	// rejection: callers show "try again later", not a scheduling reason.
	ErrStoreUnavailable = errors.New("booking store unavailable")

	ErrOutsideWorkingHours = errors.New("doctor does not work at the requested time")
	ErrSlotAlreadyBooked   = errors.New("slot already booked")
	ErrNotFound            = errors.New("not found")
	ErrInvalidInput        = errors.New("invalid input")
)

// RejectedError carries a rejecting Decision through error returns.
// errors.Is matches it against ErrOutsideWorkingHours or ErrSlotAlreadyBooked.
type RejectedError struct {
	Decision Decision
}

func (e *RejectedError) Error() string { return e.Decision.Message() }

func (e *RejectedError) Unwrap() error {
	switch e.Decision.Reason {
	case ReasonOutsideWorkingHours:
		return ErrOutsideWorkingHours
	case ReasonSlotAlreadyBooked:
		return ErrSlotAlreadyBooked
	}
	return nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
