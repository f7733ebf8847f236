package space

import (
	"errors"
	"fmt"
)

// Common space errors that can be checked using errors.Is().
var (
	// ErrUnavailable means the space or its transaction manager could not be reached.
	ErrUnavailable = errors.New("coordination space unavailable")

	// ErrUnknownLease is returned when renewing or cancelling a lease that has
	// expired, was cancelled, or never existed.
	ErrUnknownLease = errors.New("unknown or expired lease")

	// ErrTransactionExpired is returned for operations on a transaction that
	// timed out, was aborted, or already committed.
	ErrTransactionExpired = errors.New("transaction expired or no longer active")

	// ErrClosed is returned after the space has been closed.
	ErrClosed = errors.New("space closed")

	// ErrInvalidTuple is returned for tuples or templates without a kind or
	// with keys the backend cannot store.
	ErrInvalidTuple = errors.New("invalid tuple")

	// ErrForeignTransaction is returned when a transaction created by one
	// space is passed to another.
	ErrForeignTransaction = errors.New("transaction does not belong to this space")
)

// SpaceError adds the failing operation and tuple kind to an error.
type SpaceError struct {
	Op   string
	Kind string
	Err  error
}

// NewSpaceError wraps err with operation context.
func NewSpaceError(op, kind string, err error) *SpaceError {
	return &SpaceError{Op: op, Kind: kind, Err: err}
}

func (e *SpaceError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("space %s %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("space %s: %v", e.Op, e.Err)
}

func (e *SpaceError) Unwrap() error {
	return e.Err
}

// Unavailable wraps a transport failure so callers can test it with
// errors.Is(err, ErrUnavailable) while keeping the cause.
func Unavailable(op string, cause error) error {
	return NewSpaceError(op, "", fmt.Errorf("%w: %w", ErrUnavailable, cause))
}
