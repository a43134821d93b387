package patients

import "errors"

var (
	// ErrNotFound is returned when no stored record carries the EMR id.
	ErrNotFound = errors.New("patients: not found")

	// ErrUnavailable is returned when the backing store cannot be reached.
	ErrUnavailable = errors.New("patients: store unavailable")
)
