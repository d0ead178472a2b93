package inventory

import "errors"

var (
	// ErrNotFound is returned when a device has no inventory row.
	ErrNotFound = errors.New("inventory: not found")

	// ErrNotStarted is returned by writes before Start or after Stop.
	ErrNotStarted = errors.New("inventory: recorder not started")
)
