package interfaces

import "errors"

var (
	// ErrNotFound is returned when the addressed record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique key is already taken.
	ErrDuplicate = errors.New("already exists")
	// ErrReferential is returned when a write references a missing device or geofence.
	ErrReferential = errors.New("referenced record does not exist")
)
