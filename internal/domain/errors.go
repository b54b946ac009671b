package domain

import "errors"

var (
	// ErrTransient marks a store failure worth retrying (timeouts, 5xx, dropped connections).
	ErrTransient = errors.New("transient store failure")
	// ErrRateLimited marks a store rejection caused by quota exhaustion.
	ErrRateLimited = errors.New("store rate limit exceeded")

	ErrRowNotFound   = errors.New("row not found")
	ErrRowVanished   = errors.New("row vanished")
	ErrEmptyTable    = errors.New("table is empty")
	ErrMissingColumn = errors.New("expected column missing")
	ErrDuplicateRow  = errors.New("duplicate filename in table")

	ErrImageNotFound       = errors.New("image not found")
	ErrNoDisplayableImages = errors.New("no unrated row has a displayable image")

	ErrNotAssigned  = errors.New("session has no assigned row")
	ErrInvalidScore = errors.New("score must be between 1.0 and 5.0")
)
