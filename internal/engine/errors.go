package engine

import "errors"

var (
	ErrInvalidDuration = errors.New("invalid duration")
	ErrInvalidCycles   = errors.New("invalid cycle count")
	ErrMissingOwner    = errors.New("missing owner")
	ErrNotFound        = errors.New("session not found")
	ErrForbidden       = errors.New("forbidden")
	ErrStopped         = errors.New("engine stopped")
	ErrMissingTarget   = errors.New("scope and user are required")
)
