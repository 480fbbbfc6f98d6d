package sked

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("sked: no store configured")
	ErrStoreClosed = errors.New("sked: store closed")

	// Not found errors.
	ErrJobNotFound = errors.New("sked: job not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("sked: job already exists")
	ErrAlreadyClaimed   = errors.New("sked: job already claimed")
	ErrJobDisabled      = errors.New("sked: job is disabled")

	// State errors.
	ErrInvalidState = errors.New("sked: invalid state transition")

	// Configuration errors. Raised synchronously at job creation or
	// update, never retried.
	ErrUnknownHandler     = errors.New("sked: unknown handler")
	ErrInvalidSchedule    = errors.New("sked: invalid schedule")
	ErrInvalidMaxAttempts = errors.New("sked: max attempts must be positive")
)
