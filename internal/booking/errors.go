package booking

import "errors"

var (
	// ErrNotFound means the booking or therapist is unknown.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized means the responder may not act on the booking in its current status.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrConflict means the booking is no longer respondable or the conditional write lost.
	ErrConflict = errors.New("conflict")
	// ErrNotConfigured means required system settings are absent.
	ErrNotConfigured = errors.New("not configured")
	// ErrUpstream wraps store and provider failures.
	ErrUpstream = errors.New("upstream failure")
)
