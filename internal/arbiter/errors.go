package arbiter

import (
	"errors"
	"fmt"

	"github.com/rejuvenators/booking-dispatch/internal/booking"
)

// ErrInvalidAction is returned for an action other than accept or decline.
var ErrInvalidAction = errors.New("arbiter: invalid action")

// User-facing rejection reasons.
const (
	ReasonBookingNotFound   = "Booking not found."
	ReasonTherapistNotFound = "Therapist not found."
	ReasonNotAssigned       = "This booking request was not assigned to you."
	ReasonNotLicensed       = "You do not provide this service."
	ReasonOutsideArea       = "This booking is outside your service area."
	ReasonAlreadyAccepted   = "This booking has already been accepted by another therapist."
	ReasonAlreadyYours      = "You have already accepted this booking."
	ReasonAlreadyDeclined   = "This booking has already been declined."
	ReasonNotConfigured     = "Booking settings are incomplete. Please contact support."
)

// ResponseError is a rejected response. Kind is one of the booking sentinel
// errors and Reason is safe to show the therapist.
type ResponseError struct {
	Kind   error
	Reason string
	Err    error
}

func (e *ResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("arbiter: %s: %v", e.Reason, e.Err)
	}
	return "arbiter: " + e.Reason
}

func (e *ResponseError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func reject(kind error, reason string) *ResponseError {
	return &ResponseError{Kind: kind, Reason: reason}
}

// ReasonOf returns the user-facing reason carried by err, if any.
func ReasonOf(err error) (string, bool) {
	var re *ResponseError
	if errors.As(err, &re) {
		return re.Reason, true
	}
	return "", false
}

// resultLabel maps an error to the audit/metrics label.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidAction):
		return "invalid"
	case errors.Is(err, booking.ErrNotFound):
		return "not_found"
	case errors.Is(err, booking.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, booking.ErrConflict):
		return "conflict"
	case errors.Is(err, booking.ErrNotConfigured):
		return "not_configured"
	default:
		return "error"
	}
}
