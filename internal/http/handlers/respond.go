package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rejuvenators/booking-dispatch/internal/arbiter"
	"github.com/rejuvenators/booking-dispatch/internal/booking"
)

// Responder applies a therapist response. Implemented by *arbiter.Arbiter.
type Responder interface {
	Respond(ctx context.Context, r arbiter.Response) (arbiter.Outcome, error)
}

// statusFor maps a Respond error to an HTTP status.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, arbiter.ErrInvalidAction):
		return http.StatusBadRequest
	case errors.Is(err, booking.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, booking.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, booking.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, booking.ErrNotConfigured):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Health reports liveness.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
