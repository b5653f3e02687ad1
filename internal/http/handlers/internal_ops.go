package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rejuvenators/booking-dispatch/internal/audit"
	"github.com/rejuvenators/booking-dispatch/internal/booking"
	"github.com/rejuvenators/booking-dispatch/internal/settings"
	"github.com/rejuvenators/booking-dispatch/pkg/logging"
)

const (
	defaultAttemptLimit = 50
	maxAttemptLimit     = 500
)

// BookingResolver loads a booking by id or code.
type BookingResolver interface {
	Resolve(ctx context.Context, ref string) (*booking.Booking, error)
}

// AttemptQuerier reads the response attempt log.
type AttemptQuerier interface {
	QueryAttempts(ctx context.Context, filter audit.Filter) ([]audit.Attempt, error)
}

// AttemptsHandler lists the response attempts recorded for one booking.
type AttemptsHandler struct {
	bookings BookingResolver
	attempts AttemptQuerier
	token    string
	logger   *logging.Logger
}

func NewAttemptsHandler(bookings BookingResolver, attempts AttemptQuerier, token string, logger *logging.Logger) *AttemptsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AttemptsHandler{bookings: bookings, attempts: attempts, token: token, logger: logger}
}

type attemptView struct {
	ID          uuid.UUID `json:"id"`
	TherapistID uuid.UUID `json:"therapist_id"`
	Action      string    `json:"action"`
	Channel     string    `json:"channel"`
	Result      string    `json:"result"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ServeHTTP handles GET /internal/bookings/{ref}/attempts.
func (h *AttemptsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !internalAuthorized(w, r, h.token) {
		return
	}

	limit := defaultAttemptLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			jsonError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxAttemptLimit)
	}

	b, err := h.bookings.Resolve(r.Context(), chi.URLParam(r, "ref"))
	if errors.Is(err, booking.ErrNotFound) {
		jsonError(w, "booking not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("attempts: load booking failed", "error", err)
		jsonError(w, "failed to load booking", http.StatusInternalServerError)
		return
	}

	attempts, err := h.attempts.QueryAttempts(r.Context(), audit.Filter{BookingID: booking.Ptr(b.ID), Limit: limit})
	if err != nil {
		h.logger.Error("attempts: query failed", "booking_id", b.ID, "error", err)
		jsonError(w, "failed to load attempts", http.StatusInternalServerError)
		return
	}

	views := make([]attemptView, 0, len(attempts))
	for _, a := range attempts {
		views = append(views, attemptView{
			ID:          a.ID,
			TherapistID: a.TherapistID,
			Action:      a.Action,
			Channel:     a.Channel,
			Result:      a.Result,
			Reason:      a.Reason,
			CreatedAt:   a.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"booking_id": b.ID,
		"code":       b.Code,
		"status":     b.Status,
		"attempts":   views,
	})
}

// SettingsRefresher drops cached settings and reloads them.
type SettingsRefresher interface {
	Invalidate(ctx context.Context) error
	Resolve(ctx context.Context) (settings.Snapshot, error)
}

// SettingsRefreshHandler applies edited settings without waiting out the
// cache TTL.
type SettingsRefreshHandler struct {
	settings SettingsRefresher
	token    string
	logger   *logging.Logger
}

func NewSettingsRefreshHandler(s SettingsRefresher, token string, logger *logging.Logger) *SettingsRefreshHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &SettingsRefreshHandler{settings: s, token: token, logger: logger}
}

// ServeHTTP handles POST /internal/settings/refresh.
func (h *SettingsRefreshHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !internalAuthorized(w, r, h.token) {
		return
	}
	if err := h.settings.Invalidate(r.Context()); err != nil {
		h.logger.Error("settings refresh: invalidate failed", "error", err)
		jsonError(w, "failed to clear settings cache", http.StatusInternalServerError)
		return
	}
	snap, err := h.settings.Resolve(r.Context())
	if err != nil {
		h.logger.Error("settings refresh: resolve failed", "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, booking.ErrNotConfigured) {
			status = http.StatusServiceUnavailable
		}
		jsonError(w, err.Error(), status)
		return
	}
	h.logger.Info("settings refreshed", "response_timeout", snap.ResponseTimeout)
	writeJSON(w, http.StatusOK, map[string]any{
		"response_timeout_minutes": int(snap.ResponseTimeout / time.Minute),
		"opening_hour":             snap.OpeningHour,
		"closing_hour":             snap.ClosingHour,
		"before_buffer_minutes":    int(snap.BeforeBuffer / time.Minute),
		"after_buffer_minutes":     int(snap.AfterBuffer / time.Minute),
		"timezone":                 snap.Location.String(),
	})
}
