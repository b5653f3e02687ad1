package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rejuvenators/booking-dispatch/internal/audit"
	"github.com/rejuvenators/booking-dispatch/internal/booking"
	"github.com/rejuvenators/booking-dispatch/internal/settings"
)

type fakeAttempts struct {
	filters  []audit.Filter
	attempts []audit.Attempt
	err      error
}

func (f *fakeAttempts) QueryAttempts(ctx context.Context, filter audit.Filter) ([]audit.Attempt, error) {
	f.filters = append(f.filters, filter)
	return f.attempts, f.err
}

func internalRequest(method, target, token string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set(SweepTokenHeader, token)
	}
	return req
}

func TestAttemptsHandler(t *testing.T) {
	ctx := context.Background()
	store := booking.NewMemoryStore()
	b := &booking.Booking{ServiceID: uuid.New()}
	require.NoError(t, store.Create(ctx, b))

	therapistID := uuid.New()
	attempts := &fakeAttempts{attempts: []audit.Attempt{
		{ID: uuid.New(), BookingRef: b.Code, BookingID: &b.ID, TherapistID: therapistID, Action: "decline", Channel: "sms", Result: "rejected", Reason: "not_assigned"},
	}}
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/internal/bookings/{ref}/attempts", NewAttemptsHandler(store, attempts, "s3cret", nil))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, internalRequest(http.MethodGet, "/internal/bookings/"+b.Code+"/attempts", ""))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, attempts.filters)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, internalRequest(http.MethodGet, "/internal/bookings/"+b.Code+"/attempts?limit=900", "s3cret"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, attempts.filters, 1)
	require.NotNil(t, attempts.filters[0].BookingID)
	assert.Equal(t, b.ID, *attempts.filters[0].BookingID)
	assert.Equal(t, maxAttemptLimit, attempts.filters[0].Limit)

	var body struct {
		BookingID string `json:"booking_id"`
		Status    string `json:"status"`
		Attempts  []struct {
			TherapistID string `json:"therapist_id"`
			Result      string `json:"result"`
			Reason      string `json:"reason"`
		} `json:"attempts"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, b.ID.String(), body.BookingID)
	assert.Equal(t, "requested", body.Status)
	require.Len(t, body.Attempts, 1)
	assert.Equal(t, therapistID.String(), body.Attempts[0].TherapistID)
	assert.Equal(t, "not_assigned", body.Attempts[0].Reason)
}

func TestAttemptsHandlerErrors(t *testing.T) {
	store := booking.NewMemoryStore()
	b := &booking.Booking{ServiceID: uuid.New()}
	require.NoError(t, store.Create(context.Background(), b))

	tests := []struct {
		name     string
		token    string
		path     string
		attempts *fakeAttempts
		want     int
	}{
		{"disabled", "", "/internal/bookings/" + b.Code + "/attempts", &fakeAttempts{}, http.StatusNotFound},
		{"unknown booking", "tok", "/internal/bookings/RMM000000zz/attempts", &fakeAttempts{}, http.StatusNotFound},
		{"bad limit", "tok", "/internal/bookings/" + b.Code + "/attempts?limit=-1", &fakeAttempts{}, http.StatusBadRequest},
		{"query failure", "tok", "/internal/bookings/" + b.Code + "/attempts", &fakeAttempts{err: errors.New("db down")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := chi.NewRouter()
			r.Method(http.MethodGet, "/internal/bookings/{ref}/attempts", NewAttemptsHandler(store, tt.attempts, tt.token, nil))
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, internalRequest(http.MethodGet, tt.path, "tok"))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestSettingsRefreshHandlerDropsCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	source := settings.StaticSource{
		settings.KeyResponseTimeout: "30",
		settings.KeyOpeningHour:     "9",
		settings.KeyClosingHour:     "17",
		settings.KeyBeforeBuffer:    "15",
		settings.KeyAfterBuffer:     "15",
	}
	resolver := settings.NewResolver(source, client, time.Hour, time.UTC, nil)
	snap, err := resolver.Resolve(context.Background())
	require.NoError(t, err)
	require.Equal(t, 30*time.Minute, snap.ResponseTimeout)

	source[settings.KeyResponseTimeout] = "45"
	snap, err = resolver.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, snap.ResponseTimeout)

	h := NewSettingsRefreshHandler(resolver, "tok", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, internalRequest(http.MethodPost, "/internal/settings/refresh", "wrong"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, internalRequest(http.MethodPost, "/internal/settings/refresh", "tok"))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Timeout  int    `json:"response_timeout_minutes"`
		Timezone string `json:"timezone"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 45, body.Timeout)
	assert.Equal(t, "UTC", body.Timezone)

	snap, err = resolver.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 45*time.Minute, snap.ResponseTimeout)
}

func TestSettingsRefreshHandlerNotConfigured(t *testing.T) {
	resolver := settings.NewResolver(settings.StaticSource{}, nil, time.Minute, time.UTC, nil)
	rec := httptest.NewRecorder()
	NewSettingsRefreshHandler(resolver, "tok", nil).ServeHTTP(rec, internalRequest(http.MethodPost, "/internal/settings/refresh", "tok"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
