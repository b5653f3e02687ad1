package router

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"github.com/rejuvenators/booking-dispatch/internal/http/handlers"
	httpmiddleware "github.com/rejuvenators/booking-dispatch/internal/http/middleware"
	"github.com/rejuvenators/booking-dispatch/pkg/logging"
)

func status(code int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(code) })
}

func TestRouterRoutes(t *testing.T) {
	router := New(&Config{
		Logger:          logging.Default(),
		Health:          handlers.Health,
		BookingResponse: status(http.StatusOK),
		SMSWebhook:      status(http.StatusAccepted),
		Sweep:           status(http.StatusNoContent),
		Attempts:        status(http.StatusOK),
		SettingsRefresh: status(http.StatusAccepted),
		MetricsHandler:  status(http.StatusOK),
	})

	cases := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/booking-response?action=accept", http.StatusOK},
		{http.MethodPost, "/booking-response", http.StatusMethodNotAllowed},
		{http.MethodPost, "/webhooks/twilio/sms", http.StatusAccepted},
		{http.MethodPost, "/internal/escalation/sweep", http.StatusNoContent},
		{http.MethodGet, "/internal/escalation/sweep", http.StatusMethodNotAllowed},
		{http.MethodGet, "/internal/bookings/RMM241089ab/attempts", http.StatusOK},
		{http.MethodPost, "/internal/bookings/RMM241089ab/attempts", http.StatusMethodNotAllowed},
		{http.MethodPost, "/internal/settings/refresh", http.StatusAccepted},
		{http.MethodGet, "/internal/settings/refresh", http.StatusMethodNotAllowed},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		assert.Equal(t, tc.want, rec.Code, "%s %s", tc.method, tc.path)
	}
}

func TestRouterRateLimitsResponseRoutesOnly(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	router := New(&Config{
		Health:          handlers.Health,
		BookingResponse: status(http.StatusOK),
		RateLimiter:     httpmiddleware.NewRateLimiter(client, 1, time.Minute, nil),
	})

	get := func(path string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "10.0.0.1:5000"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, get("/booking-response"))
	assert.Equal(t, http.StatusTooManyRequests, get("/booking-response"))
	assert.Equal(t, http.StatusOK, get("/health"))
	assert.Equal(t, http.StatusOK, get("/health"))
}
