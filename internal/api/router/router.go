package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	httpmiddleware "github.com/rejuvenators/booking-dispatch/internal/http/middleware"
	"github.com/rejuvenators/booking-dispatch/pkg/logging"
)

// Config holds router configuration. Nil handlers leave their route
// unregistered.
type Config struct {
	Logger          *logging.Logger
	BookingResponse http.Handler
	SMSWebhook      http.Handler
	Sweep           http.Handler
	Attempts        http.Handler
	SettingsRefresh http.Handler
	Health          http.HandlerFunc
	MetricsHandler  http.Handler
	RateLimiter     *httpmiddleware.RateLimiter
}

// New creates the chi router.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	if cfg.Health != nil {
		r.Get("/health", cfg.Health)
	}
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	// Public therapist response routes share the rate limit budget.
	r.Group(func(public chi.Router) {
		if cfg.RateLimiter != nil {
			public.Use(cfg.RateLimiter.Middleware)
		}
		if cfg.BookingResponse != nil {
			public.Method(http.MethodGet, "/booking-response", cfg.BookingResponse)
		}
		if cfg.SMSWebhook != nil {
			public.Method(http.MethodPost, "/webhooks/twilio/sms", cfg.SMSWebhook)
		}
	})

	if cfg.Sweep != nil {
		r.Method(http.MethodPost, "/internal/escalation/sweep", cfg.Sweep)
	}
	if cfg.Attempts != nil {
		r.Method(http.MethodGet, "/internal/bookings/{ref}/attempts", cfg.Attempts)
	}
	if cfg.SettingsRefresh != nil {
		r.Method(http.MethodPost, "/internal/settings/refresh", cfg.SettingsRefresh)
	}

	return r
}
