package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/rejuvenators/booking-dispatch/internal/booking"
	"github.com/rejuvenators/booking-dispatch/internal/escalation"
	"github.com/rejuvenators/booking-dispatch/pkg/logging"
)

// SweepTokenHeader carries the shared secret for the sweep trigger and the
// other /internal routes.
const SweepTokenHeader = "X-Sweep-Token"

// internalAuthorized checks the shared secret. An empty token disables the
// route entirely.
func internalAuthorized(w http.ResponseWriter, r *http.Request, token string) bool {
	if token == "" {
		http.NotFound(w, r)
		return false
	}
	if subtle.ConstantTimeCompare([]byte(r.Header.Get(SweepTokenHeader)), []byte(token)) != 1 {
		jsonError(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

// Sweeper runs one escalation pass.
type Sweeper interface {
	Sweep(ctx context.Context) ([]escalation.Outcome, error)
}

// SweepHandler lets an external scheduler trigger the escalation sweep.
type SweepHandler struct {
	sweeper Sweeper
	token   string
	logger  *logging.Logger
}

func NewSweepHandler(sweeper Sweeper, token string, logger *logging.Logger) *SweepHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &SweepHandler{sweeper: sweeper, token: token, logger: logger}
}

type sweepOutcome struct {
	escalation.Outcome
	Error string `json:"error,omitempty"`
}

// ServeHTTP handles POST /internal/escalation/sweep.
func (h *SweepHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !internalAuthorized(w, r, h.token) {
		return
	}

	outcomes, err := h.sweeper.Sweep(r.Context())
	if err != nil && len(outcomes) == 0 {
		h.logger.Error("sweep trigger failed", "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, booking.ErrNotConfigured) {
			status = http.StatusServiceUnavailable
		}
		jsonError(w, err.Error(), status)
		return
	}

	body := make([]sweepOutcome, 0, len(outcomes))
	for _, o := range outcomes {
		so := sweepOutcome{Outcome: o}
		if o.Err != nil {
			so.Error = o.Err.Error()
		}
		body = append(body, so)
	}
	resp := map[string]any{"count": len(body), "outcomes": body}
	if err != nil {
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}
