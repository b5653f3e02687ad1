// Package escalation drives bookings that nobody answered in time: first to
// an open broadcast, then to a final decline.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rejuvenators/booking-dispatch/internal/booking"
	"github.com/rejuvenators/booking-dispatch/internal/matching"
	"github.com/rejuvenators/booking-dispatch/internal/notify"
	"github.com/rejuvenators/booking-dispatch/internal/observability/metrics"
	"github.com/rejuvenators/booking-dispatch/internal/settings"
	"github.com/rejuvenators/booking-dispatch/internal/therapists"
	"github.com/rejuvenators/booking-dispatch/pkg/logging"
)

var sweepTracer = otel.Tracer("booking.internal.escalation")

// Stages of the sweep.
const (
	StageTimeout = "timeout"
	StageFinal   = "final"
)

// Actions reported per booking.
const (
	ActionDeclinedNoAlternatives = "declined_no_alternatives"
	ActionReassignedToMultiple   = "reassigned_to_multiple"
	ActionFinalDecline           = "final_decline"
	ActionSkipped                = "skipped"
	ActionFailed                 = "failed"
)

const (
	noteNoAlternatives = "No alternative therapists available"
	noteFinalTimeout   = "Automatic timeout - no therapist responses"
)

// Outcome is what one sweep did to one booking.
type Outcome struct {
	BookingID  uuid.UUID `json:"booking_id"`
	Code       string    `json:"code"`
	Stage      string    `json:"stage"`
	Action     string    `json:"action"`
	Candidates int       `json:"candidates,omitempty"`
	Err        error     `json:"-"`
}

// Store is the booking persistence the sweep needs.
type Store interface {
	ListStale(ctx context.Context, status booking.Status, cutoff time.Time, limit int) ([]booking.Booking, error)
	Transition(ctx context.Context, t booking.Transition) error
}

// CandidateFinder is the matching filter.
type CandidateFinder interface {
	FindCandidates(ctx context.Context, b *booking.Booking, snap settings.Snapshot, opts ...matching.Option) ([]therapists.Candidate, error)
}

// SettingsResolver yields the current business settings.
type SettingsResolver interface {
	Resolve(ctx context.Context) (settings.Snapshot, error)
}

// Sweeper runs both escalation stages.
type Sweeper struct {
	store      Store
	matcher    CandidateFinder
	settings   SettingsResolver
	dispatcher notify.Dispatcher
	metrics    *metrics.DispatchMetrics
	logger     *logging.Logger
	now        func() time.Time
	batch      int
}

// NewSweeper wires a sweeper. m may be nil.
func NewSweeper(store Store, matcher CandidateFinder, resolver SettingsResolver, dispatcher notify.Dispatcher, m *metrics.DispatchMetrics, logger *logging.Logger) *Sweeper {
	if logger == nil {
		logger = logging.Default()
	}
	return &Sweeper{
		store:      store,
		matcher:    matcher,
		settings:   resolver,
		dispatcher: dispatcher,
		metrics:    m,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		batch:      100,
	}
}

// WithClock replaces the time source.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	if now != nil {
		s.now = now
	}
	return s
}

// WithBatchSize caps how many bookings each stage loads per sweep.
func (s *Sweeper) WithBatchSize(n int) *Sweeper {
	if n > 0 {
		s.batch = n
	}
	return s
}

// Sweep runs the timeout stage then the final stage. It only returns an error
// when a stage could not start; per-booking failures are reported in
// Outcome.Err.
func (s *Sweeper) Sweep(ctx context.Context) ([]Outcome, error) {
	ctx, span := sweepTracer.Start(ctx, "escalation.sweep")
	defer span.End()
	started := time.Now()
	defer func() { s.metrics.ObserveSweepDuration(time.Since(started)) }()

	snap, err := s.settings.Resolve(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("escalation: resolve settings: %w", err)
	}
	now := s.now()

	stale, err := s.store.ListStale(ctx, booking.StatusRequested, now.Add(-snap.ResponseTimeout), s.batch)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("escalation: list requested: %w", err)
	}
	outcomes := make([]Outcome, 0, len(stale))
	for i := range stale {
		outcomes = append(outcomes, s.observe(s.escalate(ctx, &stale[i], snap, now)))
	}

	expired, err := s.store.ListStale(ctx, booking.StatusTimeoutReassigned, now.Add(-2*snap.ResponseTimeout), s.batch)
	if err != nil {
		span.RecordError(err)
		return outcomes, fmt.Errorf("escalation: list reassigned: %w", err)
	}
	for i := range expired {
		outcomes = append(outcomes, s.observe(s.expire(ctx, &expired[i], booking.StatusTimeoutReassigned, now)))
	}

	span.SetAttributes(
		attribute.Int("sweep.timed_out", len(stale)),
		attribute.Int("sweep.expired", len(expired)),
	)
	return outcomes, nil
}

// escalate handles a requested booking past its response timeout.
func (s *Sweeper) escalate(ctx context.Context, b *booking.Booking, snap settings.Snapshot, now time.Time) Outcome {
	out := Outcome{BookingID: b.ID, Code: b.Code, Stage: StageTimeout}

	// A booking first seen after its final deadline has no response window
	// left to broadcast into.
	if !now.Before(snap.FinalDeadline(b.CreatedAt)) {
		return s.expire(ctx, b, booking.StatusRequested, now)
	}

	candidates, err := s.matcher.FindCandidates(ctx, b, snap)
	if err != nil {
		out.Action, out.Err = ActionFailed, fmt.Errorf("escalation: find candidates: %w", err)
		return out
	}

	if len(candidates) == 0 {
		err := s.store.Transition(ctx, booking.Transition{
			BookingID: b.ID,
			From:      []booking.Status{booking.StatusRequested},
			To:        booking.StatusDeclined,
			Note:      noteNoAlternatives,
			At:        now,
		})
		if s.unclaimed(b, err, &out) {
			return out
		}
		s.metrics.ObserveTransition(string(booking.StatusRequested), string(booking.StatusDeclined))
		declined := *b
		declined.Status = booking.StatusDeclined
		declined.UpdatedAt = now

		s.logger.Info("escalation: no alternatives, booking declined", "booking_id", b.ID)
		s.notifyErr(notify.KindClientAlternateSearch, b.ID, s.dispatcher.SendClientAlternateSearch(ctx, b))
		s.notifyErr(notify.KindClientDeclined, b.ID, s.dispatcher.SendClientDeclined(ctx, &declined))
		out.Action = ActionDeclinedNoAlternatives
		return out
	}

	// Claim the booking before any message goes out so a concurrent sweep
	// cannot broadcast it twice.
	err = s.store.Transition(ctx, booking.Transition{
		BookingID: b.ID,
		From:      []booking.Status{booking.StatusRequested},
		To:        booking.StatusTimeoutReassigned,
		Note:      fmt.Sprintf("Request timed out; broadcast to %d therapists", len(candidates)),
		At:        now,
	})
	if s.unclaimed(b, err, &out) {
		return out
	}
	s.metrics.ObserveTransition(string(booking.StatusRequested), string(booking.StatusTimeoutReassigned))
	broadcast := *b
	broadcast.Status = booking.StatusTimeoutReassigned
	broadcast.UpdatedAt = now

	s.logger.Info("escalation: booking broadcast", "booking_id", b.ID, "candidates", len(candidates))
	s.notifyErr(notify.KindClientAlternateSearch, b.ID, s.dispatcher.SendClientAlternateSearch(ctx, &broadcast))
	deadline := snap.FinalDeadline(b.CreatedAt)
	for i := range candidates {
		t := candidates[i].Therapist
		s.notifyErr(notify.KindTherapistRequest, b.ID, s.dispatcher.SendTherapistRequest(ctx, &broadcast, &t, deadline))
	}
	out.Action = ActionReassignedToMultiple
	out.Candidates = len(candidates)
	return out
}

// expire declines a booking nobody accepted before its final deadline. from
// is the status the sweep read it in.
func (s *Sweeper) expire(ctx context.Context, b *booking.Booking, from booking.Status, now time.Time) Outcome {
	out := Outcome{BookingID: b.ID, Code: b.Code, Stage: StageFinal}
	err := s.store.Transition(ctx, booking.Transition{
		BookingID: b.ID,
		From:      []booking.Status{from},
		To:        booking.StatusDeclined,
		Note:      noteFinalTimeout,
		At:        now,
	})
	if s.unclaimed(b, err, &out) {
		return out
	}
	s.metrics.ObserveTransition(string(from), string(booking.StatusDeclined))
	declined := *b
	declined.Status = booking.StatusDeclined
	declined.UpdatedAt = now

	s.logger.Info("escalation: final deadline passed, booking declined", "booking_id", b.ID, "from", from)
	s.notifyErr(notify.KindClientDeclined, b.ID, s.dispatcher.SendClientDeclined(ctx, &declined))
	out.Action = ActionFinalDecline
	return out
}

// unclaimed reports whether the transition did not go through, filling in a
// skipped outcome for a conflict and a failed one for anything else.
func (s *Sweeper) unclaimed(b *booking.Booking, err error, out *Outcome) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, booking.ErrConflict):
		s.logger.Debug("escalation: booking already moved", "booking_id", b.ID, "stage", out.Stage)
		out.Action = ActionSkipped
	default:
		out.Action, out.Err = ActionFailed, fmt.Errorf("escalation: transition: %w", err)
	}
	return true
}

func (s *Sweeper) observe(out Outcome) Outcome {
	s.metrics.ObserveSweepOutcome(out.Action, out.Err != nil)
	if out.Err != nil {
		s.logger.Error("escalation: booking failed", "booking_id", out.BookingID, "stage", out.Stage, "error", out.Err)
	}
	return out
}

func (s *Sweeper) notifyErr(kind string, bookingID uuid.UUID, err error) {
	if err != nil {
		s.logger.Warn("escalation: notification failed", "kind", kind, "booking_id", bookingID, "error", err)
	}
}
