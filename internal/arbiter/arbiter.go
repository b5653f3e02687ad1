// Package arbiter applies therapist accept/decline responses to bookings.
// Every status change is a conditional write, so of any number of racing
// responses at most one accept wins and the rest see a conflict.
package arbiter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rejuvenators/booking-dispatch/internal/audit"
	"github.com/rejuvenators/booking-dispatch/internal/booking"
	"github.com/rejuvenators/booking-dispatch/internal/matching"
	"github.com/rejuvenators/booking-dispatch/internal/notify"
	"github.com/rejuvenators/booking-dispatch/internal/observability/metrics"
	"github.com/rejuvenators/booking-dispatch/internal/settings"
	"github.com/rejuvenators/booking-dispatch/internal/therapists"
	"github.com/rejuvenators/booking-dispatch/pkg/logging"
)

var arbiterTracer = otel.Tracer("booking.internal.arbiter")

// Action is what the therapist wants to do with the offer.
type Action string

const (
	ActionAccept  Action = "accept"
	ActionDecline Action = "decline"
)

// ParseAction accepts "accept" or "decline" in any case.
func ParseAction(v string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(v))) {
	case ActionAccept:
		return ActionAccept, nil
	case ActionDecline:
		return ActionDecline, nil
	}
	return "", ErrInvalidAction
}

// Channels a response can arrive on.
const (
	ChannelLink = "link"
	ChannelSMS  = "sms"
)

// Result describes what a successful response did.
type Result string

const (
	ResultAccepted        Result = "accepted"
	ResultDeclineRecorded Result = "decline_recorded"
	ResultReassigned      Result = "reassigned"
	ResultDeclined        Result = "declined"
)

// Response is one inbound therapist response.
type Response struct {
	BookingRef  string
	TherapistID uuid.UUID
	Action      Action
	Channel     string
}

// Outcome is returned for an applied response.
type Outcome struct {
	Result    Result
	Booking   *booking.Booking
	Therapist *therapists.Therapist
	// Alternate is the therapist a fallback decline was handed to.
	Alternate *therapists.Therapist
	// Reassigned is true when the accepted booking had been broadcast.
	Reassigned bool
}

// Store is the booking persistence used by the arbiter.
type Store interface {
	Resolve(ctx context.Context, ref string) (*booking.Booking, error)
	Transition(ctx context.Context, t booking.Transition) error
	AppendHistoryIf(ctx context.Context, e booking.HistoryEntry, status booking.Status) error
}

// Directory looks up therapists and their service licences.
type Directory interface {
	Get(ctx context.Context, id uuid.UUID) (*therapists.Therapist, error)
	IsLicensed(ctx context.Context, therapistID, serviceID uuid.UUID) (bool, error)
}

// CandidateFinder is the matching filter.
type CandidateFinder interface {
	FindCandidates(ctx context.Context, b *booking.Booking, snap settings.Snapshot, opts ...matching.Option) ([]therapists.Candidate, error)
}

// SettingsResolver yields the current business settings.
type SettingsResolver interface {
	Resolve(ctx context.Context) (settings.Snapshot, error)
}

// AttemptRecorder keeps the response attempt log.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, a audit.Attempt) error
}

// Arbiter decides therapist responses.
type Arbiter struct {
	store      Store
	directory  Directory
	matcher    CandidateFinder
	settings   SettingsResolver
	dispatcher notify.Dispatcher
	recorder   AttemptRecorder
	metrics    *metrics.DispatchMetrics
	logger     *logging.Logger
	now        func() time.Time
}

// New wires an arbiter. recorder and m may be nil.
func New(store Store, directory Directory, matcher CandidateFinder, resolver SettingsResolver, dispatcher notify.Dispatcher, recorder AttemptRecorder, m *metrics.DispatchMetrics, logger *logging.Logger) *Arbiter {
	if logger == nil {
		logger = logging.Default()
	}
	return &Arbiter{
		store:      store,
		directory:  directory,
		matcher:    matcher,
		settings:   resolver,
		dispatcher: dispatcher,
		recorder:   recorder,
		metrics:    m,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source.
func (a *Arbiter) WithClock(now func() time.Time) *Arbiter {
	if now != nil {
		a.now = now
	}
	return a
}

// Respond applies one response. Rejections are *ResponseError values wrapping
// booking.ErrNotFound, ErrUnauthorized, ErrConflict or ErrNotConfigured; a
// store failure wraps booking.ErrUpstream.
func (a *Arbiter) Respond(ctx context.Context, r Response) (out Outcome, err error) {
	ctx, span := arbiterTracer.Start(ctx, "arbiter.respond")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking.ref", r.BookingRef),
		attribute.String("therapist.id", r.TherapistID.String()),
		attribute.String("response.action", string(r.Action)),
		attribute.String("response.channel", r.Channel),
	)

	var bookingID *uuid.UUID
	defer func() {
		result := string(out.Result)
		if err != nil {
			result = resultLabel(err)
			span.RecordError(err)
		}
		a.metrics.ObserveResponse(string(r.Action), r.Channel, result)
		a.record(ctx, r, bookingID, result, err)
	}()

	if r.Action != ActionAccept && r.Action != ActionDecline {
		return Outcome{}, ErrInvalidAction
	}

	b, err := a.store.Resolve(ctx, r.BookingRef)
	if errors.Is(err, booking.ErrNotFound) {
		return Outcome{}, reject(booking.ErrNotFound, ReasonBookingNotFound)
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("arbiter: load booking: %w", err)
	}
	bookingID = booking.Ptr(b.ID)
	span.SetAttributes(attribute.String("booking.status", string(b.Status)))

	t, err := a.authorize(ctx, b, r.TherapistID)
	if err != nil {
		return Outcome{}, err
	}
	if !b.Status.IsPending() {
		return Outcome{}, conflictFor(b, r.TherapistID)
	}
	if t == nil {
		t, err = a.lookupTherapist(ctx, r.TherapistID)
		if err != nil {
			return Outcome{}, err
		}
	}

	if r.Action == ActionAccept {
		return a.accept(ctx, b, t)
	}
	return a.decline(ctx, b, t)
}

// authorize runs the per-status eligibility rule. It may return the
// therapist when the rule needed to load it.
func (a *Arbiter) authorize(ctx context.Context, b *booking.Booking, therapistID uuid.UUID) (*therapists.Therapist, error) {
	switch b.Status {
	case booking.StatusRequested:
		if !b.IsAssignedTo(therapistID) {
			return nil, reject(booking.ErrUnauthorized, ReasonNotAssigned)
		}
		return nil, nil
	case booking.StatusTimeoutReassigned:
		return a.broadcastEligible(ctx, b, therapistID)
	default:
		if b.IsAssignedTo(therapistID) || (b.RespondingTherapistID != nil && *b.RespondingTherapistID == therapistID) {
			return nil, nil
		}
		t, err := a.broadcastEligible(ctx, b, therapistID)
		var re *ResponseError
		if errors.As(err, &re) && errors.Is(re.Kind, booking.ErrUnauthorized) {
			return nil, reject(booking.ErrUnauthorized, ReasonNotAssigned)
		}
		return t, err
	}
}

// broadcastEligible applies the open-offer rule: licensed for the service
// and, when the booking has coordinates, inside the therapist's area.
func (a *Arbiter) broadcastEligible(ctx context.Context, b *booking.Booking, therapistID uuid.UUID) (*therapists.Therapist, error) {
	licensed, err := a.directory.IsLicensed(ctx, therapistID, b.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("arbiter: licence check: %w", err)
	}
	if !licensed {
		return nil, reject(booking.ErrUnauthorized, ReasonNotLicensed)
	}
	if !b.HasLocation() {
		return nil, nil
	}
	t, err := a.lookupTherapist(ctx, therapistID)
	if err != nil {
		return nil, err
	}
	if !matching.InServiceArea(b, *t) {
		return nil, reject(booking.ErrUnauthorized, ReasonOutsideArea)
	}
	return t, nil
}

func (a *Arbiter) lookupTherapist(ctx context.Context, id uuid.UUID) (*therapists.Therapist, error) {
	t, err := a.directory.Get(ctx, id)
	if errors.Is(err, booking.ErrNotFound) {
		return nil, reject(booking.ErrNotFound, ReasonTherapistNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("arbiter: load therapist: %w", err)
	}
	return t, nil
}

func conflictFor(b *booking.Booking, therapistID uuid.UUID) *ResponseError {
	switch b.Status {
	case booking.StatusDeclined:
		return reject(booking.ErrConflict, ReasonAlreadyDeclined)
	case booking.StatusConfirmed:
		if b.RespondingTherapistID != nil && *b.RespondingTherapistID == therapistID {
			return reject(booking.ErrConflict, ReasonAlreadyYours)
		}
	}
	return reject(booking.ErrConflict, ReasonAlreadyAccepted)
}

// lostRace builds the conflict for a conditional write that matched no row,
// reloading the booking to name what happened to it.
func (a *Arbiter) lostRace(ctx context.Context, b *booking.Booking, therapistID uuid.UUID) error {
	if current, err := a.store.Resolve(ctx, b.ID.String()); err == nil && !current.Status.IsPending() {
		return conflictFor(current, therapistID)
	}
	return reject(booking.ErrConflict, ReasonAlreadyAccepted)
}

func (a *Arbiter) accept(ctx context.Context, b *booking.Booking, t *therapists.Therapist) (Outcome, error) {
	now := a.now()
	reassigned := b.Status == booking.StatusTimeoutReassigned
	tr := booking.Transition{
		BookingID:             b.ID,
		From:                  booking.PendingStatuses,
		To:                    booking.StatusConfirmed,
		AssignTherapist:       booking.Ptr(t.ID),
		RespondingTherapistID: booking.Ptr(t.ID),
		ResponseAt:            &now,
		ActorID:               booking.Ptr(t.ID),
		Note:                  "Accepted by original therapist",
		At:                    now,
	}
	if reassigned {
		tr.Note = "Accepted by alternate therapist after timeout"
	} else {
		tr.ExpectTherapist = booking.Ptr(t.ID)
	}

	if err := a.store.Transition(ctx, tr); err != nil {
		if errors.Is(err, booking.ErrConflict) {
			return Outcome{}, a.lostRace(ctx, b, t.ID)
		}
		return Outcome{}, fmt.Errorf("arbiter: accept: %w", err)
	}
	a.metrics.ObserveTransition(string(b.Status), string(booking.StatusConfirmed))

	confirmed := *b
	confirmed.Status = booking.StatusConfirmed
	confirmed.TherapistID = booking.Ptr(t.ID)
	confirmed.RespondingTherapistID = booking.Ptr(t.ID)
	confirmed.TherapistResponseAt = &now
	confirmed.UpdatedAt = now

	a.logger.Info("arbiter: booking accepted", "booking_id", b.ID, "therapist_id", t.ID, "reassigned", reassigned)
	a.notifyErr(notify.KindClientConfirmed, b.ID, a.dispatcher.SendClientConfirmed(ctx, &confirmed, t))
	a.notifyErr(notify.KindTherapistConfirmed, b.ID, a.dispatcher.SendTherapistConfirmed(ctx, &confirmed, t))

	return Outcome{Result: ResultAccepted, Booking: &confirmed, Therapist: t, Reassigned: reassigned}, nil
}

func (a *Arbiter) decline(ctx context.Context, b *booking.Booking, t *therapists.Therapist) (Outcome, error) {
	now := a.now()

	if b.Status == booking.StatusTimeoutReassigned {
		// The marker is only written while the broadcast is still open.
		err := a.store.AppendHistoryIf(ctx, booking.HistoryEntry{
			BookingID: b.ID,
			Status:    booking.MarkerTherapistDeclined,
			ActorID:   booking.Ptr(t.ID),
			Note:      t.Name() + " declined reassigned booking",
			CreatedAt: now,
		}, booking.StatusTimeoutReassigned)
		if err != nil {
			if errors.Is(err, booking.ErrConflict) {
				return Outcome{}, a.lostRace(ctx, b, t.ID)
			}
			return Outcome{}, fmt.Errorf("arbiter: record decline: %w", err)
		}
		a.logger.Info("arbiter: broadcast decline recorded", "booking_id", b.ID, "therapist_id", t.ID)
		return Outcome{Result: ResultDeclineRecorded, Booking: b, Therapist: t}, nil
	}

	if b.Fallback {
		out, handled, err := a.reassign(ctx, b, t, now)
		if err != nil || handled {
			return out, err
		}
	}

	err := a.store.Transition(ctx, booking.Transition{
		BookingID:             b.ID,
		From:                  []booking.Status{booking.StatusRequested},
		ExpectTherapist:       booking.Ptr(t.ID),
		To:                    booking.StatusDeclined,
		RespondingTherapistID: booking.Ptr(t.ID),
		ResponseAt:            &now,
		ActorID:               booking.Ptr(t.ID),
		Note:                  "Declined by " + t.Name(),
		At:                    now,
	})
	if err != nil {
		if errors.Is(err, booking.ErrConflict) {
			return Outcome{}, a.lostRace(ctx, b, t.ID)
		}
		return Outcome{}, fmt.Errorf("arbiter: decline: %w", err)
	}
	a.metrics.ObserveTransition(string(b.Status), string(booking.StatusDeclined))

	declined := *b
	declined.Status = booking.StatusDeclined
	declined.RespondingTherapistID = booking.Ptr(t.ID)
	declined.TherapistResponseAt = &now
	declined.UpdatedAt = now

	a.logger.Info("arbiter: booking declined", "booking_id", b.ID, "therapist_id", t.ID)
	a.notifyErr(notify.KindClientDeclined, b.ID, a.dispatcher.SendClientDeclined(ctx, &declined))
	return Outcome{Result: ResultDeclined, Booking: &declined, Therapist: t}, nil
}

// reassign hands a declined fallback booking to the first other candidate.
// handled is false when there is no candidate and the caller should decline.
func (a *Arbiter) reassign(ctx context.Context, b *booking.Booking, t *therapists.Therapist, now time.Time) (Outcome, bool, error) {
	snap, err := a.settings.Resolve(ctx)
	if err != nil {
		if errors.Is(err, booking.ErrNotConfigured) {
			return Outcome{}, true, &ResponseError{Kind: booking.ErrNotConfigured, Reason: ReasonNotConfigured, Err: err}
		}
		return Outcome{}, true, fmt.Errorf("arbiter: resolve settings: %w", err)
	}
	candidates, err := a.matcher.FindCandidates(ctx, b, snap, matching.Excluding(t.ID))
	if err != nil {
		return Outcome{}, true, fmt.Errorf("arbiter: find alternate: %w", err)
	}
	if len(candidates) == 0 {
		a.logger.Info("arbiter: no alternate therapist", "booking_id", b.ID, "therapist_id", t.ID)
		return Outcome{}, false, nil
	}
	alt := candidates[0].Therapist

	err = a.store.Transition(ctx, booking.Transition{
		BookingID:       b.ID,
		From:            []booking.Status{booking.StatusRequested},
		ExpectTherapist: booking.Ptr(t.ID),
		To:              booking.StatusRequested,
		AssignTherapist: booking.Ptr(alt.ID),
		ActorID:         booking.Ptr(t.ID),
		Note:            "Declined by original therapist; reassigned to " + alt.Name(),
		At:              now,
	})
	if err != nil {
		if errors.Is(err, booking.ErrConflict) {
			return Outcome{}, true, a.lostRace(ctx, b, t.ID)
		}
		return Outcome{}, true, fmt.Errorf("arbiter: reassign: %w", err)
	}
	a.metrics.ObserveTransition(string(booking.StatusRequested), string(booking.StatusRequested))

	moved := *b
	moved.TherapistID = booking.Ptr(alt.ID)
	moved.UpdatedAt = now

	a.logger.Info("arbiter: booking reassigned", "booking_id", b.ID, "from_therapist_id", t.ID, "to_therapist_id", alt.ID)
	a.notifyErr(notify.KindTherapistRequest, b.ID, a.dispatcher.SendTherapistRequest(ctx, &moved, &alt, now.Add(snap.ResponseTimeout)))
	a.notifyErr(notify.KindClientAlternateSearch, b.ID, a.dispatcher.SendClientAlternateSearch(ctx, &moved))

	return Outcome{Result: ResultReassigned, Booking: &moved, Therapist: t, Alternate: &alt}, true, nil
}

func (a *Arbiter) notifyErr(kind string, bookingID uuid.UUID, err error) {
	if err != nil {
		a.logger.Warn("arbiter: notification failed", "kind", kind, "booking_id", bookingID, "error", err)
	}
}

func (a *Arbiter) record(ctx context.Context, r Response, bookingID *uuid.UUID, result string, respErr error) {
	if a.recorder == nil {
		return
	}
	reason, _ := ReasonOf(respErr)
	if reason == "" && respErr != nil {
		reason = respErr.Error()
	}
	err := a.recorder.RecordAttempt(ctx, audit.Attempt{
		BookingRef:  r.BookingRef,
		BookingID:   bookingID,
		TherapistID: r.TherapistID,
		Action:      string(r.Action),
		Channel:     r.Channel,
		Result:      result,
		Reason:      reason,
		CreatedAt:   a.now(),
	})
	if err != nil {
		a.logger.Warn("arbiter: attempt not recorded", "booking_ref", r.BookingRef, "error", err)
	}
}
