// Package matching narrows the therapist directory to the candidates who may
// take a booking: licensed, active, of the preferred gender, within their
// service area and free at the booking's start.
package matching

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rejuvenators/booking-dispatch/internal/booking"
	"github.com/rejuvenators/booking-dispatch/internal/settings"
	"github.com/rejuvenators/booking-dispatch/internal/therapists"
	"github.com/rejuvenators/booking-dispatch/pkg/logging"
)

var matchTracer = otel.Tracer("booking.internal.matching")

// Directory lists therapists licensed for a service.
type Directory interface {
	ListByService(ctx context.Context, serviceID uuid.UUID) ([]therapists.Therapist, error)
}

// Calendar exposes a therapist's working hours and existing commitments.
type Calendar interface {
	WorkingHours(ctx context.Context, therapistID uuid.UUID, day time.Weekday) (*therapists.WorkingHours, error)
	Occupancy(ctx context.Context, therapistID uuid.UUID, from, to time.Time, exclude uuid.UUID) ([]therapists.Occupancy, error)
}

// Option adjusts a single FindCandidates call.
type Option func(*findOptions)

type findOptions struct {
	exclude map[uuid.UUID]bool
}

// Excluding drops the given therapists from the result.
func Excluding(ids ...uuid.UUID) Option {
	return func(o *findOptions) {
		for _, id := range ids {
			o.exclude[id] = true
		}
	}
}

// Matcher runs the candidate filter.
type Matcher struct {
	directory Directory
	calendar  Calendar
	logger    *logging.Logger
}

// NewMatcher wires a matcher.
func NewMatcher(directory Directory, calendar Calendar, logger *logging.Logger) *Matcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Matcher{directory: directory, calendar: calendar, logger: logger}
}

// FindCandidates returns the eligible therapists in directory order. An empty
// result is not an error.
func (m *Matcher) FindCandidates(ctx context.Context, b *booking.Booking, snap settings.Snapshot, opts ...Option) ([]therapists.Candidate, error) {
	if b == nil {
		return nil, fmt.Errorf("matching: booking required")
	}
	if !snap.Configured() {
		return nil, fmt.Errorf("matching: %w", booking.ErrNotConfigured)
	}
	o := findOptions{exclude: make(map[uuid.UUID]bool)}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := matchTracer.Start(ctx, "matching.find_candidates")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking.id", b.ID.String()),
		attribute.String("booking.service_id", b.ServiceID.String()),
	)

	licensed, err := m.directory.ListByService(ctx, b.ServiceID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("matching: list therapists: %w", err)
	}

	gender := b.WantsGender()
	var pool []therapists.Candidate
	for _, t := range licensed {
		if o.exclude[t.ID] || !t.Active {
			continue
		}
		if gender != booking.GenderAny && !strings.EqualFold(t.Gender, gender) {
			continue
		}
		c := therapists.Candidate{Therapist: t}
		if b.HasLocation() {
			if !InServiceArea(b, t) {
				continue
			}
			km, _ := Distance(b, t)
			c.DistanceKm = &km
		}
		pool = append(pool, c)
	}
	span.SetAttributes(attribute.Int("matching.licensed", len(licensed)), attribute.Int("matching.prefiltered", len(pool)))
	if len(pool) == 0 {
		return nil, nil
	}

	start := b.StartsAt.In(snap.Location)
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, snap.Location)
	rules := SlotRules{
		OpeningHour:  snap.OpeningHour,
		ClosingHour:  snap.ClosingHour,
		Duration:     b.Duration(),
		BeforeBuffer: snap.BeforeBuffer,
		AfterBuffer:  snap.AfterBuffer,
	}

	var out []therapists.Candidate
	for _, c := range pool {
		free, err := m.isFree(ctx, b, c.ID, day, start, rules)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if free {
			out = append(out, c)
		}
	}
	span.SetAttributes(attribute.Int("matching.candidates", len(out)))
	m.logger.Debug("matching: candidates found", "booking_id", b.ID, "licensed", len(licensed), "candidates", len(out))
	return out, nil
}

func (m *Matcher) isFree(ctx context.Context, b *booking.Booking, therapistID uuid.UUID, day, start time.Time, rules SlotRules) (bool, error) {
	window, err := m.calendar.WorkingHours(ctx, therapistID, day.Weekday())
	if err != nil {
		return false, fmt.Errorf("matching: working hours: %w", err)
	}
	if window == nil {
		return false, nil
	}
	busy, err := m.calendar.Occupancy(ctx, therapistID, day, day.AddDate(0, 0, 1), b.ID)
	if err != nil {
		return false, fmt.Errorf("matching: occupancy: %w", err)
	}
	return containsInstant(FreeSlots(day, *window, rules, busy), start), nil
}
