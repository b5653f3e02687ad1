package therapists

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rejuvenators/booking-dispatch/internal/booking"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const profileColumns = `p.id, p.first_name, p.last_name, p.email, COALESCE(p.phone, ''), p.gender, p.is_active,
	p.latitude, p.longitude, p.service_radius_km`

// Store reads therapist profiles, licences and calendars from Postgres.
type Store struct {
	db DB
}

// NewStore creates a therapist directory store.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// ListByService returns every therapist linked to the service, ordered by name.
func (s *Store) ListByService(ctx context.Context, serviceID uuid.UUID) ([]Therapist, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+profileColumns+`
		FROM therapist_services ts
		JOIN therapist_profiles p ON p.id = ts.therapist_id
		WHERE ts.service_id = $1
		ORDER BY p.first_name, p.last_name, p.id`, serviceID)
	if err != nil {
		return nil, fmt.Errorf("therapists: list by service: %w: %w", booking.ErrUpstream, err)
	}
	defer rows.Close()

	var out []Therapist
	for rows.Next() {
		t, err := scanTherapist(rows)
		if err != nil {
			return nil, fmt.Errorf("therapists: scan: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// Get loads one therapist profile.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Therapist, error) {
	row := s.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM therapist_profiles p WHERE p.id = $1`, id)
	return scanOne(row, "get")
}

// FindByPhone resolves an inbound SMS sender to a therapist.
func (s *Store) FindByPhone(ctx context.Context, phone string) (*Therapist, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+profileColumns+`
		FROM therapist_profiles p
		WHERE regexp_replace(p.phone, '[^0-9+]', '', 'g') = $1
		LIMIT 1`, NormalizePhone(phone))
	return scanOne(row, "find by phone")
}

// IsLicensed reports whether the therapist is linked to the service.
func (s *Store) IsLicensed(ctx context.Context, therapistID, serviceID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM therapist_services WHERE therapist_id = $1 AND service_id = $2
		)`, therapistID, serviceID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("therapists: is licensed: %w: %w", booking.ErrUpstream, err)
	}
	return exists, nil
}

// WorkingHours returns the therapist's window for the weekday, or nil when
// they do not work that day.
func (s *Store) WorkingHours(ctx context.Context, therapistID uuid.UUID, day time.Weekday) (*WorkingHours, error) {
	var start, end string
	err := s.db.QueryRow(ctx, `
		SELECT to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI')
		FROM therapist_availability
		WHERE therapist_id = $1 AND day_of_week = $2
		ORDER BY start_time
		LIMIT 1`, therapistID, int(day)).Scan(&start, &end)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("therapists: working hours: %w: %w", booking.ErrUpstream, err)
	}
	wh, err := ParseWorkingHours(start, end)
	if err != nil {
		return nil, err
	}
	return &wh, nil
}

// Occupancy lists the therapist's pending or confirmed bookings starting in
// [from, to), excluding one booking id.
func (s *Store) Occupancy(ctx context.Context, therapistID uuid.UUID, from, to time.Time, exclude uuid.UUID) ([]Occupancy, error) {
	rows, err := s.db.Query(ctx, `
		SELECT b.id, b.booking_time, b.duration_minutes, s.buffer_time
		FROM bookings b
		LEFT JOIN services s ON s.id = b.service_id
		WHERE b.therapist_id = $1
			AND b.booking_time >= $2 AND b.booking_time < $3
			AND b.status IN ('requested', 'timeout_reassigned', 'confirmed')
			AND b.id <> $4
		ORDER BY b.booking_time`, therapistID, from, to, exclude)
	if err != nil {
		return nil, fmt.Errorf("therapists: occupancy: %w: %w", booking.ErrUpstream, err)
	}
	defer rows.Close()

	var out []Occupancy
	for rows.Next() {
		var o Occupancy
		if err := rows.Scan(&o.BookingID, &o.StartsAt, &o.DurationMinutes, &o.BufferMinutes); err != nil {
			return nil, fmt.Errorf("therapists: scan occupancy: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOne(row pgx.Row, op string) (*Therapist, error) {
	t, err := scanTherapist(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("therapists: %s: %w", op, booking.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("therapists: %s: %w: %w", op, booking.ErrUpstream, err)
	}
	return t, nil
}

func scanTherapist(row pgx.Row) (*Therapist, error) {
	var t Therapist
	err := row.Scan(&t.ID, &t.FirstName, &t.LastName, &t.Email, &t.Phone, &t.Gender, &t.Active,
		&t.Latitude, &t.Longitude, &t.ServiceRadiusKm)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
