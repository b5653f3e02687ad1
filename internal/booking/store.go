package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const bookingColumns = `
	b.id, b.booking_code, b.service_id, COALESCE(s.name, ''), b.duration_minutes, b.booking_time,
	b.address, b.business_name, b.room_number, b.latitude, b.longitude,
	b.gender_preference, b.fallback_option,
	b.therapist_id, b.responding_therapist_id, b.therapist_response_time,
	b.price_cents, b.therapist_fee_cents,
	b.customer_first_name, b.customer_last_name, b.customer_email, b.customer_phone,
	b.booker_name, b.notes, b.status, b.created_at, b.updated_at
	FROM bookings b LEFT JOIN services s ON s.id = b.service_id`

// Store persists bookings and their status history in Postgres.
type Store struct {
	db         DB
	codePrefix string
}

// NewStore creates a booking store.
func NewStore(db DB, codePrefix string) *Store {
	if codePrefix == "" {
		codePrefix = DefaultCodePrefix
	}
	return &Store{db: db, codePrefix: codePrefix}
}

// Create inserts a new requested booking with its opening history entry.
func (s *Store) Create(ctx context.Context, b *Booking) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = b.CreatedAt
	if b.Code == "" {
		b.Code = FormatCode(s.codePrefix, b.ID, b.CreatedAt)
	}
	b.Status = StatusRequested
	b.GenderPreference = b.WantsGender()

	_, err := s.db.Exec(ctx, `
		WITH ins AS (
			INSERT INTO bookings (
				id, booking_code, service_id, duration_minutes, booking_time,
				address, business_name, room_number, latitude, longitude,
				gender_preference, fallback_option, therapist_id,
				price_cents, therapist_fee_cents,
				customer_first_name, customer_last_name, customer_email, customer_phone,
				booker_name, notes, status, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $23)
			RETURNING id
		)
		INSERT INTO booking_status_history (id, booking_id, status, actor_id, note, created_at)
		SELECT $24, id, $22, NULL, 'Booking created', $23 FROM ins`,
		b.ID, b.Code, b.ServiceID, b.DurationMinutes, b.StartsAt,
		b.Address, b.BusinessName, b.RoomNumber, b.Latitude, b.Longitude,
		b.GenderPreference, b.Fallback, b.TherapistID,
		b.PriceCents, b.TherapistFeeCents,
		b.CustomerFirstName, b.CustomerLastName, b.CustomerEmail, b.CustomerPhone,
		b.BookerName, b.Notes, string(b.Status), b.CreatedAt, uuid.New(),
	)
	if err != nil {
		return fmt.Errorf("booking: create: %w: %w", ErrUpstream, err)
	}
	return nil
}

// Get loads a booking by internal id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Booking, error) {
	row := s.db.QueryRow(ctx, `SELECT `+bookingColumns+` WHERE b.id = $1`, id)
	return s.scanOne(row, "get")
}

// GetByCode loads a booking by its human-facing code.
func (s *Store) GetByCode(ctx context.Context, code string) (*Booking, error) {
	row := s.db.QueryRow(ctx, `SELECT `+bookingColumns+` WHERE b.booking_code = $1`, NormalizeCode(code))
	return s.scanOne(row, "get by code")
}

// Resolve accepts either an internal id or a booking code.
func (s *Store) Resolve(ctx context.Context, ref string) (*Booking, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return s.Get(ctx, id)
	}
	return s.GetByCode(ctx, ref)
}

func (s *Store) scanOne(row pgx.Row, op string) (*Booking, error) {
	b, err := scanBooking(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("booking: %s: %w", op, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("booking: %s: %w: %w", op, ErrUpstream, err)
	}
	return b, nil
}

// Transition applies a conditional status change and appends its history
// entry in one statement. It returns ErrConflict when the row no longer
// matches the expected status or assignee.
func (s *Store) Transition(ctx context.Context, t Transition) error {
	if err := validateTransition(t); err != nil {
		return err
	}
	at := t.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tag, err := s.db.Exec(ctx, `
		WITH upd AS (
			UPDATE bookings SET
				status = $3,
				therapist_id = COALESCE($4, therapist_id),
				responding_therapist_id = COALESCE($5, responding_therapist_id),
				therapist_response_time = COALESCE($6, therapist_response_time),
				updated_at = $7
			WHERE id = $1 AND status = ANY($2)
				AND ($8::uuid IS NULL OR therapist_id = $8)
			RETURNING id
		)
		INSERT INTO booking_status_history (id, booking_id, status, actor_id, note, created_at)
		SELECT $9, id, $3, $10, $11, $7 FROM upd`,
		t.BookingID, statusStrings(t.From), string(t.To),
		t.AssignTherapist, t.RespondingTherapistID, t.ResponseAt, at,
		t.ExpectTherapist, uuid.New(), t.ActorID, t.Note,
	)
	if err != nil {
		return fmt.Errorf("booking: transition to %s: %w: %w", t.To, ErrUpstream, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("booking: transition to %s: %w", t.To, ErrConflict)
	}
	return nil
}

// AppendHistoryIf writes a history entry only while the booking is in
// status. The row is inserted from a guarded SELECT, so a booking that moved
// on matches nothing and the call fails with ErrConflict.
func (s *Store) AppendHistoryIf(ctx context.Context, e HistoryEntry, status Status) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	tag, err := s.db.Exec(ctx, `
		INSERT INTO booking_status_history (id, booking_id, status, actor_id, note, created_at)
		SELECT $1, b.id, $3, $4, $5, $6
		FROM bookings b
		WHERE b.id = $2 AND b.status = $7`,
		e.ID, e.BookingID, string(e.Status), e.ActorID, e.Note, e.CreatedAt, string(status),
	)
	if err != nil {
		return fmt.Errorf("booking: append history: %w: %w", ErrUpstream, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("booking: append history: booking %s not %s: %w", e.BookingID, status, ErrConflict)
	}
	return nil
}

// History returns a booking's ledger, oldest first.
func (s *Store) History(ctx context.Context, bookingID uuid.UUID) ([]HistoryEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, booking_id, status, actor_id, note, created_at
		FROM booking_status_history
		WHERE booking_id = $1
		ORDER BY created_at ASC, id ASC`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("booking: history: %w: %w", ErrUpstream, err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var status string
		if err := rows.Scan(&e.ID, &e.BookingID, &status, &e.ActorID, &e.Note, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("booking: scan history: %w", err)
		}
		e.Status = HistoryStatus(status)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListStale returns bookings in status created at or before cutoff, oldest first.
func (s *Store) ListStale(ctx context.Context, status Status, cutoff time.Time, limit int) ([]Booking, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `SELECT `+bookingColumns+`
		WHERE b.status = $1 AND b.created_at <= $2
		ORDER BY b.created_at ASC LIMIT $3`, string(status), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("booking: list stale %s: %w: %w", status, ErrUpstream, err)
	}
	defer rows.Close()

	var out []Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("booking: scan stale: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	var status string
	err := row.Scan(
		&b.ID, &b.Code, &b.ServiceID, &b.ServiceName, &b.DurationMinutes, &b.StartsAt,
		&b.Address, &b.BusinessName, &b.RoomNumber, &b.Latitude, &b.Longitude,
		&b.GenderPreference, &b.Fallback,
		&b.TherapistID, &b.RespondingTherapistID, &b.TherapistResponseAt,
		&b.PriceCents, &b.TherapistFeeCents,
		&b.CustomerFirstName, &b.CustomerLastName, &b.CustomerEmail, &b.CustomerPhone,
		&b.BookerName, &b.Notes, &status, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Status = Status(status)
	return &b, nil
}

func validateTransition(t Transition) error {
	if t.BookingID == uuid.Nil {
		return fmt.Errorf("booking: transition: booking id required")
	}
	if len(t.From) == 0 {
		return fmt.Errorf("booking: transition: expected statuses required")
	}
	for _, from := range t.From {
		if !CanTransition(from, t.To) {
			return fmt.Errorf("booking: transition %s -> %s: %w", from, t.To, ErrConflict)
		}
	}
	return nil
}
