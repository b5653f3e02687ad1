// Package audit keeps the response attempt log: every accept or decline a
// therapist sends, including the rejected ones that never reach the booking
// status history.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Attempt is one immutable response attempt record.
type Attempt struct {
	ID          uuid.UUID
	BookingRef  string
	BookingID   *uuid.UUID
	TherapistID uuid.UUID
	Action      string
	Channel     string
	Result      string
	Reason      string
	CreatedAt   time.Time
}

// Service writes and reads response_attempts through database/sql.
type Service struct {
	db *sql.DB
}

// NewService creates a new audit service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// RecordAttempt appends one attempt.
func (s *Service) RecordAttempt(ctx context.Context, a Attempt) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO response_attempts (
			id, booking_ref, booking_id, therapist_id, action,
			channel, result, reason, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	var bookingID sql.NullString
	if a.BookingID != nil {
		bookingID = sql.NullString{String: a.BookingID.String(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, query,
		a.ID.String(),
		a.BookingRef,
		bookingID,
		a.TherapistID.String(),
		a.Action,
		a.Channel,
		a.Result,
		nullString(a.Reason),
		a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: failed to record attempt: %w", err)
	}
	return nil
}

// Filter specifies criteria for querying attempts.
type Filter struct {
	BookingID   *uuid.UUID
	TherapistID *uuid.UUID
	Result      string
	StartTime   time.Time
	EndTime     time.Time
	Limit       int
}

// QueryAttempts returns attempts matching filter, newest first.
func (s *Service) QueryAttempts(ctx context.Context, filter Filter) ([]Attempt, error) {
	query := `
		SELECT id, booking_ref, booking_id, therapist_id, action,
			   channel, result, reason, created_at
		FROM response_attempts
		WHERE 1=1
	`
	var args []any
	argIdx := 1

	if filter.BookingID != nil {
		query += fmt.Sprintf(" AND booking_id = $%d", argIdx)
		args = append(args, filter.BookingID.String())
		argIdx++
	}
	if filter.TherapistID != nil {
		query += fmt.Sprintf(" AND therapist_id = $%d", argIdx)
		args = append(args, filter.TherapistID.String())
		argIdx++
	}
	if filter.Result != "" {
		query += fmt.Sprintf(" AND result = $%d", argIdx)
		args = append(args, filter.Result)
		argIdx++
	}
	if !filter.StartTime.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.StartTime)
		argIdx++
	}
	if !filter.EndTime.IsZero() {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, filter.EndTime)
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to query attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var (
			a                 Attempt
			id, therapist     string
			bookingID, reason sql.NullString
		)
		if err := rows.Scan(&id, &a.BookingRef, &bookingID, &therapist, &a.Action,
			&a.Channel, &a.Result, &reason, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: failed to scan attempt: %w", err)
		}
		if a.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("audit: bad attempt id: %w", err)
		}
		if a.TherapistID, err = uuid.Parse(therapist); err != nil {
			return nil, fmt.Errorf("audit: bad therapist id: %w", err)
		}
		if bookingID.Valid {
			if parsed, err := uuid.Parse(bookingID.String); err == nil {
				a.BookingID = &parsed
			}
		}
		a.Reason = reason.String
		out = append(out, a)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
