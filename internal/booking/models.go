// Package booking holds the booking record, its status machine and the
// append-only status history.
package booking

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Gender preference values accepted on a booking.
const (
	GenderAny    = "any"
	GenderMale   = "male"
	GenderFemale = "female"
)

// Booking is one customer request for one service at one time and place.
type Booking struct {
	ID               uuid.UUID
	Code             string
	ServiceID        uuid.UUID
	ServiceName      string
	DurationMinutes  int
	StartsAt         time.Time
	Address          string
	BusinessName     string
	RoomNumber       string
	Latitude         *float64
	Longitude        *float64
	GenderPreference string
	Fallback         bool

	TherapistID           *uuid.UUID
	RespondingTherapistID *uuid.UUID
	TherapistResponseAt   *time.Time

	PriceCents        int64
	TherapistFeeCents int64

	CustomerFirstName string
	CustomerLastName  string
	CustomerEmail     string
	CustomerPhone     string
	BookerName        string
	Notes             string

	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasLocation reports whether the booking carries coordinates.
func (b Booking) HasLocation() bool {
	return b.Latitude != nil && b.Longitude != nil
}

// CustomerName joins the customer's first and last name.
func (b Booking) CustomerName() string {
	return strings.TrimSpace(b.CustomerFirstName + " " + b.CustomerLastName)
}

// Duration is the requested service length.
func (b Booking) Duration() time.Duration {
	return time.Duration(b.DurationMinutes) * time.Minute
}

// IsAssignedTo reports whether the therapist currently holds the offer.
func (b Booking) IsAssignedTo(therapistID uuid.UUID) bool {
	return b.TherapistID != nil && *b.TherapistID == therapistID
}

// WantsGender normalizes the preference; empty means any.
func (b Booking) WantsGender() string {
	g := strings.ToLower(strings.TrimSpace(b.GenderPreference))
	if g == "" {
		return GenderAny
	}
	return g
}

// HistoryEntry is one row of the status audit trail. Rows are never mutated.
type HistoryEntry struct {
	ID        uuid.UUID
	BookingID uuid.UUID
	Status    HistoryStatus
	ActorID   *uuid.UUID
	Note      string
	CreatedAt time.Time
}

// HistoryStatus is the value recorded in the history ledger. It is a booking
// Status or the audit-only MarkerTherapistDeclined.
type HistoryStatus string

// MarkerTherapistDeclined records a decline on a broadcast booking; the
// booking status does not change.
const MarkerTherapistDeclined HistoryStatus = "therapist_declined"

// Transition describes a conditional write: it only applies while the stored
// status is one of From (and, when set, the assigned therapist equals
// ExpectTherapist). The History entry is written in the same statement.
type Transition struct {
	BookingID       uuid.UUID
	From            []Status
	ExpectTherapist *uuid.UUID
	To              Status

	AssignTherapist       *uuid.UUID
	RespondingTherapistID *uuid.UUID
	ResponseAt            *time.Time

	ActorID *uuid.UUID
	Note    string
	At      time.Time
}


// Ptr returns a pointer to a copy of id.
func Ptr(id uuid.UUID) *uuid.UUID { return &id }
