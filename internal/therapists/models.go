// Package therapists is the therapist directory and calendar provider.
package therapists

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Therapist is a therapist profile as the matcher sees it.
type Therapist struct {
	ID              uuid.UUID
	FirstName       string
	LastName        string
	Email           string
	Phone           string
	Gender          string
	Active          bool
	Latitude        *float64
	Longitude       *float64
	ServiceRadiusKm *float64
}

// Name joins first and last name.
func (t Therapist) Name() string {
	return strings.TrimSpace(t.FirstName + " " + t.LastName)
}

// HasServiceArea reports whether the geofence can be evaluated.
func (t Therapist) HasServiceArea() bool {
	return t.Latitude != nil && t.Longitude != nil && t.ServiceRadiusKm != nil
}

// Candidate is a therapist that passed every filter for one booking.
type Candidate struct {
	Therapist
	DistanceKm *float64
}

// WorkingHours is a therapist's window for one weekday, in minutes after
// local midnight. End is exclusive.
type WorkingHours struct {
	Start int
	End   int
}

// ParseWorkingHours reads "HH:MM" (or "HH:MM:SS") bounds.
func ParseWorkingHours(start, end string) (WorkingHours, error) {
	s, err := parseClock(start)
	if err != nil {
		return WorkingHours{}, err
	}
	e, err := parseClock(end)
	if err != nil {
		return WorkingHours{}, err
	}
	return WorkingHours{Start: s, End: e}, nil
}

func parseClock(v string) (int, error) {
	v = strings.TrimSpace(v)
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Hour()*60 + t.Minute(), nil
		}
	}
	return 0, fmt.Errorf("therapists: invalid clock value %q", v)
}

// Occupancy is an existing booking that blocks a therapist's calendar.
// BufferMinutes is the service's own after-buffer when one is configured.
type Occupancy struct {
	BookingID       uuid.UUID
	StartsAt        time.Time
	DurationMinutes int
	BufferMinutes   *int
}

// NormalizePhone keeps a leading plus and the digits.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(phone) {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
