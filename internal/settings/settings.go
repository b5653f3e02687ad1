// Package settings resolves the business settings that drive matching and
// escalation into an immutable Snapshot.
package settings

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rejuvenators/booking-dispatch/internal/booking"
)

// Keys in the system_settings table.
const (
	KeyResponseTimeout = "therapist_response_timeout_minutes"
	KeyOpeningHour     = "business_opening_time"
	KeyClosingHour     = "business_closing_time"
	KeyBeforeBuffer    = "before_service_buffer_time"
	KeyAfterBuffer     = "after_service_buffer_time"
)

// RequiredKeys lists every key a Snapshot needs.
var RequiredKeys = []string{KeyResponseTimeout, KeyOpeningHour, KeyClosingHour, KeyBeforeBuffer, KeyAfterBuffer}

// Snapshot is the configuration for one request or sweep.
type Snapshot struct {
	ResponseTimeout time.Duration
	OpeningHour     int
	ClosingHour     int
	BeforeBuffer    time.Duration
	AfterBuffer     time.Duration
	Location        *time.Location
}

// Configured reports whether the snapshot came from a successful resolve.
func (s Snapshot) Configured() bool {
	return s.ResponseTimeout > 0 && s.Location != nil
}

// FinalDeadline is when an unanswered booking is declined for good.
func (s Snapshot) FinalDeadline(created time.Time) time.Time {
	return created.Add(2 * s.ResponseTimeout)
}

// Parse builds a Snapshot from raw key/value settings. Missing or invalid
// keys produce an error wrapping booking.ErrNotConfigured that names them.
func Parse(values map[string]string, loc *time.Location) (Snapshot, error) {
	if loc == nil {
		loc = time.UTC
	}
	var missing []string
	ints := make(map[string]int, len(RequiredKeys))
	for _, key := range RequiredKeys {
		raw, ok := values[key]
		if !ok || strings.TrimSpace(raw) == "" {
			missing = append(missing, key)
			continue
		}
		n, err := parseNumber(raw)
		if err != nil || n < 0 {
			missing = append(missing, key+" (invalid)")
			continue
		}
		ints[key] = n
	}
	if len(missing) == 0 {
		if ints[KeyResponseTimeout] == 0 {
			missing = append(missing, KeyResponseTimeout+" (must be positive)")
		}
		if ints[KeyOpeningHour] > 23 || ints[KeyClosingHour] > 23 || ints[KeyOpeningHour] > ints[KeyClosingHour] {
			missing = append(missing, "business hours (out of range)")
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Snapshot{}, fmt.Errorf("settings: %s: %w", strings.Join(missing, ", "), booking.ErrNotConfigured)
	}
	return Snapshot{
		ResponseTimeout: time.Duration(ints[KeyResponseTimeout]) * time.Minute,
		OpeningHour:     ints[KeyOpeningHour],
		ClosingHour:     ints[KeyClosingHour],
		BeforeBuffer:    time.Duration(ints[KeyBeforeBuffer]) * time.Minute,
		AfterBuffer:     time.Duration(ints[KeyAfterBuffer]) * time.Minute,
		Location:        loc,
	}, nil
}

// parseNumber accepts "9", "9.0" or "09:00" style hour values.
func parseNumber(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if h, _, ok := strings.Cut(raw, ":"); ok {
		raw = h
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}
