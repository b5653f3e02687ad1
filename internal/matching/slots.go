package matching

import (
	"time"

	"github.com/rejuvenators/booking-dispatch/internal/therapists"
)

// SlotRules are the business parameters of slot generation.
type SlotRules struct {
	OpeningHour  int
	ClosingHour  int
	Duration     time.Duration
	BeforeBuffer time.Duration
	AfterBuffer  time.Duration
}

// FreeSlots lists the hourly start times on day that fit inside the working
// window and clear every busy interval. day must be local midnight.
//
// A candidate slot occupies [start, start+Duration+AfterBuffer). A busy
// booking occupies [start-BeforeBuffer, start+its duration+its buffer), with
// its buffer falling back to AfterBuffer.
func FreeSlots(day time.Time, window therapists.WorkingHours, rules SlotRules, busy []therapists.Occupancy) []time.Time {
	var free []time.Time
	for hour := rules.OpeningHour; hour <= rules.ClosingHour; hour++ {
		minute := hour * 60
		if minute < window.Start || minute >= window.End {
			continue
		}
		start := time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, day.Location())
		end := start.Add(rules.Duration + rules.AfterBuffer)
		if !overlapsAny(start, end, rules, busy) {
			free = append(free, start)
		}
	}
	return free
}

func overlapsAny(start, end time.Time, rules SlotRules, busy []therapists.Occupancy) bool {
	for _, o := range busy {
		after := rules.AfterBuffer
		if o.BufferMinutes != nil {
			after = time.Duration(*o.BufferMinutes) * time.Minute
		}
		busyStart := o.StartsAt.Add(-rules.BeforeBuffer)
		busyEnd := o.StartsAt.Add(time.Duration(o.DurationMinutes)*time.Minute + after)
		if start.Before(busyEnd) && end.After(busyStart) {
			return true
		}
	}
	return false
}

func containsInstant(slots []time.Time, at time.Time) bool {
	for _, s := range slots {
		if s.Equal(at) {
			return true
		}
	}
	return false
}
