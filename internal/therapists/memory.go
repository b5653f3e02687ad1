package therapists

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rejuvenators/booking-dispatch/internal/booking"
)

// BookingSource exposes stored bookings for calendar derivation.
type BookingSource interface {
	Bookings() []booking.Booking
}

// MemoryDirectory is an in-process directory and calendar. The calendar is
// derived from a BookingSource so it stays consistent with booking.MemoryStore.
type MemoryDirectory struct {
	mu             sync.RWMutex
	therapists     map[uuid.UUID]Therapist
	licences       map[uuid.UUID]map[uuid.UUID]bool
	hours          map[uuid.UUID]map[time.Weekday]WorkingHours
	serviceBuffers map[uuid.UUID]int
	bookings       BookingSource
}

// NewMemoryDirectory creates an empty directory over the booking source.
func NewMemoryDirectory(bookings BookingSource) *MemoryDirectory {
	return &MemoryDirectory{
		therapists:     make(map[uuid.UUID]Therapist),
		licences:       make(map[uuid.UUID]map[uuid.UUID]bool),
		hours:          make(map[uuid.UUID]map[time.Weekday]WorkingHours),
		serviceBuffers: make(map[uuid.UUID]int),
		bookings:       bookings,
	}
}

// Add registers a therapist licensed for the given services.
func (d *MemoryDirectory) Add(t Therapist, services ...uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.therapists[t.ID] = t
	if d.licences[t.ID] == nil {
		d.licences[t.ID] = make(map[uuid.UUID]bool)
	}
	for _, s := range services {
		d.licences[t.ID][s] = true
	}
}

// SetHours sets the therapist's working window for a weekday.
func (d *MemoryDirectory) SetHours(therapistID uuid.UUID, day time.Weekday, wh WorkingHours) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.hours[therapistID] == nil {
		d.hours[therapistID] = make(map[time.Weekday]WorkingHours)
	}
	d.hours[therapistID][day] = wh
}

// SetServiceBuffer sets a service's own after-buffer in minutes.
func (d *MemoryDirectory) SetServiceBuffer(serviceID uuid.UUID, minutes int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.serviceBuffers[serviceID] = minutes
}

func (d *MemoryDirectory) ListByService(ctx context.Context, serviceID uuid.UUID) ([]Therapist, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Therapist
	for id, services := range d.licences {
		if services[serviceID] {
			out = append(out, d.therapists[id])
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name() != out[j].Name() {
			return out[i].Name() < out[j].Name()
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (d *MemoryDirectory) Get(ctx context.Context, id uuid.UUID) (*Therapist, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.therapists[id]
	if !ok {
		return nil, fmt.Errorf("therapists: get: %w", booking.ErrNotFound)
	}
	return &t, nil
}

func (d *MemoryDirectory) FindByPhone(ctx context.Context, phone string) (*Therapist, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	want := NormalizePhone(phone)
	for _, t := range d.therapists {
		if want != "" && NormalizePhone(t.Phone) == want {
			cp := t
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("therapists: find by phone: %w", booking.ErrNotFound)
}

func (d *MemoryDirectory) IsLicensed(ctx context.Context, therapistID, serviceID uuid.UUID) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.licences[therapistID][serviceID], nil
}

func (d *MemoryDirectory) WorkingHours(ctx context.Context, therapistID uuid.UUID, day time.Weekday) (*WorkingHours, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	wh, ok := d.hours[therapistID][day]
	if !ok {
		return nil, nil
	}
	return &wh, nil
}

func (d *MemoryDirectory) Occupancy(ctx context.Context, therapistID uuid.UUID, from, to time.Time, exclude uuid.UUID) ([]Occupancy, error) {
	if d.bookings == nil {
		return nil, nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Occupancy
	for _, b := range d.bookings.Bookings() {
		if b.ID == exclude || !b.IsAssignedTo(therapistID) {
			continue
		}
		if b.Status == booking.StatusDeclined || b.StartsAt.Before(from) || !b.StartsAt.Before(to) {
			continue
		}
		o := Occupancy{BookingID: b.ID, StartsAt: b.StartsAt, DurationMinutes: b.DurationMinutes}
		if buf, ok := d.serviceBuffers[b.ServiceID]; ok {
			o.BufferMinutes = &buf
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}
