package arbiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/rejuvenators/booking-dispatch/internal/audit"
	"github.com/rejuvenators/booking-dispatch/internal/booking"
	"github.com/rejuvenators/booking-dispatch/internal/matching"
	"github.com/rejuvenators/booking-dispatch/internal/settings"
	"github.com/rejuvenators/booking-dispatch/internal/therapists"
)

type sent struct {
	kind        string
	bookingID   uuid.UUID
	therapistID uuid.UUID
	deadline    time.Time
}

type recordingDispatcher struct {
	mu    sync.Mutex
	calls []sent
	err   error
}

func (r *recordingDispatcher) add(s sent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
	return r.err
}

func (r *recordingDispatcher) SendTherapistRequest(ctx context.Context, b *booking.Booking, t *therapists.Therapist, deadline time.Time) error {
	return r.add(sent{kind: "therapist_request", bookingID: b.ID, therapistID: t.ID, deadline: deadline})
}

func (r *recordingDispatcher) SendClientAlternateSearch(ctx context.Context, b *booking.Booking) error {
	return r.add(sent{kind: "client_alternate_search", bookingID: b.ID})
}

func (r *recordingDispatcher) SendClientConfirmed(ctx context.Context, b *booking.Booking, t *therapists.Therapist) error {
	return r.add(sent{kind: "client_confirmed", bookingID: b.ID, therapistID: t.ID})
}

func (r *recordingDispatcher) SendTherapistConfirmed(ctx context.Context, b *booking.Booking, t *therapists.Therapist) error {
	return r.add(sent{kind: "therapist_confirmed", bookingID: b.ID, therapistID: t.ID})
}

func (r *recordingDispatcher) SendClientDeclined(ctx context.Context, b *booking.Booking) error {
	return r.add(sent{kind: "client_declined", bookingID: b.ID})
}

func (r *recordingDispatcher) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c.kind)
	}
	return out
}

type memoryRecorder struct {
	mu       sync.Mutex
	attempts []audit.Attempt
}

func (m *memoryRecorder) RecordAttempt(ctx context.Context, a audit.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, a)
	return nil
}

func (m *memoryRecorder) results() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.attempts))
	for _, a := range m.attempts {
		out = append(out, a.Result)
	}
	return out
}

func settingValues() map[string]string {
	return map[string]string{
		settings.KeyResponseTimeout: "30",
		settings.KeyOpeningHour:     "9",
		settings.KeyClosingHour:     "17",
		settings.KeyBeforeBuffer:    "15",
		settings.KeyAfterBuffer:     "15",
	}
}

func fp(v float64) *float64 { return &v }

type harness struct {
	store      *booking.MemoryStore
	directory  *therapists.MemoryDirectory
	dispatcher *recordingDispatcher
	recorder   *memoryRecorder
	arbiter    *Arbiter
	serviceID  uuid.UUID
	day        time.Time
	now        time.Time
}

func newHarness(t *testing.T, values map[string]string) *harness {
	t.Helper()
	store := booking.NewMemoryStore()
	dir := therapists.NewMemoryDirectory(store)
	h := &harness{
		store:      store,
		directory:  dir,
		dispatcher: &recordingDispatcher{},
		recorder:   &memoryRecorder{},
		serviceID:  uuid.New(),
		day:        time.Date(2024, 10, 8, 0, 0, 0, 0, time.UTC),
		now:        time.Date(2024, 10, 7, 9, 0, 0, 0, time.UTC),
	}
	resolver := settings.NewResolver(settings.StaticSource(values), nil, time.Minute, time.UTC, nil)
	h.arbiter = New(store, dir, matching.NewMatcher(dir, dir, nil), resolver, h.dispatcher, h.recorder, nil, nil).
		WithClock(func() time.Time { return h.now })
	return h
}

func (h *harness) therapist(name string) therapists.Therapist {
	th := therapists.Therapist{
		ID:              uuid.New(),
		FirstName:       name,
		LastName:        "Test",
		Email:           name + "@example.com",
		Gender:          booking.GenderFemale,
		Active:          true,
		Latitude:        fp(-33.87),
		Longitude:       fp(151.21),
		ServiceRadiusKm: fp(15),
	}
	h.directory.Add(th, h.serviceID)
	h.directory.SetHours(th.ID, h.day.Weekday(), therapists.WorkingHours{Start: 9 * 60, End: 17 * 60})
	return th
}

func (h *harness) booking(t *testing.T, assigned uuid.UUID, fallback bool) *booking.Booking {
	t.Helper()
	b := &booking.Booking{
		ServiceID:         h.serviceID,
		ServiceName:       "Relaxation Massage",
		DurationMinutes:   60,
		StartsAt:          h.day.Add(10 * time.Hour),
		Latitude:          fp(-33.8688),
		Longitude:         fp(151.2093),
		Fallback:          fallback,
		TherapistID:       booking.Ptr(assigned),
		CustomerFirstName: "Sam",
		CustomerLastName:  "Lee",
		CustomerEmail:     "sam@example.com",
		CreatedAt:         h.now,
	}
	require.NoError(t, h.store.Create(context.Background(), b))
	return b
}

func (h *harness) broadcast(t *testing.T, b *booking.Booking) {
	t.Helper()
	require.NoError(t, h.store.Transition(context.Background(), booking.Transition{
		BookingID: b.ID,
		From:      []booking.Status{booking.StatusRequested},
		To:        booking.StatusTimeoutReassigned,
		Note:      "Request timed out; broadcast to 3 therapists",
		At:        h.now,
	}))
}

func (h *harness) get(t *testing.T, id uuid.UUID) *booking.Booking {
	t.Helper()
	b, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return b
}
