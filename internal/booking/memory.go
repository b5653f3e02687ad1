package booking

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store with the same conditional-write
// semantics as the Postgres store. It backs tests and database-less
// development runs.
type MemoryStore struct {
	mu         sync.Mutex
	codePrefix string
	bookings   map[uuid.UUID]*Booking
	history    []HistoryEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		codePrefix: DefaultCodePrefix,
		bookings:   make(map[uuid.UUID]*Booking),
	}
}

// Create stores a new requested booking.
func (m *MemoryStore) Create(ctx context.Context, b *Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	b.UpdatedAt = b.CreatedAt
	if b.Code == "" {
		b.Code = FormatCode(m.codePrefix, b.ID, b.CreatedAt)
	}
	b.Status = StatusRequested
	b.GenderPreference = b.WantsGender()
	cp := *b
	m.bookings[b.ID] = &cp
	m.history = append(m.history, HistoryEntry{
		ID: uuid.New(), BookingID: b.ID, Status: HistoryStatus(StatusRequested),
		Note: "Booking created", CreatedAt: b.CreatedAt,
	})
	return nil
}

// Get returns a copy of the booking.
func (m *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking: get: %w", ErrNotFound)
	}
	cp := *b
	return &cp, nil
}

// GetByCode returns a copy of the booking with the given code.
func (m *MemoryStore) GetByCode(ctx context.Context, code string) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	code = NormalizeCode(code)
	for _, b := range m.bookings {
		if b.Code == code {
			cp := *b
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("booking: get by code: %w", ErrNotFound)
}

// Resolve accepts either an internal id or a booking code.
func (m *MemoryStore) Resolve(ctx context.Context, ref string) (*Booking, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return m.Get(ctx, id)
	}
	return m.GetByCode(ctx, ref)
}

// Transition applies t atomically under the store lock.
func (m *MemoryStore) Transition(ctx context.Context, t Transition) error {
	if err := validateTransition(t); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bookings[t.BookingID]
	if !ok || !statusIn(b.Status, t.From) {
		return fmt.Errorf("booking: transition to %s: %w", t.To, ErrConflict)
	}
	if t.ExpectTherapist != nil && !b.IsAssignedTo(*t.ExpectTherapist) {
		return fmt.Errorf("booking: transition to %s: %w", t.To, ErrConflict)
	}

	at := t.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	b.Status = t.To
	if t.AssignTherapist != nil {
		b.TherapistID = Ptr(*t.AssignTherapist)
	}
	if t.RespondingTherapistID != nil {
		b.RespondingTherapistID = Ptr(*t.RespondingTherapistID)
	}
	if t.ResponseAt != nil {
		ts := *t.ResponseAt
		b.TherapistResponseAt = &ts
	}
	b.UpdatedAt = at
	m.history = append(m.history, HistoryEntry{
		ID: uuid.New(), BookingID: b.ID, Status: HistoryStatus(t.To),
		ActorID: t.ActorID, Note: t.Note, CreatedAt: at,
	})
	return nil
}

// AppendHistoryIf records an entry while the booking is in status.
func (m *MemoryStore) AppendHistoryIf(ctx context.Context, e HistoryEntry, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[e.BookingID]
	if !ok || b.Status != status {
		return fmt.Errorf("booking: append history: booking %s not %s: %w", e.BookingID, status, ErrConflict)
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.history = append(m.history, e)
	return nil
}

// History returns the ledger for a booking in insertion order.
func (m *MemoryStore) History(ctx context.Context, bookingID uuid.UUID) ([]HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []HistoryEntry
	for _, e := range m.history {
		if e.BookingID == bookingID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ListStale returns bookings in status created at or before cutoff.
func (m *MemoryStore) ListStale(ctx context.Context, status Status, cutoff time.Time, limit int) ([]Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Booking
	for _, b := range m.bookings {
		if b.Status == status && !b.CreatedAt.After(cutoff) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Bookings returns copies of every stored booking. Used by the therapist
// calendar when running without a database.
func (m *MemoryStore) Bookings() []Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Booking, 0, len(m.bookings))
	for _, b := range m.bookings {
		out = append(out, *b)
	}
	return out
}

func statusIn(s Status, set []Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
