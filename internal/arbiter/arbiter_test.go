package arbiter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rejuvenators/booking-dispatch/internal/booking"
	"github.com/rejuvenators/booking-dispatch/internal/settings"
	"github.com/rejuvenators/booking-dispatch/internal/therapists"
)

func respond(h *harness, b *booking.Booking, therapistID uuid.UUID, action Action) (Outcome, error) {
	return h.arbiter.Respond(context.Background(), Response{
		BookingRef:  b.Code,
		TherapistID: therapistID,
		Action:      action,
		Channel:     ChannelLink,
	})
}

func assertRejected(t *testing.T, err error, kind error, reason string) {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, kind)
	got, ok := ReasonOf(err)
	require.True(t, ok, "expected a ResponseError, got %v", err)
	assert.Equal(t, reason, got)
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction(" Accept ")
	require.NoError(t, err)
	assert.Equal(t, ActionAccept, a)

	_, err = ParseAction("maybe")
	assert.ErrorIs(t, err, ErrInvalidAction)
}

func TestAcceptByAssignedTherapist(t *testing.T) {
	h := newHarness(t, settingValues())
	ana := h.therapist("Ana")
	b := h.booking(t, ana.ID, false)

	out, err := respond(h, b, ana.ID, ActionAccept)
	require.NoError(t, err)
	assert.Equal(t, ResultAccepted, out.Result)
	assert.False(t, out.Reassigned)

	got := h.get(t, b.ID)
	assert.Equal(t, booking.StatusConfirmed, got.Status)
	require.NotNil(t, got.RespondingTherapistID)
	assert.Equal(t, ana.ID, *got.RespondingTherapistID)
	require.NotNil(t, got.TherapistResponseAt)
	assert.True(t, h.now.Equal(*got.TherapistResponseAt))

	history, err := h.store.History(context.Background(), b.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "Accepted by original therapist", history[1].Note)

	assert.Equal(t, []string{"client_confirmed", "therapist_confirmed"}, h.dispatcher.kinds())
	assert.Equal(t, []string{"accepted"}, h.recorder.results())
}

func TestRequestedRejectsOtherTherapists(t *testing.T) {
	h := newHarness(t, settingValues())
	ana := h.therapist("Ana")
	bea := h.therapist("Bea")
	b := h.booking(t, ana.ID, false)

	_, err := respond(h, b, bea.ID, ActionAccept)
	assertRejected(t, err, booking.ErrUnauthorized, ReasonNotAssigned)
	assert.Equal(t, booking.StatusRequested, h.get(t, b.ID).Status)
	assert.Empty(t, h.dispatcher.kinds())
	assert.Equal(t, []string{"unauthorized"}, h.recorder.results())
}

func TestUnknownBookingAndTherapist(t *testing.T) {
	h := newHarness(t, settingValues())
	_, err := h.arbiter.Respond(context.Background(), Response{BookingRef: "RMM9999zzzz", TherapistID: uuid.New(), Action: ActionAccept, Channel: ChannelSMS})
	assertRejected(t, err, booking.ErrNotFound, ReasonBookingNotFound)

	ghost := uuid.New()
	b := h.booking(t, ghost, false)
	_, err = respond(h, b, ghost, ActionAccept)
	assertRejected(t, err, booking.ErrNotFound, ReasonTherapistNotFound)

	_, err = respond(h, b, ghost, Action("snooze"))
	assert.ErrorIs(t, err, ErrInvalidAction)
	assert.Equal(t, []string{"not_found", "not_found", "invalid"}, h.recorder.results())
}

func TestConcurrentAcceptsExactlyOneWins(t *testing.T) {
	h := newHarness(t, settingValues())
	original := h.therapist("Original")
	b := h.booking(t, original.ID, false)
	h.broadcast(t, b)

	const n = 12
	responders := make([]therapists.Therapist, n)
	for i := range responders {
		responders[i] = h.therapist("T" + uuid.NewString()[:6])
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, th := range responders {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			_, err := respond(h, b, id, ActionAccept)
			errs <- err
		}(th.ID)
	}
	wg.Wait()
	close(errs)

	var won, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, booking.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, n-1, conflicts)

	got := h.get(t, b.ID)
	assert.Equal(t, booking.StatusConfirmed, got.Status)
	assert.Equal(t, got.TherapistID, got.RespondingTherapistID)
	assert.Len(t, h.dispatcher.kinds(), 2)
}

func TestBroadcastDeclineThenAccept(t *testing.T) {
	h := newHarness(t, settingValues())
	original := h.therapist("Original")
	ana := h.therapist("Ana")
	bea := h.therapist("Bea")
	b := h.booking(t, original.ID, false)
	h.broadcast(t, b)

	out, err := respond(h, b, ana.ID, ActionDecline)
	require.NoError(t, err)
	assert.Equal(t, ResultDeclineRecorded, out.Result)
	assert.Equal(t, booking.StatusTimeoutReassigned, h.get(t, b.ID).Status)
	assert.Empty(t, h.dispatcher.kinds())

	out, err = respond(h, b, bea.ID, ActionAccept)
	require.NoError(t, err)
	assert.True(t, out.Reassigned)

	got := h.get(t, b.ID)
	assert.Equal(t, booking.StatusConfirmed, got.Status)
	assert.True(t, got.IsAssignedTo(bea.ID))

	history, err := h.store.History(context.Background(), b.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, booking.MarkerTherapistDeclined, history[2].Status)
	assert.Equal(t, "Ana Test declined reassigned booking", history[2].Note)
	assert.Equal(t, "Accepted by alternate therapist after timeout", history[3].Note)
}

func TestBroadcastEligibility(t *testing.T) {
	h := newHarness(t, settingValues())
	original := h.therapist("Original")
	b := h.booking(t, original.ID, false)
	h.broadcast(t, b)

	unlicensed := therapists.Therapist{ID: uuid.New(), FirstName: "Una", Active: true}
	h.directory.Add(unlicensed)
	_, err := respond(h, b, unlicensed.ID, ActionAccept)
	assertRejected(t, err, booking.ErrUnauthorized, ReasonNotLicensed)

	far := h.therapist("Far")
	far.Latitude = fp(-37.81)
	far.Longitude = fp(144.96)
	h.directory.Add(far, h.serviceID)
	_, err = respond(h, b, far.ID, ActionAccept)
	assertRejected(t, err, booking.ErrUnauthorized, ReasonOutsideArea)

	noArea := h.therapist("Nomad")
	noArea.ServiceRadiusKm = nil
	h.directory.Add(noArea, h.serviceID)
	_, err = respond(h, b, noArea.ID, ActionAccept)
	assertRejected(t, err, booking.ErrUnauthorized, ReasonOutsideArea)

	assert.Equal(t, booking.StatusTimeoutReassigned, h.get(t, b.ID).Status)
}

func TestTerminalBookingResponses(t *testing.T) {
	h := newHarness(t, settingValues())
	original := h.therapist("Original")
	ana := h.therapist("Ana")
	b := h.booking(t, original.ID, false)
	h.broadcast(t, b)

	_, err := respond(h, b, original.ID, ActionAccept)
	require.NoError(t, err)

	_, err = respond(h, b, ana.ID, ActionAccept)
	assertRejected(t, err, booking.ErrConflict, ReasonAlreadyAccepted)

	_, err = respond(h, b, original.ID, ActionAccept)
	assertRejected(t, err, booking.ErrConflict, ReasonAlreadyYours)

	stranger := therapists.Therapist{ID: uuid.New(), FirstName: "Stranger", Active: true}
	h.directory.Add(stranger)
	_, err = respond(h, b, stranger.ID, ActionDecline)
	assertRejected(t, err, booking.ErrUnauthorized, ReasonNotAssigned)
}

func TestDeclineWithoutFallback(t *testing.T) {
	h := newHarness(t, settingValues())
	ana := h.therapist("Ana")
	h.therapist("Bea")
	b := h.booking(t, ana.ID, false)

	out, err := respond(h, b, ana.ID, ActionDecline)
	require.NoError(t, err)
	assert.Equal(t, ResultDeclined, out.Result)

	got := h.get(t, b.ID)
	assert.Equal(t, booking.StatusDeclined, got.Status)
	require.NotNil(t, got.RespondingTherapistID)
	assert.Equal(t, ana.ID, *got.RespondingTherapistID)
	assert.Equal(t, []string{"client_declined"}, h.dispatcher.kinds())

	_, err = respond(h, b, ana.ID, ActionDecline)
	assertRejected(t, err, booking.ErrConflict, ReasonAlreadyDeclined)
}

func TestDeclineWithFallbackReassigns(t *testing.T) {
	h := newHarness(t, settingValues())
	ana := h.therapist("Ana")
	bea := h.therapist("Bea")
	b := h.booking(t, ana.ID, true)

	out, err := respond(h, b, ana.ID, ActionDecline)
	require.NoError(t, err)
	assert.Equal(t, ResultReassigned, out.Result)
	require.NotNil(t, out.Alternate)
	assert.Equal(t, bea.ID, out.Alternate.ID)

	got := h.get(t, b.ID)
	assert.Equal(t, booking.StatusRequested, got.Status)
	assert.True(t, got.IsAssignedTo(bea.ID))

	require.Len(t, h.dispatcher.calls, 2)
	req := h.dispatcher.calls[0]
	assert.Equal(t, "therapist_request", req.kind)
	assert.Equal(t, bea.ID, req.therapistID)
	assert.True(t, h.now.Add(30*time.Minute).Equal(req.deadline))
	assert.Equal(t, "client_alternate_search", h.dispatcher.calls[1].kind)

	history, err := h.store.History(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, "Declined by original therapist; reassigned to Bea Test", history[len(history)-1].Note)

	// The original therapist no longer holds the offer; the alternate does.
	_, err = respond(h, b, ana.ID, ActionAccept)
	assertRejected(t, err, booking.ErrUnauthorized, ReasonNotAssigned)
	out, err = respond(h, b, bea.ID, ActionAccept)
	require.NoError(t, err)
	assert.Equal(t, ResultAccepted, out.Result)
}

func TestDeclineWithFallbackButNoAlternate(t *testing.T) {
	h := newHarness(t, settingValues())
	ana := h.therapist("Ana")
	b := h.booking(t, ana.ID, true)

	out, err := respond(h, b, ana.ID, ActionDecline)
	require.NoError(t, err)
	assert.Equal(t, ResultDeclined, out.Result)
	assert.Equal(t, booking.StatusDeclined, h.get(t, b.ID).Status)
	assert.Equal(t, []string{"client_declined"}, h.dispatcher.kinds())
}

func TestDeclineWithFallbackNotConfigured(t *testing.T) {
	values := settingValues()
	delete(values, settings.KeyAfterBuffer)
	h := newHarness(t, values)
	ana := h.therapist("Ana")
	h.therapist("Bea")
	b := h.booking(t, ana.ID, true)

	_, err := respond(h, b, ana.ID, ActionDecline)
	assertRejected(t, err, booking.ErrNotConfigured, ReasonNotConfigured)

	got := h.get(t, b.ID)
	assert.Equal(t, booking.StatusRequested, got.Status)
	assert.True(t, got.IsAssignedTo(ana.ID))
	assert.Empty(t, h.dispatcher.kinds())
	assert.Equal(t, []string{"not_configured"}, h.recorder.results())
}

func TestNotificationFailureDoesNotUndoAccept(t *testing.T) {
	h := newHarness(t, settingValues())
	h.dispatcher.err = errors.New("smtp down")
	ana := h.therapist("Ana")
	b := h.booking(t, ana.ID, false)

	out, err := respond(h, b, ana.ID, ActionAccept)
	require.NoError(t, err)
	assert.Equal(t, ResultAccepted, out.Result)
	assert.Equal(t, booking.StatusConfirmed, h.get(t, b.ID).Status)
}

type failingStore struct {
	*booking.MemoryStore
}

func (f failingStore) Transition(ctx context.Context, t booking.Transition) error {
	return booking.ErrUpstream
}

func TestStoreFailureIsUpstream(t *testing.T) {
	h := newHarness(t, settingValues())
	ana := h.therapist("Ana")
	b := h.booking(t, ana.ID, false)
	h.arbiter.store = failingStore{h.store}

	_, err := respond(h, b, ana.ID, ActionAccept)
	assert.ErrorIs(t, err, booking.ErrUpstream)
	_, isResponse := ReasonOf(err)
	assert.False(t, isResponse)
	assert.Empty(t, h.dispatcher.kinds())
	assert.Equal(t, []string{"error"}, h.recorder.results())
}

// interleavedStore runs between once after the first read, standing in for a
// concurrent writer that lands between the arbiter's read and its write.
type interleavedStore struct {
	*booking.MemoryStore
	once    sync.Once
	between func()
}

func (s *interleavedStore) Resolve(ctx context.Context, ref string) (*booking.Booking, error) {
	b, err := s.MemoryStore.Resolve(ctx, ref)
	s.once.Do(s.between)
	return b, err
}

func TestBroadcastDeclineAfterConfirmIsConflict(t *testing.T) {
	h := newHarness(t, settingValues())
	original := h.therapist("Original")
	ana := h.therapist("Ana")
	bea := h.therapist("Bea")
	b := h.booking(t, original.ID, false)
	h.broadcast(t, b)

	h.arbiter.store = &interleavedStore{MemoryStore: h.store, between: func() {
		require.NoError(t, h.store.Transition(context.Background(), booking.Transition{
			BookingID:             b.ID,
			From:                  booking.PendingStatuses,
			To:                    booking.StatusConfirmed,
			AssignTherapist:       booking.Ptr(bea.ID),
			RespondingTherapistID: booking.Ptr(bea.ID),
			Note:                  "Accepted by alternate therapist after timeout",
			At:                    h.now,
		}))
	}}

	_, err := respond(h, b, ana.ID, ActionDecline)
	assertRejected(t, err, booking.ErrConflict, ReasonAlreadyAccepted)

	history, err := h.store.History(context.Background(), b.ID)
	require.NoError(t, err)
	for _, e := range history {
		assert.NotEqual(t, booking.MarkerTherapistDeclined, e.Status)
	}
	assert.Equal(t, booking.StatusConfirmed, h.get(t, b.ID).Status)
}

func TestBroadcastDeclineAfterFinalTimeoutIsConflict(t *testing.T) {
	h := newHarness(t, settingValues())
	original := h.therapist("Original")
	ana := h.therapist("Ana")
	b := h.booking(t, original.ID, false)
	h.broadcast(t, b)

	h.arbiter.store = &interleavedStore{MemoryStore: h.store, between: func() {
		require.NoError(t, h.store.Transition(context.Background(), booking.Transition{
			BookingID: b.ID,
			From:      []booking.Status{booking.StatusTimeoutReassigned},
			To:        booking.StatusDeclined,
			Note:      "Automatic timeout - no therapist responses",
			At:        h.now,
		}))
	}}

	_, err := respond(h, b, ana.ID, ActionDecline)
	assertRejected(t, err, booking.ErrConflict, ReasonAlreadyDeclined)

	history, err := h.store.History(context.Background(), b.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, booking.HistoryStatus(booking.StatusDeclined), history[2].Status)
}
