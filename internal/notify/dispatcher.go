// Package notify delivers booking notifications to therapists and clients by
// email and SMS, directly or through an SQS queue.
package notify

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/rejuvenators/booking-dispatch/internal/booking"
	"github.com/rejuvenators/booking-dispatch/internal/therapists"
	"github.com/rejuvenators/booking-dispatch/pkg/logging"
)

// Notification kinds.
const (
	KindTherapistRequest      = "therapist_request"
	KindClientAlternateSearch = "client_alternate_search"
	KindClientConfirmed       = "client_confirmed"
	KindTherapistConfirmed    = "therapist_confirmed"
	KindClientDeclined        = "client_declined"
)

// Dispatcher sends the messages produced by booking state changes. Calls
// happen after the state change has committed; an error never undoes it.
type Dispatcher interface {
	SendTherapistRequest(ctx context.Context, b *booking.Booking, t *therapists.Therapist, deadline time.Time) error
	SendClientAlternateSearch(ctx context.Context, b *booking.Booking) error
	SendClientConfirmed(ctx context.Context, b *booking.Booking, t *therapists.Therapist) error
	SendTherapistConfirmed(ctx context.Context, b *booking.Booking, t *therapists.Therapist) error
	SendClientDeclined(ctx context.Context, b *booking.Booking) error
}

// SMSSender sends a single text message.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// StubSMSSender logs instead of sending.
type StubSMSSender struct {
	logger *logging.Logger
}

func NewStubSMSSender(logger *logging.Logger) *StubSMSSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubSMSSender{logger: logger}
}

func (s *StubSMSSender) SendSMS(ctx context.Context, to, body string) error {
	s.logger.Info("stub SMS sender: would send", "to", to, "body_preview", truncate(body, 50))
	return nil
}

// truncate keeps the first maxLen runes of s.
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen]) + "..."
}

var _ SMSSender = (*StubSMSSender)(nil)
