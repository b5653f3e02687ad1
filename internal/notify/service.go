package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rejuvenators/booking-dispatch/internal/booking"
	"github.com/rejuvenators/booking-dispatch/internal/observability/metrics"
	"github.com/rejuvenators/booking-dispatch/internal/therapists"
	"github.com/rejuvenators/booking-dispatch/pkg/logging"
)

// Service sends notifications directly over email and SMS.
type Service struct {
	email   EmailSender
	sms     SMSSender
	cfg     Config
	metrics *metrics.DispatchMetrics
	logger  *logging.Logger
}

// NewService creates a notification service. Either sender may be nil.
func NewService(email EmailSender, sms SMSSender, cfg Config, m *metrics.DispatchMetrics, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.BrandName == "" {
		cfg.BrandName = defaultFromName
	}
	return &Service{email: email, sms: sms, cfg: cfg, metrics: m, logger: logger}
}

var _ Dispatcher = (*Service)(nil)

// SendTherapistRequest offers the booking to one therapist with
// accept/decline links and the SMS reply grammar.
func (s *Service) SendTherapistRequest(ctx context.Context, b *booking.Booking, t *therapists.Therapist, deadline time.Time) error {
	if b == nil || t == nil {
		return fmt.Errorf("notify: %s: booking and therapist required", KindTherapistRequest)
	}
	content := therapistRequestContent(s.cfg, b, t, deadline)
	subject := fmt.Sprintf("New booking request %s - respond by %s", b.Code, s.cfg.local(deadline).Format("3:04 PM"))
	return s.deliver(ctx, KindTherapistRequest, b, t.Email, t.Name(), subject, content, t.Phone, therapistRequestSMS(s.cfg, b, deadline))
}

func (s *Service) SendClientAlternateSearch(ctx context.Context, b *booking.Booking) error {
	if b == nil {
		return fmt.Errorf("notify: %s: booking required", KindClientAlternateSearch)
	}
	content := emailContent{
		Title:  "We're Finding You a Therapist",
		Intro:  fmt.Sprintf("Hi %s, your requested therapist is unavailable for booking %s. We're contacting other therapists in your area and will confirm as soon as one accepts.", b.CustomerFirstName, b.Code),
		Rows:   bookingRows(s.cfg, b),
		Footer: s.cfg.footer(),
	}
	sms := fmt.Sprintf("%s: we're finding an available therapist for booking %s on %s. We'll confirm shortly.",
		s.cfg.BrandName, b.Code, s.cfg.local(b.StartsAt).Format("Mon 2 Jan 3:04 PM"))
	return s.deliver(ctx, KindClientAlternateSearch, b, b.CustomerEmail, b.CustomerName(),
		fmt.Sprintf("Finding a therapist for booking %s", b.Code), content, b.CustomerPhone, sms)
}

func (s *Service) SendClientConfirmed(ctx context.Context, b *booking.Booking, t *therapists.Therapist) error {
	if b == nil || t == nil {
		return fmt.Errorf("notify: %s: booking and therapist required", KindClientConfirmed)
	}
	rows := append(bookingRows(s.cfg, b), detailRow{"Therapist", t.Name()})
	content := emailContent{
		Title:  "Your Booking is Confirmed!",
		Intro:  fmt.Sprintf("Hi %s, %s has accepted your booking.", b.CustomerFirstName, t.FirstName),
		Rows:   rows,
		Footer: s.cfg.footer(),
	}
	sms := fmt.Sprintf("%s: booking %s is confirmed with %s for %s.",
		s.cfg.BrandName, b.Code, t.Name(), s.cfg.local(b.StartsAt).Format("Mon 2 Jan 3:04 PM"))
	return s.deliver(ctx, KindClientConfirmed, b, b.CustomerEmail, b.CustomerName(),
		fmt.Sprintf("Booking confirmed - %s", b.Code), content, b.CustomerPhone, sms)
}

func (s *Service) SendTherapistConfirmed(ctx context.Context, b *booking.Booking, t *therapists.Therapist) error {
	if b == nil || t == nil {
		return fmt.Errorf("notify: %s: booking and therapist required", KindTherapistConfirmed)
	}
	rows := append(bookingRows(s.cfg, b),
		detailRow{"Client", b.CustomerName()},
		detailRow{"Client phone", orDefault(b.CustomerPhone, "Not provided")},
		detailRow{"Room", orDefault(b.RoomNumber, "N/A")},
		detailRow{"Your fee", money(b.TherapistFeeCents)},
	)
	content := emailContent{
		Title:  "Booking Confirmed",
		Intro:  fmt.Sprintf("Thanks %s, booking %s is yours.", t.FirstName, b.Code),
		Rows:   rows,
		Footer: s.cfg.footer(),
	}
	sms := fmt.Sprintf("%s: you're confirmed for %s, %s at %s.",
		s.cfg.BrandName, b.Code, s.cfg.local(b.StartsAt).Format("Mon 2 Jan 3:04 PM"), b.Address)
	return s.deliver(ctx, KindTherapistConfirmed, b, t.Email, t.Name(),
		fmt.Sprintf("Booking confirmed - %s", b.Code), content, t.Phone, sms)
}

func (s *Service) SendClientDeclined(ctx context.Context, b *booking.Booking) error {
	if b == nil {
		return fmt.Errorf("notify: %s: booking required", KindClientDeclined)
	}
	content := emailContent{
		Title:  "We Couldn't Confirm Your Booking",
		Intro:  fmt.Sprintf("Hi %s, unfortunately no therapist is available for booking %s. Please choose another time or call us on %s.", b.CustomerFirstName, b.Code, s.cfg.SupportPhone),
		Rows:   bookingRows(s.cfg, b),
		Footer: s.cfg.footer(),
	}
	sms := fmt.Sprintf("%s: sorry, we couldn't find a therapist for booking %s. Please rebook or call %s.",
		s.cfg.BrandName, b.Code, s.cfg.SupportPhone)
	return s.deliver(ctx, KindClientDeclined, b, b.CustomerEmail, b.CustomerName(),
		fmt.Sprintf("Booking update - %s", b.Code), content, b.CustomerPhone, sms)
}

// deliver sends the email and, when a phone is known, the SMS. Channel
// failures are joined into one error wrapping booking.ErrUpstream.
func (s *Service) deliver(ctx context.Context, kind string, b *booking.Booking, to, toName, subject string, content emailContent, phone, smsBody string) error {
	derr := &DeliveryError{Kind: kind}

	if s.email != nil && strings.TrimSpace(to) != "" {
		msg, err := buildEmail(to, toName, subject, content)
		if err == nil {
			err = s.email.Send(ctx, msg)
		}
		if err != nil {
			s.logger.Error("notify: email failed", "kind", kind, "booking_id", b.ID, "to", to, "error", err)
			derr.Failed = append(derr.Failed, err)
		} else {
			derr.Delivered = append(derr.Delivered, ChannelEmail)
		}
	}

	if s.sms != nil && strings.TrimSpace(phone) != "" {
		if err := s.sms.SendSMS(ctx, phone, smsBody); err != nil {
			s.logger.Error("notify: sms failed", "kind", kind, "booking_id", b.ID, "to", phone, "error", err)
			derr.Failed = append(derr.Failed, err)
		} else {
			derr.Delivered = append(derr.Delivered, ChannelSMS)
		}
	}

	var err error
	if len(derr.Failed) > 0 {
		err = derr
	} else {
		s.logger.Info("notify: sent", "kind", kind, "booking_id", b.ID)
	}
	s.metrics.ObserveNotification(kind, err)
	return err
}

// Notification channels.
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// DeliveryError reports the channels a notification failed on. Delivered
// names the channels that did go out, so a retry of the whole notification
// would repeat them.
type DeliveryError struct {
	Kind      string
	Delivered []string
	Failed    []error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("notify: %s: %v: %v", e.Kind, booking.ErrUpstream, errors.Join(e.Failed...))
}

func (e *DeliveryError) Unwrap() []error {
	return append([]error{booking.ErrUpstream}, e.Failed...)
}

// PartiallyDelivered reports whether err is a DeliveryError for a
// notification that reached the recipient on at least one channel.
func PartiallyDelivered(err error) bool {
	var derr *DeliveryError
	return errors.As(err, &derr) && len(derr.Delivered) > 0
}
