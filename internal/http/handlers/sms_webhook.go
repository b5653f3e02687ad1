package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rejuvenators/booking-dispatch/internal/arbiter"
	"github.com/rejuvenators/booking-dispatch/internal/booking"
	"github.com/rejuvenators/booking-dispatch/internal/messaging"
	"github.com/rejuvenators/booking-dispatch/internal/observability/metrics"
	"github.com/rejuvenators/booking-dispatch/internal/therapists"
	"github.com/rejuvenators/booking-dispatch/pkg/logging"
)

var smsTracer = otel.Tracer("booking.internal.http.sms")

// TherapistFinder resolves an SMS sender to a therapist.
type TherapistFinder interface {
	FindByPhone(ctx context.Context, phone string) (*therapists.Therapist, error)
}

// SMSWebhookHandler turns inbound Twilio SMS replies into responses.
type SMSWebhookHandler struct {
	responder    Responder
	therapists   TherapistFinder
	deduper      *messaging.Deduper
	authToken    string
	brand        string
	supportPhone string
	metrics      *metrics.DispatchMetrics
	logger       *logging.Logger
}

// SMSWebhookConfig configures the inbound SMS handler. An empty AuthToken
// disables signature checks.
type SMSWebhookConfig struct {
	AuthToken    string
	Brand        string
	SupportPhone string
}

func NewSMSWebhookHandler(responder Responder, finder TherapistFinder, deduper *messaging.Deduper, cfg SMSWebhookConfig, m *metrics.DispatchMetrics, logger *logging.Logger) *SMSWebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &SMSWebhookHandler{
		responder:    responder,
		therapists:   finder,
		deduper:      deduper,
		authToken:    cfg.AuthToken,
		brand:        cfg.Brand,
		supportPhone: cfg.SupportPhone,
		metrics:      m,
		logger:       logger,
	}
}

// ServeHTTP handles POST /webhooks/twilio/sms.
func (h *SMSWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := smsTracer.Start(r.Context(), "http.twilio.sms")
	defer span.End()
	start := time.Now()
	command := "unknown"
	defer func() { h.metrics.ObserveWebhookLatency(command, time.Since(start).Seconds()) }()

	if h.authToken != "" && !messaging.ValidateTwilioSignature(r, h.authToken, buildAbsoluteURL(r)) {
		h.logger.Warn("invalid twilio signature")
		span.RecordError(errors.New("invalid twilio signature"))
		h.metrics.ObserveSMSInbound(command, "forbidden")
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	webhook, err := messaging.ParseTwilioWebhook(r)
	if err != nil {
		h.logger.Warn("invalid twilio payload", "error", err)
		span.RecordError(err)
		h.metrics.ObserveSMSInbound(command, "bad_request")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("twilio.message_sid", webhook.MessageSid))

	first, err := h.deduper.FirstSeen(ctx, webhook.MessageSid)
	if err != nil {
		h.logger.Warn("sms dedupe unavailable", "error", err)
	}
	if !first {
		h.logger.Info("duplicate sms ignored", "message_sid", webhook.MessageSid)
		h.metrics.ObserveSMSInbound(command, "duplicate")
		h.reply(w, "")
		return
	}

	cmd, ok := messaging.ParseCommand(webhook.Body)
	if !ok {
		h.metrics.ObserveSMSInbound(command, "help")
		h.reply(w, messaging.HelpText(h.brand))
		return
	}
	command = cmd.Action

	therapist, err := h.therapists.FindByPhone(ctx, webhook.From)
	if err != nil {
		if !errors.Is(err, booking.ErrNotFound) {
			h.logger.Error("therapist lookup failed", "error", err)
			h.forget(ctx, webhook.MessageSid)
			h.metrics.ObserveSMSInbound(command, "error")
			h.reply(w, h.retryText())
			return
		}
		h.metrics.ObserveSMSInbound(command, "unknown_sender")
		h.reply(w, fmt.Sprintf("We couldn't match this number to a therapist account. Please contact support at %s.", h.supportPhone))
		return
	}

	action, _ := arbiter.ParseAction(cmd.Action)
	out, err := h.responder.Respond(ctx, arbiter.Response{
		BookingRef:  cmd.Code,
		TherapistID: therapist.ID,
		Action:      action,
		Channel:     arbiter.ChannelSMS,
	})
	if err != nil {
		span.RecordError(err)
		if reason, ok := arbiter.ReasonOf(err); ok {
			h.metrics.ObserveSMSInbound(command, "rejected")
			h.reply(w, fmt.Sprintf("%s (%s)", reason, cmd.Code))
			return
		}
		h.logger.Error("sms response failed", "booking_ref", cmd.Code, "therapist_id", therapist.ID, "error", err)
		h.forget(ctx, webhook.MessageSid)
		h.metrics.ObserveSMSInbound(command, "error")
		h.reply(w, h.retryText())
		return
	}

	h.metrics.ObserveSMSInbound(command, "ok")
	h.reply(w, smsOutcomeText(out, cmd.Code))
}

func smsOutcomeText(out arbiter.Outcome, code string) string {
	switch out.Result {
	case arbiter.ResultAccepted:
		return fmt.Sprintf("Confirmed: booking %s is yours. The client has been notified.", code)
	case arbiter.ResultDeclineRecorded:
		return fmt.Sprintf("Thanks, your decline for %s has been recorded.", code)
	case arbiter.ResultReassigned:
		return fmt.Sprintf("Thanks, booking %s has been offered to another therapist.", code)
	default:
		return fmt.Sprintf("Booking %s has been declined.", code)
	}
}

func (h *SMSWebhookHandler) retryText() string {
	return fmt.Sprintf("We couldn't process your reply right now. Please try again shortly or call %s.", h.supportPhone)
}

func (h *SMSWebhookHandler) forget(ctx context.Context, sid string) {
	if err := h.deduper.Forget(ctx, sid); err != nil {
		h.logger.Warn("sms dedupe release failed", "message_sid", sid, "error", err)
	}
}

func (h *SMSWebhookHandler) reply(w http.ResponseWriter, text string) {
	body, err := messaging.TwiML(text)
	if err != nil {
		h.logger.Error("render twiml", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// buildAbsoluteURL reconstructs the public URL Twilio signed, honouring
// proxy headers.
func buildAbsoluteURL(r *http.Request) string {
	if r.URL == nil {
		return ""
	}
	if r.URL.Scheme != "" {
		return r.URL.String()
	}
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "https"
		if r.TLS == nil {
			scheme = "http"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, r.URL.RequestURI())
}
