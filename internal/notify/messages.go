package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rejuvenators/booking-dispatch/internal/booking"
	"github.com/rejuvenators/booking-dispatch/internal/therapists"
)

// Config carries the brand and link settings used in message bodies.
type Config struct {
	BaseURL      string
	BrandName    string
	SupportPhone string
	Location     *time.Location
}

type detailRow struct {
	Label string
	Value string
}

type emailContent struct {
	Title      string
	Intro      string
	Rows       []detailRow
	AcceptURL  string
	DeclineURL string
	Footer     string
}

var emailHTML = template.Must(template.New("email").Parse(`<div style="font-family: sans-serif; max-width: 600px;">
<h2 style="color: #0f766e;">{{.Title}}</h2>
<p>{{.Intro}}</p>
<table style="border-collapse: collapse; margin: 20px 0;">
{{- range .Rows}}
  <tr><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;"><strong>{{.Label}}:</strong></td><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;">{{.Value}}</td></tr>
{{- end}}
</table>
{{- if .AcceptURL}}
<p>
  <a href="{{.AcceptURL}}" style="background: #10b981; color: #fff; padding: 12px 20px; border-radius: 6px; text-decoration: none;">Accept booking</a>
  &nbsp;
  <a href="{{.DeclineURL}}" style="background: #ef4444; color: #fff; padding: 12px 20px; border-radius: 6px; text-decoration: none;">Decline</a>
</p>
{{- end}}
<p style="color: #6b7280; font-size: 12px; margin-top: 20px;">{{.Footer}}</p>
</div>`))

// ResponseURL builds the accept/decline link for a therapist.
func ResponseURL(baseURL, action, code string, therapistID uuid.UUID) string {
	q := url.Values{}
	q.Set("action", action)
	q.Set("booking", code)
	q.Set("therapist", therapistID.String())
	return strings.TrimRight(baseURL, "/") + "/booking-response?" + q.Encode()
}

func (c Config) local(t time.Time) time.Time {
	if c.Location == nil {
		return t
	}
	return t.In(c.Location)
}

func (c Config) when(t time.Time) string {
	return c.local(t).Format("Monday 2 January 2006, 3:04 PM")
}

func (c Config) footer() string {
	if c.SupportPhone == "" {
		return c.BrandName
	}
	return fmt.Sprintf("%s · Questions? Call %s", c.BrandName, c.SupportPhone)
}

func serviceName(b *booking.Booking) string {
	if b.ServiceName == "" {
		return "Massage Service"
	}
	return b.ServiceName
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func money(cents int64) string {
	if cents <= 0 {
		return "TBD"
	}
	return fmt.Sprintf("$%d.%02d", cents/100, cents%100)
}

func bookingRows(c Config, b *booking.Booking) []detailRow {
	return []detailRow{
		{"Booking", b.Code},
		{"Service", serviceName(b)},
		{"Duration", fmt.Sprintf("%d minutes", b.DurationMinutes)},
		{"Date & time", c.when(b.StartsAt)},
		{"Address", b.Address},
	}
}

func render(content emailContent) (string, error) {
	var buf bytes.Buffer
	if err := emailHTML.Execute(&buf, content); err != nil {
		return "", fmt.Errorf("notify: render email: %w", err)
	}
	return buf.String(), nil
}

func plainText(content emailContent) string {
	var sb strings.Builder
	sb.WriteString(content.Intro)
	sb.WriteString("\n\n")
	for _, r := range content.Rows {
		fmt.Fprintf(&sb, "%s: %s\n", r.Label, r.Value)
	}
	if content.AcceptURL != "" {
		fmt.Fprintf(&sb, "\nAccept: %s\nDecline: %s\n", content.AcceptURL, content.DeclineURL)
	}
	sb.WriteString("\n")
	sb.WriteString(content.Footer)
	return sb.String()
}

func buildEmail(to, toName, subject string, content emailContent) (EmailMessage, error) {
	html, err := render(content)
	if err != nil {
		return EmailMessage{}, err
	}
	return EmailMessage{To: to, ToName: toName, Subject: subject, Body: plainText(content), HTML: html}, nil
}

func therapistRequestContent(c Config, b *booking.Booking, t *therapists.Therapist, deadline time.Time) emailContent {
	rows := []detailRow{
		{"Booking", b.Code},
		{"Client", b.CustomerName()},
		{"Client phone", orDefault(b.CustomerPhone, "Not provided")},
		{"Service", serviceName(b)},
		{"Duration", fmt.Sprintf("%d minutes", b.DurationMinutes)},
		{"Date & time", c.when(b.StartsAt)},
		{"Address", b.Address},
		{"Business", orDefault(b.BusinessName, "Private Residence")},
		{"Room", orDefault(b.RoomNumber, "N/A")},
		{"Booker", orDefault(b.BookerName, "N/A")},
		{"Notes", orDefault(b.Notes, "No special notes")},
		{"Your fee", money(b.TherapistFeeCents)},
		{"Respond by", c.local(deadline).Format("3:04 PM Mon 2 Jan")},
	}
	return emailContent{
		Title:      "New Booking Request",
		Intro:      fmt.Sprintf("Hi %s, a client has requested a %s. Please accept or decline before %s.", t.FirstName, serviceName(b), c.local(deadline).Format("3:04 PM")),
		Rows:       rows,
		AcceptURL:  ResponseURL(c.BaseURL, "accept", b.Code, t.ID),
		DeclineURL: ResponseURL(c.BaseURL, "decline", b.Code, t.ID),
		Footer:     c.footer(),
	}
}

func therapistRequestSMS(c Config, b *booking.Booking, deadline time.Time) string {
	return fmt.Sprintf("%s: new booking %s. %s %d min, %s at %s. Fee %s. Reply ACCEPT %s or DECLINE %s by %s.",
		c.BrandName, b.Code, serviceName(b), b.DurationMinutes, c.local(b.StartsAt).Format("Mon 2 Jan 3:04 PM"),
		b.Address, money(b.TherapistFeeCents), b.Code, b.Code, c.local(deadline).Format("3:04 PM"))
}
