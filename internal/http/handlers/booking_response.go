package handlers

import (
	"bytes"
	"html/template"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/rejuvenators/booking-dispatch/internal/arbiter"
	"github.com/rejuvenators/booking-dispatch/pkg/logging"
)

var responsePage = template.Must(template.New("response").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}} | {{.Brand}}</title>
<style>
body{font-family:Arial,Helvetica,sans-serif;background:#f4f4f4;margin:0;padding:24px;color:#333}
.card{max-width:520px;margin:40px auto;background:#fff;border-radius:8px;padding:32px;box-shadow:0 2px 8px rgba(0,0,0,.08)}
h1{font-size:22px;margin-top:0;color:{{if .Success}}#2e7d32{{else}}#c62828{{end}}}
.code{font-family:monospace;background:#f0f0f0;padding:2px 6px;border-radius:4px}
</style>
</head>
<body>
<div class="card">
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
{{if .Code}}<p>Booking reference: <span class="code">{{.Code}}</span></p>{{end}}
<p style="color:#888;font-size:13px">{{.Brand}}</p>
</div>
</body>
</html>
`))

type responseView struct {
	Brand   string
	Title   string
	Message string
	Code    string
	Success bool
}

// BookingResponseHandler serves the accept/decline links sent in therapist
// request emails.
type BookingResponseHandler struct {
	responder    Responder
	brand        string
	supportPhone string
	logger       *logging.Logger
}

func NewBookingResponseHandler(responder Responder, brand, supportPhone string, logger *logging.Logger) *BookingResponseHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &BookingResponseHandler{responder: responder, brand: brand, supportPhone: supportPhone, logger: logger}
}

// ServeHTTP handles GET /booking-response?action=&booking=&therapist=.
func (h *BookingResponseHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rawAction := strings.TrimSpace(q.Get("action"))
	code := strings.TrimSpace(q.Get("booking"))
	rawTherapist := strings.TrimSpace(q.Get("therapist"))
	if rawAction == "" || code == "" || rawTherapist == "" {
		h.render(w, http.StatusBadRequest, responseView{Title: "Invalid Request", Message: "This link is missing required information."})
		return
	}
	action, err := arbiter.ParseAction(rawAction)
	if err != nil {
		h.render(w, http.StatusBadRequest, responseView{Title: "Invalid Request", Message: "Unknown response action."})
		return
	}
	therapistID, err := uuid.Parse(rawTherapist)
	if err != nil {
		h.render(w, http.StatusBadRequest, responseView{Title: "Invalid Request", Message: "This link is not valid."})
		return
	}

	out, err := h.responder.Respond(r.Context(), arbiter.Response{
		BookingRef:  code,
		TherapistID: therapistID,
		Action:      action,
		Channel:     arbiter.ChannelLink,
	})
	if err != nil {
		status := statusFor(err)
		view := responseView{Title: "Unable to Process Response", Code: code}
		if reason, ok := arbiter.ReasonOf(err); ok {
			view.Message = reason
		} else {
			h.logger.Error("booking response failed", "booking_ref", code, "therapist_id", therapistID, "error", err)
			view.Message = "Something went wrong while recording your response. Please try again or contact support at " + h.supportPhone + "."
		}
		h.render(w, status, view)
		return
	}

	h.render(w, http.StatusOK, successView(out, code))
}

func successView(out arbiter.Outcome, code string) responseView {
	if out.Booking != nil && out.Booking.Code != "" {
		code = out.Booking.Code
	}
	v := responseView{Code: code, Success: true}
	switch out.Result {
	case arbiter.ResultAccepted:
		v.Title = "Booking Accepted Successfully!"
		v.Message = "Thank you. The booking is confirmed and the client has been notified."
	case arbiter.ResultDeclineRecorded:
		v.Title = "Response Recorded"
		v.Message = "Your decline has been recorded. Other therapists may still accept this booking."
	case arbiter.ResultReassigned:
		v.Title = "Booking Declined - Alternative Found"
		v.Message = "Thanks for letting us know. The booking has been offered to another therapist."
	default:
		v.Title = "Booking Declined"
		v.Message = "The booking has been declined and the client has been notified."
	}
	return v
}

func (h *BookingResponseHandler) render(w http.ResponseWriter, status int, v responseView) {
	v.Brand = h.brand
	var buf bytes.Buffer
	if err := responsePage.Execute(&buf, v); err != nil {
		h.logger.Error("render response page", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
