package messaging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hookURL = "https://book.example.com/webhooks/twilio/sms"

func signedRequest(t *testing.T, form url.Values, token string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/sms", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", ComputeTwilioSignature(hookURL, form, token))
	return req
}

func TestValidateTwilioSignature(t *testing.T) {
	form := url.Values{"From": {"+61400000001"}, "Body": {"ACCEPT RMM241089ab"}, "MessageSid": {"SM1"}}

	assert.True(t, ValidateTwilioSignature(signedRequest(t, form, "secret"), "secret", hookURL))
	assert.False(t, ValidateTwilioSignature(signedRequest(t, form, "other"), "secret", hookURL))

	unsigned := signedRequest(t, form, "secret")
	unsigned.Header.Del("X-Twilio-Signature")
	assert.False(t, ValidateTwilioSignature(unsigned, "secret", hookURL))
}

func TestParseTwilioWebhook(t *testing.T) {
	form := url.Values{"From": {"+61400000001"}, "To": {"+61255550000"}, "Body": {" decline rmm241089AB "}, "MessageSid": {"SM1"}}
	got, err := ParseTwilioWebhook(signedRequest(t, form, "secret"))
	require.NoError(t, err)
	assert.Equal(t, "SM1", got.MessageSid)
	assert.Equal(t, "+61400000001", got.From)

	_, err = ParseTwilioWebhook(signedRequest(t, url.Values{"Body": {"hi"}}, "secret"))
	assert.Error(t, err)
}

func TestTwiML(t *testing.T) {
	out, err := TwiML("Booking RMM241089ab confirmed & yours")
	require.NoError(t, err)
	assert.Contains(t, string(out), "<Response><Message>Booking RMM241089ab confirmed &amp; yours</Message></Response>")

	out, err = TwiML("")
	require.NoError(t, err)
	assert.Contains(t, string(out), "<Response></Response>")
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		body string
		want Command
		ok   bool
	}{
		{"ACCEPT RMM241089ab", Command{ActionAccept, "RMM241089ab"}, true},
		{"  decline rmm241089AB  ", Command{ActionDecline, "RMM241089ab"}, true},
		{"Yes RMM241089ab.", Command{ActionAccept, "RMM241089ab"}, true},
		{"ACCEPT", Command{}, false},
		{"maybe RMM241089ab", Command{}, false},
		{"accept RMM241089ab please", Command{}, false},
		{"", Command{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			got, ok := ParseCommand(tt.body)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Contains(t, HelpText("Rejuvenators"), "ACCEPT <booking code>")
}

func TestDeduper(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	d := NewDeduper(client, time.Hour)
	ctx := context.Background()

	first, err := d.FirstSeen(ctx, "SM1")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := d.FirstSeen(ctx, "SM1")
	require.NoError(t, err)
	assert.False(t, again)
	assert.Equal(t, time.Hour, mr.TTL("sms:inbound:SM1"))

	require.NoError(t, d.Forget(ctx, "SM1"))
	first, err = d.FirstSeen(ctx, "SM1")
	require.NoError(t, err)
	assert.True(t, first)

	var noop *Deduper
	first, err = noop.FirstSeen(ctx, "SM2")
	require.NoError(t, err)
	assert.True(t, first)
}
