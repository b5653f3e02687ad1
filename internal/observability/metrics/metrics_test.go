package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	close(ch)
	m := <-ch
	require.NotNil(t, m)
	var out dto.Metric
	require.NoError(t, m.Write(&out))
	return out.GetCounter().GetValue()
}

func TestDispatchMetricsObserve(t *testing.T) {
	m := NewDispatchMetrics(nil)
	m.ObserveResponse("accept", "link", "accepted")
	m.ObserveTransition("requested", "confirmed")
	m.ObserveSweepOutcome("final_decline", false)
	m.ObserveSweepDuration(250 * time.Millisecond)
	m.ObserveNotification("client_confirmed", nil)
	m.ObserveSMSInbound("accept", "ok")
	m.ObserveWebhookLatency("accept", 0.5)
}

func TestDispatchMetricsCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewDispatchMetrics(reg)

	m.ObserveNotification("therapist_request", errors.New("smtp down"))
	m.ObserveNotification("therapist_request", errors.New("smtp down"))
	m.ObserveNotification("therapist_request", nil)

	assert.Equal(t, 2.0, counterValue(t, m.notificationsTotal.WithLabelValues("therapist_request", "failed")))
	assert.Equal(t, 1.0, counterValue(t, m.notificationsTotal.WithLabelValues("therapist_request", "sent")))

	m.ObserveSweepOutcome("reassigned_to_multiple", true)
	assert.Equal(t, 1.0, counterValue(t, m.sweepOutcomesTotal.WithLabelValues("reassigned_to_multiple", "error")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "booking_dispatch_notify_notifications_total")
}

func TestDispatchMetricsNilSafe(t *testing.T) {
	var m *DispatchMetrics
	m.ObserveResponse("accept", "sms", "conflict")
	m.ObserveTransition("requested", "declined")
	m.ObserveSweepOutcome("skipped", false)
	m.ObserveSweepDuration(time.Second)
	m.ObserveNotification("client_declined", nil)
	m.ObserveSMSInbound("help", "ok")
	m.ObserveWebhookLatency("help", 0.1)
}
