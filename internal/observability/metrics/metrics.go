package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "booking_dispatch"

// DispatchMetrics exposes counters/histograms for booking responses,
// escalation sweeps and outbound notifications.
type DispatchMetrics struct {
	responsesTotal     *prometheus.CounterVec
	transitionsTotal   *prometheus.CounterVec
	sweepOutcomesTotal *prometheus.CounterVec
	sweepDuration      prometheus.Histogram
	notificationsTotal *prometheus.CounterVec
	smsInboundTotal    *prometheus.CounterVec
	webhookLatency     *prometheus.HistogramVec
}

func NewDispatchMetrics(reg prometheus.Registerer) *DispatchMetrics {
	m := &DispatchMetrics{
		responsesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "arbiter",
			Name:      "responses_total",
			Help:      "Therapist responses by action, channel and result",
		}, []string{"action", "channel", "result"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "booking",
			Name:      "transitions_total",
			Help:      "Applied booking status transitions",
		}, []string{"from", "to"}),
		sweepOutcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "outcomes_total",
			Help:      "Escalation sweep outcomes by action",
		}, []string{"action", "status"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of one escalation sweep",
			Buckets:   prometheus.DefBuckets,
		}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "notifications_total",
			Help:      "Outbound notifications by kind and status",
		}, []string{"kind", "status"}),
		smsInboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sms",
			Name:      "inbound_webhook_total",
			Help:      "Inbound Twilio SMS webhooks",
		}, []string{"command", "status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sms",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of inbound SMS webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.responsesTotal, m.transitionsTotal, m.sweepOutcomesTotal, m.sweepDuration,
		m.notificationsTotal, m.smsInboundTotal, m.webhookLatency)
	return m
}

func (m *DispatchMetrics) ObserveResponse(action, channel, result string) {
	if m == nil {
		return
	}
	m.responsesTotal.WithLabelValues(action, channel, result).Inc()
}

func (m *DispatchMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

// ObserveSweepOutcome counts one booking handled by a sweep. status is "ok"
// or "error".
func (m *DispatchMetrics) ObserveSweepOutcome(action string, failed bool) {
	if m == nil {
		return
	}
	status := "ok"
	if failed {
		status = "error"
	}
	m.sweepOutcomesTotal.WithLabelValues(action, status).Inc()
}

func (m *DispatchMetrics) ObserveSweepDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(d.Seconds())
}

func (m *DispatchMetrics) ObserveNotification(kind string, err error) {
	if m == nil {
		return
	}
	status := "sent"
	if err != nil {
		status = "failed"
	}
	m.notificationsTotal.WithLabelValues(kind, status).Inc()
}

func (m *DispatchMetrics) ObserveSMSInbound(command, status string) {
	if m == nil {
		return
	}
	m.smsInboundTotal.WithLabelValues(command, status).Inc()
}

func (m *DispatchMetrics) ObserveWebhookLatency(command string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(command).Observe(seconds)
}
