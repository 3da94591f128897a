package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "linemonitor_"

	resultSuccess = "success"
	resultError   = "error"
	resultDropped = "dropped"
)

// Metrics bundles the collectors of both monitoring processes.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	samplesTotal      *prometheus.CounterVec
	lineVoltage       *prometheus.GaugeVec
	eventsTotal       *prometheus.CounterVec
	publishErrors     *prometheus.CounterVec
	markerErrors      *prometheus.CounterVec
	messagesReceived  *prometheus.CounterVec
	messagesDiscarded prometheus.Counter
	reconnectsTotal   prometheus.Counter
	notifications     *prometheus.CounterVec
	notifyLatency     *prometheus.HistogramVec
	inFailure         prometheus.Gauge
}

// New constructs and registers metrics on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		samplesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "samples_total",
				Help: "Total meter polls by result",
			},
			[]string{"result"},
		),
		lineVoltage: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "line_voltage_volts",
				Help: "Most recent averaged voltage by line",
			},
			[]string{"line"},
		),
		eventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "events_total",
				Help: "Total published events by kind and line",
			},
			[]string{"kind", "line"},
		),
		publishErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "publish_errors_total",
				Help: "Total failed event sends by transport",
			},
			[]string{"transport"},
		),
		markerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "marker_errors_total",
				Help: "Total marker file failures by operation",
			},
			[]string{"op"},
		),
		messagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "messages_received_total",
				Help: "Total decoded wire messages by kind",
			},
			[]string{"kind"},
		),
		messagesDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "messages_discarded_total",
			Help: "Total wire messages that could not be decoded",
		}),
		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "subscriber_reconnects_total",
			Help: "Total event channel re-subscriptions",
		}),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "notifications_total",
				Help: "Total notifications by kind and result",
			},
			[]string{"kind", "result"},
		),
		notifyLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "notification_latency_seconds",
				Help:    "Notification send latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		inFailure: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "in_failure",
			Help: "1 while an outage notification is open",
		}),
	}
	reg.MustRegister(
		m.samplesTotal,
		m.lineVoltage,
		m.eventsTotal,
		m.publishErrors,
		m.markerErrors,
		m.messagesReceived,
		m.messagesDiscarded,
		m.reconnectsTotal,
		m.notifications,
		m.notifyLatency,
		m.inFailure,
	)
	return m
}

// IncSample records a meter poll result.
func (m *Metrics) IncSample(result string) {
	if m == nil {
		return
	}
	if result == "" {
		result = resultSuccess
	}
	m.samplesTotal.WithLabelValues(result).Inc()
}

// SetLineVoltage records the latest averaged voltage of a line.
func (m *Metrics) SetLineVoltage(line string, volts float64) {
	if m == nil {
		return
	}
	m.lineVoltage.WithLabelValues(line).Set(volts)
}

// IncEvent counts a published event.
func (m *Metrics) IncEvent(kind, line string) {
	if m == nil {
		return
	}
	if line == "" {
		line = "none"
	}
	m.eventsTotal.WithLabelValues(kind, line).Inc()
}

// IncPublishError counts a failed send on a transport.
func (m *Metrics) IncPublishError(transport string) {
	if m == nil {
		return
	}
	m.publishErrors.WithLabelValues(transport).Inc()
}

// IncMarkerError counts a marker file failure.
func (m *Metrics) IncMarkerError(op string) {
	if m == nil {
		return
	}
	m.markerErrors.WithLabelValues(op).Inc()
}

// IncMessage counts a decoded wire message.
func (m *Metrics) IncMessage(kind string) {
	if m == nil {
		return
	}
	m.messagesReceived.WithLabelValues(kind).Inc()
}

// IncDiscarded counts an undecodable wire message.
func (m *Metrics) IncDiscarded() {
	if m == nil {
		return
	}
	m.messagesDiscarded.Inc()
}

// IncReconnect counts an event channel re-subscription.
func (m *Metrics) IncReconnect() {
	if m == nil {
		return
	}
	m.reconnectsTotal.Inc()
}

// ObserveNotification records a notification result and its latency.
func (m *Metrics) ObserveNotification(kind, result string, duration time.Duration) {
	if m == nil {
		return
	}
	if result == "" {
		result = resultSuccess
	}
	m.notifications.WithLabelValues(kind, result).Inc()
	if result != resultDropped {
		m.notifyLatency.WithLabelValues(kind).Observe(duration.Seconds())
	}
}

// SetInFailure mirrors the notification-side failure marker.
func (m *Metrics) SetInFailure(open bool) {
	if m == nil {
		return
	}
	if open {
		m.inFailure.Set(1)
		return
	}
	m.inFailure.Set(0)
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
	ResultDropped = resultDropped
)
