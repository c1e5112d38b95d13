// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ops_coordination"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Latency probe metrics
	ProbeRoundTrip prometheus.Histogram
	ProbeFailures  prometheus.Counter
	ProbeUnhealthy prometheus.Counter

	// Presence metrics
	HeartbeatWrites      prometheus.Counter
	HeartbeatWriteErrors prometheus.Counter
	RosterPolls          prometheus.Counter
	RosterPollErrors     prometheus.Counter
	RosterOnline         prometheus.Gauge

	// Readiness metrics
	ReadinessState       *prometheus.GaugeVec
	ReadinessTransitions *prometheus.CounterVec

	// Voice session metrics
	SessionsJoined     *prometheus.CounterVec
	SessionsDenied     prometheus.Counter
	SimulatedFallbacks prometheus.Counter
	TransmitRejected   prometheus.Counter

	// Command parser metrics
	CommandsParsed *prometheus.CounterVec

	// Event publish metrics
	PublishTotal   *prometheus.CounterVec
	PublishErrors  *prometheus.CounterVec
	PublishLatency *prometheus.HistogramVec

	// Stream metrics
	StreamClients prometheus.Gauge
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return newMetrics(prometheus.DefaultRegisterer)
}

// NewTestMetrics creates metrics on a throwaway registry so tests can
// construct components without double-registration panics.
func NewTestMetrics() *Metrics {
	return newMetrics(prometheus.NewRegistry())
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ProbeRoundTrip: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_round_trip_seconds",
			Help:      "Round-trip time of backend health probes",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.15, 0.2, 0.3, 0.5, 1, 2},
		}),
		ProbeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_failures_total",
			Help:      "Total number of failed or timed-out latency probes",
		}),
		ProbeUnhealthy: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_unhealthy_total",
			Help:      "Total number of probes classified unhealthy by round-trip time",
		}),

		HeartbeatWrites: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeat_writes_total",
			Help:      "Total number of presence heartbeat writes attempted",
		}),
		HeartbeatWriteErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeat_write_errors_total",
			Help:      "Total number of presence heartbeat writes that failed",
		}),
		RosterPolls: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "roster_polls_total",
			Help:      "Total number of presence roster reads",
		}),
		RosterPollErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "roster_poll_errors_total",
			Help:      "Total number of presence roster reads that failed",
		}),
		RosterOnline: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "roster_online_subjects",
			Help:      "Number of subjects currently inside the recency window",
		}),

		ReadinessState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "readiness_state",
			Help:      "Current readiness state (1 for the active state, 0 otherwise)",
		}, []string{"state"}),
		ReadinessTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readiness_transitions_total",
			Help:      "Total number of readiness state transitions",
		}, []string{"state"}),

		SessionsJoined: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_sessions_joined_total",
			Help:      "Total number of voice sessions established, by mode",
		}, []string{"mode"}),
		SessionsDenied: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_sessions_denied_total",
			Help:      "Total number of joins rejected for missing permission",
		}),
		SimulatedFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_simulated_fallbacks_total",
			Help:      "Total number of joins that fell back to simulated mode",
		}),
		TransmitRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_transmit_rejected_total",
			Help:      "Total number of push-to-talk attempts rejected by net discipline",
		}),

		CommandsParsed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_parsed_total",
			Help:      "Total number of utterances parsed, by match status",
		}, []string{"status"}),

		PublishTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_total",
			Help:      "Total number of coordination events published",
		}, []string{"topic", "event_type"}),
		PublishErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_errors_total",
			Help:      "Total number of event publish errors",
		}, []string{"topic", "event_type"}),
		PublishLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "event_publish_latency_seconds",
			Help:      "Event publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		StreamClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_clients",
			Help:      "Number of connected WebSocket stream clients",
		}),
	}
}

// RecordProbeSample records a completed latency probe.
func (m *Metrics) RecordProbeSample(seconds float64, healthy bool) {
	m.ProbeRoundTrip.Observe(seconds)
	if !healthy {
		m.ProbeUnhealthy.Inc()
	}
}

// RecordProbeFailure records a probe that errored or timed out.
func (m *Metrics) RecordProbeFailure() {
	m.ProbeFailures.Inc()
}

// RecordHeartbeatWrite records a presence write attempt.
func (m *Metrics) RecordHeartbeatWrite(err error) {
	m.HeartbeatWrites.Inc()
	if err != nil {
		m.HeartbeatWriteErrors.Inc()
	}
}

// RecordRosterPoll records a roster read attempt and, on success, the
// number of subjects inside the recency window.
func (m *Metrics) RecordRosterPoll(err error, online int) {
	m.RosterPolls.Inc()
	if err != nil {
		m.RosterPollErrors.Inc()
		return
	}
	m.RosterOnline.Set(float64(online))
}

// RecordReadiness records the active readiness state.
func (m *Metrics) RecordReadiness(state string, changed bool) {
	for _, s := range []string{"READY", "DEGRADED", "ALERT"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		m.ReadinessState.WithLabelValues(s).Set(v)
	}
	if changed {
		m.ReadinessTransitions.WithLabelValues(state).Inc()
	}
}

// RecordSessionJoined records an established session by mode.
func (m *Metrics) RecordSessionJoined(mode string) {
	m.SessionsJoined.WithLabelValues(mode).Inc()
}

// RecordSessionDenied records a permission-denied join.
func (m *Metrics) RecordSessionDenied() {
	m.SessionsDenied.Inc()
}

// RecordSimulatedFallback records a fallback to simulated mode.
func (m *Metrics) RecordSimulatedFallback() {
	m.SimulatedFallbacks.Inc()
}

// RecordTransmitRejected records a push-to-talk rejection.
func (m *Metrics) RecordTransmitRejected() {
	m.TransmitRejected.Inc()
}

// RecordCommandParsed records a parse result by status.
func (m *Metrics) RecordCommandParsed(status string) {
	m.CommandsParsed.WithLabelValues(status).Inc()
}

// RecordPublish records an event publish attempt.
func (m *Metrics) RecordPublish(topic, eventType string, err error, latencySeconds float64) {
	m.PublishTotal.WithLabelValues(topic, eventType).Inc()
	m.PublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.PublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordStreamClient tracks WebSocket client connect/disconnect.
func (m *Metrics) RecordStreamClient(connected bool) {
	if connected {
		m.StreamClients.Inc()
	} else {
		m.StreamClients.Dec()
	}
}
