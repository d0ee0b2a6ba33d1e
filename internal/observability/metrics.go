package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the gateway.
type Metrics struct {
	SessionEvents     *prometheus.CounterVec
	SceneMessages     *prometheus.CounterVec
	ConnectFailures   *prometheus.CounterVec
	TranscriptEntries *prometheus.CounterVec
	SignalUpdates     *prometheus.CounterVec
	SignalsSuppressed *prometheus.CounterVec
	CallQuality       *prometheus.GaugeVec
	KeepAliveFailures prometheus.Counter
	UnknownMessages   prometheus.Counter
	MalformedPayloads *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		SceneMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scene_messages_total",
			Help:      "Inbound persona server messages by kind.",
		}, []string{"name"}),
		ConnectFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_failures_total",
			Help:      "Failed connection attempts by classified kind.",
		}, []string{"kind"}),
		TranscriptEntries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_entries_total",
			Help:      "Transcript entries appended by source.",
		}, []string{"source"}),
		SignalUpdates: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signal_updates_total",
			Help:      "User signal state updates emitted by block.",
		}, []string{"block"}),
		SignalsSuppressed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_suppressed_total",
			Help:      "User signal updates suppressed as unchanged by block.",
		}, []string{"block"}),
		CallQuality: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "call_quality",
			Help:      "Latest call-quality statistic by media kind and stat.",
		}, []string{"media", "stat"}),
		KeepAliveFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keepalive_failures_total",
			Help:      "Keepalive calls that returned an error.",
		}),
		UnknownMessages: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unknown_messages_total",
			Help:      "Inbound messages with an unrecognized kind.",
		}),
		MalformedPayloads: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_payloads_total",
			Help:      "Known-kind messages dropped for undecodable bodies.",
		}, []string{"name"}),
	}
}

// ObserveCallQuality exports one media kind's statistics to the gauges.
func (m *Metrics) ObserveCallQuality(media string, bitrate, packetsLost, roundTripTime float64) {
	m.CallQuality.WithLabelValues(media, "bitrate").Set(bitrate)
	m.CallQuality.WithLabelValues(media, "packets_lost").Set(packetsLost)
	m.CallQuality.WithLabelValues(media, "round_trip_time").Set(roundTripTime)
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
