// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "speech_tone"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsCreated prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionsEvicted prometheus.Counter

	// Message metrics
	FragmentsTotal    prometheus.Counter
	FragmentsRejected *prometheus.CounterVec
	PreviewsTotal     prometheus.Counter
	FinalsTotal       prometheus.Counter
	UnknownEvents     *prometheus.CounterVec
	MessagesRejected  *prometheus.CounterVec

	// Latency from end of speech to final output
	FinalLatency prometheus.Histogram

	// Stream metrics
	StreamsTotal   prometheus.Counter
	StreamsActive  prometheus.Gauge
	StreamsSuccess prometheus.Counter
	StreamsFailed  prometheus.Counter
	StreamDuration prometheus.Histogram

	// Kafka metrics
	KafkaConsumedTotal  *prometheus.CounterVec
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// Session metrics
		SessionsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Total number of utterance sessions created",
		}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of utterance sessions currently buffering",
		}),
		SessionsEvicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_evicted_total",
			Help:      "Total number of idle sessions evicted without SESSION_END",
		}),

		// Message metrics
		FragmentsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_total",
			Help:      "Total number of FRAGMENT messages buffered",
		}),
		FragmentsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_rejected_total",
			Help:      "Total number of FRAGMENT messages refused by the session store",
		}, []string{"reason"}),
		PreviewsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "previews_total",
			Help:      "Total number of PREVIEW messages emitted",
		}),
		FinalsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finals_total",
			Help:      "Total number of FINAL messages emitted",
		}),
		UnknownEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unknown_events_total",
			Help:      "Total number of ignored messages by event tag",
		}, []string{"event"}),
		MessagesRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_rejected_total",
			Help:      "Total number of malformed messages rejected at the boundary",
		}, []string{"source", "reason"}),

		FinalLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "final_latency_milliseconds",
			Help:      "Time from end of speech to FINAL output in milliseconds",
			Buckets:   []float64{10, 25, 50, 100, 200, 300, 500, 1000, 2000, 5000},
		}),

		// Stream metrics
		StreamsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_total",
			Help:      "Total number of gRPC streams started",
		}),
		StreamsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_active",
			Help:      "Number of currently active gRPC streams",
		}),
		StreamsSuccess: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_success_total",
			Help:      "Total number of successfully completed streams",
		}),
		StreamsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_failed_total",
			Help:      "Total number of failed streams",
		}),
		StreamDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stream_duration_seconds",
			Help:      "Duration of gRPC streams in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),

		// Kafka metrics
		KafkaConsumedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_consumed_total",
			Help:      "Total number of Kafka messages consumed",
		}, []string{"topic"}),
		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// RecordSessionCreated records a new session being registered.
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionRemoved records a session freed after finalization.
func (m *Metrics) RecordSessionRemoved() {
	m.SessionsActive.Dec()
}

// RecordSessionsEvicted records sessions freed by the janitor.
func (m *Metrics) RecordSessionsEvicted(n int) {
	m.SessionsEvicted.Add(float64(n))
	m.SessionsActive.Sub(float64(n))
}

// RecordFragment records a buffered fragment.
func (m *Metrics) RecordFragment() {
	m.FragmentsTotal.Inc()
}

// RecordFragmentRejected records a fragment refused by the store.
func (m *Metrics) RecordFragmentRejected(reason string) {
	m.FragmentsRejected.WithLabelValues(reason).Inc()
}

// RecordPreview records an emitted preview.
func (m *Metrics) RecordPreview() {
	m.PreviewsTotal.Inc()
}

// RecordFinal records an emitted final.
func (m *Metrics) RecordFinal() {
	m.FinalsTotal.Inc()
}

// RecordUnknownEvent records an ignored message.
func (m *Metrics) RecordUnknownEvent(event string) {
	m.UnknownEvents.WithLabelValues(event).Inc()
}

// RecordMessageRejected records a message that failed boundary validation.
func (m *Metrics) RecordMessageRejected(source, reason string) {
	m.MessagesRejected.WithLabelValues(source, reason).Inc()
}

// RecordFinalLatency records end-of-speech to final latency.
func (m *Metrics) RecordFinalLatency(ms float64) {
	m.FinalLatency.Observe(ms)
}

// RecordStreamStart records a new stream starting.
func (m *Metrics) RecordStreamStart() {
	m.StreamsTotal.Inc()
	m.StreamsActive.Inc()
}

// RecordStreamEnd records a stream ending.
func (m *Metrics) RecordStreamEnd(success bool, durationSeconds float64) {
	m.StreamsActive.Dec()
	m.StreamDuration.Observe(durationSeconds)
	if success {
		m.StreamsSuccess.Inc()
	} else {
		m.StreamsFailed.Inc()
	}
}

// RecordKafkaConsumed records a message read from Kafka.
func (m *Metrics) RecordKafkaConsumed(topic string) {
	m.KafkaConsumedTotal.WithLabelValues(topic).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}
