package outbox

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsSink receives outbox processing events. The processor depends only
// on this interface, not on any global metrics registry, so a caller that
// doesn't want Prometheus can pass NoopMetrics and a caller that does can
// pass PrometheusMetrics or its own adapter.
type MetricsSink interface {
	BatchPublished(topic, publisher string, count int, duration time.Duration)
	BatchFailed(topic, publisher string, count int)
	PairFailed(topic, publisher string)
}

// NoopMetrics discards everything; the default when no sink is configured.
type NoopMetrics struct{}

func (NoopMetrics) BatchPublished(topic, publisher string, count int, duration time.Duration) {}
func (NoopMetrics) BatchFailed(topic, publisher string, count int)                            {}
func (NoopMetrics) PairFailed(topic, publisher string)                                         {}

// PrometheusMetrics is a MetricsSink backed by prometheus/client_golang
// vector metrics, registered against the supplied registerer so a caller
// embedding the outbox in a larger service controls where metrics surface.
type PrometheusMetrics struct {
	published *prometheus.CounterVec
	failed    *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	pairsDown *prometheus.CounterVec
}

// NewPrometheusMetrics registers the outbox's metric vectors against reg and
// returns a ready-to-use sink.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dcb_outbox_events_published_total",
			Help: "Total number of events successfully published by the outbox.",
		}, []string{"topic", "publisher"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dcb_outbox_events_failed_total",
			Help: "Total number of events the outbox failed to publish.",
		}, []string{"topic", "publisher"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dcb_outbox_publish_duration_seconds",
			Help:    "Time taken to publish one batch.",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic", "publisher"}),
		pairsDown: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dcb_outbox_pairs_failed_total",
			Help: "Total number of (topic,publisher) pairs that transitioned to FAILED.",
		}, []string{"topic", "publisher"}),
	}
	reg.MustRegister(m.published, m.failed, m.duration, m.pairsDown)
	return m
}

func (m *PrometheusMetrics) BatchPublished(topic, publisher string, count int, duration time.Duration) {
	m.published.WithLabelValues(topic, publisher).Add(float64(count))
	m.duration.WithLabelValues(topic, publisher).Observe(duration.Seconds())
}

func (m *PrometheusMetrics) BatchFailed(topic, publisher string, count int) {
	m.failed.WithLabelValues(topic, publisher).Add(float64(count))
}

func (m *PrometheusMetrics) PairFailed(topic, publisher string) {
	m.pairsDown.WithLabelValues(topic, publisher).Inc()
}
