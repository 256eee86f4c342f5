package query

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the query engine.
type Metrics struct {
	duration       prometheus.Histogram
	rerankDuration *prometheus.HistogramVec
	skips          prometheus.Counter
}

// NewMetrics registers query metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		duration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "fathomd",
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "End-to-end search latency.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		rerankDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fathomd",
			Subsystem: "query",
			Name:      "rerank_duration_seconds",
			Help:      "Cross-encoder rerank latency, labeled by outcome.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15},
		}, []string{"outcome"}),
		skips: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "fathomd",
			Subsystem: "query",
			Name:      "collections_skipped_total",
			Help:      "Collections skipped in fan-out after a search failure.",
		}),
	}
}

// NopMetrics returns metrics bound to a private registry, for callers that
// do not export them.
func NopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

func (m *Metrics) queryDone(d time.Duration) {
	m.duration.Observe(d.Seconds())
}

func (m *Metrics) rerankDone(d time.Duration, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.rerankDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) collectionSkipped() {
	m.skips.Inc()
}
