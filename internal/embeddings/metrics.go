package embeddings

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments embedding generation.
type Metrics struct {
	duration  *prometheus.HistogramVec
	batchSize *prometheus.HistogramVec
	errors    *prometheus.CounterVec
}

// NewMetrics registers embedding metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		duration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fathomd",
			Subsystem: "embedding",
			Name:      "generation_duration_seconds",
			Help:      "Duration of embedding generation, labeled by model and operation.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"model", "operation"}),
		batchSize: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fathomd",
			Subsystem: "embedding",
			Name:      "batch_size",
			Help:      "Number of texts per embedding request.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		}, []string{"model", "operation"}),
		errors: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "fathomd",
			Subsystem: "embedding",
			Name:      "errors_total",
			Help:      "Embedding generation errors by model and operation.",
		}, []string{"model", "operation"}),
	}
}

// NopMetrics returns metrics bound to a private registry, for callers that
// do not export them.
func NopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

func (m *Metrics) observe(model, operation string, d time.Duration, batch int, err error) {
	m.duration.WithLabelValues(model, operation).Observe(d.Seconds())
	if batch > 0 {
		m.batchSize.WithLabelValues(model, operation).Observe(float64(batch))
	}
	if err != nil {
		m.errors.WithLabelValues(model, operation).Inc()
	}
}
