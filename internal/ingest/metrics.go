package ingest

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments ingest jobs.
type Metrics struct {
	jobDuration  *prometheus.HistogramVec
	chunks       prometheus.Counter
	fileFailures prometheus.Counter
	batchDrops   prometheus.Counter
}

// NewMetrics registers ingest metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		jobDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fathomd",
			Subsystem: "ingest",
			Name:      "job_duration_seconds",
			Help:      "Duration of ingest jobs, labeled by source type and final status.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 1800},
		}, []string{"source_type", "status"}),
		chunks: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "fathomd",
			Subsystem: "ingest",
			Name:      "chunks_indexed_total",
			Help:      "Chunks embedded and upserted.",
		}),
		fileFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "fathomd",
			Subsystem: "ingest",
			Name:      "file_failures_total",
			Help:      "Files skipped because they could not be read or chunked.",
		}),
		batchDrops: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "fathomd",
			Subsystem: "ingest",
			Name:      "batch_drops_total",
			Help:      "Chunk batches discarded after embed or upsert failure.",
		}),
	}
}

// NopMetrics returns metrics bound to a private registry, for callers that
// do not export them.
func NopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

func (m *Metrics) jobDone(sourceType, status string, d time.Duration) {
	m.jobDuration.WithLabelValues(sourceType, status).Observe(d.Seconds())
}

func (m *Metrics) chunksIndexed(n int) { m.chunks.Add(float64(n)) }
func (m *Metrics) fileFailed()         { m.fileFailures.Inc() }
func (m *Metrics) batchFailed()        { m.batchDrops.Inc() }
