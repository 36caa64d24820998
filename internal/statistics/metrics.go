package statistics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "photo_ingest"

// Metrics mirrors Statistics into Prometheus collectors. A nil *Metrics is a no-op.
type Metrics struct {
	uploads         *prometheus.CounterVec
	compressions    *prometheus.CounterVec
	duration        prometheus.Histogram
	bytes           *prometheus.CounterVec
	storageOps      *prometheus.CounterVec
	cleanupWarnings prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Uploads by validation result.",
		}, []string{"result"}),
		compressions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compressions_total",
			Help:      "Compressions by output format and result.",
		}, []string{"format", "result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "compression_duration_seconds",
			Help:      "Time spent compressing one image.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_total",
			Help:      "Bytes read from sources and written as compressed output.",
		}, []string{"direction"}),
		storageOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operations_total",
			Help:      "Storage backend operations by backend, operation and result.",
		}, []string{"backend", "op", "result"}),
		cleanupWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_warnings_total",
			Help:      "Temporary files that could not be removed.",
		}),
	}

	reg.MustRegister(m.uploads, m.compressions, m.duration, m.bytes, m.storageOps, m.cleanupWarnings)
	return m
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

func (m *Metrics) observeUpload(accepted bool) {
	if m == nil {
		return
	}
	label := "accepted"
	if !accepted {
		label = "rejected"
	}
	m.uploads.WithLabelValues(label).Inc()
}

func (m *Metrics) observeCompression(format string, in, out int64, d time.Duration) {
	if m == nil {
		return
	}
	m.compressions.WithLabelValues(format, result(true)).Inc()
	m.duration.Observe(d.Seconds())
	m.bytes.WithLabelValues("in").Add(float64(in))
	m.bytes.WithLabelValues("out").Add(float64(out))
}

func (m *Metrics) observeCompressionFailure() {
	if m == nil {
		return
	}
	m.compressions.WithLabelValues("", result(false)).Inc()
}

func (m *Metrics) observeStorage(backend, op string, err error) {
	if m == nil {
		return
	}
	m.storageOps.WithLabelValues(backend, op, result(err == nil)).Inc()
}

func (m *Metrics) observeCleanupWarning() {
	if m == nil {
		return
	}
	m.cleanupWarnings.Inc()
}
