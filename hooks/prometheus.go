package hooks

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics exports resize and variant cache metrics.
type PrometheusMetrics struct {
	stepDuration *prometheus.HistogramVec
	stepErrors   *prometheus.CounterVec
	bytes        prometheus.Counter
	variants     *prometheus.CounterVec
}

// NewPrometheusMetrics creates the collectors under namespace and registers
// them with reg.
func NewPrometheusMetrics(reg prometheus.Registerer, namespace string) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of resize operation steps.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"step"}),
		stepErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_errors_total",
			Help:      "Failed resize operation steps.",
		}, []string{"step", "category"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "written_bytes_total",
			Help:      "Bytes of encoded images committed to disk.",
		}),
		variants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "variants_total",
			Help:      "Variant cache outcomes.",
		}, []string{"outcome"}),
	}
	for _, c := range []prometheus.Collector{m.stepDuration, m.stepErrors, m.bytes, m.variants} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *PrometheusMetrics) RecordProcessingTime(stepName string, d interface{ Seconds() float64 }) {
	m.stepDuration.WithLabelValues(stepName).Observe(d.Seconds())
}

func (m *PrometheusMetrics) RecordThroughput(bytes int64) { m.bytes.Add(float64(bytes)) }

func (m *PrometheusMetrics) RecordError(stepName, category string) {
	m.stepErrors.WithLabelValues(stepName, category).Inc()
}

func (m *PrometheusMetrics) RecordVariant(outcome string) {
	m.variants.WithLabelValues(outcome).Inc()
}
