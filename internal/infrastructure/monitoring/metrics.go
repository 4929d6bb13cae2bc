package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/turtacn/custody/internal/domain/service"
)

// Metrics manages the Prometheus metrics of the custody and envelope services.
type Metrics struct {
	Operations       *prometheus.CounterVec
	OperationLatency *prometheus.HistogramVec
	CacheAccesses    *prometheus.CounterVec
}

// NewMetrics creates the Prometheus metrics and registers them with reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Operations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of custody and envelope operations.",
			},
			[]string{"operation", "outcome"},
		),
		OperationLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Latency of custody and envelope operations.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		CacheAccesses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handle_cache_accesses_total",
				Help:      "Key handle cache lookups by result.",
			},
			[]string{"result"},
		),
	}
}

// RecordOperation records the outcome and latency of one operation.
func (m *Metrics) RecordOperation(operation, outcome string, duration time.Duration) {
	m.Operations.WithLabelValues(operation, outcome).Inc()
	m.OperationLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCacheAccess records a handle cache hit or miss.
func (m *Metrics) RecordCacheAccess(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheAccesses.WithLabelValues(result).Inc()
}

var _ service.Metrics = (*Metrics)(nil)

//Personal.AI order the ending
