// Package metric provides prometheus instrumentation for backend storage
// operations and a small HTTP server exposing them.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StorageMetrics contains the storage-layer metrics.
type StorageMetrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	BackendUp         *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewStorageMetrics creates the metric set on a dedicated registry.
func NewStorageMetrics() *StorageMetrics {
	m := &StorageMetrics{
		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "codepush",
				Subsystem: "storage",
				Name:      "operations_total",
				Help:      "Total backend storage operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "codepush",
				Subsystem: "storage",
				Name:      "operation_duration_seconds",
				Help:      "Backend storage operation latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		BackendUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "codepush",
				Subsystem: "storage",
				Name:      "backend_up",
				Help:      "Backend connectivity (1=healthy, 0=unhealthy)",
			},
			[]string{"backend"},
		),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(m.OperationsTotal, m.OperationDuration, m.BackendUp)
	return m
}

// Registry returns the prometheus registry holding the storage metrics.
func (m *StorageMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Observe records one backend operation outcome.
func (m *StorageMetrics) Observe(operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.OperationsTotal.WithLabelValues(operation, status).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// SetBackendUp records backend connectivity from a health check.
func (m *StorageMetrics) SetBackendUp(backend string, up bool) {
	v := 0.0
	if up {
		v = 1.0
	}
	m.BackendUp.WithLabelValues(backend).Set(v)
}
