// Package observability exports model, view and object storage metrics to
// Prometheus.
package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gemini/internal/model"
)

const namespace = "gemini"

// Metrics holds the collectors on a private registry. It implements
// model.Observer and objectstore.Observer.
type Metrics struct {
	registry *prometheus.Registry

	operations  *prometheus.CounterVec
	durations   *prometheus.HistogramVec
	bulkRows    *prometheus.CounterVec
	refreshes   *prometheus.HistogramVec
	uploads     *prometheus.CounterVec
	exportsDone *prometheus.CounterVec
}

// NewMetrics registers every collector on a fresh registry.
func NewMetrics() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_operations_total",
			Help:      "Model operations by table, operation and status.",
		}, []string{"table", "operation", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_operation_duration_seconds",
			Help:      "Model operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"table", "operation"}),
		bulkRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_rows_total",
			Help:      "Rows offered to bulk inserts by outcome.",
		}, []string{"table", "outcome"}),
		refreshes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "view_refresh_duration_seconds",
			Help:      "Materialized view refresh latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"view"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objectstore_uploads_total",
			Help:      "Object uploads by outcome.",
		}, []string{"outcome"}),
		exportsDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exports_total",
			Help:      "Finished record exports by status.",
		}, []string{"status"}),
	}
	all := []prometheus.Collector{
		m.operations, m.durations, m.bulkRows, m.refreshes, m.uploads, m.exportsDone,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, c := range all {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return m, nil
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveOperation counts one model operation. The status label is "ok" or
// the error kind.
func (m *Metrics) ObserveOperation(table, op string, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = string(model.KindOf(err))
	}
	m.operations.WithLabelValues(table, op, status).Inc()
	m.durations.WithLabelValues(table, op).Observe(elapsed.Seconds())
}

// ObserveBulk counts accepted and skipped bulk rows.
func (m *Metrics) ObserveBulk(table string, accepted, skipped int) {
	m.bulkRows.WithLabelValues(table, "accepted").Add(float64(accepted))
	m.bulkRows.WithLabelValues(table, "skipped").Add(float64(skipped))
}

// ObserveRefresh records a view refresh; failures are counted as operations.
func (m *Metrics) ObserveRefresh(view string, elapsed time.Duration, err error) {
	m.refreshes.WithLabelValues(view).Observe(elapsed.Seconds())
	if err != nil {
		m.operations.WithLabelValues(view, "refresh", string(model.KindOf(err))).Inc()
	}
}

// ObserveUpload counts one upload outcome.
func (m *Metrics) ObserveUpload(outcome string) {
	m.uploads.WithLabelValues(outcome).Inc()
}

// ObserveExport counts one finished export.
func (m *Metrics) ObserveExport(status string) {
	m.exportsDone.WithLabelValues(status).Inc()
}
