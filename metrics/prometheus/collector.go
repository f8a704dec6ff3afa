// Package prometheus exports engine metrics through client_golang.
package prometheus

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c0deZ3R0/go-offline-kit/synckit"
)

const namespace = "offlinekit"

// Collector implements synckit.ExecutorMetricsCollector.
type Collector struct {
	registry *prometheus.Registry

	syncDuration    *prometheus.HistogramVec
	resourceSyncs   *prometheus.CounterVec
	resourceRecords *prometheus.GaugeVec
	actionOutcomes  *prometheus.CounterVec
	queuePending    prometheus.Gauge
	queueFailed     prometheus.Gauge
	syncErrors      *prometheus.CounterVec
	openConflicts   prometheus.Gauge
	requests        *prometheus.HistogramVec
}

var _ synckit.ExecutorMetricsCollector = (*Collector)(nil)

// NewCollector registers every metric on a fresh registry, which also
// carries the Go runtime and process collectors.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c, err := NewCollectorWith(reg)
	if err != nil {
		// fresh registry, names cannot collide
		panic(err)
	}
	return c
}

// NewCollectorWith registers the engine metrics on reg.
func NewCollectorWith(reg *prometheus.Registry) (*Collector, error) {
	c := &Collector{
		registry: reg,
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of engine operations (cycle, drain, sync).",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		resourceSyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resource_syncs_total",
			Help:      "Resource fetches by type and result.",
		}, []string{"resource", "result"}),
		resourceRecords: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resource_records",
			Help:      "Records cached by the last successful fetch of each type.",
		}, []string{"resource"}),
		actionOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_outcomes_total",
			Help:      "Replayed offline actions by kind and outcome.",
		}, []string{"kind", "outcome"}),
		queuePending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_pending_actions",
			Help:      "Actions waiting to be replayed.",
		}),
		queueFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_failed_actions",
			Help:      "Actions that exhausted their retries.",
		}),
		syncErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors by operation and type.",
		}, []string{"operation", "type"}),
		openConflicts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_conflicts",
			Help:      "Records whose local edit diverged from the server.",
		}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Remote API requests by method, endpoint and outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "endpoint", "outcome"}),
	}

	for _, col := range []prometheus.Collector{
		c.syncDuration, c.resourceSyncs, c.resourceRecords, c.actionOutcomes,
		c.queuePending, c.queueFailed, c.syncErrors, c.openConflicts, c.requests,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) RecordSyncDuration(operation string, duration time.Duration) {
	c.syncDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (c *Collector) RecordResourceSync(resource string, success bool, records int) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.resourceSyncs.WithLabelValues(resource, result).Inc()
	if success {
		c.resourceRecords.WithLabelValues(resource).Set(float64(records))
	}
}

func (c *Collector) RecordActionOutcome(kind string, outcome string) {
	c.actionOutcomes.WithLabelValues(kind, outcome).Inc()
}

func (c *Collector) RecordQueueDepth(pending, failed int) {
	c.queuePending.Set(float64(pending))
	c.queueFailed.Set(float64(failed))
}

func (c *Collector) RecordSyncErrors(operation string, errorType string) {
	c.syncErrors.WithLabelValues(operation, errorType).Inc()
}

func (c *Collector) RecordConflicts(open int) {
	c.openConflicts.Set(float64(open))
}

func (c *Collector) RecordRequest(method, endpoint, outcome string, duration time.Duration) {
	c.requests.WithLabelValues(method, endpoint, outcome).Observe(duration.Seconds())
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
