package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// DeferredMetrics contains Prometheus metrics for the background task runner.
type DeferredMetrics struct {
	Spawned    prometheus.Counter
	Completed  prometheus.Counter
	Failed     prometheus.Counter
	Overflowed prometheus.Counter
	QueueDepth prometheus.Gauge
}

// NewDeferredMetrics creates and registers the deferred runner metrics.
func NewDeferredMetrics(registry *prometheus.Registry) (*DeferredMetrics, error) {
	m := &DeferredMetrics{
		Spawned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deferred_tasks_spawned_total",
			Help: "Total number of background tasks spawned.",
		}),
		Completed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deferred_tasks_completed_total",
			Help: "Total number of background tasks that completed without error.",
		}),
		Failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deferred_tasks_failed_total",
			Help: "Total number of background tasks that returned an error or panicked.",
		}),
		Overflowed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deferred_tasks_overflowed_total",
			Help: "Total number of tasks that bypassed the queue because it was full.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "deferred_queue_depth",
			Help: "Current number of tasks waiting in the queue.",
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register deferred metrics: %w", err)
	}
	return m, nil
}

// Describe implements prometheus.Collector.
func (m *DeferredMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.Spawned.Desc()
	ch <- m.Completed.Desc()
	ch <- m.Failed.Desc()
	ch <- m.Overflowed.Desc()
	ch <- m.QueueDepth.Desc()
}

// Collect implements prometheus.Collector.
func (m *DeferredMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.Spawned
	ch <- m.Completed
	ch <- m.Failed
	ch <- m.Overflowed
	ch <- m.QueueDepth
}
