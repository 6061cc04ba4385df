// Package metrics provides custom Prometheus metrics for the cardex-go
// subsystems.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// CacheMetrics contains Prometheus metrics for the content-addressed cache
// tiers. Hits and misses are labeled by tier so the independent freshness
// rules can be observed separately.
type CacheMetrics struct {
	Hits   *prometheus.CounterVec
	Misses *prometheus.CounterVec
	Writes *prometheus.CounterVec
}

// NewCacheMetrics creates and registers the cache tier metrics.
func NewCacheMetrics(registry *prometheus.Registry) (*CacheMetrics, error) {
	m := &CacheMetrics{
		Hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cachestore_hits_total",
			Help: "Total number of fresh cache hits per tier.",
		}, []string{"tier"}),
		Misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cachestore_misses_total",
			Help: "Total number of cache misses (including stale hits) per tier.",
		}, []string{"tier"}),
		Writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cachestore_writes_total",
			Help: "Total number of cache writes per tier.",
		}, []string{"tier"}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register cache metrics: %w", err)
	}
	return m, nil
}

// Describe implements prometheus.Collector.
func (m *CacheMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Hits.Describe(ch)
	m.Misses.Describe(ch)
	m.Writes.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *CacheMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Hits.Collect(ch)
	m.Misses.Collect(ch)
	m.Writes.Collect(ch)
}
