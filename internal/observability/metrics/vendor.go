package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// VendorMetrics contains Prometheus metrics for the pricing vendor client.
type VendorMetrics struct {
	APICalls        prometheus.Counter
	APIErrors       prometheus.Counter
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	RequestDuration prometheus.Histogram
}

// NewVendorMetrics creates and registers the vendor client metrics.
func NewVendorMetrics(registry *prometheus.Registry) (*VendorMetrics, error) {
	m := &VendorMetrics{
		APICalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vendor_api_calls_total",
			Help: "Total number of live vendor API calls.",
		}),
		APIErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vendor_api_errors_total",
			Help: "Total number of vendor API call failures.",
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vendor_cache_hits_total",
			Help: "Total number of provider-tier cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vendor_cache_misses_total",
			Help: "Total number of provider-tier cache misses.",
		}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vendor_request_duration_seconds",
			Help:    "Duration of live vendor API calls.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register vendor metrics: %w", err)
	}
	return m, nil
}

// Describe implements prometheus.Collector.
func (m *VendorMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.APICalls.Desc()
	ch <- m.APIErrors.Desc()
	ch <- m.CacheHits.Desc()
	ch <- m.CacheMisses.Desc()
	m.RequestDuration.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *VendorMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.APICalls
	ch <- m.APIErrors
	ch <- m.CacheHits
	ch <- m.CacheMisses
	m.RequestDuration.Collect(ch)
}
