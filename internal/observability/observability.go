// Package observability provides metrics and monitoring capabilities for the
// cardex-go application.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cardexhq/cardex-go/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry *prometheus.Registry
	Cache    *metrics.CacheMetrics
	Vendor   *metrics.VendorMetrics
	Ingest   *metrics.IngestMetrics
	Deferred *metrics.DeferredMetrics
}

// NewMetrics creates a new instance of Metrics, initializing all collectors.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	cacheMetrics, err := metrics.NewCacheMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache metrics: %w", err)
	}

	vendorMetrics, err := metrics.NewVendorMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create vendor metrics: %w", err)
	}

	ingestMetrics, err := metrics.NewIngestMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create ingest metrics: %w", err)
	}

	deferredMetrics, err := metrics.NewDeferredMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create deferred metrics: %w", err)
	}

	return &Metrics{
		registry: registry,
		Cache:    cacheMetrics,
		Vendor:   vendorMetrics,
		Ingest:   ingestMetrics,
		Deferred: deferredMetrics,
	}, nil
}

// Handler returns an http.Handler exposing the registry in Prometheus format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
