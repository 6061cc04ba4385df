package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// IngestMetrics contains Prometheus metrics for the image ingestion pipeline.
type IngestMetrics struct {
	Attempts         prometheus.Counter
	Successes        prometheus.Counter
	Failures         prometheus.Counter
	DedupHits        prometheus.Counter
	BytesStored      prometheus.Counter
	FetchDuration    prometheus.Histogram
	RetriesExhausted prometheus.Counter
}

// NewIngestMetrics creates and registers the ingestion pipeline metrics.
func NewIngestMetrics(registry *prometheus.Registry) (*IngestMetrics, error) {
	m := &IngestMetrics{
		Attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_attempts_total",
			Help: "Total number of ingestion fetch attempts, including retries.",
		}),
		Successes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_successes_total",
			Help: "Total number of images ingested to durable storage.",
		}),
		Failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_failures_total",
			Help: "Total number of ingestion runs ending in a failed entry.",
		}),
		DedupHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_dedup_hits_total",
			Help: "Total number of ingestions resolved by an existing ready entry.",
		}),
		BytesStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_bytes_stored_total",
			Help: "Total bytes written to durable blob storage.",
		}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ingest_fetch_duration_seconds",
			Help:    "Duration of origin fetch attempts.",
			Buckets: prometheus.DefBuckets,
		}),
		RetriesExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ingest_retries_exhausted_total",
			Help: "Total number of ingestion runs that used every retry.",
		}),
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register ingest metrics: %w", err)
	}
	return m, nil
}

// Describe implements prometheus.Collector.
func (m *IngestMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.Attempts.Desc()
	ch <- m.Successes.Desc()
	ch <- m.Failures.Desc()
	ch <- m.DedupHits.Desc()
	ch <- m.BytesStored.Desc()
	m.FetchDuration.Describe(ch)
	ch <- m.RetriesExhausted.Desc()
}

// Collect implements prometheus.Collector.
func (m *IngestMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.Attempts
	ch <- m.Successes
	ch <- m.Failures
	ch <- m.DedupHits
	ch <- m.BytesStored
	m.FetchDuration.Collect(ch)
	ch <- m.RetriesExhausted
}
