// Package service assembles the application: datastore, caches, vendor and
// image-search clients, the ingestion pipeline, the deferred runner and the
// HTTP server. Commands under cmd/ call into this package instead of wiring
// dependencies themselves.
package service

import (
	"fmt"
	"log/slog"

	"github.com/cardexhq/cardex-go/internal/api"
	"github.com/cardexhq/cardex-go/internal/blobstore"
	"github.com/cardexhq/cardex-go/internal/cachestore"
	"github.com/cardexhq/cardex-go/internal/cdn"
	"github.com/cardexhq/cardex-go/internal/conf"
	"github.com/cardexhq/cardex-go/internal/datastore"
	"github.com/cardexhq/cardex-go/internal/deferred"
	"github.com/cardexhq/cardex-go/internal/hotquery"
	"github.com/cardexhq/cardex-go/internal/httpclient"
	"github.com/cardexhq/cardex-go/internal/imagepipeline"
	"github.com/cardexhq/cardex-go/internal/imagesearch"
	"github.com/cardexhq/cardex-go/internal/logging"
	"github.com/cardexhq/cardex-go/internal/observability"
	"github.com/cardexhq/cardex-go/internal/priceapi"
)

// Service holds the assembled application components.
type Service struct {
	Settings *conf.Settings
	Metrics  *observability.Metrics

	DS       datastore.Interface
	Cache    *cachestore.Store
	Blobs    *blobstore.Store
	Vendor   *priceapi.Client
	Images   *imagesearch.Provider
	Pipeline *imagepipeline.Pipeline
	Tracker  *hotquery.Tracker
	Runner   *deferred.Runner
	CDN      *cdn.Builder

	httpClient *httpclient.Client
	logger     *slog.Logger
}

// Build constructs every component from settings. The caller owns the
// returned service and must Close it.
func Build(settings *conf.Settings) (*Service, error) {
	logger := logging.ForService("service")

	metrics, err := observability.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	ds := datastore.New(settings)
	if err := ds.Open(); err != nil {
		return nil, fmt.Errorf("failed to open datastore: %w", err)
	}

	blobs, err := blobstore.New(settings.Blob.Root)
	if err != nil {
		_ = ds.Close()
		return nil, fmt.Errorf("failed to open blob store: %w", err)
	}

	cache := cachestore.New(cachestore.Config{
		ProviderTTL:  settings.Cache.ProviderTTL,
		BlendedTTL:   settings.Cache.BlendedTTL,
		CandidateTTL: settings.Cache.CandidateTTL,
	}, metrics.Cache)

	vendor, err := priceapi.NewClient(priceapi.ConfigFromSettings(settings), metrics.Vendor)
	if err != nil {
		_ = ds.Close()
		return nil, fmt.Errorf("failed to create vendor client: %w", err)
	}

	client := httpclient.New(&httpclient.Config{
		UserAgent: settings.Main.Name,
	})

	images := imagesearch.New(settings.ImageSearch, client, cache)
	pipeline := imagepipeline.New(ds, blobs, client, settings.Ingest, metrics.Ingest)
	tracker := hotquery.New(ds, settings.Promotion)
	runner := deferred.New(settings.Deferred.Workers, settings.Deferred.QueueSize, metrics.Deferred)

	svc := &Service{
		Settings:   settings,
		Metrics:    metrics,
		DS:         ds,
		Cache:      cache,
		Blobs:      blobs,
		Vendor:     vendor,
		Images:     images,
		Pipeline:   pipeline,
		Tracker:    tracker,
		Runner:     runner,
		CDN:        cdn.New(settings.CDN.BaseURL),
		httpClient: client,
		logger:     logger,
	}

	logger.Info("service assembled",
		"database", settings.Database.Type,
		"vendor", vendor.ProviderID(),
		"blob_root", blobs.Root())

	return svc, nil
}

// Server builds the HTTP server on top of the assembled components.
func (s *Service) Server() (*api.Server, error) {
	return api.New(s.Settings,
		api.WithDataStore(s.DS),
		api.WithCache(s.Cache),
		api.WithVendor(s.Vendor),
		api.WithImages(s.Images),
		api.WithIngestor(s.Pipeline),
		api.WithBlobStore(s.Blobs),
		api.WithCDN(s.CDN),
		api.WithTracker(s.Tracker),
		api.WithRunner(s.Runner),
		api.WithMetrics(s.Metrics),
	)
}

// Close releases all resources. Safe to call after a server shutdown that
// already drained the runner.
func (s *Service) Close() {
	if s.Vendor != nil {
		s.Vendor.Close()
	}
	if s.httpClient != nil {
		s.httpClient.Close()
	}
	if s.DS != nil {
		if err := s.DS.Close(); err != nil {
			s.logger.Error("failed to close datastore", "error", err)
		}
	}
}

// Run assembles the service and serves HTTP until a shutdown signal arrives.
func Run(settings *conf.Settings) error {
	svc, err := Build(settings)
	if err != nil {
		return err
	}
	defer svc.Close()

	server, err := svc.Server()
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	return server.StartWithGracefulShutdown()
}
