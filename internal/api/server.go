package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	mw "github.com/cardexhq/cardex-go/internal/api/middleware"
	v2 "github.com/cardexhq/cardex-go/internal/api/v2"
	"github.com/cardexhq/cardex-go/internal/blobstore"
	"github.com/cardexhq/cardex-go/internal/cachestore"
	"github.com/cardexhq/cardex-go/internal/cdn"
	"github.com/cardexhq/cardex-go/internal/conf"
	"github.com/cardexhq/cardex-go/internal/datastore"
	"github.com/cardexhq/cardex-go/internal/deferred"
	"github.com/cardexhq/cardex-go/internal/hotquery"
	"github.com/cardexhq/cardex-go/internal/logging"
	"github.com/cardexhq/cardex-go/internal/observability"
	"github.com/cardexhq/cardex-go/internal/search"
)

// Server is the main HTTP server for cardex-go. It manages the Echo
// instance, middleware and all HTTP routes.
type Server struct {
	echo     *echo.Echo
	config   *Config
	settings *conf.Settings
	logger   *log.Logger
	slogger  *slog.Logger
	levelVar *slog.LevelVar

	// Dependencies
	dataStore datastore.Interface
	cache     *cachestore.Store
	vendor    v2.VendorClient
	images    v2.CandidateProvider
	ingestor  v2.Ingestor
	blobs     *blobstore.Store
	cdn       *cdn.Builder
	tracker   *hotquery.Tracker
	runner    *deferred.Runner
	metrics   *observability.Metrics

	// API controller
	apiController *v2.Controller

	// Lifecycle management
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time

	// Cleanup
	logCloser func() error
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithLogger sets the standard logger for the server.
func WithLogger(logger *log.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithDataStore sets the datastore for the server.
func WithDataStore(ds datastore.Interface) ServerOption {
	return func(s *Server) { s.dataStore = ds }
}

// WithCache sets the tiered query cache.
func WithCache(cache *cachestore.Store) ServerOption {
	return func(s *Server) { s.cache = cache }
}

// WithVendor sets the pricing vendor client.
func WithVendor(vendor v2.VendorClient) ServerOption {
	return func(s *Server) { s.vendor = vendor }
}

// WithImages sets the image candidate provider.
func WithImages(images v2.CandidateProvider) ServerOption {
	return func(s *Server) { s.images = images }
}

// WithIngestor sets the image ingestion pipeline.
func WithIngestor(ingestor v2.Ingestor) ServerOption {
	return func(s *Server) { s.ingestor = ingestor }
}

// WithBlobStore sets the content-addressed blob store whose assets the
// server exposes under /assets.
func WithBlobStore(blobs *blobstore.Store) ServerOption {
	return func(s *Server) { s.blobs = blobs }
}

// WithCDN sets the delivery URL builder.
func WithCDN(builder *cdn.Builder) ServerOption {
	return func(s *Server) { s.cdn = builder }
}

// WithTracker sets the hot query tracker.
func WithTracker(tracker *hotquery.Tracker) ServerOption {
	return func(s *Server) { s.tracker = tracker }
}

// WithRunner sets the deferred task runner.
func WithRunner(runner *deferred.Runner) ServerOption {
	return func(s *Server) { s.runner = runner }
}

// WithMetrics sets the observability metrics for the server.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// New creates a new HTTP server with the given settings and options.
func New(settings *conf.Settings, opts ...ServerOption) (*Server, error) {
	config := ConfigFromSettings(settings)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:    config,
		settings:  settings,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = log.Default()
	}

	if err := s.initLogger(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true

	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()
	s.setupRoutes()

	s.slogger.Info("HTTP server initialized",
		"address", config.Address(),
		"debug", config.Debug,
	)

	return s, nil
}

// initLogger initializes the structured logger for the server.
func (s *Server) initLogger() error {
	s.levelVar = new(slog.LevelVar)
	s.levelVar.Set(s.config.LogLevel)

	logger, closer, err := logging.NewFileLogger(DefaultLogPath, "server", s.levelVar)
	if err != nil {
		// Fallback to discard logger
		s.logger.Printf("Warning: Failed to initialize server logger: %v", err)
		handler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: s.levelVar})
		s.slogger = slog.New(handler).With("service", "server")
		s.logCloser = func() error { return nil }
		return nil
	}

	s.slogger = logger
	s.logCloser = closer
	return nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	// Recovery middleware goes first
	s.echo.Use(echomw.Recover())

	// Skip request logging for the scrape endpoint and static assets
	s.echo.Use(mw.NewRequestLogger(s.slogger, func(c echo.Context) bool {
		path := c.Path()
		return path == "/metrics" || path == "/assets/*"
	}))

	securityConfig := mw.SecurityConfig{
		AllowedOrigins:        s.config.AllowedOrigins,
		AllowCredentials:      true,
		HSTSMaxAge:            mw.HSTSMaxAge,
		HSTSExcludeSubdomains: false,
		ContentSecurityPolicy: "",
	}

	s.echo.Use(mw.NewCORS(securityConfig))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(mw.NewGzip())
	s.echo.Use(mw.NewSecureHeaders(securityConfig))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)

	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	// Serve ingested images directly from the blob store. Deployments with a
	// real CDN in front point conf.CDN.BaseURL at it instead.
	if s.blobs != nil {
		s.echo.Static("/assets", s.blobs.Root())
	}

	s.apiController = v2.New(s.echo, &v2.Controller{
		DS:       s.dataStore,
		Settings: s.settings,
		Cache:    s.cache,
		Vendor:   s.vendor,
		Local:    search.NewLocal(s.dataStore),
		Images:   s.images,
		Ingest:   s.ingestor,
		CDN:      s.cdn,
		Tracker:  s.tracker,
		Runner:   s.runner,
	})

	s.slogger.Info("Routes initialized", "api_version", "v2")
}

// healthCheck handles the root health check endpoint.
func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)

	return c.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"uptime":         uptime.String(),
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

// Start begins serving HTTP requests in a background goroutine. Use
// Shutdown() to stop the server.
func (s *Server) Start() {
	go func() {
		if err := s.startBlocking(); err != nil {
			s.slogger.Error("Server error", "error", err)
		}
	}()

	s.logger.Printf("HTTP server starting on %s", s.config.Address())
}

// startBlocking begins serving HTTP requests and blocks until shutdown.
func (s *Server) startBlocking() error {
	addr := s.config.Address()
	s.slogger.Info("Starting HTTP server", "address", addr)

	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartWithGracefulShutdown starts the server and handles graceful shutdown
// on SIGINT/SIGTERM.
func (s *Server) StartWithGracefulShutdown() error {
	s.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	s.slogger.Info("Shutdown signal received, initiating graceful shutdown")
	return s.Shutdown()
}

// Shutdown gracefully stops the server: stop accepting requests, then drain
// the deferred runner so already-accepted background work completes.
func (s *Server) Shutdown() error {
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		s.slogger.Error("Error during server shutdown", "error", err)
		return fmt.Errorf("shutdown error: %w", err)
	}

	if s.runner != nil {
		if err := s.runner.Shutdown(s.config.ShutdownTimeout); err != nil {
			s.slogger.Error("Deferred runner did not drain", "error", err)
		}
	}

	if s.logCloser != nil {
		if err := s.logCloser(); err != nil {
			s.logger.Printf("Error closing log file: %v", err)
		}
	}

	s.slogger.Info("Server shutdown complete")
	return nil
}

// APIController returns the v2 API controller.
func (s *Server) APIController() *v2.Controller {
	return s.apiController
}

// Echo returns the underlying Echo instance, useful for testing.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// SetLogLevel dynamically changes the logging level.
func (s *Server) SetLogLevel(level slog.Level) {
	if s.levelVar != nil {
		s.levelVar.Set(level)
		s.slogger.Info("Log level changed", "level", level.String())
	}
}
