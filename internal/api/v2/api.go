// Package api implements the HTTP API under /api/v2: search, image
// resolution and candidates, ingestion triggers, card fetches and health.
// Handlers hold no mutable state of their own; everything they need is
// injected through the Controller at bootstrap.
package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/cardexhq/cardex-go/internal/cachestore"
	"github.com/cardexhq/cardex-go/internal/cdn"
	"github.com/cardexhq/cardex-go/internal/conf"
	"github.com/cardexhq/cardex-go/internal/datastore"
	"github.com/cardexhq/cardex-go/internal/deferred"
	"github.com/cardexhq/cardex-go/internal/hotquery"
	"github.com/cardexhq/cardex-go/internal/imagesearch"
	"github.com/cardexhq/cardex-go/internal/logging"
	"github.com/cardexhq/cardex-go/internal/priceapi"
	"github.com/cardexhq/cardex-go/internal/search"
)

// internalHeader marks trusted internal callers of the image resolver; they
// get JSON instead of a redirect.
const internalHeader = "X-Cardex-Internal"

// VendorClient is the slice of the pricing vendor client the handlers need.
type VendorClient interface {
	SearchCards(ctx context.Context, query string, limit int) ([]priceapi.Card, error)
	GetCard(ctx context.Context, id string) (*priceapi.Card, error)
	ProviderID() string
}

// CandidateProvider finds candidate images for a query.
type CandidateProvider interface {
	Lookup(ctx context.Context, query string) (*imagesearch.CandidateSet, error)
	Search(ctx context.Context, query string) (*imagesearch.CandidateSet, error)
}

// Ingestor runs image ingestion for a candidate URL.
type Ingestor interface {
	Ingest(ctx context.Context, candidateURL string) (*datastore.ImageCache, error)
}

// Controller is the dependency context shared by all /api/v2 handlers.
// Lifecycle is owned by the process bootstrap; handlers never construct or
// tear down shared clients themselves.
type Controller struct {
	Echo     *echo.Echo
	Group    *echo.Group
	DS       datastore.Interface
	Settings *conf.Settings
	Cache    *cachestore.Store
	Vendor   VendorClient
	Local    *search.Local
	Images   CandidateProvider
	Ingest   Ingestor
	CDN      *cdn.Builder
	Tracker  *hotquery.Tracker
	Runner   *deferred.Runner

	logger *slog.Logger
}

// New wires the controller into e and registers all routes.
func New(e *echo.Echo, c *Controller) *Controller {
	c.Echo = e
	c.logger = logging.ForService("api")
	c.initRoutes()
	return c
}

func (c *Controller) initRoutes() {
	g := c.Echo.Group("/api/v2")
	c.Group = g

	g.GET("/health", c.Health)

	g.GET("/search", c.Search)
	g.POST("/search", c.Search)

	g.GET("/images/resolve", c.ResolveImage)
	g.GET("/images/candidates", c.ImageCandidates)
	g.POST("/images/candidates", c.ImageCandidates)
	g.POST("/images/ingest", c.TriggerIngest)

	g.GET("/cards/:id", c.GetCard)
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// NewErrorResponse builds the envelope with a fresh correlation id.
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorText := message
	if err != nil {
		errorText = err.Error()
	}
	return &ErrorResponse{
		Error:         errorText,
		Message:       message,
		Code:          code,
		CorrelationID: newCorrelationID(),
	}
}

func newCorrelationID() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(b)
}

// HandleError logs an error with request context and returns the JSON error
// envelope. Upstream credentials never appear in the logged fields.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	resp := NewErrorResponse(err, message, code)
	errorText := ""
	if err != nil {
		errorText = err.Error()
	}
	c.logger.Error("API error",
		"correlation_id", resp.CorrelationID,
		"message", message,
		"error", errorText,
		"code", code,
		"path", ctx.Request().URL.Path,
		"method", ctx.Request().Method,
		"ip", ctx.RealIP())
	return ctx.JSON(code, resp)
}

// Health reports liveness, including a database ping.
func (c *Controller) Health(ctx echo.Context) error {
	if err := c.DS.Ping(); err != nil {
		return ctx.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"reason": "database unreachable",
		})
	}
	return ctx.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}

// spawn registers a background task before the calling handler returns its
// response; a refused spawn is logged, never surfaced to the HTTP caller.
func (c *Controller) spawn(name string, task deferred.Task) {
	if c.Runner == nil {
		return
	}
	if err := c.Runner.Spawn(name, task); err != nil {
		c.logger.Error("failed to spawn background task", "task_name", name, "error", err)
	}
}

// cacheControlValue renders the Cache-Control header from settings.
func (c *Controller) cacheControlValue() string {
	cc := c.Settings.WebServer.CacheControl
	return "public" +
		", max-age=" + strconv.Itoa(cc.MaxAge) +
		", s-maxage=" + strconv.Itoa(cc.SMaxAge) +
		", stale-while-revalidate=" + strconv.Itoa(cc.StaleWhileRevalidate)
}
