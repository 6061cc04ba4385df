// Package priceapi implements the client for the third-party card pricing
// vendor. Results are cached in a provider-tier TTL cache keyed by the
// provider id and the query's content address, so identical queries within the
// TTL never reach the vendor twice.
package priceapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/cardexhq/cardex-go/internal/errors"
	"github.com/cardexhq/cardex-go/internal/logging"
	"github.com/cardexhq/cardex-go/internal/observability/metrics"
	"github.com/cardexhq/cardex-go/internal/queryaddr"
)

// Package-level logger specific to the priceapi service
var (
	logger          *slog.Logger
	serviceLevelVar = new(slog.LevelVar)
	closeLogger     func() error
)

func init() {
	var err error
	logFilePath := filepath.Join("logs", "priceapi.log")
	serviceLevelVar.Set(slog.LevelDebug)

	logger, closeLogger, err = logging.NewFileLogger(logFilePath, "priceapi", serviceLevelVar)
	if err != nil {
		log.Printf("Failed to initialize priceapi file logger at %s: %v. Service logging disabled.", logFilePath, err)
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: serviceLevelVar})
		logger = slog.New(fbHandler).With("service", "priceapi")
		closeLogger = func() error { return nil }
	}
}

const maxRetries = 3

// Client talks to the pricing vendor API.
type Client struct {
	config     Config
	httpClient *http.Client
	cache      *cache.Cache
	limiter    *rate.Limiter
	metrics    *metrics.VendorMetrics
}

// NewClient creates a vendor API client. The metrics argument may be nil.
func NewClient(config Config, m *metrics.VendorMetrics) (*Client, error) {
	if config.APIKey == "" {
		return nil, errors.Newf("vendor API key is required").
			Category(errors.CategoryConfiguration).
			Component("priceapi").
			Build()
	}

	defaults := DefaultConfig()
	if config.ProviderID == "" {
		config.ProviderID = defaults.ProviderID
	}
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = defaults.CacheTTL
	}
	if config.RateLimitMS == 0 {
		config.RateLimitMS = defaults.RateLimitMS
	}

	client := &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		cache:   cache.New(config.CacheTTL, config.CacheTTL*2),
		limiter: rate.NewLimiter(rate.Every(time.Duration(config.RateLimitMS)*time.Millisecond), 1),
	}
	client.metrics = m

	logger.Info("vendor client initialized",
		"provider_id", config.ProviderID,
		"base_url", config.BaseURL,
		"cache_ttl", config.CacheTTL,
		"rate_limit_ms", config.RateLimitMS,
		"api_key_configured", config.APIKey != "")

	return client, nil
}

// ProviderID returns the stable provider identifier used in cache keys.
func (c *Client) ProviderID() string {
	return c.config.ProviderID
}

// Close cleans up client resources.
func (c *Client) Close() {
	logger.Info("closing vendor client")
	if closeLogger != nil {
		if err := closeLogger(); err != nil {
			log.Printf("Error closing priceapi logger: %v", err)
		}
	}
}

// SearchCards queries the vendor catalog. Results come back in vendor
// relevance order and are cached for the configured provider TTL.
func (c *Client) SearchCards(ctx context.Context, query string, limit int) ([]Card, error) {
	queryHash := queryaddr.HashQuery(query)
	cacheKey := queryaddr.ProviderKey(c.config.ProviderID, queryHash)

	if cached, found := c.cache.Get(cacheKey); found {
		if cards, ok := cached.([]Card); ok {
			c.countCacheHit()
			logger.Debug("vendor search cache hit",
				"query_hash", queryHash,
				"results", len(cards))
			return cards, nil
		}
	}
	c.countCacheMiss()

	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	reqURL := fmt.Sprintf("%s/cards/search?q=%s&limit=%d",
		c.config.BaseURL, url.QueryEscape(queryaddr.Normalize(query)), limit)

	var result searchResponse
	if err := c.doRequestWithRetry(reqCtx, http.MethodGet, reqURL, &result); err != nil {
		return nil, err
	}

	c.cache.Set(cacheKey, result.Data, cache.DefaultExpiration)

	logger.Debug("vendor search cached",
		"query_hash", queryHash,
		"results", len(result.Data),
		"total_count", result.TotalCount)

	return result.Data, nil
}

// GetCard retrieves a single card by its vendor identifier.
func (c *Client) GetCard(ctx context.Context, id string) (*Card, error) {
	cacheKey := "card:" + id

	if cached, found := c.cache.Get(cacheKey); found {
		if card, ok := cached.(*Card); ok {
			c.countCacheHit()
			return card, nil
		}
	}
	c.countCacheMiss()

	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	reqURL := fmt.Sprintf("%s/cards/%s", c.config.BaseURL, url.PathEscape(id))

	var card Card
	if err := c.doRequestWithRetry(reqCtx, http.MethodGet, reqURL, &card); err != nil {
		return nil, err
	}
	if card.ID == "" {
		return nil, errors.Newf("card not found: %s", id).
			Category(errors.CategoryNotFound).
			Context("card_id", id).
			Component("priceapi").
			Build()
	}

	c.cache.Set(cacheKey, &card, cache.DefaultExpiration)
	return &card, nil
}

// doRequest performs a single rate-limited, authenticated request and decodes
// the JSON response into result.
func (c *Client) doRequest(ctx context.Context, method, reqURL string, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.New(err).
			Category(errors.CategoryTimeout).
			Context("url", reqURL).
			Component("priceapi").
			Build()
	}

	start := time.Now()
	c.countAPICall()

	req, err := http.NewRequestWithContext(ctx, method, reqURL, http.NoBody)
	if err != nil {
		c.countAPIError()
		return errors.Newf("failed to create HTTP request: %w", err).
			Category(errors.CategoryNetwork).
			Context("method", method).
			Context("url", reqURL).
			Component("priceapi").
			Build()
	}
	req.Header.Set("X-Api-Key", c.config.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.countAPIError()
		logger.Error("vendor API request failed",
			"error", err,
			"method", method,
			"url", reqURL)
		return errors.Newf("HTTP request failed: %w", err).
			Category(errors.CategoryNetwork).
			Context("method", method).
			Context("url", reqURL).
			Component("priceapi").
			Build()
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		c.countAPIError()
		return errors.Newf("failed to read response body: %w", err).
			Category(errors.CategoryNetwork).
			Context("url", reqURL).
			Context("status_code", resp.StatusCode).
			Component("priceapi").
			Build()
	}

	contentType := resp.Header.Get("Content-Type")
	if resp.StatusCode == http.StatusOK && !strings.Contains(strings.ToLower(contentType), "application/json") {
		logger.Error("vendor API returned non-JSON response",
			"status_code", resp.StatusCode,
			"content_type", contentType,
			"url", reqURL,
			"response_preview", preview(bodyBytes))
		return errors.Newf("vendor API returned non-JSON response (Content-Type: %s)", contentType).
			Category(errors.CategoryVendorAPI).
			Context("status_code", resp.StatusCode).
			Context("content_type", contentType).
			Context("url", reqURL).
			Component("priceapi").
			Build()
	}

	if resp.StatusCode >= 400 {
		c.countAPIError()

		var apiErr Error
		if err := json.Unmarshal(bodyBytes, &apiErr); err != nil || apiErr.Detail == "" {
			apiErr.Detail = preview(bodyBytes)
		}
		apiErr.Status = resp.StatusCode

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			logger.Error("vendor API authentication failed",
				"status_code", resp.StatusCode,
				"url", reqURL,
				"has_api_key", c.config.APIKey != "")
		} else {
			logger.Warn("vendor API error response",
				"status_code", resp.StatusCode,
				"error_title", apiErr.Title,
				"error_detail", apiErr.Detail,
				"url", reqURL)
		}

		return errors.Newf("vendor API error (status %d): %s", resp.StatusCode, apiErr.Detail).
			Category(categoryForStatus(resp.StatusCode)).
			Context("status_code", resp.StatusCode).
			Context("url", reqURL).
			Component("priceapi").
			Build()
	}

	if result != nil {
		if err := json.Unmarshal(bodyBytes, result); err != nil {
			logger.Error("failed to parse vendor API response",
				"error", err,
				"url", reqURL,
				"response_size", len(bodyBytes),
				"response_preview", preview(bodyBytes))
			return errors.Newf("failed to parse response: %w", err).
				Category(errors.CategoryVendorAPI).
				Context("url", reqURL).
				Context("response_size", len(bodyBytes)).
				Component("priceapi").
				Build()
		}
	}

	duration := time.Since(start)
	c.observeDuration(duration)
	logger.Debug("vendor API request successful",
		"url", reqURL,
		"duration_ms", duration.Milliseconds(),
		"response_size", len(bodyBytes))

	return nil
}

// doRequestWithRetry wraps doRequest with retry for transient failures.
// Configuration, validation and not-found errors are returned immediately, as
// are 4xx responses other than 429.
func (c *Client) doRequestWithRetry(ctx context.Context, method, reqURL string, result any) error {
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := c.doRequest(ctx, method, reqURL, result)
		if err == nil {
			return nil
		}

		if !errors.IsRetryable(err) {
			return err
		}
		var enhancedErr *errors.EnhancedError
		if errors.As(err, &enhancedErr) {
			if statusCode, ok := enhancedErr.Context["status_code"].(int); ok {
				if statusCode >= 400 && statusCode < 500 && statusCode != http.StatusTooManyRequests {
					return err
				}
			}
		}

		lastErr = err
		if ctx.Err() != nil {
			return lastErr
		}

		if attempt < maxRetries-1 {
			delay := time.Duration(attempt+1) * 500 * time.Millisecond
			logger.Warn("vendor API request failed, retrying",
				"attempt", attempt+1,
				"max_retries", maxRetries,
				"delay_ms", delay.Milliseconds(),
				"url", reqURL,
				"error", err.Error())

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	return lastErr
}

// ClearCache drops all cached vendor results.
func (c *Client) ClearCache() {
	c.cache.Flush()
	logger.Info("vendor cache cleared")
}

// CacheItemCount returns the number of cached vendor results.
func (c *Client) CacheItemCount() int {
	return c.cache.ItemCount()
}

func (c *Client) countAPICall() {
	if c.metrics != nil {
		c.metrics.APICalls.Inc()
	}
}

func (c *Client) countAPIError() {
	if c.metrics != nil {
		c.metrics.APIErrors.Inc()
	}
}

func (c *Client) countCacheHit() {
	if c.metrics != nil {
		c.metrics.CacheHits.Inc()
	}
}

func (c *Client) countCacheMiss() {
	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}
}

func (c *Client) observeDuration(d time.Duration) {
	if c.metrics != nil {
		c.metrics.RequestDuration.Observe(d.Seconds())
	}
}

func preview(body []byte) string {
	s := string(body)
	if len(s) > 500 {
		s = s[:500] + "..."
	}
	return s
}

// categoryForStatus maps an HTTP status code onto the error taxonomy, which
// in turn drives retry decisions.
func categoryForStatus(statusCode int) errors.ErrorCategory {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.CategoryConfiguration
	case http.StatusTooManyRequests:
		return errors.CategoryLimit
	case http.StatusNotFound:
		return errors.CategoryNotFound
	default:
		if statusCode >= 500 {
			return errors.CategoryVendorAPI
		}
		return errors.CategoryValidation
	}
}
