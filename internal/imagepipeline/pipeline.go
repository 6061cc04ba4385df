// Package imagepipeline fetches remote candidate images, verifies them by
// inspecting their actual bytes, and persists verified content to the blob
// store under its content hash. Ingestion failures are local to the asset
// being processed and are recorded, never raised as fatal to callers working
// on unrelated assets.
package imagepipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/cardexhq/cardex-go/internal/blobstore"
	"github.com/cardexhq/cardex-go/internal/conf"
	"github.com/cardexhq/cardex-go/internal/datastore"
	"github.com/cardexhq/cardex-go/internal/errors"
	"github.com/cardexhq/cardex-go/internal/httpclient"
	"github.com/cardexhq/cardex-go/internal/logging"
	"github.com/cardexhq/cardex-go/internal/observability/metrics"
	"github.com/cardexhq/cardex-go/internal/queryaddr"
)

// Desktop-browser request identity. Some origins refuse requests that do not
// look like a browser; retries relax this identity step by step.
const (
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"
	simpleUserAgent  = "Mozilla/5.0"
	acceptHeader     = "image/avif,image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8"
)

// Pipeline ingests candidate images into the blob store and image cache.
type Pipeline struct {
	http    *httpclient.Client
	ds      datastore.Interface
	blobs   *blobstore.Store
	cfg     conf.IngestSettings
	metrics *metrics.IngestMetrics
	logger  *slog.Logger
}

// New creates an ingestion pipeline. The metrics argument may be nil.
func New(ds datastore.Interface, blobs *blobstore.Store, client *httpclient.Client, cfg conf.IngestSettings, m *metrics.IngestMetrics) *Pipeline {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 8 << 20
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	if cfg.FailureTTL == 0 {
		cfg.FailureTTL = 30 * time.Minute
	}
	return &Pipeline{
		http:    client,
		ds:      ds,
		blobs:   blobs,
		cfg:     cfg,
		metrics: m,
		logger:  logging.ForService("imagepipeline"),
	}
}

// Ingest fetches a candidate URL, verifies the payload is an image, and
// returns the READY image cache entry for its content. Concurrent ingestion
// of the same URL is safe: both invocations converge on the same
// content-hash entry and the blob write is idempotent.
func (p *Pipeline) Ingest(ctx context.Context, candidateURL string) (*datastore.ImageCache, error) {
	parsed, err := url.Parse(candidateURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, errors.Newf("candidate URL is not a fetchable HTTP URL: %s", candidateURL).
			Category(errors.CategoryValidation).
			Context("url", candidateURL).
			Component("imagepipeline").
			Build()
	}

	// While the fetch is in flight the entry is identified by its URL hash;
	// once content is verified the content hash takes over.
	urlHash := queryaddr.AddressOf(candidateURL)
	if existing, err := p.ds.GetImageCacheByHash(urlHash); err == nil {
		if existing.Status == datastore.ImageStatusReady {
			p.countDedup()
			return existing, nil
		}
		// Failed URLs are memoized until ExpiresAt so a hot resolve path
		// cannot hammer a dead origin.
		if failureFresh(existing, time.Now().UTC()) {
			return nil, errors.Newf("ingestion failed recently, retry blocked until %s: %s",
				existing.ExpiresAt.Format(time.RFC3339), existing.ErrorMessage).
				Category(errors.CategoryImageFetch).
				Context("url", candidateURL).
				Component("imagepipeline").
				Build()
		}
	}

	if err := p.ds.UpsertImageCache(&datastore.ImageCache{
		Hash:      urlHash,
		SourceURL: candidateURL,
		Status:    datastore.ImageStatusPending,
	}); err != nil {
		return nil, err
	}

	data, contentType, fetchErr := p.fetchWithRetry(ctx, parsed)
	if fetchErr != nil {
		p.countExhausted()
		retryAfter := time.Now().UTC().Add(p.cfg.FailureTTL)
		if err := p.ds.UpsertImageCache(&datastore.ImageCache{
			Hash:         urlHash,
			SourceURL:    candidateURL,
			Status:       datastore.ImageStatusFailed,
			ErrorMessage: fetchErr.Error(),
			ExpiresAt:    &retryAfter,
		}); err != nil {
			p.logger.Error("failed to record ingestion failure", "url", candidateURL, "error", err)
		}
		return nil, fetchErr
	}

	sum := sha256.Sum256(data)
	contentHash := hex.EncodeToString(sum[:])

	// Dedup: identical content already ingested means no second storage
	// write, regardless of which URL it originally came from.
	if existing, err := p.ds.GetImageCacheByHash(contentHash); err == nil && existing.Status == datastore.ImageStatusReady {
		p.countDedup()
		p.cleanupPendingMarker(urlHash, contentHash)
		p.logger.Debug("content already ingested",
			"url", candidateURL,
			"content_hash", contentHash)
		return existing, nil
	}

	storagePath, err := p.blobs.Put(contentHash, data)
	if err != nil {
		return nil, err
	}

	width, height := decodeDimensions(data)
	entry := &datastore.ImageCache{
		Hash:        contentHash,
		SourceURL:   candidateURL,
		ContentHash: contentHash,
		Status:      datastore.ImageStatusReady,
		StoragePath: storagePath,
		Width:       width,
		Height:      height,
		ContentType: contentType,
		Bytes:       int64(len(data)),
	}
	if err := p.ds.UpsertImageCache(entry); err != nil {
		return nil, err
	}
	p.cleanupPendingMarker(urlHash, contentHash)

	p.countSuccess(len(data))
	p.logger.Info("image ingested",
		"url", candidateURL,
		"content_hash", contentHash,
		"content_type", contentType,
		"bytes", len(data),
		"width", width,
		"height", height)

	return p.ds.GetImageCacheByHash(contentHash)
}

// fetchWithRetry runs bounded fetch attempts, relaxing the request identity
// in a fixed order between attempts: full browser identity, then without
// Referer, then with a simplified User-Agent.
func (p *Pipeline) fetchWithRetry(ctx context.Context, target *url.URL) (data []byte, contentType string, err error) {
	var lastErr error

	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * p.cfg.Backoff
			p.logger.Debug("retrying image fetch",
				"url", target.String(),
				"attempt", attempt+1,
				"delay_ms", delay.Milliseconds())
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, "", ctxError(ctx, target.String())
			}
		}

		data, contentType, lastErr = p.fetchOnce(ctx, target, attempt)
		if lastErr == nil {
			return data, contentType, nil
		}
		if !errors.IsRetryable(lastErr) {
			return nil, "", lastErr
		}
		if ctx.Err() != nil {
			return nil, "", lastErr
		}
	}
	return nil, "", lastErr
}

func (p *Pipeline) fetchOnce(ctx context.Context, target *url.URL, attempt int) ([]byte, string, error) {
	p.countAttempt()
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, target.String(), http.NoBody)
	if err != nil {
		return nil, "", errors.Newf("failed to create image request: %w", err).
			Category(errors.CategoryValidation).
			Context("url", target.String()).
			Component("imagepipeline").
			Build()
	}
	p.applyIdentity(req, target, attempt)

	resp, err := p.http.Do(reqCtx, req)
	if err != nil {
		p.countFailure()
		return nil, "", errors.Newf("image fetch failed: %w", err).
			Category(errors.CategoryImageFetch).
			Context("url", target.String()).
			Context("attempt", attempt+1).
			Component("imagepipeline").
			Build()
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		p.countFailure()
		category := errors.CategoryImageFetch
		// Client errors other than 429 will not get better on retry.
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			category = errors.CategoryValidation
		}
		return nil, "", errors.Newf("image fetch returned status %d", resp.StatusCode).
			Category(category).
			Context("url", target.String()).
			Context("status_code", resp.StatusCode).
			Component("imagepipeline").
			Build()
	}

	// Stream with a hard cap; never buffer an unbounded body.
	data, err := io.ReadAll(io.LimitReader(resp.Body, p.cfg.MaxBytes+1))
	if err != nil {
		p.countFailure()
		return nil, "", errors.Newf("failed to read image body: %w", err).
			Category(errors.CategoryImageFetch).
			Context("url", target.String()).
			Component("imagepipeline").
			Build()
	}
	if int64(len(data)) > p.cfg.MaxBytes {
		p.countFailure()
		return nil, "", errors.Newf("image exceeds size cap of %d bytes", p.cfg.MaxBytes).
			Category(errors.CategoryValidation).
			Context("url", target.String()).
			Context("max_bytes", p.cfg.MaxBytes).
			Component("imagepipeline").
			Build()
	}

	declared := resp.Header.Get("Content-Type")
	contentType := SniffContentType(data)
	if contentType == "" {
		if !IsImageContentType(declared) {
			p.countFailure()
			return nil, "", errors.Newf("payload is not a recognizable image (declared %q)", declared).
				Category(errors.CategoryImageDecode).
				Context("url", target.String()).
				Context("declared_content_type", declared).
				Component("imagepipeline").
				Build()
		}
		contentType = declared
	}

	p.observeFetch(time.Since(start))
	return data, contentType, nil
}

// applyIdentity sets the request identity for the given attempt: 0 = full
// browser identity, 1 = drop Referer, 2+ = simplified User-Agent.
func (p *Pipeline) applyIdentity(req *http.Request, target *url.URL, attempt int) {
	req.Header.Set("Accept", acceptHeader)
	switch {
	case attempt == 0:
		req.Header.Set("User-Agent", browserUserAgent)
		req.Header.Set("Referer", target.Scheme+"://"+target.Host+"/")
	case attempt == 1:
		req.Header.Set("User-Agent", browserUserAgent)
	default:
		req.Header.Set("User-Agent", simpleUserAgent)
	}
}

// failureFresh reports whether a failed entry is still inside its memo window.
func failureFresh(entry *datastore.ImageCache, now time.Time) bool {
	return entry.Status == datastore.ImageStatusFailed &&
		entry.ExpiresAt != nil && now.Before(*entry.ExpiresAt)
}

// cleanupPendingMarker removes the URL-hash marker once the entry is known by
// its content hash.
func (p *Pipeline) cleanupPendingMarker(urlHash, contentHash string) {
	if urlHash == contentHash {
		return
	}
	if err := p.ds.DeleteImageCacheByHash(urlHash); err != nil && !errors.IsNotFound(err) {
		p.logger.Warn("failed to remove pending marker", "hash", urlHash, "error", err)
	}
}

// decodeDimensions extracts pixel dimensions where a stdlib decoder exists
// (JPEG, PNG, GIF). Other formats report zero dimensions.
func decodeDimensions(data []byte) (width, height int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}

func ctxError(ctx context.Context, target string) error {
	return errors.New(fmt.Errorf("image fetch cancelled: %w", ctx.Err())).
		Category(errors.CategoryTimeout).
		Context("url", target).
		Component("imagepipeline").
		Build()
}

func (p *Pipeline) countAttempt() {
	if p.metrics != nil {
		p.metrics.Attempts.Inc()
	}
}

func (p *Pipeline) countFailure() {
	if p.metrics != nil {
		p.metrics.Failures.Inc()
	}
}

func (p *Pipeline) countSuccess(bytes int) {
	if p.metrics != nil {
		p.metrics.Successes.Inc()
		p.metrics.BytesStored.Add(float64(bytes))
	}
}

func (p *Pipeline) countDedup() {
	if p.metrics != nil {
		p.metrics.DedupHits.Inc()
	}
}

func (p *Pipeline) countExhausted() {
	if p.metrics != nil {
		p.metrics.RetriesExhausted.Inc()
	}
}

func (p *Pipeline) observeFetch(d time.Duration) {
	if p.metrics != nil {
		p.metrics.FetchDuration.Observe(d.Seconds())
	}
}
