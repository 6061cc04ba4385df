// Package imagesearch finds candidate images on the web for a free-text
// query. Candidates are unvetted descriptors: a viability probe filters out
// origins that are unreachable, oversized or not serving images before the
// set is cached in the candidate tier.
package imagesearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/cardexhq/cardex-go/internal/cachestore"
	"github.com/cardexhq/cardex-go/internal/conf"
	"github.com/cardexhq/cardex-go/internal/errors"
	"github.com/cardexhq/cardex-go/internal/httpclient"
	"github.com/cardexhq/cardex-go/internal/logging"
	"github.com/cardexhq/cardex-go/internal/queryaddr"
)

// Candidate describes one unvetted image found by the provider, in provider
// relevance order.
type Candidate struct {
	SourceURL string `json:"source_url"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Origin    string `json:"origin,omitempty"`
}

// CandidateSet is the cached result of one image search.
type CandidateSet struct {
	QueryHash  string      `json:"query_hash"`
	Query      string      `json:"query"`
	Candidates []Candidate `json:"candidates"`
	TopURL     string      `json:"top_url,omitempty"`
}

// viabilityMaxBytes rejects candidates whose origin declares a body larger
// than the ingestion pipeline would accept anyway.
const viabilityMaxBytes = 8 << 20

// Provider searches a web image search API and caches viable candidates.
type Provider struct {
	cfg    conf.ImageSearchSettings
	http   *httpclient.Client
	cache  *cachestore.Store
	logger *slog.Logger
}

// New creates an image search provider. The cache may be nil, in which case
// results are not written through.
func New(cfg conf.ImageSearchSettings, client *httpclient.Client, cache *cachestore.Store) *Provider {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxCandidates == 0 {
		cfg.MaxCandidates = 8
	}
	return &Provider{
		cfg:    cfg,
		http:   client,
		cache:  cache,
		logger: logging.ForService("imagesearch"),
	}
}

// Lookup returns the candidate set for a query, from the candidate cache
// tier when fresh, otherwise from a live provider search written through to
// the tier.
func (p *Provider) Lookup(ctx context.Context, query string) (*CandidateSet, error) {
	imageHash := queryaddr.ImageQueryAddress(query)

	if p.cache != nil {
		if entry, ok := p.cache.Get(cachestore.TierCandidates, imageHash); ok {
			if set, ok := entry.Payload.(*CandidateSet); ok {
				return set, nil
			}
		}
	}
	return p.Search(ctx, query)
}

// Search performs a live provider search, filters the results through the
// viability probe, and writes the surviving set through to the candidate
// cache tier.
func (p *Provider) Search(ctx context.Context, query string) (*CandidateSet, error) {
	normalized := queryaddr.Normalize(query)
	imageHash := queryaddr.ImageQueryAddress(query)

	raw, err := p.providerSearch(ctx, normalized)
	if err != nil {
		return nil, err
	}

	viable := make([]Candidate, 0, len(raw))
	for _, c := range raw {
		if len(viable) >= p.cfg.MaxCandidates {
			break
		}
		if p.isViable(ctx, &c) {
			viable = append(viable, c)
		}
	}

	set := &CandidateSet{
		QueryHash:  imageHash,
		Query:      normalized,
		Candidates: viable,
	}
	if len(viable) > 0 {
		set.TopURL = viable[0].SourceURL
	}

	if p.cache != nil {
		p.cache.Put(cachestore.TierCandidates, imageHash, set)
	}

	p.logger.Debug("image candidates resolved",
		"query_hash", imageHash,
		"raw", len(raw),
		"viable", len(viable))
	return set, nil
}

// providerSearch calls the image search API. Response shape:
// {"results": [{"url": ..., "width": ..., "height": ...}]}.
func (p *Provider) providerSearch(ctx context.Context, normalized string) ([]Candidate, error) {
	if p.cfg.BaseURL == "" {
		return nil, errors.Newf("image search provider is not configured").
			Category(errors.CategoryConfiguration).
			Component("imagesearch").
			Build()
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	reqURL := fmt.Sprintf("%s/search?q=%s&count=%d",
		p.cfg.BaseURL, url.QueryEscape(normalized), p.cfg.MaxCandidates*2)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, errors.Newf("failed to create image search request: %w", err).
			Category(errors.CategoryNetwork).
			Component("imagesearch").
			Build()
	}
	if p.cfg.APIKey != "" {
		req.Header.Set("Ocp-Apim-Subscription-Key", p.cfg.APIKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.http.Do(reqCtx, req)
	if err != nil {
		return nil, errors.Newf("image search request failed: %w", err).
			Category(errors.CategoryNetwork).
			Context("url", reqURL).
			Component("imagesearch").
			Build()
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("image search returned status %d", resp.StatusCode).
			Category(errors.CategoryNetwork).
			Context("status_code", resp.StatusCode).
			Component("imagesearch").
			Build()
	}

	var envelope struct {
		Results []struct {
			URL    string `json:"url"`
			Width  int    `json:"width"`
			Height int    `json:"height"`
		} `json:"results"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&envelope); err != nil {
		return nil, errors.Newf("failed to parse image search response: %w", err).
			Category(errors.CategoryNetwork).
			Component("imagesearch").
			Build()
	}

	candidates := make([]Candidate, 0, len(envelope.Results))
	for _, r := range envelope.Results {
		parsed, err := url.Parse(r.URL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			continue
		}
		candidates = append(candidates, Candidate{
			SourceURL: r.URL,
			Width:     r.Width,
			Height:    r.Height,
			Origin:    parsed.Host,
		})
	}
	return candidates, nil
}

// isViable probes a candidate origin with a HEAD request: reachable, not
// declaring an oversized body, and serving an image-ish content type. Origins
// that refuse HEAD are given the benefit of the doubt; the ingestion pipeline
// verifies bytes authoritatively later.
func (p *Provider) isViable(ctx context.Context, c *Candidate) bool {
	probeCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, c.SourceURL, http.NoBody)
	if err != nil {
		return false
	}
	resp, err := p.http.Do(probeCtx, req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusMethodNotAllowed:
		return true
	case resp.StatusCode != http.StatusOK:
		return false
	}
	if resp.ContentLength > viabilityMaxBytes {
		return false
	}
	contentType := resp.Header.Get("Content-Type")
	return contentType == "" || IsImageish(contentType)
}

// IsImageish reports whether a declared content type plausibly names an
// image. Octet-stream is allowed: many CDNs serve images without a type.
func IsImageish(contentType string) bool {
	switch {
	case len(contentType) >= 6 && contentType[:6] == "image/":
		return true
	case contentType == "application/octet-stream":
		return true
	default:
		return false
	}
}
