package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"github.com/cardexhq/cardex-go/internal/cachestore"
	"github.com/cardexhq/cardex-go/internal/datastore"
	"github.com/cardexhq/cardex-go/internal/errors"
	"github.com/cardexhq/cardex-go/internal/hotquery"
	"github.com/cardexhq/cardex-go/internal/imagesearch"
	"github.com/cardexhq/cardex-go/internal/priceapi"
	"github.com/cardexhq/cardex-go/internal/queryaddr"
	"github.com/cardexhq/cardex-go/internal/search"
)

// SearchRequest is the accepted body for POST /search; GET uses the same
// fields as query parameters.
type SearchRequest struct {
	Query string `json:"q" query:"q"`
	ID    string `json:"id" query:"id"`
	Limit int    `json:"limit" query:"limit"`
}

// ImageAttachment is the candidate-image summary attached to a search
// response when the candidate tier has a fresh set for the query.
type ImageAttachment struct {
	QueryHash string `json:"query_hash"`
	TopURL    string `json:"top_url,omitempty"`
}

// SearchResponse is the /search payload.
type SearchResponse struct {
	Query      string           `json:"query"`
	QueryHash  string           `json:"query_hash"`
	Provenance string           `json:"provenance"`
	Results    []search.Result  `json:"results"`
	Image      *ImageAttachment `json:"image,omitempty"`

	// digest is the integrity tag used for conditional requests; computed
	// once at blend time and reused on cache hits.
	digest string
}

// Search serves card search: blended-tier hit, or parallel vendor+local
// fetch, blend, candidate attachment and write-through on miss. Every serve
// touches the hot-query counter; crossing the promotion threshold schedules
// ingestion in the background.
func (c *Controller) Search(ctx echo.Context) error {
	var req SearchRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "invalid search request", http.StatusBadRequest)
	}
	req.Query = strings.TrimSpace(req.Query)
	req.ID = strings.TrimSpace(req.ID)
	if req.Query == "" && req.ID == "" {
		return c.HandleError(ctx, nil, "either q or id is required", http.StatusBadRequest)
	}
	limit := c.clampLimit(req.Limit)

	// An id lookup is addressed like a query in its own right, so repeat
	// fetches of one card share a blended entry.
	rawQuery := req.Query
	if rawQuery == "" {
		rawQuery = "id:" + req.ID
	}
	normalized := queryaddr.Normalize(rawQuery)
	queryHash := queryaddr.AddressOf(normalized)

	if entry, ok := c.Cache.Get(cachestore.TierBlended, queryHash); ok {
		if resp, ok := entry.Payload.(*SearchResponse); ok {
			c.afterServe(normalized, queryHash, resp)
			return c.respondSearch(ctx, resp)
		}
	}

	resp, err := c.resolveSearch(ctx.Request().Context(), &req, normalized, queryHash, limit)
	if err != nil {
		if errors.IsCategory(err, errors.CategoryValidation) {
			return c.HandleError(ctx, err, "invalid search request", http.StatusBadRequest)
		}
		return c.HandleError(ctx, err, "search backends unavailable", http.StatusBadGateway)
	}

	c.Cache.Put(cachestore.TierBlended, queryHash, resp)
	c.afterServe(normalized, queryHash, resp)
	return c.respondSearch(ctx, resp)
}

// resolveSearch performs the live miss path: vendor and local search in
// parallel, blend, candidate attachment. A vendor failure with usable local
// rows degrades to local-only rather than failing the request.
func (c *Controller) resolveSearch(reqCtx context.Context, req *SearchRequest, normalized, queryHash string, limit int) (*SearchResponse, error) {
	var vendorRows []priceapi.Card
	var vendorErr error
	var localRows []search.ScoredCard
	var localErr error

	// Provider tier first: a blended-tier expiry alone must not force a live
	// vendor call while the raw payload is still fresh.
	providerKey := queryaddr.ProviderKey(c.Vendor.ProviderID(), queryHash)
	vendorRows, vendorHit := c.providerTierLookup(providerKey)

	g, gctx := errgroup.WithContext(reqCtx)
	if !vendorHit {
		g.Go(func() error {
			vendorRows, vendorErr = c.fetchVendor(gctx, req, limit)
			return nil
		})
	}
	g.Go(func() error {
		localRows, localErr = c.fetchLocal(req, limit)
		return nil
	})
	_ = g.Wait()

	if vendorErr != nil && localErr != nil {
		return nil, vendorErr
	}
	if vendorErr != nil && len(localRows) == 0 {
		// No fallback data at all.
		return nil, vendorErr
	}
	if vendorErr != nil {
		c.logger.Warn("vendor search failed, serving local results",
			"query_hash", queryHash,
			"error", vendorErr)
	}
	if localErr != nil {
		c.logger.Warn("local search failed, serving vendor results",
			"query_hash", queryHash,
			"error", localErr)
	}

	// Write live vendor payloads through to the provider tier; it outlives the
	// blended tier and answers re-blends until the payload itself goes stale.
	if !vendorHit && vendorErr == nil && len(vendorRows) > 0 {
		c.Cache.Put(cachestore.TierProvider, providerKey, vendorRows)
	}

	results, provenance := search.Blend(localRows, vendorRows, search.BlendConfig{
		ScoreThreshold: c.Settings.Search.ScoreThreshold,
		FallbackBase:   c.Settings.Search.FallbackBase,
		FallbackStep:   c.Settings.Search.FallbackStep,
	})

	resp := &SearchResponse{
		Query:      normalized,
		QueryHash:  queryHash,
		Provenance: provenance,
		Results:    results,
	}
	c.attachCandidates(normalized, resp)
	resp.digest = responseDigest(resp)

	// Persist live vendor rows so future local searches can score them. A
	// provider-tier hit was already synced when it was first fetched.
	if !vendorHit && vendorErr == nil {
		c.spawnVendorSync(vendorRows)
	}
	return resp, nil
}

// providerTierLookup returns the cached raw vendor payload for the query, if
// the provider tier still holds a fresh one.
func (c *Controller) providerTierLookup(providerKey string) ([]priceapi.Card, bool) {
	entry, ok := c.Cache.Get(cachestore.TierProvider, providerKey)
	if !ok {
		return nil, false
	}
	rows, ok := entry.Payload.([]priceapi.Card)
	if !ok {
		return nil, false
	}
	return rows, true
}

func (c *Controller) fetchVendor(ctx context.Context, req *SearchRequest, limit int) ([]priceapi.Card, error) {
	if req.ID != "" {
		card, err := c.Vendor.GetCard(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		return []priceapi.Card{*card}, nil
	}
	return c.Vendor.SearchCards(ctx, req.Query, limit)
}

func (c *Controller) fetchLocal(req *SearchRequest, limit int) ([]search.ScoredCard, error) {
	if req.ID != "" {
		card, err := c.DS.GetCardByVendorID(req.ID)
		if err != nil {
			if errors.IsNotFound(err) {
				return nil, nil
			}
			return nil, err
		}
		return []search.ScoredCard{{Card: *card, Score: 1.0}}, nil
	}
	return c.Local.Search(req.Query, limit)
}

// attachCandidates decorates the response with the cached candidate set for
// the query, scheduling a prewarm search when the tier is empty.
func (c *Controller) attachCandidates(normalized string, resp *SearchResponse) {
	imageHash := queryaddr.ImageQueryAddress(normalized)
	if entry, ok := c.Cache.Get(cachestore.TierCandidates, imageHash); ok {
		if set, ok := entry.Payload.(*imagesearch.CandidateSet); ok {
			resp.Image = &ImageAttachment{QueryHash: set.QueryHash, TopURL: set.TopURL}
			return
		}
	}

	resp.Image = &ImageAttachment{QueryHash: imageHash}
	query := normalized
	c.spawn("candidate-prewarm", func(taskCtx context.Context) error {
		_, err := c.Images.Search(taskCtx, query)
		return err
	})
}

// afterServe runs the per-serve bookkeeping: hot counter touch and, when the
// promotion policy fires, scheduling ingestion of the query's top candidate.
func (c *Controller) afterServe(normalized, queryHash string, resp *SearchResponse) {
	if c.Tracker == nil {
		return
	}
	if err := c.Tracker.Touch(queryHash, normalized); err != nil {
		c.logger.Warn("failed to touch hot query", "query_hash", queryHash, "error", err)
		return
	}

	counter, err := c.DS.GetHotQuery(queryHash)
	if err != nil {
		return
	}
	if !hotquery.ShouldPromote(counter.Hits, c.Tracker.Threshold(), counter.CommittedAt, c.Tracker.Cooloff(), time.Now().UTC()) {
		return
	}
	if err := c.Tracker.MarkScheduled(queryHash); err != nil {
		c.logger.Warn("failed to stamp promotion", "query_hash", queryHash, "error", err)
		return
	}

	query := normalized
	c.spawn("hot-query-promotion", func(taskCtx context.Context) error {
		set, err := c.Images.Lookup(taskCtx, query)
		if err != nil {
			return err
		}
		if set.TopURL == "" {
			return nil
		}
		_, err = c.Ingest.Ingest(taskCtx, set.TopURL)
		return err
	})
}

// spawnVendorSync persists vendor rows into the local catalog in the
// background so subsequent local searches can rank them.
func (c *Controller) spawnVendorSync(rows []priceapi.Card) {
	if len(rows) == 0 {
		return
	}
	cards := make([]priceapi.Card, len(rows))
	copy(cards, rows)
	c.spawn("vendor-catalog-sync", func(taskCtx context.Context) error {
		for i := range cards {
			prices := ""
			if cards[i].Prices != nil {
				if b, err := json.Marshal(cards[i].Prices); err == nil {
					prices = string(b)
				}
			}
			err := c.DS.UpsertCard(&datastore.Card{
				VendorID: cards[i].ID,
				Name:     cards[i].Name,
				SetName:  cards[i].SetName,
				Number:   cards[i].Number,
				Rarity:   cards[i].Rarity,
				Prices:   prices,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// respondSearch writes the response with conditional-request and cache
// headers. A matching If-None-Match short-circuits to 304.
func (c *Controller) respondSearch(ctx echo.Context, resp *SearchResponse) error {
	etag := `"` + resp.digest + `"`
	if match := ctx.Request().Header.Get("If-None-Match"); match != "" && etagMatches(match, etag) {
		return ctx.NoContent(http.StatusNotModified)
	}

	ctx.Response().Header().Set("ETag", etag)
	ctx.Response().Header().Set("Cache-Control", c.cacheControlValue())
	return ctx.JSON(http.StatusOK, resp)
}

func (c *Controller) clampLimit(limit int) int {
	if limit <= 0 {
		return c.Settings.Search.DefaultLimit
	}
	if maxLimit := c.Settings.Search.MaxLimit; maxLimit > 0 && limit > maxLimit {
		return maxLimit
	}
	return limit
}

// etagMatches reports whether any entity tag in an If-None-Match header value
// matches etag. The header may carry a comma-separated list, weak validators
// (W/"...") or a bare *; If-None-Match uses weak comparison, so the W/ prefix
// is ignored.
func etagMatches(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		if strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

// responseDigest computes the integrity tag over the canonical JSON payload.
func responseDigest(resp *SearchResponse) string {
	b, err := json.Marshal(resp)
	if err != nil {
		return strconv.FormatInt(int64(len(resp.Results)), 16)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
