package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/cardexhq/cardex-go/internal/cachestore"
	"github.com/cardexhq/cardex-go/internal/cdn"
	"github.com/cardexhq/cardex-go/internal/datastore"
	"github.com/cardexhq/cardex-go/internal/errors"
	"github.com/cardexhq/cardex-go/internal/imagesearch"
)

// Image resolution statuses reported to internal callers.
const (
	imageStatusReady       = "ready"
	imageStatusPending     = "pending"
	imageStatusPlaceholder = "placeholder"
)

// ResolvedImage is the JSON shape returned to internal callers.
type ResolvedImage struct {
	URL    string `json:"url"`
	Status string `json:"status"`
}

// ResolveImage resolves an image by asset id, (owner_id, role) binding, or
// candidate query_hash, always producing a servable URL. Unresolvable inputs
// fall back to the placeholder asset rather than an error; a candidate that
// is not yet durable additionally schedules its ingestion.
func (c *Controller) ResolveImage(ctx echo.Context) error {
	opts := c.cdnOptionsFromRequest(ctx)

	resolved := c.resolve(ctx)
	if resolved == nil {
		resolved = &ResolvedImage{
			URL:    c.CDN.BuildURL(c.Settings.CDN.PlaceholderPath, opts),
			Status: imageStatusPlaceholder,
		}
	} else if resolved.URL == "" {
		resolved.URL = c.CDN.BuildURL(c.Settings.CDN.PlaceholderPath, opts)
	}

	if ctx.Request().Header.Get(internalHeader) == "1" {
		return ctx.JSON(http.StatusOK, resolved)
	}
	return ctx.Redirect(http.StatusFound, resolved.URL)
}

// resolve tries the three addressing modes in order of specificity. A nil
// return means nothing at all matched.
func (c *Controller) resolve(ctx echo.Context) *ResolvedImage {
	opts := c.cdnOptionsFromRequest(ctx)

	if assetID := ctx.QueryParam("asset_id"); assetID != "" {
		id, err := strconv.ParseUint(assetID, 10, 64)
		if err != nil {
			return nil
		}
		return c.resolveByEntryID(uint(id), opts)
	}

	if ownerID := ctx.QueryParam("owner_id"); ownerID != "" {
		role := ctx.QueryParam("role")
		if role == "" {
			role = datastore.RoleFront
		}
		id, err := strconv.ParseUint(ownerID, 10, 64)
		if err != nil {
			return nil
		}
		binding, err := c.DS.GetBinding(uint(id), role)
		if err != nil {
			return nil
		}
		return c.resolveByEntryID(binding.ImageCacheID, opts)
	}

	if queryHash := ctx.QueryParam("query_hash"); queryHash != "" {
		return c.resolveCandidate(queryHash, opts)
	}
	return nil
}

func (c *Controller) resolveByEntryID(id uint, opts cdn.Options) *ResolvedImage {
	entry, err := c.DS.GetImageCacheByID(id)
	if err != nil || entry.Status != datastore.ImageStatusReady {
		return nil
	}
	return &ResolvedImage{
		URL:    c.CDN.BuildURL(entry.StoragePath, opts),
		Status: imageStatusReady,
	}
}

// resolveCandidate serves candidate mode: a durable ingest of the top
// candidate wins; otherwise the placeholder is served now and ingestion is
// scheduled so a later resolve finds the durable asset.
func (c *Controller) resolveCandidate(queryHash string, opts cdn.Options) *ResolvedImage {
	entry, ok := c.Cache.Get(cachestore.TierCandidates, queryHash)
	if !ok {
		return nil
	}
	set, ok := entry.Payload.(*imagesearch.CandidateSet)
	if !ok || set.TopURL == "" {
		return nil
	}

	if cached, err := c.DS.GetImageCacheBySourceURL(set.TopURL); err == nil &&
		cached.Status == datastore.ImageStatusReady {
		return &ResolvedImage{
			URL:    c.CDN.BuildURL(cached.StoragePath, opts),
			Status: imageStatusReady,
		}
	}

	topURL := set.TopURL
	c.spawn("candidate-ingest", func(taskCtx context.Context) error {
		_, err := c.Ingest.Ingest(taskCtx, topURL)
		return err
	})
	return &ResolvedImage{Status: imageStatusPending}
}

// ImageCandidates serves viability-filtered candidate descriptors for a
// free-text query, writing through to the candidate tier.
func (c *Controller) ImageCandidates(ctx echo.Context) error {
	var req struct {
		Query string `json:"q" query:"q"`
	}
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "invalid candidates request", http.StatusBadRequest)
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return c.HandleError(ctx, nil, "q is required", http.StatusBadRequest)
	}

	set, err := c.Images.Lookup(ctx.Request().Context(), req.Query)
	if err != nil {
		if errors.IsCategory(err, errors.CategoryConfiguration) {
			return c.HandleError(ctx, err, "image search is not configured", http.StatusServiceUnavailable)
		}
		return c.HandleError(ctx, err, "image search unavailable", http.StatusBadGateway)
	}
	return ctx.JSON(http.StatusOK, set)
}

// cdnOptionsFromRequest maps rendition query parameters onto CDN options.
func (c *Controller) cdnOptionsFromRequest(ctx echo.Context) cdn.Options {
	atoi := func(s string) int {
		n, _ := strconv.Atoi(s)
		return n
	}
	return cdn.Options{
		Variant: ctx.QueryParam("variant"),
		Shape:   ctx.QueryParam("shape"),
		Fit:     ctx.QueryParam("fit"),
		Width:   atoi(ctx.QueryParam("width")),
		Height:  atoi(ctx.QueryParam("height")),
		Quality: atoi(ctx.QueryParam("quality")),
	}
}
