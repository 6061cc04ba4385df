package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/cardexhq/cardex-go/internal/cachestore"
	"github.com/cardexhq/cardex-go/internal/datastore"
	"github.com/cardexhq/cardex-go/internal/imagesearch"
)

// BindTarget names where an ingested asset should be bound as primary.
type BindTarget struct {
	CardID uint   `json:"card_id"`
	Role   string `json:"role"`
}

// IngestRequest is a tagged union dispatched in one place: a single
// query_hash (optionally with a binding target), a batch of hashes, or
// nothing at all, which self-selects hot queries past their cooloff.
type IngestRequest struct {
	QueryHash   string      `json:"query_hash,omitempty"`
	Bind        *BindTarget `json:"bind,omitempty"`
	QueryHashes []string    `json:"query_hashes,omitempty"`
}

// IngestResponse reports how many pipeline runs were scheduled.
type IngestResponse struct {
	Scheduled int `json:"scheduled"`
}

// TriggerIngest schedules ingestion pipeline runs and returns 202
// immediately; it never blocks on pipeline completion.
func (c *Controller) TriggerIngest(ctx echo.Context) error {
	var req IngestRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "invalid ingest request", http.StatusBadRequest)
	}
	if req.QueryHash != "" && len(req.QueryHashes) > 0 {
		return c.HandleError(ctx, nil, "query_hash and query_hashes are mutually exclusive", http.StatusBadRequest)
	}
	if req.Bind != nil && req.QueryHash == "" {
		return c.HandleError(ctx, nil, "bind requires query_hash", http.StatusBadRequest)
	}
	if req.Bind != nil && !validRole(req.Bind.Role) {
		return c.HandleError(ctx, nil, "bind role must be front, back or extra", http.StatusBadRequest)
	}

	scheduled := 0
	switch {
	case req.QueryHash != "":
		if c.scheduleCandidateIngest(req.QueryHash, req.Bind) {
			scheduled++
		}
	case len(req.QueryHashes) > 0:
		for _, hash := range req.QueryHashes {
			if hash == "" {
				continue
			}
			if c.scheduleCandidateIngest(hash, nil) {
				scheduled++
			}
		}
	default:
		n, err := c.scheduleHotQueries()
		if err != nil {
			return c.HandleError(ctx, err, "failed to select hot queries", http.StatusInternalServerError)
		}
		scheduled = n
	}

	return ctx.JSON(http.StatusAccepted, IngestResponse{Scheduled: scheduled})
}

// scheduleCandidateIngest spawns a pipeline run for the top candidate of a
// query hash. Returns false when the candidate tier has nothing to ingest.
func (c *Controller) scheduleCandidateIngest(queryHash string, bind *BindTarget) bool {
	entry, ok := c.Cache.Get(cachestore.TierCandidates, queryHash)
	if !ok {
		return false
	}
	set, ok := entry.Payload.(*imagesearch.CandidateSet)
	if !ok || set.TopURL == "" {
		return false
	}

	topURL := set.TopURL
	target := bind
	c.spawn("ingest-trigger", func(taskCtx context.Context) error {
		ingested, err := c.Ingest.Ingest(taskCtx, topURL)
		if err != nil {
			return err
		}
		if target != nil && ingested.Status == datastore.ImageStatusReady {
			return c.DS.SetPrimaryBinding(target.CardID, target.Role, ingested.ID)
		}
		return nil
	})
	return true
}

// scheduleHotQueries self-selects promotable hot queries, stamping each at
// scheduling time so concurrent triggers do not double-promote.
func (c *Controller) scheduleHotQueries() (int, error) {
	counters, err := c.Tracker.SelectPromotable()
	if err != nil {
		return 0, err
	}

	scheduled := 0
	for i := range counters {
		counter := counters[i]
		if err := c.Tracker.MarkScheduled(counter.QueryHash); err != nil {
			c.logger.Warn("failed to stamp promotion",
				"query_hash", counter.QueryHash,
				"error", err)
			continue
		}

		query := counter.Query
		c.spawn("hot-query-ingest", func(taskCtx context.Context) error {
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
		scheduled++
	}
	return scheduled, nil
}

func validRole(role string) bool {
	switch role {
	case datastore.RoleFront, datastore.RoleBack, datastore.RoleExtra:
		return true
	}
	return false
}
