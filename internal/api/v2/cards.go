package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cardexhq/cardex-go/internal/datastore"
	"github.com/cardexhq/cardex-go/internal/errors"
)

// CardResponse is the /cards/:id payload.
type CardResponse struct {
	ID       uint               `json:"id"`
	VendorID string             `json:"vendor_id"`
	Name     string             `json:"name"`
	SetName  string             `json:"set_name"`
	Number   string             `json:"number,omitempty"`
	Rarity   string             `json:"rarity,omitempty"`
	Prices   map[string]float64 `json:"prices,omitempty"`
}

// GetCard returns the stored card for a vendor id. When the card is absent
// but hint data is supplied the handler answers 206 immediately and schedules
// vendor population in the background, so the next read finds the record.
func (c *Controller) GetCard(ctx echo.Context) error {
	vendorID := strings.TrimSpace(ctx.Param("id"))
	if vendorID == "" {
		return c.HandleError(ctx, nil, "card id is required", http.StatusBadRequest)
	}

	card, err := c.DS.GetCardByVendorID(vendorID)
	if err == nil {
		c.recordView(card.ID)
		return ctx.JSON(http.StatusOK, cardResponse(card))
	}
	if !errors.IsNotFound(err) {
		return c.HandleError(ctx, err, "failed to load card", http.StatusInternalServerError)
	}

	// Hint data signals the caller knows this card exists upstream.
	hintName := strings.TrimSpace(ctx.QueryParam("name"))
	if hintName == "" {
		return c.HandleError(ctx, nil, "card not found", http.StatusNotFound)
	}

	c.spawn("card-population", func(taskCtx context.Context) error {
		vendorCard, err := c.Vendor.GetCard(taskCtx, vendorID)
		if err != nil {
			return err
		}
		prices := ""
		if vendorCard.Prices != nil {
			if b, err := json.Marshal(vendorCard.Prices); err == nil {
				prices = string(b)
			}
		}
		return c.DS.UpsertCard(&datastore.Card{
			VendorID: vendorCard.ID,
			Name:     vendorCard.Name,
			SetName:  vendorCard.SetName,
			Number:   vendorCard.Number,
			Rarity:   vendorCard.Rarity,
			Prices:   prices,
		})
	})

	return ctx.JSON(http.StatusPartialContent, map[string]string{
		"vendor_id": vendorID,
		"name":      hintName,
		"status":    "populating",
	})
}

// recordView schedules lightweight recent-view bookkeeping after the
// response is already on its way.
func (c *Controller) recordView(cardID uint) {
	c.spawn("recent-view", func(taskCtx context.Context) error {
		return c.DS.SaveRecentView(cardID, time.Now().UTC())
	})
}

func cardResponse(card *datastore.Card) *CardResponse {
	resp := &CardResponse{
		ID:       card.ID,
		VendorID: card.VendorID,
		Name:     card.Name,
		SetName:  card.SetName,
		Number:   card.Number,
		Rarity:   card.Rarity,
	}
	if card.Prices != "" {
		var prices map[string]float64
		if err := json.Unmarshal([]byte(card.Prices), &prices); err == nil {
			resp.Prices = prices
		}
	}
	return resp
}
