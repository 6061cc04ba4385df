package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardexhq/cardex-go/internal/datastore"
	"github.com/cardexhq/cardex-go/internal/priceapi"
)

func TestGetCardStored(t *testing.T) {
	env := newTestEnv(t)
	card := env.seedCard(t, "ph-006", "Charizard", "Base Set")
	require.NoError(t, env.ds.UpsertCard(&datastore.Card{
		VendorID: "ph-006",
		Name:     "Charizard",
		SetName:  "Base Set",
		Prices:   `{"market": 420.50}`,
	}))

	rec := env.request(http.MethodGet, "/api/v2/cards/ph-006", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CardResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, card.ID, resp.ID)
	assert.Equal(t, "Charizard", resp.Name)
	assert.InDelta(t, 420.50, resp.Prices["market"], 0.001)

	// Serving a card leaves a recent-view trace.
	env.drain(t)
	views, err := env.ds.GetRecentViews(10)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, card.ID, views[0].CardID)
}

func TestGetCardUnknownWithoutHint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodGet, "/api/v2/cards/ph-404", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, env.vendor.getCalls.Load(), "no hint, no vendor trip")
}

func TestGetCardUnknownWithHintPopulates(t *testing.T) {
	env := newTestEnv(t)
	env.vendor.card = &priceapi.Card{
		ID:      "ph-150",
		Name:    "Mewtwo",
		SetName: "Base Set",
		Prices:  map[string]float64{"market": 99.0},
	}

	rec := env.request(http.MethodGet, "/api/v2/cards/ph-150?name=Mewtwo", nil, nil)
	require.Equal(t, http.StatusPartialContent, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "populating", resp["status"])
	assert.Equal(t, "ph-150", resp["vendor_id"])

	env.drain(t)
	stored, err := env.ds.GetCardByVendorID("ph-150")
	require.NoError(t, err)
	assert.Equal(t, "Mewtwo", stored.Name)
	assert.Contains(t, stored.Prices, "market")

	// The next read is a plain 200.
	rec = env.request(http.MethodGet, "/api/v2/cards/ph-150", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetCardVendorFailureDuringPopulation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodGet, "/api/v2/cards/ph-151?name=Mew", nil, nil)
	require.Equal(t, http.StatusPartialContent, rec.Code)

	env.drain(t)
	_, err := env.ds.GetCardByVendorID("ph-151")
	assert.Error(t, err, "population failed, nothing stored")
}
