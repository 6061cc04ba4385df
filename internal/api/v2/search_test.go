package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardexhq/cardex-go/internal/cachestore"
	"github.com/cardexhq/cardex-go/internal/errors"
	"github.com/cardexhq/cardex-go/internal/priceapi"
	"github.com/cardexhq/cardex-go/internal/queryaddr"
	"github.com/cardexhq/cardex-go/internal/search"
)

func decodeSearch(t *testing.T, body []byte) *SearchResponse {
	t.Helper()
	var resp SearchResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	return &resp
}

func TestSearchRequiresQueryOrID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodGet, "/api/v2/search", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchStrongLocalMatch(t *testing.T) {
	env := newTestEnv(t)
	env.seedCard(t, "ph-025", "Pikachu", "Jungle")
	env.vendor.cards = []priceapi.Card{{ID: "ph-999", Name: "Vendor Pikachu"}}

	rec := env.request(http.MethodGet, "/api/v2/search?q=pikachu", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeSearch(t, rec.Body.Bytes())
	assert.Equal(t, "pikachu", resp.Query)
	assert.Equal(t, queryaddr.HashQuery("pikachu"), resp.QueryHash)
	assert.Equal(t, search.ProvenanceLocal, resp.Provenance)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "ph-025", resp.Results[0].ID)
	assert.Equal(t, 1, resp.Results[0].Rank)

	assert.NotEmpty(t, rec.Header().Get("ETag"))
	assert.Equal(t, "public, max-age=60, s-maxage=300, stale-while-revalidate=120",
		rec.Header().Get("Cache-Control"))
}

func TestSearchVendorFallback(t *testing.T) {
	env := newTestEnv(t)
	env.vendor.cards = []priceapi.Card{
		{ID: "v1", Name: "Charizard"},
		{ID: "v2", Name: "Charizard ex"},
	}

	rec := env.request(http.MethodGet, "/api/v2/search?q=charizard", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeSearch(t, rec.Body.Bytes())
	assert.Equal(t, search.ProvenanceVendorFallback, resp.Provenance)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "v1", resp.Results[0].ID)
	assert.Greater(t, resp.Results[0].Score, resp.Results[1].Score)
	assert.Equal(t, 1, resp.Results[0].Rank)
	assert.Equal(t, 2, resp.Results[1].Rank)
}

func TestSearchSecondCallServedFromCache(t *testing.T) {
	env := newTestEnv(t)
	env.vendor.cards = []priceapi.Card{{ID: "v1", Name: "Pikachu"}}

	rec := env.request(http.MethodGet, "/api/v2/search?q=pikachu", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Same intent with different spacing: no second vendor call.
	rec = env.request(http.MethodGet, "/api/v2/search?q=++Pikachu++", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, int32(1), env.vendor.searchCalls.Load())
}

func TestSearchProviderTierAnswersBlendedExpiry(t *testing.T) {
	env := newTestEnv(t)
	env.vendor.cards = []priceapi.Card{{ID: "v1", Name: "Snorlax"}}

	rec := env.request(http.MethodGet, "/api/v2/search?q=snorlax", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int32(1), env.vendor.searchCalls.Load())

	// Blended entry gone, raw vendor payload still fresh: the re-blend must be
	// fed from the provider tier, not a second vendor call.
	env.cache.Delete(cachestore.TierBlended, queryaddr.HashQuery("snorlax"))

	rec = env.request(http.MethodGet, "/api/v2/search?q=snorlax", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeSearch(t, rec.Body.Bytes())
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "v1", resp.Results[0].ID)
	assert.Equal(t, int32(1), env.vendor.searchCalls.Load())
}

func TestSearchReadsSeededProviderTier(t *testing.T) {
	env := newTestEnv(t)

	key := queryaddr.ProviderKey(env.vendor.ProviderID(), queryaddr.HashQuery("gengar"))
	env.cache.Put(cachestore.TierProvider, key, []priceapi.Card{{ID: "p1", Name: "Gengar"}})

	rec := env.request(http.MethodGet, "/api/v2/search?q=gengar", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeSearch(t, rec.Body.Bytes())
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "p1", resp.Results[0].ID)
	assert.Zero(t, env.vendor.searchCalls.Load(), "fresh provider payload needs no live call")
}

func TestSearchConditionalRequest(t *testing.T) {
	env := newTestEnv(t)
	env.vendor.cards = []priceapi.Card{{ID: "v1", Name: "Pikachu"}}

	rec := env.request(http.MethodGet, "/api/v2/search?q=pikachu", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	rec = env.request(http.MethodGet, "/api/v2/search?q=pikachu", nil,
		map[string]string{"If-None-Match": etag})
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
}

func TestSearchConditionalRequestValidatorForms(t *testing.T) {
	env := newTestEnv(t)
	env.vendor.cards = []priceapi.Card{{ID: "v1", Name: "Pikachu"}}

	rec := env.request(http.MethodGet, "/api/v2/search?q=pikachu", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	cases := map[string]string{
		"weak validator": "W/" + etag,
		"list":           `"stale-tag", ` + etag,
		"weak in list":   `"stale-tag", W/` + etag,
		"wildcard":       "*",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			rec := env.request(http.MethodGet, "/api/v2/search?q=pikachu", nil,
				map[string]string{"If-None-Match": header})
			assert.Equal(t, http.StatusNotModified, rec.Code)
		})
	}

	rec = env.request(http.MethodGet, "/api/v2/search?q=pikachu", nil,
		map[string]string{"If-None-Match": `"some-other-tag"`})
	assert.Equal(t, http.StatusOK, rec.Code, "non-matching tag must serve the full response")
}

func TestSearchVendorDownNoFallbackIs502(t *testing.T) {
	env := newTestEnv(t)
	env.vendor.err = errors.Newf("vendor unavailable").
		Category(errors.CategoryVendorAPI).
		Component("priceapi").
		Build()

	rec := env.request(http.MethodGet, "/api/v2/search?q=nothing+local", nil, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestSearchVendorDownDegradesToLocal(t *testing.T) {
	env := newTestEnv(t)
	env.seedCard(t, "ph-025", "Pikachu", "Jungle")
	env.vendor.err = errors.Newf("vendor unavailable").
		Category(errors.CategoryVendorAPI).
		Component("priceapi").
		Build()

	rec := env.request(http.MethodGet, "/api/v2/search?q=pikachu", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeSearch(t, rec.Body.Bytes())
	assert.Equal(t, search.ProvenanceLocal, resp.Provenance)
	require.NotEmpty(t, resp.Results)
}

func TestSearchByID(t *testing.T) {
	env := newTestEnv(t)
	env.vendor.card = &priceapi.Card{ID: "ph-006", Name: "Charizard", SetName: "Base Set"}

	rec := env.request(http.MethodGet, "/api/v2/search?id=ph-006", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeSearch(t, rec.Body.Bytes())
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "ph-006", resp.Results[0].ID)
}

func TestSearchPostBody(t *testing.T) {
	env := newTestEnv(t)
	env.vendor.cards = []priceapi.Card{{ID: "v1", Name: "Mewtwo"}}

	rec := env.request(http.MethodPost, "/api/v2/search",
		jsonBody(`{"q": "mewtwo", "limit": 5}`), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeSearch(t, rec.Body.Bytes())
	assert.Equal(t, "mewtwo", resp.Query)
}

func TestSearchTouchesHotCounter(t *testing.T) {
	env := newTestEnv(t)
	env.vendor.cards = []priceapi.Card{{ID: "v1", Name: "Pikachu"}}

	for range 2 {
		rec := env.request(http.MethodGet, "/api/v2/search?q=pikachu", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	counter, err := env.ds.GetHotQuery(queryaddr.HashQuery("pikachu"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), counter.Hits)
}

func TestSearchPromotionSchedulesIngestion(t *testing.T) {
	env := newTestEnv(t)
	env.vendor.cards = []priceapi.Card{{ID: "v1", Name: "Pikachu"}}
	env.images.set = candidateSetFixture("pikachu", "https://img.test/pikachu.png")

	// Threshold is 3 in the test settings.
	for range 3 {
		rec := env.request(http.MethodGet, "/api/v2/search?q=pikachu", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	env.drain(t)

	assert.Contains(t, env.ingestor.ingested(), "https://img.test/pikachu.png")

	counter, err := env.ds.GetHotQuery(queryaddr.HashQuery("pikachu"))
	require.NoError(t, err)
	assert.NotNil(t, counter.CommittedAt, "promotion is stamped at scheduling time")
}

func TestSearchPrewarmsCandidatesOnMiss(t *testing.T) {
	env := newTestEnv(t)
	env.vendor.cards = []priceapi.Card{{ID: "v1", Name: "Pikachu"}}

	rec := env.request(http.MethodGet, "/api/v2/search?q=pikachu", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	env.drain(t)

	assert.Positive(t, env.images.calls.Load(), "empty candidate tier triggers a prewarm search")
}
