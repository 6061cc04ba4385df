package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardexhq/cardex-go/internal/cachestore"
	"github.com/cardexhq/cardex-go/internal/datastore"
	"github.com/cardexhq/cardex-go/internal/errors"
	"github.com/cardexhq/cardex-go/internal/imagesearch"
)

const internalHeaderOn = "1"

func TestResolveImageUnresolvableServesPlaceholder(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodGet, "/api/v2/images/resolve", nil, nil)
	assert.Equal(t, http.StatusFound, rec.Code, "placeholder is a redirect, never an error")
	assert.Contains(t, rec.Header().Get("Location"), "placeholder/card.png")
}

func TestResolveImageInternalCallerGetsJSON(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodGet, "/api/v2/images/resolve", nil,
		map[string]string{internalHeader: internalHeaderOn})
	require.Equal(t, http.StatusOK, rec.Code)

	var resolved ResolvedImage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resolved))
	assert.Equal(t, imageStatusPlaceholder, resolved.Status)
	assert.Contains(t, resolved.URL, "placeholder/card.png")
}

func TestResolveImageByAssetID(t *testing.T) {
	env := newTestEnv(t)
	entry := env.seedReadyImage(t, "aabbccdd", "aa/bb/aabbccdd")

	rec := env.request(http.MethodGet,
		"/api/v2/images/resolve?asset_id="+uitoa(entry.ID)+"&variant=thumb&shape=card", nil, nil)
	require.Equal(t, http.StatusFound, rec.Code)

	location := rec.Header().Get("Location")
	assert.Contains(t, location, "aa/bb/aabbccdd")
	assert.Contains(t, location, "w=320")
	assert.Contains(t, location, "h=447")
}

func TestResolveImageByOwnerBinding(t *testing.T) {
	env := newTestEnv(t)
	card := env.seedCard(t, "ph-006", "Charizard", "Base Set")
	entry := env.seedReadyImage(t, "ffeeddcc", "ff/ee/ffeeddcc")
	require.NoError(t, env.ds.SetPrimaryBinding(card.ID, datastore.RoleFront, entry.ID))

	rec := env.request(http.MethodGet,
		"/api/v2/images/resolve?owner_id="+uitoa(card.ID)+"&role=front", nil, nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "ff/ee/ffeeddcc")
}

func TestResolveImageCandidateNotDurableSchedulesIngest(t *testing.T) {
	env := newTestEnv(t)
	set := candidateSetFixture("charizard", "https://img.test/charizard.png")
	env.cache.Put(cachestore.TierCandidates, set.QueryHash, set)

	rec := env.request(http.MethodGet,
		"/api/v2/images/resolve?query_hash="+set.QueryHash, nil,
		map[string]string{internalHeader: internalHeaderOn})
	require.Equal(t, http.StatusOK, rec.Code)

	var resolved ResolvedImage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resolved))
	assert.Equal(t, imageStatusPending, resolved.Status)

	env.drain(t)
	assert.Contains(t, env.ingestor.ingested(), "https://img.test/charizard.png")
}

func TestResolveImageCandidateAlreadyDurable(t *testing.T) {
	env := newTestEnv(t)
	set := candidateSetFixture("charizard", "https://img.test/charizard.png")
	env.cache.Put(cachestore.TierCandidates, set.QueryHash, set)

	require.NoError(t, env.ds.UpsertImageCache(&datastore.ImageCache{
		Hash:        "cafebabe",
		SourceURL:   "https://img.test/charizard.png",
		ContentHash: "cafebabe",
		Status:      datastore.ImageStatusReady,
		StoragePath: "ca/fe/cafebabe",
	}))

	rec := env.request(http.MethodGet,
		"/api/v2/images/resolve?query_hash="+set.QueryHash, nil, nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "ca/fe/cafebabe")
	assert.Empty(t, env.ingestor.ingested(), "durable candidates are not re-ingested")
}

func TestImageCandidatesRequiresQuery(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(http.MethodGet, "/api/v2/images/candidates", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImageCandidates(t *testing.T) {
	env := newTestEnv(t)
	env.images.set = candidateSetFixture("pikachu", "https://img.test/pikachu.png")

	rec := env.request(http.MethodGet, "/api/v2/images/candidates?q=pikachu", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var set imagesearch.CandidateSet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &set))
	assert.Equal(t, "https://img.test/pikachu.png", set.TopURL)
	require.Len(t, set.Candidates, 1)
}

func TestImageCandidatesUpstreamFailure(t *testing.T) {
	env := newTestEnv(t)
	env.images.err = errors.Newf("search provider down").
		Category(errors.CategoryNetwork).
		Component("imagesearch").
		Build()

	rec := env.request(http.MethodGet, "/api/v2/images/candidates?q=pikachu", nil, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func uitoa(n uint) string {
	return strconv.FormatUint(uint64(n), 10)
}
