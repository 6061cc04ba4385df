package api

import (
	"context"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/cardexhq/cardex-go/internal/cachestore"
	"github.com/cardexhq/cardex-go/internal/cdn"
	"github.com/cardexhq/cardex-go/internal/conf"
	"github.com/cardexhq/cardex-go/internal/datastore"
	"github.com/cardexhq/cardex-go/internal/deferred"
	"github.com/cardexhq/cardex-go/internal/errors"
	"github.com/cardexhq/cardex-go/internal/hotquery"
	"github.com/cardexhq/cardex-go/internal/imagesearch"
	"github.com/cardexhq/cardex-go/internal/priceapi"
	"github.com/cardexhq/cardex-go/internal/queryaddr"
	"github.com/cardexhq/cardex-go/internal/search"
)

type fakeVendor struct {
	mu          sync.Mutex
	cards       []priceapi.Card
	card        *priceapi.Card
	err         error
	searchCalls atomic.Int32
	getCalls    atomic.Int32
}

func (f *fakeVendor) SearchCards(ctx context.Context, query string, limit int) ([]priceapi.Card, error) {
	f.searchCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cards, f.err
}

func (f *fakeVendor) GetCard(ctx context.Context, id string) (*priceapi.Card, error) {
	f.getCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.card == nil {
		return nil, errors.Newf("card not found: %s", id).
			Category(errors.CategoryNotFound).
			Component("priceapi").
			Build()
	}
	return f.card, nil
}

func (f *fakeVendor) ProviderID() string { return "testvendor" }

type fakeImages struct {
	mu    sync.Mutex
	set   *imagesearch.CandidateSet
	err   error
	calls atomic.Int32
}

func (f *fakeImages) Lookup(ctx context.Context, query string) (*imagesearch.CandidateSet, error) {
	return f.Search(ctx, query)
}

func (f *fakeImages) Search(ctx context.Context, query string) (*imagesearch.CandidateSet, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.set != nil {
		return f.set, nil
	}
	return &imagesearch.CandidateSet{}, nil
}

type fakeIngestor struct {
	mu    sync.Mutex
	urls  []string
	entry *datastore.ImageCache
	err   error
}

func (f *fakeIngestor) Ingest(ctx context.Context, candidateURL string) (*datastore.ImageCache, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, candidateURL)
	if f.err != nil {
		return nil, f.err
	}
	if f.entry != nil {
		return f.entry, nil
	}
	return &datastore.ImageCache{ID: 1, Status: datastore.ImageStatusReady}, nil
}

func (f *fakeIngestor) ingested() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.urls...)
}

type testEnv struct {
	controller *Controller
	echo       *echo.Echo
	ds         datastore.Interface
	cache      *cachestore.Store
	vendor     *fakeVendor
	images     *fakeImages
	ingestor   *fakeIngestor
	runner     *deferred.Runner
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	settings := &conf.Settings{}
	settings.Database.Type = "sqlite"
	settings.Database.SQLite.Path = filepath.Join(t.TempDir(), "test.db")
	settings.WebServer.CacheControl = conf.HTTPCacheControl{
		MaxAge:               60,
		SMaxAge:              300,
		StaleWhileRevalidate: 120,
	}
	settings.Search = conf.SearchSettings{
		ScoreThreshold: 0.35,
		FallbackBase:   0.30,
		FallbackStep:   0.01,
		DefaultLimit:   10,
		MaxLimit:       50,
	}
	settings.Promotion = conf.PromotionSettings{
		Threshold:  3,
		Cooloff:    24 * time.Hour,
		BatchLimit: 10,
	}
	settings.CDN = conf.CDNSettings{
		BaseURL:         "https://cdn.cardex.test",
		PlaceholderPath: "placeholder/card.png",
	}

	ds := datastore.New(settings)
	require.NoError(t, ds.Open())
	t.Cleanup(func() { _ = ds.Close() })

	cache := cachestore.New(cachestore.Config{
		ProviderTTL:  time.Hour,
		BlendedTTL:   15 * time.Minute,
		CandidateTTL: 72 * time.Hour,
	}, nil)

	vendor := &fakeVendor{}
	images := &fakeImages{}
	ingestor := &fakeIngestor{}
	runner := deferred.New(2, 16, nil)
	t.Cleanup(func() { _ = runner.Shutdown(2 * time.Second) })

	e := echo.New()
	controller := New(e, &Controller{
		DS:       ds,
		Settings: settings,
		Cache:    cache,
		Vendor:   vendor,
		Local:    search.NewLocal(ds),
		Images:   images,
		Ingest:   ingestor,
		CDN:      cdn.New(settings.CDN.BaseURL),
		Tracker:  hotquery.New(ds, settings.Promotion),
		Runner:   runner,
	})

	return &testEnv{
		controller: controller,
		echo:       e,
		ds:         ds,
		cache:      cache,
		vendor:     vendor,
		images:     images,
		ingestor:   ingestor,
		runner:     runner,
	}
}

// drain waits for all background tasks spawned so far to finish.
func (env *testEnv) drain(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		stats := env.runner.Stats()
		if stats.Spawned == stats.Completed+stats.Failed {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("background tasks did not drain: %+v", env.runner.Stats())
}

func (env *testEnv) request(method, target string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	env.echo.ServeHTTP(rec, req)
	return rec
}

func jsonBody(s string) io.Reader {
	return strings.NewReader(s)
}

func candidateSetFixture(query, topURL string) *imagesearch.CandidateSet {
	return &imagesearch.CandidateSet{
		QueryHash:  queryaddr.ImageQueryAddress(query),
		Query:      query,
		Candidates: []imagesearch.Candidate{{SourceURL: topURL}},
		TopURL:     topURL,
	}
}

func (env *testEnv) seedCard(t *testing.T, vendorID, name, setName string) *datastore.Card {
	t.Helper()
	card := &datastore.Card{VendorID: vendorID, Name: name, SetName: setName}
	require.NoError(t, env.ds.UpsertCard(card))
	stored, err := env.ds.GetCardByVendorID(vendorID)
	require.NoError(t, err)
	return stored
}

func (env *testEnv) seedReadyImage(t *testing.T, hash, storagePath string) *datastore.ImageCache {
	t.Helper()
	require.NoError(t, env.ds.UpsertImageCache(&datastore.ImageCache{
		Hash:        hash,
		ContentHash: hash,
		Status:      datastore.ImageStatusReady,
		StoragePath: storagePath,
	}))
	entry, err := env.ds.GetImageCacheByHash(hash)
	require.NoError(t, err)
	return entry
}
