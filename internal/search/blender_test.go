package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardexhq/cardex-go/internal/datastore"
	"github.com/cardexhq/cardex-go/internal/priceapi"
)

var testBlendConfig = BlendConfig{
	ScoreThreshold: 0.35,
	FallbackBase:   0.30,
	FallbackStep:   0.01,
}

func localRows(scores ...float64) []ScoredCard {
	rows := make([]ScoredCard, 0, len(scores))
	for i, s := range scores {
		rows = append(rows, ScoredCard{
			Card:  datastore.Card{VendorID: "local-" + string(rune('a'+i)), Name: "Card"},
			Score: s,
		})
	}
	return rows
}

func vendorRows(ids ...string) []priceapi.Card {
	rows := make([]priceapi.Card, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, priceapi.Card{ID: id, Name: "Card " + id})
	}
	return rows
}

func TestBlendStrongLocalWins(t *testing.T) {
	results, provenance := Blend(localRows(0.5, 0.4), vendorRows("v1", "v2"), testBlendConfig)

	assert.Equal(t, ProvenanceLocal, provenance)
	require.Len(t, results, 2)
	assert.Equal(t, 0.5, results[0].Score, "local scores are preserved")
	assert.Equal(t, ProvenanceLocal, results[0].Source)
	assert.Empty(t, results[0].Reason)
}

func TestBlendWeakLocalFallsBackToVendor(t *testing.T) {
	results, provenance := Blend(localRows(0.1), vendorRows("v1", "v2", "v3"), testBlendConfig)

	assert.Equal(t, ProvenanceVendorFallback, provenance)
	require.Len(t, results, 3)

	// Synthetic scores: base + step*(N-rank) with N=3.
	assert.InDelta(t, 0.32, results[0].Score, 1e-9)
	assert.InDelta(t, 0.31, results[1].Score, 1e-9)
	assert.InDelta(t, 0.30, results[2].Score, 1e-9)

	// Vendor order preserved, strictly descending.
	assert.Equal(t, "v1", results[0].ID)
	assert.Equal(t, "v2", results[1].ID)
	assert.Equal(t, "v3", results[2].ID)

	for _, r := range results {
		assert.Equal(t, ProvenanceVendorFallback, r.Source)
		assert.Equal(t, "score = 0.3 + 0.01 * (N - rank)", r.Reason)
	}
}

func TestBlendThresholdBoundary(t *testing.T) {
	// Exactly at threshold counts as strong.
	_, provenance := Blend(localRows(0.35), vendorRows("v1"), testBlendConfig)
	assert.Equal(t, ProvenanceLocal, provenance)

	_, provenance = Blend(localRows(0.349), vendorRows("v1"), testBlendConfig)
	assert.Equal(t, ProvenanceVendorFallback, provenance)
}

func TestBlendNoLocalRows(t *testing.T) {
	results, provenance := Blend(nil, vendorRows("v1"), testBlendConfig)
	assert.Equal(t, ProvenanceVendorFallback, provenance)
	require.Len(t, results, 1)
}

func TestBlendWeakLocalUsedWhenVendorEmpty(t *testing.T) {
	results, provenance := Blend(localRows(0.1), nil, testBlendConfig)
	assert.Equal(t, ProvenanceLocal, provenance)
	require.Len(t, results, 1)
}

func TestBlendBothEmpty(t *testing.T) {
	results, provenance := Blend(nil, nil, testBlendConfig)
	assert.Equal(t, ProvenanceVendorFallback, provenance)
	assert.Empty(t, results)
}

func TestBlendRanksAssignedAfterSort(t *testing.T) {
	// Local rows arrive unsorted from the caller's perspective; Blend
	// stable-sorts descending then ranks 1..N.
	rows := []ScoredCard{
		{Card: datastore.Card{VendorID: "a"}, Score: 0.4},
		{Card: datastore.Card{VendorID: "b"}, Score: 0.9},
		{Card: datastore.Card{VendorID: "c"}, Score: 0.4},
	}
	results, _ := Blend(rows, nil, testBlendConfig)

	require.Len(t, results, 3)
	assert.Equal(t, "b", results[0].ID)
	assert.Equal(t, 1, results[0].Rank)
	// Stable: a before c among equal scores.
	assert.Equal(t, "a", results[1].ID)
	assert.Equal(t, "c", results[2].ID)
	assert.Equal(t, 3, results[2].Rank)
}

func TestScore(t *testing.T) {
	card := &datastore.Card{Name: "Charizard", SetName: "Base Set", Number: "4/102"}

	assert.Equal(t, 1.0, Score("charizard", card), "exact name match")
	assert.InDelta(t, 1.0, Score("charizard base", card), 1e-9)
	assert.InDelta(t, 0.5, Score("charizard holo", card), 1e-9)
	assert.Equal(t, 0.0, Score("pikachu", card))
}
