// Package search implements local scored catalog search and the blending of
// local results with vendor fallback results into one ranked,
// provenance-tagged list.
package search

import (
	"sort"
	"strings"

	"github.com/cardexhq/cardex-go/internal/datastore"
	"github.com/cardexhq/cardex-go/internal/queryaddr"
)

// ScoredCard is a local catalog row with its similarity score in [0,1].
type ScoredCard struct {
	Card  datastore.Card
	Score float64
}

// Local performs scored search over the local catalog.
type Local struct {
	ds datastore.Interface
}

// NewLocal creates a local searcher over the given datastore.
func NewLocal(ds datastore.Interface) *Local {
	return &Local{ds: ds}
}

// Search returns catalog rows matching the query, scored and sorted
// descending. The datastore produces candidates; scoring happens here.
func (l *Local) Search(query string, limit int) ([]ScoredCard, error) {
	normalized := queryaddr.Normalize(query)
	if normalized == "" {
		return nil, nil
	}

	cards, err := l.ds.SearchCards(normalized, limit)
	if err != nil {
		return nil, err
	}

	scored := make([]ScoredCard, 0, len(cards))
	for i := range cards {
		scored = append(scored, ScoredCard{
			Card:  cards[i],
			Score: Score(normalized, &cards[i]),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	return scored, nil
}

// Score computes the similarity of a normalized query to a card as the
// fraction of query tokens found in the card's name, set name or number.
// Always in [0,1]; an exact name match scores 1.
func Score(normalized string, card *datastore.Card) float64 {
	name := strings.ToLower(card.Name)
	if name == normalized {
		return 1.0
	}

	tokens := strings.Fields(normalized)
	if len(tokens) == 0 {
		return 0
	}

	haystack := name + " " + strings.ToLower(card.SetName) + " " + strings.ToLower(card.Number)
	matched := 0
	for _, token := range tokens {
		if strings.Contains(haystack, token) {
			matched++
		}
	}
	return float64(matched) / float64(len(tokens))
}
