package search

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/cardexhq/cardex-go/internal/datastore"
	"github.com/cardexhq/cardex-go/internal/priceapi"
)

// Provenance values attached to blended results.
const (
	ProvenanceLocal          = "local"
	ProvenanceVendorFallback = "vendor_fallback"
)

// Summary is the canonical card shape inside a search result, regardless of
// which source produced it.
type Summary struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	SetName  string             `json:"set_name"`
	Number   string             `json:"number,omitempty"`
	Rarity   string             `json:"rarity,omitempty"`
	ImageURL string             `json:"image_url,omitempty"`
	Prices   map[string]float64 `json:"prices,omitempty"`
}

// Result is one ranked search result.
type Result struct {
	ID     string  `json:"id"`
	Card   Summary `json:"card"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason,omitempty"`
	Source string  `json:"source"`
	Rank   int     `json:"rank"`
}

// BlendConfig holds the blend policy knobs.
type BlendConfig struct {
	ScoreThreshold float64 // local top score required to use local rows
	FallbackBase   float64 // base for synthetic vendor scores
	FallbackStep   float64 // per-rank step for synthetic vendor scores
}

// Blend chooses one source wholesale and returns the ranked result list plus
// the provenance that won. If the best local score clears the threshold the
// local rows are used with their scores preserved; otherwise vendor rows are
// used in vendor order with synthetic scores base + step*(N-rank), and the
// formula is attached to each row for auditability. Output is stable-sorted
// descending by score, then rank is assigned 1..N.
func Blend(local []ScoredCard, vendor []priceapi.Card, cfg BlendConfig) ([]Result, string) {
	useLocal := len(local) > 0 && local[0].Score >= cfg.ScoreThreshold
	// A weak local match still beats no result at all when the vendor
	// returned nothing.
	if !useLocal && len(vendor) == 0 && len(local) > 0 {
		useLocal = true
	}

	var results []Result
	provenance := ProvenanceVendorFallback

	if useLocal {
		provenance = ProvenanceLocal
		results = make([]Result, 0, len(local))
		for i := range local {
			results = append(results, Result{
				ID:     local[i].Card.VendorID,
				Card:   summaryFromCard(&local[i].Card),
				Score:  local[i].Score,
				Source: ProvenanceLocal,
			})
		}
	} else {
		n := len(vendor)
		formula := fmt.Sprintf("score = %s + %s * (N - rank)",
			strconv.FormatFloat(cfg.FallbackBase, 'f', -1, 64),
			strconv.FormatFloat(cfg.FallbackStep, 'f', -1, 64))
		results = make([]Result, 0, n)
		for i := range vendor {
			rank := i + 1
			results = append(results, Result{
				ID:     vendor[i].ID,
				Card:   summaryFromVendor(&vendor[i]),
				Score:  cfg.FallbackBase + cfg.FallbackStep*float64(n-rank),
				Reason: formula,
				Source: ProvenanceVendorFallback,
			})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	for i := range results {
		results[i].Rank = i + 1
	}
	return results, provenance
}

func summaryFromCard(card *datastore.Card) Summary {
	s := Summary{
		ID:      card.VendorID,
		Name:    card.Name,
		SetName: card.SetName,
		Number:  card.Number,
		Rarity:  card.Rarity,
	}
	if card.Prices != "" {
		var prices map[string]float64
		if err := json.Unmarshal([]byte(card.Prices), &prices); err == nil {
			s.Prices = prices
		}
	}
	return s
}

func summaryFromVendor(card *priceapi.Card) Summary {
	return Summary{
		ID:       card.ID,
		Name:     card.Name,
		SetName:  card.SetName,
		Number:   card.Number,
		Rarity:   card.Rarity,
		ImageURL: card.ImageURL,
		Prices:   card.Prices,
	}
}
