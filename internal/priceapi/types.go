package priceapi

import (
	"time"

	"github.com/cardexhq/cardex-go/internal/conf"
)

// Config holds the vendor client configuration.
type Config struct {
	ProviderID  string
	BaseURL     string
	APIKey      string
	Timeout     time.Duration
	CacheTTL    time.Duration
	RateLimitMS int
}

// DefaultConfig returns the fallback configuration values.
func DefaultConfig() Config {
	return Config{
		ProviderID:  "pricehub",
		BaseURL:     "https://api.pricehub.example/v1",
		Timeout:     10 * time.Second,
		CacheTTL:    time.Hour,
		RateLimitMS: 250,
	}
}

// ConfigFromSettings maps the application settings onto a client Config.
func ConfigFromSettings(settings *conf.Settings) Config {
	return Config{
		ProviderID:  settings.Vendor.ProviderID,
		BaseURL:     settings.Vendor.BaseURL,
		APIKey:      settings.Vendor.APIKey,
		Timeout:     settings.Vendor.Timeout,
		CacheTTL:    settings.Vendor.CacheTTL,
		RateLimitMS: settings.Vendor.RateLimitMS,
	}
}

// Card is a single catalog row as returned by the vendor, in vendor relevance
// order. Vendor rows carry no similarity score.
type Card struct {
	ID       string             `json:"id"`
	Name     string             `json:"name"`
	SetName  string             `json:"set_name"`
	Number   string             `json:"number"`
	Rarity   string             `json:"rarity"`
	ImageURL string             `json:"image_url"`
	Prices   map[string]float64 `json:"prices"`
}

// searchResponse is the vendor search envelope.
type searchResponse struct {
	Data       []Card `json:"data"`
	TotalCount int    `json:"total_count"`
}

// Error is the vendor API error envelope.
type Error struct {
	Status int    `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}
