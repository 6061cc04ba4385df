package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validSettings() *Settings {
	s := &Settings{}
	s.Database.Type = "sqlite"
	s.Database.SQLite.Path = "cardex.db"
	s.Vendor.BaseURL = "https://api.pricehub.example/v1"
	s.Vendor.Timeout = 10 * time.Second
	s.Cache = CacheSettings{
		ProviderTTL:  time.Hour,
		BlendedTTL:   15 * time.Minute,
		CandidateTTL: 72 * time.Hour,
	}
	s.Search = SearchSettings{
		ScoreThreshold: 0.35,
		FallbackBase:   0.30,
		FallbackStep:   0.01,
		DefaultLimit:   20,
		MaxLimit:       100,
	}
	s.Ingest = IngestSettings{
		Timeout:    15 * time.Second,
		MaxBytes:   8 << 20,
		MaxRetries: 3,
		Backoff:    500 * time.Millisecond,
	}
	s.Promotion = PromotionSettings{
		Threshold:  20,
		Cooloff:    24 * time.Hour,
		BatchLimit: 25,
	}
	s.Blob.Root = "blobs"
	s.CDN.BaseURL = "http://localhost:8080/media"
	s.Deferred = DeferredSettings{Workers: 4, QueueSize: 1024}
	return s
}

func TestValidateSettingsAcceptsDefaults(t *testing.T) {
	assert.NoError(t, ValidateSettings(validSettings()))
}

func TestValidateSettingsRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		message string
	}{
		{
			name:    "unknown database type",
			mutate:  func(s *Settings) { s.Database.Type = "postgres" },
			message: "database.type",
		},
		{
			name:    "sqlite without path",
			mutate:  func(s *Settings) { s.Database.SQLite.Path = "" },
			message: "database.sqlite.path",
		},
		{
			name: "mysql without host",
			mutate: func(s *Settings) {
				s.Database.Type = "mysql"
				s.Database.MySQL.Database = "cardex"
			},
			message: "database.mysql.host",
		},
		{
			name:    "missing vendor base url",
			mutate:  func(s *Settings) { s.Vendor.BaseURL = "" },
			message: "vendor.baseurl",
		},
		{
			name:    "zero cache ttl",
			mutate:  func(s *Settings) { s.Cache.BlendedTTL = 0 },
			message: "cache TTLs",
		},
		{
			name:    "threshold out of range",
			mutate:  func(s *Settings) { s.Search.ScoreThreshold = 1.5 },
			message: "search.scorethreshold",
		},
		{
			name:    "max limit below default",
			mutate:  func(s *Settings) { s.Search.MaxLimit = 5 },
			message: "search limits",
		},
		{
			name:    "zero ingest cap",
			mutate:  func(s *Settings) { s.Ingest.MaxBytes = 0 },
			message: "ingest.maxbytes",
		},
		{
			name:    "promotion threshold below one",
			mutate:  func(s *Settings) { s.Promotion.Threshold = 0 },
			message: "promotion.threshold",
		},
		{
			name:    "no workers",
			mutate:  func(s *Settings) { s.Deferred.Workers = 0 },
			message: "deferred.workers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			tt.mutate(s)
			err := ValidateSettings(s)
			assert.ErrorContains(t, err, tt.message)
		})
	}
}

func TestValidateSettingsReportsAllProblems(t *testing.T) {
	s := validSettings()
	s.Vendor.BaseURL = ""
	s.Blob.Root = ""

	err := ValidateSettings(s)
	assert.ErrorContains(t, err, "vendor.baseurl")
	assert.ErrorContains(t, err, "blob.root")
}
