// config.go: settings struct and functions to load and save the settings.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
)

//go:embed config.yaml
var configFiles embed.FS

// MainSettings contains process-level settings.
type MainSettings struct {
	Name     string // instance name, used in logs and default user agent
	LogLevel string // trace, debug, info, warn, error
}

// HTTPCacheControl drives the Cache-Control header on successful search responses.
type HTTPCacheControl struct {
	MaxAge               int // client max-age in seconds
	SMaxAge              int // shared-cache max-age in seconds
	StaleWhileRevalidate int // stale-while-revalidate window in seconds
}

// WebServerSettings contains settings for the HTTP API server.
type WebServerSettings struct {
	Enabled      bool
	Host         string
	Port         string
	Debug        bool
	CacheControl HTTPCacheControl
}

// DatabaseSettings selects and configures the relational store.
type DatabaseSettings struct {
	Type   string // "sqlite" or "mysql"
	SQLite struct {
		Path string // path to the sqlite database file
	}
	MySQL struct {
		Host     string
		Port     string
		Username string
		Password string
		Database string
	}
}

// VendorSettings configures the third-party pricing vendor client.
type VendorSettings struct {
	ProviderID  string        // stable identifier used in provider-tier cache keys
	BaseURL     string
	APIKey      string
	Timeout     time.Duration // per-request timeout
	RateLimitMS int           // minimum milliseconds between vendor calls
	CacheTTL    time.Duration // provider-tier TTL
}

// CacheSettings holds the per-tier time-to-live values.
type CacheSettings struct {
	ProviderTTL  time.Duration // provider-result tier
	BlendedTTL   time.Duration // blended-result tier
	CandidateTTL time.Duration // image-candidate tier, multi-day
}

// SearchSettings drives local scoring and the blend policy.
type SearchSettings struct {
	ScoreThreshold float64 // local top score required to skip vendor fallback
	FallbackBase   float64 // base for synthetic vendor scores
	FallbackStep   float64 // per-rank step for synthetic vendor scores
	DefaultLimit   int
	MaxLimit       int
}

// IngestSettings bounds remote image ingestion.
type IngestSettings struct {
	Timeout    time.Duration // per-fetch timeout
	MaxBytes   int64         // hard cap on response body size
	MaxRetries int
	Backoff    time.Duration // linear backoff unit between retries
	FailureTTL time.Duration // how long a failed URL is remembered before a retry is allowed
}

// PromotionSettings drives candidate-to-durable image promotion.
type PromotionSettings struct {
	Threshold  int           // hits required before promotion
	Cooloff    time.Duration // minimum time between promotions of the same query
	BatchLimit int           // max hot queries selected per trigger run
}

// BlobSettings configures durable image storage.
type BlobSettings struct {
	Root string // root directory of the content-addressed blob store
}

// CDNSettings configures delivery URL construction.
type CDNSettings struct {
	BaseURL         string // public base URL the blob store is served under
	PlaceholderPath string // storage path of the placeholder asset
}

// DeferredSettings configures the background task runner.
type DeferredSettings struct {
	Workers   int
	QueueSize int
}

// ImageSearchSettings configures the web image search provider.
type ImageSearchSettings struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	MaxCandidates int
}

// Settings is the root configuration object.
type Settings struct {
	Debug       bool
	Main        MainSettings
	WebServer   WebServerSettings
	Database    DatabaseSettings
	Vendor      VendorSettings
	Cache       CacheSettings
	Search      SearchSettings
	Ingest      IngestSettings
	Promotion   PromotionSettings
	Blob        BlobSettings
	CDN         CDNSettings
	Deferred    DeferredSettings
	ImageSearch ImageSearchSettings
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into a Settings
// instance and stores it as the process settings.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with defaults and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()
	bindEnvOverrides()

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded default config to the first config path.
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")
	defaultConfig := getDefaultConfig()

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml.
func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}
	return string(data)
}

// GetSettings returns the current settings instance.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Setting returns the current settings instance, loading it on first use.
func Setting() *Settings {
	if GetSettings() == nil {
		if _, err := Load(); err != nil {
			log.Fatalf("Error loading settings: %v", err)
		}
	}
	return GetSettings()
}

// GetDefaultConfigPaths returns the search paths for config.yaml: the working
// directory first, then the user config directory.
func GetDefaultConfigPaths() ([]string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		// Fall back to working directory only, e.g. in minimal containers.
		return []string{"."}, nil //nolint:nilerr // fallback path is intentional
	}
	return []string{".", filepath.Join(configDir, "cardex-go")}, nil
}
