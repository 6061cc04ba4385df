// defaults.go: default configuration values registered with viper.
package conf

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig registers default values for every configuration parameter.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	// Main
	viper.SetDefault("main.name", "cardex-go")
	viper.SetDefault("main.loglevel", "info")

	// Web server
	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.host", "0.0.0.0")
	viper.SetDefault("webserver.port", "8080")
	viper.SetDefault("webserver.debug", false)
	viper.SetDefault("webserver.cachecontrol.maxage", 60)
	viper.SetDefault("webserver.cachecontrol.smaxage", 300)
	viper.SetDefault("webserver.cachecontrol.stalewhilerevalidate", 600)

	// Database
	viper.SetDefault("database.type", "sqlite")
	viper.SetDefault("database.sqlite.path", "cardex.db")
	viper.SetDefault("database.mysql.host", "localhost")
	viper.SetDefault("database.mysql.port", "3306")
	viper.SetDefault("database.mysql.username", "cardex")
	viper.SetDefault("database.mysql.password", "")
	viper.SetDefault("database.mysql.database", "cardex")

	// Pricing vendor
	viper.SetDefault("vendor.providerid", "pricehub")
	viper.SetDefault("vendor.baseurl", "https://api.pricehub.example/v1")
	viper.SetDefault("vendor.apikey", "")
	viper.SetDefault("vendor.timeout", 10*time.Second)
	viper.SetDefault("vendor.ratelimitms", 250)
	viper.SetDefault("vendor.cachettl", time.Hour)

	// Cache tiers
	viper.SetDefault("cache.providerttl", time.Hour)
	viper.SetDefault("cache.blendedttl", 15*time.Minute)
	viper.SetDefault("cache.candidatettl", 72*time.Hour)

	// Search / blending
	viper.SetDefault("search.scorethreshold", 0.35)
	viper.SetDefault("search.fallbackbase", 0.30)
	viper.SetDefault("search.fallbackstep", 0.01)
	viper.SetDefault("search.defaultlimit", 20)
	viper.SetDefault("search.maxlimit", 100)

	// Image ingestion
	viper.SetDefault("ingest.timeout", 15*time.Second)
	viper.SetDefault("ingest.maxbytes", int64(8*1024*1024))
	viper.SetDefault("ingest.maxretries", 3)
	viper.SetDefault("ingest.backoff", 500*time.Millisecond)
	viper.SetDefault("ingest.failurettl", 30*time.Minute)

	// Promotion policy
	viper.SetDefault("promotion.threshold", 20)
	viper.SetDefault("promotion.cooloff", 24*time.Hour)
	viper.SetDefault("promotion.batchlimit", 25)

	// Blob store / CDN
	viper.SetDefault("blob.root", "blobs")
	viper.SetDefault("cdn.baseurl", "http://localhost:8080/assets")
	viper.SetDefault("cdn.placeholderpath", "static/placeholder-card.png")

	// Deferred task runner
	viper.SetDefault("deferred.workers", 4)
	viper.SetDefault("deferred.queuesize", 1024)

	// Image search provider
	viper.SetDefault("imagesearch.baseurl", "https://imagesearch.example/api")
	viper.SetDefault("imagesearch.apikey", "")
	viper.SetDefault("imagesearch.timeout", 8*time.Second)
	viper.SetDefault("imagesearch.maxcandidates", 10)
}

// bindEnvOverrides enables CARDEX_* environment variable overrides, so secrets
// like vendor.apikey never have to live in config.yaml.
func bindEnvOverrides() {
	viper.SetEnvPrefix("cardex")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}
