// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"log/slog"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/cardexhq/cardex-go/internal/conf"
	"github.com/cardexhq/cardex-go/internal/logging"
)

// Interface abstracts the underlying database implementation and defines the
// operations the rest of the system needs.
type Interface interface {
	Open() error
	Close() error
	Ping() error

	// Catalog
	GetCard(id uint) (*Card, error)
	GetCardByVendorID(vendorID string) (*Card, error)
	UpsertCard(card *Card) error
	SearchCards(term string, limit int) ([]Card, error)

	// Image cache
	GetImageCacheByHash(hash string) (*ImageCache, error)
	GetImageCacheByID(id uint) (*ImageCache, error)
	GetImageCacheBySourceURL(sourceURL string) (*ImageCache, error)
	UpsertImageCache(entry *ImageCache) error
	DeleteImageCacheByHash(hash string) error

	// Asset bindings
	GetBinding(cardID uint, role string) (*AssetBinding, error)
	SetPrimaryBinding(cardID uint, role string, imageCacheID uint) error

	// Hot query tracking
	TouchHotQuery(queryHash, normalized string, now time.Time) error
	GetHotQuery(queryHash string) (*HotQueryCounter, error)
	ListPromotable(threshold int64, committedBefore, now time.Time, limit int) ([]HotQueryCounter, error)
	StampCommitted(queryHash string, at time.Time) error

	// Bookkeeping
	SaveRecentView(cardID uint, at time.Time) error
	GetRecentViews(limit int) ([]RecentView, error)
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB     *gorm.DB
	logger *slog.Logger
}

// New creates a datastore instance based on the configured database type.
func New(settings *conf.Settings) Interface {
	logger := logging.ForService("datastore")
	switch settings.Database.Type {
	case "mysql":
		return &MySQLStore{DataStore: DataStore{logger: logger}, Settings: settings}
	default:
		return &SQLiteStore{DataStore: DataStore{logger: logger}, Settings: settings}
	}
}

// createGormLogger returns the gorm logger configuration used by both stores.
// Queries are only logged when debug is enabled; slow queries always are.
func createGormLogger(debug bool) gormlogger.Interface {
	level := gormlogger.Warn
	if debug {
		level = gormlogger.Info
	}
	return gormlogger.Default.LogMode(level)
}

// performAutoMigration migrates every model table.
func performAutoMigration(db *gorm.DB) error {
	return db.AutoMigrate(
		&Card{},
		&ImageCache{},
		&AssetBinding{},
		&HotQueryCounter{},
		&RecentView{},
	)
}
