// datastore.go: shared GORM implementations of the Interface operations.
package datastore

import (
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cardexhq/cardex-go/internal/errors"
)

// Ping verifies the underlying database connection is alive.
func (ds *DataStore) Ping() error {
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return wrapDBError(err, "connection")
	}
	if err := sqlDB.Ping(); err != nil {
		return wrapDBError(err, "connection")
	}
	return nil
}

// GetCard returns the card with the given primary key.
func (ds *DataStore) GetCard(id uint) (*Card, error) {
	var card Card
	if err := ds.DB.First(&card, id).Error; err != nil {
		return nil, wrapDBError(err, "card")
	}
	return &card, nil
}

// GetCardByVendorID returns the card with the given vendor identifier.
func (ds *DataStore) GetCardByVendorID(vendorID string) (*Card, error) {
	var card Card
	if err := ds.DB.Where("vendor_id = ?", vendorID).First(&card).Error; err != nil {
		return nil, wrapDBError(err, "card")
	}
	return &card, nil
}

// UpsertCard inserts or updates a card keyed by its vendor identifier.
func (ds *DataStore) UpsertCard(card *Card) error {
	err := ds.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "vendor_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "set_name", "number", "rarity", "prices", "updated_at"}),
	}).Create(card).Error
	if err != nil {
		return wrapDBError(err, "card")
	}
	return nil
}

// SearchCards returns cards whose name or set matches the given term,
// case-insensitively. Scoring happens in the search package; this only
// produces candidates.
func (ds *DataStore) SearchCards(term string, limit int) ([]Card, error) {
	var cards []Card
	pattern := "%" + strings.ToLower(term) + "%"
	err := ds.DB.
		Where("LOWER(name) LIKE ? OR LOWER(set_name) LIKE ?", pattern, pattern).
		Limit(limit).
		Find(&cards).Error
	if err != nil {
		return nil, wrapDBError(err, "card")
	}
	return cards, nil
}

// GetImageCacheByHash returns the image cache entry with the given hash
// (content hash for ready entries, URL hash for pending/failed ones).
func (ds *DataStore) GetImageCacheByHash(hash string) (*ImageCache, error) {
	var entry ImageCache
	if err := ds.DB.Where("hash = ?", hash).First(&entry).Error; err != nil {
		return nil, wrapDBError(err, "image cache entry")
	}
	return &entry, nil
}

// GetImageCacheByID returns the image cache entry with the given primary key.
func (ds *DataStore) GetImageCacheByID(id uint) (*ImageCache, error) {
	var entry ImageCache
	if err := ds.DB.First(&entry, id).Error; err != nil {
		return nil, wrapDBError(err, "image cache entry")
	}
	return &entry, nil
}

// GetImageCacheBySourceURL returns the entry most recently ingested from the
// given source URL. Ready entries win over pending or failed markers.
func (ds *DataStore) GetImageCacheBySourceURL(sourceURL string) (*ImageCache, error) {
	var entry ImageCache
	err := ds.DB.
		Where("source_url = ?", sourceURL).
		Order("CASE status WHEN 'ready' THEN 0 ELSE 1 END, updated_at DESC").
		First(&entry).Error
	if err != nil {
		return nil, wrapDBError(err, "image cache entry")
	}
	return &entry, nil
}

// UpsertImageCache inserts or updates an entry keyed by its hash. Last write
// wins; concurrent resolutions of the same content overwrite each other with
// equivalent data.
func (ds *DataStore) UpsertImageCache(entry *ImageCache) error {
	err := ds.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "hash"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"source_url", "content_hash", "status", "storage_path",
			"width", "height", "content_type", "bytes", "error_message",
			"expires_at", "updated_at",
		}),
	}).Create(entry).Error
	if err != nil {
		return wrapDBError(err, "image cache entry")
	}
	return nil
}

// DeleteImageCacheByHash removes an entry, used to clean up a pending URL-hash
// marker once ingestion resolved to an existing content hash.
func (ds *DataStore) DeleteImageCacheByHash(hash string) error {
	if err := ds.DB.Where("hash = ?", hash).Delete(&ImageCache{}).Error; err != nil {
		return wrapDBError(err, "image cache entry")
	}
	return nil
}

// GetBinding returns the primary binding for (cardID, role), falling back to
// any binding for that pair when no primary exists.
func (ds *DataStore) GetBinding(cardID uint, role string) (*AssetBinding, error) {
	var binding AssetBinding
	err := ds.DB.
		Where("card_id = ? AND role = ?", cardID, role).
		Order("is_primary DESC, id ASC").
		First(&binding).Error
	if err != nil {
		return nil, wrapDBError(err, "asset binding")
	}
	return &binding, nil
}

// SetPrimaryBinding binds an image to (cardID, role) as primary. Any previous
// primary for the pair is demoted in the same transaction, keeping at most one
// primary per (card, role).
func (ds *DataStore) SetPrimaryBinding(cardID uint, role string, imageCacheID uint) error {
	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&AssetBinding{}).
			Where("card_id = ? AND role = ? AND is_primary = ?", cardID, role, true).
			Update("is_primary", false).Error; err != nil {
			return err
		}

		binding := AssetBinding{
			CardID:       cardID,
			ImageCacheID: imageCacheID,
			Role:         role,
			IsPrimary:    true,
		}
		var existing AssetBinding
		err := tx.Where("card_id = ? AND role = ? AND image_cache_id = ?", cardID, role, imageCacheID).
			First(&existing).Error
		switch {
		case err == nil:
			return tx.Model(&existing).Update("is_primary", true).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&binding).Error
		default:
			return err
		}
	})
	if err != nil {
		return wrapDBError(err, "asset binding")
	}
	return nil
}

// TouchHotQuery atomically increments the hit counter for a query hash and
// refreshes last_seen_at. The increment is a single server-side update, never
// a read-modify-write in application code, so concurrent traffic cannot lose
// updates.
func (ds *DataStore) TouchHotQuery(queryHash, normalized string, now time.Time) error {
	counter := HotQueryCounter{
		QueryHash:  queryHash,
		Query:      normalized,
		Hits:       1,
		LastSeenAt: now,
	}
	err := ds.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "query_hash"}},
		DoUpdates: clause.Assignments(map[string]any{
			"hits":         gorm.Expr("hits + ?", 1),
			"last_seen_at": now,
		}),
	}).Create(&counter).Error
	if err != nil {
		return wrapDBError(err, "hot query counter")
	}
	return nil
}

// GetHotQuery returns the counter for a query hash.
func (ds *DataStore) GetHotQuery(queryHash string) (*HotQueryCounter, error) {
	var counter HotQueryCounter
	if err := ds.DB.Where("query_hash = ?", queryHash).First(&counter).Error; err != nil {
		return nil, wrapDBError(err, "hot query counter")
	}
	return &counter, nil
}

// ListPromotable returns counters at or past the hit threshold whose cooloff
// has elapsed (committed_at is null or older than committedBefore), hottest
// first.
func (ds *DataStore) ListPromotable(threshold int64, committedBefore, now time.Time, limit int) ([]HotQueryCounter, error) {
	var counters []HotQueryCounter
	err := ds.DB.
		Where("hits >= ? AND (committed_at IS NULL OR committed_at < ?)", threshold, committedBefore).
		Order("hits DESC").
		Limit(limit).
		Find(&counters).Error
	if err != nil {
		return nil, wrapDBError(err, "hot query counter")
	}
	return counters, nil
}

// StampCommitted records that a promotion has been scheduled for the query.
// Stamped at scheduling time, not completion, so an in-flight ingestion is not
// re-triggered on every serve (at-least-once, not exactly-once).
func (ds *DataStore) StampCommitted(queryHash string, at time.Time) error {
	err := ds.DB.Model(&HotQueryCounter{}).
		Where("query_hash = ?", queryHash).
		Update("committed_at", at).Error
	if err != nil {
		return wrapDBError(err, "hot query counter")
	}
	return nil
}

// SaveRecentView records a card view.
func (ds *DataStore) SaveRecentView(cardID uint, at time.Time) error {
	if err := ds.DB.Create(&RecentView{CardID: cardID, ViewedAt: at}).Error; err != nil {
		return wrapDBError(err, "recent view")
	}
	return nil
}

// GetRecentViews returns the most recent card views, newest first.
func (ds *DataStore) GetRecentViews(limit int) ([]RecentView, error) {
	var views []RecentView
	if err := ds.DB.Order("viewed_at DESC").Limit(limit).Find(&views).Error; err != nil {
		return nil, wrapDBError(err, "recent views")
	}
	return views, nil
}

// wrapDBError translates gorm errors into the enhanced error taxonomy.
func wrapDBError(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Newf("%s not found", what).
			Category(errors.CategoryNotFound).
			Component("datastore").
			Build()
	}
	return errors.Newf("database operation on %s failed: %w", what, err).
		Category(errors.CategoryDatabase).
		Component("datastore").
		Build()
}
