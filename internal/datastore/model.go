// model.go: data model for the catalog, image cache and promotion bookkeeping.
package datastore

import "time"

// Image cache entry lifecycle states.
const (
	ImageStatusPending = "pending"
	ImageStatusReady   = "ready"
	ImageStatusFailed  = "failed"
)

// Asset binding roles.
const (
	RoleFront = "front"
	RoleBack  = "back"
	RoleExtra = "extra"
)

// Card represents one catalog item, populated from the pricing vendor.
type Card struct {
	ID        uint   `gorm:"primaryKey"`
	VendorID  string `gorm:"uniqueIndex;not null"` // vendor-specific identifier
	Name      string `gorm:"index:idx_cards_name"`
	SetName   string `gorm:"index:idx_cards_set"`
	Number    string // collector number within the set
	Rarity    string
	Prices    string `gorm:"type:text"` // vendor price payload, JSON
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ImageCache represents one ingested (or failed) remote image. A row is
// uniquely identified by Hash: the content hash of the verified bytes once
// ingestion succeeds, or the source URL hash while pending or failed. The
// unique index is what makes concurrent ingestion of the same content a
// no-op rather than a conflict.
type ImageCache struct {
	ID           uint   `gorm:"primaryKey"`
	Hash         string `gorm:"uniqueIndex;size:64;not null"`
	SourceURL    string `gorm:"index"`
	ContentHash  string `gorm:"index;size:64"` // empty until status is ready
	Status       string `gorm:"index;size:16;not null"`
	StoragePath  string
	Width        int
	Height       int
	ContentType  string `gorm:"size:64"`
	Bytes        int64
	ErrorMessage string
	ExpiresAt    *time.Time // failed entries only: retries are blocked until this time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AssetBinding associates a ready ImageCache entry with a catalog item under a
// role. A binding is only meaningful once the referenced entry is ready.
type AssetBinding struct {
	ID           uint   `gorm:"primaryKey"`
	CardID       uint   `gorm:"index:idx_bindings_card_role;not null"`
	ImageCacheID uint   `gorm:"index;not null"`
	Role         string `gorm:"index:idx_bindings_card_role;size:16;not null"`
	IsPrimary    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HotQueryCounter tracks per-query popularity for the promotion policy.
// Hits and LastSeenAt are mutated by a single atomic server-side update.
type HotQueryCounter struct {
	QueryHash   string `gorm:"primaryKey;size:64"`
	Query       string // normalized query text, kept for self-selected ingestion runs
	Hits        int64
	LastSeenAt  time.Time
	CommittedAt *time.Time // stamped when promotion is scheduled, not when it completes
}

// RecentView is lightweight bookkeeping written by the deferred runner after a
// card fetch has already been answered.
type RecentView struct {
	ID       uint      `gorm:"primaryKey"`
	CardID   uint      `gorm:"index"`
	ViewedAt time.Time `gorm:"index"`
}
