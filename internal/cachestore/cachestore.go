// Package cachestore implements the content-addressed cache tiers backing
// search and media delivery. Each tier has its own time-to-live and is
// independently readable and writable; writes are idempotent last-write-wins
// upserts, so no locking is required around miss resolution.
package cachestore

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/cardexhq/cardex-go/internal/observability/metrics"
)

// Tier identifies one independently-TTL'd cache layer.
type Tier string

const (
	// TierProvider holds raw vendor payloads keyed by hash(provider, queryHash).
	TierProvider Tier = "provider"
	// TierBlended holds final ranked payloads keyed by queryHash. Supersedes
	// the provider tier for repeat reads.
	TierBlended Tier = "blended"
	// TierCandidates holds unvetted image candidate sets keyed by the
	// image-namespace queryHash.
	TierCandidates Tier = "candidates"
)

// Entry is a cached payload with the bookkeeping needed for the freshness rule.
type Entry struct {
	Payload  any
	StoredAt time.Time
	TTL      time.Duration
}

// Fresh reports whether an entry stored at storedAt with the given ttl is
// still fresh at now. The boundary is exclusive: an entry with ttl=300s is
// fresh at storedAt+299s and stale at storedAt+301s.
func Fresh(storedAt time.Time, ttl time.Duration, now time.Time) bool {
	return now.Before(storedAt.Add(ttl))
}

// Config holds the per-tier TTLs.
type Config struct {
	ProviderTTL  time.Duration
	BlendedTTL   time.Duration
	CandidateTTL time.Duration
}

type tierCache struct {
	c   *gocache.Cache
	ttl time.Duration
}

// Store is the multi-tier content-addressed cache.
type Store struct {
	tiers   map[Tier]*tierCache
	metrics *metrics.CacheMetrics
	now     func() time.Time
}

// New creates a Store with one go-cache instance per tier. metrics may be nil.
func New(cfg Config, m *metrics.CacheMetrics) *Store {
	newTier := func(ttl time.Duration) *tierCache {
		// go-cache eviction is a janitor concern only; freshness is decided
		// by Fresh() so the boundary stays exact.
		return &tierCache{c: gocache.New(ttl, 2*ttl), ttl: ttl}
	}
	return &Store{
		tiers: map[Tier]*tierCache{
			TierProvider:   newTier(cfg.ProviderTTL),
			TierBlended:    newTier(cfg.BlendedTTL),
			TierCandidates: newTier(cfg.CandidateTTL),
		},
		metrics: m,
		now:     time.Now,
	}
}

// Get returns the entry for key in the given tier. A stale entry is a miss.
func (s *Store) Get(tier Tier, key string) (Entry, bool) {
	tc, ok := s.tiers[tier]
	if !ok {
		return Entry{}, false
	}

	v, found := tc.c.Get(key)
	if found {
		entry, ok := v.(Entry)
		if ok && Fresh(entry.StoredAt, entry.TTL, s.now()) {
			s.incHit(tier)
			return entry, true
		}
	}

	s.incMiss(tier)
	return Entry{}, false
}

// Put stores payload under key with the tier's default TTL. Idempotent upsert;
// concurrent writers for the same key simply overwrite each other with
// equivalent data.
func (s *Store) Put(tier Tier, key string, payload any) {
	if tc, ok := s.tiers[tier]; ok {
		s.PutWithTTL(tier, key, payload, tc.ttl)
	}
}

// PutWithTTL stores payload under key with an explicit TTL.
func (s *Store) PutWithTTL(tier Tier, key string, payload any, ttl time.Duration) {
	tc, ok := s.tiers[tier]
	if !ok {
		return
	}
	tc.c.Set(key, Entry{Payload: payload, StoredAt: s.now(), TTL: ttl}, ttl)
	if s.metrics != nil {
		s.metrics.Writes.WithLabelValues(string(tier)).Inc()
	}
}

// Delete removes key from the given tier. Deleting an absent key is a no-op.
func (s *Store) Delete(tier Tier, key string) {
	if tc, ok := s.tiers[tier]; ok {
		tc.c.Delete(key)
	}
}

// TTL returns the default TTL of the given tier.
func (s *Store) TTL(tier Tier) time.Duration {
	if tc, ok := s.tiers[tier]; ok {
		return tc.ttl
	}
	return 0
}

// Flush clears every tier. Intended for tests and explicit invalidation.
func (s *Store) Flush() {
	for _, tc := range s.tiers {
		tc.c.Flush()
	}
}

// ItemCount returns the number of entries in a tier, including not-yet-evicted
// stale ones.
func (s *Store) ItemCount(tier Tier) int {
	if tc, ok := s.tiers[tier]; ok {
		return tc.c.ItemCount()
	}
	return 0
}

func (s *Store) incHit(tier Tier) {
	if s.metrics != nil {
		s.metrics.Hits.WithLabelValues(string(tier)).Inc()
	}
}

func (s *Store) incMiss(tier Tier) {
	if s.metrics != nil {
		s.metrics.Misses.WithLabelValues(string(tier)).Inc()
	}
}
