// Package hotquery tracks how often each query address is served and decides
// when a query is hot enough to have its images promoted to durable storage.
package hotquery

import (
	"log/slog"
	"time"

	"github.com/cardexhq/cardex-go/internal/conf"
	"github.com/cardexhq/cardex-go/internal/datastore"
	"github.com/cardexhq/cardex-go/internal/logging"
)

// Tracker records query traffic and selects promotion candidates.
type Tracker struct {
	ds     datastore.Interface
	cfg    conf.PromotionSettings
	logger *slog.Logger
	now    func() time.Time
}

// New creates a tracker using the given promotion policy settings.
func New(ds datastore.Interface, cfg conf.PromotionSettings) *Tracker {
	return &Tracker{
		ds:     ds,
		cfg:    cfg,
		logger: logging.ForService("hotquery"),
		now:    time.Now,
	}
}

// Touch bumps the hit counter for a query address. The increment happens
// server-side in a single statement, so concurrent serves never lose hits.
func (t *Tracker) Touch(queryHash, normalized string) error {
	return t.ds.TouchHotQuery(queryHash, normalized, t.now().UTC())
}

// ShouldPromote reports whether a counter qualifies for promotion: at or past
// the hit threshold, and either never committed or past the cooloff window.
// Pure; all inputs explicit.
func ShouldPromote(hits, threshold int64, committedAt *time.Time, cooloff time.Duration, now time.Time) bool {
	if hits < threshold {
		return false
	}
	if committedAt == nil {
		return true
	}
	return now.Sub(*committedAt) > cooloff
}

// SelectPromotable returns up to the configured batch of counters eligible
// for promotion, hottest first.
func (t *Tracker) SelectPromotable() ([]datastore.HotQueryCounter, error) {
	now := t.now().UTC()
	return t.ds.ListPromotable(int64(t.cfg.Threshold), now.Add(-t.cfg.Cooloff), now, t.cfg.BatchLimit)
}

// MarkScheduled stamps the counter as committed at the current time. Stamping
// happens at scheduling time rather than completion, giving at-least-once
// promotion semantics without re-triggering on every serve.
func (t *Tracker) MarkScheduled(queryHash string) error {
	if err := t.ds.StampCommitted(queryHash, t.now().UTC()); err != nil {
		return err
	}
	t.logger.Info("promotion scheduled", "query_hash", queryHash)
	return nil
}

// Threshold returns the configured promotion hit threshold.
func (t *Tracker) Threshold() int64 {
	return int64(t.cfg.Threshold)
}

// Cooloff returns the configured promotion cooloff window.
func (t *Tracker) Cooloff() time.Duration {
	return t.cfg.Cooloff
}
