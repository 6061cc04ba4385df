package hotquery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShouldPromote(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cooloff := 24 * time.Hour
	committed := func(ago time.Duration) *time.Time {
		at := now.Add(-ago)
		return &at
	}

	tests := []struct {
		name        string
		hits        int64
		threshold   int64
		committedAt *time.Time
		want        bool
	}{
		{"below threshold", 19, 20, nil, false},
		{"at threshold never committed", 20, 20, nil, true},
		{"above threshold never committed", 100, 20, nil, true},
		{"hot but committed within cooloff", 25, 20, committed(2 * time.Hour), false},
		{"hot and committed past cooloff", 25, 20, committed(25 * time.Hour), true},
		{"committed exactly at cooloff boundary", 25, 20, committed(cooloff), false},
		{"zero hits", 0, 20, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ShouldPromote(tt.hits, tt.threshold, tt.committedAt, cooloff, now)
			assert.Equal(t, tt.want, got)
		})
	}
}
