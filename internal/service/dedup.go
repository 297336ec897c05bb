package service

import (
	"context"
	"time"

	"alertcpl/internal/storage"
)

// DefaultSuppressionWindow is how long a logged incident silences repeats.
const DefaultSuppressionWindow = 2 * time.Hour

// AlertLookup is the slice of the alert store the gate needs.
type AlertLookup interface {
	HasRecentAlert(ctx context.Context, adID string, kind storage.AlertKind, accountID int64, since time.Time) (bool, error)
}

// DedupGate suppresses incidents already logged inside a trailing window.
type DedupGate struct {
	lookup AlertLookup
	window time.Duration
}

// NewDedupGate builds a gate; a non-positive window falls back to the default.
func NewDedupGate(lookup AlertLookup, window time.Duration) *DedupGate {
	if window <= 0 {
		window = DefaultSuppressionWindow
	}
	return &DedupGate{lookup: lookup, window: window}
}

// Window returns the effective suppression window.
func (g *DedupGate) Window() time.Duration {
	return g.window
}

// ShouldSuppress reports whether an alert for the same ad, kind and account was
// created in [now-window, now]. A record exactly one window old still suppresses.
func (g *DedupGate) ShouldSuppress(ctx context.Context, adID string, kind storage.AlertKind, accountID int64, now time.Time) (bool, error) {
	return g.lookup.HasRecentAlert(ctx, adID, kind, accountID, now.Add(-g.window))
}
