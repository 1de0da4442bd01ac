// Package inbox keeps unread match events.
package inbox

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"keyword_tracker/internal/model"
)

// Retention is the maximum age, in whole days rounded up, of a listed match.
const Retention = 60

// ErrNotFound is returned by MarkRead for unknown message IDs.
var ErrNotFound = errors.New("match not found")

// Store is the interface for unread match persistence.
type Store interface {
	Append(ctx context.Context, ev model.MatchEvent) error
	ListVisible(ctx context.Context, now time.Time) ([]model.MatchEvent, error)
	MarkRead(ctx context.Context, messageID string) error
	ClearAll(ctx context.Context) error
}

// Expired reports whether a match created at ts is too old to be listed.
func Expired(now, ts time.Time) bool {
	diff := now.Sub(ts)
	if diff < 0 {
		diff = -diff
	}
	days := math.Ceil(float64(diff) / float64(24*time.Hour))
	return days > Retention
}

// Visible filters out expired events and sorts the rest newest first.
func Visible(events []model.MatchEvent, now time.Time) []model.MatchEvent {
	out := make([]model.MatchEvent, 0, len(events))
	for _, ev := range events {
		if Expired(now, ev.Message.CreatedAt) {
			continue
		}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Message, out[j].Message
		if a.CreatedAt.Equal(b.CreatedAt) {
			return a.ID > b.ID
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	return out
}
