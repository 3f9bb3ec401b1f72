package lockout

import (
	"fmt"
	"time"

	"github.com/victorgomez09/sentinel/internal/auth/models"
	"github.com/victorgomez09/sentinel/internal/auth/store"
)

// EventRecorder receives security events. *audit.Recorder satisfies it.
type EventRecorder interface {
	Record(typ models.EventType, ip, username string, details map[string]any) models.SecurityEvent
}

// ActivityTracker counts suspicious observations per IP. Every reported
// event is recorded, and an IP that accumulates threshold observations is
// blocked.
type ActivityTracker struct {
	activity  *store.ShardedMap[[]models.Activity]
	threshold int
	blocks    *BlockList
	events    EventRecorder
}

func NewActivityTracker(threshold int, blocks *BlockList, events EventRecorder) *ActivityTracker {
	if threshold <= 0 {
		threshold = 3
	}
	return &ActivityTracker{
		activity:  store.NewShardedMap[[]models.Activity](store.DefaultShards),
		threshold: threshold,
		blocks:    blocks,
		events:    events,
	}
}

// Report records an event of typ for ip and returns the IP's observation count.
func (t *ActivityTracker) Report(ip, username string, typ models.EventType, details map[string]any, now time.Time) int {
	t.events.Record(typ, ip, username, details)

	list, _ := t.activity.Update(ip, func(cur []models.Activity, _ bool) ([]models.Activity, bool) {
		next := make([]models.Activity, len(cur), len(cur)+1)
		copy(next, cur)
		return append(next, models.Activity{Type: typ, At: now}), true
	})

	if len(list) >= t.threshold {
		t.blocks.BlockIP(ip, fmt.Sprintf("Multiple suspicious activities: %s", typ))
	}
	return len(list)
}

// CountSince returns the number of observations across all IPs at or after cutoff.
func (t *ActivityTracker) CountSince(cutoff time.Time) int {
	n := 0
	t.activity.Range(func(_ string, list []models.Activity) bool {
		for _, a := range list {
			if !a.At.Before(cutoff) {
				n++
			}
		}
		return true
	})
	return n
}

// Total returns the number of observations held.
func (t *ActivityTracker) Total() int {
	return t.CountSince(time.Time{})
}

// Prune drops observations older than cutoff.
func (t *ActivityTracker) Prune(cutoff time.Time) int {
	pruned := 0
	for _, ip := range t.activity.Keys() {
		t.activity.Update(ip, func(cur []models.Activity, ok bool) ([]models.Activity, bool) {
			if !ok {
				return cur, false
			}
			kept := make([]models.Activity, 0, len(cur))
			for _, a := range cur {
				if a.At.Before(cutoff) {
					pruned++
					continue
				}
				kept = append(kept, a)
			}
			return kept, len(kept) > 0
		})
	}
	return pruned
}
