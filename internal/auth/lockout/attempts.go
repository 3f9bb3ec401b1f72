// Package lockout holds the pre-credential defences of the auth engine:
// failed-attempt counting, the IP/device block list, DDoS and pattern
// detection, and the request guard that runs them in order.
package lockout

import (
	"context"
	"strings"
	"time"

	"github.com/victorgomez09/sentinel/internal/auth/models"
	"github.com/victorgomez09/sentinel/internal/auth/store"
)

// AttemptStore keeps failed-attempt records per (ip, username) key.
type AttemptStore interface {
	// Record appends attempt to the record at key. When the record reaches
	// threshold it is cleared and returned with tripped set.
	Record(ctx context.Context, key string, attempt models.FailedAttempt, threshold int) (rec models.AttemptRecord, tripped bool, err error)
	Get(ctx context.Context, key string) (models.AttemptRecord, bool, error)
	Clear(ctx context.Context, key string) error
	// Prune drops attempts older than cutoff and returns how many were dropped.
	Prune(ctx context.Context, cutoff time.Time) (int, error)
	Count(ctx context.Context) (int, error)
}

func ipOf(key string) string {
	ip, _, _ := strings.Cut(key, "|")
	return ip
}

type MemoryAttemptStore struct {
	records *store.ShardedMap[models.AttemptRecord]
}

var _ AttemptStore = (*MemoryAttemptStore)(nil)

func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{
		records: store.NewShardedMap[models.AttemptRecord](store.DefaultShards),
	}
}

func (s *MemoryAttemptStore) Record(_ context.Context, key string, attempt models.FailedAttempt, threshold int) (models.AttemptRecord, bool, error) {
	var (
		tripped bool
		out     models.AttemptRecord
	)
	s.records.Update(key, func(cur models.AttemptRecord, ok bool) (models.AttemptRecord, bool) {
		if !ok {
			cur = models.AttemptRecord{Key: key, IP: ipOf(key)}
		}
		// copy so records handed out earlier never see the append
		attempts := make([]models.FailedAttempt, len(cur.Attempts), len(cur.Attempts)+1)
		copy(attempts, cur.Attempts)
		cur.Attempts = append(attempts, attempt)

		out = cur
		if threshold > 0 && len(cur.Attempts) >= threshold {
			tripped = true
			return cur, false
		}
		return cur, true
	})
	return out, tripped, nil
}

func (s *MemoryAttemptStore) Get(_ context.Context, key string) (models.AttemptRecord, bool, error) {
	rec, ok := s.records.Get(key)
	return rec, ok, nil
}

func (s *MemoryAttemptStore) Clear(_ context.Context, key string) error {
	s.records.Delete(key)
	return nil
}

func (s *MemoryAttemptStore) Prune(_ context.Context, cutoff time.Time) (int, error) {
	pruned := 0
	for _, key := range s.records.Keys() {
		s.records.Update(key, func(cur models.AttemptRecord, ok bool) (models.AttemptRecord, bool) {
			if !ok {
				return cur, false
			}
			kept := make([]models.FailedAttempt, 0, len(cur.Attempts))
			for _, a := range cur.Attempts {
				if a.At.Before(cutoff) {
					pruned++
					continue
				}
				kept = append(kept, a)
			}
			cur.Attempts = kept
			return cur, len(kept) > 0
		})
	}
	return pruned, nil
}

func (s *MemoryAttemptStore) Count(_ context.Context) (int, error) {
	return s.records.Len(), nil
}

// Reset drops every record.
func (s *MemoryAttemptStore) Reset() {
	s.records.Clear()
}
