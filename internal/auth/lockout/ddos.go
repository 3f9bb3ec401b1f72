package lockout

import (
	"sync/atomic"
	"time"

	"github.com/victorgomez09/sentinel/internal/auth/store"
	"golang.org/x/time/rate"
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanos
}

// DDoSDetector allows each IP threshold requests per window using a token
// bucket that refills continuously.
type DDoSDetector struct {
	limiters *store.ShardedMap[*ipLimiter]
	limit    rate.Limit
	burst    int
}

func NewDDoSDetector(threshold int, window time.Duration) *DDoSDetector {
	if threshold <= 0 {
		threshold = 50
	}
	if window <= 0 {
		window = time.Minute
	}
	return &DDoSDetector{
		limiters: store.NewShardedMap[*ipLimiter](store.DefaultShards),
		limit:    rate.Every(window / time.Duration(threshold)),
		burst:    threshold,
	}
}

// Allow consumes one request for ip at now and reports whether it fits the
// window.
func (d *DDoSDetector) Allow(ip string, now time.Time) bool {
	l, _ := d.limiters.Update(ip, func(cur *ipLimiter, ok bool) (*ipLimiter, bool) {
		if !ok {
			cur = &ipLimiter{limiter: rate.NewLimiter(d.limit, d.burst)}
		}
		return cur, true
	})
	l.lastSeen.Store(now.UnixNano())
	return l.limiter.AllowN(now, 1)
}

// Prune drops limiters not used since cutoff.
func (d *DDoSDetector) Prune(cutoff time.Time) int {
	pruned := 0
	for _, ip := range d.limiters.Keys() {
		d.limiters.Update(ip, func(cur *ipLimiter, ok bool) (*ipLimiter, bool) {
			if !ok {
				return cur, false
			}
			if cur.lastSeen.Load() < cutoff.UnixNano() {
				pruned++
				return cur, false
			}
			return cur, true
		})
	}
	return pruned
}

// Tracked returns the number of IPs with a live limiter.
func (d *DDoSDetector) Tracked() int {
	return d.limiters.Len()
}
