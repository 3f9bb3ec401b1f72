package lockout

import (
	"fmt"
	"sync/atomic"
	"time"

	apierr "github.com/victorgomez09/sentinel/internal/auth"
	"github.com/victorgomez09/sentinel/internal/auth/models"
)

// GuardConfig tunes the request guard.
type GuardConfig struct {
	DDoSThreshold       int           // Requests allowed per IP per DDoSWindow.
	DDoSWindow          time.Duration // Window the DDoS threshold applies to.
	SuspiciousThreshold int           // Suspicious observations before an IP is blocked.
	Honeypots           []string      // Decoy paths; DefaultHoneypots when empty.
}

// RequestGuard runs the pre-credential checks on every request, in order:
// DDoS, blocked IP, honeypot, suspicious pattern, blocked device.
type RequestGuard struct {
	ddos      *DDoSDetector
	blocks    *BlockList
	honeypots *Honeypots
	patterns  *PatternDetector
	tracker   *ActivityTracker

	ddosHits     atomic.Int64
	honeypotHits atomic.Int64
}

func NewRequestGuard(cfg GuardConfig, blocks *BlockList, tracker *ActivityTracker) *RequestGuard {
	return &RequestGuard{
		ddos:      NewDDoSDetector(cfg.DDoSThreshold, cfg.DDoSWindow),
		blocks:    blocks,
		honeypots: NewHoneypots(cfg.Honeypots),
		patterns:  NewPatternDetector(),
		tracker:   tracker,
	}
}

// Check returns nil when rc may proceed to credential or session work.
func (g *RequestGuard) Check(rc models.RequestContext, now time.Time) error {
	if !g.ddos.Allow(rc.IP, now) {
		// only the request that flips the IP to blocked is counted and
		// reported; a blocked IP that keeps flooding is just refused
		if g.blocks.BlockIP(rc.IP, "DDoS attack detected") {
			g.ddosHits.Add(1)
			g.tracker.Report(rc.IP, "", models.EventDDoSAttack, map[string]any{
				"path": rc.Path,
			}, now)
		}
		return fmt.Errorf("request from %s: %w", rc.IP, apierr.ErrDDoSDetected)
	}

	if g.blocks.IsIPBlocked(rc.IP) {
		return fmt.Errorf("request from %s: %w", rc.IP, apierr.ErrIPBlocked)
	}

	if g.honeypots.Match(rc.Path) {
		g.honeypotHits.Add(1)
		if g.blocks.BlockIP(rc.IP, "Honeypot access attempt") {
			g.tracker.Report(rc.IP, "", models.EventHoneypotAccess, map[string]any{
				"path": rc.Path,
			}, now)
		}
		return fmt.Errorf("request from %s to %s: %w", rc.IP, rc.Path, apierr.ErrHoneypotAccessed)
	}

	if reason := g.patterns.Match(rc.UserAgent, rc.Path); reason != "" {
		g.tracker.Report(rc.IP, "", models.EventSuspiciousPattern, map[string]any{
			"user_agent": rc.UserAgent,
			"path":       rc.Path,
			"reason":     reason,
		}, now)
		return fmt.Errorf("request from %s: %w", rc.IP, apierr.ErrSuspiciousPattern)
	}

	if g.blocks.IsDeviceBlocked(rc.DeviceFingerprint) {
		return fmt.Errorf("request from %s: %w", rc.IP, apierr.ErrDeviceBlocked)
	}

	return nil
}

// Honeypots returns the decoy path matcher.
func (g *RequestGuard) Honeypots() *Honeypots {
	return g.honeypots
}

// PruneLimiters drops DDoS limiters idle since cutoff.
func (g *RequestGuard) PruneLimiters(cutoff time.Time) int {
	return g.ddos.Prune(cutoff)
}

// Hits returns the DDoS and honeypot hit counters.
func (g *RequestGuard) Hits() (ddos, honeypot int) {
	return int(g.ddosHits.Load()), int(g.honeypotHits.Load())
}
