package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// MaintenanceReport summarizes one maintenance pass.
type MaintenanceReport struct {
	ExpiredSessions   int
	ExpiredPersistent int
	PrunedAttempts    int
	PrunedLimiters    int
	PrunedActivities  int
	PrunedEvents      int64
	RecentSuspicious  int
	HighThreat        bool
}

// Start launches the maintenance routine. It is a no-op after the first call.
func (e *Engine) Start() {
	e.startOnce.Do(func() {
		e.wg.Add(1)
		go e.maintenanceRoutine()
	})
}

// Close stops the maintenance routine and waits for it to exit.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		close(e.done)
	})
	e.wg.Wait()
}

func (e *Engine) maintenanceRoutine() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.config.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.RunMaintenance(e.nowFn())
		case <-e.done:
			return
		}
	}
}

// RunMaintenance prunes expired and stale state as of now, checks the
// suspicious activity rate and rotates the envelope key.
func (e *Engine) RunMaintenance(now time.Time) MaintenanceReport {
	var report MaintenanceReport

	report.ExpiredSessions, report.ExpiredPersistent = e.sessions.Sweep(now)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pruned, err := e.attempts.Prune(ctx, now.Add(-e.config.AttemptTTL))
	if err != nil {
		e.logger.Error("Failed to prune login attempts", zap.Error(err))
	}
	report.PrunedAttempts = pruned

	report.PrunedLimiters = e.guard.PruneLimiters(now.Add(-e.config.LimiterIdle))
	report.PrunedActivities = e.tracker.Prune(now.Add(-e.config.ActivityRetention))

	if e.pruner != nil && e.config.EventRetention > 0 {
		n, err := e.pruner.PruneSecurityEvents(now.Add(-e.config.EventRetention))
		if err != nil {
			e.logger.Error("Failed to prune security events", zap.Error(err))
		}
		report.PrunedEvents = n
	}

	report.RecentSuspicious = e.tracker.CountSince(now.Add(-time.Hour))
	if report.RecentSuspicious > e.config.ThreatThreshold {
		report.HighThreat = true
		e.logger.Warn("HIGH THREAT LEVEL",
			zap.Int("suspicious_last_hour", report.RecentSuspicious),
			zap.Int("threshold", e.config.ThreatThreshold))
	}

	if e.envelope != nil {
		if err := e.envelope.Rotate(); err != nil {
			e.logger.Error("Failed to rotate envelope key", zap.Error(err))
		}
	}

	e.logger.Debug("Maintenance pass",
		zap.Int("expired_sessions", report.ExpiredSessions),
		zap.Int("expired_persistent", report.ExpiredPersistent),
		zap.Int("pruned_attempts", report.PrunedAttempts),
		zap.Int("pruned_limiters", report.PrunedLimiters),
		zap.Int("pruned_activities", report.PrunedActivities),
		zap.Int64("pruned_events", report.PrunedEvents))
	return report
}
