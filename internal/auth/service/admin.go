package service

import (
	"context"
	"fmt"

	apierr "github.com/victorgomez09/sentinel/internal/auth"
	"github.com/victorgomez09/sentinel/internal/auth/models"
	"go.uber.org/zap"
)

// Stats returns the current engine counters.
func (e *Engine) Stats(ctx context.Context) models.Stats {
	regular, persistent := e.sessions.Counts()
	ips, devices := e.blocks.Counts()
	ddos, honeypot := e.guard.Hits()

	records, err := e.attempts.Count(ctx)
	if err != nil {
		e.logger.Warn("Failed to count attempt records", zap.Error(err))
	}

	return models.Stats{
		TotalUsers:           e.accounts.Len(),
		ActiveSessions:       regular + persistent,
		PersistentSessions:   persistent,
		BlockedIPs:           ips,
		BlockedDevices:       devices,
		SuspiciousActivities: e.tracker.Total(),
		HoneypotHits:         honeypot,
		DDoSAttempts:         ddos,
		AttemptRecords:       records,
	}
}

// LockdownResult is the effect of an emergency lockdown.
type LockdownResult struct {
	SessionsCleared  int `json:"sessions_cleared"`
	UsersDeactivated int `json:"users_deactivated"`
}

// EmergencyLockdown deactivates every account that is not a boss and then
// drops every session, so a login racing the lockdown cannot keep one.
func (e *Engine) EmergencyLockdown(_ context.Context, actor string) LockdownResult {
	var res LockdownResult
	for _, name := range e.accounts.Keys() {
		e.accounts.Update(name, func(cur *models.UserAccount, ok bool) (*models.UserAccount, bool) {
			if !ok {
				return nil, false
			}
			if cur.Role == models.RoleBoss || !cur.Active {
				return cur, true
			}
			next := *cur
			next.Active = false
			res.UsersDeactivated++
			return &next, true
		})
	}
	res.SessionsCleared = e.sessions.Clear()

	e.events.Record(models.EventEmergencyLockdown, "", actor, map[string]any{
		"sessions_cleared":  res.SessionsCleared,
		"users_deactivated": res.UsersDeactivated,
	})
	return res
}

// Unblock removes a block and reports whether one existed.
func (e *Engine) Unblock(kind models.BlockKind, subject, actor string) (bool, error) {
	if kind != models.BlockIP && kind != models.BlockDevice {
		return false, fmt.Errorf("unknown block kind %q: %w", kind, apierr.ErrInvalidInput)
	}
	if subject == "" {
		return false, fmt.Errorf("empty block subject: %w", apierr.ErrInvalidInput)
	}

	removed, err := e.blocks.Unblock(kind, subject)
	if err != nil {
		return removed, fmt.Errorf("unblock %s %s: %v: %w", kind, subject, err, apierr.ErrSystem)
	}
	if removed {
		e.events.Record(models.EventBlockRemoved, "", actor, map[string]any{
			"kind":    string(kind),
			"subject": subject,
		})
	}
	return removed, nil
}

// DeactivateUser disables username and revokes its sessions. It returns the
// number of sessions revoked.
func (e *Engine) DeactivateUser(username, actor string) (int, error) {
	name := models.NormalizeUsername(username)
	if err := e.setActive(name, false); err != nil {
		return 0, err
	}
	revoked := e.sessions.RevokeUser(name)
	e.logger.Warn("Account deactivated",
		zap.String("username", name),
		zap.String("actor", actor),
		zap.Int("sessions_revoked", revoked))
	return revoked, nil
}

// ActivateUser re-enables username.
func (e *Engine) ActivateUser(username, actor string) error {
	name := models.NormalizeUsername(username)
	if err := e.setActive(name, true); err != nil {
		return err
	}
	e.logger.Info("Account activated",
		zap.String("username", name),
		zap.String("actor", actor))
	return nil
}

func (e *Engine) setActive(name string, active bool) error {
	_, ok := e.accounts.Update(name, func(cur *models.UserAccount, ok bool) (*models.UserAccount, bool) {
		if !ok {
			return nil, false
		}
		next := *cur
		next.Active = active
		return &next, true
	})
	if !ok {
		return fmt.Errorf("unknown user %q: %w", name, apierr.ErrInvalidInput)
	}
	return nil
}
