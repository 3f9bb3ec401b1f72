// Package session issues, validates and retires auth sessions. Regular
// sessions live in memory bound to one IP and device; persistent sessions
// live in the directory's persistent store and follow their employee.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	apierr "github.com/victorgomez09/sentinel/internal/auth"
	"github.com/victorgomez09/sentinel/internal/auth/directory"
	"github.com/victorgomez09/sentinel/internal/auth/models"
	"github.com/victorgomez09/sentinel/internal/auth/store"
)

// TokenBytes is the entropy of a session token before hex encoding.
const TokenBytes = 128

type Config struct {
	DefaultTimeout time.Duration                 // Timeout for roles without an entry in RoleTimeouts.
	RoleTimeouts   map[models.Role]time.Duration // Sliding timeout per role for regular sessions.
	PersistentTTL  time.Duration                 // Lifetime of persistent sessions; zero never expires.
}

type Manager struct {
	sessions   *store.ShardedMap[*models.Session]
	persistent *directory.PersistentStore
	directory  directory.Directory
	config     Config
}

func NewManager(cfg Config, persistent *directory.PersistentStore, dir directory.Directory) *Manager {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 15 * time.Minute
	}
	return &Manager{
		sessions:   store.NewShardedMap[*models.Session](store.DefaultShards),
		persistent: persistent,
		directory:  dir,
		config:     cfg,
	}
}

// GenerateToken returns a new hex encoded session token.
func GenerateToken() (string, error) {
	b := make([]byte, TokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Timeout returns the regular-session timeout for role.
func (m *Manager) Timeout(role models.Role) time.Duration {
	if d, ok := m.config.RoleTimeouts[role]; ok && d > 0 {
		return d
	}
	return m.config.DefaultTimeout
}

// IssueParams describes the session to create.
type IssueParams struct {
	Username      string
	Role          models.Role
	EmployeeID    string
	SecurityLevel int
	AllowLogout   bool
	Persistent    bool
	Request       models.RequestContext
}

func (m *Manager) Issue(p IssueParams, now time.Time) (*models.Session, error) {
	token, err := GenerateToken()
	if err != nil {
		return nil, err
	}

	sess := &models.Session{
		Token:             token,
		SessionID:         uuid.NewString(),
		Username:          p.Username,
		Role:              p.Role,
		EmployeeID:        p.EmployeeID,
		SecurityLevel:     p.SecurityLevel,
		IP:                p.Request.IP,
		DeviceFingerprint: p.Request.DeviceFingerprint,
		UserAgent:         p.Request.UserAgent,
		CreatedAt:         now,
		LastActivity:      now,
		Persistent:        p.Persistent,
		AllowLogout:       p.AllowLogout,
		State:             models.SessionIssued,
	}

	if p.Persistent {
		if m.persistent == nil {
			return nil, fmt.Errorf("issue persistent session: no persistent store")
		}
		if m.config.PersistentTTL > 0 {
			sess.ExpiresAt = now.Add(m.config.PersistentTTL)
		}
		m.persistent.Save(sess)
		return sess.Clone(), nil
	}

	sess.ExpiresAt = now.Add(m.Timeout(p.Role))
	m.sessions.Set(token, sess)
	return sess.Clone(), nil
}

// Peek returns the session for token without touching it.
func (m *Manager) Peek(token string) (*models.Session, bool) {
	if token == "" {
		return nil, false
	}
	if sess, ok := m.sessions.Get(token); ok {
		return sess.Clone(), true
	}
	if m.persistent != nil {
		return m.persistent.Get(token)
	}
	return nil, false
}

// Validation is the outcome of a validation. On failure Session holds the
// retired session, when there was one.
type Validation struct {
	Session    *models.Session
	PreviousIP string // set when a persistent session moved IP
	PreviousFP string // set when a persistent session moved device
}

// Validate checks token against rc at now. Regular sessions are extended by
// their role timeout; persistent sessions follow IP changes and re-run the
// directory device check when the fingerprint changes.
func (m *Manager) Validate(ctx context.Context, token string, rc models.RequestContext, now time.Time) (*Validation, error) {
	if token == "" {
		return &Validation{}, apierr.ErrSessionNotFound
	}

	v, found, err := m.validateRegular(token, rc, now)
	if found {
		return v, err
	}
	if m.persistent == nil {
		return &Validation{}, apierr.ErrSessionNotFound
	}
	return m.validatePersistent(ctx, token, rc, now)
}

func (m *Manager) validateRegular(token string, rc models.RequestContext, now time.Time) (*Validation, bool, error) {
	var (
		v     = &Validation{}
		found bool
		err   error
	)

	m.sessions.Update(token, func(cur *models.Session, ok bool) (*models.Session, bool) {
		if !ok {
			return nil, false
		}
		found = true

		switch {
		case cur.Expired(now):
			v.Session = retire(cur, models.SessionExpired)
			err = fmt.Errorf("session %s: %w", cur.SessionID, apierr.ErrSessionExpired)
			return nil, false
		case cur.IP != rc.IP:
			v.Session = retire(cur, models.SessionHijackSuspected)
			err = fmt.Errorf("session %s used from %s: %w", cur.SessionID, rc.IP, apierr.ErrSessionHijacking)
			return nil, false
		case cur.DeviceFingerprint != rc.DeviceFingerprint:
			v.Session = retire(cur, models.SessionHijackSuspected)
			err = fmt.Errorf("session %s: %w", cur.SessionID, apierr.ErrDeviceFingerprintChanged)
			return nil, false
		}

		next := cur.Clone()
		next.State = models.SessionValid
		next.LastActivity = now
		next.ExpiresAt = now.Add(m.Timeout(next.Role))
		v.Session = next.Clone()
		return next, true
	})
	return v, found, err
}

func (m *Manager) validatePersistent(ctx context.Context, token string, rc models.RequestContext, now time.Time) (*Validation, error) {
	snap, ok := m.persistent.Get(token)
	if !ok {
		return &Validation{}, apierr.ErrSessionNotFound
	}
	if snap.Expired(now) {
		m.persistent.Delete(token)
		return &Validation{Session: retire(snap, models.SessionExpired)},
			fmt.Errorf("session %s: %w", snap.SessionID, apierr.ErrSessionExpired)
	}

	// the directory is consulted with no store lock held
	if snap.DeviceFingerprint != rc.DeviceFingerprint {
		if err := m.revalidateDevice(ctx, snap, rc); err != nil {
			m.persistent.Delete(token)
			return &Validation{Session: retire(snap, models.SessionHijackSuspected)}, err
		}
	}

	v := &Validation{}
	var verr error
	updated, kept := m.persistent.Update(token, func(cur *models.Session) (*models.Session, bool) {
		if cur.Expired(now) {
			v.Session = retire(cur, models.SessionExpired)
			verr = fmt.Errorf("session %s: %w", cur.SessionID, apierr.ErrSessionExpired)
			return nil, false
		}
		if cur.IP != rc.IP {
			v.PreviousIP = cur.IP
			cur.IP = rc.IP
		}
		if cur.DeviceFingerprint != rc.DeviceFingerprint {
			v.PreviousFP = cur.DeviceFingerprint
			cur.DeviceFingerprint = rc.DeviceFingerprint
		}
		cur.LastActivity = now
		cur.State = models.SessionValid
		return cur, true
	})
	if verr != nil {
		return v, verr
	}
	if !kept {
		// removed between the snapshot and the update
		return &Validation{}, apierr.ErrSessionNotFound
	}
	v.Session = updated
	return v, nil
}

func (m *Manager) revalidateDevice(ctx context.Context, sess *models.Session, rc models.RequestContext) error {
	if m.directory == nil {
		return fmt.Errorf("session %s: no directory: %w", sess.SessionID, apierr.ErrDeviceValidationFailed)
	}
	decision, err := m.directory.ValidateEmployeeAccess(ctx, sess.Username, rc.DeviceFingerprint, rc)
	if err != nil {
		return fmt.Errorf("session %s: directory: %v: %w", sess.SessionID, err, apierr.ErrDeviceValidationFailed)
	}
	if !decision.Valid {
		return fmt.Errorf("session %s: %s: %w", sess.SessionID, decision.Reason, apierr.ErrDeviceValidationFailed)
	}
	return nil
}

func retire(sess *models.Session, state models.SessionState) *models.Session {
	out := sess.Clone()
	out.State = state
	return out
}

// Logout retires the session for token when its policy allows it.
func (m *Manager) Logout(token string, now time.Time) (*models.Session, error) {
	if token == "" {
		return nil, apierr.ErrSessionNotFound
	}

	var (
		out   *models.Session
		found bool
		err   error
	)
	decide := func(cur *models.Session) (*models.Session, bool) {
		found = true
		switch {
		case cur.Expired(now):
			out = retire(cur, models.SessionExpired)
			err = fmt.Errorf("session %s: %w", cur.SessionID, apierr.ErrSessionExpired)
			return nil, false
		case !cur.AllowLogout:
			out = cur.Clone()
			err = fmt.Errorf("session %s: %w", cur.SessionID, apierr.ErrLogoutNotPermitted)
			return cur, true
		}
		out = retire(cur, models.SessionLoggedOut)
		return nil, false
	}

	m.sessions.Update(token, func(cur *models.Session, ok bool) (*models.Session, bool) {
		if !ok {
			return nil, false
		}
		return decide(cur)
	})
	if !found && m.persistent != nil {
		m.persistent.Update(token, decide)
	}
	if !found {
		return nil, apierr.ErrSessionNotFound
	}
	return out, err
}

// RevokeUser deletes every session of username and returns how many.
func (m *Manager) RevokeUser(username string) int {
	revoked := 0
	for _, token := range m.sessions.Keys() {
		m.sessions.Update(token, func(cur *models.Session, ok bool) (*models.Session, bool) {
			if !ok {
				return nil, false
			}
			if cur.Username == username {
				revoked++
				return nil, false
			}
			return cur, true
		})
	}
	if m.persistent != nil {
		revoked += m.persistent.DeleteUser(username)
	}
	return revoked
}

// Sweep deletes expired sessions.
func (m *Manager) Sweep(now time.Time) (regular, persistent int) {
	for _, token := range m.sessions.Keys() {
		m.sessions.Update(token, func(cur *models.Session, ok bool) (*models.Session, bool) {
			if !ok {
				return nil, false
			}
			if cur.Expired(now) {
				regular++
				return nil, false
			}
			return cur, true
		})
	}
	if m.persistent != nil {
		persistent = m.persistent.Sweep(now)
	}
	return regular, persistent
}

// Clear deletes every session, regular and persistent.
func (m *Manager) Clear() int {
	n := m.sessions.Clear()
	if m.persistent != nil {
		n += m.persistent.Clear()
	}
	return n
}

// Counts returns the number of live regular and persistent sessions.
func (m *Manager) Counts() (regular, persistent int) {
	regular = m.sessions.Len()
	if m.persistent != nil {
		persistent = m.persistent.Count()
	}
	return regular, persistent
}
