package directory

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/victorgomez09/sentinel/internal/auth/models"
	"github.com/victorgomez09/sentinel/internal/auth/store"
	"go.uber.org/zap"
)

// SessionPersister is the durable side of the persistent session store.
type SessionPersister interface {
	SavePersistentSession(tokenHash string, sess *models.Session) error
	DeletePersistentSession(tokenHash string) error
	DeleteAllPersistentSessions() error
	ListPersistentSessions() (map[string]*models.Session, error)
}

// TokenHash is the key persistent sessions are stored under.
func TokenHash(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// PersistentStore keeps long-lived sessions keyed by token hash, writing
// through to the persister when one is set. The raw token is held in memory
// only, so sessions restored after a restart validate by token but cannot be
// resumed by the directory.
type PersistentStore struct {
	sessions  *store.ShardedMap[*models.Session]
	persister SessionPersister
	logger    *zap.Logger
}

// NewPersistentStore creates a store. persister may be nil.
func NewPersistentStore(persister SessionPersister, logger *zap.Logger) *PersistentStore {
	return &PersistentStore{
		sessions:  store.NewShardedMap[*models.Session](store.DefaultShards),
		persister: persister,
		logger:    logger,
	}
}

// Load restores persisted sessions, returning how many were loaded.
func (p *PersistentStore) Load() (int, error) {
	if p.persister == nil {
		return 0, nil
	}
	saved, err := p.persister.ListPersistentSessions()
	if err != nil {
		return 0, fmt.Errorf("load persistent sessions: %w", err)
	}
	for hash, sess := range saved {
		p.sessions.Set(hash, sess)
	}
	return len(saved), nil
}

func (p *PersistentStore) Save(sess *models.Session) {
	hash := TokenHash(sess.Token)
	stored := sess.Clone()
	p.sessions.Set(hash, stored)
	p.persist(hash, stored)
}

func (p *PersistentStore) Get(token string) (*models.Session, bool) {
	sess, ok := p.sessions.Get(TokenHash(token))
	if !ok {
		return nil, false
	}
	return sess.Clone(), true
}

// Update applies fn atomically to the session for token. fn receives a copy
// and returns the session to store, or keep=false to delete it. The change
// is written through after the lock is released.
func (p *PersistentStore) Update(token string, fn func(cur *models.Session) (next *models.Session, keep bool)) (*models.Session, bool) {
	hash := TokenHash(token)
	existed := false

	out, kept := p.sessions.Update(hash, func(cur *models.Session, ok bool) (*models.Session, bool) {
		if !ok {
			return nil, false
		}
		existed = true
		return fn(cur.Clone())
	})
	if !existed {
		return nil, false
	}

	if kept {
		p.persist(hash, out)
		return out.Clone(), true
	}
	p.unpersist(hash)
	return nil, false
}

func (p *PersistentStore) Delete(token string) bool {
	hash := TokenHash(token)
	removed := p.sessions.Delete(hash)
	if removed {
		p.unpersist(hash)
	}
	return removed
}

// FindByEmployeeDevice returns a live, resumable session for the employee
// on the given device.
func (p *PersistentStore) FindByEmployeeDevice(employeeID, fingerprint string, now time.Time) (*models.Session, bool) {
	var found *models.Session
	p.sessions.Range(func(_ string, sess *models.Session) bool {
		if sess.EmployeeID == employeeID && sess.DeviceFingerprint == fingerprint &&
			sess.Token != "" && !sess.Expired(now) {
			found = sess.Clone()
			return false
		}
		return true
	})
	return found, found != nil
}

// Sweep deletes sessions expired at now and returns how many were removed.
func (p *PersistentStore) Sweep(now time.Time) int {
	removed := 0
	for _, hash := range p.sessions.Keys() {
		expired := false
		p.sessions.Update(hash, func(cur *models.Session, ok bool) (*models.Session, bool) {
			if !ok {
				return cur, false
			}
			if cur.Expired(now) {
				expired = true
				return cur, false
			}
			return cur, true
		})
		if expired {
			removed++
			p.unpersist(hash)
		}
	}
	return removed
}

// DeleteUser deletes every session of username and returns how many.
func (p *PersistentStore) DeleteUser(username string) int {
	removed := 0
	for _, hash := range p.sessions.Keys() {
		matched := false
		p.sessions.Update(hash, func(cur *models.Session, ok bool) (*models.Session, bool) {
			if !ok {
				return cur, false
			}
			if cur.Username == username {
				matched = true
				return cur, false
			}
			return cur, true
		})
		if matched {
			removed++
			p.unpersist(hash)
		}
	}
	return removed
}

// Clear deletes every session.
func (p *PersistentStore) Clear() int {
	n := p.sessions.Clear()
	if p.persister != nil {
		if err := p.persister.DeleteAllPersistentSessions(); err != nil {
			p.logger.Error("Failed to clear persisted sessions", zap.Error(err))
		}
	}
	return n
}

func (p *PersistentStore) Count() int {
	return p.sessions.Len()
}

func (p *PersistentStore) persist(hash string, sess *models.Session) {
	if p.persister == nil {
		return
	}
	if err := p.persister.SavePersistentSession(hash, sess); err != nil {
		p.logger.Error("Failed to persist session",
			zap.String("session_id", sess.SessionID),
			zap.Error(err))
	}
}

func (p *PersistentStore) unpersist(hash string) {
	if p.persister == nil {
		return
	}
	if err := p.persister.DeletePersistentSession(hash); err != nil {
		p.logger.Error("Failed to delete persisted session", zap.Error(err))
	}
}
