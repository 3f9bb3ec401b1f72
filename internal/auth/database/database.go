package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/victorgomez09/sentinel/internal/auth/models"
)

// Schema for the durable part of the engine state: permanent blocks, the
// security event log and persistent (staff) sessions.
const schema = `
CREATE TABLE IF NOT EXISTS blocks (
    kind TEXT NOT NULL,                      -- 'ip' or 'device'.
    subject TEXT NOT NULL,                   -- The blocked IP or fingerprint.
    reason TEXT NOT NULL,                    -- Event type that caused the block.
    blocked_at DATETIME NOT NULL,            -- When the block was placed.
    permanent INTEGER NOT NULL DEFAULT 1,    -- Blocks never expire on their own.
    PRIMARY KEY (kind, subject)
);

CREATE TABLE IF NOT EXISTS security_events (
    id TEXT PRIMARY KEY,                     -- Event UUID.
    type TEXT NOT NULL,                      -- Event type (e.g., HONEYPOT_ACCESS).
    severity TEXT NOT NULL,                  -- LOW, MEDIUM, HIGH or CRITICAL.
    ip TEXT,                                 -- Originating client IP.
    username TEXT,                           -- Username involved, if any.
    details TEXT,                            -- JSON encoded details.
    created_at DATETIME NOT NULL             -- When the event was recorded.
);

CREATE TABLE IF NOT EXISTS persistent_sessions (
    token_hash TEXT PRIMARY KEY,             -- SHA-256 of the session token, never the token itself.
    session_id TEXT UNIQUE NOT NULL,
    username TEXT NOT NULL,
    role TEXT NOT NULL,
    employee_id TEXT NOT NULL,
    security_level INTEGER NOT NULL DEFAULT 0,
    ip TEXT NOT NULL,                        -- Last IP seen; updated on drift.
    device_fingerprint TEXT NOT NULL,
    user_agent TEXT NOT NULL,
    allow_logout INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL,
    expires_at DATETIME,                     -- NULL means no expiry.
    last_activity DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_blocks_kind ON blocks(kind);
CREATE INDEX IF NOT EXISTS idx_security_events_created_at ON security_events(created_at);
CREATE INDEX IF NOT EXISTS idx_security_events_type ON security_events(type);
CREATE INDEX IF NOT EXISTS idx_persistent_sessions_employee ON persistent_sessions(employee_id, device_fingerprint);
`

type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB opens the database at dbPath and ensures the schema exists.
func NewSQLiteDB(dbPath string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Ensures the connection to the database is valid
	if err := db.Ping(); err != nil {
		return nil, err
	}

	// single writer; concurrent writes from the async event sink would
	// otherwise fail with SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteDB{db: db}, nil
}

// Ping verifies the database is still reachable.
func (s *SQLiteDB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// Block methods

// PutBlock inserts or replaces a block record.
func (s *SQLiteDB) PutBlock(rec models.BlockRecord) error {
	_, err := s.db.Exec(`
        INSERT OR REPLACE INTO blocks (kind, subject, reason, blocked_at, permanent)
        VALUES (?, ?, ?, ?, ?)
    `, rec.Kind, rec.Subject, rec.Reason, rec.BlockedAt.UTC(), rec.Permanent)
	return err
}

// DeleteBlock removes a block and reports whether one existed.
func (s *SQLiteDB) DeleteBlock(kind models.BlockKind, subject string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM blocks WHERE kind = ? AND subject = ?`, kind, subject)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListBlocks returns every block of kind, or all blocks when kind is empty.
func (s *SQLiteDB) ListBlocks(kind models.BlockKind) ([]models.BlockRecord, error) {
	query := `SELECT kind, subject, reason, blocked_at, permanent FROM blocks`
	var args []any
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY blocked_at`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.BlockRecord
	for rows.Next() {
		var rec models.BlockRecord
		if err := rows.Scan(&rec.Kind, &rec.Subject, &rec.Reason, &rec.BlockedAt, &rec.Permanent); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Security event methods

// CreateSecurityEvent appends an event to the security log.
func (s *SQLiteDB) CreateSecurityEvent(ev models.SecurityEvent) error {
	details, err := json.Marshal(ev.Details)
	if err != nil {
		return fmt.Errorf("encode event details: %w", err)
	}

	_, err = s.db.Exec(`
        INSERT INTO security_events (id, type, severity, ip, username, details, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
    `, ev.ID, ev.Type, ev.Severity, ev.IP, ev.Username, string(details), ev.At.UTC())
	return err
}

// ListSecurityEvents returns the most recent events, newest first.
func (s *SQLiteDB) ListSecurityEvents(limit int) ([]models.SecurityEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
        SELECT id, type, severity, ip, username, details, created_at
        FROM security_events
        ORDER BY created_at DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SecurityEvent
	for rows.Next() {
		var (
			ev       models.SecurityEvent
			ip, user sql.NullString
			details  sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.Severity, &ip, &user, &details, &ev.At); err != nil {
			return nil, err
		}
		ev.IP = ip.String
		ev.Username = user.String
		if details.Valid && details.String != "" && details.String != "null" {
			if err := json.Unmarshal([]byte(details.String), &ev.Details); err != nil {
				return nil, fmt.Errorf("decode event %s details: %w", ev.ID, err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Persistent session methods

// SavePersistentSession upserts a persistent session under tokenHash.
func (s *SQLiteDB) SavePersistentSession(tokenHash string, sess *models.Session) error {
	var expires any
	if !sess.ExpiresAt.IsZero() {
		expires = sess.ExpiresAt.UTC()
	}

	_, err := s.db.Exec(`
        INSERT OR REPLACE INTO persistent_sessions (
            token_hash, session_id, username, role, employee_id, security_level,
            ip, device_fingerprint, user_agent, allow_logout,
            created_at, expires_at, last_activity
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, tokenHash, sess.SessionID, sess.Username, sess.Role, sess.EmployeeID, sess.SecurityLevel,
		sess.IP, sess.DeviceFingerprint, sess.UserAgent, sess.AllowLogout,
		sess.CreatedAt.UTC(), expires, sess.LastActivity.UTC())
	return err
}

// DeletePersistentSession removes the session stored under tokenHash.
func (s *SQLiteDB) DeletePersistentSession(tokenHash string) error {
	_, err := s.db.Exec(`DELETE FROM persistent_sessions WHERE token_hash = ?`, tokenHash)
	return err
}

// DeleteAllPersistentSessions removes every persistent session.
func (s *SQLiteDB) DeleteAllPersistentSessions() error {
	_, err := s.db.Exec(`DELETE FROM persistent_sessions`)
	return err
}

// ListPersistentSessions returns every stored session keyed by token hash.
// Token fields are left empty; the raw token is never stored.
func (s *SQLiteDB) ListPersistentSessions() (map[string]*models.Session, error) {
	rows, err := s.db.Query(`
        SELECT token_hash, session_id, username, role, employee_id, security_level,
               ip, device_fingerprint, user_agent, allow_logout,
               created_at, expires_at, last_activity
        FROM persistent_sessions
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]*models.Session)
	for rows.Next() {
		var (
			hash    string
			sess    models.Session
			expires sql.NullTime
		)
		if err := rows.Scan(&hash, &sess.SessionID, &sess.Username, &sess.Role, &sess.EmployeeID,
			&sess.SecurityLevel, &sess.IP, &sess.DeviceFingerprint, &sess.UserAgent,
			&sess.AllowLogout, &sess.CreatedAt, &expires, &sess.LastActivity); err != nil {
			return nil, err
		}
		if expires.Valid {
			sess.ExpiresAt = expires.Time
		}
		sess.Persistent = true
		sess.State = models.SessionValid
		out[hash] = &sess
	}
	return out, rows.Err()
}

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("record not found")

// GetBlock returns a single block record.
func (s *SQLiteDB) GetBlock(kind models.BlockKind, subject string) (models.BlockRecord, error) {
	var rec models.BlockRecord
	err := s.db.QueryRow(`
        SELECT kind, subject, reason, blocked_at, permanent
        FROM blocks WHERE kind = ? AND subject = ?
    `, kind, subject).Scan(&rec.Kind, &rec.Subject, &rec.Reason, &rec.BlockedAt, &rec.Permanent)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, ErrNotFound
		}
		return rec, err
	}
	return rec, nil
}

// PruneSecurityEvents deletes events older than cutoff.
func (s *SQLiteDB) PruneSecurityEvents(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM security_events WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
