package models

import (
	"strings"
	"time"
)

type Role string

const (
	RoleAdmin Role = "admin"
	RoleBoss  Role = "boss"
	RoleStaff Role = "staff"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleBoss, RoleStaff:
		return true
	}
	return false
}

// PasswordHash is a derived key together with the parameters needed to
// recompute it.
type PasswordHash struct {
	Salt       []byte
	Digest     []byte
	Iterations int
}

// Malformed reports whether the record cannot be used for verification.
func (p PasswordHash) Malformed() bool {
	return len(p.Salt) == 0 || len(p.Digest) == 0 || p.Iterations <= 0
}

type UserAccount struct {
	Username     string       `json:"username"`
	PasswordHash PasswordHash `json:"-"`
	Role         Role         `json:"role"`
	Active       bool         `json:"active"`
	LastLogin    *time.Time   `json:"last_login"`
	LoginCount   uint64       `json:"login_count"`
	CreatedAt    time.Time    `json:"created_at"`
}

// NormalizeUsername is the canonical form used as the account key.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

type SessionState string

const (
	SessionIssued          SessionState = "ISSUED"
	SessionValid           SessionState = "VALID"
	SessionExpired         SessionState = "EXPIRED"
	SessionHijackSuspected SessionState = "HIJACK_SUSPECTED"
	SessionLoggedOut       SessionState = "LOGGED_OUT"
)

// Terminal reports whether no further validation may succeed from s.
func (s SessionState) Terminal() bool {
	return s == SessionExpired || s == SessionHijackSuspected || s == SessionLoggedOut
}

type Session struct {
	Token             string       `json:"-"`
	SessionID         string       `json:"session_id"`
	Username          string       `json:"username"`
	Role              Role         `json:"role"`
	EmployeeID        string       `json:"employee_id,omitempty"`
	SecurityLevel     int          `json:"security_level"`
	IP                string       `json:"ip"`
	DeviceFingerprint string       `json:"device_fingerprint"`
	UserAgent         string       `json:"user_agent"`
	CreatedAt         time.Time    `json:"created_at"`
	ExpiresAt         time.Time    `json:"expires_at"`
	LastActivity      time.Time    `json:"last_activity"`
	Persistent        bool         `json:"persistent"`
	AllowLogout       bool         `json:"allow_logout"`
	State             SessionState `json:"state"`
}

// Expired reports whether the session is past its expiry at now. A zero
// ExpiresAt never expires.
func (s *Session) Expired(now time.Time) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

// Clone returns a copy safe to hand out of a store.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Type is the session class name reported to callers.
func (s *Session) Type() string {
	if s.Persistent {
		return "persistent"
	}
	return "regular"
}

// RequestContext describes the client of a single inbound request.
type RequestContext struct {
	IP                string
	UserAgent         string
	DeviceFingerprint string
	Path              string
	SecondFactor      string
}

type FailedAttempt struct {
	At                time.Time `json:"at"`
	Reason            string    `json:"reason"`
	DeviceFingerprint string    `json:"device_fingerprint,omitempty"`
}

// AttemptRecord is the failure history for one (ip, username) key.
type AttemptRecord struct {
	Key      string          `json:"key"`
	IP       string          `json:"ip"`
	Attempts []FailedAttempt `json:"attempts"`
}

// Fingerprints returns the distinct non-empty fingerprints seen in the record.
func (r AttemptRecord) Fingerprints() []string {
	seen := make(map[string]struct{}, len(r.Attempts))
	var out []string
	for _, a := range r.Attempts {
		if a.DeviceFingerprint == "" {
			continue
		}
		if _, ok := seen[a.DeviceFingerprint]; ok {
			continue
		}
		seen[a.DeviceFingerprint] = struct{}{}
		out = append(out, a.DeviceFingerprint)
	}
	return out
}

// AttemptKey builds the record key for an ip and username.
func AttemptKey(ip, username string) string {
	return ip + "|" + NormalizeUsername(username)
}

type BlockKind string

const (
	BlockIP     BlockKind = "ip"
	BlockDevice BlockKind = "device"
)

type BlockRecord struct {
	Kind      BlockKind `json:"kind"`
	Subject   string    `json:"subject"`
	Reason    string    `json:"reason"`
	BlockedAt time.Time `json:"blocked_at"`
	Permanent bool      `json:"permanent"`
}

type EventType string

const (
	EventDDoSAttack           EventType = "DDOS_ATTACK"
	EventHoneypotAccess       EventType = "HONEYPOT_ACCESS"
	EventSuspiciousPattern    EventType = "SUSPICIOUS_PATTERN"
	EventMultipleFailedLogins EventType = "MULTIPLE_FAILED_LOGINS"
	EventFingerprintChange    EventType = "DEVICE_FINGERPRINT_CHANGE"
	EventSessionHijacking     EventType = "SESSION_HIJACKING"
	EventSuccessfulLogin      EventType = "SUCCESSFUL_LOGIN"
	EventLogout               EventType = "LOGOUT"
	EventEmergencyLockdown    EventType = "EMERGENCY_LOCKDOWN"
	EventPrivilegedBypass     EventType = "PRIVILEGED_BYPASS"
	EventBlockRemoved         EventType = "BLOCK_REMOVED"
	EventFailedLogin          EventType = "FAILED_LOGIN_ATTEMPT"
	EventIPBlocked            EventType = "IP_BLOCKED"
	EventDeviceBlocked        EventType = "DEVICE_BLOCKED"
)

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// SeverityOf returns the fixed severity for an event type.
func SeverityOf(t EventType) Severity {
	switch t {
	case EventDDoSAttack, EventSessionHijacking, EventEmergencyLockdown:
		return SeverityCritical
	case EventHoneypotAccess, EventMultipleFailedLogins, EventPrivilegedBypass:
		return SeverityHigh
	case EventSuspiciousPattern, EventFingerprintChange:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// AtLeast reports whether s is as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

type SecurityEvent struct {
	ID       string         `json:"id"`
	Type     EventType      `json:"type"`
	Severity Severity       `json:"severity"`
	IP       string         `json:"ip,omitempty"`
	Username string         `json:"username,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	At       time.Time      `json:"at"`
}

// Activity is one suspicious observation attributed to an IP.
type Activity struct {
	Type EventType `json:"type"`
	At   time.Time `json:"at"`
}

type UserSummary struct {
	Username      string `json:"username"`
	Role          Role   `json:"role"`
	EmployeeID    string `json:"employee_id,omitempty"`
	SecurityLevel int    `json:"security_level"`
	AllowLogout   bool   `json:"allow_logout"`
	SessionType   string `json:"session_type"`
}

// Summary projects the session onto the caller-visible user view.
func (s *Session) Summary() *UserSummary {
	return &UserSummary{
		Username:      s.Username,
		Role:          s.Role,
		EmployeeID:    s.EmployeeID,
		SecurityLevel: s.SecurityLevel,
		AllowLogout:   s.AllowLogout,
		SessionType:   s.Type(),
	}
}

type Stats struct {
	TotalUsers           int `json:"total_users"`
	ActiveSessions       int `json:"active_sessions"`
	PersistentSessions   int `json:"persistent_sessions"`
	BlockedIPs           int `json:"blocked_ips"`
	BlockedDevices       int `json:"blocked_devices"`
	SuspiciousActivities int `json:"suspicious_activities"`
	HoneypotHits         int `json:"honeypot_hits"`
	DDoSAttempts         int `json:"ddos_attempts"`
	AttemptRecords       int `json:"attempt_records"`
}
