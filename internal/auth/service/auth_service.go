package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	apierr "github.com/victorgomez09/sentinel/internal/auth"
	"github.com/victorgomez09/sentinel/internal/auth/credential"
	"github.com/victorgomez09/sentinel/internal/auth/directory"
	"github.com/victorgomez09/sentinel/internal/auth/lockout"
	"github.com/victorgomez09/sentinel/internal/auth/models"
	"github.com/victorgomez09/sentinel/internal/auth/session"
	"github.com/victorgomez09/sentinel/internal/auth/store"
	"github.com/victorgomez09/sentinel/internal/auth/validation"
	"go.uber.org/zap"
)

// AuthConfig holds the engine's lockout and maintenance settings.
type AuthConfig struct {
	MaxLoginAttempts    int           // Failed attempts per (ip, username) before the IP is blocked.
	AttemptTTL          time.Duration // Age after which failed attempts are forgotten.
	ThreatThreshold     int           // Suspicious activities per hour that raise a threat warning.
	MaintenanceInterval time.Duration // Interval between maintenance passes.
	LimiterIdle         time.Duration // Idle time after which a per-IP DDoS limiter is dropped.
	ActivityRetention   time.Duration // Age after which suspicious activity stops counting.
	EventRetention      time.Duration // Age after which persisted security events are deleted; zero keeps them.
	EnforceSecretPolicy bool          // Reject weak bootstrap secrets instead of warning about them.
}

func (c *AuthConfig) applyDefaults() {
	if c.MaxLoginAttempts <= 0 {
		c.MaxLoginAttempts = 4
	}
	if c.AttemptTTL <= 0 {
		c.AttemptTTL = time.Hour
	}
	if c.ThreatThreshold <= 0 {
		c.ThreatThreshold = 20
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = 2 * time.Minute
	}
	if c.LimiterIdle <= 0 {
		c.LimiterIdle = 10 * time.Minute
	}
	if c.ActivityRetention <= 0 {
		c.ActivityRetention = 24 * time.Hour
	}
}

// EventPruner deletes persisted security events older than cutoff.
type EventPruner interface {
	PruneSecurityEvents(cutoff time.Time) (int64, error)
}

// Dependencies are the collaborators of the engine. Directory, Permission,
// Envelope, Secrets and EventPruner may be nil.
type Dependencies struct {
	Hasher      *credential.Hasher
	Sessions    *session.Manager
	Directory   directory.Directory
	Attempts    lockout.AttemptStore
	Blocks      *lockout.BlockList
	Guard       *lockout.RequestGuard
	Tracker     *lockout.ActivityTracker
	Events      lockout.EventRecorder
	Permission  *Permission
	Envelope    *Envelope
	Secrets     *validation.SecretValidator
	EventPruner EventPruner
	Logger      *zap.Logger
}

// Engine authenticates users, issues and validates sessions, and enforces
// the lockout and abuse policy around both.
type Engine struct {
	hasher     *credential.Hasher
	sessions   *session.Manager
	directory  directory.Directory
	attempts   lockout.AttemptStore
	blocks     *lockout.BlockList
	guard      *lockout.RequestGuard
	tracker    *lockout.ActivityTracker
	events     lockout.EventRecorder
	permission *Permission
	envelope   *Envelope
	secrets    *validation.SecretValidator
	pruner     EventPruner
	logger     *zap.Logger

	accounts *store.ShardedMap[*models.UserAccount]
	config   AuthConfig
	nowFn    func() time.Time

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

func NewEngine(cfg AuthConfig, deps Dependencies) (*Engine, error) {
	switch {
	case deps.Hasher == nil:
		return nil, errors.New("engine: hasher is required")
	case deps.Sessions == nil:
		return nil, errors.New("engine: session manager is required")
	case deps.Attempts == nil:
		return nil, errors.New("engine: attempt store is required")
	case deps.Blocks == nil || deps.Guard == nil || deps.Tracker == nil:
		return nil, errors.New("engine: block list, guard and tracker are required")
	case deps.Events == nil:
		return nil, errors.New("engine: event recorder is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	cfg.applyDefaults()

	return &Engine{
		hasher:     deps.Hasher,
		sessions:   deps.Sessions,
		directory:  deps.Directory,
		attempts:   deps.Attempts,
		blocks:     deps.Blocks,
		guard:      deps.Guard,
		tracker:    deps.Tracker,
		events:     deps.Events,
		permission: deps.Permission,
		envelope:   deps.Envelope,
		secrets:    deps.Secrets,
		pruner:     deps.EventPruner,
		logger:     deps.Logger,
		accounts:   store.NewShardedMap[*models.UserAccount](store.DefaultShards),
		config:     cfg,
		nowFn:      time.Now,
		done:       make(chan struct{}),
	}, nil
}

func (e *Engine) GetConfig() AuthConfig {
	return e.config
}

// Envelope returns the response envelope, or nil when none is configured.
func (e *Engine) Envelope() *Envelope {
	return e.envelope
}

// AccountSeed is a bootstrap account taken from configuration.
type AccountSeed struct {
	Username string
	Secret   string
	Role     models.Role
}

// Bootstrap hashes and installs the seed accounts. Secrets failing the
// strength policy are rejected when EnforceSecretPolicy is set and logged
// otherwise.
func (e *Engine) Bootstrap(ctx context.Context, seeds []AccountSeed) error {
	now := e.nowFn().UTC()
	for _, seed := range seeds {
		name := models.NormalizeUsername(seed.Username)
		if err := validation.CheckCredentialsShape(name, seed.Secret); err != nil {
			return fmt.Errorf("bootstrap account %q: %w", name, err)
		}
		if !seed.Role.Valid() {
			return fmt.Errorf("bootstrap account %q: unknown role %q", name, seed.Role)
		}
		if _, exists := e.accounts.Get(name); exists {
			return fmt.Errorf("bootstrap account %q: duplicate username", name)
		}

		if e.secrets != nil {
			if err := e.secrets.Check(seed.Secret, name); err != nil {
				if e.config.EnforceSecretPolicy {
					return fmt.Errorf("bootstrap account %q: %w", name, err)
				}
				e.logger.Warn("Weak bootstrap secret",
					zap.String("username", name),
					zap.Error(err))
			}
		}

		hash, err := e.hasher.Hash(ctx, seed.Secret)
		if err != nil {
			return fmt.Errorf("bootstrap account %q: %w", name, err)
		}
		e.accounts.Set(name, &models.UserAccount{
			Username:     name,
			PasswordHash: hash,
			Role:         seed.Role,
			Active:       true,
			CreatedAt:    now,
		})
		e.logger.Info("Account installed",
			zap.String("username", name),
			zap.String("role", string(seed.Role)))
	}
	return nil
}

// Account returns a copy of the account for username.
func (e *Engine) Account(username string) (models.UserAccount, bool) {
	acct, ok := e.accounts.Get(models.NormalizeUsername(username))
	if !ok {
		return models.UserAccount{}, false
	}
	return *acct, true
}

// Accounts returns a copy of every account.
func (e *Engine) Accounts() []models.UserAccount {
	out := make([]models.UserAccount, 0, e.accounts.Len())
	e.accounts.Range(func(_ string, acct *models.UserAccount) bool {
		out = append(out, *acct)
		return true
	})
	return out
}

// AuthResult is a successful login.
type AuthResult struct {
	Token     string              `json:"token"`
	SessionID string              `json:"session_id"`
	User      *models.UserSummary `json:"user"`
	ExpiresAt time.Time           `json:"expires_at"`
	Resumed   bool                `json:"resumed"`
}

// Authenticate verifies username and password for the request described by
// rc and issues a session. Failures wrap an apierr sentinel.
func (e *Engine) Authenticate(ctx context.Context, username, password string, rc models.RequestContext) (res *AuthResult, err error) {
	defer e.recoverTo(&err, "authenticate")
	defer func() { e.logRejection("authenticate", rc, err) }()

	now := e.nowFn()
	rc.UserAgent = validation.SanitizeUserAgent(rc.UserAgent)
	name := models.NormalizeUsername(username)

	if !e.bypass(Identity{Username: name, Role: e.roleOf(name), SecondFactor: rc.SecondFactor}, rc) {
		if err := e.guard.Check(rc, now); err != nil {
			return nil, err
		}
	}

	key := models.AttemptKey(rc.IP, validation.AttemptUsername(username))
	if err := validation.CheckCredentialsShape(username, password); err != nil {
		return nil, e.recordFailure(ctx, key, name, rc, string(apierr.CodeInvalidInput), err, now)
	}

	decision := directory.AccessDecision{Valid: true}
	if e.directory != nil {
		decision, err = e.directory.ValidateEmployeeAccess(ctx, name, rc.DeviceFingerprint, rc)
		if err != nil {
			return nil, fmt.Errorf("directory lookup for %q: %v: %w", name, err, apierr.ErrSystem)
		}
		if !decision.Valid {
			_ = e.hasher.VerifyDummy(ctx, password)
			e.recordActivity(ctx, decision.EmployeeID, rc, false, string(decision.Reason))
			// every rejection reads as bad credentials so the reply does not
			// confirm that the username exists
			e.logger.Info("Directory rejected login",
				zap.String("username", name),
				zap.String("reason", string(decision.Reason)),
				zap.String("ip", rc.IP))
			cause := fmt.Errorf("directory rejected %q: %s: %w", name, decision.Reason, apierr.ErrInvalidCredentials)
			return nil, e.recordFailure(ctx, key, name, rc, string(decision.Reason), cause, now)
		}
		if decision.ResumedSession && decision.ExistingSession != nil {
			return e.resume(ctx, key, decision, rc), nil
		}
	}

	acct, ok := e.accounts.Get(name)
	if !ok {
		_ = e.hasher.VerifyDummy(ctx, password)
		cause := fmt.Errorf("unknown user %q: %w", name, apierr.ErrInvalidCredentials)
		return nil, e.recordFailure(ctx, key, name, rc, string(apierr.CodeInvalidCredentials), cause, now)
	}

	match, err := e.hasher.Verify(ctx, password, acct.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify %q: %v: %w", name, err, apierr.ErrSystem)
	}
	if !match {
		e.recordActivity(ctx, decision.EmployeeID, rc, false, string(apierr.CodeInvalidCredentials))
		cause := fmt.Errorf("wrong password for %q: %w", name, apierr.ErrInvalidCredentials)
		return nil, e.recordFailure(ctx, key, name, rc, string(apierr.CodeInvalidCredentials), cause, now)
	}
	if !acct.Active {
		e.recordActivity(ctx, decision.EmployeeID, rc, false, string(apierr.CodeUserDisabled))
		cause := fmt.Errorf("account %q: %w", name, apierr.ErrUserDisabled)
		return nil, e.recordFailure(ctx, key, name, rc, string(apierr.CodeUserDisabled), cause, now)
	}

	params := session.IssueParams{
		Username:    name,
		Role:        acct.Role,
		AllowLogout: true,
		Request:     rc,
	}
	if e.directory != nil {
		params.EmployeeID = decision.EmployeeID
		params.SecurityLevel = decision.Employee.SecurityLevel
		params.AllowLogout = decision.Employee.AllowLogout
		params.Persistent = decision.Employee.Restrictions.SessionPersistent
	}
	sess, err := e.sessions.Issue(params, now)
	if err != nil {
		return nil, fmt.Errorf("issue session for %q: %v: %w", name, err, apierr.ErrSystem)
	}

	loginAt := now.UTC()
	disabled := false
	e.accounts.Update(name, func(cur *models.UserAccount, ok bool) (*models.UserAccount, bool) {
		if !ok {
			return nil, false
		}
		if !cur.Active {
			disabled = true
			return cur, true
		}
		next := *cur
		next.LastLogin = &loginAt
		next.LoginCount++
		return &next, true
	})
	if disabled {
		// deactivated while the session was being issued
		e.sessions.RevokeUser(name)
		return nil, fmt.Errorf("account %q disabled during login: %w", name, apierr.ErrUserDisabled)
	}

	e.clearAttempts(ctx, key)
	e.recordActivity(ctx, decision.EmployeeID, rc, true, "PASSWORD_LOGIN")
	e.events.Record(models.EventSuccessfulLogin, rc.IP, name, map[string]any{
		"session_id":   sess.SessionID,
		"session_type": sess.Type(),
	})

	return &AuthResult{
		Token:     sess.Token,
		SessionID: sess.SessionID,
		User:      sess.Summary(),
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

func (e *Engine) resume(ctx context.Context, key string, decision directory.AccessDecision, rc models.RequestContext) *AuthResult {
	sess := decision.ExistingSession
	e.clearAttempts(ctx, key)
	e.recordActivity(ctx, decision.EmployeeID, rc, true, "SESSION_RESUMED")
	e.events.Record(models.EventSuccessfulLogin, rc.IP, sess.Username, map[string]any{
		"session_id":   sess.SessionID,
		"session_type": sess.Type(),
		"resumed":      true,
	})
	return &AuthResult{
		Token:     sess.Token,
		SessionID: sess.SessionID,
		User:      sess.Summary(),
		ExpiresAt: sess.ExpiresAt,
		Resumed:   true,
	}
}

// recordFailure appends a failed attempt under key and returns cause, or an
// IP_BLOCKED error when this attempt trips the threshold.
func (e *Engine) recordFailure(ctx context.Context, key, username string, rc models.RequestContext, reason string, cause error, now time.Time) error {
	rec, tripped, err := e.attempts.Record(ctx, key, models.FailedAttempt{
		At:                now,
		Reason:            reason,
		DeviceFingerprint: rc.DeviceFingerprint,
	}, e.config.MaxLoginAttempts)
	if err != nil {
		e.logger.Error("Failed to record login attempt",
			zap.String("attempt_key", key),
			zap.Error(err))
		return cause
	}
	e.events.Record(models.EventFailedLogin, rc.IP, username, map[string]any{
		"reason":         reason,
		"attempt_number": len(rec.Attempts),
	})
	if !tripped {
		return cause
	}

	e.blocks.BlockIP(rc.IP, "Multiple failed login attempts")
	devices := rec.Fingerprints()
	for _, fp := range devices {
		e.blocks.BlockDevice(fp, "Multiple failed login attempts")
	}
	e.tracker.Report(rc.IP, username, models.EventMultipleFailedLogins, map[string]any{
		"attempts": len(rec.Attempts),
		"devices":  len(devices),
	}, now)

	return fmt.Errorf("%d failed attempts for %s: %w", len(rec.Attempts), key, apierr.ErrIPBlocked)
}

func (e *Engine) clearAttempts(ctx context.Context, key string) {
	if err := e.attempts.Clear(ctx, key); err != nil {
		e.logger.Error("Failed to clear login attempts",
			zap.String("attempt_key", key),
			zap.Error(err))
	}
}

func (e *Engine) recordActivity(ctx context.Context, employeeID string, rc models.RequestContext, success bool, reason string) {
	if e.directory == nil || employeeID == "" {
		return
	}
	if err := e.directory.RecordLoginActivity(ctx, employeeID, rc.DeviceFingerprint, success, rc.IP, reason); err != nil {
		e.logger.Warn("Failed to record login activity",
			zap.String("employee_id", employeeID),
			zap.Error(err))
	}
}

func (e *Engine) roleOf(name string) models.Role {
	if acct, ok := e.accounts.Get(name); ok {
		return acct.Role
	}
	return ""
}

func (e *Engine) bypass(id Identity, rc models.RequestContext) bool {
	if !e.permission.BypassesSecurityControls(id) {
		return false
	}
	e.events.Record(models.EventPrivilegedBypass, rc.IP, id.Username, map[string]any{
		"role": string(id.Role),
		"path": rc.Path,
	})
	return true
}

// CheckRequest runs the request guard alone, for routes that do no
// credential work.
func (e *Engine) CheckRequest(rc models.RequestContext) error {
	rc.UserAgent = validation.SanitizeUserAgent(rc.UserAgent)
	err := e.guard.Check(rc, e.nowFn())
	e.logRejection("check request", rc, err)
	return err
}

// Honeypots returns the decoy paths the guard traps.
func (e *Engine) Honeypots() []string {
	return e.guard.Honeypots().Paths()
}

// ValidationResult is a successful session validation.
type ValidationResult struct {
	SessionID    string              `json:"session_id"`
	User         *models.UserSummary `json:"user"`
	ExpiresAt    time.Time           `json:"expires_at"`
	LastActivity time.Time           `json:"last_activity"`
}

// ValidateSession checks token against the request described by rc.
func (e *Engine) ValidateSession(ctx context.Context, token string, rc models.RequestContext) (res *ValidationResult, err error) {
	defer e.recoverTo(&err, "validate session")
	defer func() { e.logRejection("validate session", rc, err) }()

	now := e.nowFn()
	rc.UserAgent = validation.SanitizeUserAgent(rc.UserAgent)

	id := Identity{SecondFactor: rc.SecondFactor}
	if peek, ok := e.sessions.Peek(token); ok {
		id.Username, id.Role = peek.Username, peek.Role
	}
	if !e.bypass(id, rc) {
		if err := e.guard.Check(rc, now); err != nil {
			return nil, err
		}
	}

	v, err := e.sessions.Validate(ctx, token, rc, now)
	if err != nil {
		e.reportValidationFailure(v, rc, err, now)
		return nil, err
	}

	sess := v.Session
	if v.PreviousIP != "" {
		e.logger.Info("Persistent session moved IP",
			zap.String("session_id", sess.SessionID),
			zap.String("username", sess.Username),
			zap.String("previous_ip", v.PreviousIP),
			zap.String("ip", sess.IP))
	}
	if v.PreviousFP != "" {
		e.events.Record(models.EventFingerprintChange, rc.IP, sess.Username, map[string]any{
			"session_id": sess.SessionID,
			"accepted":   true,
		})
	}

	return &ValidationResult{
		SessionID:    sess.SessionID,
		User:         sess.Summary(),
		ExpiresAt:    sess.ExpiresAt,
		LastActivity: sess.LastActivity,
	}, nil
}

func (e *Engine) reportValidationFailure(v *session.Validation, rc models.RequestContext, err error, now time.Time) {
	if v == nil || v.Session == nil {
		return
	}
	sess := v.Session
	switch {
	case errors.Is(err, apierr.ErrSessionHijacking):
		e.tracker.Report(rc.IP, sess.Username, models.EventSessionHijacking, map[string]any{
			"session_id":  sess.SessionID,
			"original_ip": sess.IP,
			"new_ip":      rc.IP,
		}, now)
	case errors.Is(err, apierr.ErrDeviceFingerprintChanged), errors.Is(err, apierr.ErrDeviceValidationFailed):
		e.events.Record(models.EventFingerprintChange, rc.IP, sess.Username, map[string]any{
			"session_id":   sess.SessionID,
			"session_type": sess.Type(),
			"accepted":     false,
		})
	}
}

// LogoutResult is a completed logout.
type LogoutResult struct {
	SessionID string `json:"session_id"`
	Username  string `json:"username"`
}

// InvalidateSession logs the session for token out when its policy allows.
func (e *Engine) InvalidateSession(_ context.Context, token string, rc models.RequestContext) (res *LogoutResult, err error) {
	defer e.recoverTo(&err, "logout")
	defer func() { e.logRejection("logout", rc, err) }()

	sess, err := e.sessions.Logout(token, e.nowFn())
	if err != nil {
		return nil, err
	}

	e.events.Record(models.EventLogout, rc.IP, sess.Username, map[string]any{
		"session_id": sess.SessionID,
	})
	return &LogoutResult{SessionID: sess.SessionID, Username: sess.Username}, nil
}

// recoverTo turns a panic in op into a SYSTEM_ERROR.
func (e *Engine) recoverTo(err *error, op string) {
	if r := recover(); r != nil {
		e.logger.Error("Recovered panic",
			zap.String("op", op),
			zap.Any("panic", r),
			zap.Stack("stack"))
		*err = fmt.Errorf("%s: panic: %v: %w", op, r, apierr.ErrSystem)
	}
}

func (e *Engine) logRejection(op string, rc models.RequestContext, err error) {
	if err == nil {
		return
	}
	code := apierr.CodeOf(err)
	fields := []zap.Field{
		zap.String("op", op),
		zap.String("code", string(code)),
		zap.String("ip", rc.IP),
		zap.String("device_fingerprint", rc.DeviceFingerprint),
		zap.Error(err),
	}
	if code == apierr.CodeSystemError {
		e.logger.Error("Request failed", fields...)
		return
	}
	e.logger.Info("Request rejected", fields...)
}
