package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apierr "github.com/victorgomez09/sentinel/internal/auth"
	"github.com/victorgomez09/sentinel/internal/auth/directory"
	"github.com/victorgomez09/sentinel/internal/auth/models"
	"go.uber.org/zap"
)

type stubDirectory struct {
	allow map[string]bool // fingerprint -> valid
	calls int
}

func (s *stubDirectory) ValidateEmployeeAccess(_ context.Context, username, fingerprint string, _ models.RequestContext) (directory.AccessDecision, error) {
	s.calls++
	if s.allow[fingerprint] {
		return directory.AccessDecision{Valid: true, EmployeeID: "emp-" + username}, nil
	}
	return directory.AccessDecision{Reason: directory.ReasonDeviceNotRegistered}, nil
}

func (s *stubDirectory) RecordLoginActivity(context.Context, string, string, bool, string, string) error {
	return nil
}

var (
	homeRC  = models.RequestContext{IP: "10.0.0.1", DeviceFingerprint: "fp-home", UserAgent: "Mozilla/5.0"}
	otherRC = models.RequestContext{IP: "10.0.0.2", DeviceFingerprint: "fp-home", UserAgent: "Mozilla/5.0"}
)

func newTestManager(dir directory.Directory) *Manager {
	return NewManager(Config{
		DefaultTimeout: 15 * time.Minute,
		RoleTimeouts:   map[models.Role]time.Duration{models.RoleAdmin: time.Minute},
		PersistentTTL:  24 * time.Hour,
	}, directory.NewPersistentStore(nil, zap.NewNop()), dir)
}

func issue(t *testing.T, m *Manager, role models.Role, persistent bool, now time.Time) *models.Session {
	t.Helper()
	sess, err := m.Issue(IssueParams{
		Username:    "user-" + string(role),
		Role:        role,
		AllowLogout: role != models.RoleStaff,
		Persistent:  persistent,
		Request:     homeRC,
	}, now)
	require.NoError(t, err)
	return sess
}

func TestIssueToken(t *testing.T) {
	m := newTestManager(nil)
	now := time.Now()
	a := issue(t, m, models.RoleAdmin, false, now)
	b := issue(t, m, models.RoleAdmin, false, now)

	assert.Len(t, a.Token, 2*TokenBytes)
	assert.NotEqual(t, a.Token, b.Token)
	assert.NotEqual(t, a.SessionID, b.SessionID)
	assert.Equal(t, models.SessionIssued, a.State)
	assert.True(t, now.Add(time.Minute).Equal(a.ExpiresAt))
	assert.Equal(t, 15*time.Minute, m.Timeout(models.RoleBoss))
}

func TestValidateExtendsAndExpires(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(nil)
	t0 := time.Now()

	extended := issue(t, m, models.RoleAdmin, false, t0)
	idle := issue(t, m, models.RoleAdmin, false, t0)

	v, err := m.Validate(ctx, extended.Token, homeRC, t0.Add(30*time.Second))
	require.NoError(t, err)
	assert.Equal(t, models.SessionValid, v.Session.State)
	assert.True(t, t0.Add(90*time.Second).Equal(v.Session.ExpiresAt))

	_, err = m.Validate(ctx, extended.Token, homeRC, t0.Add(70*time.Second))
	assert.NoError(t, err)

	v, err = m.Validate(ctx, idle.Token, homeRC, t0.Add(70*time.Second))
	assert.ErrorIs(t, err, apierr.ErrSessionExpired)
	assert.Equal(t, models.SessionExpired, v.Session.State)

	_, err = m.Validate(ctx, idle.Token, homeRC, t0.Add(71*time.Second))
	assert.ErrorIs(t, err, apierr.ErrSessionNotFound)
}

func TestValidateHijack(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(nil)
	now := time.Now()
	sess := issue(t, m, models.RoleAdmin, false, now)

	v, err := m.Validate(ctx, sess.Token, otherRC, now)
	assert.ErrorIs(t, err, apierr.ErrSessionHijacking)
	assert.Equal(t, models.SessionHijackSuspected, v.Session.State)

	_, err = m.Validate(ctx, sess.Token, homeRC, now)
	assert.ErrorIs(t, err, apierr.ErrSessionNotFound)
}

func TestValidateFingerprintChange(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(nil)
	now := time.Now()
	sess := issue(t, m, models.RoleBoss, false, now)

	rc := homeRC
	rc.DeviceFingerprint = "fp-new"
	_, err := m.Validate(ctx, sess.Token, rc, now)
	assert.ErrorIs(t, err, apierr.ErrDeviceFingerprintChanged)

	_, ok := m.Peek(sess.Token)
	assert.False(t, ok)
}

func TestValidateEmptyToken(t *testing.T) {
	_, err := newTestManager(nil).Validate(context.Background(), "", homeRC, time.Now())
	assert.ErrorIs(t, err, apierr.ErrSessionNotFound)
}

func TestPersistentDrift(t *testing.T) {
	ctx := context.Background()
	dir := &stubDirectory{allow: map[string]bool{"fp-laptop": true}}
	m := newTestManager(dir)
	now := time.Now()
	sess := issue(t, m, models.RoleStaff, true, now)
	assert.True(t, now.Add(24*time.Hour).Equal(sess.ExpiresAt))

	v, err := m.Validate(ctx, sess.Token, otherRC, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, homeRC.IP, v.PreviousIP)
	assert.Equal(t, otherRC.IP, v.Session.IP)
	assert.Equal(t, 0, dir.calls)

	laptop := otherRC
	laptop.DeviceFingerprint = "fp-laptop"
	v, err = m.Validate(ctx, sess.Token, laptop, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "fp-home", v.PreviousFP)
	assert.Equal(t, "fp-laptop", v.Session.DeviceFingerprint)
	assert.True(t, now.Add(2*time.Minute).Equal(v.Session.LastActivity))
	assert.Equal(t, 1, dir.calls)

	rogue := otherRC
	rogue.DeviceFingerprint = "fp-rogue"
	_, err = m.Validate(ctx, sess.Token, rogue, now.Add(3*time.Minute))
	assert.ErrorIs(t, err, apierr.ErrDeviceValidationFailed)

	_, err = m.Validate(ctx, sess.Token, laptop, now.Add(4*time.Minute))
	assert.ErrorIs(t, err, apierr.ErrSessionNotFound)
}

func TestLogout(t *testing.T) {
	m := newTestManager(&stubDirectory{})
	now := time.Now()

	admin := issue(t, m, models.RoleAdmin, false, now)
	out, err := m.Logout(admin.Token, now)
	require.NoError(t, err)
	assert.Equal(t, models.SessionLoggedOut, out.State)
	_, ok := m.Peek(admin.Token)
	assert.False(t, ok)

	staff := issue(t, m, models.RoleStaff, true, now)
	_, err = m.Logout(staff.Token, now)
	assert.ErrorIs(t, err, apierr.ErrLogoutNotPermitted)
	_, ok = m.Peek(staff.Token)
	assert.True(t, ok, "denied logout keeps the session")

	_, err = m.Logout("unknown", now)
	assert.ErrorIs(t, err, apierr.ErrSessionNotFound)
}

func TestSweepRevokeClear(t *testing.T) {
	m := newTestManager(&stubDirectory{})
	now := time.Now()

	issue(t, m, models.RoleAdmin, false, now)
	issue(t, m, models.RoleBoss, false, now)
	issue(t, m, models.RoleStaff, true, now)

	regular, persistent := m.Counts()
	assert.Equal(t, 2, regular)
	assert.Equal(t, 1, persistent)

	regular, persistent = m.Sweep(now.Add(2 * time.Minute))
	assert.Equal(t, 1, regular)
	assert.Equal(t, 0, persistent)

	assert.Equal(t, 1, m.RevokeUser("user-staff"))
	assert.Equal(t, 1, m.Clear())
}
