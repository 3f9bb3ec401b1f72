package directory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/victorgomez09/sentinel/internal/auth/database"
	"github.com/victorgomez09/sentinel/internal/auth/models"
	"go.uber.org/zap"
)

const registryYAML = `
employees:
  - id: emp-001
    username: Alice
    role: staff
    security_level: 10
    session_persistent: true
    devices: [fp-alice]
  - id: emp-002
    username: bob
    role: admin
    active: false
    allow_logout: true
`

func writeRegistry(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "employees.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRegistryFromAccounts(t *testing.T) {
	r := NewRegistry(RegistryConfig{}, nil, zap.NewNop())
	require.NoError(t, r.Replace(EmployeesFromAccounts(map[string]models.Role{
		"Admin": models.RoleAdmin,
		"staff": models.RoleStaff,
	}, DefaultRolePolicies())))

	assert.Equal(t, 2, r.Len())

	staff, ok := r.Employee("STAFF")
	require.True(t, ok)
	assert.Equal(t, EmployeeID("staff"), staff.ID)
	assert.True(t, staff.Restrictions.SessionPersistent)
	assert.False(t, staff.AllowLogout)

	admin, ok := r.Employee("admin")
	require.True(t, ok)
	assert.True(t, admin.AllowLogout)
	assert.NotEqual(t, staff.ID, admin.ID)
}

func TestRegistryLoadFile(t *testing.T) {
	r := NewRegistry(RegistryConfig{}, nil, zap.NewNop())
	require.NoError(t, r.LoadFile(writeRegistry(t, t.TempDir(), registryYAML)))

	ctx := context.Background()
	rc := models.RequestContext{IP: "10.0.0.1"}

	d, err := r.ValidateEmployeeAccess(ctx, "alice", "fp-alice", rc)
	require.NoError(t, err)
	assert.True(t, d.Valid)
	assert.Equal(t, "emp-001", d.EmployeeID)
	assert.True(t, d.Employee.Restrictions.SessionPersistent)

	d, _ = r.ValidateEmployeeAccess(ctx, "alice", "fp-other", rc)
	assert.False(t, d.Valid)
	assert.Equal(t, ReasonDeviceNotRegistered, d.Reason)

	d, _ = r.ValidateEmployeeAccess(ctx, "bob", "", rc)
	assert.Equal(t, ReasonEmployeeInactive, d.Reason)

	d, _ = r.ValidateEmployeeAccess(ctx, "carol", "", rc)
	assert.Equal(t, ReasonEmployeeNotFound, d.Reason)
}

func TestRegistryRejectsUnknownFields(t *testing.T) {
	r := NewRegistry(RegistryConfig{}, nil, zap.NewNop())
	path := writeRegistry(t, t.TempDir(), "employees:\n  - username: a\n    role: staff\n    colour: red\n")
	assert.Error(t, r.LoadFile(path))

	path = writeRegistry(t, t.TempDir(), "employees:\n  - username: a\n    role: janitor\n")
	assert.Error(t, r.LoadFile(path))
}

func TestTrustOnFirstUse(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(RegistryConfig{TrustOnFirstUse: true, HistoryLimit: 2}, nil, zap.NewNop())
	require.NoError(t, r.Replace([]Employee{{Username: "dave", Role: models.RoleStaff, Active: true}}))
	id := EmployeeID("dave")

	require.NoError(t, r.RecordLoginActivity(ctx, id, "fp-1", false, "1.1.1.1", "INVALID_CREDENTIALS"))
	require.NoError(t, r.RecordLoginActivity(ctx, id, "fp-1", true, "1.1.1.1", "PASSWORD_LOGIN"))
	require.NoError(t, r.RecordLoginActivity(ctx, id, "fp-1", true, "1.1.1.1", "PASSWORD_LOGIN"))

	e, _ := r.Employee("dave")
	assert.Equal(t, []string{"fp-1"}, e.Devices)

	history := r.History(id)
	require.Len(t, history, 2)
	assert.True(t, history[0].Success)

	d, _ := r.ValidateEmployeeAccess(ctx, "dave", "fp-2", models.RequestContext{})
	assert.Equal(t, ReasonDeviceNotRegistered, d.Reason)

	assert.Error(t, r.RecordLoginActivity(ctx, "nobody", "", true, "", ""))
}

func TestResumePersistentSession(t *testing.T) {
	ctx := context.Background()
	persistent := NewPersistentStore(nil, zap.NewNop())
	r := NewRegistry(RegistryConfig{}, persistent, zap.NewNop())
	require.NoError(t, r.Replace([]Employee{{
		Username:     "erin",
		Role:         models.RoleStaff,
		Active:       true,
		Restrictions: Restrictions{SessionPersistent: true},
	}}))

	now := time.Now()
	persistent.Save(&models.Session{
		Token:             "tok-erin",
		SessionID:         "sid",
		EmployeeID:        EmployeeID("erin"),
		DeviceFingerprint: "fp-e",
		Persistent:        true,
		ExpiresAt:         now.Add(time.Hour),
	})

	d, err := r.ValidateEmployeeAccess(ctx, "erin", "fp-e", models.RequestContext{})
	require.NoError(t, err)
	require.True(t, d.ResumedSession)
	assert.Equal(t, "tok-erin", d.ExistingSession.Token)

	d, _ = r.ValidateEmployeeAccess(ctx, "erin", "fp-other", models.RequestContext{})
	assert.True(t, d.Valid)
	assert.False(t, d.ResumedSession)
}

func TestPersistentStoreSQLite(t *testing.T) {
	db, err := database.NewSQLiteDB(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC().Truncate(time.Second)
	p := NewPersistentStore(db, zap.NewNop())
	p.Save(&models.Session{
		Token:        "secret-token",
		SessionID:    "sid-1",
		Username:     "staff",
		Role:         models.RoleStaff,
		EmployeeID:   "emp",
		IP:           "1.1.1.1",
		Persistent:   true,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(time.Hour),
	})

	updated, ok := p.Update("secret-token", func(cur *models.Session) (*models.Session, bool) {
		cur.IP = "2.2.2.2"
		return cur, true
	})
	require.True(t, ok)
	assert.Equal(t, "2.2.2.2", updated.IP)

	saved, err := db.ListPersistentSessions()
	require.NoError(t, err)
	require.Contains(t, saved, TokenHash("secret-token"))
	assert.Equal(t, "2.2.2.2", saved[TokenHash("secret-token")].IP)

	restored := NewPersistentStore(db, zap.NewNop())
	n, err := restored.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sess, ok := restored.Get("secret-token")
	require.True(t, ok)
	assert.Empty(t, sess.Token)
	_, resumable := restored.FindByEmployeeDevice("emp", "", now)
	assert.False(t, resumable)

	assert.Equal(t, 1, restored.Sweep(now.Add(2*time.Hour)))
	saved, err = db.ListPersistentSessions()
	require.NoError(t, err)
	assert.Empty(t, saved)
}

func TestWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := writeRegistry(t, dir, registryYAML)

	r := NewRegistry(RegistryConfig{}, nil, zap.NewNop())
	require.NoError(t, r.LoadFile(path))

	w, err := NewWatcher(r, path, 50*time.Millisecond, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, w.Watch())
	defer w.Close()

	writeRegistry(t, dir, registryYAML+`  - username: frank
    role: boss
`)

	require.Eventually(t, func() bool {
		_, ok := r.Employee("frank")
		return ok
	}, 5*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, w.Reloads(), 1)
}
