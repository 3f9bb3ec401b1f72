package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/victorgomez09/sentinel/internal/auth/models"
)

func openTestDB(t *testing.T) *SQLiteDB {
	t.Helper()
	db, err := NewSQLiteDB(filepath.Join(t.TempDir(), "sentinel.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBlocksRoundTrip(t *testing.T) {
	db := openTestDB(t)
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, db.PutBlock(models.BlockRecord{
		Kind: models.BlockIP, Subject: "10.0.0.1", Reason: "MULTIPLE_FAILED_LOGINS", BlockedAt: now, Permanent: true,
	}))
	require.NoError(t, db.PutBlock(models.BlockRecord{
		Kind: models.BlockDevice, Subject: "fp-1", Reason: "MULTIPLE_FAILED_LOGINS", BlockedAt: now, Permanent: true,
	}))

	ips, err := db.ListBlocks(models.BlockIP)
	require.NoError(t, err)
	require.Len(t, ips, 1)
	assert.Equal(t, "10.0.0.1", ips[0].Subject)
	assert.True(t, ips[0].Permanent)
	assert.True(t, ips[0].BlockedAt.Equal(now))

	all, err := db.ListBlocks("")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	rec, err := db.GetBlock(models.BlockDevice, "fp-1")
	require.NoError(t, err)
	assert.Equal(t, models.BlockDevice, rec.Kind)

	removed, err := db.DeleteBlock(models.BlockIP, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = db.DeleteBlock(models.BlockIP, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = db.GetBlock(models.BlockIP, "10.0.0.1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSecurityEvents(t *testing.T) {
	db := openTestDB(t)
	base := time.Now().UTC().Truncate(time.Second)

	for i, typ := range []models.EventType{models.EventHoneypotAccess, models.EventDDoSAttack} {
		require.NoError(t, db.CreateSecurityEvent(models.SecurityEvent{
			ID:       string(typ),
			Type:     typ,
			Severity: models.SeverityOf(typ),
			IP:       "1.2.3.4",
			Details:  map[string]any{"path": "/admin"},
			At:       base.Add(time.Duration(i) * time.Minute),
		}))
	}

	events, err := db.ListSecurityEvents(10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventDDoSAttack, events[0].Type)
	assert.Equal(t, models.SeverityCritical, events[0].Severity)
	assert.Equal(t, "/admin", events[1].Details["path"])

	n, err := db.PruneSecurityEvents(base.Add(30 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPersistentSessions(t *testing.T) {
	db := openTestDB(t)
	now := time.Now().UTC().Truncate(time.Second)

	sess := &models.Session{
		SessionID:         "sid-1",
		Username:          "staff",
		Role:              models.RoleStaff,
		EmployeeID:        "emp-1",
		SecurityLevel:     10,
		IP:                "10.1.1.1",
		DeviceFingerprint: "fp",
		UserAgent:         "ua",
		CreatedAt:         now,
		LastActivity:      now,
	}
	require.NoError(t, db.SavePersistentSession("hash-1", sess))

	sess.IP = "10.1.1.2"
	sess.ExpiresAt = now.Add(time.Hour)
	require.NoError(t, db.SavePersistentSession("hash-1", sess))

	loaded, err := db.ListPersistentSessions()
	require.NoError(t, err)
	require.Contains(t, loaded, "hash-1")
	got := loaded["hash-1"]
	assert.Equal(t, "10.1.1.2", got.IP)
	assert.True(t, got.Persistent)
	assert.False(t, got.AllowLogout)
	assert.True(t, got.ExpiresAt.Equal(now.Add(time.Hour)))
	assert.Empty(t, got.Token)

	require.NoError(t, db.DeletePersistentSession("hash-1"))
	loaded, err = db.ListPersistentSessions()
	require.NoError(t, err)
	assert.Empty(t, loaded)
}
