package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/victorgomez09/sentinel/internal/auth/audit"
	"github.com/victorgomez09/sentinel/internal/auth/credential"
	"github.com/victorgomez09/sentinel/internal/auth/directory"
	"github.com/victorgomez09/sentinel/internal/auth/lockout"
	"github.com/victorgomez09/sentinel/internal/auth/middleware"
	"github.com/victorgomez09/sentinel/internal/auth/models"
	"github.com/victorgomez09/sentinel/internal/auth/service"
	"github.com/victorgomez09/sentinel/internal/auth/session"
	"github.com/victorgomez09/sentinel/internal/config"
	"github.com/victorgomez09/sentinel/internal/health"
	"go.uber.org/zap"
)

const (
	bossSecret  = "B0ss!Corner#Desk"
	staffSecret = "St4ff!Shift#Room"
)

func newTestRouter(t *testing.T) (*http.ServeMux, *service.Engine) {
	t.Helper()
	logger := zap.NewNop()

	hasher, err := credential.NewHasher(credential.Params{Iterations: 1000, KeyLength: 128, SaltLength: 32}, nil)
	require.NoError(t, err)

	persistent := directory.NewPersistentStore(nil, logger)
	registry := directory.NewRegistry(directory.RegistryConfig{}, persistent, logger)
	require.NoError(t, registry.Replace(directory.EmployeesFromAccounts(map[string]models.Role{
		"boss":  models.RoleBoss,
		"staff": models.RoleStaff,
	}, directory.DefaultRolePolicies())))

	recorder := audit.NewRecorder(logger)
	t.Cleanup(recorder.Close)
	blocks := lockout.NewBlockList(nil, logger)
	blocks.SetRecorder(recorder)
	tracker := lockout.NewActivityTracker(3, blocks, recorder)
	envelope, err := service.NewEnvelope(32)
	require.NoError(t, err)

	engine, err := service.NewEngine(service.AuthConfig{}, service.Dependencies{
		Hasher:    hasher,
		Sessions:  session.NewManager(session.Config{PersistentTTL: time.Hour}, persistent, registry),
		Directory: registry,
		Attempts:  lockout.NewMemoryAttemptStore(),
		Blocks:    blocks,
		Guard:     lockout.NewRequestGuard(lockout.GuardConfig{DDoSThreshold: 1000, DDoSWindow: time.Minute}, blocks, tracker),
		Tracker:   tracker,
		Events:    recorder,
		Envelope:  envelope,
		Logger:    logger,
	})
	require.NoError(t, err)
	require.NoError(t, engine.Bootstrap(context.Background(), []service.AccountSeed{
		{Username: "boss", Secret: bossSecret, Role: models.RoleBoss},
		{Username: "staff", Secret: staffSecret, Role: models.RoleStaff},
	}))

	return NewRouter(RouterConfig{Engine: engine, Logger: logger}), engine
}

func do(t *testing.T, h http.Handler, method, path, remote, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	r.RemoteAddr = remote
	r.Header.Set("User-Agent", "Mozilla/5.0")
	r.Header.Set(middleware.FingerprintHeader, "fp-"+remote)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	var decoded map[string]any
	if w.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

func login(t *testing.T, h http.Handler, remote, username, password string) string {
	t.Helper()
	w, body := do(t, h, http.MethodPost, "/api/auth/login", remote, "", LoginRequest{Username: username, Password: password})
	require.Equal(t, http.StatusOK, w.Code, "%v", body)
	return body["token"].(string)
}

func TestLoginEnvelope(t *testing.T) {
	mux, engine := newTestRouter(t)

	w, body := do(t, mux, http.MethodPost, "/api/auth/login", "192.0.2.10:1000", "", LoginRequest{Username: "boss", Password: bossSecret})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Bearer", body["type"])
	assert.NotEmpty(t, body["token"])
	assert.Contains(t, body, "_padding")
	assert.True(t, engine.Envelope().Verify(body))

	w, body = do(t, mux, http.MethodPost, "/api/auth/login", "192.0.2.10:1000", "", LoginRequest{Username: "boss", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", body["code"])
	assert.Equal(t, false, body["success"])
	assert.True(t, engine.Envelope().Verify(body), "failures are sealed too")

	w, body = do(t, mux, http.MethodPost, "/api/auth/login", "192.0.2.10:1000", "", map[string]any{"username": 42})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", body["code"])

	w, _ = do(t, mux, http.MethodGet, "/api/auth/login", "192.0.2.10:1000", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestSessionAndLogout(t *testing.T) {
	mux, _ := newTestRouter(t)
	remote := "192.0.2.20:1000"
	token := login(t, mux, remote, "boss", bossSecret)

	w, body := do(t, mux, http.MethodGet, "/api/auth/session", remote, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	user := body["user"].(map[string]any)
	assert.Equal(t, "boss", user["username"])

	w, body = do(t, mux, http.MethodGet, "/api/auth/session", "192.0.2.21:1000", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "SESSION_HIJACKING", body["code"])

	token = login(t, mux, remote, "boss", bossSecret)
	w, _ = do(t, mux, http.MethodPost, "/api/auth/logout", remote, token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, body = do(t, mux, http.MethodGet, "/api/auth/session", remote, token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "SESSION_NOT_FOUND", body["code"])
}

func TestStaffLogoutNotPermitted(t *testing.T) {
	mux, _ := newTestRouter(t)
	remote := "192.0.2.30:1000"
	token := login(t, mux, remote, "staff", staffSecret)

	w, body := do(t, mux, http.MethodPost, "/api/auth/logout", remote, token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "LOGOUT_NOT_PERMITTED", body["code"])
}

func TestAdminRoutes(t *testing.T) {
	mux, _ := newTestRouter(t)
	bossRemote := "192.0.2.40:1000"
	staffRemote := "192.0.2.41:1000"
	bossToken := login(t, mux, bossRemote, "boss", bossSecret)
	staffToken := login(t, mux, staffRemote, "staff", staffSecret)

	w, body := do(t, mux, http.MethodGet, "/api/admin/stats", bossRemote, bossToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := body["stats"].(map[string]any)
	assert.Equal(t, float64(2), stats["total_users"])
	assert.Equal(t, float64(2), stats["active_sessions"])

	w, body = do(t, mux, http.MethodGet, "/api/admin/stats", staffRemote, staffToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", body["code"])

	w, body = do(t, mux, http.MethodPost, "/api/admin/unblock", bossRemote, bossToken, UnblockRequest{Kind: "mac", Subject: "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", body["code"])

	w, body = do(t, mux, http.MethodPost, "/api/admin/lockdown", bossRemote, bossToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["users_deactivated"])

	w, _ = do(t, mux, http.MethodGet, "/api/admin/stats", bossRemote, bossToken, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "lockdown clears the caller's session too")
}

func TestHoneypotBlocksCaller(t *testing.T) {
	mux, _ := newTestRouter(t)
	remote := "192.0.2.50:1000"

	w, _ := do(t, mux, http.MethodGet, "/wp-admin/install.php", remote, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body := do(t, mux, http.MethodPost, "/api/auth/login", remote, "", LoginRequest{Username: "boss", Password: bossSecret})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "IP_BLOCKED", body["code"])
}

func TestHealthzRoute(t *testing.T) {
	_, engine := newTestRouter(t)
	checker := health.NewChecker(config.Health{Interval: time.Minute, Timeout: time.Second}, zap.NewNop())
	checker.Register("sqlite", func(context.Context) error { return nil })
	mux := NewRouter(RouterConfig{Engine: engine, Health: checker, Logger: zap.NewNop()})

	w, _ := do(t, mux, http.MethodGet, "/healthz", "192.0.2.60:1000", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestLoginBodiesShareSizeClass(t *testing.T) {
	mux, _ := newTestRouter(t)
	remote := "192.0.2.70:1000"

	ok, _ := do(t, mux, http.MethodPost, "/api/auth/login", remote, "", LoginRequest{Username: "boss", Password: bossSecret})
	require.Equal(t, http.StatusOK, ok.Code)
	bad, _ := do(t, mux, http.MethodPost, "/api/auth/login", remote, "", LoginRequest{Username: "boss", Password: "wrong"})
	require.Equal(t, http.StatusUnauthorized, bad.Code)

	// bucket fill plus at most 32 bytes of jitter and the encoder's newline
	for _, w := range []*httptest.ResponseRecorder{ok, bad} {
		assert.GreaterOrEqual(t, w.Body.Len(), service.DefaultBucketSize)
		assert.LessOrEqual(t, w.Body.Len(), service.DefaultBucketSize+33)
	}
}
