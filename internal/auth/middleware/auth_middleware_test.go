package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apierr "github.com/victorgomez09/sentinel/internal/auth"
	"github.com/victorgomez09/sentinel/internal/auth/models"
	"github.com/victorgomez09/sentinel/internal/auth/service"
	"go.uber.org/zap"
)

type codeResponder struct{}

func (codeResponder) Error(w http.ResponseWriter, err error) {
	code := apierr.CodeOf(err)
	w.WriteHeader(apierr.HTTPStatus(code))
	w.Write([]byte(code))
}

type stubValidator struct {
	role models.Role
	seen models.RequestContext
}

func (s *stubValidator) ValidateSession(_ context.Context, token string, rc models.RequestContext) (*service.ValidationResult, error) {
	s.seen = rc
	if token != "good" {
		return nil, apierr.ErrSessionNotFound
	}
	return &service.ValidationResult{User: &models.UserSummary{Username: "boss", Role: s.role}}, nil
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.10:5555"
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	r.Header.Set("X-Real-IP", "203.0.113.8")

	assert.Equal(t, "192.0.2.10", ClientIP(r, false), "proxy headers ignored unless trusted")
	assert.Equal(t, "203.0.113.7", ClientIP(r, true))

	r.Header.Set("CF-Connecting-IP", "198.51.100.1")
	assert.Equal(t, "198.51.100.1", ClientIP(r, true))

	r.Header.Del("CF-Connecting-IP")
	r.Header.Del("X-Forwarded-For")
	assert.Equal(t, "203.0.113.8", ClientIP(r, true))
}

func TestAuthenticateAndRequireRole(t *testing.T) {
	validator := &stubValidator{role: models.RoleBoss}
	m := NewAuthMiddleware(validator, codeResponder{}, false)

	reached := false
	h := m.Authenticate(m.RequireRole(models.RoleBoss)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, ok := SessionFrom(r.Context())
		require.True(t, ok)
		assert.Equal(t, "boss", res.User.Username)
		assert.Equal(t, "good", TokenFrom(r.Context()))
		reached = true
	})))

	r := httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil)
	r.Header.Set("Authorization", "Bearer good")
	r.Header.Set(FingerprintHeader, "fp-1")
	r.Header.Set(SecondFactorHeader, "123456")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.True(t, reached)
	assert.Equal(t, "fp-1", validator.seen.DeviceFingerprint)
	assert.Equal(t, "123456", validator.seen.SecondFactor)
	assert.Equal(t, "/api/admin/stats", validator.seen.Path)

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, string(apierr.CodeSessionNotFound), w.Body.String())

	validator.role = models.RoleStaff
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer good")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, string(apierr.CodeForbidden), w.Body.String())
}

func TestIPRestriction(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	h := NewIPRestrictionMiddleware([]string{"192.0.2.1"}, false, codeResponder{}, zap.NewNop()).Middleware(ok)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:1234"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)

	r.RemoteAddr = "192.0.2.2:1234"
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "", BearerToken(r))
	r.Header.Set("Authorization", "Basic abc")
	assert.Equal(t, "", BearerToken(r))
	r.Header.Set("Authorization", "bearer abc")
	assert.Equal(t, "abc", BearerToken(r))
}
