package middleware

import (
	"context"
	"net/http"
	"strings"

	apierr "github.com/victorgomez09/sentinel/internal/auth"
	"github.com/victorgomez09/sentinel/internal/auth/models"
	"github.com/victorgomez09/sentinel/internal/auth/service"
	"github.com/victorgomez09/sentinel/internal/auth/store"
	"golang.org/x/time/rate"
)

const (
	FingerprintHeader  = "X-Device-Fingerprint"
	SecondFactorHeader = "X-Second-Factor"
)

type contextKey struct{ name string }

var (
	sessionKey = &contextKey{"session"}
	tokenKey   = &contextKey{"token"}
)

// Responder writes failure responses for the middleware.
type Responder interface {
	Error(w http.ResponseWriter, err error)
}

// SessionValidator is the part of the engine the middleware needs.
type SessionValidator interface {
	ValidateSession(ctx context.Context, token string, rc models.RequestContext) (*service.ValidationResult, error)
}

type AuthMiddleware struct {
	engine      SessionValidator
	responder   Responder
	trustProxy  bool
	rateLimiter *RateLimiter
}

func NewAuthMiddleware(engine SessionValidator, responder Responder, trustProxy bool) *AuthMiddleware {
	return &AuthMiddleware{
		engine:      engine,
		responder:   responder,
		trustProxy:  trustProxy,
		rateLimiter: NewRateLimiter(10, 30), // 10 requests per second, burst of 30
	}
}

// Authenticate validates the bearer token of the request and stores the
// validated session in the request context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := RequestContextFrom(r, m.trustProxy)

		if !m.rateLimiter.Allow(rc.IP) {
			m.responder.Error(w, apierr.ErrDDoSDetected)
			return
		}

		token := BearerToken(r)
		if token == "" {
			m.responder.Error(w, apierr.ErrSessionNotFound)
			return
		}

		res, err := m.engine.ValidateSession(r.Context(), token, rc)
		if err != nil {
			m.responder.Error(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey, res)
		ctx = context.WithValue(ctx, tokenKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole rejects requests whose validated session has none of roles.
// It must run after Authenticate.
func (m *AuthMiddleware) RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, ok := SessionFrom(r.Context())
			if !ok {
				m.responder.Error(w, apierr.ErrSessionNotFound)
				return
			}
			for _, role := range roles {
				if res.User.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			m.responder.Error(w, apierr.ErrForbidden)
		})
	}
}

// SessionFrom returns the session validated by Authenticate.
func SessionFrom(ctx context.Context) (*service.ValidationResult, bool) {
	res, ok := ctx.Value(sessionKey).(*service.ValidationResult)
	return res, ok && res != nil
}

// TokenFrom returns the bearer token validated by Authenticate.
func TokenFrom(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey).(string)
	return token
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	tokenParts := strings.SplitN(authHeader, " ", 2)
	if len(tokenParts) != 2 || !strings.EqualFold(tokenParts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(tokenParts[1])
}

// RequestContextFrom describes the client of r.
func RequestContextFrom(r *http.Request, trustProxy bool) models.RequestContext {
	return models.RequestContext{
		IP:                ClientIP(r, trustProxy),
		UserAgent:         r.UserAgent(),
		DeviceFingerprint: r.Header.Get(FingerprintHeader),
		Path:              r.URL.Path,
		SecondFactor:      r.Header.Get(SecondFactorHeader),
	}
}

// RateLimiter is a per-key token bucket in front of session validation.
type RateLimiter struct {
	limiters *store.ShardedMap[*rate.Limiter]
	rate     rate.Limit
	burst    int
}

func NewRateLimiter(requestsPerSecond, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: store.NewShardedMap[*rate.Limiter](store.DefaultShards),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

func (rl *RateLimiter) Allow(key string) bool {
	limiter, _ := rl.limiters.Update(key, func(cur *rate.Limiter, ok bool) (*rate.Limiter, bool) {
		if ok {
			return cur, true
		}
		return rate.NewLimiter(rl.rate, rl.burst), true
	})
	return limiter.Allow()
}
