package middleware

import (
	"net"
	"net/http"
	"strings"

	apierr "github.com/victorgomez09/sentinel/internal/auth"
	"go.uber.org/zap"
)

// IPRestrictionMiddleware limits a route to configured client IPs.
type IPRestrictionMiddleware struct {
	allowedIPs map[string]struct{}
	trustProxy bool
	responder  Responder
	logger     *zap.Logger
}

func NewIPRestrictionMiddleware(allowedIPs []string, trustProxy bool, responder Responder, logger *zap.Logger) *IPRestrictionMiddleware {
	m := &IPRestrictionMiddleware{
		allowedIPs: make(map[string]struct{}, len(allowedIPs)),
		trustProxy: trustProxy,
		responder:  responder,
		logger:     logger,
	}
	for _, ip := range allowedIPs {
		m.allowedIPs[strings.TrimSpace(ip)] = struct{}{}
	}
	return m
}

// Middleware allows every request when no IPs are configured.
func (m *IPRestrictionMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(m.allowedIPs) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		clientIP := ClientIP(r, m.trustProxy)
		if _, ok := m.allowedIPs[clientIP]; ok {
			next.ServeHTTP(w, r)
			return
		}

		m.logger.Warn("Access denied: IP not allowed",
			zap.String("client_ip", clientIP),
			zap.String("path", r.URL.Path))
		m.responder.Error(w, apierr.ErrForbidden)
	})
}

// ClientIP returns the client address of r. Proxy headers are honoured only
// when trustProxy is set: CF-Connecting-IP, then the first X-Forwarded-For
// entry, then X-Real-IP.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
			return ip
		}
		if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
			// X-Forwarded-For can contain multiple IPs; take the first one
			first, _, _ := strings.Cut(forwardedFor, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
