package middleware

import (
	"fmt"
	"net/http"

	"github.com/victorgomez09/sentinel/internal/config"
)

// ServerSecurity sets security response headers. X-Content-Type-Options
// is applied to every API response regardless, since all bodies are JSON.
type ServerSecurity struct {
	hsts    string
	frame   string
	xss     bool
	nosniff bool
}

func NewSecurityMiddleware(cfg *config.SecurityHeaders) *ServerSecurity {
	s := &ServerSecurity{nosniff: true}
	if cfg == nil {
		return s
	}

	if cfg.HSTS {
		maxAge := cfg.HSTSMaxAge
		if maxAge == 0 {
			maxAge = 31536000
		}
		s.hsts = fmt.Sprintf("max-age=%d", maxAge)
		if cfg.HSTSIncludeSubDomains {
			s.hsts += "; includeSubDomains"
		}
		if cfg.HSTSPreload {
			s.hsts += "; preload"
		}
	}
	s.frame = cfg.FrameOptions
	if s.frame == "" {
		s.frame = "DENY"
	}
	s.xss = cfg.XSSProtection
	return s
}

func (s *ServerSecurity) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		if s.hsts != "" {
			h.Set("Strict-Transport-Security", s.hsts)
		}
		h.Set("X-Frame-Options", s.frame)
		if s.nosniff {
			h.Set("X-Content-Type-Options", "nosniff")
		}
		if s.xss {
			h.Set("X-XSS-Protection", "1; mode=block")
		}
		h.Set("Referrer-Policy", "no-referrer")

		next.ServeHTTP(w, r)
	})
}
