package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/victorgomez09/sentinel/internal/config"
)

type CORS struct {
	origins          map[string]struct{}
	anyOrigin        bool
	allowedMethods   string
	allowedHeaders   string
	exposedHeaders   string
	allowCredentials bool
	maxAge           int
}

// NewCORSMiddleware builds the CORS middleware. Authorization and the
// device fingerprint header are allowed when no header list is given.
func NewCORSMiddleware(cfg *config.CORS) *CORS {
	c := &CORS{
		origins:          make(map[string]struct{}, len(cfg.AllowedOrigins)),
		allowedMethods:   strings.Join(cfg.AllowedMethods, ", "),
		allowedHeaders:   strings.Join(cfg.AllowedHeaders, ", "),
		exposedHeaders:   strings.Join(cfg.ExposedHeaders, ", "),
		allowCredentials: cfg.AllowCredentials,
		maxAge:           cfg.MaxAge,
	}
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			c.anyOrigin = true
			continue
		}
		c.origins[strings.ToLower(o)] = struct{}{}
	}
	if c.allowedMethods == "" {
		c.allowedMethods = "GET, POST, OPTIONS"
	}
	if c.allowedHeaders == "" {
		c.allowedHeaders = "Authorization, Content-Type, X-Device-Fingerprint, X-Second-Factor"
	}
	return c
}

// Middleware echoes an allowed Origin back rather than joining the list,
// since browsers accept a single origin only.
func (c *CORS) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && c.allowed(origin) {
			h := w.Header()
			if c.anyOrigin && !c.allowCredentials {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
			h.Set("Access-Control-Allow-Methods", c.allowedMethods)
			h.Set("Access-Control-Allow-Headers", c.allowedHeaders)
			if c.exposedHeaders != "" {
				h.Set("Access-Control-Expose-Headers", c.exposedHeaders)
			}
			if c.allowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			if c.maxAge > 0 {
				h.Set("Access-Control-Max-Age", strconv.Itoa(c.maxAge))
			}
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (c *CORS) allowed(origin string) bool {
	if c.anyOrigin {
		return true
	}
	_, ok := c.origins[strings.ToLower(origin)]
	return ok
}
