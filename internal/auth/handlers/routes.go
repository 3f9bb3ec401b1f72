package handlers

import (
	"net/http"
	"strings"

	"github.com/victorgomez09/sentinel/internal/auth/middleware"
	"github.com/victorgomez09/sentinel/internal/auth/models"
	"github.com/victorgomez09/sentinel/internal/auth/service"
	"go.uber.org/zap"
)

// RouterConfig wires the HTTP surface of the engine.
type RouterConfig struct {
	Engine          *service.Engine
	Events          http.Handler // live event stream; nil disables the route
	Health          http.Handler // dependency report on /healthz; nil disables the route
	TrustProxy      bool         // honour CF-Connecting-IP, X-Forwarded-For, X-Real-IP
	AdminAllowedIPs []string     // empty allows every IP on admin routes
	Logger          *zap.Logger
}

// NewRouter registers the auth, admin and honeypot routes on a new mux.
func NewRouter(cfg RouterConfig) *http.ServeMux {
	responder := NewResponder(cfg.Engine.Envelope(), cfg.Logger)
	authMW := middleware.NewAuthMiddleware(cfg.Engine, responder, cfg.TrustProxy)
	ipMW := middleware.NewIPRestrictionMiddleware(cfg.AdminAllowedIPs, cfg.TrustProxy, responder, cfg.Logger)

	auth := NewAuthHandler(cfg.Engine, responder, cfg.TrustProxy)
	admin := NewAdminHandler(cfg.Engine, responder, cfg.Events, cfg.Logger)

	protectAdmin := func(h http.HandlerFunc) http.Handler {
		return ipMW.Middleware(authMW.Authenticate(authMW.RequireRole(models.RoleAdmin, models.RoleBoss)(h)))
	}

	mux := http.NewServeMux()
	if cfg.Health != nil {
		mux.Handle("/healthz", cfg.Health)
	}
	mux.HandleFunc("/api/auth/login", auth.Login)
	mux.Handle("/api/auth/session", authMW.Authenticate(http.HandlerFunc(auth.Session)))
	mux.HandleFunc("/api/auth/logout", auth.Logout)

	mux.Handle("/api/admin/stats", protectAdmin(admin.Stats))
	mux.Handle("/api/admin/unblock", protectAdmin(admin.Unblock))
	mux.Handle("/api/admin/users/deactivate", protectAdmin(admin.DeactivateUser))
	mux.Handle("/api/admin/users/activate", protectAdmin(admin.ActivateUser))
	mux.Handle("/api/admin/lockdown", protectAdmin(admin.Lockdown))
	mux.Handle("/api/admin/events", protectAdmin(admin.Events))

	honeypot := NewHoneypotHandler(cfg.Engine, cfg.TrustProxy)
	seen := make(map[string]struct{})
	for _, path := range cfg.Engine.Honeypots() {
		for _, pattern := range []string{path, strings.TrimSuffix(path, "/") + "/"} {
			if _, dup := seen[pattern]; dup || pattern == "/" {
				continue
			}
			seen[pattern] = struct{}{}
			mux.Handle(pattern, honeypot)
		}
	}
	return mux
}
