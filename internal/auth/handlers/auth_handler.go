package handlers

import (
	"fmt"
	"net/http"
	"time"

	apierr "github.com/victorgomez09/sentinel/internal/auth"
	"github.com/victorgomez09/sentinel/internal/auth/middleware"
	"github.com/victorgomez09/sentinel/internal/auth/models"
	"github.com/victorgomez09/sentinel/internal/auth/service"
)

type AuthHandler struct {
	engine     *service.Engine
	responder  *Responder
	trustProxy bool
}

func NewAuthHandler(engine *service.Engine, responder *Responder, trustProxy bool) *AuthHandler {
	return &AuthHandler{
		engine:     engine,
		responder:  responder,
		trustProxy: trustProxy,
	}
}

type LoginRequest struct {
	Username          string `json:"username"`
	Password          string `json:"password"`
	DeviceFingerprint string `json:"device_fingerprint,omitempty"`
}

type LoginResponse struct {
	Success   bool                `json:"success"`
	Token     string              `json:"token"`
	Type      string              `json:"type"`
	SessionID string              `json:"session_id"`
	ExpiresAt time.Time           `json:"expires_at"`
	User      *models.UserSummary `json:"user"`
	Resumed   bool                `json:"resumed"`
}

type SessionResponse struct {
	Success      bool                `json:"success"`
	SessionID    string              `json:"session_id"`
	ExpiresAt    time.Time           `json:"expires_at"`
	LastActivity time.Time           `json:"last_activity"`
	User         *models.UserSummary `json:"user"`
}

type LogoutResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rc := middleware.RequestContextFrom(r, h.trustProxy)

	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		// a malformed body still goes through the guard and attempt accounting
		req = LoginRequest{}
	}
	if rc.DeviceFingerprint == "" {
		rc.DeviceFingerprint = req.DeviceFingerprint
	}

	res, err := h.engine.Authenticate(r.Context(), req.Username, req.Password, rc)
	if err != nil {
		h.responder.Error(w, err)
		return
	}

	h.responder.JSON(w, http.StatusOK, LoginResponse{
		Success:   true,
		Token:     res.Token,
		Type:      "Bearer",
		SessionID: res.SessionID,
		ExpiresAt: res.ExpiresAt,
		User:      res.User,
		Resumed:   res.Resumed,
	})
}

// Session reports the session validated by the auth middleware.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	res, ok := middleware.SessionFrom(r.Context())
	if !ok {
		h.responder.Error(w, fmt.Errorf("session handler without auth middleware: %w", apierr.ErrSessionNotFound))
		return
	}

	h.responder.JSON(w, http.StatusOK, SessionResponse{
		Success:      true,
		SessionID:    res.SessionID,
		ExpiresAt:    res.ExpiresAt,
		LastActivity: res.LastActivity,
		User:         res.User,
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token := middleware.BearerToken(r)
	res, err := h.engine.InvalidateSession(r.Context(), token, middleware.RequestContextFrom(r, h.trustProxy))
	if err != nil {
		h.responder.Error(w, err)
		return
	}

	h.responder.JSON(w, http.StatusOK, LogoutResponse{Success: true, SessionID: res.SessionID})
}

// HoneypotHandler answers decoy paths with a plain 404 after the request
// guard has recorded and blocked the caller.
type HoneypotHandler struct {
	engine     *service.Engine
	trustProxy bool
}

func NewHoneypotHandler(engine *service.Engine, trustProxy bool) *HoneypotHandler {
	return &HoneypotHandler{engine: engine, trustProxy: trustProxy}
}

func (h *HoneypotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = h.engine.CheckRequest(middleware.RequestContextFrom(r, h.trustProxy))
	http.NotFound(w, r)
}
