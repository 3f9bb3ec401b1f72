package handlers

import (
	"fmt"
	"net/http"

	apierr "github.com/victorgomez09/sentinel/internal/auth"
	"github.com/victorgomez09/sentinel/internal/auth/middleware"
	"github.com/victorgomez09/sentinel/internal/auth/models"
	"github.com/victorgomez09/sentinel/internal/auth/service"
	"go.uber.org/zap"
)

// AdminHandler serves the operator endpoints. Every route runs behind the
// auth middleware and an admin or boss role check.
type AdminHandler struct {
	engine    *service.Engine
	responder *Responder
	events    http.Handler
	logger    *zap.Logger
}

func NewAdminHandler(engine *service.Engine, responder *Responder, events http.Handler, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		engine:    engine,
		responder: responder,
		events:    events,
		logger:    logger,
	}
}

type UnblockRequest struct {
	Kind    models.BlockKind `json:"kind"`
	Subject string           `json:"subject"`
}

type UserRequest struct {
	Username string `json:"username"`
}

type StatsResponse struct {
	Success bool         `json:"success"`
	Stats   models.Stats `json:"stats"`
}

type ActionResponse struct {
	Success bool `json:"success"`
	Changed bool `json:"changed"`
	Count   int  `json:"count"`
}

type LockdownResponse struct {
	Success bool `json:"success"`
	service.LockdownResult
}

func actor(r *http.Request) string {
	if res, ok := middleware.SessionFrom(r.Context()); ok {
		return res.User.Username
	}
	return ""
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.responder.JSON(w, http.StatusOK, StatsResponse{Success: true, Stats: h.engine.Stats(r.Context())})
}

func (h *AdminHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req UnblockRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.responder.Error(w, fmt.Errorf("unblock body: %v: %w", err, apierr.ErrInvalidInput))
		return
	}

	removed, err := h.engine.Unblock(req.Kind, req.Subject, actor(r))
	if err != nil {
		h.responder.Error(w, err)
		return
	}
	h.responder.JSON(w, http.StatusOK, ActionResponse{Success: true, Changed: removed})
}

func (h *AdminHandler) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req UserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.responder.Error(w, fmt.Errorf("deactivate body: %v: %w", err, apierr.ErrInvalidInput))
		return
	}

	revoked, err := h.engine.DeactivateUser(req.Username, actor(r))
	if err != nil {
		h.responder.Error(w, err)
		return
	}
	h.responder.JSON(w, http.StatusOK, ActionResponse{Success: true, Changed: true, Count: revoked})
}

func (h *AdminHandler) ActivateUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req UserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.responder.Error(w, fmt.Errorf("activate body: %v: %w", err, apierr.ErrInvalidInput))
		return
	}

	if err := h.engine.ActivateUser(req.Username, actor(r)); err != nil {
		h.responder.Error(w, err)
		return
	}
	h.responder.JSON(w, http.StatusOK, ActionResponse{Success: true, Changed: true})
}

func (h *AdminHandler) Lockdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	who := actor(r)
	res := h.engine.EmergencyLockdown(r.Context(), who)
	h.logger.Warn("Emergency lockdown",
		zap.String("actor", who),
		zap.Int("sessions_cleared", res.SessionsCleared),
		zap.Int("users_deactivated", res.UsersDeactivated))
	h.responder.JSON(w, http.StatusOK, LockdownResponse{Success: true, LockdownResult: res})
}

// Events upgrades to the live security-event stream.
func (h *AdminHandler) Events(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		http.NotFound(w, r)
		return
	}
	h.events.ServeHTTP(w, r)
}
