package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/jinzhu/copier"

	"github.com/patrolbase/simple-sessions/pkg/device"
	pkgerr "github.com/patrolbase/simple-sessions/pkg/errors"
	"github.com/patrolbase/simple-sessions/pkg/resolver"
	"github.com/patrolbase/simple-sessions/pkg/sessions"
)

// Handler handles HTTP requests for session lifecycle management.
// Token values stay opaque strings; timestamps go over the wire as epoch
// milliseconds.
type Handler struct {
	service *sessions.Service
}

// NewHandler creates a new session handler
func NewHandler(service *sessions.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers the session lifecycle routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.CreateSession)
	r.Get("/validate", h.ValidateSession)
	r.Post("/refresh", h.RefreshSession)
	r.Post("/invalidate", h.InvalidateSession)
	r.Get("/", h.ListSessions)
	r.Post("/invalidate-others", h.InvalidateAllOtherSessions)
	r.Put("/workflow", h.UpdateWorkflowState)
}

type createSessionRequest struct {
	UserID     uuid.UUID              `json:"user_id"`
	RememberMe bool                   `json:"remember_me"`
	DeviceType string                 `json:"device_type,omitempty"`
	Workflow   sessions.WorkflowState `json:"workflow_state,omitempty"`
}

type createSessionResponse struct {
	SessionID     uuid.UUID `json:"session_id"`
	SessionToken  string    `json:"session_token"`
	ExpiresAt     int64     `json:"expires_at"`
	CorrelationID string    `json:"correlation_id"`
}

// CreateSession handles POST /sessions
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	deviceType := req.DeviceType
	if deviceType == "" {
		deviceType = device.FromRequest(r)
	}

	result, err := h.service.CreateSession(r.Context(), sessions.CreateSessionRequest{
		UserID:     req.UserID,
		RememberMe: req.RememberMe,
		IPAddress:  clientIP(r),
		UserAgent:  r.UserAgent(),
		DeviceType: deviceType,
		Workflow:   req.Workflow,
	})
	if err != nil {
		writeError(w, err, "Failed to create session")
		return
	}

	resp := createSessionResponse{}
	copier.Copy(&resp, result)
	resp.ExpiresAt = result.ExpiresAt.UnixMilli()
	writeJSON(w, http.StatusCreated, resp)
}

type validateSessionResponse struct {
	Valid         bool                   `json:"valid"`
	Reason        string                 `json:"reason,omitempty"`
	UserID        *uuid.UUID             `json:"user_id,omitempty"`
	ExpiresAt     int64                  `json:"expires_at,omitempty"`
	ShouldRefresh bool                   `json:"should_refresh"`
	Workflow      sessions.WorkflowState `json:"workflow_state,omitempty"`
	CorrelationID string                 `json:"correlation_id"`
}

// ValidateSession handles GET /sessions/validate
func (h *Handler) ValidateSession(w http.ResponseWriter, r *http.Request) {
	token := resolver.TokenFromRequest(r)
	includeWorkflow := r.URL.Query().Get("include_workflow_state") == "true"

	result, err := h.service.ValidateSession(r.Context(), token, includeWorkflow)
	if err != nil {
		writeError(w, err, "Failed to validate session")
		return
	}

	resp := validateSessionResponse{
		Valid:         result.Valid,
		Reason:        result.Reason,
		ShouldRefresh: result.ShouldRefresh,
		Workflow:      result.Workflow,
		CorrelationID: result.CorrelationID,
	}
	if result.Valid {
		resp.UserID = &result.User.ID
		resp.ExpiresAt = result.Session.ExpiresAt.UnixMilli()
	}
	writeJSON(w, http.StatusOK, resp)
}

type refreshSessionRequest struct {
	ExtendExpiry *bool `json:"extend_expiry,omitempty"`
}

type refreshSessionResponse struct {
	Success       bool   `json:"success"`
	ExpiresAt     int64  `json:"expires_at"`
	CorrelationID string `json:"correlation_id"`
}

// RefreshSession handles POST /sessions/refresh
func (h *Handler) RefreshSession(w http.ResponseWriter, r *http.Request) {
	// Extend by default when no body is provided
	var req refreshSessionRequest
	render.DecodeJSON(r.Body, &req)
	extend := req.ExtendExpiry == nil || *req.ExtendExpiry

	result, err := h.service.RefreshSession(r.Context(), resolver.TokenFromRequest(r), extend)
	if err != nil {
		writeError(w, err, "Failed to refresh session")
		return
	}

	writeJSON(w, http.StatusOK, refreshSessionResponse{
		Success:       true,
		ExpiresAt:     result.ExpiresAt.UnixMilli(),
		CorrelationID: result.CorrelationID,
	})
}

type invalidateSessionRequest struct {
	Reason string `json:"reason,omitempty"`
}

// InvalidateSession handles POST /sessions/invalidate
func (h *Handler) InvalidateSession(w http.ResponseWriter, r *http.Request) {
	var req invalidateSessionRequest
	render.DecodeJSON(r.Body, &req)

	result, err := h.service.InvalidateSession(r.Context(), resolver.TokenFromRequest(r), req.Reason)
	if err != nil {
		writeError(w, err, "Failed to invalidate session")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type listSessionsResponse struct {
	Sessions            []sessionSummary `json:"sessions"`
	TotalActiveSessions int              `json:"total_active_sessions"`
	CorrelationID       string           `json:"correlation_id"`
}

type sessionSummary struct {
	ID               uuid.UUID `json:"id"`
	IPAddress        string    `json:"ip_address,omitempty"`
	UserAgent        string    `json:"user_agent,omitempty"`
	DeviceType       string    `json:"device_type,omitempty"`
	RememberMe       bool      `json:"remember_me"`
	CreatedAt        int64     `json:"created_at"`
	ExpiresAt        int64     `json:"expires_at"`
	IsCurrentSession bool      `json:"is_current_session"`
}

// ListSessions handles GET /sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	var targetUserID *uuid.UUID
	if raw := r.URL.Query().Get("target_user_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "Invalid target_user_id", http.StatusBadRequest)
			return
		}
		targetUserID = &parsed
	}

	result, err := h.service.GetUserActiveSessions(r.Context(), resolver.TokenFromRequest(r), targetUserID)
	if err != nil {
		writeError(w, err, "Failed to list sessions")
		return
	}

	resp := listSessionsResponse{
		Sessions:            make([]sessionSummary, len(result.Sessions)),
		TotalActiveSessions: result.TotalActiveSessions,
		CorrelationID:       result.CorrelationID,
	}
	for i, s := range result.Sessions {
		copier.Copy(&resp.Sessions[i], &s)
		resp.Sessions[i].CreatedAt = s.CreatedAt.UnixMilli()
		resp.Sessions[i].ExpiresAt = s.ExpiresAt.UnixMilli()
	}
	writeJSON(w, http.StatusOK, resp)
}

// InvalidateAllOtherSessions handles POST /sessions/invalidate-others
func (h *Handler) InvalidateAllOtherSessions(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.InvalidateAllOtherSessions(r.Context(), resolver.TokenFromRequest(r))
	if err != nil {
		writeError(w, err, "Failed to invalidate other sessions")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type updateWorkflowRequest struct {
	WorkflowType string                 `json:"workflow_type"`
	WorkflowData map[string]interface{} `json:"workflow_data"`
}

// UpdateWorkflowState handles PUT /sessions/workflow
func (h *Handler) UpdateWorkflowState(w http.ResponseWriter, r *http.Request) {
	var req updateWorkflowRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	err := h.service.UpdateWorkflowState(r.Context(), resolver.TokenFromRequest(r), req.WorkflowType, req.WorkflowData)
	if err != nil {
		writeError(w, err, "Failed to update workflow state")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Workflow state updated"})
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	return r.RemoteAddr
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error, message string) {
	var structured *pkgerr.Error
	if errors.As(err, &structured) {
		slog.Error(message, "code", structured.Code, "error", err)
		http.Error(w, structured.Message, structured.HTTPStatusCode())
		return
	}
	slog.Error(message, "error", err)
	http.Error(w, message, http.StatusInternalServerError)
}
