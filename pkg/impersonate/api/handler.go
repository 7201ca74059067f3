package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/jinzhu/copier"

	pkgerr "github.com/patrolbase/simple-sessions/pkg/errors"
	"github.com/patrolbase/simple-sessions/pkg/iam"
	"github.com/patrolbase/simple-sessions/pkg/impersonate"
	"github.com/patrolbase/simple-sessions/pkg/resolver"
)

// Handler handles HTTP requests for the impersonation overlay
type Handler struct {
	service *impersonate.Service
}

// NewHandler creates a new impersonation handler
func NewHandler(service *impersonate.Service) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes registers the impersonation routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.StartImpersonation)
	r.Post("/end", h.EndImpersonation)
	r.Get("/status", h.GetStatus)
	r.Get("/users", h.SearchUsers)
	r.Get("/active", h.ListActive)
	r.Post("/emergency-terminate", h.EmergencyTerminate)
}

type startImpersonationRequest struct {
	TargetUserEmail string `json:"target_user_email"`
	Reason          string `json:"reason"`
}

type startImpersonationResponse struct {
	Success            bool   `json:"success"`
	ImpersonationToken string `json:"impersonation_token"`
	ExpiresAt          int64  `json:"expires_at"`
	CorrelationID      string `json:"correlation_id"`
}

// StartImpersonation handles POST /impersonate
func (h *Handler) StartImpersonation(w http.ResponseWriter, r *http.Request) {
	var req startImpersonationRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.service.StartImpersonation(r.Context(), resolver.TokenFromRequest(r), req.TargetUserEmail, req.Reason)
	if err != nil {
		writeError(w, err, "Failed to start impersonation")
		return
	}

	writeJSON(w, http.StatusCreated, startImpersonationResponse{
		Success:            true,
		ImpersonationToken: result.ImpersonationToken,
		ExpiresAt:          result.ExpiresAt.UnixMilli(),
		CorrelationID:      result.CorrelationID,
	})
}

type endImpersonationResponse struct {
	Success              bool   `json:"success"`
	OriginalSessionToken string `json:"original_session_token"`
	CorrelationID        string `json:"correlation_id"`
}

// EndImpersonation handles POST /impersonate/end
func (h *Handler) EndImpersonation(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.EndImpersonation(r.Context(), resolver.TokenFromRequest(r))
	if err != nil {
		writeError(w, err, "Failed to end impersonation")
		return
	}

	resp := endImpersonationResponse{Success: true}
	copier.Copy(&resp, result)
	writeJSON(w, http.StatusOK, resp)
}

type statusResponse struct {
	IsImpersonating bool       `json:"is_impersonating"`
	AdminUserID     *uuid.UUID `json:"admin_user_id,omitempty"`
	TargetUserID    *uuid.UUID `json:"target_user_id,omitempty"`
	TargetUserEmail string     `json:"target_user_email,omitempty"`
	TimeRemainingMs int64      `json:"time_remaining_ms,omitempty"`
	CorrelationID   string     `json:"correlation_id"`
}

// GetStatus handles GET /impersonate/status. Used by UI banners; always
// answers 200 with is_impersonating=false for tokens that are not active
// overlays.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.GetImpersonationStatus(r.Context(), resolver.TokenFromRequest(r))
	if err != nil {
		writeError(w, err, "Failed to get impersonation status")
		return
	}

	resp := statusResponse{
		IsImpersonating: status.IsImpersonating,
		CorrelationID:   status.CorrelationID,
	}
	if status.IsImpersonating {
		resp.AdminUserID = &status.AdminUser.ID
		resp.TargetUserID = &status.TargetUser.ID
		resp.TargetUserEmail = status.TargetUser.Email
		resp.TimeRemainingMs = status.TimeRemaining.Milliseconds()
	}
	writeJSON(w, http.StatusOK, resp)
}

type userSearchResult struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name,omitempty"`
	Email string    `json:"email"`
	Role  iam.Role  `json:"role"`
}

// SearchUsers handles GET /impersonate/users
func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	users, err := h.service.SearchUsersForImpersonation(r.Context(), resolver.TokenFromRequest(r), r.URL.Query().Get("q"), limit)
	if err != nil {
		writeError(w, err, "Failed to search users")
		return
	}

	results := make([]userSearchResult, len(users))
	for i, user := range users {
		copier.Copy(&results[i], &user)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": results})
}

type activeSessionView struct {
	ID              uuid.UUID `json:"id"`
	TargetUserID    uuid.UUID `json:"target_user_id"`
	TargetUserEmail string    `json:"target_user_email,omitempty"`
	Reason          string    `json:"reason"`
	CreatedAt       int64     `json:"created_at"`
	ExpiresAt       int64     `json:"expires_at"`
	CorrelationID   string    `json:"correlation_id"`
}

// ListActive handles GET /impersonate/active
func (h *Handler) ListActive(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.service.GetActiveImpersonationSessions(r.Context(), resolver.TokenFromRequest(r))
	if err != nil {
		writeError(w, err, "Failed to list impersonation sessions")
		return
	}

	views := make([]activeSessionView, len(summaries))
	for i, summary := range summaries {
		copier.Copy(&views[i], &summary)
		views[i].CreatedAt = summary.CreatedAt.UnixMilli()
		views[i].ExpiresAt = summary.ExpiresAt.UnixMilli()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": views})
}

// EmergencyTerminate handles POST /impersonate/emergency-terminate
func (h *Handler) EmergencyTerminate(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.EmergencyTerminateAllSessions(r.Context(), resolver.TokenFromRequest(r))
	if err != nil {
		writeError(w, err, "Failed emergency termination")
		return
	}

	slog.Warn("Emergency termination completed via API",
		"correlation_id", result.CorrelationID,
		"terminated_count", result.TerminatedCount)
	writeJSON(w, http.StatusOK, result)
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
