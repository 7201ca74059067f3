package sessions

import (
	"time"

	"github.com/google/uuid"

	"github.com/patrolbase/simple-sessions/pkg/iam"
)

// Validation reason strings. Lookups report absence as data, so these are
// part of the contract: callers branch on them for "log in again" vs
// "your session vanished" messaging.
const (
	ReasonSessionNotFound = "Session not found"
	ReasonSessionExpired  = "Session expired"
	ReasonUserNotFound    = "User not found"
	ReasonAlreadyInvalid  = "Session not found (already invalid)"
)

// WorkflowState is a per-session snapshot of in-progress client work,
// keyed by workflow type
type WorkflowState map[string]map[string]interface{}

// Session represents one authenticated browser/client context
type Session struct {
	ID           uuid.UUID     `json:"id"`
	UserID       uuid.UUID     `json:"user_id"`
	SessionToken string        `json:"session_token"`
	RememberMe   bool          `json:"remember_me"`
	ExpiresAt    time.Time     `json:"expires_at"`
	CreatedAt    time.Time     `json:"created_at"`
	IPAddress    string        `json:"ip_address,omitempty"`
	UserAgent    string        `json:"user_agent,omitempty"`
	DeviceType   string        `json:"device_type,omitempty"`
	Workflow     WorkflowState `json:"workflow_state,omitempty"`
}

// IsExpired reports whether the session has passed its expiry at time now
func (s *Session) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// CreateSessionRequest represents the request to create a new session
type CreateSessionRequest struct {
	UserID     uuid.UUID     `json:"user_id"`
	RememberMe bool          `json:"remember_me"`
	IPAddress  string        `json:"ip_address,omitempty"`
	UserAgent  string        `json:"user_agent,omitempty"`
	DeviceType string        `json:"device_type,omitempty"`
	Workflow   WorkflowState `json:"workflow_state,omitempty"`
}

// CreateSessionResult is returned from a successful session creation
type CreateSessionResult struct {
	SessionID     uuid.UUID `json:"session_id"`
	SessionToken  string    `json:"session_token"`
	ExpiresAt     time.Time `json:"expires_at"`
	CorrelationID string    `json:"correlation_id"`
}

// ValidationResult reports the outcome of a session validation.
// Valid=false carries a Reason instead of an error.
type ValidationResult struct {
	Valid         bool          `json:"valid"`
	Reason        string        `json:"reason,omitempty"`
	User          *iam.User     `json:"user,omitempty"`
	Session       *Session      `json:"session,omitempty"`
	Workflow      WorkflowState `json:"workflow_state,omitempty"`
	ShouldRefresh bool          `json:"should_refresh"`
	CorrelationID string        `json:"correlation_id"`
}

// RefreshResult is returned from a successful refresh
type RefreshResult struct {
	ExpiresAt     time.Time `json:"expires_at"`
	CorrelationID string    `json:"correlation_id"`
}

// InvalidateResult is returned from invalidation. Invalidation is
// idempotent: Success is true even when the token was already gone.
type InvalidateResult struct {
	Success       bool   `json:"success"`
	Reason        string `json:"reason,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

// SessionSummary is a simplified session view for listing
type SessionSummary struct {
	ID               uuid.UUID `json:"id"`
	IPAddress        string    `json:"ip_address,omitempty"`
	UserAgent        string    `json:"user_agent,omitempty"`
	DeviceType       string    `json:"device_type,omitempty"`
	RememberMe       bool      `json:"remember_me"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	IsCurrentSession bool      `json:"is_current_session"`
}

// ListSessionsResult is returned from listing a user's active sessions
type ListSessionsResult struct {
	Sessions            []SessionSummary `json:"sessions"`
	TotalActiveSessions int              `json:"total_active_sessions"`
	CorrelationID       string           `json:"correlation_id"`
}

// InvalidateOthersResult is returned from "log out everywhere else"
type InvalidateOthersResult struct {
	InvalidatedCount int    `json:"invalidated_count"`
	CorrelationID    string `json:"correlation_id"`
}

// CleanupResult is returned from the expired-session sweep
type CleanupResult struct {
	CleanedCount int       `json:"cleaned_count"`
	Timestamp    time.Time `json:"timestamp"`
}
