package impersonate

import (
	"time"

	"github.com/google/uuid"

	"github.com/patrolbase/simple-sessions/pkg/iam"
)

// ImpersonationSession represents one bounded admin-as-user overlay.
// Records are never hard-deleted; terminal states only flip IsActive
// so the audit trail survives.
type ImpersonationSession struct {
	ID                   uuid.UUID  `json:"id"`
	AdminUserID          uuid.UUID  `json:"admin_user_id"`
	TargetUserID         uuid.UUID  `json:"target_user_id"`
	SessionToken         string     `json:"session_token"`
	OriginalSessionToken string     `json:"original_session_token"`
	Reason               string     `json:"reason"`
	ExpiresAt            time.Time  `json:"expires_at"`
	IsActive             bool       `json:"is_active"`
	CreatedAt            time.Time  `json:"created_at"`
	TerminatedAt         *time.Time `json:"terminated_at,omitempty"`
	CorrelationID        string     `json:"correlation_id"`
}

// IsExpired reports whether the overlay has passed its fixed expiry
func (s *ImpersonationSession) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// IsUsable reports whether the overlay currently resolves tokens
func (s *ImpersonationSession) IsUsable(now time.Time) bool {
	return s.IsActive && !s.IsExpired(now)
}

// StartImpersonationResult is returned from a successful start
type StartImpersonationResult struct {
	ImpersonationToken string    `json:"impersonation_token"`
	ExpiresAt          time.Time `json:"expires_at"`
	CorrelationID      string    `json:"correlation_id"`
}

// EndImpersonationResult carries the admin's preserved regular token so the
// caller can restore the admin's normal context
type EndImpersonationResult struct {
	OriginalSessionToken string `json:"original_session_token"`
	CorrelationID        string `json:"correlation_id"`
}

// ImpersonationStatus is a pure read used by UI banners
type ImpersonationStatus struct {
	IsImpersonating bool          `json:"is_impersonating"`
	AdminUser       *iam.User     `json:"admin_user,omitempty"`
	TargetUser      *iam.User     `json:"target_user,omitempty"`
	TimeRemaining   time.Duration `json:"time_remaining,omitempty"`
	CorrelationID   string        `json:"correlation_id"`
}

// ActiveImpersonationSummary is a listing view of one active overlay
type ActiveImpersonationSummary struct {
	ID              uuid.UUID `json:"id"`
	TargetUserID    uuid.UUID `json:"target_user_id"`
	TargetUserEmail string    `json:"target_user_email,omitempty"`
	Reason          string    `json:"reason"`
	CreatedAt       time.Time `json:"created_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	CorrelationID   string    `json:"correlation_id"`
}

// EmergencyTerminateResult is returned from the break-glass termination
type EmergencyTerminateResult struct {
	TerminatedCount int    `json:"terminated_count"`
	CorrelationID   string `json:"correlation_id"`
}
