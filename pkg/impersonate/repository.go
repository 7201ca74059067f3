package impersonate

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for impersonation session data access.
// Terminal transitions only flip is_active; rows are retained for audit.
type Repository interface {
	// Create a new impersonation session
	Create(ctx context.Context, session ImpersonationSession) (*ImpersonationSession, error)

	// Get an impersonation session by its token, active or not.
	// Absence is reported with a NOT_FOUND structured error.
	GetByToken(ctx context.Context, token string) (*ImpersonationSession, error)

	// Count active, unexpired sessions for an admin
	CountActiveByAdmin(ctx context.Context, adminUserID uuid.UUID, now time.Time) (int, error)

	// List active, unexpired sessions for an admin, newest first
	ListActiveByAdmin(ctx context.Context, adminUserID uuid.UUID, now time.Time) ([]ImpersonationSession, error)

	// Deactivate flips is_active to false and stamps terminated_at.
	// Returns false when the session was already inactive.
	Deactivate(ctx context.Context, token string, terminatedAt time.Time) (bool, error)

	// DeactivateAllActive flips is_active on every active session
	// system-wide. Returns the number of sessions terminated.
	DeactivateAllActive(ctx context.Context, terminatedAt time.Time) (int, error)

	// DeactivateExpired flips is_active on active sessions whose expiry
	// has passed. Returns the number of sessions deactivated.
	DeactivateExpired(ctx context.Context, now time.Time) (int, error)
}
