package sessions

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for session data access.
// Absent tokens are reported with a SESSION_NOT_FOUND structured error;
// anything else is a store failure.
type Repository interface {
	// Create a new session
	Create(ctx context.Context, session Session) (*Session, error)

	// Get a session by its token
	GetByToken(ctx context.Context, token string) (*Session, error)

	// List non-expired sessions for a user, oldest first
	ListActiveByUserID(ctx context.Context, userID uuid.UUID, now time.Time) ([]Session, error)

	// Count non-expired sessions for a user
	CountActiveByUserID(ctx context.Context, userID uuid.UUID, now time.Time) (int, error)

	// Delete a session by token. Returns false when no row matched;
	// that is not an error.
	DeleteByToken(ctx context.Context, token string) (bool, error)

	// Delete every non-expired session owned by userID except keepToken.
	// Returns the number of deleted sessions.
	DeleteAllActiveExcept(ctx context.Context, userID uuid.UUID, keepToken string, now time.Time) (int, error)

	// Extend a session's expiry. Never moves expiry backward: concurrent
	// refreshes are last-write-wins but monotonic.
	UpdateExpiry(ctx context.Context, token string, expiresAt time.Time) error

	// Merge data into the session's workflow snapshot under workflowType
	MergeWorkflowState(ctx context.Context, token string, workflowType string, data map[string]interface{}) error

	// Delete every session with expires_at <= now, any user.
	// Returns the number of deleted sessions. Safe to run concurrently
	// with live traffic.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
