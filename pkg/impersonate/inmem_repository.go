package impersonate

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	pkgerr "github.com/patrolbase/simple-sessions/pkg/errors"
)

// InMemRepository implements Repository using an in-memory map keyed by token
type InMemRepository struct {
	sessions map[string]ImpersonationSession
	mu       sync.Mutex
}

// NewInMemRepository creates a new in-memory impersonation repository
func NewInMemRepository() *InMemRepository {
	return &InMemRepository{
		sessions: make(map[string]ImpersonationSession),
	}
}

// Create creates a new impersonation session in memory
func (r *InMemRepository) Create(ctx context.Context, session ImpersonationSession) (*ImpersonationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.SessionToken]; exists {
		return nil, pkgerr.New(pkgerr.ErrCodeInternal, "impersonation token already exists")
	}

	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}

	r.sessions[session.SessionToken] = session
	return &session, nil
}

// GetByToken retrieves an impersonation session by its token
func (r *InMemRepository) GetByToken(ctx context.Context, token string) (*ImpersonationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[token]
	if !exists {
		return nil, pkgerr.New(pkgerr.ErrCodeNotFound, "impersonation session not found")
	}
	return &session, nil
}

// CountActiveByAdmin counts active, unexpired sessions for an admin
func (r *InMemRepository) CountActiveByAdmin(ctx context.Context, adminUserID uuid.UUID, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, session := range r.sessions {
		if session.AdminUserID == adminUserID && session.IsUsable(now) {
			count++
		}
	}
	return count, nil
}

// ListActiveByAdmin lists active, unexpired sessions for an admin, newest first
func (r *InMemRepository) ListActiveByAdmin(ctx context.Context, adminUserID uuid.UUID, now time.Time) ([]ImpersonationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var active []ImpersonationSession
	for _, session := range r.sessions {
		if session.AdminUserID == adminUserID && session.IsUsable(now) {
			active = append(active, session)
		}
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.After(active[j].CreatedAt)
	})
	return active, nil
}

// Deactivate flips is_active to false and stamps terminated_at
func (r *InMemRepository) Deactivate(ctx context.Context, token string, terminatedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[token]
	if !exists || !session.IsActive {
		return false, nil
	}

	session.IsActive = false
	session.TerminatedAt = &terminatedAt
	r.sessions[token] = session
	return true, nil
}

// DeactivateAllActive flips is_active on every active session system-wide
func (r *InMemRepository) DeactivateAllActive(ctx context.Context, terminatedAt time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	terminated := 0
	for token, session := range r.sessions {
		if session.IsActive {
			session.IsActive = false
			session.TerminatedAt = &terminatedAt
			r.sessions[token] = session
			terminated++
		}
	}
	return terminated, nil
}

// DeactivateExpired flips is_active on active sessions whose expiry has passed
func (r *InMemRepository) DeactivateExpired(ctx context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deactivated := 0
	for token, session := range r.sessions {
		if session.IsActive && session.IsExpired(now) {
			session.IsActive = false
			session.TerminatedAt = &now
			r.sessions[token] = session
			deactivated++
		}
	}
	return deactivated, nil
}
