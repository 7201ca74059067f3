package sessions

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
	sessions map[string]Session
	mu       sync.Mutex
}

// NewInMemRepository creates a new in-memory session repository
func NewInMemRepository() *InMemRepository {
	return &InMemRepository{
		sessions: make(map[string]Session),
	}
}

// Create creates a new session in memory
func (r *InMemRepository) Create(ctx context.Context, session Session) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.SessionToken]; exists {
		return nil, pkgerr.New(pkgerr.ErrCodeInternal, "session token already exists")
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

// GetByToken retrieves a session by its token
func (r *InMemRepository) GetByToken(ctx context.Context, token string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[token]
	if !exists {
		return nil, pkgerr.New(pkgerr.ErrCodeSessionNotFound, "session not found")
	}
	return &session, nil
}

// ListActiveByUserID lists non-expired sessions for a user, oldest first
func (r *InMemRepository) ListActiveByUserID(ctx context.Context, userID uuid.UUID, now time.Time) ([]Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var active []Session
	for _, session := range r.sessions {
		if session.UserID == userID && session.ExpiresAt.After(now) {
			active = append(active, session)
		}
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})
	return active, nil
}

// CountActiveByUserID counts non-expired sessions for a user
func (r *InMemRepository) CountActiveByUserID(ctx context.Context, userID uuid.UUID, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, session := range r.sessions {
		if session.UserID == userID && session.ExpiresAt.After(now) {
			count++
		}
	}
	return count, nil
}

// DeleteByToken deletes a session by token
func (r *InMemRepository) DeleteByToken(ctx context.Context, token string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[token]; !exists {
		return false, nil
	}
	delete(r.sessions, token)
	return true, nil
}

// DeleteAllActiveExcept deletes every other non-expired session owned by userID
func (r *InMemRepository) DeleteAllActiveExcept(ctx context.Context, userID uuid.UUID, keepToken string, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := 0
	for token, session := range r.sessions {
		if token == keepToken {
			continue
		}
		if session.UserID == userID && session.ExpiresAt.After(now) {
			delete(r.sessions, token)
			deleted++
		}
	}
	return deleted, nil
}

// UpdateExpiry extends a session's expiry, never moving it backward
func (r *InMemRepository) UpdateExpiry(ctx context.Context, token string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[token]
	if !exists {
		return pkgerr.New(pkgerr.ErrCodeSessionNotFound, "session not found")
	}

	if expiresAt.After(session.ExpiresAt) {
		session.ExpiresAt = expiresAt
		r.sessions[token] = session
	}
	return nil
}

// MergeWorkflowState merges data into the session's workflow snapshot
func (r *InMemRepository) MergeWorkflowState(ctx context.Context, token string, workflowType string, data map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[token]
	if !exists {
		return pkgerr.New(pkgerr.ErrCodeSessionNotFound, "session not found")
	}

	if session.Workflow == nil {
		session.Workflow = make(WorkflowState)
	}
	if session.Workflow[workflowType] == nil {
		session.Workflow[workflowType] = make(map[string]interface{})
	}
	for k, v := range data {
		session.Workflow[workflowType][k] = v
	}
	r.sessions[token] = session
	return nil
}

// DeleteExpired deletes every session with expiry at or before now
func (r *InMemRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := 0
	for token, session := range r.sessions {
		if !session.ExpiresAt.After(now) {
			delete(r.sessions, token)
			deleted++
		}
	}
	return deleted, nil
}
