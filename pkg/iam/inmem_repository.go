package iam

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	pkgerr "github.com/patrolbase/simple-sessions/pkg/errors"
)

// InMemRepository implements Repository using in-memory maps
type InMemRepository struct {
	users map[uuid.UUID]User
	mu    sync.Mutex
}

// NewInMemRepository creates a new in-memory user repository
func NewInMemRepository() *InMemRepository {
	return &InMemRepository{
		users: make(map[uuid.UUID]User),
	}
}

// AddUser stores a user for lookup. Test/demo helper; the identity
// subsystem owns user writes in production.
func (r *InMemRepository) AddUser(user User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = user
}

// RemoveUser soft-deletes a user
func (r *InMemRepository) RemoveUser(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user, exists := r.users[id]; exists {
		now := time.Now().UTC()
		user.DeletedAt = &now
		r.users[id] = user
	}
}

// GetUser retrieves a user by id
func (r *InMemRepository) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, exists := r.users[id]
	if !exists || user.DeletedAt != nil {
		return nil, pkgerr.Newf(pkgerr.ErrCodeUserNotFound, "user %s not found", id)
	}
	return &user, nil
}

// GetUserByEmail retrieves a user by email
func (r *InMemRepository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, user := range r.users {
		if user.DeletedAt == nil && strings.EqualFold(user.Email, email) {
			u := user
			return &u, nil
		}
	}
	return nil, pkgerr.Newf(pkgerr.ErrCodeUserNotFound, "user with email %s not found", email)
}

// SearchUsers returns users matching term by name or email
func (r *InMemRepository) SearchUsers(ctx context.Context, term string, limit int) ([]User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	term = strings.ToLower(term)
	var matches []User
	for _, user := range r.users {
		if user.DeletedAt != nil {
			continue
		}
		if term == "" ||
			strings.Contains(strings.ToLower(user.Name), term) ||
			strings.Contains(strings.ToLower(user.Email), term) {
			matches = append(matches, user)
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Email < matches[j].Email
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}
