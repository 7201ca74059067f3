package iam

import (
	"context"

	"github.com/google/uuid"
)

// Repository defines read-only user lookup.
// Lookups exclude soft-deleted users and report absence with a
// USER_NOT_FOUND structured error.
type Repository interface {
	// GetUser retrieves a user by id
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)

	// GetUserByEmail retrieves a user by email
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// SearchUsers returns users whose name or email contains term,
	// up to limit results. An empty term matches everyone.
	SearchUsers(ctx context.Context, term string, limit int) ([]User, error)
}
