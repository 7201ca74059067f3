package resolver

import (
	"context"
	"time"

	"github.com/google/uuid"

	pkgerr "github.com/patrolbase/simple-sessions/pkg/errors"
	"github.com/patrolbase/simple-sessions/pkg/iam"
	"github.com/patrolbase/simple-sessions/pkg/impersonate"
	"github.com/patrolbase/simple-sessions/pkg/sessions"
)

// Resolution is the outcome of resolving a token: the effective user plus,
// for overlay tokens, the impersonation record carrying audit context
// (admin identity, correlation id, reason)
type Resolution struct {
	User          *iam.User
	Impersonation *impersonate.ImpersonationSession
}

// Resolver turns an opaque token into an effective user identity. It is the
// single chokepoint every other subsystem uses; it reads both stores and
// never mutates anything.
type Resolver struct {
	impersonations impersonate.Repository
	sessions       sessions.Repository
	users          iam.Repository
}

// NewResolver creates a new Resolver over the two session stores
func NewResolver(impersonations impersonate.Repository, sessionRepo sessions.Repository, users iam.Repository) *Resolver {
	return &Resolver{
		impersonations: impersonations,
		sessions:       sessionRepo,
		users:          users,
	}
}

// Resolve determines the effective user for a token. The impersonation
// store is checked first; an active, unexpired overlay wins over the
// regular session store. Both lookups always execute so that malformed and
// unrecognized tokens take a consistent code path regardless of which kind
// of token they resemble. Malformed input resolves to nil; only genuine
// store failures return an error.
func (r *Resolver) Resolve(ctx context.Context, token string) (*Resolution, error) {
	overlay, err := r.impersonations.GetByToken(ctx, token)
	if err != nil && !pkgerr.IsCode(err, pkgerr.ErrCodeNotFound) {
		return nil, err
	}

	session, err := r.sessions.GetByToken(ctx, token)
	if err != nil && !pkgerr.IsCode(err, pkgerr.ErrCodeSessionNotFound) {
		return nil, err
	}

	now := time.Now().UTC()

	if overlay != nil && overlay.IsUsable(now) {
		user, err := r.lookupUser(ctx, overlay.TargetUserID)
		if err != nil {
			return nil, err
		}
		if user == nil {
			// Impersonating a deleted user is not possible
			return nil, nil
		}
		return &Resolution{User: user, Impersonation: overlay}, nil
	}

	if session != nil && !session.IsExpired(now) {
		user, err := r.lookupUser(ctx, session.UserID)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, nil
		}
		return &Resolution{User: user}, nil
	}

	return nil, nil
}

// ResolveUser is the plain token-to-user form of Resolve
func (r *Resolver) ResolveUser(ctx context.Context, token string) (*iam.User, error) {
	resolution, err := r.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	if resolution == nil {
		return nil, nil
	}
	return resolution.User, nil
}

// lookupUser maps USER_NOT_FOUND to nil so deleted owners resolve to
// unauthenticated instead of erroring
func (r *Resolver) lookupUser(ctx context.Context, id uuid.UUID) (*iam.User, error) {
	user, err := r.users.GetUser(ctx, id)
	if err != nil {
		if pkgerr.IsCode(err, pkgerr.ErrCodeUserNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}
