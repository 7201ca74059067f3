package resolver

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/patrolbase/simple-sessions/pkg/iam"
)

type contextKey string

// ResolutionKey is the request-context key holding the *Resolution
const ResolutionKey contextKey = "session_resolution"

// TokenFromRequest extracts the opaque token from the Authorization header
// (Bearer scheme) or the X-Session-Token header
func TokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, found := strings.CutPrefix(auth, "Bearer "); found {
			return token
		}
	}
	return r.Header.Get("X-Session-Token")
}

// Middleware resolves the request token and attaches the Resolution to the
// request context. Unresolvable tokens pass through unauthenticated;
// RequireAuth decides whether that matters.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		token := TokenFromRequest(req)

		resolution, err := r.Resolve(req.Context(), token)
		if err != nil {
			slog.Error("Token resolution failed", "error", err)
			http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
			return
		}

		if resolution != nil {
			ctx := context.WithValue(req.Context(), ResolutionKey, resolution)
			req = req.WithContext(ctx)
		}
		next.ServeHTTP(w, req)
	})
}

// GetResolution returns the Resolution attached by Middleware, or nil for
// unauthenticated requests
func GetResolution(r *http.Request) *Resolution {
	resolution, _ := r.Context().Value(ResolutionKey).(*Resolution)
	return resolution
}

// RequireAuth requires the request to resolve to a user.
// Returns 401 Unauthorized otherwise. Must be used after Middleware.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetResolution(r) == nil {
			slog.Debug("Unauthenticated request to protected resource")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole requires the effective user to hold one of the given roles.
// Returns 401 if unauthenticated, 403 if authenticated without the role.
// Must be used after Middleware.
func RequireRole(roles ...iam.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			resolution := GetResolution(r)
			if resolution == nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			for _, role := range roles {
				if resolution.User.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			slog.Warn("User lacks required role",
				"user_id", resolution.User.ID,
				"user_role", resolution.User.Role,
				"required_roles", roles)
			http.Error(w, "Forbidden: insufficient permissions", http.StatusForbidden)
		})
	}
}
