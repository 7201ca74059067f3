// Package audit logs who did what on the authenticated surface. Impersonated
// requests are logged with both the acting admin's overlay id and the target
// user so the trail survives the overlay ending.
package audit

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/patrolbase/simple-sessions/pkg/resolver"
)

// Middleware emits one structured audit record per request
type Middleware struct {
	logger *slog.Logger
}

// NewMiddleware creates an audit middleware writing through logger.
// A nil logger falls back to the default.
func NewMiddleware(logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{logger: logger}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Handler records method, path, status, duration and the resolved identity.
// Mount it after the resolver middleware so the resolution is in context.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		}

		resolution := resolver.GetResolution(r)
		if resolution != nil && resolution.User != nil {
			attrs = append(attrs, "user_id", resolution.User.ID)
			if resolution.Impersonation != nil {
				attrs = append(attrs,
					"impersonation_id", resolution.Impersonation.ID,
					"admin_user_id", resolution.Impersonation.AdminUserID,
					"correlation_id", resolution.Impersonation.CorrelationID)
			}
		} else {
			attrs = append(attrs, "user_id", "anonymous")
		}

		m.logger.Info("audit", attrs...)
	})
}
