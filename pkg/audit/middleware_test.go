package audit

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/patrolbase/simple-sessions/pkg/iam"
	"github.com/patrolbase/simple-sessions/pkg/impersonate"
	"github.com/patrolbase/simple-sessions/pkg/resolver"
)

func recordRequest(t *testing.T, resolution *resolver.Resolution) string {
	t.Helper()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	m := NewMiddleware(logger)

	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	r := httptest.NewRequest("GET", "/whoami", nil)
	if resolution != nil {
		r = r.WithContext(context.WithValue(r.Context(), resolver.ResolutionKey, resolution))
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	return buf.String()
}

func TestHandler_AnonymousRequest(t *testing.T) {
	out := recordRequest(t, nil)

	assert.Contains(t, out, "path=/whoami")
	assert.Contains(t, out, "status=204")
	assert.Contains(t, out, "user_id=anonymous")
}

func TestHandler_AuthenticatedRequest(t *testing.T) {
	userID := uuid.New()
	out := recordRequest(t, &resolver.Resolution{
		User: &iam.User{ID: userID, Role: iam.RoleUser},
	})

	assert.Contains(t, out, "user_id="+userID.String())
	assert.NotContains(t, out, "impersonation_id")
}

func TestHandler_ImpersonatedRequest(t *testing.T) {
	adminID := uuid.New()
	targetID := uuid.New()
	overlayID := uuid.New()
	out := recordRequest(t, &resolver.Resolution{
		User: &iam.User{ID: targetID, Role: iam.RoleUser},
		Impersonation: &impersonate.ImpersonationSession{
			ID:            overlayID,
			AdminUserID:   adminID,
			TargetUserID:  targetID,
			CorrelationID: "a1b2c3d4e5f6",
		},
	})

	assert.Contains(t, out, "user_id="+targetID.String())
	assert.Contains(t, out, "admin_user_id="+adminID.String())
	assert.Contains(t, out, "correlation_id=a1b2c3d4e5f6")
}
