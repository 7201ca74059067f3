package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrolbase/simple-sessions/pkg/config"
	pkgerr "github.com/patrolbase/simple-sessions/pkg/errors"
	"github.com/patrolbase/simple-sessions/pkg/iam"
	"github.com/patrolbase/simple-sessions/pkg/tokengenerator"
)

func setupSessionService(t *testing.T, cfg config.SessionConfig) (*Service, *InMemRepository, *iam.InMemRepository, iam.User) {
	repo := NewInMemRepository()
	users := iam.NewInMemRepository()

	user := iam.User{
		ID:        uuid.New(),
		Name:      "Test Guard",
		Email:     "guard@example.com",
		Role:      iam.RoleUser,
		CreatedAt: time.Now().UTC(),
	}
	users.AddUser(user)

	service := NewService(repo, users, tokengenerator.NewRandomTokenGenerator(), cfg)
	return service, repo, users, user
}

// forceExpiry rewrites a session's expiry directly in the store
func forceExpiry(repo *InMemRepository, token string, expiresAt time.Time) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	session := repo.sessions[token]
	session.ExpiresAt = expiresAt
	repo.sessions[token] = session
}

func TestCreateSession(t *testing.T) {
	service, _, _, user := setupSessionService(t, config.DefaultSessionConfig())
	ctx := context.Background()

	result, err := service.CreateSession(ctx, CreateSessionRequest{
		UserID:    user.ID,
		IPAddress: "10.0.0.1",
		UserAgent: "test-agent",
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, result.SessionID)
	assert.Len(t, result.SessionToken, 43)
	assert.NotEmpty(t, result.CorrelationID)

	// 24h lifetime without remember-me
	lifetime := time.Until(result.ExpiresAt)
	assert.InDelta(t, (24 * time.Hour).Seconds(), lifetime.Seconds(), 60)
}

func TestCreateSession_RememberMe(t *testing.T) {
	service, _, _, user := setupSessionService(t, config.DefaultSessionConfig())
	ctx := context.Background()

	result, err := service.CreateSession(ctx, CreateSessionRequest{
		UserID:     user.ID,
		RememberMe: true,
	})
	require.NoError(t, err)

	lifetime := time.Until(result.ExpiresAt)
	assert.InDelta(t, (30 * 24 * time.Hour).Seconds(), lifetime.Seconds(), 60)
}

func TestCreateSession_UnknownUser(t *testing.T) {
	service, _, _, _ := setupSessionService(t, config.DefaultSessionConfig())

	_, err := service.CreateSession(context.Background(), CreateSessionRequest{
		UserID: uuid.New(),
	})
	require.Error(t, err)
	assert.True(t, pkgerr.IsCode(err, pkgerr.ErrCodeUserNotFound))
}

func TestCreateSession_EvictsOldestAtCap(t *testing.T) {
	cfg := config.DefaultSessionConfig()
	cfg.MaxSessionsPerUser = 5
	service, repo, _, user := setupSessionService(t, cfg)
	ctx := context.Background()

	var first *CreateSessionResult
	for i := 0; i < 5; i++ {
		result, err := service.CreateSession(ctx, CreateSessionRequest{UserID: user.ID})
		require.NoError(t, err)
		if i == 0 {
			first = result
		}
		// distinct created_at so eviction order is deterministic
		forceCreatedAt(repo, result.SessionToken, time.Now().UTC().Add(time.Duration(i-10)*time.Second))
	}

	// 6th creation evicts the oldest
	_, err := service.CreateSession(ctx, CreateSessionRequest{UserID: user.ID})
	require.NoError(t, err)

	active, err := repo.ListActiveByUserID(ctx, user.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.Len(t, active, 5)

	validation, err := service.ValidateSession(ctx, first.SessionToken, false)
	require.NoError(t, err)
	assert.False(t, validation.Valid)
	assert.Equal(t, ReasonSessionNotFound, validation.Reason)
}

func forceCreatedAt(repo *InMemRepository, token string, createdAt time.Time) {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	session := repo.sessions[token]
	session.CreatedAt = createdAt
	repo.sessions[token] = session
}

func TestValidateSession(t *testing.T) {
	service, _, _, user := setupSessionService(t, config.DefaultSessionConfig())
	ctx := context.Background()

	created, err := service.CreateSession(ctx, CreateSessionRequest{UserID: user.ID})
	require.NoError(t, err)

	result, err := service.ValidateSession(ctx, created.SessionToken, false)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, user.ID, result.User.ID)
	assert.False(t, result.ShouldRefresh)
	assert.NotEmpty(t, result.CorrelationID)
}

func TestValidateSession_NotFound(t *testing.T) {
	service, _, _, _ := setupSessionService(t, config.DefaultSessionConfig())

	result, err := service.ValidateSession(context.Background(), "never-issued", false)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, ReasonSessionNotFound, result.Reason)
}

func TestValidateSession_Expired(t *testing.T) {
	service, repo, _, user := setupSessionService(t, config.DefaultSessionConfig())
	ctx := context.Background()

	created, err := service.CreateSession(ctx, CreateSessionRequest{UserID: user.ID})
	require.NoError(t, err)

	forceExpiry(repo, created.SessionToken, time.Now().UTC().Add(-time.Minute))

	result, err := service.ValidateSession(ctx, created.SessionToken, false)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, ReasonSessionExpired, result.Reason)
}

func TestValidateSession_UserDeleted(t *testing.T) {
	service, _, users, user := setupSessionService(t, config.DefaultSessionConfig())
	ctx := context.Background()

	created, err := service.CreateSession(ctx, CreateSessionRequest{UserID: user.ID})
	require.NoError(t, err)

	users.RemoveUser(user.ID)

	result, err := service.ValidateSession(ctx, created.SessionToken, false)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, ReasonUserNotFound, result.Reason)
}

func TestValidateSession_AutoRefresh(t *testing.T) {
	service, repo, _, user := setupSessionService(t, config.DefaultSessionConfig())
	ctx := context.Background()

	created, err := service.CreateSession(ctx, CreateSessionRequest{UserID: user.ID})
	require.NoError(t, err)

	// Force the session inside the refresh threshold
	nearExpiry := time.Now().UTC().Add(30 * time.Minute)
	forceExpiry(repo, created.SessionToken, nearExpiry)

	result, err := service.ValidateSession(ctx, created.SessionToken, false)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.True(t, result.ShouldRefresh)
	assert.True(t, result.Session.ExpiresAt.After(nearExpiry), "auto-refresh should extend expiry")
}

func TestValidateSession_MalformedTokens(t *testing.T) {
	service, _, _, _ := setupSessionService(t, config.DefaultSessionConfig())
	ctx := context.Background()

	for _, token := range malformedTokens() {
		result, err := service.ValidateSession(ctx, token, true)
		require.NoError(t, err)
		assert.False(t, result.Valid)
		assert.Equal(t, ReasonSessionNotFound, result.Reason)
	}
}

func malformedTokens() []string {
	long := make([]byte, 1000)
	for i := range long {
		long[i] = 'a'
	}
	return []string{
		"",
		string(long),
		"<script>alert('x')</script>",
		"' OR '1'='1",
	}
}

func TestRefreshSession(t *testing.T) {
	service, repo, _, user := setupSessionService(t, config.DefaultSessionConfig())
	ctx := context.Background()

	created, err := service.CreateSession(ctx, CreateSessionRequest{UserID: user.ID, RememberMe: true})
	require.NoError(t, err)

	// Shrink the stored expiry, then refresh; expiry must recompute from
	// the original remember-me flag.
	forceExpiry(repo, created.SessionToken, time.Now().UTC().Add(time.Hour))

	result, err := service.RefreshSession(ctx, created.SessionToken, true)
	require.NoError(t, err)
	lifetime := time.Until(result.ExpiresAt)
	assert.InDelta(t, (30 * 24 * time.Hour).Seconds(), lifetime.Seconds(), 60)
}

func TestRefreshSession_NotFound(t *testing.T) {
	service, _, _, _ := setupSessionService(t, config.DefaultSessionConfig())

	_, err := service.RefreshSession(context.Background(), "missing", true)
	require.Error(t, err)
	assert.True(t, pkgerr.IsCode(err, pkgerr.ErrCodeSessionNotFound))
}

func TestRefreshSession_Expired(t *testing.T) {
	service, repo, _, user := setupSessionService(t, config.DefaultSessionConfig())
	ctx := context.Background()

	created, err := service.CreateSession(ctx, CreateSessionRequest{UserID: user.ID})
	require.NoError(t, err)
	forceExpiry(repo, created.SessionToken, time.Now().UTC().Add(-time.Minute))

	_, err = service.RefreshSession(ctx, created.SessionToken, true)
	require.Error(t, err)
	assert.True(t, pkgerr.IsCode(err, pkgerr.ErrCodeSessionExpired))
}

func TestInvalidateSession_Idempotent(t *testing.T) {
	service, _, _, user := setupSessionService(t, config.DefaultSessionConfig())
	ctx := context.Background()

	created, err := service.CreateSession(ctx, CreateSessionRequest{UserID: user.ID})
	require.NoError(t, err)

	result, err := service.InvalidateSession(ctx, created.SessionToken, "logout")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Empty(t, result.Reason)

	// Second invalidation still succeeds
	result, err = service.InvalidateSession(ctx, created.SessionToken, "logout")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, ReasonAlreadyInvalid, result.Reason)

	// Never-issued token succeeds too
	result, err = service.InvalidateSession(ctx, "never-issued", "")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, ReasonAlreadyInvalid, result.Reason)

	validation, err := service.ValidateSession(ctx, created.SessionToken, false)
	require.NoError(t, err)
	assert.False(t, validation.Valid)
	assert.Equal(t, ReasonSessionNotFound, validation.Reason)
}

func TestGetUserActiveSessions(t *testing.T) {
	service, _, _, user := setupSessionService(t, config.DefaultSessionConfig())
	ctx := context.Background()

	first, err := service.CreateSession(ctx, CreateSessionRequest{UserID: user.ID})
	require.NoError(t, err)
	_, err = service.CreateSession(ctx, CreateSessionRequest{UserID: user.ID})
	require.NoError(t, err)

	result, err := service.GetUserActiveSessions(ctx, first.SessionToken, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalActiveSessions)

	currentFlagged := 0
	for _, summary := range result.Sessions {
		if summary.IsCurrentSession {
			currentFlagged++
			assert.Equal(t, first.SessionID, summary.ID)
		}
	}
	assert.Equal(t, 1, currentFlagged)
}

func TestGetUserActiveSessions_OtherUserRequiresAdmin(t *testing.T) {
	service, _, users, user := setupSessionService(t, config.DefaultSessionConfig())
	ctx := context.Background()

	other := iam.User{ID: uuid.New(), Email: "other@example.com", Role: iam.RoleUser}
	users.AddUser(other)

	created, err := service.CreateSession(ctx, CreateSessionRequest{UserID: user.ID})
	require.NoError(t, err)

	_, err = service.GetUserActiveSessions(ctx, created.SessionToken, &other.ID)
	require.Error(t, err)
	assert.True(t, pkgerr.IsCode(err, pkgerr.ErrCodeForbidden))
}

func TestInvalidateAllOtherSessions(t *testing.T) {
	service, _, _, user := setupSessionService(t, config.DefaultSessionConfig())
	ctx := context.Background()

	keep, err := service.CreateSession(ctx, CreateSessionRequest{UserID: user.ID})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = service.CreateSession(ctx, CreateSessionRequest{UserID: user.ID})
		require.NoError(t, err)
	}

	result, err := service.InvalidateAllOtherSessions(ctx, keep.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, 3, result.InvalidatedCount)

	validation, err := service.ValidateSession(ctx, keep.SessionToken, false)
	require.NoError(t, err)
	assert.True(t, validation.Valid)
}

func TestUpdateWorkflowState(t *testing.T) {
	service, _, _, user := setupSessionService(t, config.DefaultSessionConfig())
	ctx := context.Background()

	created, err := service.CreateSession(ctx, CreateSessionRequest{UserID: user.ID})
	require.NoError(t, err)

	err = service.UpdateWorkflowState(ctx, created.SessionToken, "incident_report", map[string]interface{}{
		"step": float64(2),
	})
	require.NoError(t, err)

	err = service.UpdateWorkflowState(ctx, created.SessionToken, "incident_report", map[string]interface{}{
		"draft": "partial narrative",
	})
	require.NoError(t, err)

	result, err := service.ValidateSession(ctx, created.SessionToken, true)
	require.NoError(t, err)
	require.Contains(t, result.Workflow, "incident_report")
	assert.Equal(t, float64(2), result.Workflow["incident_report"]["step"])
	assert.Equal(t, "partial narrative", result.Workflow["incident_report"]["draft"])
}

func TestUpdateWorkflowState_NotFound(t *testing.T) {
	service, _, _, _ := setupSessionService(t, config.DefaultSessionConfig())

	err := service.UpdateWorkflowState(context.Background(), "missing", "incident_report", map[string]interface{}{})
	require.Error(t, err)
	assert.True(t, pkgerr.IsCode(err, pkgerr.ErrCodeSessionNotFound))
}

func TestCleanupExpiredSessions(t *testing.T) {
	service, repo, _, user := setupSessionService(t, config.DefaultSessionConfig())
	ctx := context.Background()

	var expired []string
	for i := 0; i < 3; i++ {
		created, err := service.CreateSession(ctx, CreateSessionRequest{UserID: user.ID})
		require.NoError(t, err)
		expired = append(expired, created.SessionToken)
	}
	for i := 0; i < 2; i++ {
		_, err := service.CreateSession(ctx, CreateSessionRequest{UserID: user.ID})
		require.NoError(t, err)
	}
	for _, token := range expired {
		forceExpiry(repo, token, time.Now().UTC().Add(-time.Minute))
	}

	result, err := service.CleanupExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.CleanedCount)

	active, err := repo.ListActiveByUserID(ctx, user.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.Len(t, active, 2)
}
