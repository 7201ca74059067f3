package sessions

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/patrolbase/simple-sessions/pkg/config"
	pkgerr "github.com/patrolbase/simple-sessions/pkg/errors"
	"github.com/patrolbase/simple-sessions/pkg/iam"
	"github.com/patrolbase/simple-sessions/pkg/tokengenerator"
)

// tokenCollisionRetries bounds regeneration attempts when a freshly
// generated token already exists in the store
const tokenCollisionRetries = 3

// Service provides session lifecycle business logic
type Service struct {
	repo   Repository
	users  iam.Repository
	tokens tokengenerator.TokenGenerator
	config config.SessionConfig
}

// NewService creates a new session service
func NewService(repo Repository, users iam.Repository, tokens tokengenerator.TokenGenerator, cfg config.SessionConfig) *Service {
	return &Service{
		repo:   repo,
		users:  users,
		tokens: tokens,
		config: cfg,
	}
}

func (s *Service) ttlFor(rememberMe bool) time.Duration {
	if rememberMe {
		return s.config.RememberMeTTL
	}
	return s.config.TTL
}

// CreateSession creates a new session for an existing user. When the user
// is at the session cap, the oldest live sessions are evicted first; the
// newest login always wins. The count-then-evict sequence is a soft cap:
// two concurrent logins may transiently overshoot it until the next
// eviction or cleanup.
func (s *Service) CreateSession(ctx context.Context, req CreateSessionRequest) (*CreateSessionResult, error) {
	correlationID := s.tokens.GenerateCorrelationID()

	if req.UserID == uuid.Nil {
		return nil, pkgerr.New(pkgerr.ErrCodeInvalidInput, "user_id is required")
	}

	if _, err := s.users.GetUser(ctx, req.UserID); err != nil {
		if pkgerr.IsCode(err, pkgerr.ErrCodeUserNotFound) {
			return nil, pkgerr.Newf(pkgerr.ErrCodeUserNotFound, "user %s not found", req.UserID)
		}
		return nil, err
	}

	token, err := s.generateUniqueToken(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	expiresAt := now.Add(s.ttlFor(req.RememberMe))

	if err := s.evictAtCap(ctx, req.UserID, now, correlationID); err != nil {
		return nil, err
	}

	created, err := s.repo.Create(ctx, Session{
		UserID:       req.UserID,
		SessionToken: token,
		RememberMe:   req.RememberMe,
		ExpiresAt:    expiresAt,
		CreatedAt:    now,
		IPAddress:    req.IPAddress,
		UserAgent:    req.UserAgent,
		DeviceType:   req.DeviceType,
		Workflow:     req.Workflow,
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Session created",
		"correlation_id", correlationID,
		"session_id", created.ID,
		"user_id", req.UserID,
		"remember_me", req.RememberMe,
		"expires_at", expiresAt)

	return &CreateSessionResult{
		SessionID:     created.ID,
		SessionToken:  created.SessionToken,
		ExpiresAt:     created.ExpiresAt,
		CorrelationID: correlationID,
	}, nil
}

func (s *Service) generateUniqueToken(ctx context.Context) (string, error) {
	for attempt := 0; attempt <= tokenCollisionRetries; attempt++ {
		token, err := s.tokens.GenerateSessionToken()
		if err != nil {
			return "", pkgerr.Wrap(err, pkgerr.ErrCodeInternal, "failed to generate session token")
		}

		_, err = s.repo.GetByToken(ctx, token)
		if pkgerr.IsCode(err, pkgerr.ErrCodeSessionNotFound) {
			return token, nil
		}
		if err != nil {
			return "", err
		}
		slog.Warn("Session token collision, regenerating", "attempt", attempt)
	}
	return "", pkgerr.New(pkgerr.ErrCodeInternal, "failed to generate unique session token")
}

func (s *Service) evictAtCap(ctx context.Context, userID uuid.UUID, now time.Time, correlationID string) error {
	count, err := s.repo.CountActiveByUserID(ctx, userID, now)
	if err != nil {
		return err
	}
	if count < s.config.MaxSessionsPerUser {
		return nil
	}

	active, err := s.repo.ListActiveByUserID(ctx, userID, now)
	if err != nil {
		return err
	}

	// Evict enough of the oldest sessions that the insert lands exactly
	// at the cap.
	evict := len(active) - s.config.MaxSessionsPerUser + 1
	for i := 0; i < evict && i < len(active); i++ {
		if _, err := s.repo.DeleteByToken(ctx, active[i].SessionToken); err != nil {
			return err
		}
		slog.Info("Evicted oldest session at cap",
			"correlation_id", correlationID,
			"session_id", active[i].ID,
			"user_id", userID,
			"created_at", active[i].CreatedAt)
	}
	return nil
}

// ValidateSession looks up a session by token and reports validity as data,
// never as an error, for anything short of a store failure. Sessions inside
// the refresh threshold are silently extended (auto-refresh) and flagged
// with ShouldRefresh so callers can rotate proactively.
func (s *Service) ValidateSession(ctx context.Context, token string, includeWorkflowState bool) (*ValidationResult, error) {
	correlationID := s.tokens.GenerateCorrelationID()

	session, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		if pkgerr.IsCode(err, pkgerr.ErrCodeSessionNotFound) {
			return &ValidationResult{Valid: false, Reason: ReasonSessionNotFound, CorrelationID: correlationID}, nil
		}
		return nil, err
	}

	now := time.Now().UTC()
	if session.IsExpired(now) {
		return &ValidationResult{Valid: false, Reason: ReasonSessionExpired, CorrelationID: correlationID}, nil
	}

	user, err := s.users.GetUser(ctx, session.UserID)
	if err != nil {
		if pkgerr.IsCode(err, pkgerr.ErrCodeUserNotFound) {
			return &ValidationResult{Valid: false, Reason: ReasonUserNotFound, CorrelationID: correlationID}, nil
		}
		return nil, err
	}

	shouldRefresh := session.ExpiresAt.Sub(now) < s.config.RefreshThreshold
	if shouldRefresh {
		newExpiry := now.Add(s.ttlFor(session.RememberMe))
		if err := s.repo.UpdateExpiry(ctx, token, newExpiry); err != nil {
			// Auto-refresh is best-effort; the session is still valid.
			slog.Warn("Auto-refresh failed during validation",
				"correlation_id", correlationID,
				"session_id", session.ID,
				"error", err)
		} else {
			session.ExpiresAt = newExpiry
			slog.Info("Session auto-refreshed",
				"correlation_id", correlationID,
				"session_id", session.ID,
				"expires_at", newExpiry)
		}
	}

	result := &ValidationResult{
		Valid:         true,
		User:          user,
		Session:       session,
		ShouldRefresh: shouldRefresh,
		CorrelationID: correlationID,
	}
	if includeWorkflowState {
		result.Workflow = session.Workflow
	}
	return result, nil
}

// RefreshSession extends a session's expiry, recomputed from the session's
// original remember-me flag. Refresh is a command: absent and expired
// sessions are errors, not data.
func (s *Service) RefreshSession(ctx context.Context, token string, extendExpiry bool) (*RefreshResult, error) {
	correlationID := s.tokens.GenerateCorrelationID()

	session, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		if pkgerr.IsCode(err, pkgerr.ErrCodeSessionNotFound) {
			return nil, pkgerr.New(pkgerr.ErrCodeSessionNotFound, ReasonSessionNotFound)
		}
		return nil, err
	}

	now := time.Now().UTC()
	if session.IsExpired(now) {
		return nil, pkgerr.New(pkgerr.ErrCodeSessionExpired, ReasonSessionExpired)
	}

	expiresAt := session.ExpiresAt
	if extendExpiry {
		expiresAt = now.Add(s.ttlFor(session.RememberMe))
		if err := s.repo.UpdateExpiry(ctx, token, expiresAt); err != nil {
			return nil, err
		}
		slog.Info("Session refreshed",
			"correlation_id", correlationID,
			"session_id", session.ID,
			"expires_at", expiresAt)
	}

	return &RefreshResult{
		ExpiresAt:     expiresAt,
		CorrelationID: correlationID,
	}, nil
}

// InvalidateSession deletes a session. Idempotent: deleting an absent token
// succeeds, since best-effort logout paths call this freely.
func (s *Service) InvalidateSession(ctx context.Context, token string, reason string) (*InvalidateResult, error) {
	correlationID := s.tokens.GenerateCorrelationID()

	deleted, err := s.repo.DeleteByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	result := &InvalidateResult{Success: true, CorrelationID: correlationID}
	if !deleted {
		result.Reason = ReasonAlreadyInvalid
		return result, nil
	}

	slog.Info("Session invalidated",
		"correlation_id", correlationID,
		"reason", reason)
	return result, nil
}

// GetUserActiveSessions lists non-expired sessions for the requestor's user,
// or for targetUserID when the requestor holds admin privilege. The
// requestor's own entry is flagged IsCurrentSession.
func (s *Service) GetUserActiveSessions(ctx context.Context, requestorToken string, targetUserID *uuid.UUID) (*ListSessionsResult, error) {
	correlationID := s.tokens.GenerateCorrelationID()

	requestor, err := s.repo.GetByToken(ctx, requestorToken)
	if err != nil {
		if pkgerr.IsCode(err, pkgerr.ErrCodeSessionNotFound) {
			return nil, pkgerr.New(pkgerr.ErrCodeUnauthorized, ReasonSessionNotFound)
		}
		return nil, err
	}

	now := time.Now().UTC()
	if requestor.IsExpired(now) {
		return nil, pkgerr.New(pkgerr.ErrCodeUnauthorized, ReasonSessionExpired)
	}

	userID := requestor.UserID
	if targetUserID != nil && *targetUserID != requestor.UserID {
		requestorUser, err := s.users.GetUser(ctx, requestor.UserID)
		if err != nil {
			return nil, err
		}
		if !requestorUser.Role.CanImpersonate() {
			return nil, pkgerr.New(pkgerr.ErrCodeForbidden, "listing another user's sessions requires admin privilege")
		}
		userID = *targetUserID
	}

	active, err := s.repo.ListActiveByUserID(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	summaries := make([]SessionSummary, len(active))
	for i, session := range active {
		summaries[i] = SessionSummary{
			ID:               session.ID,
			IPAddress:        session.IPAddress,
			UserAgent:        session.UserAgent,
			DeviceType:       session.DeviceType,
			RememberMe:       session.RememberMe,
			CreatedAt:        session.CreatedAt,
			ExpiresAt:        session.ExpiresAt,
			IsCurrentSession: session.SessionToken == requestorToken,
		}
	}

	return &ListSessionsResult{
		Sessions:            summaries,
		TotalActiveSessions: len(summaries),
		CorrelationID:       correlationID,
	}, nil
}

// InvalidateAllOtherSessions keeps the session identified by token and
// deletes every other non-expired session owned by the same user
// ("log out everywhere else").
func (s *Service) InvalidateAllOtherSessions(ctx context.Context, token string) (*InvalidateOthersResult, error) {
	correlationID := s.tokens.GenerateCorrelationID()

	session, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		if pkgerr.IsCode(err, pkgerr.ErrCodeSessionNotFound) {
			return nil, pkgerr.New(pkgerr.ErrCodeSessionNotFound, ReasonSessionNotFound)
		}
		return nil, err
	}

	now := time.Now().UTC()
	if session.IsExpired(now) {
		return nil, pkgerr.New(pkgerr.ErrCodeSessionExpired, ReasonSessionExpired)
	}

	count, err := s.repo.DeleteAllActiveExcept(ctx, session.UserID, token, now)
	if err != nil {
		return nil, err
	}

	slog.Info("Invalidated all other sessions",
		"correlation_id", correlationID,
		"user_id", session.UserID,
		"invalidated_count", count)

	return &InvalidateOthersResult{
		InvalidatedCount: count,
		CorrelationID:    correlationID,
	}, nil
}

// UpdateWorkflowState merges workflowData into the session's stored
// workflow snapshot under workflowType
func (s *Service) UpdateWorkflowState(ctx context.Context, token string, workflowType string, workflowData map[string]interface{}) error {
	if workflowType == "" {
		return pkgerr.New(pkgerr.ErrCodeInvalidInput, "workflow type is required")
	}

	err := s.repo.MergeWorkflowState(ctx, token, workflowType, workflowData)
	if pkgerr.IsCode(err, pkgerr.ErrCodeSessionNotFound) {
		return pkgerr.New(pkgerr.ErrCodeSessionNotFound, ReasonSessionNotFound)
	}
	return err
}

// CleanupExpiredSessions sweeps and deletes every expired session, any user.
// Intended to run on a fixed interval; safe concurrently with live traffic.
func (s *Service) CleanupExpiredSessions(ctx context.Context) (*CleanupResult, error) {
	now := time.Now().UTC()

	count, err := s.repo.DeleteExpired(ctx, now)
	if err != nil {
		return nil, err
	}

	if count > 0 {
		slog.Info("Expired sessions cleaned up", "cleaned_count", count)
	}

	return &CleanupResult{
		CleanedCount: count,
		Timestamp:    now,
	}, nil
}
