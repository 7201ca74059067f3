package impersonate

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/patrolbase/simple-sessions/pkg/config"
	pkgerr "github.com/patrolbase/simple-sessions/pkg/errors"
	"github.com/patrolbase/simple-sessions/pkg/iam"
	"github.com/patrolbase/simple-sessions/pkg/sessions"
	"github.com/patrolbase/simple-sessions/pkg/tokengenerator"
)

const (
	tokenCollisionRetries = 3
	defaultSearchLimit    = 20
)

// Service provides impersonation overlay business logic. Admin tokens are
// regular session tokens, so admin identity is resolved through the
// session service rather than by touching the session store directly.
type Service struct {
	repo     Repository
	sessions *sessions.Service
	users    iam.Repository
	tokens   tokengenerator.TokenGenerator
	config   config.ImpersonationConfig
}

// NewService creates a new impersonation service
func NewService(repo Repository, sessionService *sessions.Service, users iam.Repository, tokens tokengenerator.TokenGenerator, cfg config.ImpersonationConfig) *Service {
	return &Service{
		repo:     repo,
		sessions: sessionService,
		users:    users,
		tokens:   tokens,
		config:   cfg,
	}
}

// resolveAdmin turns a regular session token into its owning user, or a
// structured error when the token does not resolve
func (s *Service) resolveAdmin(ctx context.Context, adminToken string) (*iam.User, error) {
	validation, err := s.sessions.ValidateSession(ctx, adminToken, false)
	if err != nil {
		return nil, err
	}
	if !validation.Valid {
		return nil, pkgerr.New(pkgerr.ErrCodeUnauthorized, validation.Reason)
	}
	return validation.User, nil
}

// StartImpersonation creates a bounded admin-as-target overlay session.
// The admin's own session is preserved in OriginalSessionToken, never
// destroyed. Hitting the per-admin concurrency cap fails with a
// descriptive error; impersonation eviction is too security-sensitive
// to be implicit.
func (s *Service) StartImpersonation(ctx context.Context, adminToken, targetUserEmail, reason string) (*StartImpersonationResult, error) {
	correlationID := s.tokens.GenerateCorrelationID()

	admin, err := s.resolveAdmin(ctx, adminToken)
	if err != nil {
		return nil, err
	}
	if !admin.Role.CanImpersonate() {
		slog.Warn("Non-admin attempted to start impersonation",
			"correlation_id", correlationID,
			"user_id", admin.ID,
			"role", admin.Role)
		return nil, pkgerr.New(pkgerr.ErrCodeForbidden, "impersonation requires admin privilege")
	}

	if strings.TrimSpace(reason) == "" {
		return nil, pkgerr.New(pkgerr.ErrCodeInvalidInput, "impersonation reason is required")
	}

	target, err := s.users.GetUserByEmail(ctx, targetUserEmail)
	if err != nil {
		if pkgerr.IsCode(err, pkgerr.ErrCodeUserNotFound) {
			return nil, pkgerr.Newf(pkgerr.ErrCodeUserNotFound, "target user %s not found", targetUserEmail)
		}
		return nil, err
	}

	now := time.Now().UTC()
	count, err := s.repo.CountActiveByAdmin(ctx, admin.ID, now)
	if err != nil {
		return nil, err
	}
	if count >= s.config.MaxActivePerAdmin {
		return nil, pkgerr.Newf(pkgerr.ErrCodeLimitExceeded,
			"admin already has %d active impersonation sessions (limit %d); end one before starting another",
			count, s.config.MaxActivePerAdmin)
	}

	token, err := s.generateUniqueToken(ctx)
	if err != nil {
		return nil, err
	}

	created, err := s.repo.Create(ctx, ImpersonationSession{
		AdminUserID:          admin.ID,
		TargetUserID:         target.ID,
		SessionToken:         token,
		OriginalSessionToken: adminToken,
		Reason:               reason,
		ExpiresAt:            now.Add(s.config.TTL),
		IsActive:             true,
		CreatedAt:            now,
		CorrelationID:        correlationID,
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Impersonation started",
		"correlation_id", correlationID,
		"impersonation_id", created.ID,
		"admin_user_id", admin.ID,
		"target_user_id", target.ID,
		"reason", reason,
		"expires_at", created.ExpiresAt)

	return &StartImpersonationResult{
		ImpersonationToken: created.SessionToken,
		ExpiresAt:          created.ExpiresAt,
		CorrelationID:      correlationID,
	}, nil
}

func (s *Service) generateUniqueToken(ctx context.Context) (string, error) {
	for attempt := 0; attempt <= tokenCollisionRetries; attempt++ {
		token, err := s.tokens.GenerateImpersonationToken()
		if err != nil {
			return "", pkgerr.Wrap(err, pkgerr.ErrCodeInternal, "failed to generate impersonation token")
		}

		_, err = s.repo.GetByToken(ctx, token)
		if pkgerr.IsCode(err, pkgerr.ErrCodeNotFound) {
			return token, nil
		}
		if err != nil {
			return "", err
		}
		slog.Warn("Impersonation token collision, regenerating", "attempt", attempt)
	}
	return "", pkgerr.New(pkgerr.ErrCodeInternal, "failed to generate unique impersonation token")
}

// EndImpersonation deactivates an overlay and returns the admin's preserved
// regular token. Ending a session that is absent, already ended, or expired
// is an error, not a no-op: an admin ending a session they do not currently
// hold is a security-relevant event worth surfacing.
func (s *Service) EndImpersonation(ctx context.Context, impersonationToken string) (*EndImpersonationResult, error) {
	correlationID := s.tokens.GenerateCorrelationID()

	session, err := s.repo.GetByToken(ctx, impersonationToken)
	if err != nil {
		if pkgerr.IsCode(err, pkgerr.ErrCodeNotFound) {
			return nil, pkgerr.New(pkgerr.ErrCodeNotFound, "impersonation session not found")
		}
		return nil, err
	}

	now := time.Now().UTC()
	if !session.IsActive {
		return nil, pkgerr.New(pkgerr.ErrCodeInvalidInput, "impersonation session is no longer active")
	}
	if session.IsExpired(now) {
		return nil, pkgerr.New(pkgerr.ErrCodeSessionExpired, "impersonation session has expired")
	}

	if _, err := s.repo.Deactivate(ctx, impersonationToken, now); err != nil {
		return nil, err
	}

	slog.Info("Impersonation ended",
		"correlation_id", correlationID,
		"impersonation_id", session.ID,
		"admin_user_id", session.AdminUserID,
		"target_user_id", session.TargetUserID)

	return &EndImpersonationResult{
		OriginalSessionToken: session.OriginalSessionToken,
		CorrelationID:        correlationID,
	}, nil
}

// GetImpersonationStatus reports whether token is an active, unexpired
// overlay. Pure read for UI banners; it never errors on malformed or
// attacker-controlled input, only on store failures.
func (s *Service) GetImpersonationStatus(ctx context.Context, token string) (*ImpersonationStatus, error) {
	correlationID := s.tokens.GenerateCorrelationID()
	notImpersonating := &ImpersonationStatus{IsImpersonating: false, CorrelationID: correlationID}

	session, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		if pkgerr.IsCode(err, pkgerr.ErrCodeNotFound) {
			return notImpersonating, nil
		}
		return nil, err
	}

	now := time.Now().UTC()
	if !session.IsUsable(now) {
		return notImpersonating, nil
	}

	adminUser, err := s.users.GetUser(ctx, session.AdminUserID)
	if err != nil && !pkgerr.IsCode(err, pkgerr.ErrCodeUserNotFound) {
		return nil, err
	}
	targetUser, err := s.users.GetUser(ctx, session.TargetUserID)
	if err != nil {
		if pkgerr.IsCode(err, pkgerr.ErrCodeUserNotFound) {
			// Impersonating a deleted user is not possible
			return notImpersonating, nil
		}
		return nil, err
	}

	return &ImpersonationStatus{
		IsImpersonating: true,
		AdminUser:       adminUser,
		TargetUser:      targetUser,
		TimeRemaining:   session.ExpiresAt.Sub(now),
		CorrelationID:   correlationID,
	}, nil
}

// SearchUsersForImpersonation is an admin-only read helper for the target
// picker. Fails closed for non-admins.
func (s *Service) SearchUsersForImpersonation(ctx context.Context, adminToken, searchTerm string, limit int) ([]iam.User, error) {
	admin, err := s.resolveAdmin(ctx, adminToken)
	if err != nil {
		return nil, err
	}
	if !admin.Role.CanImpersonate() {
		return nil, pkgerr.New(pkgerr.ErrCodeForbidden, "user search requires admin privilege")
	}

	if limit <= 0 || limit > defaultSearchLimit {
		limit = defaultSearchLimit
	}
	return s.users.SearchUsers(ctx, searchTerm, limit)
}

// GetActiveImpersonationSessions lists the calling admin's active overlays
func (s *Service) GetActiveImpersonationSessions(ctx context.Context, adminToken string) ([]ActiveImpersonationSummary, error) {
	admin, err := s.resolveAdmin(ctx, adminToken)
	if err != nil {
		return nil, err
	}
	if !admin.Role.CanImpersonate() {
		return nil, pkgerr.New(pkgerr.ErrCodeForbidden, "listing impersonation sessions requires admin privilege")
	}

	active, err := s.repo.ListActiveByAdmin(ctx, admin.ID, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	summaries := make([]ActiveImpersonationSummary, 0, len(active))
	for _, session := range active {
		summary := ActiveImpersonationSummary{
			ID:            session.ID,
			TargetUserID:  session.TargetUserID,
			Reason:        session.Reason,
			CreatedAt:     session.CreatedAt,
			ExpiresAt:     session.ExpiresAt,
			CorrelationID: session.CorrelationID,
		}
		if target, err := s.users.GetUser(ctx, session.TargetUserID); err == nil {
			summary.TargetUserEmail = target.Email
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// EmergencyTerminateAllSessions is the break-glass operation: it deactivates
// every active impersonation record system-wide, not just the calling
// admin's. Idempotent; a second call terminates nothing and succeeds.
func (s *Service) EmergencyTerminateAllSessions(ctx context.Context, adminToken string) (*EmergencyTerminateResult, error) {
	correlationID := s.tokens.GenerateCorrelationID()

	admin, err := s.resolveAdmin(ctx, adminToken)
	if err != nil {
		return nil, err
	}
	if !admin.Role.CanEmergencyTerminate() {
		slog.Warn("Emergency termination attempted without privilege",
			"correlation_id", correlationID,
			"user_id", admin.ID,
			"role", admin.Role)
		return nil, pkgerr.New(pkgerr.ErrCodeForbidden, "emergency termination requires super admin privilege")
	}

	count, err := s.repo.DeactivateAllActive(ctx, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	slog.Warn("Emergency termination of all impersonation sessions",
		"correlation_id", correlationID,
		"admin_user_id", admin.ID,
		"terminated_count", count)

	return &EmergencyTerminateResult{
		TerminatedCount: count,
		CorrelationID:   correlationID,
	}, nil
}

// DeactivateExpired is the periodic sweep companion to session cleanup:
// expired overlays are deactivated, not deleted, preserving the audit trail
func (s *Service) DeactivateExpired(ctx context.Context) (int, error) {
	count, err := s.repo.DeactivateExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if count > 0 {
		slog.Info("Expired impersonation sessions deactivated", "count", count)
	}
	return count, nil
}
