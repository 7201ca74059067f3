package impersonate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	pkgerr "github.com/patrolbase/simple-sessions/pkg/errors"
)

// PostgresRepository implements the Repository interface using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL impersonation repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{
		pool: pool,
	}
}

const impersonationColumns = `id, admin_user_id, target_user_id, session_token,
	original_session_token, reason, expires_at, is_active, created_at,
	terminated_at, correlation_id`

func scanImpersonation(row pgx.Row) (*ImpersonationSession, error) {
	session := &ImpersonationSession{}
	var terminatedAt sql.NullTime

	err := row.Scan(
		&session.ID,
		&session.AdminUserID,
		&session.TargetUserID,
		&session.SessionToken,
		&session.OriginalSessionToken,
		&session.Reason,
		&session.ExpiresAt,
		&session.IsActive,
		&session.CreatedAt,
		&terminatedAt,
		&session.CorrelationID,
	)
	if err != nil {
		return nil, err
	}

	if terminatedAt.Valid {
		session.TerminatedAt = &terminatedAt.Time
	}
	return session, nil
}

// Create creates a new impersonation session
func (r *PostgresRepository) Create(ctx context.Context, session ImpersonationSession) (*ImpersonationSession, error) {
	query := `
		INSERT INTO impersonation_sessions (
			id, admin_user_id, target_user_id, session_token,
			original_session_token, reason, expires_at, is_active, created_at,
			correlation_id
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		) RETURNING ` + impersonationColumns

	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}

	created, err := scanImpersonation(r.pool.QueryRow(ctx, query,
		session.ID,
		session.AdminUserID,
		session.TargetUserID,
		session.SessionToken,
		session.OriginalSessionToken,
		session.Reason,
		session.ExpiresAt,
		session.IsActive,
		session.CreatedAt,
		session.CorrelationID,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create impersonation session: %w", err)
	}
	return created, nil
}

// GetByToken retrieves an impersonation session by its token, active or not
func (r *PostgresRepository) GetByToken(ctx context.Context, token string) (*ImpersonationSession, error) {
	query := `SELECT ` + impersonationColumns + ` FROM impersonation_sessions WHERE session_token = $1`

	session, err := scanImpersonation(r.pool.QueryRow(ctx, query, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pkgerr.New(pkgerr.ErrCodeNotFound, "impersonation session not found")
		}
		return nil, fmt.Errorf("failed to get impersonation session: %w", err)
	}
	return session, nil
}

// CountActiveByAdmin counts active, unexpired sessions for an admin
func (r *PostgresRepository) CountActiveByAdmin(ctx context.Context, adminUserID uuid.UUID, now time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM impersonation_sessions
		WHERE admin_user_id = $1 AND is_active = true AND expires_at > $2
	`

	var count int
	if err := r.pool.QueryRow(ctx, query, adminUserID, now).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count impersonation sessions: %w", err)
	}
	return count, nil
}

// ListActiveByAdmin lists active, unexpired sessions for an admin, newest first
func (r *PostgresRepository) ListActiveByAdmin(ctx context.Context, adminUserID uuid.UUID, now time.Time) ([]ImpersonationSession, error) {
	query := `
		SELECT ` + impersonationColumns + `
		FROM impersonation_sessions
		WHERE admin_user_id = $1 AND is_active = true AND expires_at > $2
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, adminUserID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list impersonation sessions: %w", err)
	}
	defer rows.Close()

	var sessions []ImpersonationSession
	for rows.Next() {
		session, err := scanImpersonation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan impersonation session: %w", err)
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

// Deactivate flips is_active to false exactly once and stamps terminated_at
func (r *PostgresRepository) Deactivate(ctx context.Context, token string, terminatedAt time.Time) (bool, error) {
	query := `
		UPDATE impersonation_sessions
		SET is_active = false, terminated_at = $2
		WHERE session_token = $1 AND is_active = true
	`

	tag, err := r.pool.Exec(ctx, query, token, terminatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to deactivate impersonation session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeactivateAllActive flips is_active on every active session system-wide
func (r *PostgresRepository) DeactivateAllActive(ctx context.Context, terminatedAt time.Time) (int, error) {
	query := `
		UPDATE impersonation_sessions
		SET is_active = false, terminated_at = $1
		WHERE is_active = true
	`

	tag, err := r.pool.Exec(ctx, query, terminatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to terminate impersonation sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeactivateExpired flips is_active on active sessions whose expiry has passed
func (r *PostgresRepository) DeactivateExpired(ctx context.Context, now time.Time) (int, error) {
	query := `
		UPDATE impersonation_sessions
		SET is_active = false, terminated_at = $1
		WHERE is_active = true AND expires_at <= $1
	`

	tag, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate expired impersonation sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
