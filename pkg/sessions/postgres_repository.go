package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	pkgerr "github.com/patrolbase/simple-sessions/pkg/errors"
	"github.com/patrolbase/simple-sessions/pkg/utils"
)

// PostgresRepository implements the Repository interface using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL session repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{
		pool: pool,
	}
}

const sessionColumns = `id, user_id, session_token, remember_me, expires_at, created_at,
	ip_address, user_agent, device_type, workflow_state`

func scanSession(row pgx.Row) (*Session, error) {
	session := &Session{}
	var ipAddress, userAgent, deviceType sql.NullString
	var workflow []byte

	err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.SessionToken,
		&session.RememberMe,
		&session.ExpiresAt,
		&session.CreatedAt,
		&ipAddress,
		&userAgent,
		&deviceType,
		&workflow,
	)
	if err != nil {
		return nil, err
	}

	session.IPAddress = ipAddress.String
	session.UserAgent = userAgent.String
	session.DeviceType = deviceType.String
	if len(workflow) > 0 {
		if err := json.Unmarshal(workflow, &session.Workflow); err != nil {
			return nil, fmt.Errorf("failed to decode workflow state: %w", err)
		}
	}
	return session, nil
}

// Create creates a new session
func (r *PostgresRepository) Create(ctx context.Context, session Session) (*Session, error) {
	query := `
		INSERT INTO sessions (
			id, user_id, session_token, remember_me, expires_at, created_at,
			ip_address, user_agent, device_type, workflow_state
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		) RETURNING ` + sessionColumns

	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}

	var workflow []byte
	if session.Workflow != nil {
		var err error
		workflow, err = json.Marshal(session.Workflow)
		if err != nil {
			return nil, fmt.Errorf("failed to encode workflow state: %w", err)
		}
	}

	created, err := scanSession(r.pool.QueryRow(ctx, query,
		session.ID,
		session.UserID,
		session.SessionToken,
		session.RememberMe,
		session.ExpiresAt,
		session.CreatedAt,
		utils.ToNullString(session.IPAddress),
		utils.ToNullString(session.UserAgent),
		utils.ToNullString(session.DeviceType),
		workflow,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return created, nil
}

// GetByToken retrieves a session by its token
func (r *PostgresRepository) GetByToken(ctx context.Context, token string) (*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE session_token = $1`

	session, err := scanSession(r.pool.QueryRow(ctx, query, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pkgerr.New(pkgerr.ErrCodeSessionNotFound, "session not found")
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// ListActiveByUserID lists non-expired sessions for a user, oldest first
func (r *PostgresRepository) ListActiveByUserID(ctx context.Context, userID uuid.UUID, now time.Time) ([]Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1 AND expires_at > $2
		ORDER BY created_at ASC
	`

	rows, err := r.pool.Query(ctx, query, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

// CountActiveByUserID counts non-expired sessions for a user
func (r *PostgresRepository) CountActiveByUserID(ctx context.Context, userID uuid.UUID, now time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM sessions WHERE user_id = $1 AND expires_at > $2`

	var count int
	if err := r.pool.QueryRow(ctx, query, userID, now).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return count, nil
}

// DeleteByToken deletes a session by token
func (r *PostgresRepository) DeleteByToken(ctx context.Context, token string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE session_token = $1`, token)
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteAllActiveExcept deletes every other non-expired session owned by userID
func (r *PostgresRepository) DeleteAllActiveExcept(ctx context.Context, userID uuid.UUID, keepToken string, now time.Time) (int, error) {
	query := `
		DELETE FROM sessions
		WHERE user_id = $1 AND session_token <> $2 AND expires_at > $3
	`

	tag, err := r.pool.Exec(ctx, query, userID, keepToken, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// UpdateExpiry extends a session's expiry. GREATEST keeps concurrent
// refreshes from moving expiry backward.
func (r *PostgresRepository) UpdateExpiry(ctx context.Context, token string, expiresAt time.Time) error {
	query := `
		UPDATE sessions
		SET expires_at = GREATEST(expires_at, $2)
		WHERE session_token = $1
	`

	tag, err := r.pool.Exec(ctx, query, token, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to update session expiry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pkgerr.New(pkgerr.ErrCodeSessionNotFound, "session not found")
	}
	return nil
}

// MergeWorkflowState merges data into the session's workflow snapshot
// under workflowType
func (r *PostgresRepository) MergeWorkflowState(ctx context.Context, token string, workflowType string, data map[string]interface{}) error {
	patch, err := json.Marshal(map[string]interface{}{workflowType: data})
	if err != nil {
		return fmt.Errorf("failed to encode workflow state: %w", err)
	}

	// Shallow-merge at the workflow-type key; jsonb concatenation keeps other
	// workflow types intact while the inner merge happens per key.
	query := `
		UPDATE sessions
		SET workflow_state = jsonb_set(
			COALESCE(workflow_state, '{}'::jsonb),
			ARRAY[$2],
			COALESCE(workflow_state -> $2, '{}'::jsonb) || ($3::jsonb -> $2)
		)
		WHERE session_token = $1
	`

	tag, err := r.pool.Exec(ctx, query, token, workflowType, patch)
	if err != nil {
		return fmt.Errorf("failed to update workflow state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pkgerr.New(pkgerr.ErrCodeSessionNotFound, "session not found")
	}
	return nil
}

// DeleteExpired deletes every session with expiry at or before now.
// Delete-if-still-expired: a session refreshed after the sweep started is
// simply not matched.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
