package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/linqyard/linqyard/internal/common"
	"github.com/linqyard/linqyard/internal/dbx"
	"github.com/linqyard/linqyard/internal/server/models"
)

// PostgresRepository implements Repository over dbx.DBTX
// (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

var _ Repository = (*PostgresRepository)(nil)

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, session *models.Session) (*models.Session, error) {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}

	query := `
		INSERT INTO sessions (id, user_id, auth_method, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, last_seen_at
	`
	err := r.db.QueryRowContext(ctx, query,
		session.ID, session.UserID, session.AuthMethod, session.IPAddress, session.UserAgent,
	).Scan(&session.CreatedAt, &session.LastSeenAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return session, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	query := `
		SELECT id, user_id, auth_method, ip_address, user_agent, created_at, last_seen_at, revoked_at
		FROM sessions WHERE id = $1
	`
	s := &models.Session{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&s.ID, &s.UserID, &s.AuthMethod,
		&s.IPAddress, &s.UserAgent, &s.CreatedAt, &s.LastSeenAt, &s.RevokedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) Touch(ctx context.Context, id string) error {
	query := `UPDATE sessions SET last_seen_at = now() WHERE id = $1 AND revoked_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Revoke(ctx context.Context, id string) error {
	query := `UPDATE sessions SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if rows > 0 {
		return nil
	}

	// Nothing updated: either the session is already revoked or it is gone.
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return common.ErrSessionRevoked
}

func (r *PostgresRepository) RevokeAllForUser(ctx context.Context, userID, exceptSessionID string) (int64, error) {
	query := `
		UPDATE sessions SET revoked_at = now()
		WHERE user_id = $1 AND revoked_at IS NULL AND ($2 = '' OR id <> $2::uuid)
	`
	res, err := r.db.ExecContext(ctx, query, userID, exceptSessionID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return rows, nil
}

func (r *PostgresRepository) ListActive(ctx context.Context, userID string) ([]models.Session, error) {
	query := `
		SELECT id, user_id, auth_method, ip_address, user_agent, created_at, last_seen_at, revoked_at
		FROM sessions
		WHERE user_id = $1 AND revoked_at IS NULL
		ORDER BY last_seen_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []models.Session
	for rows.Next() {
		var s models.Session
		if err := rows.Scan(&s.ID, &s.UserID, &s.AuthMethod, &s.IPAddress, &s.UserAgent,
			&s.CreatedAt, &s.LastSeenAt, &s.RevokedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}
