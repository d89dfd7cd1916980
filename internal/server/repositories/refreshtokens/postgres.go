package refreshtokens

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

func (r *PostgresRepository) Create(ctx context.Context, token *models.RefreshToken) (*models.RefreshToken, error) {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.FamilyID == "" {
		token.FamilyID = uuid.NewString()
	}

	query := `
		INSERT INTO refresh_tokens (id, user_id, session_id, token_digest, family_id, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING issued_at
	`
	err := r.db.QueryRowContext(ctx, query,
		token.ID, token.UserID, token.SessionID, token.TokenDigest, token.FamilyID, token.ExpiresAt,
	).Scan(&token.IssuedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return token, nil
}

func (r *PostgresRepository) GetByDigest(ctx context.Context, digest string) (*models.RefreshToken, error) {
	query := `
		SELECT id, user_id, session_id, token_digest, family_id, issued_at, expires_at, revoked_at, replaced_by_id
		FROM refresh_tokens WHERE token_digest = $1
	`
	t := &models.RefreshToken{}
	err := r.db.QueryRowContext(ctx, query, digest).Scan(&t.ID, &t.UserID, &t.SessionID,
		&t.TokenDigest, &t.FamilyID, &t.IssuedAt, &t.ExpiresAt, &t.RevokedAt, &t.ReplacedByID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrRefreshTokenNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return t, nil
}

// Rotate is the compare-and-set step of the redeem flow. The revoked_at IS
// NULL predicate guarantees that of two concurrent redeems of the same token
// exactly one observes a row update; the other gets ErrRefreshTokenRevoked.
func (r *PostgresRepository) Rotate(ctx context.Context, id, replacedByID string) error {
	query := `
		UPDATE refresh_tokens SET revoked_at = now(), replaced_by_id = $2
		WHERE id = $1 AND revoked_at IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, id, replacedByID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if rows == 0 {
		return common.ErrRefreshTokenRevoked
	}
	return nil
}

func (r *PostgresRepository) Revoke(ctx context.Context, id string) error {
	query := `UPDATE refresh_tokens SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// RevokeFamily kills an entire rotation lineage. Used when a rotated token
// is redeemed again, which signals a stolen refresh token.
func (r *PostgresRepository) RevokeFamily(ctx context.Context, familyID string) (int64, error) {
	query := `UPDATE refresh_tokens SET revoked_at = now() WHERE family_id = $1 AND revoked_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, familyID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return rows, nil
}

func (r *PostgresRepository) RevokeBySession(ctx context.Context, sessionID string) (int64, error) {
	query := `UPDATE refresh_tokens SET revoked_at = now() WHERE session_id = $1 AND revoked_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, sessionID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return rows, nil
}

func (r *PostgresRepository) RevokeAllForUser(ctx context.Context, userID, exceptSessionID string) (int64, error) {
	query := `
		UPDATE refresh_tokens SET revoked_at = now()
		WHERE user_id = $1 AND revoked_at IS NULL AND ($2 = '' OR session_id <> $2::uuid)
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
