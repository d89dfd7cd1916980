package otpcodes

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

func (r *PostgresRepository) Create(ctx context.Context, code *models.OtpCode) (*models.OtpCode, error) {
	if code.ID == "" {
		code.ID = uuid.NewString()
	}

	query := `
		INSERT INTO otp_codes (id, email, code_digest, purpose, expires_at)
		VALUES ($1, lower($2), $3, $4, $5)
		RETURNING email, created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		code.ID, code.Email, code.CodeDigest, code.Purpose, code.ExpiresAt,
	).Scan(&code.Email, &code.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return code, nil
}

func (r *PostgresRepository) GetLatest(ctx context.Context, email, purpose string) (*models.OtpCode, error) {
	query := `
		SELECT id, email, code_digest, purpose, expires_at, consumed_at, created_at
		FROM otp_codes
		WHERE lower(email) = lower($1) AND purpose = $2
		ORDER BY created_at DESC LIMIT 1
	`
	c := &models.OtpCode{}
	err := r.db.QueryRowContext(ctx, query, email, purpose).Scan(&c.ID, &c.Email,
		&c.CodeDigest, &c.Purpose, &c.ExpiresAt, &c.ConsumedAt, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrCodeNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

// Consume flips consumed_at exactly once. The consumed_at IS NULL predicate
// makes double submission of the same code lose deterministically.
func (r *PostgresRepository) Consume(ctx context.Context, id string) error {
	query := `UPDATE otp_codes SET consumed_at = now() WHERE id = $1 AND consumed_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if rows == 0 {
		return common.ErrCodeAlreadyUsed
	}
	return nil
}

func (r *PostgresRepository) DeleteForEmail(ctx context.Context, email, purpose string) error {
	query := `DELETE FROM otp_codes WHERE lower(email) = lower($1) AND purpose = $2`
	if _, err := r.db.ExecContext(ctx, query, email, purpose); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
