package externallogins

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

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

func (r *PostgresRepository) Create(ctx context.Context, login *models.ExternalLogin) (*models.ExternalLogin, error) {
	if login.ID == "" {
		login.ID = uuid.NewString()
	}

	query := `
		INSERT INTO external_logins (id, user_id, provider, provider_user_id, provider_email)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING linked_at
	`
	err := r.db.QueryRowContext(ctx, query,
		login.ID, login.UserID, login.Provider, login.ProviderUserID, login.ProviderEmail,
	).Scan(&login.LinkedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return login, nil
}

func (r *PostgresRepository) GetByProviderUserID(ctx context.Context, provider, providerUserID string) (*models.ExternalLogin, error) {
	query := `
		SELECT id, user_id, provider, provider_user_id, provider_email, linked_at
		FROM external_logins WHERE provider = $1 AND provider_user_id = $2
	`
	l := &models.ExternalLogin{}
	err := r.db.QueryRowContext(ctx, query, provider, providerUserID).Scan(&l.ID, &l.UserID,
		&l.Provider, &l.ProviderUserID, &l.ProviderEmail, &l.LinkedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return l, nil
}

func (r *PostgresRepository) ListForUser(ctx context.Context, userID string) ([]models.ExternalLogin, error) {
	query := `
		SELECT id, user_id, provider, provider_user_id, provider_email, linked_at
		FROM external_logins WHERE user_id = $1 ORDER BY linked_at
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []models.ExternalLogin
	for rows.Next() {
		var l models.ExternalLogin
		if err := rows.Scan(&l.ID, &l.UserID, &l.Provider, &l.ProviderUserID,
			&l.ProviderEmail, &l.LinkedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) DeleteForUser(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM external_logins WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
