// Package repomanager provides a concrete RepositoryManager for PostgreSQL,
// wiring together repository constructors and database migrations (via goose).
package repomanager

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/linqyard/linqyard/internal/dbx"
	"github.com/linqyard/linqyard/internal/server/migrations"
	"github.com/linqyard/linqyard/internal/server/repositories/externallogins"
	"github.com/linqyard/linqyard/internal/server/repositories/otpcodes"
	"github.com/linqyard/linqyard/internal/server/repositories/refreshtokens"
	"github.com/linqyard/linqyard/internal/server/repositories/sessions"
	"github.com/linqyard/linqyard/internal/server/repositories/users"
)

// PostgresRepositoryManager vends PostgreSQL-backed repository implementations
// and exposes a schema migration hook.
type PostgresRepositoryManager struct{}

// Users returns a users.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Users(db dbx.DBTX) users.Repository {
	return users.NewPostgresRepository(db)
}

// Sessions returns a sessions.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) Sessions(db dbx.DBTX) sessions.Repository {
	return sessions.NewPostgresRepository(db)
}

// RefreshTokens returns a refreshtokens.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) RefreshTokens(db dbx.DBTX) refreshtokens.Repository {
	return refreshtokens.NewPostgresRepository(db)
}

// ExternalLogins returns an externallogins.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) ExternalLogins(db dbx.DBTX) externallogins.Repository {
	return externallogins.NewPostgresRepository(db)
}

// OtpCodes returns an otpcodes.Repository bound to the provided DBTX.
func (m *PostgresRepositoryManager) OtpCodes(db dbx.DBTX) otpcodes.Repository {
	return otpcodes.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetDialect("pgx")
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return err
	}
	return nil
}

// NewPostgresRepositoryManager constructs a PostgreSQL-backed RepositoryManager.
func NewPostgresRepositoryManager() RepositoryManager {
	return &PostgresRepositoryManager{}
}
