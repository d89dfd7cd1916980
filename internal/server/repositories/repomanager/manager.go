package repomanager

import (
	"context"
	"database/sql"

	"github.com/linqyard/linqyard/internal/dbx"
	"github.com/linqyard/linqyard/internal/server/repositories/externallogins"
	"github.com/linqyard/linqyard/internal/server/repositories/otpcodes"
	"github.com/linqyard/linqyard/internal/server/repositories/refreshtokens"
	"github.com/linqyard/linqyard/internal/server/repositories/sessions"
	"github.com/linqyard/linqyard/internal/server/repositories/users"
)

// RepositoryManager vends repository implementations bound to a DBTX, so the
// same repository code serves both plain connections and transactions.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Sessions(db dbx.DBTX) sessions.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	ExternalLogins(db dbx.DBTX) externallogins.Repository
	OtpCodes(db dbx.DBTX) otpcodes.Repository
}
