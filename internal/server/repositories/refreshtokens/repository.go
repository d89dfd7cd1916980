// Package refreshtokens provides persistence for the refresh-token ledger.
package refreshtokens

import (
	"context"

	"github.com/linqyard/linqyard/internal/server/models"
)

// Repository is the storage contract for refresh-token rows.
type Repository interface {
	Create(ctx context.Context, token *models.RefreshToken) (*models.RefreshToken, error)

	// GetByDigest looks up a token by the SHA-256 digest of its bearer
	// secret. Returns common.ErrRefreshTokenNotFound when absent.
	GetByDigest(ctx context.Context, digest string) (*models.RefreshToken, error)

	// Rotate marks the token rotated (revoked with a successor) if and only
	// if it is not yet revoked. Returns common.ErrRefreshTokenRevoked when a
	// concurrent redeem won the race.
	Rotate(ctx context.Context, id, replacedByID string) error

	// Revoke terminally revokes the token if not yet revoked. No error when
	// it was already revoked.
	Revoke(ctx context.Context, id string) error

	// RevokeFamily revokes every active token in a rotation lineage.
	// Called when a rotated token is presented again.
	RevokeFamily(ctx context.Context, familyID string) (int64, error)

	// RevokeBySession revokes every active token issued under the session.
	RevokeBySession(ctx context.Context, sessionID string) (int64, error)

	// RevokeAllForUser revokes every active token of the user, optionally
	// sparing one session (pass "" to spare none). Returns the count revoked.
	RevokeAllForUser(ctx context.Context, userID, exceptSessionID string) (int64, error)
}
