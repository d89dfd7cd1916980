// Package sessions provides persistence for logged-in device contexts.
package sessions

import (
	"context"

	"github.com/linqyard/linqyard/internal/server/models"
)

// Repository is the storage contract for session rows.
type Repository interface {
	Create(ctx context.Context, session *models.Session) (*models.Session, error)
	GetByID(ctx context.Context, id string) (*models.Session, error)

	// Touch updates last_seen_at. Best-effort: callers may ignore the error.
	Touch(ctx context.Context, id string) error

	// Revoke sets revoked_at if unset. Returns common.ErrSessionRevoked when
	// the session was already revoked and common.ErrorNotFound when it does
	// not exist.
	Revoke(ctx context.Context, id string) error

	// RevokeAllForUser revokes every active session of the user except
	// exceptSessionID (pass "" to revoke all). Returns the count revoked.
	RevokeAllForUser(ctx context.Context, userID, exceptSessionID string) (int64, error)

	// ListActive returns the user's non-revoked sessions, most recently
	// seen first.
	ListActive(ctx context.Context, userID string) ([]models.Session, error)
}
