// Package users provides persistence for user accounts.
package users

import (
	"context"

	"github.com/linqyard/linqyard/internal/server/models"
)

// Repository is the storage contract for user rows. Email and username
// lookups are case-insensitive.
type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByIdentifier(ctx context.Context, identifier string) (*models.User, error)
	UsernameTaken(ctx context.Context, username string) (bool, error)
	UpdatePassword(ctx context.Context, id string, passwordHash string) error
	MarkEmailVerified(ctx context.Context, id string) error
	UpdateAvatar(ctx context.Context, id string, avatarURL string) error
	Anonymize(ctx context.Context, id string, placeholderEmail, placeholderUsername string) error
	Delete(ctx context.Context, id string) error
}
