// Package externallogins provides persistence for OAuth identity links.
package externallogins

import (
	"context"

	"github.com/linqyard/linqyard/internal/server/models"
)

// Repository is the storage contract for external-login rows.
type Repository interface {
	// Create links (provider, provider user id) to a local user. Returns
	// common.ErrorAlreadyExists when the pair is already linked.
	Create(ctx context.Context, login *models.ExternalLogin) (*models.ExternalLogin, error)

	// GetByProviderUserID finds the link for a provider identity, if any.
	GetByProviderUserID(ctx context.Context, provider, providerUserID string) (*models.ExternalLogin, error)

	// ListForUser returns all links of the user ordered by link time.
	ListForUser(ctx context.Context, userID string) ([]models.ExternalLogin, error)

	// DeleteForUser removes every link of the user. Used on account deletion.
	DeleteForUser(ctx context.Context, userID string) error
}
