// Package otpcodes provides persistence for single-use proof codes.
package otpcodes

import (
	"context"

	"github.com/linqyard/linqyard/internal/server/models"
)

// Repository is the storage contract for OTP rows.
type Repository interface {
	Create(ctx context.Context, code *models.OtpCode) (*models.OtpCode, error)

	// GetLatest returns the most recently issued code for (email, purpose).
	// Returns common.ErrCodeNotFound when none exists.
	GetLatest(ctx context.Context, email, purpose string) (*models.OtpCode, error)

	// Consume marks the code used if and only if it is not yet consumed.
	// Returns common.ErrCodeAlreadyUsed when a concurrent consume won.
	Consume(ctx context.Context, id string) error

	// DeleteForEmail drops all codes for (email, purpose). Called before
	// re-issuing so only one code is outstanding at a time.
	DeleteForEmail(ctx context.Context, email, purpose string) error
}
