package models

import "time"

// User is the identity anchor. Email and Username are stored lowercase and
// compared case-insensitively. PasswordHash is empty for OAuth-only accounts
// until the user explicitly sets a password.
type User struct {
	ID            string
	Email         string
	Username      string
	DisplayName   string
	AvatarURL     string
	PasswordHash  string
	TierID        string
	EmailVerified bool
	IsActive      bool
	DeletedAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Deleted reports whether the account has been soft-deleted (anonymized).
func (u *User) Deleted() bool {
	return u.DeletedAt != nil
}
