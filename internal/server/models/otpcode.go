package models

import "time"

// Purposes a one-time code can be issued for.
const (
	OtpPurposeSignupVerify  = "signup-verify"
	OtpPurposePasswordReset = "password-reset"
)

// OtpCode is a single-use proof code delivered out of band (email).
// Consumption is terminal: ConsumedAt transitions from nil exactly once.
type OtpCode struct {
	ID         string
	Email      string
	CodeDigest string
	Purpose    string
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	CreatedAt  time.Time
}
