// Package mail delivers transactional messages for the auth flows.
package mail

import "context"

// Mailer sends the messages the auth flows require. Implementations must be
// safe for concurrent use.
type Mailer interface {
	// SendVerificationCode delivers the signup email-verification code,
	// addressed to name.
	SendVerificationCode(ctx context.Context, to, name, code string, expiresInMinutes int) error

	// SendPasswordResetCode delivers the password-reset code, addressed to
	// name.
	SendPasswordResetCode(ctx context.Context, to, name, code string, expiresInMinutes int) error

	// SendWelcome greets a newly verified account. Failures are not fatal to
	// the verification flow.
	SendWelcome(ctx context.Context, to, displayName string) error
}
