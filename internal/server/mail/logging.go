package mail

import (
	"context"

	"github.com/linqyard/linqyard/internal/logging"
)

// LoggingMailer writes messages to the log instead of sending them. Used in
// development when no SMTP relay is configured.
type LoggingMailer struct {
	logger logging.Logger
}

var _ Mailer = (*LoggingMailer)(nil)

func NewLoggingMailer(logger logging.Logger) *LoggingMailer {
	return &LoggingMailer{logger: logger}
}

func (m *LoggingMailer) SendVerificationCode(ctx context.Context, to, name, code string, expiresInMinutes int) error {
	m.logger.Info(ctx, "verification code issued", "to", to, "name", name, "code", code, "expires_min", expiresInMinutes)
	return nil
}

func (m *LoggingMailer) SendPasswordResetCode(ctx context.Context, to, name, code string, expiresInMinutes int) error {
	m.logger.Info(ctx, "password reset code issued", "to", to, "name", name, "code", code, "expires_min", expiresInMinutes)
	return nil
}

func (m *LoggingMailer) SendWelcome(ctx context.Context, to, displayName string) error {
	m.logger.Info(ctx, "welcome mail", "to", to, "name", displayName)
	return nil
}
