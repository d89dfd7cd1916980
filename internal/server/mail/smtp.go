package mail

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// SMTPConfig holds connection settings for the SMTP mailer.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// Validate reports the missing required fields, if any.
func (cfg SMTPConfig) Validate() error {
	var missing []string
	if cfg.Host == "" {
		missing = append(missing, "Host")
	}
	if cfg.Port == 0 {
		missing = append(missing, "Port")
	}
	if cfg.From == "" {
		missing = append(missing, "From")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing SMTP configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// SMTPMailer sends mail through a plain SMTP relay.
type SMTPMailer struct {
	cfg SMTPConfig
}

var _ Mailer = (*SMTPMailer)(nil)

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// sendMail is a seam for testing.
var sendMail = smtp.SendMail

func (m *SMTPMailer) SendVerificationCode(ctx context.Context, to, name, code string, expiresInMinutes int) error {
	body := fmt.Sprintf(
		"%sYour verification code is %s.\r\n\r\nIt expires in %d minutes. If you did not sign up, ignore this email.\r\n",
		greeting(name), code, expiresInMinutes)
	return m.send(to, "Verify your email", body)
}

func (m *SMTPMailer) SendPasswordResetCode(ctx context.Context, to, name, code string, expiresInMinutes int) error {
	body := fmt.Sprintf(
		"%sYour password reset code is %s.\r\n\r\nIt expires in %d minutes. If you did not request a reset, ignore this email.\r\n",
		greeting(name), code, expiresInMinutes)
	return m.send(to, "Reset your password", body)
}

func (m *SMTPMailer) SendWelcome(ctx context.Context, to, displayName string) error {
	body := greeting(displayName) + "Your email is verified and your account is ready.\r\n"
	return m.send(to, "Welcome", body)
}

func greeting(name string) string {
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf("Hi %s,\r\n\r\n", name)
}

func (m *SMTPMailer) send(to, subject, body string) error {
	from := m.cfg.From
	if m.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", m.cfg.FromName, m.cfg.From)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(body)

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	if err := sendMail(addr, auth, m.cfg.From, []string{to}, buf.Bytes()); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
