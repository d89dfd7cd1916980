package models

import "time"

// Authentication methods recorded on a session.
const (
	AuthMethodPassword = "password"
	AuthMethodGoogle   = "google"
	AuthMethodGitHub   = "github"
)

// Session is one logged-in device/browser context. A session with RevokedAt
// set is terminal: no refresh tokens may be issued against it again.
type Session struct {
	ID         string
	UserID     string
	AuthMethod string
	IPAddress  string
	UserAgent  string
	CreatedAt  time.Time
	LastSeenAt time.Time
	RevokedAt  *time.Time
}

// Revoked reports whether the session has been terminated.
func (s *Session) Revoked() bool {
	return s.RevokedAt != nil
}
