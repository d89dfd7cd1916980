package models

import "time"

// RefreshToken is one row of the refresh-token ledger. Only the SHA-256
// digest of the bearer secret is stored; the plaintext exists once, at issue
// time. FamilyID threads the rotation lineage descended from a single login.
//
// States: active (RevokedAt nil, not expired), rotated (RevokedAt set with
// ReplacedByID pointing at the successor), revoked (RevokedAt set, no
// successor). Expiry without revocation counts as revoked at read time.
type RefreshToken struct {
	ID           string
	UserID       string
	SessionID    string
	TokenDigest  string
	FamilyID     string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	RevokedAt    *time.Time
	ReplacedByID *string
}

// Active reports whether the token can still be redeemed at instant now.
func (t *RefreshToken) Active(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}
