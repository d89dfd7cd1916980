package auth

import (
	"crypto/rand"
	"encoding/base64"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the work factor for new password digests.
const DefaultBcryptCost = 12

// PasswordHasher hashes and verifies passwords with bcrypt. The cost is
// injectable so tests can use bcrypt.MinCost.
type PasswordHasher struct {
	cost  int
	dummy string
}

func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	h := &PasswordHasher{cost: cost}
	// Hash cannot fail once the cost is clamped into range.
	h.dummy, _ = h.Hash("dummy-comparison-target")
	return h
}

// Hash returns the bcrypt digest of plaintext. The salt and cost are embedded
// in the digest string.
func (h *PasswordHasher) Hash(plaintext string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	if err != nil {
		return "", err
	}
	return string(digest), nil
}

// Verify reports whether plaintext matches the stored digest. A malformed or
// empty digest is a verification failure, never an error.
func (h *PasswordHasher) Verify(plaintext, digest string) bool {
	if digest == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}

// DummyVerify runs a full bcrypt comparison against a throwaway digest and
// always fails. Login burns it on unknown identifiers so that path costs the
// same as a wrong password.
func (h *PasswordHasher) DummyVerify(plaintext string) bool {
	bcrypt.CompareHashAndPassword([]byte(h.dummy), []byte(plaintext))
	return false
}

// UnusablePassword returns a digest of random data that no plaintext will
// ever verify against in practice. Assigned to OAuth-created accounts so
// password login stays impossible until the user sets a password.
func (h *PasswordHasher) UnusablePassword() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return h.Hash(base64.RawURLEncoding.EncodeToString(buf))
}
