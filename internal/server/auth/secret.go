package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// refreshSecretSize is the entropy of a refresh-token secret in bytes.
const refreshSecretSize = 32

// GenerateRefreshSecret returns a new opaque bearer secret: 256 bits of
// crypto/rand output, URL-safe base64 without padding.
func GenerateRefreshSecret() (string, error) {
	buf := make([]byte, refreshSecretSize)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// DigestSecret computes the storage digest of a refresh secret. SHA-256 is
// deliberate here: the secret is already high-entropy and is looked up by
// exact digest match, so the slow password hash is unnecessary.
func DigestSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}
