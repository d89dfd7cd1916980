// Package auth contains the credential primitives: signed access tokens,
// bcrypt password digests, and opaque refresh-token secrets.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/linqyard/linqyard/internal/common"
)

// maxAccessTokenTTL caps the configured access-token lifetime. Access tokens
// are stateless and cannot be revoked individually, so a misconfigured TTL
// must not produce long-lived credentials.
const maxAccessTokenTTL = time.Hour

// DefaultAccessTokenTTL is used when the configured TTL is zero or negative.
const DefaultAccessTokenTTL = 15 * time.Minute

// Claims is the access-token payload: the standard registered claims plus
// the user, the session the token is bound to, and the user's roles.
type Claims struct {
	jwt.RegisteredClaims
	UserID    string   `json:"uid"`
	SessionID string   `json:"sid"`
	Roles     []string `json:"roles,omitempty"`
}

// ClampAccessTokenTTL normalizes a configured access-token TTL into the
// allowed range.
func ClampAccessTokenTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultAccessTokenTTL
	}
	if ttl > maxAccessTokenTTL {
		return maxAccessTokenTTL
	}
	return ttl
}

// GenerateAccessToken mints a signed HS256 token bound to (userID, sessionID),
// valid for the clamped ttl.
func GenerateAccessToken(userID, sessionID string, roles []string, secretKey []byte, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ClampAccessTokenTTL(ttl))),
		},
		UserID:    userID,
		SessionID: sessionID,
		Roles:     roles,
	})

	signed, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// ParseAccessToken verifies the signature and expiry of an access token and
// returns its claims. Only HS256 is accepted.
func ParseAccessToken(tokenString string, secretKey []byte) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (interface{}, error) {
			return secretKey, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, common.ErrInvalidToken
	}

	if !token.Valid || claims.UserID == "" || claims.SessionID == "" {
		return nil, common.ErrInvalidToken
	}

	return claims, nil
}
