package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/linqyard/linqyard/internal/common"
	"github.com/linqyard/linqyard/internal/dbx"
	"github.com/linqyard/linqyard/internal/logging"
	"github.com/linqyard/linqyard/internal/server/auth"
	"github.com/linqyard/linqyard/internal/server/config"
	"github.com/linqyard/linqyard/internal/server/mail"
	"github.com/linqyard/linqyard/internal/server/models"
	"github.com/linqyard/linqyard/internal/server/providers"
	"github.com/linqyard/linqyard/internal/server/repositories/repomanager"
)

// TokenPair is the credential set returned by login, refresh, and the OAuth
// callback. RefreshToken is the plaintext secret, available only here.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// ClientMeta carries request metadata recorded on new sessions.
type ClientMeta struct {
	IPAddress string
	UserAgent string
}

// AuthService orchestrates the user-facing auth flows: password login,
// refresh rotation, logout, OAuth callback, registration, and the OTP-backed
// email flows.
type AuthService struct {
	db        *sql.DB
	rm        repomanager.RepositoryManager
	hasher    *auth.PasswordHasher
	otp       *OtpService
	identity  *IdentityService
	mailer    mail.Mailer
	providers map[string]providers.Provider
	logger    logging.Logger

	jwtSecret            []byte
	accessTokenValidity  time.Duration
	refreshTokenValidity time.Duration
	defaultTierID        string
}

func NewAuthService(db *sql.DB, rm repomanager.RepositoryManager, hasher *auth.PasswordHasher,
	otp *OtpService, identity *IdentityService, mailer mail.Mailer,
	provs map[string]providers.Provider, cfg *config.Config, logger logging.Logger) *AuthService {
	return &AuthService{
		db:                   db,
		rm:                   rm,
		hasher:               hasher,
		otp:                  otp,
		identity:             identity,
		mailer:               mailer,
		providers:            provs,
		logger:               logger,
		jwtSecret:            []byte(cfg.SecretKey),
		accessTokenValidity:  cfg.AccessTokenValidity,
		refreshTokenValidity: cfg.RefreshTokenValidity,
		defaultTierID:        cfg.DefaultTierID,
	}
}

// Provider returns the configured adapter for name, for building the
// authorization redirect at the HTTP boundary.
func (s *AuthService) Provider(name string) (providers.Provider, bool) {
	p, ok := s.providers[name]
	return p, ok
}

// Login authenticates identifier (email or username) with password. Unknown
// accounts and wrong passwords fail identically with ErrInvalidCredentials;
// an unverified email fails distinctly with ErrEmailNotVerified.
func (s *AuthService) Login(ctx context.Context, identifier, password string, meta ClientMeta) (*TokenPair, *models.User, error) {
	user, err := s.rm.Users(s.db).GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			// Burn a real comparison so unknown accounts cost the same as
			// wrong passwords.
			s.hasher.DummyVerify(password)
			return nil, nil, common.ErrInvalidCredentials
		}
		return nil, nil, common.ErrorInternal
	}

	if user.Deleted() || !user.IsActive {
		return nil, nil, common.ErrInvalidCredentials
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return nil, nil, common.ErrInvalidCredentials
	}
	if !user.EmailVerified {
		return nil, nil, common.ErrEmailNotVerified
	}

	pair, err := s.startSession(ctx, user.ID, models.AuthMethodPassword, meta)
	if err != nil {
		return nil, nil, err
	}
	return pair, user, nil
}

// Refresh redeems a refresh secret and rotates it: the redeemed token is
// retired and its successor issued in the same family, atomically. All
// failure modes surface as ErrInvalidRefreshToken.
//
// Redeeming a token that was already rotated is treated as a theft signal:
// the secret was used twice, so someone other than the legitimate client
// holds it. The entire family and its session are revoked.
func (s *AuthService) Refresh(ctx context.Context, secret string) (*TokenPair, error) {
	tokenRepo := s.rm.RefreshTokens(s.db)

	token, err := tokenRepo.GetByDigest(ctx, auth.DigestSecret(secret))
	if err != nil {
		if errors.Is(err, common.ErrRefreshTokenNotFound) {
			return nil, common.ErrInvalidRefreshToken
		}
		return nil, common.ErrorInternal
	}
	if token.RevokedAt != nil && token.ReplacedByID != nil {
		s.revokeCompromisedFamily(ctx, token)
		return nil, common.ErrInvalidRefreshToken
	}
	if !token.Active(time.Now()) {
		return nil, common.ErrInvalidRefreshToken
	}

	session, err := s.rm.Sessions(s.db).GetByID(ctx, token.SessionID)
	if err != nil {
		return nil, common.ErrorInternal
	}
	if session.Revoked() {
		return nil, common.ErrInvalidRefreshToken
	}

	var pair *TokenPair
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		newSecret, err := auth.GenerateRefreshSecret()
		if err != nil {
			return common.ErrorInternal
		}

		txTokens := s.rm.RefreshTokens(tx)
		newToken, err := txTokens.Create(ctx, &models.RefreshToken{
			UserID:      token.UserID,
			SessionID:   token.SessionID,
			TokenDigest: auth.DigestSecret(newSecret),
			FamilyID:    token.FamilyID,
			ExpiresAt:   time.Now().Add(s.refreshTokenValidity),
		})
		if err != nil {
			return common.ErrorInternal
		}

		// The CAS step. A concurrent redeem of the same secret makes this
		// fail, rolling back the successor created above.
		if err := txTokens.Rotate(ctx, token.ID, newToken.ID); err != nil {
			if errors.Is(err, common.ErrRefreshTokenRevoked) {
				return common.ErrInvalidRefreshToken
			}
			return common.ErrorInternal
		}

		if err := s.rm.Sessions(tx).Touch(ctx, token.SessionID); err != nil {
			return common.ErrorInternal
		}

		accessToken, err := auth.GenerateAccessToken(token.UserID, token.SessionID, nil, s.jwtSecret, s.accessTokenValidity)
		if err != nil {
			return common.ErrorInternal
		}

		pair = &TokenPair{
			AccessToken:      accessToken,
			RefreshToken:     newSecret,
			RefreshExpiresAt: newToken.ExpiresAt,
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, common.ErrInvalidRefreshToken) {
			return nil, common.ErrInvalidRefreshToken
		}
		return nil, common.ErrorInternal
	}

	return pair, nil
}

// revokeCompromisedFamily kills a rotation lineage after a replayed redeem,
// successor tokens included, and the session with it. Best-effort: the redeem
// already failed, so errors here are logged only.
func (s *AuthService) revokeCompromisedFamily(ctx context.Context, token *models.RefreshToken) {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := s.rm.RefreshTokens(tx).RevokeFamily(ctx, token.FamilyID); err != nil {
			return err
		}
		err := s.rm.Sessions(tx).Revoke(ctx, token.SessionID)
		if err != nil && !errors.Is(err, common.ErrSessionRevoked) {
			return err
		}
		return nil
	})
	if err != nil {
		s.logger.Error(ctx, "family revocation failed", "familyID", token.FamilyID, "error", err)
		return
	}
	s.logger.Warn(ctx, "refresh token replay detected, family revoked",
		"userID", token.UserID, "familyID", token.FamilyID)
}

// Logout terminates a session and every refresh token under it. When secret
// is non-empty the session is located through it; otherwise
// currentSessionID (from the caller's access token) is used. Already-revoked
// sessions are a no-op.
func (s *AuthService) Logout(ctx context.Context, secret, currentSessionID string) error {
	sessionID := currentSessionID
	if secret != "" {
		token, err := s.rm.RefreshTokens(s.db).GetByDigest(ctx, auth.DigestSecret(secret))
		if err != nil {
			if errors.Is(err, common.ErrRefreshTokenNotFound) {
				return common.ErrInvalidRefreshToken
			}
			return common.ErrorInternal
		}
		sessionID = token.SessionID
	}
	if sessionID == "" {
		return common.ErrorUnauthorized
	}

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := s.rm.RefreshTokens(tx).RevokeBySession(ctx, sessionID); err != nil {
			return err
		}
		err := s.rm.Sessions(tx).Revoke(ctx, sessionID)
		if err != nil && !errors.Is(err, common.ErrSessionRevoked) {
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrorNotFound
		}
		return common.ErrorInternal
	}
	return nil
}

// LogoutAllOthers revokes every session of the user except the current one,
// along with their refresh tokens. Returns the number of sessions revoked.
func (s *AuthService) LogoutAllOthers(ctx context.Context, userID, currentSessionID string) (int64, error) {
	var revoked int64
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := s.rm.RefreshTokens(tx).RevokeAllForUser(ctx, userID, currentSessionID); err != nil {
			return err
		}
		n, err := s.rm.Sessions(tx).RevokeAllForUser(ctx, userID, currentSessionID)
		if err != nil {
			return err
		}
		revoked = n
		return nil
	})
	if err != nil {
		return 0, common.ErrorInternal
	}
	return revoked, nil
}

// ExternalCallback completes an OAuth login: the code is exchanged with the
// provider before any local write, then the identity linker resolves the
// user and a session is started with authMethod = provider name.
func (s *AuthService) ExternalCallback(ctx context.Context, providerName, code string, meta ClientMeta) (*TokenPair, *models.User, error) {
	provider, ok := s.providers[providerName]
	if !ok {
		return nil, nil, fmt.Errorf("%w: unknown provider %q", common.ErrorConfiguration, providerName)
	}

	profile, err := provider.FetchProfile(ctx, code)
	if err != nil {
		s.logger.Warn(ctx, "provider exchange failed", "provider", providerName, "error", err)
		return nil, nil, common.ErrorUnauthorized
	}

	var user *models.User
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		user, err = s.identity.Resolve(ctx, tx, profile)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	pair, err := s.startSession(ctx, user.ID, providerName, meta)
	if err != nil {
		return nil, nil, err
	}
	return pair, user, nil
}

// Register creates an unverified account and mails a verification code.
// Registering an email whose previous record never verified reclaims it;
// a verified email or taken username is a conflict.
func (s *AuthService) Register(ctx context.Context, email, username, password string, meta ClientMeta) (*models.User, error) {
	if s.defaultTierID == "" {
		return nil, fmt.Errorf("%w: default tier not configured", common.ErrorConfiguration)
	}

	email = strings.ToLower(email)
	username = strings.ToLower(username)

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, common.ErrorInternal
	}

	var user *models.User
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		userRepo := s.rm.Users(tx)

		existing, err := userRepo.GetByEmail(ctx, email)
		switch {
		case err == nil:
			if existing.EmailVerified {
				return common.ErrorAlreadyExists
			}
			// Unverified leftover: reclaim the address.
			if err := userRepo.Delete(ctx, existing.ID); err != nil {
				return err
			}
		case !errors.Is(err, common.ErrorNotFound):
			return err
		}

		user, err = userRepo.Create(ctx, &models.User{
			Email:        email,
			Username:     username,
			DisplayName:  username,
			PasswordHash: passwordHash,
			TierID:       s.defaultTierID,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, common.ErrorAlreadyExists
		}
		return nil, common.ErrorInternal
	}

	s.sendVerification(ctx, user.Email, user.DisplayName)
	return user, nil
}

// VerifyEmail consumes a signup code and marks the account verified.
// Expired and unknown codes are reported identically.
func (s *AuthService) VerifyEmail(ctx context.Context, email, code string) error {
	if err := s.otp.Consume(ctx, email, code, models.OtpPurposeSignupVerify); err != nil {
		return mapOtpError(err)
	}

	user, err := s.rm.Users(s.db).GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrCodeNotFound
		}
		return common.ErrorInternal
	}
	if !user.EmailVerified {
		if err := s.rm.Users(s.db).MarkEmailVerified(ctx, user.ID); err != nil {
			return common.ErrorInternal
		}
	}

	if err := s.mailer.SendWelcome(ctx, user.Email, user.DisplayName); err != nil {
		s.logger.Warn(ctx, "welcome mail failed", "email", user.Email, "error", err)
	}
	return nil
}

// ResendVerification re-issues the signup code. The response is generic:
// whether the account exists is not revealed. Rate limiting does surface,
// with a retry hint at the boundary.
func (s *AuthService) ResendVerification(ctx context.Context, email string) error {
	user, err := s.rm.Users(s.db).GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		return common.ErrorInternal
	}
	if user.EmailVerified || user.Deleted() {
		return nil
	}

	return s.issueAndMail(ctx, user.Email, user.DisplayName, models.OtpPurposeSignupVerify)
}

// ForgotPassword issues a password-reset code. Generic like
// ResendVerification.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.rm.Users(s.db).GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		return common.ErrorInternal
	}
	if user.Deleted() || !user.IsActive {
		return nil
	}

	return s.issueAndMail(ctx, user.Email, user.DisplayName, models.OtpPurposePasswordReset)
}

// ResetPassword consumes a reset code, installs the new digest, and revokes
// every session and refresh token of the user.
func (s *AuthService) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if err := s.otp.Consume(ctx, email, code, models.OtpPurposePasswordReset); err != nil {
		return mapOtpError(err)
	}

	user, err := s.rm.Users(s.db).GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrCodeNotFound
		}
		return common.ErrorInternal
	}

	passwordHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return common.ErrorInternal
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.rm.Users(tx).UpdatePassword(ctx, user.ID, passwordHash); err != nil {
			return err
		}
		if _, err := s.rm.RefreshTokens(tx).RevokeAllForUser(ctx, user.ID, ""); err != nil {
			return err
		}
		_, err := s.rm.Sessions(tx).RevokeAllForUser(ctx, user.ID, "")
		return err
	})
	if err != nil {
		return common.ErrorInternal
	}
	return nil
}

// ChangePassword verifies the current password, installs the new digest, and
// forces re-authentication everywhere but the caller's session.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentSessionID, currentPassword, newPassword string) error {
	user, err := s.rm.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrorUnauthorized
		}
		return common.ErrorInternal
	}
	if !s.hasher.Verify(currentPassword, user.PasswordHash) {
		return common.ErrInvalidCredentials
	}

	passwordHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return common.ErrorInternal
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.rm.Users(tx).UpdatePassword(ctx, userID, passwordHash); err != nil {
			return err
		}
		if _, err := s.rm.RefreshTokens(tx).RevokeAllForUser(ctx, userID, currentSessionID); err != nil {
			return err
		}
		_, err := s.rm.Sessions(tx).RevokeAllForUser(ctx, userID, currentSessionID)
		return err
	})
	if err != nil {
		return common.ErrorInternal
	}
	return nil
}

// DeleteAccount soft-deletes the user: identity anonymized, external links
// dropped, every session and token revoked, one transaction.
func (s *AuthService) DeleteAccount(ctx context.Context, userID string) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		placeholder := "deleted-" + userID
		if err := s.rm.Users(tx).Anonymize(ctx, userID, placeholder+"@deleted.invalid", placeholder); err != nil {
			return err
		}
		if err := s.rm.ExternalLogins(tx).DeleteForUser(ctx, userID); err != nil {
			return err
		}
		if _, err := s.rm.RefreshTokens(tx).RevokeAllForUser(ctx, userID, ""); err != nil {
			return err
		}
		_, err := s.rm.Sessions(tx).RevokeAllForUser(ctx, userID, "")
		return err
	})
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrorNotFound
		}
		return common.ErrorInternal
	}
	return nil
}

// ParseAccessToken verifies an access token against the service secret.
func (s *AuthService) ParseAccessToken(tokenString string) (*auth.Claims, error) {
	return auth.ParseAccessToken(tokenString, s.jwtSecret)
}

// startSession creates a session row and its first refresh-token family,
// atomically, and mints the access token.
func (s *AuthService) startSession(ctx context.Context, userID, authMethod string, meta ClientMeta) (*TokenPair, error) {
	var pair *TokenPair
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		session, err := s.rm.Sessions(tx).Create(ctx, &models.Session{
			UserID:     userID,
			AuthMethod: authMethod,
			IPAddress:  meta.IPAddress,
			UserAgent:  meta.UserAgent,
		})
		if err != nil {
			return err
		}

		secret, err := auth.GenerateRefreshSecret()
		if err != nil {
			return err
		}

		token, err := s.rm.RefreshTokens(tx).Create(ctx, &models.RefreshToken{
			UserID:      userID,
			SessionID:   session.ID,
			TokenDigest: auth.DigestSecret(secret),
			ExpiresAt:   time.Now().Add(s.refreshTokenValidity),
		})
		if err != nil {
			return err
		}

		accessToken, err := auth.GenerateAccessToken(userID, session.ID, nil, s.jwtSecret, s.accessTokenValidity)
		if err != nil {
			return err
		}

		pair = &TokenPair{
			AccessToken:      accessToken,
			RefreshToken:     secret,
			RefreshExpiresAt: token.ExpiresAt,
		}
		return nil
	})
	if err != nil {
		return nil, common.ErrorInternal
	}
	return pair, nil
}

// sendVerification issues a signup code and mails it, fire-and-forget.
func (s *AuthService) sendVerification(ctx context.Context, email, name string) {
	if err := s.issueAndMail(ctx, email, name, models.OtpPurposeSignupVerify); err != nil {
		s.logger.Warn(ctx, "verification mail failed", "email", email, "error", err)
	}
}

// issueAndMail issues a code for purpose and dispatches the matching mail,
// addressed to name. Mail failures are logged and swallowed; the code exists
// and can be resent.
func (s *AuthService) issueAndMail(ctx context.Context, email, name, purpose string) error {
	code, err := s.otp.Issue(ctx, email, purpose)
	if err != nil {
		if errors.Is(err, common.ErrRateLimited) {
			return err
		}
		return common.ErrorInternal
	}

	minutes := s.otp.ValidityMinutes()
	switch purpose {
	case models.OtpPurposePasswordReset:
		err = s.mailer.SendPasswordResetCode(ctx, email, name, code, minutes)
	default:
		err = s.mailer.SendVerificationCode(ctx, email, name, code, minutes)
	}
	if err != nil {
		s.logger.Warn(ctx, "mail dispatch failed", "email", email, "purpose", purpose, "error", err)
	}
	return nil
}

// mapOtpError collapses expired and unknown codes into one generic signal;
// only AlreadyUsed stays distinct (a concurrent consumer won).
func mapOtpError(err error) error {
	switch {
	case errors.Is(err, common.ErrCodeAlreadyUsed):
		return common.ErrCodeAlreadyUsed
	case errors.Is(err, common.ErrCodeNotFound), errors.Is(err, common.ErrCodeExpired):
		return common.ErrCodeNotFound
	default:
		return common.ErrorInternal
	}
}
