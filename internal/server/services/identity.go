package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/linqyard/linqyard/internal/common"
	"github.com/linqyard/linqyard/internal/dbx"
	"github.com/linqyard/linqyard/internal/logging"
	"github.com/linqyard/linqyard/internal/server/auth"
	"github.com/linqyard/linqyard/internal/server/avatars"
	"github.com/linqyard/linqyard/internal/server/models"
	"github.com/linqyard/linqyard/internal/server/providers"
	"github.com/linqyard/linqyard/internal/server/repositories/repomanager"
)

// providerAvatarHosts identifies avatar URLs still pointing at a provider
// CDN. Only those are refreshed on repeat logins; a user-uploaded avatar is
// never replaced.
var providerAvatarHosts = []string{
	"googleusercontent.com",
	"githubusercontent.com",
}

const maxUsernameAttempts = 50

// IdentityService resolves a verified external profile to a local user,
// creating accounts and links as needed.
type IdentityService struct {
	rm            repomanager.RepositoryManager
	hasher        *auth.PasswordHasher
	avatarCache   avatars.Cache
	defaultTierID string
	logger        logging.Logger
}

func NewIdentityService(rm repomanager.RepositoryManager, hasher *auth.PasswordHasher,
	avatarCache avatars.Cache, defaultTierID string, logger logging.Logger) *IdentityService {
	return &IdentityService{
		rm:            rm,
		hasher:        hasher,
		avatarCache:   avatarCache,
		defaultTierID: defaultTierID,
		logger:        logger,
	}
}

// Resolve maps profile to a local user, first match wins: existing link,
// email match, new account. Runs against the caller's DBTX so the whole
// resolution can share the callback transaction.
func (s *IdentityService) Resolve(ctx context.Context, db dbx.DBTX, profile *providers.ExternalProfile) (*models.User, error) {
	linkRepo := s.rm.ExternalLogins(db)
	userRepo := s.rm.Users(db)

	// Step 1: known provider identity.
	link, err := linkRepo.GetByProviderUserID(ctx, profile.Provider, profile.ProviderUserID)
	if err == nil {
		user, err := userRepo.GetByID(ctx, link.UserID)
		if err != nil {
			return nil, common.ErrorInternal
		}
		return s.promote(ctx, db, user, profile)
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return nil, common.ErrorInternal
	}

	if profile.Email == "" {
		return nil, common.ErrNoEmailAvailable
	}

	// Step 2: same email, no link yet for this provider.
	user, err := userRepo.GetByEmail(ctx, profile.Email)
	if err == nil {
		if _, err := linkRepo.Create(ctx, s.newLink(user.ID, profile)); err != nil {
			if errors.Is(err, common.ErrorAlreadyExists) {
				// The account already carries a different identity from this
				// provider; merging would bind two provider accounts to one
				// user slot.
				return nil, common.ErrorAlreadyExists
			}
			return nil, common.ErrorInternal
		}
		return s.promote(ctx, db, user, profile)
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return nil, common.ErrorInternal
	}

	// Step 3: first login, new account.
	return s.createUser(ctx, db, profile)
}

func (s *IdentityService) newLink(userID string, profile *providers.ExternalProfile) *models.ExternalLogin {
	return &models.ExternalLogin{
		UserID:         userID,
		Provider:       profile.Provider,
		ProviderUserID: profile.ProviderUserID,
		ProviderEmail:  strings.ToLower(profile.Email),
	}
}

// promote applies the trust escalations a repeat provider login grants:
// email verification and a refreshed copy of a provider-sourced avatar.
func (s *IdentityService) promote(ctx context.Context, db dbx.DBTX, user *models.User, profile *providers.ExternalProfile) (*models.User, error) {
	userRepo := s.rm.Users(db)

	if profile.EmailVerified && !user.EmailVerified {
		if err := userRepo.MarkEmailVerified(ctx, user.ID); err != nil {
			return nil, common.ErrorInternal
		}
		user.EmailVerified = true
	}

	if profile.AvatarURL != "" && s.avatarRefreshable(user.AvatarURL) {
		if newURL := s.cacheAvatar(ctx, user.ID, profile.AvatarURL); newURL != user.AvatarURL {
			if err := userRepo.UpdateAvatar(ctx, user.ID, newURL); err != nil {
				return nil, common.ErrorInternal
			}
			user.AvatarURL = newURL
		}
	}

	return user, nil
}

// avatarRefreshable reports whether the stored avatar may be overwritten:
// empty, or still hosted on a provider CDN.
func (s *IdentityService) avatarRefreshable(avatarURL string) bool {
	if avatarURL == "" {
		return true
	}
	u, err := url.Parse(avatarURL)
	if err != nil {
		return false
	}
	for _, host := range providerAvatarHosts {
		if u.Host == host || strings.HasSuffix(u.Host, "."+host) {
			return true
		}
	}
	return false
}

// cacheAvatar copies the provider image into our storage. Failure is not
// fatal; the hotlinked provider URL is used instead.
func (s *IdentityService) cacheAvatar(ctx context.Context, userID, srcURL string) string {
	if s.avatarCache == nil {
		return srcURL
	}
	cached, err := s.avatarCache.Store(ctx, userID, srcURL)
	if err != nil {
		s.logger.Warn(ctx, "avatar caching failed", "userID", userID, "error", err)
		return srcURL
	}
	return cached
}

func (s *IdentityService) createUser(ctx context.Context, db dbx.DBTX, profile *providers.ExternalProfile) (*models.User, error) {
	if s.defaultTierID == "" {
		return nil, fmt.Errorf("%w: default tier not configured", common.ErrorConfiguration)
	}

	userRepo := s.rm.Users(db)

	username, err := s.deriveUsername(ctx, db, profile)
	if err != nil {
		return nil, err
	}

	passwordHash, err := s.hasher.UnusablePassword()
	if err != nil {
		return nil, common.ErrorInternal
	}

	user := &models.User{
		ID:            uuid.NewString(),
		Email:         strings.ToLower(profile.Email),
		Username:      username,
		DisplayName:   profile.DisplayName,
		PasswordHash:  passwordHash,
		TierID:        s.defaultTierID,
		EmailVerified: profile.EmailVerified,
	}
	user.AvatarURL = s.cacheAvatar(ctx, user.ID, profile.AvatarURL)

	user, err = userRepo.Create(ctx, user)
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, common.ErrorAlreadyExists
		}
		return nil, common.ErrorInternal
	}

	if _, err := s.rm.ExternalLogins(db).Create(ctx, s.newLink(user.ID, profile)); err != nil {
		return nil, common.ErrorInternal
	}

	return user, nil
}

// deriveUsername slugs the provider display name (falling back to the email
// local part) and resolves collisions with numeric suffixes: name, name1,
// name2, ... After maxUsernameAttempts a random suffix is used.
func (s *IdentityService) deriveUsername(ctx context.Context, db dbx.DBTX, profile *providers.ExternalProfile) (string, error) {
	base := usernameSlug(profile.DisplayName)
	if base == "" {
		local, _, _ := strings.Cut(profile.Email, "@")
		base = usernameSlug(local)
	}
	if base == "" {
		base = "user"
	}

	userRepo := s.rm.Users(db)
	for i := 0; i < maxUsernameAttempts; i++ {
		candidate := base
		if i > 0 {
			candidate = fmt.Sprintf("%s%d", base, i)
		}
		taken, err := userRepo.UsernameTaken(ctx, candidate)
		if err != nil {
			return "", common.ErrorInternal
		}
		if !taken {
			return candidate, nil
		}
	}

	return fmt.Sprintf("%s-%s", base, uuid.NewString()[:8]), nil
}

// usernameSlug lowercases s and strips everything but letters and digits.
func usernameSlug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
