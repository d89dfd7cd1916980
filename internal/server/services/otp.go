package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/linqyard/linqyard/internal/common"
	"github.com/linqyard/linqyard/internal/server/auth"
	"github.com/linqyard/linqyard/internal/server/models"
	"github.com/linqyard/linqyard/internal/server/repositories/repomanager"
)

const otpDigits = 6

// RateLimiter gates OTP issuance per email. The duration is the wait until
// the next attempt may succeed, zero when allowed.
type RateLimiter interface {
	Allow(key string) (bool, time.Duration)
}

// OtpService issues and consumes single-use proof codes. Codes are stored as
// digests; the plaintext exists only in the returned value, for out-of-band
// delivery.
type OtpService struct {
	db       *sql.DB
	rm       repomanager.RepositoryManager
	limiter  RateLimiter
	validity time.Duration

	// now is a seam for testing.
	now func() time.Time
}

func NewOtpService(db *sql.DB, rm repomanager.RepositoryManager, limiter RateLimiter, validity time.Duration) *OtpService {
	return &OtpService{
		db:       db,
		rm:       rm,
		limiter:  limiter,
		validity: validity,
		now:      time.Now,
	}
}

// generateCode is a seam for testing.
var generateCode = func() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < otpDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", otpDigits, n), nil
}

// Issue creates a fresh code for (email, purpose), replacing any outstanding
// one, and returns the plaintext. Returns common.ErrRateLimited when the
// email exceeded its issuance allowance.
func (s *OtpService) Issue(ctx context.Context, email, purpose string) (string, error) {
	email = strings.ToLower(email)

	if s.limiter != nil {
		if ok, retryAfter := s.limiter.Allow("otp:" + purpose + ":" + email); !ok {
			return "", &common.RateLimitError{RetryAfter: retryAfter}
		}
	}

	code, err := generateCode()
	if err != nil {
		return "", common.ErrorInternal
	}

	repo := s.rm.OtpCodes(s.db)
	if err := repo.DeleteForEmail(ctx, email, purpose); err != nil {
		return "", common.ErrorInternal
	}

	_, err = repo.Create(ctx, &models.OtpCode{
		Email:      email,
		CodeDigest: auth.DigestSecret(code),
		Purpose:    purpose,
		ExpiresAt:  s.now().Add(s.validity),
	})
	if err != nil {
		return "", common.ErrorInternal
	}

	return code, nil
}

// Consume validates code against the latest outstanding one for
// (email, purpose) and marks it used. At most one concurrent caller
// succeeds; the loser gets common.ErrCodeAlreadyUsed.
func (s *OtpService) Consume(ctx context.Context, email, code, purpose string) error {
	repo := s.rm.OtpCodes(s.db)

	latest, err := repo.GetLatest(ctx, email, purpose)
	if err != nil {
		if errors.Is(err, common.ErrCodeNotFound) {
			return err
		}
		return common.ErrorInternal
	}

	digest := auth.DigestSecret(code)
	if subtle.ConstantTimeCompare([]byte(digest), []byte(latest.CodeDigest)) != 1 {
		return common.ErrCodeNotFound
	}
	// Expiry is inclusive: a code is dead at its expiry instant.
	if !s.now().Before(latest.ExpiresAt) {
		return common.ErrCodeExpired
	}
	if latest.ConsumedAt != nil {
		return common.ErrCodeAlreadyUsed
	}

	if err := repo.Consume(ctx, latest.ID); err != nil {
		if errors.Is(err, common.ErrCodeAlreadyUsed) {
			return err
		}
		return common.ErrorInternal
	}
	return nil
}

// ValidityMinutes reports the configured code lifetime in whole minutes, for
// inclusion in outbound mail.
func (s *OtpService) ValidityMinutes() int {
	return int(s.validity.Minutes())
}
