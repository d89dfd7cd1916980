package services

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/linqyard/linqyard/internal/common"
	"github.com/linqyard/linqyard/internal/dbx"
	"github.com/linqyard/linqyard/internal/logging"
	"github.com/linqyard/linqyard/internal/server/models"
	"github.com/linqyard/linqyard/internal/server/providers"
	externalloginsrepo "github.com/linqyard/linqyard/internal/server/repositories/externallogins"
	otpcodesrepo "github.com/linqyard/linqyard/internal/server/repositories/otpcodes"
	refreshtokensrepo "github.com/linqyard/linqyard/internal/server/repositories/refreshtokens"
	sessionsrepo "github.com/linqyard/linqyard/internal/server/repositories/sessions"
	usersrepo "github.com/linqyard/linqyard/internal/server/repositories/users"
)

// --- helpers ---

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return db, mock
}

// expectTx queues n successful transactions on the mock.
func expectTx(mock sqlmock.Sqlmock, n int) {
	for i := 0; i < n; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
	}
}

// expectTxRollback queues one transaction that rolls back.
func expectTxRollback(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectRollback()
}

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...any) {}
func (nopLogger) Info(context.Context, string, ...any)  {}
func (nopLogger) Warn(context.Context, string, ...any)  {}
func (nopLogger) Error(context.Context, string, ...any) {}
func (l nopLogger) With(...any) logging.Logger          { return l }

// --- stateful in-memory repositories ---

type fakeUsersRepo struct {
	mu    sync.Mutex
	users map[string]*models.User
	errOn map[string]error
}

func newFakeUsersRepo() *fakeUsersRepo {
	return &fakeUsersRepo{users: map[string]*models.User{}, errOn: map[string]error{}}
}

func (f *fakeUsersRepo) add(u *models.User) *models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = strings.ToLower(u.Email)
	u.Username = strings.ToLower(u.Username)
	u.IsActive = true
	cp := *u
	f.users[u.ID] = &cp
	return u
}

func (f *fakeUsersRepo) Create(ctx context.Context, u *models.User) (*models.User, error) {
	if err := f.errOn["Create"]; err != nil {
		return nil, err
	}
	f.mu.Lock()
	for _, existing := range f.users {
		if existing.Email == strings.ToLower(u.Email) || existing.Username == strings.ToLower(u.Username) {
			f.mu.Unlock()
			return nil, common.ErrorAlreadyExists
		}
	}
	f.mu.Unlock()
	return f.add(u), nil
}

func (f *fakeUsersRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsersRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == strings.ToLower(email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsersRepo) GetByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := strings.ToLower(identifier)
	for _, u := range f.users {
		if u.Email == id || u.Username == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeUsersRepo) UsernameTaken(ctx context.Context, username string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == strings.ToLower(username) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeUsersRepo) UpdatePassword(ctx context.Context, id string, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (f *fakeUsersRepo) MarkEmailVerified(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.EmailVerified = true
	return nil
}

func (f *fakeUsersRepo) UpdateAvatar(ctx context.Context, id string, avatarURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.AvatarURL = avatarURL
	return nil
}

func (f *fakeUsersRepo) Anonymize(ctx context.Context, id string, placeholderEmail, placeholderUsername string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok || u.DeletedAt != nil {
		return common.ErrorNotFound
	}
	now := time.Now()
	u.Email = placeholderEmail
	u.Username = placeholderUsername
	u.PasswordHash = ""
	u.IsActive = false
	u.DeletedAt = &now
	return nil
}

func (f *fakeUsersRepo) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[id]; !ok {
		return common.ErrorNotFound
	}
	delete(f.users, id)
	return nil
}

type fakeSessionsRepo struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
}

func newFakeSessionsRepo() *fakeSessionsRepo {
	return &fakeSessionsRepo{sessions: map[string]*models.Session{}}
}

func (f *fakeSessionsRepo) Create(ctx context.Context, s *models.Session) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.CreatedAt = time.Now()
	s.LastSeenAt = s.CreatedAt
	cp := *s
	f.sessions[s.ID] = &cp
	return s, nil
}

func (f *fakeSessionsRepo) GetByID(ctx context.Context, id string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, common.ErrorNotFound
}

func (f *fakeSessionsRepo) Touch(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok && s.RevokedAt == nil {
		s.LastSeenAt = time.Now()
	}
	return nil
}

func (f *fakeSessionsRepo) Revoke(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return common.ErrorNotFound
	}
	if s.RevokedAt != nil {
		return common.ErrSessionRevoked
	}
	now := time.Now()
	s.RevokedAt = &now
	return nil
}

func (f *fakeSessionsRepo) RevokeAllForUser(ctx context.Context, userID, exceptSessionID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	now := time.Now()
	for _, s := range f.sessions {
		if s.UserID == userID && s.RevokedAt == nil && s.ID != exceptSessionID {
			s.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

func (f *fakeSessionsRepo) ListActive(ctx context.Context, userID string) ([]models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []models.Session
	for _, s := range f.sessions {
		if s.UserID == userID && s.RevokedAt == nil {
			result = append(result, *s)
		}
	}
	return result, nil
}

type fakeRefreshRepo struct {
	mu     sync.Mutex
	tokens map[string]*models.RefreshToken
}

func newFakeRefreshRepo() *fakeRefreshRepo {
	return &fakeRefreshRepo{tokens: map[string]*models.RefreshToken{}}
}

func (f *fakeRefreshRepo) Create(ctx context.Context, t *models.RefreshToken) (*models.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.FamilyID == "" {
		t.FamilyID = uuid.NewString()
	}
	t.IssuedAt = time.Now()
	cp := *t
	f.tokens[t.ID] = &cp
	return t, nil
}

func (f *fakeRefreshRepo) GetByDigest(ctx context.Context, digest string) (*models.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tokens {
		if t.TokenDigest == digest {
			cp := *t
			return &cp, nil
		}
	}
	return nil, common.ErrRefreshTokenNotFound
}

func (f *fakeRefreshRepo) Rotate(ctx context.Context, id, replacedByID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tokens[id]
	if !ok || t.RevokedAt != nil {
		return common.ErrRefreshTokenRevoked
	}
	now := time.Now()
	t.RevokedAt = &now
	t.ReplacedByID = &replacedByID
	return nil
}

func (f *fakeRefreshRepo) Revoke(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tokens[id]; ok && t.RevokedAt == nil {
		now := time.Now()
		t.RevokedAt = &now
	}
	return nil
}

func (f *fakeRefreshRepo) RevokeFamily(ctx context.Context, familyID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	now := time.Now()
	for _, t := range f.tokens {
		if t.FamilyID == familyID && t.RevokedAt == nil {
			t.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

func (f *fakeRefreshRepo) RevokeBySession(ctx context.Context, sessionID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	now := time.Now()
	for _, t := range f.tokens {
		if t.SessionID == sessionID && t.RevokedAt == nil {
			t.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

func (f *fakeRefreshRepo) RevokeAllForUser(ctx context.Context, userID, exceptSessionID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	now := time.Now()
	for _, t := range f.tokens {
		if t.UserID == userID && t.RevokedAt == nil && t.SessionID != exceptSessionID {
			t.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

// activeInFamily counts non-revoked tokens in a family.
func (f *fakeRefreshRepo) activeInFamily(familyID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.tokens {
		if t.FamilyID == familyID && t.RevokedAt == nil {
			n++
		}
	}
	return n
}

type fakeExternalsRepo struct {
	mu    sync.Mutex
	links map[string]*models.ExternalLogin
}

func newFakeExternalsRepo() *fakeExternalsRepo {
	return &fakeExternalsRepo{links: map[string]*models.ExternalLogin{}}
}

func (f *fakeExternalsRepo) Create(ctx context.Context, l *models.ExternalLogin) (*models.ExternalLogin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.links {
		if existing.Provider == l.Provider && existing.ProviderUserID == l.ProviderUserID {
			return nil, common.ErrorAlreadyExists
		}
		if existing.Provider == l.Provider && existing.UserID == l.UserID {
			return nil, common.ErrorAlreadyExists
		}
	}
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	l.LinkedAt = time.Now()
	cp := *l
	f.links[l.ID] = &cp
	return l, nil
}

func (f *fakeExternalsRepo) GetByProviderUserID(ctx context.Context, provider, providerUserID string) (*models.ExternalLogin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.links {
		if l.Provider == provider && l.ProviderUserID == providerUserID {
			cp := *l
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeExternalsRepo) ListForUser(ctx context.Context, userID string) ([]models.ExternalLogin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []models.ExternalLogin
	for _, l := range f.links {
		if l.UserID == userID {
			result = append(result, *l)
		}
	}
	return result, nil
}

func (f *fakeExternalsRepo) DeleteForUser(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, l := range f.links {
		if l.UserID == userID {
			delete(f.links, id)
		}
	}
	return nil
}

type fakeOtpRepo struct {
	mu    sync.Mutex
	codes map[string]*models.OtpCode
}

func newFakeOtpRepo() *fakeOtpRepo {
	return &fakeOtpRepo{codes: map[string]*models.OtpCode{}}
}

func (f *fakeOtpRepo) Create(ctx context.Context, c *models.OtpCode) (*models.OtpCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.Email = strings.ToLower(c.Email)
	c.CreatedAt = time.Now()
	cp := *c
	f.codes[c.ID] = &cp
	return c, nil
}

func (f *fakeOtpRepo) GetLatest(ctx context.Context, email, purpose string) (*models.OtpCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *models.OtpCode
	for _, c := range f.codes {
		if c.Email == strings.ToLower(email) && c.Purpose == purpose {
			if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
				latest = c
			}
		}
	}
	if latest == nil {
		return nil, common.ErrCodeNotFound
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeOtpRepo) Consume(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.codes[id]
	if !ok || c.ConsumedAt != nil {
		return common.ErrCodeAlreadyUsed
	}
	now := time.Now()
	c.ConsumedAt = &now
	return nil
}

func (f *fakeOtpRepo) DeleteForEmail(ctx context.Context, email, purpose string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, c := range f.codes {
		if c.Email == strings.ToLower(email) && c.Purpose == purpose {
			delete(f.codes, id)
		}
	}
	return nil
}

// --- manager over the fakes ---

type fakeRepoManager struct {
	u *fakeUsersRepo
	s *fakeSessionsRepo
	r *fakeRefreshRepo
	e *fakeExternalsRepo
	o *fakeOtpRepo
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		u: newFakeUsersRepo(),
		s: newFakeSessionsRepo(),
		r: newFakeRefreshRepo(),
		e: newFakeExternalsRepo(),
		o: newFakeOtpRepo(),
	}
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Users(db dbx.DBTX) usersrepo.Repository       { return m.u }
func (m *fakeRepoManager) Sessions(db dbx.DBTX) sessionsrepo.Repository { return m.s }
func (m *fakeRepoManager) RefreshTokens(db dbx.DBTX) refreshtokensrepo.Repository {
	return m.r
}
func (m *fakeRepoManager) ExternalLogins(db dbx.DBTX) externalloginsrepo.Repository {
	return m.e
}
func (m *fakeRepoManager) OtpCodes(db dbx.DBTX) otpcodesrepo.Repository { return m.o }

// --- collaborator fakes ---

type fakeMailer struct {
	mu            sync.Mutex
	verifications []string
	resets        []string
	welcomes      []string
	names         []string
	failAll       bool
}

func (f *fakeMailer) SendVerificationCode(ctx context.Context, to, name, code string, expiresInMinutes int) error {
	if f.failAll {
		return errAssert
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifications = append(f.verifications, to+":"+code)
	f.names = append(f.names, name)
	return nil
}

func (f *fakeMailer) SendPasswordResetCode(ctx context.Context, to, name, code string, expiresInMinutes int) error {
	if f.failAll {
		return errAssert
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, to+":"+code)
	f.names = append(f.names, name)
	return nil
}

func (f *fakeMailer) SendWelcome(ctx context.Context, to, displayName string) error {
	if f.failAll {
		return errAssert
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.welcomes = append(f.welcomes, to)
	return nil
}

var errAssert = &assertError{}

type assertError struct{}

func (*assertError) Error() string { return "forced failure" }

type fakeProvider struct {
	name    string
	profile *providers.ExternalProfile
	err     error
}

func (p *fakeProvider) Name() string { return p.name }
func (p *fakeProvider) AuthURL(state string) string {
	return "https://provider.test/auth?state=" + state
}
func (p *fakeProvider) FetchProfile(ctx context.Context, code string) (*providers.ExternalProfile, error) {
	if p.err != nil {
		return nil, p.err
	}
	cp := *p.profile
	return &cp, nil
}

type allowAllLimiter struct{}

func (allowAllLimiter) Allow(string) (bool, time.Duration) { return true, 0 }

type denyAllLimiter struct{}

func (denyAllLimiter) Allow(string) (bool, time.Duration) { return false, 30 * time.Minute }
