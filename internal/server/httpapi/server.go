// Package httpapi exposes the auth service over HTTP: JSON handlers, JWT
// middleware, and refresh-token cookie handling on a chi router.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/linqyard/linqyard/internal/logging"
	"github.com/linqyard/linqyard/internal/server/auth"
	"github.com/linqyard/linqyard/internal/server/config"
	"github.com/linqyard/linqyard/internal/server/models"
	"github.com/linqyard/linqyard/internal/server/providers"
	"github.com/linqyard/linqyard/internal/server/services"
)

const shutdownTimeout = 10 * time.Second

// authService is the slice of the auth service the HTTP layer consumes.
type authService interface {
	Register(ctx context.Context, email, username, password string, meta services.ClientMeta) (*models.User, error)
	VerifyEmail(ctx context.Context, email, code string) error
	ResendVerification(ctx context.Context, email string) error
	Login(ctx context.Context, identifier, password string, meta services.ClientMeta) (*services.TokenPair, *models.User, error)
	Refresh(ctx context.Context, secret string) (*services.TokenPair, error)
	Logout(ctx context.Context, secret, currentSessionID string) error
	LogoutAllOthers(ctx context.Context, userID, currentSessionID string) (int64, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, email, code, newPassword string) error
	ChangePassword(ctx context.Context, userID, currentSessionID, currentPassword, newPassword string) error
	DeleteAccount(ctx context.Context, userID string) error
	ExternalCallback(ctx context.Context, providerName, code string, meta services.ClientMeta) (*services.TokenPair, *models.User, error)
	Provider(name string) (providers.Provider, bool)
	ParseAccessToken(tokenString string) (*auth.Claims, error)
}

type sessionService interface {
	List(ctx context.Context, userID, currentSessionID string) ([]services.SessionInfo, error)
	Touch(ctx context.Context, sessionID string) error
}

// RateLimiter gates login attempts per client IP. The duration is the wait
// until the next attempt may succeed, zero when allowed.
type RateLimiter interface {
	Allow(key string) (bool, time.Duration)
}

// Server is the HTTP front of the auth subsystem.
type Server struct {
	address         string
	auth            authService
	sessions        sessionService
	loginLimiter    RateLimiter
	logger          logging.Logger
	frontendBaseURL string
	secureCookies   bool
	accessValidity  time.Duration
}

func NewServer(cfg *config.Config, as *services.AuthService, ss *services.SessionService,
	loginLimiter RateLimiter, logger logging.Logger) *Server {
	return &Server{
		address:         cfg.EndpointAddrHTTP,
		auth:            as,
		sessions:        ss,
		loginLimiter:    loginLimiter,
		logger:          logger.With("module", "http_server"),
		frontendBaseURL: strings.TrimRight(cfg.FrontendBaseURL, "/"),
		secureCookies:   strings.HasPrefix(cfg.FrontendBaseURL, "https://"),
		accessValidity:  cfg.AccessTokenValidity,
	}
}

// Router assembles the route table. Split out from Run so tests can drive the
// handlers through httptest.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/verify-email", s.handleVerifyEmail)
		r.Post("/resend-verification", s.handleResendVerification)
		r.Post("/login", s.handleLogin)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/logout", s.handleLogout)
		r.Post("/forgot-password", s.handleForgotPassword)
		r.Post("/reset-password", s.handleResetPassword)

		r.Get("/{provider}/start", s.handleOAuthStart)
		r.Get("/{provider}/callback", s.handleOAuthCallback)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Post("/logout-others", s.handleLogoutOthers)
			r.Post("/change-password", s.handleChangePassword)
			r.Delete("/account", s.handleDeleteAccount)
			r.Get("/sessions", s.handleListSessions)
		})
	})

	return r
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.address,
		Handler: s.Router(),
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "shutdown error", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
