// Package server assembles and runs the auth server: configuration, database,
// migrations, services, and the HTTP endpoint, with graceful shutdown on
// SIGINT/SIGTERM.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/linqyard/linqyard/internal/logging"
	"github.com/linqyard/linqyard/internal/server/auth"
	"github.com/linqyard/linqyard/internal/server/avatars"
	"github.com/linqyard/linqyard/internal/server/config"
	"github.com/linqyard/linqyard/internal/server/httpapi"
	"github.com/linqyard/linqyard/internal/server/mail"
	"github.com/linqyard/linqyard/internal/server/models"
	"github.com/linqyard/linqyard/internal/server/providers"
	"github.com/linqyard/linqyard/internal/server/ratelimit"
	"github.com/linqyard/linqyard/internal/server/repositories/repomanager"
	"github.com/linqyard/linqyard/internal/server/services"
)

const limiterCleanupInterval = 10 * time.Minute

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB

	httpServer   *httpapi.Server
	otpLimiter   *ratelimit.Limiter
	loginLimiter *ratelimit.Limiter
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout)

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	hasher := auth.NewPasswordHasher(cfg.BcryptCost)
	otpLimiter := ratelimit.NewLimiter(time.Hour, cfg.OtpPerEmailPerHour)
	loginLimiter := ratelimit.NewLimiter(time.Minute, cfg.LoginPerIPPerMinute)

	mailer := buildMailer(cfg, logger)
	avatarCache := buildAvatarCache(cfg)
	provs := buildProviders(cfg)

	otpService := services.NewOtpService(db, rm, otpLimiter, cfg.OtpValidity)
	identityService := services.NewIdentityService(rm, hasher, avatarCache, cfg.DefaultTierID, logger)
	authService := services.NewAuthService(db, rm, hasher, otpService, identityService, mailer, provs, cfg, logger)
	sessionService := services.NewSessionService(db, rm)

	httpServer := httpapi.NewServer(cfg, authService, sessionService, loginLimiter, logger)

	return &App{
		config:       cfg,
		logger:       logger,
		db:           db,
		httpServer:   httpServer,
		otpLimiter:   otpLimiter,
		loginLimiter: loginLimiter,
	}, nil
}

// buildMailer picks SMTP when configured, otherwise the log-only mailer so
// development setups work without a relay.
func buildMailer(cfg *config.Config, logger logging.Logger) mail.Mailer {
	smtpCfg := mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	}
	if err := smtpCfg.Validate(); err != nil {
		return mail.NewLoggingMailer(logger)
	}
	return mail.NewSMTPMailer(smtpCfg)
}

// buildAvatarCache returns nil when no bucket is configured; the identity
// service then hotlinks provider avatars.
func buildAvatarCache(cfg *config.Config) avatars.Cache {
	if cfg.S3Bucket == "" {
		return nil
	}
	return avatars.NewS3Cache(avatars.S3Config{
		Region:        cfg.S3Region,
		BaseEndpoint:  cfg.S3BaseEndpoint,
		Bucket:        cfg.S3Bucket,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		PublicBaseURL: cfg.S3PublicBaseURL,
	})
}

// buildProviders registers every OAuth provider with complete credentials.
func buildProviders(cfg *config.Config) map[string]providers.Provider {
	provs := map[string]providers.Provider{}
	if cfg.GoogleClientID != "" && cfg.GoogleClientSecret != "" {
		provs[models.AuthMethodGoogle] = providers.NewGoogleProvider(
			cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleCallbackURL)
	}
	if cfg.GitHubClientID != "" && cfg.GitHubClientSecret != "" {
		provs[models.AuthMethodGitHub] = providers.NewGitHubProvider(
			cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.GitHubCallbackURL)
	}
	return provs
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// limiterJanitor prunes the rate limiters until ctx is cancelled.
func (app *App) limiterJanitor(ctx context.Context) {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			app.otpLimiter.Cleanup()
			app.loginLimiter.Cleanup()
		}
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.limiterJanitor(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.httpServer.Run(ctx); err != nil {
			app.logger.Error(ctx, err.Error())
			cancelFunc()
		}
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err)
	}
	app.logger.Info(ctx, "App stopped")
}
