package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/background"
	"github.com/BradenHooton/warden/internal/config"
	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/handlers"
	middlewareCustom "github.com/BradenHooton/warden/internal/middleware"
	"github.com/BradenHooton/warden/internal/oauth"
	"github.com/BradenHooton/warden/internal/ratelimit"
	"github.com/BradenHooton/warden/internal/repositories"
	"github.com/BradenHooton/warden/internal/routes"
	"github.com/BradenHooton/warden/internal/services"
	"github.com/BradenHooton/warden/internal/session"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("rate_limit_backend", cfg.Auth.RateLimitBackend),
		slog.Any("oauth_providers", providerNames(cfg.OAuth.Providers)))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		sqlDB := stdlib.OpenDBFromPool(db.Pool)
		migrateCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err := database.Migrate(migrateCtx, sqlDB)
		cancel()
		_ = sqlDB.Close()
		if err != nil {
			logger.Error("failed to apply migrations", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("database migrations applied")
	}

	// Initialize Redis (sessions and, by default, attempt counters)
	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.Timeout,
		ReadTimeout:  cfg.Redis.Timeout,
		WriteTimeout: cfg.Redis.Timeout,
	})
	defer redisClient.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = redisClient.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		logger.Error("failed to connect to redis", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize repositories
	accountRepo := repositories.NewAccountRepository(db)
	magicLinkRepo := repositories.NewMagicLinkRepository(db)
	verificationRepo := repositories.NewEmailVerificationRepository(db)
	resetRepo := repositories.NewPasswordResetRepository(db)
	rateLimitRepo := repositories.NewRateLimitRepository(db)
	securityEventRepo := repositories.NewSecurityEventRepository(db, cfg.Auth.SecurityEventRetention)

	var limiter services.RateLimiter = ratelimit.NewRedisLimiter(redisClient)
	if cfg.Auth.RateLimitBackend == "postgres" {
		limiter = rateLimitRepo
	}

	// Sessions
	sessionManager := session.NewManager(session.NewRedisStore(redisClient, "warden:session"), cfg.Session.IdleTTL, cfg.Session.RememberTTL)
	sessionCookie := auth.CookieConfig{
		Name:     cfg.Session.CookieName,
		Secure:   cfg.Session.Secure,
		SameSite: "lax",
	}
	stateCookie := auth.CookieConfig{
		Name:     cfg.Session.CookieName + "_oauth_state",
		Secure:   cfg.Session.Secure,
		SameSite: "lax",
	}
	cookies := handlers.NewSessionCookies(sessionCookie, sessionManager)

	// Security primitives
	secretBox, err := auth.NewSecretBox(cfg.TwoFactor.EncryptionKey)
	if err != nil {
		logger.Error("failed to initialize secret box", slog.Any("error", err))
		os.Exit(1)
	}
	hasher := pkgauth.NewPasswordHasher(cfg.Auth.BcryptCost)
	totpManager := auth.NewTOTPManager(cfg.TwoFactor.Issuer)
	stateSigner := auth.NewStateSigner(cfg.OAuth.StateSecret, cfg.OAuth.StateTTL)
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs: cfg.Auth.TimingDelayRandomMs,
	})
	audit := services.NewAuditService(pkglogger.NewAuditLogger(logger), securityEventRepo, logger)

	loginThrottle := services.NewThrottle(limiter, cfg.Auth.LoginMaxAttempts, cfg.Auth.LoginDecay)
	secondFactorThrottle := services.NewThrottle(limiter, cfg.Auth.SecondFactorMaxAttempts, cfg.Auth.SecondFactorDecay)
	verificationThrottle := services.NewThrottle(limiter, cfg.Auth.VerificationMaxAttempts, cfg.Auth.VerificationDecay)
	resetThrottle := services.NewThrottle(limiter, cfg.Auth.ResetMaxAttempts, cfg.Auth.ResetDecay)

	var breach services.BreachChecker = services.DisabledBreachChecker{}
	if cfg.Breach.Enabled {
		breach = services.NewHIBPBreachChecker(cfg.Breach.BaseURL, cfg.Breach.Timeout, logger)
	}

	// Email delivery
	var sender services.EmailSender
	switch cfg.Email.Driver {
	case "ses":
		sesCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		sender, err = services.NewAWSSESEmailSender(sesCtx, cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
		cancel()
		if err != nil {
			logger.Error("failed to initialize email service", slog.Any("error", err))
			os.Exit(1)
		}
	default:
		sender = services.NewLogEmailSender(logger, cfg.Server.Env)
	}
	mailQueue := services.NewMailQueue(sender, 15*time.Second, logger)

	// Initialize services
	passwordVerifier := services.NewPasswordVerifier(accountRepo, hasher, loginThrottle, timingDelay, audit, logger)
	magicLinks := services.NewMagicLinkService(magicLinkRepo, accountRepo, mailQueue, timingDelay, cfg.Server.BaseURL, cfg.MagicLink.TTL, logger)
	vault := services.NewRecoveryCodeVault(accountRepo, logger)
	linker := services.NewFederatedLinker(accountRepo, hasher, secretBox, logger)
	orchestrator := services.NewAuthOrchestrator(
		accountRepo,
		sessionManager,
		totpManager,
		vault,
		secretBox,
		hasher,
		secondFactorThrottle,
		audit,
		cfg.TwoFactor.ChallengeTTL,
		logger,
	)
	verification := services.NewEmailVerificationService(
		verificationRepo,
		accountRepo,
		mailQueue,
		verificationThrottle,
		cfg.Server.BaseURL,
		cfg.Auth.VerificationTokenTTL,
		logger,
	)
	accounts := services.NewAccountService(
		accountRepo,
		hasher,
		breach,
		cfg.Breach.Threshold,
		secondFactorThrottle,
		verification,
		sessionManager,
		audit,
		audit,
		logger,
	)
	passwordResets := services.NewPasswordResetService(
		resetRepo,
		accountRepo,
		hasher,
		breach,
		cfg.Breach.Threshold,
		sessionManager,
		mailQueue,
		resetThrottle,
		timingDelay,
		audit,
		cfg.Server.BaseURL,
		cfg.Auth.ResetTokenTTL,
		logger,
	)
	providers := oauth.NewRegistry(cfg.OAuth.Providers, cfg.OAuth.Timeout, logger)

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	h := routes.Handlers{
		Auth:      handlers.NewAuthHandler(passwordVerifier, orchestrator, accounts, audit, cookies, ipConfig, logger),
		MagicLink: handlers.NewMagicLinkHandler(magicLinks, orchestrator, audit, cookies, ipConfig, logger),
		OAuth: handlers.NewOAuthHandler(
			providers,
			linker,
			stateSigner,
			orchestrator,
			audit,
			cookies,
			stateCookie,
			cfg.OAuth.StateTTL,
			ipConfig,
			logger,
		),
		TwoFactor: handlers.NewTwoFactorHandler(orchestrator, ipConfig, logger),
		Account:   handlers.NewAccountHandler(accounts, verification, cookies, ipConfig, logger),
		Reset:     handlers.NewPasswordResetHandler(passwordResets, ipConfig, logger),
		Health: handlers.NewHealthHandler(map[string]handlers.HealthCheck{
			"database": db.HealthCheck,
			"redis": func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		}, 2*time.Second),
	}

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(
		router,
		h,
		sessionManager,
		sessionCookie,
		middlewareCustom.DefaultAuthRateLimit(cfg.Auth.RequestsPerMinutePerIP, ipConfig),
		logger,
	)

	// Expired rows are only deleted from Postgres; Redis counters expire on their own
	cleanupTasks := []background.CleanupTask{
		{Name: "magic_links", Cleaner: magicLinkRepo},
		{Name: "email_verification_tokens", Cleaner: verificationRepo},
		{Name: "password_reset_tokens", Cleaner: resetRepo},
		{Name: "security_events", Cleaner: securityEventRepo},
	}
	if cfg.Auth.RateLimitBackend == "postgres" {
		cleanupTasks = append(cleanupTasks, background.CleanupTask{Name: "rate_limit_counters", Cleaner: rateLimitRepo})
	}
	cleanupManager := background.NewCleanupManager(cleanupTasks, logger, cfg.Auth.CleanupInterval)

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	// Let queued emails (magic links, verification links) finish sending
	mailQueue.Wait()

	logger.Info("server stopped gracefully")
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func providerNames(providers map[string]config.OAuthProviderConfig) []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	return names
}
