//go:build integration

package integration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/repositories"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
)

// TestDB manages the PostgreSQL testcontainer and the pool the repositories use
type TestDB struct {
	Container  testcontainers.Container
	ConnString string
	Pool       *pgxpool.Pool
	DB         *database.DB
}

// Repositories bundles every Postgres-backed store
type Repositories struct {
	Accounts       *repositories.AccountRepository
	MagicLinks     *repositories.MagicLinkRepository
	Verification   *repositories.EmailVerificationRepository
	PasswordResets *repositories.PasswordResetRepository
	RateLimits     *repositories.RateLimitRepository
	SecurityEvents *repositories.SecurityEventRepository
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// SetupTestDatabase starts PostgreSQL, applies the embedded migrations and
// returns a ready TestDB
func SetupTestDatabase(ctx context.Context) (*TestDB, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("warden"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	err = database.Migrate(ctx, sqlDB)
	_ = sqlDB.Close()
	if err != nil {
		pool.Close()
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &TestDB{
		Container:  container,
		ConnString: connStr,
		Pool:       pool,
		DB:         database.FromPool(pool, discardLogger()),
	}, nil
}

// Teardown closes the pool and stops the container
func (db *TestDB) Teardown(ctx context.Context) error {
	if db.Pool != nil {
		db.Pool.Close()
	}
	if db.Container != nil {
		return db.Container.Terminate(ctx)
	}
	return nil
}

// CleanupTables truncates every table for test isolation
func (db *TestDB) CleanupTables(ctx context.Context) error {
	_, err := db.Pool.Exec(ctx, `
		TRUNCATE TABLE email_verification_tokens, password_reset_tokens, magic_links, rate_limit_counters, security_events, accounts CASCADE
	`)
	if err != nil {
		return fmt.Errorf("failed to truncate tables: %w", err)
	}
	return nil
}

// Repositories builds every repository over the test database
func (db *TestDB) Repositories() Repositories {
	return Repositories{
		Accounts:       repositories.NewAccountRepository(db.DB),
		MagicLinks:     repositories.NewMagicLinkRepository(db.DB),
		Verification:   repositories.NewEmailVerificationRepository(db.DB),
		PasswordResets: repositories.NewPasswordResetRepository(db.DB),
		RateLimits:     repositories.NewRateLimitRepository(db.DB),
		SecurityEvents: repositories.NewSecurityEventRepository(db.DB, 90*24*time.Hour),
	}
}

// SeedAccount inserts a password account hashed at the minimum bcrypt cost
func SeedAccount(ctx context.Context, accounts *repositories.AccountRepository, email, password string, verified bool) (*models.Account, error) {
	hash, err := pkgauth.NewPasswordHasher(4).Hash(password)
	if err != nil {
		return nil, err
	}

	account := &models.Account{
		Email:        email,
		Name:         "Test Account",
		PasswordHash: hash,
	}
	if verified {
		now := time.Now()
		account.EmailVerifiedAt = &now
	}

	created, err := accounts.Create(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to seed account: %w", err)
	}
	return created, nil
}

// SeedExpiredMagicLink stores a link for email that expired an hour ago and
// returns its raw token
func SeedExpiredMagicLink(ctx context.Context, links *repositories.MagicLinkRepository, email string) (string, error) {
	token, err := pkgauth.GenerateToken()
	if err != nil {
		return "", err
	}
	if _, err := links.Replace(ctx, email, pkgauth.HashToken(token), time.Now().Add(-time.Hour)); err != nil {
		return "", fmt.Errorf("failed to seed magic link: %w", err)
	}
	return token, nil
}
