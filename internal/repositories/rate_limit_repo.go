package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RateLimitRepository is a fixed-window attempt counter kept in Postgres. It is
// the fallback limiter backend for deployments without Redis. All windows are
// measured against the database clock.
type RateLimitRepository struct {
	pool *pgxpool.Pool
}

func NewRateLimitRepository(db *database.DB) *RateLimitRepository {
	return &RateLimitRepository{pool: db.Pool}
}

// Hit records one attempt and returns the attempt count of the current window.
// An expired window is restarted by the same upsert.
func (r *RateLimitRepository) Hit(ctx context.Context, key string, window time.Duration) (int, error) {
	query := `
		INSERT INTO rate_limit_counters AS c (key, attempts, window_started_at, expires_at)
		VALUES ($1, 1, NOW(), NOW() + ($2::BIGINT * INTERVAL '1 millisecond'))
		ON CONFLICT (key) DO UPDATE SET
			attempts = CASE WHEN c.expires_at <= NOW() THEN 1 ELSE c.attempts + 1 END,
			window_started_at = CASE WHEN c.expires_at <= NOW() THEN NOW() ELSE c.window_started_at END,
			expires_at = CASE WHEN c.expires_at <= NOW() THEN EXCLUDED.expires_at ELSE c.expires_at END
		RETURNING attempts
	`

	var attempts int
	if err := r.pool.QueryRow(ctx, query, key, window.Milliseconds()).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("failed to record attempt: %w", err)
	}
	return attempts, nil
}

// Reserve counts an attempt only while the current window is under
// maxAttempts. The conditional upsert locks the counter row, so concurrent
// reservations for one key serialize and at most maxAttempts succeed.
func (r *RateLimitRepository) Reserve(ctx context.Context, key string, maxAttempts int, window time.Duration) (int, bool, error) {
	query := `
		INSERT INTO rate_limit_counters AS c (key, attempts, window_started_at, expires_at)
		VALUES ($1, 1, NOW(), NOW() + ($2::BIGINT * INTERVAL '1 millisecond'))
		ON CONFLICT (key) DO UPDATE SET
			attempts = CASE WHEN c.expires_at <= NOW() THEN 1 ELSE c.attempts + 1 END,
			window_started_at = CASE WHEN c.expires_at <= NOW() THEN NOW() ELSE c.window_started_at END,
			expires_at = CASE WHEN c.expires_at <= NOW() THEN EXCLUDED.expires_at ELSE c.expires_at END
		WHERE c.expires_at <= NOW() OR c.attempts < $3::INT
		RETURNING attempts
	`

	var attempts int
	err := r.pool.QueryRow(ctx, query, key, window.Milliseconds(), maxAttempts).Scan(&attempts)
	if err != nil {
		if errors.Is(database.MapPostgresError(err), models.ErrNotFound) {
			return maxAttempts, false, nil
		}
		return 0, false, fmt.Errorf("failed to reserve attempt: %w", err)
	}
	return attempts, true, nil
}

func (r *RateLimitRepository) TooManyAttempts(ctx context.Context, key string, maxAttempts int) (bool, error) {
	attempts, err := r.attempts(ctx, key)
	if err != nil {
		return false, err
	}
	return attempts >= maxAttempts, nil
}

// AvailableIn returns the time left in the current window, or zero.
func (r *RateLimitRepository) AvailableIn(ctx context.Context, key string) (time.Duration, error) {
	query := `
		SELECT GREATEST(EXTRACT(EPOCH FROM (expires_at - NOW())) * 1000, 0)::BIGINT
		FROM rate_limit_counters
		WHERE key = $1
	`

	var millis int64
	err := r.pool.QueryRow(ctx, query, key).Scan(&millis)
	if err != nil {
		if errors.Is(database.MapPostgresError(err), models.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read rate limit window: %w", err)
	}
	return time.Duration(millis) * time.Millisecond, nil
}

func (r *RateLimitRepository) Clear(ctx context.Context, key string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM rate_limit_counters WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to clear rate limit: %w", err)
	}
	return nil
}

// CleanupExpired deletes counters whose window has elapsed
func (r *RateLimitRepository) CleanupExpired(ctx context.Context) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM rate_limit_counters WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup rate limit counters: %w", err)
	}
	return result.RowsAffected(), nil
}

func (r *RateLimitRepository) attempts(ctx context.Context, key string) (int, error) {
	query := `SELECT attempts FROM rate_limit_counters WHERE key = $1 AND expires_at > NOW()`

	var attempts int
	err := r.pool.QueryRow(ctx, query, key).Scan(&attempts)
	if err != nil {
		if errors.Is(database.MapPostgresError(err), models.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read attempts: %w", err)
	}
	return attempts, nil
}
