package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PasswordResetRepository handles password reset token data access
type PasswordResetRepository struct {
	db *database.DB
}

// NewPasswordResetRepository creates a new PasswordResetRepository
func NewPasswordResetRepository(db *database.DB) *PasswordResetRepository {
	return &PasswordResetRepository{db: db}
}

func scanPasswordResetRow(row rowScanner) (*models.PasswordResetToken, error) {
	var token models.PasswordResetToken

	err := row.Scan(
		&token.ID, &token.AccountID, &token.TokenHash,
		&token.ExpiresAt, &token.UsedAt, &token.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &token, nil
}

// Replace issues a token for the account, overwriting the live one if any.
// The partial unique index on account_id keeps a single live token even when
// requests race.
func (r *PasswordResetRepository) Replace(ctx context.Context, accountID, tokenHash string, expiresAt time.Time) (*models.PasswordResetToken, error) {
	query := `
		INSERT INTO password_reset_tokens (id, account_id, token_hash, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id) WHERE used_at IS NULL DO UPDATE
		SET id = EXCLUDED.id,
		    token_hash = EXCLUDED.token_hash,
		    expires_at = EXCLUDED.expires_at,
		    created_at = NOW()
		RETURNING id, account_id, token_hash, expires_at, used_at, created_at
	`

	token, err := scanPasswordResetRow(r.db.Pool.QueryRow(ctx, query,
		uuid.New().String(), accountID, tokenHash, expiresAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create password reset token: %w", err)
	}

	return token, nil
}

// GetByTokenHash retrieves a token by its hash
func (r *PasswordResetRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error) {
	query := `
		SELECT id, account_id, token_hash, expires_at, used_at, created_at
		FROM password_reset_tokens
		WHERE token_hash = $1
	`

	return scanPasswordResetRow(r.db.Pool.QueryRow(ctx, query, tokenHash))
}

// Redeem consumes the token and stores the new password hash in one
// transaction. A token that is used, expired or unknown yields ErrNotFound and
// leaves the password untouched.
func (r *PasswordResetRepository) Redeem(ctx context.Context, id, passwordHash string) (string, error) {
	var accountID string

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE password_reset_tokens
			SET used_at = NOW()
			WHERE id = $1 AND used_at IS NULL AND expires_at > NOW()
			RETURNING account_id
		`, id).Scan(&accountID)
		if err != nil {
			return database.MapPostgresError(err)
		}

		result, err := tx.Exec(ctx, `
			UPDATE accounts
			SET password_hash = $2, password_changed_at = NOW(), updated_at = NOW()
			WHERE id = $1
		`, accountID, passwordHash)
		if err != nil {
			return fmt.Errorf("failed to update password: %w", err)
		}
		if result.RowsAffected() == 0 {
			return models.ErrNotFound
		}
		return nil
	})
	if errors.Is(err, models.ErrNotFound) {
		return "", models.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to redeem password reset token: %w", err)
	}

	return accountID, nil
}

// CleanupExpired deletes tokens that expired more than a day ago
func (r *PasswordResetRepository) CleanupExpired(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM password_reset_tokens
		WHERE expires_at < NOW() - INTERVAL '1 day'
	`

	result, err := r.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired password reset tokens: %w", err)
	}

	return result.RowsAffected(), nil
}
