package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/google/uuid"
)

// MagicLinkRepository handles passwordless login tokens
type MagicLinkRepository struct {
	db *database.DB
}

func NewMagicLinkRepository(db *database.DB) *MagicLinkRepository {
	return &MagicLinkRepository{db: db}
}

func scanMagicLinkRow(row rowScanner) (*models.MagicLink, error) {
	var link models.MagicLink
	err := row.Scan(&link.ID, &link.Email, &link.TokenHash, &link.ExpiresAt, &link.UsedAt, &link.CreatedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &link, nil
}

// Replace stores a new link for the email, overwriting the live one if any.
// The partial unique index on (email) WHERE used_at IS NULL makes the upsert
// the arbiter, so concurrent calls for one email still leave a single live link.
func (r *MagicLinkRepository) Replace(ctx context.Context, email, tokenHash string, expiresAt time.Time) (*models.MagicLink, error) {
	query := `
		INSERT INTO magic_links (id, email, token_hash, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) WHERE used_at IS NULL DO UPDATE SET
			id = EXCLUDED.id,
			token_hash = EXCLUDED.token_hash,
			expires_at = EXCLUDED.expires_at,
			created_at = NOW()
		RETURNING id, email, token_hash, expires_at, used_at, created_at
	`

	link, err := scanMagicLinkRow(r.db.Pool.QueryRow(ctx, query, uuid.New().String(), models.NormalizeEmail(email), tokenHash, expiresAt))
	if err != nil {
		return nil, fmt.Errorf("failed to store magic link: %w", err)
	}
	return link, nil
}

func (r *MagicLinkRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.MagicLink, error) {
	query := `
		SELECT id, email, token_hash, expires_at, used_at, created_at
		FROM magic_links
		WHERE token_hash = $1
	`
	return scanMagicLinkRow(r.db.Pool.QueryRow(ctx, query, tokenHash))
}

// MarkUsed redeems the link only if it is still unused and unexpired at now.
// Losing a concurrent redemption race yields ErrNotFound.
func (r *MagicLinkRepository) MarkUsed(ctx context.Context, id string, now time.Time) error {
	query := `
		UPDATE magic_links
		SET used_at = $2
		WHERE id = $1 AND used_at IS NULL AND expires_at > $2
	`

	result, err := r.db.Pool.Exec(ctx, query, id, now)
	if err != nil {
		return fmt.Errorf("failed to mark magic link as used: %w", err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// CleanupExpired deletes links that can no longer be redeemed
func (r *MagicLinkRepository) CleanupExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM magic_links WHERE expires_at < NOW() OR used_at IS NOT NULL`

	result, err := r.db.Pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup magic links: %w", err)
	}
	return result.RowsAffected(), nil
}
