package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const accountColumns = `id, email, name, password_hash, email_verified_at,
	two_factor_enabled, two_factor_secret, recovery_codes,
	oauth_provider, oauth_id, oauth_token, oauth_refresh_token,
	avatar_url, created_at, updated_at`

// AccountRepository persists accounts. Every mutation touches only the columns
// it owns so concurrent updates of unrelated fields never overwrite each other.
type AccountRepository struct {
	pool *pgxpool.Pool
}

func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{pool: db.Pool}
}

// rowScanner interface for scanning rows (supports both pgx.Row and pgx.Rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanAccountRow handles nullable columns and populates an Account from a database row
func scanAccountRow(scanner rowScanner) (*models.Account, error) {
	var account models.Account
	var passwordHash, twoFactorSecret *string
	var provider, externalID, accessToken, refreshToken *string

	err := scanner.Scan(
		&account.ID, &account.Email, &account.Name, &passwordHash, &account.EmailVerifiedAt,
		&account.TwoFactorEnabled, &twoFactorSecret, &account.RecoveryCodes,
		&provider, &externalID, &accessToken, &refreshToken,
		&account.AvatarURL, &account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if passwordHash != nil {
		account.PasswordHash = *passwordHash
	}
	if twoFactorSecret != nil {
		account.TwoFactorSecret = *twoFactorSecret
	}
	if provider != nil && externalID != nil {
		account.Provider = &models.ProviderLink{
			Provider:     *provider,
			ExternalID:   *externalID,
			AccessToken:  deref(accessToken),
			RefreshToken: deref(refreshToken),
		}
	}
	if account.RecoveryCodes == nil {
		account.RecoveryCodes = []string{}
	}

	return &account, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccountRow(r.pool.QueryRow(ctx, query, id))
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	return scanAccountRow(r.pool.QueryRow(ctx, query, models.NormalizeEmail(email)))
}

func (r *AccountRepository) GetByProvider(ctx context.Context, provider, externalID string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE oauth_provider = $1 AND oauth_id = $2`
	return scanAccountRow(r.pool.QueryRow(ctx, query, provider, externalID))
}

func (r *AccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	account.ID = uuid.New().String()
	account.Email = models.NormalizeEmail(account.Email)

	now := time.Now()
	account.CreatedAt = now
	account.UpdatedAt = now

	var provider, externalID, accessToken, refreshToken *string
	if account.Provider != nil {
		provider = nullable(account.Provider.Provider)
		externalID = nullable(account.Provider.ExternalID)
		accessToken = nullable(account.Provider.AccessToken)
		refreshToken = nullable(account.Provider.RefreshToken)
	}

	query := `
		INSERT INTO accounts (id, email, name, password_hash, email_verified_at,
			oauth_provider, oauth_id, oauth_token, oauth_refresh_token,
			avatar_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + accountColumns

	created, err := scanAccountRow(r.pool.QueryRow(ctx, query,
		account.ID, account.Email, account.Name, nullable(account.PasswordHash), account.EmailVerifiedAt,
		provider, externalID, accessToken, refreshToken,
		account.AvatarURL, account.CreatedAt, account.UpdatedAt,
	))
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	return created, nil
}

// UpdateProfile changes name and email. A changed email clears the verification timestamp.
func (r *AccountRepository) UpdateProfile(ctx context.Context, id, name, email string) (*models.Account, error) {
	query := `
		UPDATE accounts
		SET name = $2,
			email = $3,
			email_verified_at = CASE WHEN email = $3 THEN email_verified_at ELSE NULL END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + accountColumns

	return scanAccountRow(r.pool.QueryRow(ctx, query, id, name, models.NormalizeEmail(email)))
}

func (r *AccountRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	query := `
		UPDATE accounts
		SET password_hash = $2, password_changed_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`
	return r.execOne(ctx, "update password", query, id, passwordHash)
}

func (r *AccountRepository) MarkEmailVerified(ctx context.Context, id string) error {
	query := `
		UPDATE accounts
		SET email_verified_at = COALESCE(email_verified_at, NOW()), updated_at = NOW()
		WHERE id = $1
	`
	return r.execOne(ctx, "mark email verified", query, id)
}

// EnableTwoFactor commits the secret, the recovery code digests and the flag in
// one statement. It fails with ErrConflict when the second factor is already on.
func (r *AccountRepository) EnableTwoFactor(ctx context.Context, id, sealedSecret string, recoveryCodeHashes []string) error {
	query := `
		UPDATE accounts
		SET two_factor_enabled = TRUE,
			two_factor_secret = $2,
			recovery_codes = $3,
			updated_at = NOW()
		WHERE id = $1 AND NOT two_factor_enabled
	`

	result, err := r.pool.Exec(ctx, query, id, sealedSecret, recoveryCodeHashes)
	if err != nil {
		return fmt.Errorf("failed to enable two factor: %w", database.MapPostgresError(err))
	}
	if result.RowsAffected() == 0 {
		return models.ErrConflict
	}
	return nil
}

func (r *AccountRepository) DisableTwoFactor(ctx context.Context, id string) error {
	query := `
		UPDATE accounts
		SET two_factor_enabled = FALSE,
			two_factor_secret = NULL,
			recovery_codes = '{}',
			updated_at = NOW()
		WHERE id = $1
	`
	return r.execOne(ctx, "disable two factor", query, id)
}

// ConsumeRecoveryCode removes a recovery code digest if, and only if, it is still
// present. The row lock taken by UPDATE serializes concurrent consumers, so for a
// given code exactly one caller succeeds and the others get ErrNotFound.
func (r *AccountRepository) ConsumeRecoveryCode(ctx context.Context, id, codeHash string) (int, error) {
	query := `
		UPDATE accounts
		SET recovery_codes = array_remove(recovery_codes, $2), updated_at = NOW()
		WHERE id = $1 AND two_factor_enabled AND $2 = ANY(recovery_codes)
		RETURNING cardinality(recovery_codes)
	`

	var remaining int
	if err := r.pool.QueryRow(ctx, query, id, codeHash).Scan(&remaining); err != nil {
		return 0, database.MapPostgresError(err)
	}
	return remaining, nil
}

// LinkProvider attaches a federated identity to an existing account.
func (r *AccountRepository) LinkProvider(ctx context.Context, id string, link models.ProviderLink, avatarURL string) error {
	query := `
		UPDATE accounts
		SET oauth_provider = $2,
			oauth_id = $3,
			oauth_token = $4,
			oauth_refresh_token = $5,
			avatar_url = COALESCE(NULLIF($6, ''), avatar_url),
			updated_at = NOW()
		WHERE id = $1
	`
	return r.execOne(ctx, "link provider", query,
		id, link.Provider, link.ExternalID, nullable(link.AccessToken), nullable(link.RefreshToken), avatarURL)
}

// RefreshProviderTokens stores the tokens from a repeat federated login. A missing
// refresh token keeps the previous one.
func (r *AccountRepository) RefreshProviderTokens(ctx context.Context, id, accessToken, refreshToken, avatarURL string) error {
	query := `
		UPDATE accounts
		SET oauth_token = $2,
			oauth_refresh_token = COALESCE($3, oauth_refresh_token),
			avatar_url = COALESCE(NULLIF($4, ''), avatar_url),
			updated_at = NOW()
		WHERE id = $1
	`
	return r.execOne(ctx, "refresh provider tokens", query, id, nullable(accessToken), nullable(refreshToken), avatarURL)
}

// Delete removes the account together with every secret stored on it.
func (r *AccountRepository) Delete(ctx context.Context, id string) error {
	return r.execOne(ctx, "delete account", `DELETE FROM accounts WHERE id = $1`, id)
}

func (r *AccountRepository) execOne(ctx context.Context, operation, query string, args ...any) error {
	result, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", operation, database.MapPostgresError(err))
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}
