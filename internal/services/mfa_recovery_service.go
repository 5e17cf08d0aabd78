package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
)

// RecoveryCodeVault generates recovery codes and consumes them one at a time.
// Codes are stored as digests; consumption relies on the repository's
// conditional update so that one code can be spent exactly once.
type RecoveryCodeVault struct {
	accounts AccountRepository
	logger   *slog.Logger
}

func NewRecoveryCodeVault(accounts AccountRepository, logger *slog.Logger) *RecoveryCodeVault {
	return &RecoveryCodeVault{accounts: accounts, logger: logger}
}

// Generate returns a fresh set of plaintext codes and the digests to store
func (v *RecoveryCodeVault) Generate() (codes []string, hashes []string, err error) {
	codes, err = auth.GenerateRecoveryCodes(auth.RecoveryCodeCount)
	if err != nil {
		return nil, nil, err
	}
	return codes, auth.HashRecoveryCodes(codes), nil
}

// Consume spends code for the account. It reports false when the code is not
// (or no longer) in the account's set.
func (v *RecoveryCodeVault) Consume(ctx context.Context, accountID, code string) (bool, error) {
	normalized := auth.NormalizeRecoveryCode(code)
	if normalized == "" {
		return false, nil
	}

	remaining, err := v.accounts.ConsumeRecoveryCode(ctx, accountID, auth.HashRecoveryCode(normalized))
	if errors.Is(err, models.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		v.logger.Error("failed to consume recovery code",
			slog.String("account_id", accountID),
			slog.Any("error", err))
		return false, err
	}

	v.logger.Info("recovery code consumed",
		slog.String("account_id", accountID),
		slog.Int("remaining", remaining))

	return true, nil
}
