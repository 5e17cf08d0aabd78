package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/session"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
)

// AccountService handles registration and the account owner's own changes
type AccountService struct {
	accounts     AccountRepository
	hasher       *pkgauth.PasswordHasher
	policy       passwordPolicy
	throttle     *Throttle
	verification *EmailVerificationService
	sessions     SessionManager
	events       SecurityEventSink
	audit        *AuditService
	logger       *slog.Logger
}

// NewAccountService creates a new AccountService. A breachThreshold below one
// disables rejection of breached passwords. throttle bounds password re-proof
// per account.
func NewAccountService(
	accounts AccountRepository,
	hasher *pkgauth.PasswordHasher,
	breach BreachChecker,
	breachThreshold int,
	throttle *Throttle,
	verification *EmailVerificationService,
	sessions SessionManager,
	events SecurityEventSink,
	audit *AuditService,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		accounts:     accounts,
		hasher:       hasher,
		policy:       passwordPolicy{breach: breach, threshold: breachThreshold, logger: logger},
		throttle:     throttle,
		verification: verification,
		sessions:     sessions,
		events:       events,
		audit:        audit,
		logger:       logger,
	}
}

// GetAccount returns the account by id
func (s *AccountService) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	account, err := s.accounts.GetByID(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrAccountNotFound
	}
	if err != nil {
		s.logger.Error("failed to get account", slog.String("account_id", id), slog.Any("error", err))
		return nil, err
	}
	return account, nil
}

// Register creates a password account and sends the verification email. The
// caller establishes the session.
func (s *AccountService) Register(ctx context.Context, name, email, password string) (*models.Account, error) {
	if err := s.policy.check(ctx, password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, err
	}

	account, err := s.accounts.Create(ctx, &models.Account{
		Email:        models.NormalizeEmail(email),
		Name:         name,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to create account",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
		return nil, err
	}

	if err := s.verification.Send(ctx, account.ID, account.Email); err != nil {
		// the account exists; the owner can ask for another email
		s.logger.Warn("verification email not queued",
			slog.String("account_id", account.ID),
			slog.Any("error", err))
	}

	s.logger.Info("account registered", slog.String("account_id", account.ID))
	return account, nil
}

// ChangePassword requires the current password and applies the same policy
// and breach check as registration.
func (s *AccountService) ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string, client models.ClientInfo) error {
	account, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if err := reprovePassword(ctx, s.throttle, s.hasher, account, currentPassword); err != nil {
		return err
	}
	if err := s.policy.check(ctx, newPassword); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.accounts.UpdatePassword(ctx, account.ID, hash); err != nil {
		s.logger.Error("failed to update password",
			slog.String("account_id", account.ID),
			slog.Any("error", err))
		return err
	}

	event := models.NewSecurityEvent(models.EventPasswordChanged, account.ID, client)
	event.Email = account.Email
	s.events.Emit(ctx, event)

	return nil
}

// UpdateProfile changes name and email. A new email is unverified until the
// link sent to it is followed.
func (s *AccountService) UpdateProfile(ctx context.Context, accountID, name, email string, client models.ClientInfo) (*models.Account, error) {
	current, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	email = models.NormalizeEmail(email)
	updated, err := s.accounts.UpdateProfile(ctx, accountID, name, email)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrAccountNotFound
		}
		s.logger.Error("failed to update profile",
			slog.String("account_id", accountID),
			slog.Any("error", err))
		return nil, err
	}

	if current.Email != updated.Email {
		if err := s.verification.Send(ctx, updated.ID, updated.Email); err != nil {
			s.logger.Warn("verification email not queued",
				slog.String("account_id", updated.ID),
				slog.Any("error", err))
		}
	}

	s.audit.RecordAccountAction(ctx, "profile_updated", accountID, client)
	return updated, nil
}

// Delete removes the signed in account after re-proof of its password and
// destroys the session. Accounts without a usable password cannot re-prove and
// are refused.
func (s *AccountService) Delete(ctx context.Context, sess *session.Session, password string, client models.ClientInfo) error {
	if !sess.IsAuthenticated() {
		return models.ErrUnauthorized
	}

	account, err := s.GetAccount(ctx, sess.AccountID)
	if err != nil {
		return err
	}
	if err := reprovePassword(ctx, s.throttle, s.hasher, account, password); err != nil {
		return err
	}

	if err := s.accounts.Delete(ctx, account.ID); err != nil {
		s.logger.Error("failed to delete account",
			slog.String("account_id", account.ID),
			slog.Any("error", err))
		return err
	}
	if err := s.sessions.Destroy(ctx, sess); err != nil {
		s.logger.Error("failed to destroy session after delete",
			slog.String("account_id", account.ID),
			slog.Any("error", err))
		return err
	}

	s.audit.RecordAccountAction(ctx, "account_deleted", account.ID, client)
	return nil
}

// passwordPolicy applies the strength rules and the breach check to a new
// password. The breach check fails open.
type passwordPolicy struct {
	breach    BreachChecker
	threshold int
	logger    *slog.Logger
}

func (p passwordPolicy) check(ctx context.Context, password string) error {
	if err := pkgauth.ValidatePassword(password); err != nil {
		var validationErr *pkgauth.PasswordValidationError
		if errors.As(err, &validationErr) {
			p.logger.Debug("password rejected by policy", slog.Int("violations", len(validationErr.Errors)))
		}
		return fmt.Errorf("%w: %s", models.ErrWeakPassword, err.Error())
	}

	if isBreached(p.breach.CountBreaches(ctx, password), p.threshold) {
		return models.ErrCompromisedPassword
	}
	return nil
}
