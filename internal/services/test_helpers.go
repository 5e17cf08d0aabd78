package services

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/google/uuid"
)

// MockAccountRepository implements AccountRepository for testing. Unset
// functions fall through to an in-memory store.
type MockAccountRepository struct {
	GetByIDFunc             func(ctx context.Context, id string) (*models.Account, error)
	GetByEmailFunc          func(ctx context.Context, email string) (*models.Account, error)
	GetByProviderFunc       func(ctx context.Context, provider, externalID string) (*models.Account, error)
	CreateFunc              func(ctx context.Context, account *models.Account) (*models.Account, error)
	UpdateProfileFunc       func(ctx context.Context, id, name, email string) (*models.Account, error)
	UpdatePasswordFunc      func(ctx context.Context, id, passwordHash string) error
	EnableTwoFactorFunc     func(ctx context.Context, id, sealedSecret string, recoveryCodeHashes []string) error
	ConsumeRecoveryCodeFunc func(ctx context.Context, id, codeHash string) (int, error)

	mu       sync.Mutex
	accounts map[string]*models.Account
}

func NewMockAccountRepository(accounts ...*models.Account) *MockAccountRepository {
	m := &MockAccountRepository{accounts: make(map[string]*models.Account)}
	for _, a := range accounts {
		m.put(a)
	}
	return m
}

func (m *MockAccountRepository) put(a *models.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.accounts == nil {
		m.accounts = make(map[string]*models.Account)
	}
	copied := *a
	copied.RecoveryCodes = slices.Clone(a.RecoveryCodes)
	if a.Provider != nil {
		link := *a.Provider
		copied.Provider = &link
	}
	m.accounts[a.ID] = &copied
}

// Snapshot returns a copy of the stored account
func (m *MockAccountRepository) Snapshot(id string) *models.Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil
	}
	copied := *a
	copied.RecoveryCodes = slices.Clone(a.RecoveryCodes)
	return &copied
}

func (m *MockAccountRepository) find(match func(*models.Account) bool) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if match(a) {
			copied := *a
			copied.RecoveryCodes = slices.Clone(a.RecoveryCodes)
			return &copied, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountRepository) update(id string, fn func(*models.Account) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return models.ErrNotFound
	}
	return fn(a)
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return m.find(func(a *models.Account) bool { return a.ID == id })
}

func (m *MockAccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	email = models.NormalizeEmail(email)
	return m.find(func(a *models.Account) bool { return a.Email == email })
}

func (m *MockAccountRepository) GetByProvider(ctx context.Context, provider, externalID string) (*models.Account, error) {
	if m.GetByProviderFunc != nil {
		return m.GetByProviderFunc(ctx, provider, externalID)
	}
	return m.find(func(a *models.Account) bool {
		return a.Provider != nil && a.Provider.Provider == provider && a.Provider.ExternalID == externalID
	})
}

func (m *MockAccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, account)
	}
	if _, err := m.GetByEmail(ctx, account.Email); err == nil {
		return nil, models.ErrConflict
	}
	account.ID = uuid.New().String()
	account.Email = models.NormalizeEmail(account.Email)
	account.CreatedAt = time.Now()
	account.UpdatedAt = account.CreatedAt
	m.put(account)
	return m.Snapshot(account.ID), nil
}

func (m *MockAccountRepository) UpdateProfile(ctx context.Context, id, name, email string) (*models.Account, error) {
	if m.UpdateProfileFunc != nil {
		return m.UpdateProfileFunc(ctx, id, name, email)
	}
	err := m.update(id, func(a *models.Account) error {
		if a.Email != email {
			a.EmailVerifiedAt = nil
		}
		a.Name = name
		a.Email = email
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m.Snapshot(id), nil
}

func (m *MockAccountRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, id, passwordHash)
	}
	return m.update(id, func(a *models.Account) error {
		a.PasswordHash = passwordHash
		return nil
	})
}

func (m *MockAccountRepository) MarkEmailVerified(ctx context.Context, id string) error {
	return m.update(id, func(a *models.Account) error {
		if a.EmailVerifiedAt == nil {
			now := time.Now()
			a.EmailVerifiedAt = &now
		}
		return nil
	})
}

func (m *MockAccountRepository) EnableTwoFactor(ctx context.Context, id, sealedSecret string, recoveryCodeHashes []string) error {
	if m.EnableTwoFactorFunc != nil {
		return m.EnableTwoFactorFunc(ctx, id, sealedSecret, recoveryCodeHashes)
	}
	return m.update(id, func(a *models.Account) error {
		if a.TwoFactorEnabled {
			return models.ErrConflict
		}
		a.TwoFactorEnabled = true
		a.TwoFactorSecret = sealedSecret
		a.RecoveryCodes = slices.Clone(recoveryCodeHashes)
		return nil
	})
}

func (m *MockAccountRepository) DisableTwoFactor(ctx context.Context, id string) error {
	return m.update(id, func(a *models.Account) error {
		a.TwoFactorEnabled = false
		a.TwoFactorSecret = ""
		a.RecoveryCodes = []string{}
		return nil
	})
}

// ConsumeRecoveryCode removes the digest under the store lock, the in-memory
// equivalent of the conditional UPDATE.
func (m *MockAccountRepository) ConsumeRecoveryCode(ctx context.Context, id, codeHash string) (int, error) {
	if m.ConsumeRecoveryCodeFunc != nil {
		return m.ConsumeRecoveryCodeFunc(ctx, id, codeHash)
	}
	var remaining int
	err := m.update(id, func(a *models.Account) error {
		i := slices.Index(a.RecoveryCodes, codeHash)
		if !a.TwoFactorEnabled || i < 0 {
			return models.ErrNotFound
		}
		a.RecoveryCodes = slices.Delete(a.RecoveryCodes, i, i+1)
		remaining = len(a.RecoveryCodes)
		return nil
	})
	return remaining, err
}

func (m *MockAccountRepository) LinkProvider(ctx context.Context, id string, link models.ProviderLink, avatarURL string) error {
	return m.update(id, func(a *models.Account) error {
		a.Provider = &link
		if avatarURL != "" {
			a.AvatarURL = avatarURL
		}
		return nil
	})
}

func (m *MockAccountRepository) RefreshProviderTokens(ctx context.Context, id, accessToken, refreshToken, avatarURL string) error {
	return m.update(id, func(a *models.Account) error {
		if a.Provider == nil {
			return models.ErrNotFound
		}
		a.Provider.AccessToken = accessToken
		if refreshToken != "" {
			a.Provider.RefreshToken = refreshToken
		}
		if avatarURL != "" {
			a.AvatarURL = avatarURL
		}
		return nil
	})
}

func (m *MockAccountRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[id]; !ok {
		return models.ErrNotFound
	}
	delete(m.accounts, id)
	return nil
}

// MockMagicLinkRepository keeps links in memory with the same conditional
// semantics as the Postgres repository.
type MockMagicLinkRepository struct {
	mu    sync.Mutex
	links map[string]*models.MagicLink
}

func NewMockMagicLinkRepository() *MockMagicLinkRepository {
	return &MockMagicLinkRepository{links: make(map[string]*models.MagicLink)}
}

func (m *MockMagicLinkRepository) Replace(ctx context.Context, email, tokenHash string, expiresAt time.Time) (*models.MagicLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = models.NormalizeEmail(email)
	for id, link := range m.links {
		if link.Email == email && link.UsedAt == nil {
			delete(m.links, id)
		}
	}
	link := &models.MagicLink{
		ID:        uuid.New().String(),
		Email:     email,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}
	m.links[link.ID] = link
	copied := *link
	return &copied, nil
}

func (m *MockMagicLinkRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.MagicLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, link := range m.links {
		if link.TokenHash == tokenHash {
			copied := *link
			return &copied, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MockMagicLinkRepository) MarkUsed(ctx context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	link, ok := m.links[id]
	if !ok || link.UsedAt != nil || !now.Before(link.ExpiresAt) {
		return models.ErrNotFound
	}
	link.UsedAt = &now
	return nil
}

func (m *MockMagicLinkRepository) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.links)
}

// MockEmailVerificationRepository implements EmailVerificationRepository for testing
type MockEmailVerificationRepository struct {
	CreateFunc func(ctx context.Context, accountID, tokenHash, email string, expiresAt time.Time) (*models.EmailVerificationToken, error)

	mu     sync.Mutex
	tokens map[string]*models.EmailVerificationToken
}

func NewMockEmailVerificationRepository() *MockEmailVerificationRepository {
	return &MockEmailVerificationRepository{tokens: make(map[string]*models.EmailVerificationToken)}
}

func (m *MockEmailVerificationRepository) Create(ctx context.Context, accountID, tokenHash, email string, expiresAt time.Time) (*models.EmailVerificationToken, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, accountID, tokenHash, email, expiresAt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, token := range m.tokens {
		if token.AccountID == accountID && token.UsedAt == nil {
			delete(m.tokens, id)
		}
	}
	token := &models.EmailVerificationToken{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Email:     models.NormalizeEmail(email),
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}
	m.tokens[token.ID] = token
	copied := *token
	return &copied, nil
}

func (m *MockEmailVerificationRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.EmailVerificationToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, token := range m.tokens {
		if token.TokenHash == tokenHash {
			copied := *token
			return &copied, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MockEmailVerificationRepository) MarkAsUsed(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.tokens[id]
	if !ok || token.UsedAt != nil {
		return models.ErrNotFound
	}
	now := time.Now()
	token.UsedAt = &now
	return nil
}

// MockPasswordResetRepository keeps reset tokens in memory and writes the new
// hash through the account mock on Redeem
type MockPasswordResetRepository struct {
	RedeemFunc func(ctx context.Context, id, passwordHash string) (string, error)

	accounts *MockAccountRepository
	mu       sync.Mutex
	tokens   map[string]*models.PasswordResetToken
}

func NewMockPasswordResetRepository(accounts *MockAccountRepository) *MockPasswordResetRepository {
	return &MockPasswordResetRepository{accounts: accounts, tokens: make(map[string]*models.PasswordResetToken)}
}

func (m *MockPasswordResetRepository) Replace(ctx context.Context, accountID, tokenHash string, expiresAt time.Time) (*models.PasswordResetToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, token := range m.tokens {
		if token.AccountID == accountID && token.UsedAt == nil {
			delete(m.tokens, id)
		}
	}
	token := &models.PasswordResetToken{
		ID:        uuid.New().String(),
		AccountID: accountID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}
	m.tokens[token.ID] = token
	copied := *token
	return &copied, nil
}

func (m *MockPasswordResetRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, token := range m.tokens {
		if token.TokenHash == tokenHash {
			copied := *token
			return &copied, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MockPasswordResetRepository) Redeem(ctx context.Context, id, passwordHash string) (string, error) {
	if m.RedeemFunc != nil {
		return m.RedeemFunc(ctx, id, passwordHash)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.tokens[id]
	now := time.Now()
	if !ok || !token.IsValidAt(now) {
		return "", models.ErrNotFound
	}
	if err := m.accounts.UpdatePassword(ctx, token.AccountID, passwordHash); err != nil {
		return "", err
	}
	token.UsedAt = &now
	return token.AccountID, nil
}

func (m *MockPasswordResetRepository) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}

// MockRateLimiter implements RateLimiter with injectable failures
type MockRateLimiter struct {
	HitFunc             func(ctx context.Context, key string, window time.Duration) (int, error)
	ReserveFunc         func(ctx context.Context, key string, maxAttempts int, window time.Duration) (int, bool, error)
	TooManyAttemptsFunc func(ctx context.Context, key string, maxAttempts int) (bool, error)
	AvailableInFunc     func(ctx context.Context, key string) (time.Duration, error)
	ClearFunc           func(ctx context.Context, key string) error
}

func (m *MockRateLimiter) Hit(ctx context.Context, key string, window time.Duration) (int, error) {
	if m.HitFunc != nil {
		return m.HitFunc(ctx, key, window)
	}
	return 1, nil
}

func (m *MockRateLimiter) Reserve(ctx context.Context, key string, maxAttempts int, window time.Duration) (int, bool, error) {
	if m.ReserveFunc != nil {
		return m.ReserveFunc(ctx, key, maxAttempts, window)
	}
	return 1, true, nil
}

func (m *MockRateLimiter) TooManyAttempts(ctx context.Context, key string, maxAttempts int) (bool, error) {
	if m.TooManyAttemptsFunc != nil {
		return m.TooManyAttemptsFunc(ctx, key, maxAttempts)
	}
	return false, nil
}

func (m *MockRateLimiter) AvailableIn(ctx context.Context, key string) (time.Duration, error) {
	if m.AvailableInFunc != nil {
		return m.AvailableInFunc(ctx, key)
	}
	return 0, nil
}

func (m *MockRateLimiter) Clear(ctx context.Context, key string) error {
	if m.ClearFunc != nil {
		return m.ClearFunc(ctx, key)
	}
	return nil
}

// RecordingEventSink captures emitted security events
type RecordingEventSink struct {
	mu     sync.Mutex
	events []models.SecurityEvent
}

func (s *RecordingEventSink) Emit(_ context.Context, event models.SecurityEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *RecordingEventSink) Events() []models.SecurityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events)
}

func (s *RecordingEventSink) Types() []models.SecurityEventType {
	var types []models.SecurityEventType
	for _, e := range s.Events() {
		types = append(types, e.Type)
	}
	return types
}

type queuedEmail struct {
	TemplateID string
	Recipient  string
	Vars       map[string]string
}

// RecordingMailer captures queued emails synchronously
type RecordingMailer struct {
	mu   sync.Mutex
	sent []queuedEmail
}

func (m *RecordingMailer) Enqueue(templateID, recipient string, vars map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, queuedEmail{TemplateID: templateID, Recipient: recipient, Vars: vars})
}

func (m *RecordingMailer) Sent() []queuedEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.sent)
}
