package session

import (
	"context"
	"errors"
	"time"
)

// Manager implements the session primitives used by the login flow:
// establishing a session for an account, regenerating ids and destroying
// sessions.
type Manager struct {
	store       Store
	idleTTL     time.Duration
	rememberTTL time.Duration
	now         func() time.Time
}

func NewManager(store Store, idleTTL, rememberTTL time.Duration) *Manager {
	return &Manager{
		store:       store,
		idleTTL:     idleTTL,
		rememberTTL: rememberTTL,
		now:         time.Now,
	}
}

// New returns an anonymous session with a fresh id. Nothing is persisted
// until Save is called.
func (m *Manager) New() (*Session, error) {
	id, err := newID()
	if err != nil {
		return nil, err
	}
	return &Session{ID: id, CreatedAt: m.now().UTC()}, nil
}

// Load returns the stored session, or a fresh anonymous one when the id is
// unknown. Client supplied ids are never adopted.
func (m *Manager) Load(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return m.New()
	}
	sess, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		return m.New()
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// TTL is the lifetime applied to the session in storage and in the cookie.
func (m *Manager) TTL(s *Session) time.Duration {
	if s.Remember {
		return m.rememberTTL
	}
	return m.idleTTL
}

// Save persists the session, or removes it when it no longer holds state.
func (m *Manager) Save(ctx context.Context, s *Session) error {
	if s.IsEmpty() {
		return m.store.Delete(ctx, s.ID)
	}
	return m.store.Save(ctx, s, m.TTL(s))
}

// Regenerate moves the session to a new id and drops the old one.
func (m *Manager) Regenerate(ctx context.Context, s *Session) error {
	oldID := s.ID
	id, err := newID()
	if err != nil {
		return err
	}
	if err := m.store.Delete(ctx, oldID); err != nil {
		return err
	}
	s.ID = id
	return nil
}

// Establish authenticates the session for accountID under a new id.
func (m *Manager) Establish(ctx context.Context, s *Session, accountID string, remember bool, method string) error {
	if err := m.Regenerate(ctx, s); err != nil {
		return err
	}
	now := m.now().UTC()
	s.AccountID = accountID
	s.Remember = remember
	s.Method = method
	s.AuthenticatedAt = &now
	s.PendingChallenge = nil
	s.PendingSetup = nil
	return m.Save(ctx, s)
}

// Destroy deletes the stored session and resets the handle to an anonymous
// session under a new id.
func (m *Manager) Destroy(ctx context.Context, s *Session) error {
	if err := m.store.Delete(ctx, s.ID); err != nil {
		return err
	}
	fresh, err := m.New()
	if err != nil {
		return err
	}
	*s = *fresh
	return nil
}

// DestroyAll ends every session of the account, on every device, and returns
// how many were live.
func (m *Manager) DestroyAll(ctx context.Context, accountID string) (int, error) {
	return m.store.DeleteAccount(ctx, accountID)
}
