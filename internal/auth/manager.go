package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"StreamChat/internal/api"
)

// Backend is the slice of the transport the manager needs.
type Backend interface {
	Login(ctx context.Context, email, password string) (*api.AuthResponse, error)
	Register(ctx context.Context, username, email, password string) (*api.AuthResponse, error)
	Me(ctx context.Context) (*api.User, error)
}

// Manager owns the current user identity and the credential lifecycle. It is
// the only writer of the credential; every outgoing request reads it through
// AuthHeader.
type Manager struct {
	mu      sync.Mutex
	store   CredentialStore
	backend Backend
	logger  *slog.Logger

	defaultTTL time.Duration
	timer      *SessionTimer

	cred *Credential
	user *api.User
}

// NewManager creates a manager. onWarning fires warningWindow before the
// credential expires; onExpired fires at expiry, after the manager has
// already logged the user out.
func NewManager(store CredentialStore, logger *slog.Logger, defaultTTL, warningWindow time.Duration, onWarning, onExpired func()) *Manager {
	m := &Manager{
		store:      store,
		logger:     logger,
		defaultTTL: defaultTTL,
	}
	m.timer = NewSessionTimer(warningWindow, onWarning, func() {
		m.logger.Info("session expired, logging out")
		m.Logout()
		if onExpired != nil {
			onExpired()
		}
	})
	return m
}

// SetBackend wires the transport. The client needs the manager's AuthHeader
// and the manager needs the client, so binding happens after construction.
func (m *Manager) SetBackend(b Backend) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backend = b
}

// Login authenticates, persists the credential and starts the session timer.
func (m *Manager) Login(ctx context.Context, email, password string) (*api.User, error) {
	resp, err := m.backend.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}

	expiresAt := time.Now().Add(m.defaultTTL)
	if resp.ExpiresAt != nil {
		expiresAt = *resp.ExpiresAt
	}

	cred := &Credential{Token: resp.AccessToken, ExpiresAt: expiresAt}
	if err := m.store.Save(cred); err != nil {
		m.logger.Warn("failed to persist credential", "error", err)
	}

	user := resp.User
	m.mu.Lock()
	m.cred = cred
	m.user = &user
	m.mu.Unlock()

	m.timer.Reset(expiresAt)
	m.logger.Info("logged in", "user_id", user.ID, "expires_at", expiresAt)
	return &user, nil
}

// Register creates the account and then chains into Login. The token the
// registration endpoint issues is discarded so there is a single trust path.
func (m *Manager) Register(ctx context.Context, username, email, password string) (*api.User, error) {
	if _, err := m.backend.Register(ctx, username, email, password); err != nil {
		return nil, err
	}
	m.logger.Info("registered, logging in", "email", email)
	return m.Login(ctx, email, password)
}

// Logout clears the credential and identity and cancels the timers. It is
// idempotent and always leaves the manager unauthenticated.
func (m *Manager) Logout() {
	m.timer.Stop()

	m.mu.Lock()
	m.cred = nil
	m.user = nil
	m.mu.Unlock()

	if err := m.store.Clear(); err != nil {
		m.logger.Warn("failed to clear stored credential", "error", err)
	}
	m.logger.Info("logged out")
}

// Restore validates a persisted credential at startup. An invalid or absent
// credential is not an error: the manager just stays unauthenticated.
func (m *Manager) Restore(ctx context.Context) error {
	cred, err := m.store.Load()
	if err != nil {
		return fmt.Errorf("failed to read stored credential: %w", err)
	}
	if cred == nil {
		return nil
	}
	if cred.Expired() {
		m.logger.Info("stored credential expired, discarding")
		if err := m.store.Clear(); err != nil {
			m.logger.Warn("failed to clear stored credential", "error", err)
		}
		return nil
	}

	// Install the token before calling /auth/me so the request carries it.
	m.mu.Lock()
	m.cred = cred
	m.mu.Unlock()

	user, err := m.backend.Me(ctx)
	if err != nil {
		m.logger.Info("stored credential rejected, discarding", "error", err)
		m.Logout()
		return nil
	}

	expiresAt := cred.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = time.Now().Add(m.defaultTTL)
	}

	m.mu.Lock()
	m.user = user
	m.cred.ExpiresAt = expiresAt
	m.mu.Unlock()

	m.timer.Reset(expiresAt)
	m.logger.Info("restored session", "user_id", user.ID)
	return nil
}

// AuthHeader returns the bearer header for the current credential, or an
// empty map when unauthenticated. Callers treat an empty map as "the server
// will reject this", not as a local error.
func (m *Manager) AuthHeader() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cred == nil {
		return map[string]string{}
	}
	return map[string]string{"Authorization": "Bearer " + m.cred.Token}
}

// Activity reschedules the expiry timers in response to genuine user input.
// Unauthenticated activity is a no-op. An in-progress stream is not
// activity: only input resets the clock. The lock is held across the whole
// body: the expiry timer may log the user out from its own goroutine, and the
// credential must not vanish between the check and the write.
func (m *Manager) Activity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cred == nil {
		return
	}
	expiresAt := time.Now().Add(m.defaultTTL)
	m.cred.ExpiresAt = expiresAt
	m.timer.Reset(expiresAt)
}

// User returns the authenticated user, or nil.
func (m *Manager) User() *api.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user
}

// Authenticated reports whether a user is logged in.
func (m *Manager) Authenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user != nil && m.cred != nil
}
