package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"StreamChat/internal/api"
)

type memoryStore struct {
	cred    *Credential
	loadErr error
	saves   int
	clears  int
}

func (s *memoryStore) Load() (*Credential, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.cred == nil {
		return nil, nil
	}
	c := *s.cred
	return &c, nil
}

func (s *memoryStore) Save(cred *Credential) error {
	c := *cred
	s.cred = &c
	s.saves++
	return nil
}

func (s *memoryStore) Clear() error {
	s.cred = nil
	s.clears++
	return nil
}

type fakeBackend struct {
	loginErr    error
	registerErr error
	meErr       error
	expiresAt   *time.Time

	loginCalls    int
	registerCalls int
	lastToken     string

	tokens []string
}

func (b *fakeBackend) Login(ctx context.Context, email, password string) (*api.AuthResponse, error) {
	b.loginCalls++
	if b.loginErr != nil {
		return nil, b.loginErr
	}
	token := "login-token"
	if len(b.tokens) > 0 {
		token = b.tokens[0]
		b.tokens = b.tokens[1:]
	}
	b.lastToken = token
	return &api.AuthResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   b.expiresAt,
		User:        api.User{ID: "u1", Username: "alice", Email: email},
	}, nil
}

func (b *fakeBackend) Register(ctx context.Context, username, email, password string) (*api.AuthResponse, error) {
	b.registerCalls++
	if b.registerErr != nil {
		return nil, b.registerErr
	}
	return &api.AuthResponse{
		AccessToken: "register-token",
		TokenType:   "bearer",
		User:        api.User{ID: "u1", Username: username, Email: email},
	}, nil
}

func (b *fakeBackend) Me(ctx context.Context) (*api.User, error) {
	if b.meErr != nil {
		return nil, b.meErr
	}
	return &api.User{ID: "u1", Username: "alice", Email: "alice@example.com"}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(store CredentialStore, backend Backend) *Manager {
	m := NewManager(store, quietLogger(), 30*time.Minute, 5*time.Minute, nil, nil)
	m.SetBackend(backend)
	return m
}

func TestLoginStoresCredentialAndUser(t *testing.T) {
	store := &memoryStore{}
	backend := &fakeBackend{}
	m := newTestManager(store, backend)
	defer m.Logout()

	user, err := m.Login(context.Background(), "alice@example.com", "pw")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.ID != "u1" {
		t.Errorf("unexpected user: %+v", user)
	}
	if !m.Authenticated() {
		t.Error("expected authenticated state after login")
	}
	if store.cred == nil || store.cred.Token != "login-token" {
		t.Errorf("expected credential persisted, got %+v", store.cred)
	}

	h := m.AuthHeader()
	if h["Authorization"] != "Bearer login-token" {
		t.Errorf("unexpected auth header: %v", h)
	}
}

func TestLoginUsesServerExpiryWhenProvided(t *testing.T) {
	expires := time.Now().Add(2 * time.Hour)
	store := &memoryStore{}
	m := newTestManager(store, &fakeBackend{expiresAt: &expires})
	defer m.Logout()

	if _, err := m.Login(context.Background(), "alice@example.com", "pw"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !store.cred.ExpiresAt.Equal(expires) {
		t.Errorf("expected server expiry %v, got %v", expires, store.cred.ExpiresAt)
	}
}

func TestLoginFailureLeavesManagerUnauthenticated(t *testing.T) {
	store := &memoryStore{}
	backend := &fakeBackend{loginErr: &api.AuthError{Status: 401, Detail: "bad credentials"}}
	m := newTestManager(store, backend)

	_, err := m.Login(context.Background(), "alice@example.com", "wrong")
	var authErr *api.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if m.Authenticated() {
		t.Error("expected unauthenticated state after failed login")
	}
	if len(m.AuthHeader()) != 0 {
		t.Error("expected empty auth header after failed login")
	}
}

func TestRegisterChainsIntoLogin(t *testing.T) {
	store := &memoryStore{}
	backend := &fakeBackend{}
	m := newTestManager(store, backend)
	defer m.Logout()

	user, err := m.Register(context.Background(), "alice", "alice@example.com", "pw")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user == nil || user.ID != "u1" {
		t.Errorf("unexpected user: %+v", user)
	}
	if backend.registerCalls != 1 || backend.loginCalls != 1 {
		t.Errorf("expected register then login, got register=%d login=%d", backend.registerCalls, backend.loginCalls)
	}
	// The registration token is never used: the login token is the one
	// that sticks.
	if store.cred.Token != "login-token" {
		t.Errorf("expected login token persisted, got %q", store.cred.Token)
	}
}

func TestRegisterFailureDoesNotLogin(t *testing.T) {
	backend := &fakeBackend{registerErr: &api.ValidationError{Detail: "email taken"}}
	m := newTestManager(&memoryStore{}, backend)

	if _, err := m.Register(context.Background(), "alice", "alice@example.com", "pw"); err == nil {
		t.Fatal("expected an error")
	}
	if backend.loginCalls != 0 {
		t.Error("failed registration must not attempt login")
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	store := &memoryStore{}
	m := newTestManager(store, &fakeBackend{})

	if _, err := m.Login(context.Background(), "alice@example.com", "pw"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m.Logout()
	m.Logout()

	if m.Authenticated() {
		t.Error("expected unauthenticated state")
	}
	if m.User() != nil {
		t.Error("expected no user")
	}
	if store.cred != nil {
		t.Error("expected stored credential cleared")
	}
	if len(m.AuthHeader()) != 0 {
		t.Error("expected empty auth header")
	}
}

func TestRestoreValidCredential(t *testing.T) {
	store := &memoryStore{cred: &Credential{
		Token:     "stored-token",
		ExpiresAt: time.Now().Add(time.Hour),
	}}
	m := newTestManager(store, &fakeBackend{})
	defer m.Logout()

	if err := m.Restore(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.Authenticated() {
		t.Error("expected authenticated state after restore")
	}
	if h := m.AuthHeader(); h["Authorization"] != "Bearer stored-token" {
		t.Errorf("unexpected auth header: %v", h)
	}
}

func TestRestoreExpiredCredentialIsDiscarded(t *testing.T) {
	store := &memoryStore{cred: &Credential{
		Token:     "old-token",
		ExpiresAt: time.Now().Add(-time.Minute),
	}}
	backend := &fakeBackend{}
	m := newTestManager(store, backend)

	if err := m.Restore(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Authenticated() {
		t.Error("expected unauthenticated state")
	}
	if store.cred != nil {
		t.Error("expected expired credential cleared from the store")
	}
}

func TestRestoreRejectedCredentialIsDiscarded(t *testing.T) {
	store := &memoryStore{cred: &Credential{
		Token:     "revoked-token",
		ExpiresAt: time.Now().Add(time.Hour),
	}}
	backend := &fakeBackend{meErr: &api.AuthError{Status: 401, Detail: "invalid token"}}
	m := newTestManager(store, backend)

	if err := m.Restore(context.Background()); err != nil {
		t.Fatalf("a rejected credential is not an error, got: %v", err)
	}
	if m.Authenticated() {
		t.Error("expected unauthenticated state")
	}
	if store.cred != nil {
		t.Error("expected rejected credential cleared from the store")
	}
}

func TestRestoreWithoutStoredCredential(t *testing.T) {
	m := newTestManager(&memoryStore{}, &fakeBackend{})
	if err := m.Restore(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Authenticated() {
		t.Error("expected unauthenticated state")
	}
}

func TestRestoreStoreFailureIsReturned(t *testing.T) {
	store := &memoryStore{loadErr: errors.New("disk gone")}
	m := newTestManager(store, &fakeBackend{})
	if err := m.Restore(context.Background()); err == nil {
		t.Fatal("expected an error when the store cannot be read")
	}
}

func TestActivityBeforeLoginIsNoop(t *testing.T) {
	m := newTestManager(&memoryStore{}, &fakeBackend{})
	m.Activity()
	if m.Authenticated() {
		t.Error("expected unauthenticated state")
	}
}

func TestExpiryLogsOutAndNotifies(t *testing.T) {
	store := &memoryStore{}
	backend := &fakeBackend{}

	expired := make(chan struct{}, 1)
	m := NewManager(store, quietLogger(), 30*time.Millisecond, 0, nil, func() {
		expired <- struct{}{}
	})
	m.SetBackend(backend)

	if _, err := m.Login(context.Background(), "alice@example.com", "pw"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-expired:
	case <-time.After(2 * time.Second):
		t.Fatal("expiry notification never fired")
	}
	if m.Authenticated() {
		t.Error("expected logout before the expiry notification")
	}
	if store.cred != nil {
		t.Error("expected stored credential cleared on expiry")
	}
}

func TestActivityDuringLogoutDoesNotPanic(t *testing.T) {
	m := newTestManager(&memoryStore{}, &fakeBackend{})
	defer m.Logout()

	// The expiry timer logs out from its own goroutine, so Activity must
	// tolerate the credential vanishing at any point.
	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					m.Activity()
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		if _, err := m.Login(context.Background(), "alice@example.com", "pw"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		m.Logout()
	}

	close(done)
	wg.Wait()
}

func TestActivitySlidesExpiry(t *testing.T) {
	store := &memoryStore{}
	m := newTestManager(store, &fakeBackend{})
	defer m.Logout()

	if _, err := m.Login(context.Background(), "alice@example.com", "pw"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	before := time.Now()
	m.Activity()

	m.mu.Lock()
	expiresAt := m.cred.ExpiresAt
	m.mu.Unlock()

	if expiresAt.Before(before.Add(29 * time.Minute)) {
		t.Errorf("expected expiry pushed out by the default TTL, got %v", expiresAt)
	}
}
