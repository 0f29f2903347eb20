package auth

import (
	"path/filepath"
	"testing"
	"time"

	"StreamChat/internal/telemetry"
)

func openTestStore(t *testing.T) *SQLiteCredentialStore {
	t.Helper()
	db, err := telemetry.InitDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSQLiteCredentialStore(db)
}

func TestCredentialRoundtrip(t *testing.T) {
	store := openTestStore(t)

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	if err := store.Save(&Credential{Token: "tok-1", ExpiresAt: expires}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cred, err := store.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred == nil {
		t.Fatal("expected a credential")
	}
	if cred.Token != "tok-1" {
		t.Errorf("expected token %q, got %q", "tok-1", cred.Token)
	}
	if !cred.ExpiresAt.Equal(expires) {
		t.Errorf("expected expiry %v, got %v", expires, cred.ExpiresAt)
	}
}

func TestCredentialSaveReplacesPrevious(t *testing.T) {
	store := openTestStore(t)

	if err := store.Save(&Credential{Token: "old"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Save(&Credential{Token: "new"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cred, err := store.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.Token != "new" {
		t.Errorf("expected replacement token, got %q", cred.Token)
	}
}

func TestCredentialLoadEmptyStore(t *testing.T) {
	store := openTestStore(t)

	cred, err := store.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred != nil {
		t.Errorf("expected nil credential from an empty store, got %+v", cred)
	}
}

func TestCredentialZeroExpiryRoundtrip(t *testing.T) {
	store := openTestStore(t)

	if err := store.Save(&Credential{Token: "no-expiry"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cred, err := store.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cred.ExpiresAt.IsZero() {
		t.Errorf("expected zero expiry preserved, got %v", cred.ExpiresAt)
	}
	if cred.Expired() {
		t.Error("a credential without expiry never expires")
	}
}

func TestCredentialClear(t *testing.T) {
	store := openTestStore(t)

	if err := store.Save(&Credential{Token: "tok"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cred, err := store.Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred != nil {
		t.Errorf("expected no credential after clear, got %+v", cred)
	}

	// Clearing again is a no-op.
	if err := store.Clear(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
