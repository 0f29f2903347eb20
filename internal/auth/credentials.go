// Package auth owns the user session: the persisted credential, the
// authenticated identity and the expiry timers.
package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Credential is the persisted access token with its expiry. A zero
// ExpiresAt means the server did not report one.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// Expired reports whether the credential's expiry has passed.
func (c *Credential) Expired() bool {
	return !c.ExpiresAt.IsZero() && time.Now().After(c.ExpiresAt)
}

// CredentialStore persists the credential across restarts.
type CredentialStore interface {
	// Load returns the stored credential, or nil when none is stored.
	Load() (*Credential, error)
	Save(cred *Credential) error
	Clear() error
}

// SQLiteCredentialStore keeps the credential in the local SQLite database.
// There is at most one row.
type SQLiteCredentialStore struct {
	db *sql.DB
}

// NewSQLiteCredentialStore wraps an open database whose schema has been
// initialized by telemetry.InitDB.
func NewSQLiteCredentialStore(db *sql.DB) *SQLiteCredentialStore {
	return &SQLiteCredentialStore{db: db}
}

// Load returns the stored credential, or nil when none is stored.
func (s *SQLiteCredentialStore) Load() (*Credential, error) {
	var token string
	var expiresAt sql.NullTime

	err := s.db.QueryRow("SELECT token, expires_at FROM credentials WHERE id = 1").
		Scan(&token, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}

	cred := &Credential{Token: token}
	if expiresAt.Valid {
		cred.ExpiresAt = expiresAt.Time
	}
	return cred, nil
}

// Save stores the credential, replacing any previous one.
func (s *SQLiteCredentialStore) Save(cred *Credential) error {
	var expiresAt interface{}
	if !cred.ExpiresAt.IsZero() {
		expiresAt = cred.ExpiresAt
	}

	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO credentials (id, token, expires_at) VALUES (1, ?, ?)",
		cred.Token, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save credential: %w", err)
	}
	return nil
}

// Clear removes the stored credential. Clearing an empty store is not an
// error.
func (s *SQLiteCredentialStore) Clear() error {
	if _, err := s.db.Exec("DELETE FROM credentials WHERE id = 1"); err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}
	return nil
}
