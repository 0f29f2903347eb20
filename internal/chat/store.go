// Package chat owns conversation state: the session list, the active
// session's confirmed history, and the engine that turns one outbound
// message into a committed assistant reply.
package chat

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"StreamChat/internal/api"
)

// Transport is the slice of the backend client the chat layer needs.
type Transport interface {
	ListSessions(ctx context.Context) ([]api.Session, error)
	CreateSession(ctx context.Context, title string) (*api.Session, error)
	GetSession(ctx context.Context, id string) (*api.SessionDetail, error)
	RenameSession(ctx context.Context, id, title string) (*api.Session, error)
	DeleteSession(ctx context.Context, id string) error
	StreamChat(ctx context.Context, message, sessionID string) (io.ReadCloser, error)
}

// Store holds the session list and the active session's confirmed message
// history. The server is the source of truth; the store is the client's view
// of it plus optimistic entries awaiting confirmation.
type Store struct {
	mu        sync.Mutex
	transport Transport
	logger    *slog.Logger

	sessions []api.Session
	active   string // id of the active session, "" for none
	messages []api.Message
}

// NewStore creates an empty store.
func NewStore(transport Transport, logger *slog.Logger) *Store {
	return &Store{transport: transport, logger: logger}
}

// Refresh fetches the session list, most recent first. A transport failure
// degrades to an empty list so the UI stays usable.
func (s *Store) Refresh(ctx context.Context) {
	sessions, err := s.transport.ListSessions(ctx)
	if err != nil {
		s.logger.Warn("failed to list sessions", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = sessions
	if s.active != "" && s.findLocked(s.active) == -1 {
		s.active = ""
		s.messages = nil
	}
}

// Sessions returns a snapshot of the session list.
func (s *Store) Sessions() []api.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]api.Session, len(s.sessions))
	copy(out, s.sessions)
	return out
}

// Active returns the active session, or nil when none is selected.
func (s *Store) Active() *api.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.findLocked(s.active); i >= 0 {
		sess := s.sessions[i]
		return &sess
	}
	return nil
}

// Messages returns a snapshot of the active session's confirmed history.
func (s *Store) Messages() []api.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]api.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Select makes a session active and fetches its message history. An
// in-flight stream opened against a different session is unaffected: its
// draft and eventual commit stay bound to that session.
func (s *Store) Select(ctx context.Context, id string) error {
	detail, err := s.transport.GetSession(ctx, id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = id
	s.messages = detail.Messages
	if s.findLocked(id) == -1 {
		s.sessions = append([]api.Session{{ID: detail.ID, Title: detail.Title, CreatedAt: detail.CreatedAt}}, s.sessions...)
	}
	return nil
}

// Create makes a new session on the server, inserts it at the head of the
// list and makes it active with an empty history.
func (s *Store) Create(ctx context.Context, title string) (*api.Session, error) {
	sess, err := s.transport.CreateSession(ctx, title)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append([]api.Session{*sess}, s.sessions...)
	s.active = sess.ID
	s.messages = nil
	return sess, nil
}

// Rename updates a session's title on the server and in the local list.
func (s *Store) Rename(ctx context.Context, id, title string) error {
	sess, err := s.transport.RenameSession(ctx, id, title)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.findLocked(id); i >= 0 {
		s.sessions[i].Title = sess.Title
	}
	return nil
}

// Delete removes a session. When the deleted session was active, the next
// most recent one becomes active, or none when the list is empty. Local
// history is discarded either way; the server remains the source of truth.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.transport.DeleteSession(ctx, id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.findLocked(id); i >= 0 {
		s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
	}
	if s.active == id {
		s.active = ""
		s.messages = nil
		if len(s.sessions) > 0 {
			s.active = s.sessions[0].ID
		}
	}
	return nil
}

// Adopt attaches a server-created session announced mid-stream: fetched,
// inserted at the head and made active.
func (s *Store) Adopt(ctx context.Context, id string) error {
	return s.Select(ctx, id)
}

// Append adds a message to the history of the given session and reports
// whether it was added. Messages for a session that is no longer active are
// dropped locally: the server already has them and a later Select refetches.
func (s *Store) Append(sessionID string, msg api.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != sessionID {
		s.logger.Debug("dropping message for inactive session", "session_id", sessionID, "message_id", msg.ID)
		return false
	}
	s.messages = append(s.messages, msg)
	return true
}

// ReplaceOrAppend is the idempotent commit: a message whose server-issued id
// already exists in history is not appended again. Reports whether the
// message was appended.
func (s *Store) ReplaceOrAppend(sessionID string, msg api.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != sessionID {
		s.logger.Debug("dropping commit for inactive session", "session_id", sessionID, "message_id", msg.ID)
		return false
	}
	for _, existing := range s.messages {
		if existing.ID == msg.ID {
			s.logger.Debug("message already in history, skipping", "message_id", msg.ID)
			return false
		}
	}
	s.messages = append(s.messages, msg)
	return true
}

// Clear empties all local conversation state (used on logout).
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = nil
	s.active = ""
	s.messages = nil
}

func (s *Store) findLocked(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			return i
		}
	}
	return -1
}
