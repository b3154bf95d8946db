// Package conversation manages chat sessions and their durable turn
// history.
package conversation

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"repochat/internal/storage"
)

// Manager loads and creates sessions backed by the store.
type Manager struct {
	store storage.Store
}

// NewManager creates a session manager.
func NewManager(store storage.Store) *Manager {
	return &Manager{store: store}
}

// Start returns the session with the given id, creating it when it
// does not exist. An empty id always creates a fresh session with a
// generated id. The returned Session is loaded with its full history.
func (m *Manager) Start(ctx context.Context, sessionID, project string) (*Session, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	rec, err := m.store.GetSession(ctx, sessionID)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		rec = &storage.Session{ID: sessionID, Project: project}
		if err := m.store.CreateSession(ctx, rec); err != nil {
			// Lost a race with a concurrent Start for the same id.
			if !errors.Is(err, storage.ErrAlreadyExists) {
				return nil, err
			}
			rec, err = m.store.GetSession(ctx, sessionID)
			if err != nil {
				return nil, err
			}
		}
	default:
		return nil, err
	}

	turns, err := m.store.ListTurns(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return &Session{
		id:      rec.ID,
		project: rec.Project,
		store:   m.store,
		turns:   turns,
	}, nil
}

// List returns all known sessions, most recently updated first.
func (m *Manager) List(ctx context.Context) ([]*storage.Session, error) {
	return m.store.ListSessions(ctx)
}

// Session is one conversation: an id plus an in-memory mirror of the
// durable turn log. Safe for concurrent use.
type Session struct {
	id      string
	project string
	store   storage.Store

	mu    sync.RWMutex
	turns []*storage.Turn
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Project returns the project root this session was started for.
func (s *Session) Project() string { return s.project }

// History returns a copy of the session's turns in order.
func (s *Session) History() []*storage.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*storage.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// AppendExchange durably records a user turn and its assistant reply,
// then reflects them in the in-memory history. The store commits both
// turns or neither.
func (s *Session) AppendExchange(ctx context.Context, userContent, assistantContent string, contextPaths []string) error {
	user := &storage.Turn{
		Role:         storage.RoleUser,
		Content:      userContent,
		ContextPaths: contextPaths,
	}
	assistant := &storage.Turn{
		Role:         storage.RoleAssistant,
		Content:      assistantContent,
		ContextPaths: contextPaths,
	}

	if err := s.store.AppendExchange(ctx, s.id, user, assistant); err != nil {
		return err
	}

	s.mu.Lock()
	s.turns = append(s.turns, user, assistant)
	s.mu.Unlock()
	return nil
}
