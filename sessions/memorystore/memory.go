// Package memorystore provides a process-local implementation of
// sessions.Store.
package memorystore

import (
	"context"
	"sync"

	"github.com/ggoodman/remitadmin-go/sessions"
)

// Store keeps the session in memory. The zero value is an empty store.
type Store struct {
	mu      sync.RWMutex
	current *sessions.Session
}

// New creates an empty store, optionally seeded with s.
func New(s *sessions.Session) *Store {
	return &Store{current: s.Clone()}
}

func (m *Store) Get(ctx context.Context) (*sessions.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Clone(), nil
}

func (m *Store) Set(ctx context.Context, s *sessions.Session) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.current = s.Clone()
	m.mu.Unlock()
	return nil
}

func (m *Store) SetAccessToken(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return sessions.ErrNoSession
	}
	m.current.AccessToken = token
	return nil
}

func (m *Store) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
	return nil
}

var _ sessions.Store = (*Store)(nil)
