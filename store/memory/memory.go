// Package memory is a roster.Store kept in process memory.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/mindtastic/roster"
)

// Ensure that Store implements the roster.Store interface
var _ roster.Store = (*Store)(nil)

// ErrInjected is returned by ReplaceAll once FailNext has been called.
var ErrInjected = errors.New("injected store failure")

// Store holds copies of the users it is given. It is safe for concurrent access.
type Store struct {
	mu       sync.Mutex
	users    []roster.User
	flushes  int
	failNext bool
}

// New returns a Store holding users.
func New(users ...roster.User) *Store {
	return &Store{users: cloneAll(users)}
}

// LoadAll returns copies of the stored users.
func (s *Store) LoadAll(_ context.Context) ([]roster.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAll(s.users), nil
}

// ReplaceAll replaces the stored users.
func (s *Store) ReplaceAll(_ context.Context, users []roster.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return ErrInjected
	}
	s.users = cloneAll(users)
	s.flushes++
	return nil
}

// Flushes returns how many ReplaceAll calls succeeded.
func (s *Store) Flushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

// FailNext makes the next ReplaceAll fail with ErrInjected.
func (s *Store) FailNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = true
}

func cloneAll(users []roster.User) []roster.User {
	out := make([]roster.User, len(users))
	for i, u := range users {
		out[i] = u.Clone()
	}
	return out
}
