package identity

import (
	"context"
	"strings"
	"sync"
)

// InMemoryStore is a simple in-process identity store for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]User
	byEmail map[string]string
	byName  map[string]string
	tokens  map[string]Token
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:    make(map[string]User),
		byEmail: make(map[string]string),
		byName:  make(map[string]string),
		tokens:  make(map[string]Token),
	}
}

func (s *InMemoryStore) CreateUser(_ context.Context, user User) error {
	email := strings.ToLower(user.Email)
	name := strings.ToLower(user.Username)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byEmail[email]; exists {
		return ErrDuplicate
	}
	if _, exists := s.byName[name]; exists {
		return ErrDuplicate
	}
	s.byID[user.ID] = user
	s.byEmail[email] = user.ID
	s.byName[name] = user.ID
	return nil
}

func (s *InMemoryStore) FindByEmail(_ context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return User{}, ErrNotFound
	}
	return s.byID[id], nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *InMemoryStore) SaveToken(_ context.Context, token Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token.Value] = token
	return nil
}

func (s *InMemoryStore) FindToken(_ context.Context, value string) (Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[value]
	if !ok {
		return Token{}, ErrNotFound
	}
	return t, nil
}

func (s *InMemoryStore) Close() error { return nil }
