package conversation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process conversation store for local/dev use.
type InMemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*Conversation
	byOwner map[string][]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID:    make(map[string]*Conversation),
		byOwner: make(map[string][]string),
	}
}

func (s *InMemoryStore) FindByOwner(_ context.Context, owner OwnerRef, topic string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *Conversation
	for _, id := range s.byOwner[owner.String()] {
		c := s.byID[id]
		if c == nil || c.Topic != topic {
			continue
		}
		if found == nil || c.UpdatedAt.After(found.UpdatedAt) {
			found = c
		}
	}
	if found == nil {
		return Conversation{}, ErrNotFound
	}
	return clone(found), nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id string, owner OwnerRef) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.byID[id]
	if !ok || c.Owner != owner {
		return Conversation{}, ErrNotFound
	}
	return clone(c), nil
}

func (s *InMemoryStore) Create(_ context.Context, owner OwnerRef, topic, title string) (Conversation, error) {
	now := time.Now().UTC()
	c := &Conversation{
		ID:        uuid.NewString(),
		Owner:     owner,
		Topic:     topic,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[c.ID] = c
	s.byOwner[owner.String()] = append(s.byOwner[owner.String()], c.ID)
	return clone(c), nil
}

func (s *InMemoryStore) AppendTurns(_ context.Context, id string, baseVersion int64, turns []Turn) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return 0, ErrNotFound
	}
	if c.Version != baseVersion {
		return 0, ErrVersionConflict
	}

	now := time.Now().UTC()
	for _, t := range turns {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		c.Turns = append(c.Turns, t)
	}
	c.Version++
	c.UpdatedAt = now
	return c.Version, nil
}

func (s *InMemoryStore) ListByOwner(_ context.Context, owner OwnerRef) ([]Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byOwner[owner.String()]
	out := make([]Conversation, 0, len(ids))
	for _, id := range ids {
		if c := s.byID[id]; c != nil {
			out = append(out, clone(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) Delete(_ context.Context, id string, owner OwnerRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok || c.Owner != owner {
		return ErrNotFound
	}
	delete(s.byID, id)

	key := owner.String()
	ids := s.byOwner[key]
	for i, candidate := range ids {
		if candidate == id {
			s.byOwner[key] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

func (s *InMemoryStore) Close() error { return nil }

func clone(c *Conversation) Conversation {
	out := *c
	out.Turns = make([]Turn, len(c.Turns))
	copy(out.Turns, c.Turns)
	return out
}
