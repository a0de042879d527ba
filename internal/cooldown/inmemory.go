package cooldown

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore keeps marks in process memory. Marks are lost on restart.
type InMemoryStore struct {
	mu    sync.RWMutex
	marks map[string]time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{marks: make(map[string]time.Time)}
}

func (s *InMemoryStore) Get(_ context.Context, chatID string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.marks[chatID]
	return at, ok, nil
}

func (s *InMemoryStore) Put(_ context.Context, chatID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks[chatID] = at
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.marks, chatID)
	return nil
}

func (s *InMemoryStore) Close() error { return nil }
