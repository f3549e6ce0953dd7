package keyring

import (
	"context"
	"sync"
)

// MemoryStore keeps secrets in process memory. Remembered and session-only
// secrets live in separate maps so a Delete of the persistent copy cannot
// leak a session secret back.
type MemoryStore struct {
	mu        sync.RWMutex
	permanent map[string]string
	volatile  map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		permanent: make(map[string]string),
		volatile:  make(map[string]string),
	}
}

func (s *MemoryStore) Get(ctx context.Context, accountID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if secret, ok := s.volatile[accountID]; ok {
		return secret, true, nil
	}
	if secret, ok := s.permanent[accountID]; ok {
		return secret, true, nil
	}
	return "", false, nil
}

func (s *MemoryStore) Set(ctx context.Context, accountID string, secret string, remember bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if remember {
		s.permanent[accountID] = secret
		delete(s.volatile, accountID)
		return nil
	}
	s.volatile[accountID] = secret
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.permanent, accountID)
	delete(s.volatile, accountID)
	return nil
}
