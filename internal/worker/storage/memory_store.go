package storage

import (
	"context"
	"sync"
)

// MemoryStore is a Store kept in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	results map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{results: make(map[string][]byte)}
}

// Get returns the result stored under key
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.results[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

// Put stores result under key unless the key is already present
func (s *MemoryStore) Put(ctx context.Context, key, jobKey string, result []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.results[key]; !exists {
		s.results[key] = append([]byte(nil), result...)
	}
	return nil
}

// Len returns the number of stored results
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}
