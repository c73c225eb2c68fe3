package preference

import (
	"context"
	"sync"
)

// MemoryStorage is an in-memory implementation of the Storage interface.
// Suitable for development and testing.
type MemoryStorage struct {
	mu    sync.RWMutex
	prefs map[string]Preferences
}

// NewMemoryStorage creates a new in-memory preference storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		prefs: make(map[string]Preferences),
	}
}

func (s *MemoryStorage) Get(ctx context.Context, userID string) (Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefs, exists := s.prefs[userID]
	if !exists {
		return Preferences{}, ErrNotFound
	}
	return prefs, nil
}

func (s *MemoryStorage) Save(ctx context.Context, prefs Preferences) error {
	if prefs.UserID == "" {
		return ErrInvalidPreferences
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.prefs[prefs.UserID] = prefs
	return nil
}

func (s *MemoryStorage) ListUserIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.prefs))
	for id := range s.prefs {
		ids = append(ids, id)
	}
	return ids, nil
}
