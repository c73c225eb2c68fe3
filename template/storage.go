package template

import (
	"context"
	"sync"
)

// Storage persists notification templates.
type Storage interface {
	// Create stores a new template.
	Create(ctx context.Context, t Template) error

	// Get retrieves a template by ID, or ErrNotFound.
	Get(ctx context.Context, id string) (Template, error)

	// List returns all stored templates.
	List(ctx context.Context) ([]Template, error)
}

// MemoryStorage is an in-memory implementation of the Storage interface.
type MemoryStorage struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewMemoryStorage creates a new in-memory template storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		templates: make(map[string]Template),
	}
}

func (s *MemoryStorage) Create(ctx context.Context, t Template) error {
	if err := t.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.ID] = t
	return nil
}

func (s *MemoryStorage) Get(ctx context.Context, id string) (Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.templates[id]
	if !exists {
		return Template{}, ErrNotFound
	}
	return t, nil
}

func (s *MemoryStorage) List(ctx context.Context) ([]Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Template, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, t)
	}
	return out, nil
}
