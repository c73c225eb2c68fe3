package notification

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// MemoryStorage is an in-memory implementation of the Storage interface.
// Suitable for development and testing.
type MemoryStorage struct {
	mu     sync.RWMutex
	byID   map[string]Notification
	byUser map[string][]string
	clock  clockwork.Clock
}

// MemoryStorageOption configures a MemoryStorage.
type MemoryStorageOption func(*MemoryStorage)

// WithMemoryStorageClock sets the clock used for expiry checks.
func WithMemoryStorageClock(clock clockwork.Clock) MemoryStorageOption {
	return func(s *MemoryStorage) {
		s.clock = clock
	}
}

// NewMemoryStorage creates a new in-memory notification storage.
func NewMemoryStorage(opts ...MemoryStorageOption) *MemoryStorage {
	s := &MemoryStorage{
		byID:   make(map[string]Notification),
		byUser: make(map[string][]string),
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStorage) Create(ctx context.Context, n Notification) error {
	if n.ID == "" {
		return ErrMissingID
	}
	if n.UserID == "" {
		return ErrMissingUserID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[n.ID]; exists {
		return ErrDuplicateID
	}

	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.clock.Now()
	}

	s.byID[n.ID] = n
	s.byUser[n.UserID] = append(s.byUser[n.UserID], n.ID)
	return nil
}

func (s *MemoryStorage) Get(ctx context.Context, id string) (*Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, exists := s.byID[id]
	if !exists {
		return nil, ErrNotFound
	}
	// Copy so callers cannot mutate stored state.
	cp := n
	cp.Deliveries = append([]ChannelDelivery(nil), n.Deliveries...)
	return &cp, nil
}

func (s *MemoryStorage) Update(ctx context.Context, n Notification) error {
	if n.ID == "" {
		return ErrMissingID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[n.ID]; !exists {
		return ErrNotFound
	}

	n.Deliveries = append([]ChannelDelivery(nil), n.Deliveries...)
	s.byID[n.ID] = n
	return nil
}

func (s *MemoryStorage) List(ctx context.Context, userID string, opts ListOptions) ([]Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock.Now()

	var filtered []Notification
	for _, id := range s.byUser[userID] {
		n := s.byID[id]
		if !s.matches(n, opts, now) {
			continue
		}
		filtered = append(filtered, n)
	}

	// Newest first.
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	start := opts.Offset
	if start > len(filtered) {
		return []Notification{}, nil
	}
	end := start + opts.Limit
	if opts.Limit == 0 || end > len(filtered) {
		end = len(filtered)
	}
	return filtered[start:end], nil
}

func (s *MemoryStorage) matches(n Notification, opts ListOptions, now time.Time) bool {
	if n.IsExpired(now) {
		return false
	}
	if opts.OnlyUnread && n.Read {
		return false
	}
	if opts.Category != "" && n.Category != opts.Category {
		return false
	}
	if opts.Type != "" && n.Type != opts.Type {
		return false
	}
	if opts.Since != nil && n.CreatedAt.Before(*opts.Since) {
		return false
	}
	if opts.DigestCandidates && (n.Archived || n.IncludedInDigest) {
		return false
	}
	return true
}

func (s *MemoryStorage) CountUnread(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock.Now()
	count := 0
	for _, id := range s.byUser[userID] {
		n := s.byID[id]
		if !n.Read && !n.IsExpired(now) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStorage) MarkIncludedInDigest(ctx context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if n, exists := s.byID[id]; exists {
			n.IncludedInDigest = true
			s.byID[id] = n
		}
	}
	return nil
}

func (s *MemoryStorage) Delete(ctx context.Context, userID string, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}

	var kept []string
	for _, id := range s.byUser[userID] {
		if idSet[id] {
			delete(s.byID, id)
			continue
		}
		kept = append(kept, id)
	}
	s.byUser[userID] = kept
	return nil
}
