package memory

import (
	"context"
	"sync"

	"github.com/custodia-labs/foldline/internal/core/domain"
	"github.com/custodia-labs/foldline/internal/core/ports/driven"
)

// Ensure CacheStore implements the interface.
var _ driven.CacheBackend = (*CacheStore)(nil)

// CacheStore is an in-memory implementation of driven.CacheBackend.
// Entries live until deleted or purged; expiry is decided by the tier.
type CacheStore struct {
	mu      sync.RWMutex
	entries map[string]domain.CacheEntry
}

// NewCacheStore creates a new in-memory cache store.
func NewCacheStore() *CacheStore {
	return &CacheStore{
		entries: make(map[string]domain.CacheEntry),
	}
}

// Get retrieves an entry by key.
func (s *CacheStore) Get(_ context.Context, key string) (domain.CacheEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key]
	if !ok {
		return domain.CacheEntry{}, false, nil
	}
	return entry.Clone(), true, nil
}

// Put stores or replaces an entry.
func (s *CacheStore) Put(_ context.Context, entry domain.CacheEntry) error {
	if entry.Key == "" {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.Key] = entry.Clone()
	return nil
}

// Delete removes an entry.
func (s *CacheStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Purge removes every entry matching filter.
func (s *CacheStore) Purge(_ context.Context, filter domain.PurgeFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, entry := range s.entries {
		if filter.Matches(entry) {
			delete(s.entries, key)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries.
func (s *CacheStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close releases resources (no-op for memory store).
func (s *CacheStore) Close() error {
	return nil
}
