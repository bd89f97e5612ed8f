package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/layer-3/wallethub/core"
	"github.com/layer-3/wallethub/ports"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero = no expiry
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore is an in-memory implementation of the KeyedStore interface.
// A single mutex serializes all read-modify-write cycles, which satisfies
// the per-key atomicity contract. Expired entries are dropped lazily on
// access.
type MemoryStore struct {
	data map[string]memoryEntry
	mu   sync.Mutex

	// Now is injectable for tests
	Now func() time.Time
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]memoryEntry),
		Now:  time.Now,
	}
}

// Get retrieves a value by key
func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.data[key]
	if !ok {
		return "", core.ErrNotFound
	}
	if entry.expired(s.Now()) {
		delete(s.data, key)
		return "", core.ErrNotFound
	}
	return entry.value, nil
}

// Set stores a value under key with an optional TTL
func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = s.entry(value, ttl)
	return nil
}

// Delete removes a key
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

// Scan returns all live entries whose key starts with prefix
func (s *MemoryStore) Scan(ctx context.Context, prefix string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	result := make(map[string]string)
	for key, entry := range s.data {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if entry.expired(now) {
			delete(s.data, key)
			continue
		}
		result[key] = entry.value
	}
	return result, nil
}

// Update applies fn to the current value of key under the store lock
func (s *MemoryStore) Update(ctx context.Context, key string, ttl time.Duration, fn func(current string, exists bool) (string, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.data[key]
	if exists && entry.expired(s.Now()) {
		delete(s.data, key)
		entry, exists = memoryEntry{}, false
	}

	next, err := fn(entry.value, exists)
	if err != nil {
		return err
	}

	s.data[key] = s.entry(next, ttl)
	return nil
}

// Clear removes all data from the store. Useful to reset state between tests.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data = make(map[string]memoryEntry)
}

func (s *MemoryStore) entry(value string, ttl time.Duration) memoryEntry {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = s.Now().Add(ttl)
	}
	return entry
}

var _ ports.KeyedStore = (*MemoryStore)(nil)
