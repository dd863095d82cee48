package storage

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// ErrKeyNotFound is returned when a key has no local entry
var ErrKeyNotFound = errors.New("key not found")

// Entry is one UI data value as last seen by the console
type Entry struct {
	Value     []byte
	UpdatedAt time.Time
}

// Store holds the local mirror of persisted UI data.
// All implementations must be safe for concurrent use.
type Store interface {
	// Get returns the entry for key, or ErrKeyNotFound
	Get(key string) (Entry, error)

	// Put replaces the entry for key unless the stored entry is newer
	// Returns true if the entry was written
	Put(key string, e Entry) (bool, error)

	// Delete removes key; deleting a missing key is not an error
	Delete(key string) error

	// List returns the stored keys in sorted order
	List() []string

	// Stats returns storage statistics
	Stats() StoreStats
}

// StoreStats contains statistics about the store
type StoreStats struct {
	Keys  int // Number of keys
	Bytes int // Total size of all values in bytes
}

// MemoryStore implements Store in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]Entry),
	}
}

// Get returns a copy of the entry so callers cannot modify stored bytes
func (m *MemoryStore) Get(key string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, exists := m.entries[key]
	if !exists {
		return Entry{}, ErrKeyNotFound
	}
	return Entry{Value: slices.Clone(e.Value), UpdatedAt: e.UpdatedAt}, nil
}

// Put stores a copy of e. An older entry never replaces a newer one, so a
// slow load cannot roll back a value saved after it was issued.
func (m *MemoryStore) Put(key string, e Entry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, exists := m.entries[key]; exists && cur.UpdatedAt.After(e.UpdatedAt) {
		return false, nil
	}
	m.entries[key] = Entry{Value: slices.Clone(e.Value), UpdatedAt: e.UpdatedAt}
	return true, nil
}

// Delete removes key (idempotent)
func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

// List returns the stored keys in sorted order
func (m *MemoryStore) List() []string {
	m.mu.RLock()
	keys := maps.Keys(m.entries)
	m.mu.RUnlock()

	slices.Sort(keys)
	return keys
}

// Stats returns storage statistics
func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totalBytes := 0
	for _, e := range m.entries {
		totalBytes += len(e.Value)
	}

	return StoreStats{
		Keys:  len(m.entries),
		Bytes: totalBytes,
	}
}
