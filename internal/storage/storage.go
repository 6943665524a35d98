// Package storage provides the key-value persistence contract consumed by the
// credential and controller layers, with in-memory and file-backed
// implementations.
package storage

import (
	"sort"
	"strings"
	"sync"
)

// Store is the persistence boundary for sitegate state. Implementations must
// treat Set as last-writer-wins and SetMulti as a single atomic write: either
// all keys are visible or none are.
type Store interface {
	// Get returns the value for key and whether it exists.
	Get(key string) (string, bool, error)

	// Set stores a single key.
	Set(key, value string) error

	// SetMulti stores all given keys under one lock so readers never observe
	// a partially applied batch.
	SetMulti(values map[string]string) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(key string) error

	// DeleteAll removes every key with the given prefix.
	DeleteAll(prefix string) error

	// Keys returns all keys with the given prefix, sorted.
	Keys(prefix string) ([]string, error)
}

// MemoryStore is a thread-safe in-memory Store, used in tests and as the
// cache in front of the file store.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]string),
	}
}

// Get returns the value for key and whether it exists.
func (s *MemoryStore) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	return v, ok, nil
}

// Set stores a single key.
func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	return nil
}

// SetMulti stores all given keys under one lock.
func (s *MemoryStore) SetMulti(values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range values {
		s.values[k] = v
	}
	return nil
}

// Delete removes a key.
func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}

// DeleteAll removes every key with the given prefix.
func (s *MemoryStore) DeleteAll(prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.values {
		if strings.HasPrefix(k, prefix) {
			delete(s.values, k)
		}
	}
	return nil
}

// Keys returns all keys with the given prefix, sorted.
func (s *MemoryStore) Keys(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for k := range s.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
