package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// stateFileName is the file holding the persisted key-value state.
const stateFileName = "state.json"

// FileStore is a Store persisted to a single JSON file.
//
// SECURITY: the state file holds OAuth tokens and client secrets. The file is
// written with 0600 permissions and its directory is created with 0700, and
// values are never logged.
type FileStore struct {
	mu     sync.RWMutex
	path   string
	values map[string]string
}

// NewFileStore creates a file-backed store rooted at dir, loading any
// existing state.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	s := &FileStore{
		path:   filepath.Join(dir, stateFileName),
		values: make(map[string]string),
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	if err := json.Unmarshal(data, &s.values); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}

	return s, nil
}

// Get returns the value for key and whether it exists.
func (s *FileStore) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	return v, ok, nil
}

// Set stores a single key and persists the state.
func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	return s.persistLocked()
}

// SetMulti stores all given keys under one lock and persists once.
func (s *FileStore) SetMulti(values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range values {
		s.values[k] = v
	}
	return s.persistLocked()
}

// Delete removes a key and persists the state.
func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.values[key]; !ok {
		return nil
	}
	delete(s.values, key)
	return s.persistLocked()
}

// DeleteAll removes every key with the given prefix and persists the state.
func (s *FileStore) DeleteAll(prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := false
	for k := range s.values {
		if strings.HasPrefix(k, prefix) {
			delete(s.values, k)
			removed = true
		}
	}
	if !removed {
		return nil
	}
	return s.persistLocked()
}

// Keys returns all keys with the given prefix, sorted.
func (s *FileStore) Keys(prefix string) ([]string, error) {
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

// persistLocked writes the state file. REQUIRES: s.mu held for writing.
// The file is written to a temp path and renamed so a crash mid-write never
// leaves a truncated state file.
func (s *FileStore) persistLocked() error {
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}
