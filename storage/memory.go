package storage

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"
)

// MemoryStore is a FileStore held in process memory
type MemoryStore struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{files: make(map[string][]byte)}
}

// Read returns a copy of the contents of name
func (s *MemoryStore) Read(_ context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.files[cleanPath(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, name)
	}
	return append([]byte(nil), data...), nil
}

// Write stores a copy of data under name
func (s *MemoryStore) Write(_ context.Context, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.files[cleanPath(name)] = append([]byte(nil), data...)
	return nil
}

// List returns the sorted names of files directly in dir
func (s *MemoryStore) List(_ context.Context, dir string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir = cleanPath(dir)
	names := make([]string, 0)
	for p := range s.files {
		if path.Dir(p) == dir {
			names = append(names, path.Base(p))
		}
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes name
func (s *MemoryStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := cleanPath(name)
	if _, ok := s.files[p]; !ok {
		return fmt.Errorf("%w: %s", ErrNotExist, name)
	}
	delete(s.files, p)
	return nil
}

// Exists reports whether name holds a file
func (s *MemoryStore) Exists(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.files[cleanPath(name)]
	return ok, nil
}

// Len returns the number of stored files
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}

// Paths returns every stored path, sorted
func (s *MemoryStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.files))
	for p := range s.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
