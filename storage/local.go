package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// LocalStore keeps files under a directory on the local filesystem.
// Absolute paths bypass the root so backups can target any directory.
type LocalStore struct {
	root   string
	logger *slog.Logger
}

// LocalOption configures a LocalStore
type LocalOption func(*LocalStore)

// WithLocalLogger sets the logger
func WithLocalLogger(logger *slog.Logger) LocalOption {
	return func(s *LocalStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewLocalStore creates a store rooted at root
func NewLocalStore(root string, opts ...LocalOption) *LocalStore {
	s := &LocalStore{
		root:   root,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the store's root directory
func (s *LocalStore) Root() string {
	return s.root
}

func (s *LocalStore) resolve(name string) string {
	if filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	return filepath.Join(s.root, filepath.FromSlash(cleanPath(name)))
}

// Read returns the contents of name
func (s *LocalStore) Read(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(s.resolve(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, name)
	}
	return data, err
}

// Write replaces name atomically through a temporary file and rename
func (s *LocalStore) Write(_ context.Context, name string, data []byte) error {
	target := s.resolve(name)
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		cleanup()
		return fmt.Errorf("rename %s: %w", name, err)
	}

	s.logger.Debug("file written", "path", target, "bytes", len(data))
	return nil
}

// List returns the sorted names of regular files directly in dir
func (s *LocalStore) List(_ context.Context, dir string) ([]string, error) {
	entries, err := os.ReadDir(s.resolve(dir))
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && !isTempName(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes name
func (s *LocalStore) Delete(_ context.Context, name string) error {
	err := os.Remove(s.resolve(name))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotExist, name)
	}
	return err
}

// Exists reports whether name holds a file
func (s *LocalStore) Exists(_ context.Context, name string) (bool, error) {
	info, err := os.Stat(s.resolve(name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

func isTempName(name string) bool {
	return len(name) > 0 && name[0] == '.' && filepath.Ext(name) == ".tmp"
}
