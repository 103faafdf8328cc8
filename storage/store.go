// Package storage provides the durable key/value file store used by the
// registry and the migration manager.
//
// Paths are slash-separated and relative to the store root. List returns the
// base names of the files directly inside a directory, sorted.
package storage

import (
	"context"
	"errors"
	"path"
	"strings"
)

// ErrNotExist is returned when a path holds no file
var ErrNotExist = errors.New("storage: file does not exist")

// FileStore is a durable key/value store addressed by path
type FileStore interface {
	Read(ctx context.Context, name string) ([]byte, error)
	Write(ctx context.Context, name string, data []byte) error
	List(ctx context.Context, dir string) ([]string, error)
	Delete(ctx context.Context, name string) error
	Exists(ctx context.Context, name string) (bool, error)
}

// Copy copies src to dst within or across stores
func Copy(ctx context.Context, from FileStore, src string, to FileStore, dst string) error {
	data, err := from.Read(ctx, src)
	if err != nil {
		return err
	}
	return to.Write(ctx, dst, data)
}

// cleanPath normalizes name to a relative slash path; "" and "/" map to "."
func cleanPath(name string) string {
	p := path.Clean("/" + strings.ReplaceAll(name, "\\", "/"))
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return "."
	}
	return p
}
