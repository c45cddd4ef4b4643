// Package docstore provides the document back-ends used by doc {}.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/thomasrohde/guardeval/pkg/config"
)

// ErrNotFound is returned when a store has no document for a URI.
var ErrNotFound = errors.New("document not found")

// Store fetches raw document content by URI. It satisfies
// evaluator.DocumentLoader.
type Store interface {
	Load(ctx context.Context, uri string) ([]byte, error)
	Close() error
}

// Open returns the store described by cfg. A configured SQLite database takes
// precedence over a filesystem root.
func Open(cfg config.Documents) (Store, error) {
	if cfg.SQLite != "" {
		return OpenSQL(cfg.SQLite)
	}
	root := cfg.Root
	if root == "" {
		root = "."
	}
	return NewFileStore(root), nil
}

// FileStore serves documents from a directory. URIs are relative paths,
// optionally with a file: scheme, and may not leave the root.
type FileStore struct {
	Root string
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{Root: dir}
}

// Load reads the document at uri.
func (s *FileStore) Load(ctx context.Context, uri string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.resolve(uri)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	return data, err
}

func (s *FileStore) resolve(uri string) (string, error) {
	rel := strings.TrimPrefix(uri, "file://")
	rel = strings.TrimPrefix(rel, "file:")
	if rel == "" || filepath.IsAbs(rel) {
		return "", fmt.Errorf("document uri %q must be a relative path", uri)
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("document uri %q escapes the document root", uri)
	}
	return filepath.Join(s.Root, clean), nil
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }
