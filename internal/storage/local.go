// Package storage provides the blob Storage capability consumed by the core:
// a local filesystem backend, an S3 backend, and a dual-write composite
// selected by outputMode.
package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"specfactory/internal/types"
)

// LocalStore persists blobs under a root directory. Keys are slash-separated
// and mapped directly onto the filesystem.
type LocalStore struct {
	root string
}

// NewLocalStore creates a local store rooted at dir.
func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage root required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &LocalStore{root: dir}, nil
}

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Read returns the blob at key, or types.ErrKeyNotFound.
func (s *LocalStore) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", types.ErrKeyNotFound, key)
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Write stores the blob at key, creating parent directories as needed.
func (s *LocalStore) Write(ctx context.Context, key string, data []byte) error {
	p := s.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := os.WriteFile(p, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// List returns all keys under prefix, sorted.
func (s *LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	start := s.path(prefix)

	info, err := os.Stat(start)
	if err != nil {
		if os.IsNotExist(err) {
			// A prefix may also be a partial file name (e.g. "dir/prod.").
			return s.listByScan(prefix)
		}
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	if !info.IsDir() {
		return []string{strings.TrimSuffix(prefix, "/")}, nil
	}

	err = filepath.WalkDir(start, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// listByScan walks the parent directory matching keys that share the prefix.
func (s *LocalStore) listByScan(prefix string) ([]string, error) {
	parent := filepath.Dir(s.path(prefix))
	if _, err := os.Stat(parent); os.IsNotExist(err) {
		return nil, nil
	}
	var keys []string
	err := filepath.WalkDir(parent, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes the blob at key. Deleting a missing key is not an error.
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	// Prune now-empty parent directories so List on the old prefix goes empty.
	dir := filepath.Dir(s.path(key))
	for dir != s.root {
		if err := os.Remove(dir); err != nil {
			break
		}
		dir = filepath.Dir(dir)
	}
	return nil
}

// Root returns the filesystem root of the store.
func (s *LocalStore) Root() string {
	return s.root
}

var _ types.Storage = (*LocalStore)(nil)
